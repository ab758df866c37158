package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/txpulse/internal/aggregator"
	"github.com/mbd888/txpulse/internal/filter"
	"github.com/mbd888/txpulse/internal/logging"
	"github.com/mbd888/txpulse/internal/pagination"
	"github.com/mbd888/txpulse/internal/transactions"
	"github.com/mbd888/txpulse/internal/validation"
)

const maxPageSize = 1000

// Handler exposes the Service over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a new dashboard handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up the query API under the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", h.ListTransactions)
	r.POST("/transactions", h.IngestTransaction)
	r.GET("/metrics", h.Metrics)
	r.GET("/search", h.Search)
	r.POST("/refresh", h.Refresh)

	byID := r.Group("/transactions/:id", validation.IDParamMiddleware())
	byID.GET("", h.GetTransaction)
	byID.POST("/fraud", h.MarkFraud)
}

// TransactionsResponse is the body of GET /api/transactions.
type TransactionsResponse struct {
	Success      bool                       `json:"success"`
	Transactions []transactions.Transaction `json:"transactions"`
	Total        int                        `json:"total"`
	Timestamp    time.Time                  `json:"timestamp"`
	NextCursor   string                     `json:"next_cursor,omitempty"`
	HasMore      bool                       `json:"has_more,omitempty"`
	Warning      string                     `json:"warning,omitempty"`
}

// MetricsResponse is the body of GET /api/metrics.
type MetricsResponse struct {
	Success bool `json:"success"`
	aggregator.Metrics
	Timestamp time.Time `json:"timestamp"`
}

// SearchResponse is the body of GET /api/search.
type SearchResponse struct {
	Success bool                       `json:"success"`
	Results []transactions.Transaction `json:"results"`
	Count   int                        `json:"count"`
}

// TransactionResponse wraps a single transaction.
type TransactionResponse struct {
	Success     bool                     `json:"success"`
	Transaction transactions.Transaction `json:"transaction"`
}

// ErrorResponse is returned for every failure; it never carries partial data.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Error: msg})
}

// ListTransactions handles GET /api/transactions.
func (h *Handler) ListTransactions(c *gin.Context) {
	now := time.Now().UTC()

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	limit := parseLimit(c, 0, maxPageSize)

	q, err := filter.ParseValues(c.Request.URL.Query())
	var matches []transactions.Transaction
	if err == nil {
		matches, err = h.svc.Transactions(q)
	}
	if err != nil {
		if errors.Is(err, filter.ErrInvalidQuery) {
			// Keep the dashboard usable: no rows plus a hint.
			c.JSON(http.StatusOK, TransactionsResponse{
				Success:      true,
				Transactions: []transactions.Transaction{},
				Timestamp:    now,
				Warning:      err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("list transactions failed", "error", err)
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}

	page, next, more := pagination.Page(matches, cursor, limit, func(tx transactions.Transaction) (uint64, string) {
		return tx.Sequence, tx.ID
	})
	if page == nil {
		page = []transactions.Transaction{}
	}

	c.JSON(http.StatusOK, TransactionsResponse{
		Success:      true,
		Transactions: page,
		Total:        len(matches),
		Timestamp:    now,
		NextCursor:   next,
		HasMore:      more,
	})
}

// GetTransaction handles GET /api/transactions/:id.
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.svc.Get(c.Param("id"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TransactionResponse{Success: true, Transaction: tx})
}

// IngestTransaction handles POST /api/transactions.
func (h *Handler) IngestTransaction(c *gin.Context) {
	var tx transactions.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		respondError(c, http.StatusBadRequest, "invalid transaction payload")
		return
	}
	if errs := validateTransaction(tx); errs.HasErrors() {
		respondError(c, http.StatusBadRequest, errs.Error())
		return
	}

	stored, err := h.svc.Ingest(c.Request.Context(), tx)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, TransactionResponse{Success: true, Transaction: stored})
}

// MarkFraud handles POST /api/transactions/:id/fraud.
func (h *Handler) MarkFraud(c *gin.Context) {
	tx, err := h.svc.MarkFraud(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TransactionResponse{Success: true, Transaction: tx})
}

// Metrics handles GET /api/metrics.
func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, MetricsResponse{
		Success:   true,
		Metrics:   h.svc.Metrics(),
		Timestamp: time.Now().UTC(),
	})
}

// Search handles GET /api/search?q=term.
func (h *Handler) Search(c *gin.Context) {
	results := h.svc.Search(c.Query("q"))
	c.JSON(http.StatusOK, SearchResponse{Success: true, Results: results, Count: len(results)})
}

// Refresh handles POST /api/refresh by publishing immediately.
func (h *Handler) Refresh(c *gin.Context) {
	delivered := h.svc.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"delivered": delivered,
		"timestamp": time.Now().UTC(),
	})
}

// storeError maps store sentinels onto HTTP statuses.
func (h *Handler) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, transactions.ErrNotFound):
		respondError(c, http.StatusNotFound, "transaction not found")
	case errors.Is(err, transactions.ErrDuplicateID):
		respondError(c, http.StatusConflict, "duplicate transaction id")
	case errors.Is(err, transactions.ErrInvalidTransaction):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		logging.L(c.Request.Context()).Error("transaction store error", "error", err)
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}

// validateTransaction checks payload shape before it reaches the store.
func validateTransaction(tx transactions.Transaction) validation.Errors {
	return validation.Validate(
		validation.Required("transaction_id", tx.ID),
		validation.MaxLength("transaction_id", tx.ID, validation.MaxIDLength),
		validation.ID("transaction_id", tx.ID),
		validation.MaxLength("merchant", tx.Merchant, 256),
		validation.MaxLength("category", tx.Category, 64),
		validation.MaxLength("customer_id", tx.CustomerID, 128),
		validation.MaxLength("transaction_type", string(tx.Type), 32),
		validation.OneOf("status", string(tx.Status),
			string(transactions.StatusApproved), string(transactions.StatusCompleted),
			string(transactions.StatusPending), string(transactions.StatusFailed)),
	)
}

func parseLimit(c *gin.Context, defaultVal, maxVal int) int {
	limit := defaultVal
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxVal {
		limit = maxVal
	}
	return limit
}
