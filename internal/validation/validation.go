// Package validation provides input validation helpers and middleware for
// the dashboard API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxIDLength bounds transaction ids in paths and payloads.
const MaxIDLength = 128

// idRegex accepts the id shapes sources emit (TXN_0A1B, LIVE_001, uuids).
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]*$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID reports whether s is an acceptable transaction id.
func IsValidID(s string) bool {
	return len(s) <= MaxIDLength && idRegex.MatchString(s)
}

// SanitizeString trims whitespace, strips null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// Error is a single field failure.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is a collection of field failures.
type Errors []Error

// HasErrors reports whether any check failed.
func (e Errors) HasErrors() bool { return len(e) > 0 }

// Error implements the error interface using the first failure.
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Check is a deferred validation.
type Check func() *Error

// Validate runs every check and collects failures.
func Validate(checks ...Check) Errors {
	var errs Errors
	for _, check := range checks {
		if err := check(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) Check {
	return func() *Error {
		if strings.TrimSpace(value) == "" {
			return &Error{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) Check {
	return func() *Error {
		if len(value) > max {
			return &Error{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ID checks that a non-empty value is a well-formed id (see IsValidID).
func ID(field, value string) Check {
	return func() *Error {
		value = strings.TrimSpace(value)
		if value == "" || IsValidID(value) {
			return nil
		}
		return &Error{Field: field, Message: "must contain only letters, digits, '_', '.', ':' or '-'"}
	}
}

// OneOf checks that a non-empty value is among allowed (case-insensitive).
func OneOf(field, value string, allowed ...string) Check {
	return func() *Error {
		if value == "" {
			return nil // Use Required for required fields
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(value), a) {
				return nil
			}
		}
		return &Error{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// IDParamMiddleware rejects malformed :id path parameters early.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid transaction id",
			})
			return
		}
		c.Next()
	}
}
