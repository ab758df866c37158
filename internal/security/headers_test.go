package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHeadersMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(HeadersMiddleware())
	router.GET("/", func(c *gin.Context) { c.String(200, "ok") })
	router.GET("/api/metrics", func(c *gin.Context) { c.String(200, "ok") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	for header, expected := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	} {
		assert.Equal(t, expected, w.Header().Get(header), header)
	}
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "connect-src 'self' ws: wss:")
	assert.Empty(t, w.Header().Get("Cache-Control"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/metrics", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  bool
		wantCredsOK bool
	}{
		{"allowed origin", []string{"https://ops.example.com"}, "https://ops.example.com", true, true},
		{"trailing slash configured", []string{"https://ops.example.com/"}, "https://ops.example.com", true, true},
		{"wildcard allows all", []string{"*"}, "https://anything.com", true, false},
		{"disallowed origin", []string{"https://ops.example.com"}, "https://evil.com", false, false},
		{"no origin", []string{"*"}, "", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORSMiddleware(tc.allowed))
			router.GET("/test", func(c *gin.Context) { c.String(200, "ok") })

			req := httptest.NewRequest("GET", "/test", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.wantOrigin, w.Header().Get("Access-Control-Allow-Origin") != "")
			assert.Equal(t, tc.wantCredsOK, w.Header().Get("Access-Control-Allow-Credentials") == "true")
			assert.Equal(t, "Origin", w.Header().Get("Vary"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware([]string{"*"}))
	router.POST("/api/refresh", func(c *gin.Context) { c.String(200, "ok") })

	req := httptest.NewRequest("OPTIONS", "/api/refresh", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestEndpointPolicy(t *testing.T) {
	table := map[string][]string{
		"alerts.example.com":   {"93.184.216.34"},
		"internal.example.com": {"10.1.2.3"},
	}
	strict := EndpointPolicy{Resolve: func(host string) ([]string, error) {
		if addrs, ok := table[host]; ok {
			return addrs, nil
		}
		return nil, errors.New("no such host")
	}}

	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"public host", "https://alerts.example.com/hook", true},
		{"public ip", "http://93.184.216.34:8443/hook", true},
		{"private resolution", "https://internal.example.com/hook", false},
		{"loopback ip", "http://127.0.0.1:9000/hook", false},
		{"private ip", "http://192.168.1.5/hook", false},
		{"link local metadata", "http://169.254.169.254/latest", false},
		{"localhost name", "http://localhost/hook", false},
		{"metadata name", "http://metadata.google.internal/", false},
		{"unresolvable", "https://nowhere.example.com/", false},
		{"ftp scheme", "ftp://alerts.example.com/", false},
		{"no host", "https:///hook", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := strict.Check(tt.url)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrUnsafeEndpoint)
		})
	}
}

func TestEndpointPolicy_AllowPrivate(t *testing.T) {
	p := EndpointPolicy{AllowPrivate: true}
	assert.NoError(t, p.Check("http://127.0.0.1:9000/hook"))
	assert.ErrorIs(t, p.Check("gopher://127.0.0.1/"), ErrUnsafeEndpoint)
}
