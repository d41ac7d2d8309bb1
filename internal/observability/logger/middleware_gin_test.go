package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/spendledger/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAccessLevel(t *testing.T) {
	cases := []struct {
		route     string
		status    int
		errorType string
		want      string
	}{
		{"/health", http.StatusOK, "", "debug"},
		{"/api/accounts/:id", http.StatusOK, "", "info"},
		{"/api/accounts/:id/spending/:date", http.StatusBadRequest, "invalid_input", "debug"},
		{"/api/accounts", http.StatusBadRequest, "invalid_input", "info"},
		{"/api/reconcile/:entity_type/:id/verify", http.StatusConflict, "consistency_violation", "warn"},
		{"/api/relink/bulk", http.StatusMultiStatus, "", "warn"},
		{"/api/reconcile", http.StatusServiceUnavailable, "unavailable", "error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, accessLevel(tc.route, tc.status, tc.errorType).String(), tc.route)
	}
}

func TestGinMiddlewarePropagatesIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	var requestID string
	r.GET("/api/accounts/:id", func(c *gin.Context) {
		requestID = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/1", nil)
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set("X-Correlation-Id", "corr-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-Id"))
	assert.Equal(t, "corr-1", w.Header().Get("X-Correlation-Id"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/accounts/2", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
