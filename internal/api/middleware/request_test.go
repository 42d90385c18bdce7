package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/hestia-immo/parapheur/internal/api/middleware"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "192.0.2.10:43210"
	return c, rec
}

func TestClientIPPrecedence(t *testing.T) {
	c, _ := newTestContext(t)
	require.Equal(t, "192.0.2.10", middleware.ClientIP(c))

	c.Request.Header.Set("X-Real-IP", "198.51.100.4")
	require.Equal(t, "198.51.100.4", middleware.ClientIP(c))

	c.Request.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.4")
	require.Equal(t, "203.0.113.9", middleware.ClientIP(c))
}

func TestOTPAttemptTrackerBlocksAfterThreshold(t *testing.T) {
	tracker := middleware.NewOTPAttemptTracker()

	for i := 0; i < 10; i++ {
		tracker.RecordAttempt("203.0.113.9")
	}
	require.False(t, tracker.IsBlocked("203.0.113.9"))

	tracker.RecordAttempt("203.0.113.9")
	require.True(t, tracker.IsBlocked("203.0.113.9"))

	// Other addresses are unaffected.
	require.False(t, tracker.IsBlocked("198.51.100.4"))
}
