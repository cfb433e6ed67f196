package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deveasyclick/billpay/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var secret = []byte("test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, claims jwt.MapClaims, key []byte) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	assert.NoError(t, err)
	return tok
}

func adminRouter() *gin.Engine {
	r := gin.New()
	r.Use(middleware.AdminAuth(secret))
	r.POST("/admin/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAdminAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad signature", "Bearer " + signToken(t, jwt.MapClaims{"role": "admin", "exp": exp}, []byte("other")), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.MapClaims{"role": "admin", "exp": time.Now().Add(-time.Hour).Unix()}, secret), http.StatusUnauthorized},
		{"wrong role", "Bearer " + signToken(t, jwt.MapClaims{"role": "customer", "exp": exp}, secret), http.StatusForbidden},
		{"admin", "Bearer " + signToken(t, jwt.MapClaims{"role": "admin", "exp": exp}, secret), http.StatusNoContent},
	}

	r := adminRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRateLimitMiddleware_RejectsOverBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := middleware.NewRateLimiter(ctx, rate.Every(time.Hour), 2, time.Minute)

	r := gin.New()
	r.Use(middleware.RateLimitMiddleware(rl))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	var codes []int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestTimeout_SkipsConfiguredPaths(t *testing.T) {
	r := gin.New()
	r.Use(middleware.Timeout(10*time.Second, "/bills/pay"))

	var payDeadline, otherDeadline bool
	r.POST("/bills/pay", func(c *gin.Context) {
		_, payDeadline = c.Request.Context().Deadline()
	})
	r.GET("/bills/items", func(c *gin.Context) {
		_, otherDeadline = c.Request.Context().Deadline()
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/bills/pay", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bills/items", nil))

	assert.False(t, payDeadline)
	assert.True(t, otherDeadline)
}

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestLogger(zap.NewNop()))
	var seen string
	r.GET("/x", func(c *gin.Context) { seen = c.GetString(middleware.RequestIDKey) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(middleware.RequestIDHeader, "rid-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "rid-123", seen)
	assert.Equal(t, "rid-123", w.Header().Get(middleware.RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(middleware.SecurityHeaders())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
