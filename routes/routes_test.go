package routes_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deveasyclick/billpay/controllers"
	"github.com/deveasyclick/billpay/models"
	"github.com/deveasyclick/billpay/routes"
	"github.com/deveasyclick/billpay/services"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCatalog struct{ calls int }

func (s *stubCatalog) Sync(context.Context) (map[models.ProviderName]models.SyncStats, error) {
	s.calls++
	return map[models.ProviderName]models.SyncStats{}, nil
}

type stubPayments struct{}

func (stubPayments) CreatePayment(context.Context, *models.CreatePaymentRequest) (*models.CreatePaymentResponse, *services.ServiceError) {
	return nil, services.InvalidInput("nope")
}
func (stubPayments) GetPayment(context.Context, string) (*models.Payment, *services.ServiceError) {
	return nil, services.NotFound("payment not found")
}
func (stubPayments) ListItems(context.Context, models.ProviderName, models.BillCategory) ([]models.BillingItem, *services.ServiceError) {
	return nil, nil
}
func (stubPayments) ValidateCustomer(context.Context, *models.ValidateCustomerRequest) (*models.Customer, *services.ServiceError) {
	return nil, nil
}

var secret = []byte("router-secret")

func newRouter(t *testing.T, cat *stubCatalog) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bc := controllers.NewBillsController(stubPayments{}, nil)
	ac := controllers.NewAdminController(cat, nil, zap.NewNop())
	return routes.NewRouter(routes.Options{
		Logger:         zap.NewNop(),
		AllowedOrigins: []string{"http://localhost:3000"},
		RequestTimeout: time.Second,
		JWTSecret:      secret,
	}, bc, ac)
}

func TestHealth(t *testing.T) {
	r := newRouter(t, &stubCatalog{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestBillRoutesAreMounted(t *testing.T) {
	r := newRouter(t, &stubCatalog{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bills/payments/REF", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(services.KindNotFound))
}

func TestAdminRoutesRequireToken(t *testing.T) {
	cat := &stubCatalog{}
	r := newRouter(t, cat)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/catalog/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, cat.calls)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/catalog/sync", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, cat.calls)
}
