package routes

import (
	"net/http"
	"time"

	"github.com/deveasyclick/billpay/controllers"
	"github.com/deveasyclick/billpay/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "billpay"

// Options configures the global middleware chain.
type Options struct {
	Logger         *zap.Logger
	Metrics        middleware.HTTPMetrics
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
	RequestTimeout time.Duration
	JWTSecret      []byte
}

// NewRouter builds the engine with the global middleware, health check and
// every route group.
func NewRouter(opts Options, bc *controllers.BillsController, ac *controllers.AdminController) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     opts.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.SecurityHeaders())
	if opts.Limiter != nil {
		r.Use(middleware.RateLimitMiddleware(opts.Limiter))
	}
	// /bills/pay waits on provider confirmation rounds and bounds itself.
	r.Use(middleware.Timeout(opts.RequestTimeout, "/bills/pay"))
	if opts.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(opts.Metrics, serviceName))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})

	RegisterBillRoutes(r, bc)
	RegisterAdminRoutes(r, ac, opts.JWTSecret)
	return r
}

// RegisterBillRoutes sets up the customer facing bill payment routes.
func RegisterBillRoutes(r *gin.Engine, bc *controllers.BillsController) {
	bills := r.Group("/bills")

	bills.POST("/payments", bc.CreatePayment)
	bills.GET("/payments/:reference", bc.GetPayment)
	bills.POST("/pay", bc.PayBill)
	bills.GET("/items", bc.ListItems)
	bills.POST("/validate-customer", bc.ValidateCustomer)
}

// RegisterAdminRoutes sets up operator routes behind an admin bearer token.
func RegisterAdminRoutes(r *gin.Engine, ac *controllers.AdminController, secret []byte) {
	admin := r.Group("/admin")
	admin.Use(middleware.AdminAuth(secret))

	admin.POST("/catalog/sync", ac.SyncCatalog)
	admin.POST("/payments/:reference/reconcile", ac.RequeueReconciliation)
}
