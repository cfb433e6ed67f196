package controllers

import (
	"net/http"
	"strings"

	"github.com/deveasyclick/billpay/models"
	"github.com/deveasyclick/billpay/services"
	"github.com/gin-gonic/gin"
)

// BillsController handles the customer facing bill payment endpoints.
type BillsController struct {
	payments services.PaymentService
	bills    services.BillPaymentService
}

// NewBillsController creates a new BillsController.
func NewBillsController(payments services.PaymentService, bills services.BillPaymentService) *BillsController {
	return &BillsController{payments: payments, bills: bills}
}

// CreatePayment handles POST /bills/payments
func (bc *BillsController) CreatePayment(ctx *gin.Context) {
	var req models.CreatePaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	req.Category = models.BillCategory(strings.ToUpper(string(req.Category)))

	resp, svcErr := bc.payments.CreatePayment(ctx.Request.Context(), &req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusCreated, resp)
}

// PayBill handles POST /bills/pay. A payment left pending for reconciliation
// answers 202.
func (bc *BillsController) PayBill(ctx *gin.Context) {
	var req models.PayBillRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	if req.Provider != nil {
		p := models.ProviderName(strings.ToUpper(string(*req.Provider)))
		req.Provider = &p
	}

	result, svcErr := bc.bills.PayBill(ctx.Request.Context(), &req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	status := http.StatusOK
	if result.Status == models.PaymentStatusPending {
		status = http.StatusAccepted
	}
	ctx.JSON(status, result)
}

// GetPayment handles GET /bills/payments/:reference
func (bc *BillsController) GetPayment(ctx *gin.Context) {
	reference := ctx.Param("reference")
	if reference == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Payment reference is required"})
		return
	}

	payment, svcErr := bc.payments.GetPayment(ctx.Request.Context(), reference)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, payment)
}

// ListItems handles GET /bills/items?provider=&category=
func (bc *BillsController) ListItems(ctx *gin.Context) {
	provider := models.ProviderName(strings.ToUpper(ctx.Query("provider")))
	category := models.BillCategory(strings.ToUpper(ctx.Query("category")))

	items, svcErr := bc.payments.ListItems(ctx.Request.Context(), provider, category)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// ValidateCustomer handles POST /bills/validate-customer
func (bc *BillsController) ValidateCustomer(ctx *gin.Context) {
	var req models.ValidateCustomerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	req.Provider = models.ProviderName(strings.ToUpper(string(req.Provider)))

	customer, svcErr := bc.payments.ValidateCustomer(ctx.Request.Context(), &req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusOK, customer)
}

// respondError writes the error body shared by every endpoint. Wrapped
// provider errors stay in the logs.
func respondError(ctx *gin.Context, svcErr *services.ServiceError) {
	body := gin.H{"error": svcErr.Message, "code": svcErr.Kind}
	if svcErr.Detail != "" {
		body["detail"] = svcErr.Detail
	}
	ctx.JSON(svcErr.StatusCode, body)
}
