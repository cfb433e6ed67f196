package controllers

import (
	"net/http"

	"github.com/deveasyclick/billpay/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminController exposes operator actions.
type AdminController struct {
	catalog   services.CatalogSyncService
	reconcile services.ReconciliationService
	logger    *zap.Logger
}

func NewAdminController(catalog services.CatalogSyncService, reconcile services.ReconciliationService, logger *zap.Logger) *AdminController {
	return &AdminController{catalog: catalog, reconcile: reconcile, logger: logger}
}

// SyncCatalog handles POST /admin/catalog/sync
func (ac *AdminController) SyncCatalog(ctx *gin.Context) {
	stats, err := ac.catalog.Sync(ctx.Request.Context())
	if err != nil {
		ac.logger.Error("Catalog sync failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Catalog sync failed"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"providers": stats})
}

// RequeueReconciliation handles POST /admin/payments/:reference/reconcile
func (ac *AdminController) RequeueReconciliation(ctx *gin.Context) {
	reference := ctx.Param("reference")

	queued, svcErr := ac.reconcile.Requeue(ctx.Request.Context(), reference)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{"reference": reference, "queued": queued})
}
