package repository

import (
	"context"

	"github.com/deveasyclick/billpay/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 200

// BillingRepository defines data-access operations for the billing catalog.
type BillingRepository interface {
	SeedProviders(ctx context.Context, names []models.ProviderName) error
	SeedCategories(ctx context.Context, categories []models.BillCategory) error
	FindProviderByName(ctx context.Context, name models.ProviderName) (*models.BillingProvider, error)
	ListProviders(ctx context.Context) ([]models.BillingProvider, error)

	UpsertBillers(ctx context.Context, billers []models.Biller) ([]models.Biller, error)

	FindItemByID(ctx context.Context, id uuid.UUID) (*models.BillingItem, error)
	FindFallbackItems(ctx context.Context, internalCode string, excludeProviderID uuid.UUID) ([]models.BillingItem, error)
	FindItemsByProvider(ctx context.Context, providerID uuid.UUID) ([]models.BillingItem, error)
	ListActiveItems(ctx context.Context, provider models.ProviderName, category models.BillCategory) ([]models.BillingItem, error)
	UpsertItems(ctx context.Context, items []models.BillingItem) error
}

// GormBillingRepository implements BillingRepository using GORM.
type GormBillingRepository struct {
	db *gorm.DB
}

// NewGormBillingRepository creates a new GormBillingRepository.
func NewGormBillingRepository(db *gorm.DB) BillingRepository {
	return &GormBillingRepository{db: db}
}

func (r *GormBillingRepository) SeedProviders(ctx context.Context, names []models.ProviderName) error {
	rows := make([]models.BillingProvider, 0, len(names))
	for _, n := range names {
		rows = append(rows, models.BillingProvider{Name: n, IsActive: true})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&rows).Error
}

func (r *GormBillingRepository) SeedCategories(ctx context.Context, categories []models.BillCategory) error {
	rows := make([]models.BillingCategory, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, models.BillingCategory{Name: c, Dynamic: c.IsDynamic()})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&rows).Error
}

func (r *GormBillingRepository) FindProviderByName(ctx context.Context, name models.ProviderName) (*models.BillingProvider, error) {
	var p models.BillingProvider
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormBillingRepository) ListProviders(ctx context.Context) ([]models.BillingProvider, error) {
	var providers []models.BillingProvider
	err := r.db.WithContext(ctx).Order("name ASC").Find(&providers).Error
	return providers, err
}

// UpsertBillers inserts billers keyed by their provider-native code and
// returns the stored rows, ids included, for every code passed in.
func (r *GormBillingRepository) UpsertBillers(ctx context.Context, billers []models.Biller) ([]models.Biller, error) {
	if len(billers) == 0 {
		return nil, nil
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		CreateInBatches(&billers, upsertBatchSize).Error; err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(billers))
	for _, b := range billers {
		codes = append(codes, b.Code)
	}
	var stored []models.Biller
	err := r.db.WithContext(ctx).Where("code IN ?", codes).Find(&stored).Error
	return stored, err
}

func (r *GormBillingRepository) FindItemByID(ctx context.Context, id uuid.UUID) (*models.BillingItem, error) {
	var item models.BillingItem
	if err := r.db.WithContext(ctx).
		Preload("Provider").
		Preload("Biller").
		First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// FindFallbackItems returns active items with the given internal code held by
// other active providers.
func (r *GormBillingRepository) FindFallbackItems(ctx context.Context, internalCode string, excludeProviderID uuid.UUID) ([]models.BillingItem, error) {
	activeProviders := r.db.Model(&models.BillingProvider{}).Select("id").Where("is_active = ?", true)

	var items []models.BillingItem
	err := r.db.WithContext(ctx).
		Preload("Provider").
		Preload("Biller").
		Where("internal_code = ? AND active = ? AND provider_id <> ?", internalCode, true, excludeProviderID).
		Where("provider_id IN (?)", activeProviders).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *GormBillingRepository) FindItemsByProvider(ctx context.Context, providerID uuid.UUID) ([]models.BillingItem, error) {
	var items []models.BillingItem
	err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).Find(&items).Error
	return items, err
}

func (r *GormBillingRepository) ListActiveItems(ctx context.Context, provider models.ProviderName, category models.BillCategory) ([]models.BillingItem, error) {
	providerIDs := r.db.Model(&models.BillingProvider{}).Select("id").Where("name = ?", provider)

	query := r.db.WithContext(ctx).
		Preload("Biller").
		Where("active = ? AND provider_id IN (?)", true, providerIDs)
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var items []models.BillingItem
	err := query.Order("internal_code ASC").Find(&items).Error
	return items, err
}

// UpsertItems writes items keyed by (internal_code, provider_id). Existing rows
// get their offer columns refreshed and are re-activated; rows are never
// removed.
func (r *GormBillingRepository) UpsertItems(ctx context.Context, items []models.BillingItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].Active = true
	}
	return r.db.WithContext(ctx).
		Omit("Provider", "Biller").
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "internal_code"}, {Name: "provider_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"category", "biller_id", "name", "amount", "amount_type",
				"payment_code", "plan", "image", "active", "updated_at",
			}),
		}).
		CreateInBatches(&items, upsertBatchSize).Error
}
