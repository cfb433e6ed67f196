package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/deveasyclick/billpay/catalog"
	"github.com/deveasyclick/billpay/models"
	aws_pkg "github.com/deveasyclick/billpay/pkg/aws"
	"github.com/deveasyclick/billpay/providers"
	"github.com/deveasyclick/billpay/repository"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Archiver stores raw provider listings.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// CatalogSyncService pulls every provider's offers into the billing catalog.
type CatalogSyncService interface {
	Sync(ctx context.Context) (map[models.ProviderName]models.SyncStats, error)
}

type catalogSyncServiceImpl struct {
	billing  repository.BillingRepository
	registry providers.Registry
	archiver Archiver
	notifier *Notifier
	validate *validator.Validate
	now      func() time.Time
	logger   *zap.Logger
}

// NewCatalogSyncService creates a new CatalogSyncService. archiver may be nil.
func NewCatalogSyncService(
	billing repository.BillingRepository,
	registry providers.Registry,
	archiver Archiver,
	notifier *Notifier,
	logger *zap.Logger,
) CatalogSyncService {
	return &catalogSyncServiceImpl{
		billing:  billing,
		registry: registry,
		archiver: archiver,
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		logger:   logger,
	}
}

// Sync seeds the reference rows, then syncs each active provider. A provider
// whose listing fails is reported in its stats and does not stop the others.
func (s *catalogSyncServiceImpl) Sync(ctx context.Context) (map[models.ProviderName]models.SyncStats, error) {
	names := make([]models.ProviderName, 0, len(s.registry))
	for name := range s.registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	if err := s.billing.SeedProviders(ctx, names); err != nil {
		return nil, fmt.Errorf("seed providers: %w", err)
	}
	if err := s.billing.SeedCategories(ctx, models.Categories); err != nil {
		return nil, fmt.Errorf("seed categories: %w", err)
	}

	rows, err := s.billing.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	byName := make(map[models.ProviderName]models.BillingProvider, len(rows))
	for _, p := range rows {
		byName[p.Name] = p
	}

	started := s.now()
	stats := make(map[models.ProviderName]models.SyncStats, len(names))
	for _, name := range names {
		row, ok := byName[name]
		if !ok || !row.IsActive {
			s.logger.Info("Skipping inactive provider", zap.String("provider", string(name)))
			continue
		}
		st := s.syncProvider(ctx, row, s.registry[name], started)
		stats[name] = st
		s.notifier.value(ctx, aws_pkg.MetricCatalogItemsUpserted, float64(st.Created+st.Updated),
			map[string]string{"Provider": string(name)})
	}

	s.notifier.publishEvent(ctx, models.EventCatalogSynced, models.CatalogSyncedEvent{
		EventType: models.EventCatalogSynced,
		Providers: stats,
		Timestamp: s.now().UTC(),
	})
	return stats, nil
}

func (s *catalogSyncServiceImpl) syncProvider(ctx context.Context, row models.BillingProvider, adapter providers.BillingProvider, started time.Time) models.SyncStats {
	var st models.SyncStats
	log := s.logger.With(zap.String("provider", string(row.Name)))

	offers, err := adapter.ListOffers(ctx)
	if err != nil {
		log.Error("ListOffers failed", zap.Error(err))
		st.Error = err.Error()
		return st
	}
	st.Listed = len(offers)
	s.archive(ctx, row.Name, offers, started)

	valid := make([]providers.Offer, 0, len(offers))
	for _, o := range offers {
		if err := s.validate.Struct(o); err != nil {
			log.Debug("Dropping invalid offer", zap.String("biller", o.BillerCode), zap.Error(err))
			st.Skipped++
			continue
		}
		valid = append(valid, o)
	}

	// Billers are shared across providers and keyed by their native code.
	seen := make(map[string]bool)
	var billers []models.Biller
	for _, o := range valid {
		if !seen[o.BillerCode] {
			seen[o.BillerCode] = true
			billers = append(billers, models.Biller{Code: o.BillerCode, Name: o.BillerName})
		}
	}
	stored, err := s.billing.UpsertBillers(ctx, billers)
	if err != nil {
		log.Error("UpsertBillers failed", zap.Error(err))
		st.Error = err.Error()
		return st
	}
	billerIDs := make(map[string]models.Biller, len(stored))
	for _, b := range stored {
		billerIDs[b.Code] = b
	}

	existing, err := s.billing.FindItemsByProvider(ctx, row.ID)
	if err != nil {
		log.Error("FindItemsByProvider failed", zap.Error(err))
		st.Error = err.Error()
		return st
	}
	current := make(map[string]models.BillingItem, len(existing))
	for _, it := range existing {
		current[it.InternalCode] = it
	}

	codes := make(map[string]bool)
	var changed []models.BillingItem
	for _, o := range valid {
		biller, ok := billerIDs[o.BillerCode]
		if !ok {
			st.Skipped++
			continue
		}
		code := catalog.InternalCode(catalog.Offer{
			BillerName: o.BillerName,
			Category:   o.Category,
			Amount:     o.Amount,
			Plan:       o.Plan,
		})
		if codes[code] {
			st.Skipped++
			continue
		}
		codes[code] = true

		item := models.BillingItem{
			InternalCode: code,
			ProviderID:   row.ID,
			Category:     o.Category,
			BillerID:     biller.ID,
			Name:         o.Name,
			Amount:       o.Amount,
			AmountType:   o.AmountType,
			PaymentCode:  o.PaymentCode,
			Plan:         o.Plan,
			Image:        o.Image,
			Active:       true,
		}
		prev, exists := current[code]
		switch {
		case !exists:
			st.Created++
		case prev.SameOffer(item):
			st.Unchanged++
			continue
		default:
			st.Updated++
		}
		changed = append(changed, item)
	}

	if len(changed) > 0 {
		if err := s.billing.UpsertItems(ctx, changed); err != nil {
			log.Error("UpsertItems failed", zap.Error(err))
			st.Error = err.Error()
			st.Created, st.Updated = 0, 0
			return st
		}
	}
	log.Info("Catalog synced",
		zap.Int("listed", st.Listed),
		zap.Int("created", st.Created),
		zap.Int("updated", st.Updated),
		zap.Int("unchanged", st.Unchanged),
		zap.Int("skipped", st.Skipped))
	return st
}

func (s *catalogSyncServiceImpl) archive(ctx context.Context, provider models.ProviderName, offers []providers.Offer, started time.Time) {
	if s.archiver == nil {
		return
	}
	body, err := json.Marshal(offers)
	if err != nil {
		s.logger.Warn("Failed to marshal offers for archive", zap.Error(err))
		return
	}
	key := fmt.Sprintf("catalog/%s/%s.json", provider, started.UTC().Format("20060102T150405Z"))
	if err := s.archiver.Archive(ctx, key, body); err != nil {
		s.logger.Warn("Failed to archive catalog listing", zap.String("key", key), zap.Error(err))
	}
}
