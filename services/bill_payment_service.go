package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deveasyclick/billpay/models"
	aws_pkg "github.com/deveasyclick/billpay/pkg/aws"
	"github.com/deveasyclick/billpay/providers"
	"github.com/deveasyclick/billpay/queue"
	"github.com/deveasyclick/billpay/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultConfirmationDelay = 3 * time.Second
	DefaultPaymentLockTTL    = 5 * time.Minute
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BillPaymentService routes a payment across providers.
type BillPaymentService interface {
	PayBill(ctx context.Context, req *models.PayBillRequest) (*models.PayBillResult, *ServiceError)
}

type BillPaymentConfig struct {
	ConfirmationDelay time.Duration
	LockTTL           time.Duration
}

type BillPaymentOption func(*billPaymentServiceImpl)

// WithSleeper replaces the wait between confirmation rounds.
func WithSleeper(fn SleepFunc) BillPaymentOption {
	return func(s *billPaymentServiceImpl) { s.sleep = fn }
}

func WithClock(now func() time.Time) BillPaymentOption {
	return func(s *billPaymentServiceImpl) { s.now = now }
}

type billPaymentServiceImpl struct {
	payments  repository.PaymentRepository
	billing   repository.BillingRepository
	registry  providers.Registry
	scheduler queue.Scheduler
	locker    queue.Locker
	notifier  *Notifier
	cfg       BillPaymentConfig
	sleep     SleepFunc
	now       func() time.Time
	logger    *zap.Logger
}

// NewBillPaymentService creates a new BillPaymentService.
func NewBillPaymentService(
	payments repository.PaymentRepository,
	billing repository.BillingRepository,
	registry providers.Registry,
	scheduler queue.Scheduler,
	locker queue.Locker,
	notifier *Notifier,
	cfg BillPaymentConfig,
	logger *zap.Logger,
	opts ...BillPaymentOption,
) BillPaymentService {
	if cfg.ConfirmationDelay == 0 {
		cfg.ConfirmationDelay = DefaultConfirmationDelay
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = DefaultPaymentLockTTL
	}
	s := &billPaymentServiceImpl{
		payments:  payments,
		billing:   billing,
		registry:  registry,
		scheduler: scheduler,
		locker:    locker,
		notifier:  notifier,
		cfg:       cfg,
		sleep:     sleepContext,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// candidate is one provider the orchestrator may try. item is nil when the
// provider has no offer with the payment's internal code.
type candidate struct {
	provider models.ProviderName
	item     *models.BillingItem
}

type attemptOutcome int

const (
	outcomeFailed attemptOutcome = iota
	outcomeSucceeded
	outcomePending
	outcomeDeclined
)

// attemptResult is what one provider attempt ended with.
type attemptResult struct {
	outcome attemptOutcome
	attempt *models.PaymentAttempt
	result  providers.Result
	err     error
	detail  string
}

// PayBill tries the preferred provider and at most one fallback. A charge
// that stays pending after the confirmation rounds is parked for
// reconciliation and never retried elsewhere.
func (s *billPaymentServiceImpl) PayBill(ctx context.Context, req *models.PayBillRequest) (*models.PayBillResult, *ServiceError) {
	if svcErr := s.checkOverride(ctx, req.Provider); svcErr != nil {
		return nil, svcErr
	}
	payment, svcErr := s.loadPayable(ctx, req.PaymentReference)
	if svcErr != nil {
		return nil, svcErr
	}

	release, err := s.locker.Acquire(ctx, payment.Reference, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, queue.ErrLocked) {
			return nil, Conflict("payment %s is already being processed", payment.Reference)
		}
		s.logger.Error("Failed to acquire payment lock", zap.String("reference", payment.Reference), zap.Error(err))
		return nil, Internal("failed to lock payment", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release payment lock", zap.String("reference", payment.Reference), zap.Error(err))
		}
	}()

	// Re-read under the lock: another process may have settled it meanwhile.
	if payment, svcErr = s.loadPayable(ctx, req.PaymentReference); svcErr != nil {
		return nil, svcErr
	}

	inFlight, err := s.payments.FindInFlightAttempt(ctx, payment.ID)
	switch {
	case err == nil:
		return nil, Conflict("payment %s has attempt %d awaiting confirmation", payment.Reference, inFlight.AttemptNumber)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, Internal("failed to load attempts", err)
	}

	item, err := s.billing.FindItemByID(ctx, req.BillingItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("billing item %s not found", req.BillingItemID)
		}
		return nil, Internal("failed to load billing item", err)
	}
	if item.Category != payment.Category {
		return nil, InvalidInput("billing item is %s, payment is %s", item.Category, payment.Category)
	}

	candidates, err := s.candidates(ctx, item, req.Provider)
	if err != nil {
		return nil, Internal("failed to resolve providers", err)
	}
	return s.run(ctx, payment, candidates)
}

// checkOverride rejects a requested provider that has no adapter or is not
// active in the catalog.
func (s *billPaymentServiceImpl) checkOverride(ctx context.Context, override *models.ProviderName) *ServiceError {
	if override == nil || *override == "" {
		return nil
	}
	if _, ok := s.registry.Get(*override); !ok {
		return InvalidInput("unknown provider %s", *override)
	}
	rows, err := s.billing.ListProviders(ctx)
	if err != nil {
		return Internal("failed to load providers", err)
	}
	for _, p := range rows {
		if p.Name == *override && p.IsActive {
			return nil
		}
	}
	return InvalidInput("provider %s is not active", *override)
}

func (s *billPaymentServiceImpl) loadPayable(ctx context.Context, reference string) (*models.Payment, *ServiceError) {
	payment, err := s.payments.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("payment %s not found", reference)
		}
		return nil, Internal("failed to load payment", err)
	}
	if payment.Status.IsTerminal() {
		return nil, Conflict("payment %s is already %s", reference, payment.Status)
	}
	return payment, nil
}

// candidates orders the providers to try: the override (or the item's own
// provider), then one other active provider offering the same internal code.
func (s *billPaymentServiceImpl) candidates(ctx context.Context, item *models.BillingItem, override *models.ProviderName) ([]candidate, error) {
	alternatives, err := s.billing.FindFallbackItems(ctx, item.InternalCode, item.ProviderID)
	if err != nil {
		return nil, err
	}

	var pool []*models.BillingItem
	if item.Active && item.Provider.IsActive {
		pool = append(pool, item)
	}
	for i := range alternatives {
		pool = append(pool, &alternatives[i])
	}
	find := func(name models.ProviderName) *models.BillingItem {
		for _, it := range pool {
			if it.Provider.Name == name {
				return it
			}
		}
		return nil
	}

	first := item.Provider.Name
	if override != nil && *override != "" {
		first = *override
	}
	out := []candidate{{provider: first, item: find(first)}}
	for _, it := range pool {
		if it.Provider.Name != first {
			out = append(out, candidate{provider: it.Provider.Name, item: it})
			break
		}
	}
	return out, nil
}

func (s *billPaymentServiceImpl) run(ctx context.Context, payment *models.Payment, candidates []candidate) (*models.PayBillResult, *ServiceError) {
	var (
		skipped     []string
		unsupported int
		attempted   int
		last        attemptResult
	)

	for _, c := range candidates {
		if c.item == nil {
			skipped = append(skipped, fmt.Sprintf("%s: no active item for %s", c.provider, payment.InternalCode))
			continue
		}
		adapter, ok := s.registry.Get(c.provider)
		if !ok {
			skipped = append(skipped, fmt.Sprintf("%s: no adapter configured", c.provider))
			continue
		}
		if !adapter.Supports(payment.Category) {
			unsupported++
			skipped = append(skipped, fmt.Sprintf("%s: %s not supported", c.provider, payment.Category))
			continue
		}

		if attempted == 0 {
			if err := s.payments.TransitionStatus(ctx, payment.ID, models.PaymentStatusProcessing, repository.PaymentUpdate{}); err != nil {
				if errors.Is(err, repository.ErrStaleTransition) {
					return nil, Conflict("payment %s changed while starting", payment.Reference)
				}
				return nil, Internal("failed to start payment", err)
			}
		} else {
			s.logger.Info("Falling back to next provider",
				zap.String("reference", payment.Reference),
				zap.String("provider", string(c.provider)))
			s.notifier.count(ctx, aws_pkg.MetricProviderFallback, map[string]string{"Provider": string(c.provider)})
		}
		attempted++

		res, svcErr := s.attempt(ctx, payment, adapter, c.item)
		if svcErr != nil {
			return nil, svcErr
		}
		switch res.outcome {
		case outcomeSucceeded:
			return s.succeed(ctx, payment, c.item, res)
		case outcomePending:
			return s.park(ctx, payment, res)
		case outcomeDeclined:
			return nil, s.fail(ctx, payment, res)
		}
		last = res
	}

	if attempted == 0 {
		cause := errors.New(strings.Join(skipped, "; "))
		if unsupported > 0 && unsupported == len(skipped) {
			e := UnsupportedCategory("no provider supports %s", payment.Category)
			e.Err = cause
			return nil, e
		}
		return nil, AllProvidersExhausted("no provider available", cause)
	}
	return nil, s.fail(ctx, payment, last)
}

// attempt runs one provider end to end: record, charge, and confirm while
// the charge is pending. Only persistence failures return a ServiceError.
func (s *billPaymentServiceImpl) attempt(ctx context.Context, payment *models.Payment, adapter providers.BillingProvider, item *models.BillingItem) (attemptResult, *ServiceError) {
	count, err := s.payments.CountAttempts(ctx, payment.ID)
	if err != nil {
		return attemptResult{}, Internal("failed to count attempts", err)
	}

	plan := item.Plan
	if payment.Plan != nil && *payment.Plan != "" {
		plan = *payment.Plan
	}
	req := providers.PayRequest{
		Reference:   payment.Reference,
		Category:    payment.Category,
		CustomerID:  payment.CustomerID,
		Amount:      payment.Amount,
		BillerCode:  item.Biller.Code,
		PaymentCode: item.PaymentCode,
		Plan:        plan,
	}
	reqJSON, _ := json.Marshal(req)

	attempt := &models.PaymentAttempt{
		PaymentID:      payment.ID,
		ProviderID:     item.ProviderID,
		ProviderName:   adapter.Name(),
		BillingItemID:  item.ID,
		AttemptNumber:  int(count) + 1,
		Status:         models.AttemptStatusInitiated,
		RequestPayload: datatypes.JSON(reqJSON),
	}
	if err := s.payments.CreateAttempt(ctx, attempt); err != nil {
		return attemptResult{}, Internal("failed to record attempt", err)
	}

	log := s.logger.With(
		zap.String("reference", payment.Reference),
		zap.String("provider", string(adapter.Name())),
		zap.Int("attempt", attempt.AttemptNumber))

	result, payErr := adapter.Pay(ctx, req)

	// From here on the provider may hold our money: finish recording even if
	// the caller goes away.
	persist := context.WithoutCancel(ctx)

	if payErr != nil && !providers.IsTimeout(payErr) {
		log.Warn("Provider rejected charge", zap.Error(payErr))
		msg := payErr.Error()
		if err := s.finishAttempt(persist, attempt, models.AttemptStatusFailed, repository.AttemptUpdate{ErrorMessage: &msg}); err != nil {
			return attemptResult{}, Internal("failed to record attempt outcome", err)
		}
		return attemptResult{outcome: outcomeFailed, attempt: attempt, err: payErr, detail: customerDetail(adapter.Name(), payErr)}, nil
	}

	if payErr == nil && result.Status.IsTerminal() {
		return s.settleAttempt(persist, attempt, result, log)
	}

	// Pending, or timed out with an unknown outcome.
	update := repository.AttemptUpdate{ResponsePayload: datatypes.JSON(result.Raw)}
	if payErr != nil {
		log.Warn("Charge timed out, treating as pending", zap.Error(payErr))
		msg := payErr.Error()
		update.ErrorMessage = &msg
	}
	if err := s.payments.TransitionAttempt(persist, attempt.ID, models.AttemptStatusPendingConfirmation, update); err != nil {
		return attemptResult{}, Internal("failed to record pending attempt", err)
	}
	attempt.Status = models.AttemptStatusPendingConfirmation

	confirmed, ok := s.confirm(ctx, adapter, payment.Reference, log)
	if !ok {
		return attemptResult{outcome: outcomePending, attempt: attempt, result: result}, nil
	}
	res, svcErr := s.settleAttempt(persist, attempt, confirmed, log)
	if svcErr == nil && res.outcome == outcomeFailed {
		// Past PENDING_CONFIRMATION a decline is final for the payment.
		res.outcome = outcomeDeclined
	}
	return res, svcErr
}

// confirm polls the provider until the charge is terminal or the rounds run out.
func (s *billPaymentServiceImpl) confirm(ctx context.Context, adapter providers.BillingProvider, reference string, log *zap.Logger) (providers.Result, bool) {
	rounds := adapter.ConfirmationRounds()
	for round := 1; round <= rounds; round++ {
		if err := s.sleep(ctx, s.cfg.ConfirmationDelay); err != nil {
			return providers.Result{}, false
		}
		res, err := adapter.Confirm(ctx, reference)
		if err != nil {
			log.Warn("Confirmation query failed", zap.Int("round", round), zap.Error(err))
			continue
		}
		if res.Status.IsTerminal() {
			return res, true
		}
		log.Debug("Charge still pending", zap.Int("round", round))
	}
	return providers.Result{}, false
}

func (s *billPaymentServiceImpl) settleAttempt(ctx context.Context, attempt *models.PaymentAttempt, result providers.Result, log *zap.Logger) (attemptResult, *ServiceError) {
	update := repository.AttemptUpdate{ResponsePayload: datatypes.JSON(result.Raw)}
	status := models.AttemptStatusSuccess
	outcome := outcomeSucceeded
	if result.Status == providers.OutcomeFailed {
		status = models.AttemptStatusFailed
		outcome = outcomeFailed
		msg := result.Message
		if msg == "" {
			msg = "charge failed"
		}
		update.ErrorMessage = &msg
	}
	if err := s.finishAttempt(ctx, attempt, status, update); err != nil {
		return attemptResult{}, Internal("failed to record attempt outcome", err)
	}
	log.Info("Attempt settled", zap.String("status", string(status)))

	res := attemptResult{outcome: outcome, attempt: attempt, result: result}
	if outcome == outcomeFailed {
		res.err = fmt.Errorf("%s: %s", attempt.ProviderName, *update.ErrorMessage)
		res.detail = fmt.Sprintf("%s: charge declined", attempt.ProviderName)
	}
	return res, nil
}

func (s *billPaymentServiceImpl) finishAttempt(ctx context.Context, attempt *models.PaymentAttempt, status models.AttemptStatus, update repository.AttemptUpdate) error {
	now := s.now()
	update.CompletedAt = &now
	if err := s.payments.TransitionAttempt(ctx, attempt.ID, status, update); err != nil {
		return err
	}
	attempt.Status = status
	attempt.CompletedAt = &now
	return nil
}

func (s *billPaymentServiceImpl) succeed(ctx context.Context, payment *models.Payment, item *models.BillingItem, res attemptResult) (*models.PayBillResult, *ServiceError) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	err := s.payments.TransitionStatus(ctx, payment.ID, models.PaymentStatusSuccess, repository.PaymentUpdate{
		ResolvedItemID: &item.ID,
		CompletedAt:    &now,
	})
	if err != nil {
		s.logger.Error("Charge succeeded but payment could not be settled",
			zap.String("reference", payment.Reference), zap.Error(err))
		return nil, Internal("failed to settle payment", err)
	}

	s.logger.Info("Bill payment succeeded",
		zap.String("reference", payment.Reference),
		zap.String("provider", string(res.attempt.ProviderName)))
	s.notify(ctx, models.EventPaymentSucceeded, payment, res.attempt.ProviderName, models.PaymentStatusSuccess, "")
	s.notifier.count(ctx, aws_pkg.MetricBillPaymentSucceeded, map[string]string{"Provider": string(res.attempt.ProviderName)})

	amount := res.result.Amount
	if amount == 0 {
		amount = payment.Amount
	}
	return &models.PayBillResult{
		Reference:    payment.Reference,
		Amount:       amount,
		Status:       models.PaymentStatusSuccess,
		Provider:     res.attempt.ProviderName,
		InternalCode: item.InternalCode,
		Metadata:     res.result.Metadata,
	}, nil
}

// park hands a pending charge to reconciliation.
func (s *billPaymentServiceImpl) park(ctx context.Context, payment *models.Payment, res attemptResult) (*models.PayBillResult, *ServiceError) {
	ctx = context.WithoutCancel(ctx)
	if err := s.payments.TransitionStatus(ctx, payment.ID, models.PaymentStatusPending, repository.PaymentUpdate{}); err != nil {
		s.logger.Error("Failed to park payment", zap.String("reference", payment.Reference), zap.Error(err))
		return nil, Internal("failed to park payment", err)
	}

	job := models.ReconciliationJob{PaymentReference: payment.Reference, AttemptID: res.attempt.ID}
	if _, err := s.scheduler.Schedule(ctx, job); err != nil {
		s.logger.Error("Failed to schedule reconciliation", zap.String("reference", payment.Reference), zap.Error(err))
		if err := s.payments.SetLastError(ctx, payment.ID, "reconciliation enqueue failed"); err != nil {
			s.logger.Warn("Failed to record last error", zap.Error(err))
		}
	}

	s.logger.Info("Bill payment pending reconciliation",
		zap.String("reference", payment.Reference),
		zap.String("provider", string(res.attempt.ProviderName)))
	s.notify(ctx, models.EventPaymentPending, payment, res.attempt.ProviderName, models.PaymentStatusPending, "")
	s.notifier.count(ctx, aws_pkg.MetricBillPaymentPending, map[string]string{"Provider": string(res.attempt.ProviderName)})

	return &models.PayBillResult{
		Reference:    payment.Reference,
		Amount:       payment.Amount,
		Status:       models.PaymentStatusPending,
		Provider:     res.attempt.ProviderName,
		InternalCode: payment.InternalCode,
		Metadata:     res.result.Metadata,
	}, nil
}

func (s *billPaymentServiceImpl) fail(ctx context.Context, payment *models.Payment, last attemptResult) *ServiceError {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	msg := "payment failed"
	if last.err != nil {
		msg = last.err.Error()
	}
	err := s.payments.TransitionStatus(ctx, payment.ID, models.PaymentStatusFailed, repository.PaymentUpdate{
		LastError:   &msg,
		CompletedAt: &now,
	})
	if err != nil {
		s.logger.Error("Failed to mark payment failed", zap.String("reference", payment.Reference), zap.Error(err))
		return Internal("failed to settle payment", err)
	}

	provider := models.ProviderName("")
	if last.attempt != nil {
		provider = last.attempt.ProviderName
	}
	s.logger.Warn("Bill payment failed", zap.String("reference", payment.Reference), zap.String("last_error", msg))
	s.notify(ctx, models.EventPaymentFailed, payment, provider, models.PaymentStatusFailed, last.detail)
	s.notifier.count(ctx, aws_pkg.MetricBillPaymentFailed, map[string]string{"Provider": string(provider)})
	return AllProvidersExhausted(last.detail, last.err)
}

func (s *billPaymentServiceImpl) notify(ctx context.Context, eventType string, payment *models.Payment, provider models.ProviderName, status models.PaymentStatus, detail string) {
	s.notifier.publishEvent(ctx, eventType, models.PaymentEvent{
		EventType:  eventType,
		Reference:  payment.Reference,
		Status:     status,
		Provider:   provider,
		Amount:     payment.Amount,
		CustomerID: payment.CustomerID,
		Error:      detail,
		Timestamp:  s.now().UTC(),
	})
}

// customerDetail summarizes a provider error without leaking its body.
func customerDetail(provider models.ProviderName, err error) string {
	switch {
	case errors.Is(err, providers.ErrUnsupportedCategory):
		return fmt.Sprintf("%s: category not supported", provider)
	case errors.Is(err, providers.ErrUnauthorized):
		return fmt.Sprintf("%s: provider unavailable", provider)
	default:
		return fmt.Sprintf("%s: charge not accepted", provider)
	}
}
