package services_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deveasyclick/billpay/models"
	"github.com/deveasyclick/billpay/providers"
	"github.com/deveasyclick/billpay/queue"
	"github.com/deveasyclick/billpay/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ---- in-memory payment repository ----

type memPaymentRepo struct {
	mu          sync.Mutex
	payments    map[string]*models.Payment
	attempts    []*models.PaymentAttempt
	createErr   error
	transitions []models.PaymentStatus
}

func newMemPaymentRepo(payments ...*models.Payment) *memPaymentRepo {
	r := &memPaymentRepo{payments: make(map[string]*models.Payment)}
	for _, p := range payments {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		r.payments[p.Reference] = p
	}
	return r
}

func (r *memPaymentRepo) byID(id uuid.UUID) *models.Payment {
	for _, p := range r.payments {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *memPaymentRepo) Create(_ context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	p.ID = uuid.New()
	r.payments[p.Reference] = p
	return nil
}

func (r *memPaymentRepo) FindByReference(_ context.Context, ref string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[ref]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPaymentRepo) FindByReferenceWithAttempts(ctx context.Context, ref string) (*models.Payment, error) {
	p, err := r.FindByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	p.Attempts = r.attemptsFor(p.ID)
	return p, nil
}

func (r *memPaymentRepo) TransitionStatus(_ context.Context, id uuid.UUID, to models.PaymentStatus, u repository.PaymentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.byID(id)
	if p == nil || !p.Status.CanTransition(to) {
		return repository.ErrStaleTransition
	}
	p.Status = to
	if u.ResolvedItemID != nil {
		p.ResolvedItemID = u.ResolvedItemID
	}
	if u.LastError != nil {
		p.LastError = u.LastError
	}
	if u.CompletedAt != nil {
		p.CompletedAt = u.CompletedAt
	}
	r.transitions = append(r.transitions, to)
	return nil
}

func (r *memPaymentRepo) SetLastError(_ context.Context, id uuid.UUID, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.byID(id); p != nil {
		p.LastError = &msg
	}
	return nil
}

func (r *memPaymentRepo) CreateAttempt(_ context.Context, a *models.PaymentAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = uuid.New()
	cp := *a
	r.attempts = append(r.attempts, &cp)
	return nil
}

func (r *memPaymentRepo) CountAttempts(_ context.Context, id uuid.UUID) (int64, error) {
	return int64(len(r.attemptsFor(id))), nil
}

func (r *memPaymentRepo) FindAttempt(_ context.Context, id uuid.UUID) (*models.PaymentAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPaymentRepo) FindInFlightAttempt(_ context.Context, paymentID uuid.UUID) (*models.PaymentAttempt, error) {
	for _, a := range r.attemptsFor(paymentID) {
		if !a.Status.IsTerminal() {
			cp := a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPaymentRepo) TransitionAttempt(_ context.Context, id uuid.UUID, to models.AttemptStatus, u repository.AttemptUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.ID != id {
			continue
		}
		if a.Status.IsTerminal() {
			return repository.ErrStaleTransition
		}
		a.Status = to
		if u.ResponsePayload != nil {
			a.ResponsePayload = u.ResponsePayload
		}
		if u.ErrorMessage != nil {
			a.ErrorMessage = u.ErrorMessage
		}
		if u.CompletedAt != nil {
			a.CompletedAt = u.CompletedAt
		}
		return nil
	}
	return repository.ErrStaleTransition
}

func (r *memPaymentRepo) attemptsFor(paymentID uuid.UUID) []models.PaymentAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentAttempt
	for _, a := range r.attempts {
		if a.PaymentID == paymentID {
			out = append(out, *a)
		}
	}
	return out
}

func (r *memPaymentRepo) payment(ref string) models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.payments[ref]
}

// ---- in-memory billing repository ----

type memBillingRepo struct {
	providers []models.BillingProvider
	items     map[uuid.UUID]*models.BillingItem
	billers   map[string]models.Biller
	upserts   [][]models.BillingItem
	listErr   error
}

func newMemBillingRepo() *memBillingRepo {
	return &memBillingRepo{
		items:   make(map[uuid.UUID]*models.BillingItem),
		billers: make(map[string]models.Biller),
	}
}

func (r *memBillingRepo) addProvider(name models.ProviderName, active bool) models.BillingProvider {
	p := models.BillingProvider{ID: uuid.New(), Name: name, IsActive: active}
	r.providers = append(r.providers, p)
	return p
}

func (r *memBillingRepo) addItem(provider models.BillingProvider, category models.BillCategory, code, billerCode string) *models.BillingItem {
	it := &models.BillingItem{
		ID:           uuid.New(),
		InternalCode: code,
		ProviderID:   provider.ID,
		Category:     category,
		Name:         code,
		PaymentCode:  billerCode + "-pc",
		Active:       true,
		Provider:     provider,
		Biller:       models.Biller{ID: uuid.New(), Code: billerCode, Name: billerCode},
	}
	it.BillerID = it.Biller.ID
	r.items[it.ID] = it
	return it
}

func (r *memBillingRepo) SeedProviders(_ context.Context, names []models.ProviderName) error {
	for _, n := range names {
		found := false
		for _, p := range r.providers {
			found = found || p.Name == n
		}
		if !found {
			r.addProvider(n, true)
		}
	}
	return nil
}

func (r *memBillingRepo) SeedCategories(context.Context, []models.BillCategory) error { return nil }

func (r *memBillingRepo) FindProviderByName(_ context.Context, name models.ProviderName) (*models.BillingProvider, error) {
	for _, p := range r.providers {
		if p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memBillingRepo) ListProviders(context.Context) ([]models.BillingProvider, error) {
	return r.providers, nil
}

func (r *memBillingRepo) UpsertBillers(_ context.Context, billers []models.Biller) ([]models.Biller, error) {
	var out []models.Biller
	for _, b := range billers {
		stored, ok := r.billers[b.Code]
		if !ok {
			stored = models.Biller{ID: uuid.New(), Code: b.Code}
		}
		stored.Name = b.Name
		r.billers[b.Code] = stored
		out = append(out, stored)
	}
	return out, nil
}

func (r *memBillingRepo) FindItemByID(_ context.Context, id uuid.UUID) (*models.BillingItem, error) {
	it, ok := r.items[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *it
	return &cp, nil
}

func (r *memBillingRepo) FindFallbackItems(_ context.Context, code string, exclude uuid.UUID) ([]models.BillingItem, error) {
	var out []models.BillingItem
	for _, p := range r.providers {
		for _, it := range r.items {
			if it.ProviderID == p.ID && p.ID != exclude && p.IsActive && it.Active && it.InternalCode == code {
				out = append(out, *it)
			}
		}
	}
	return out, nil
}

func (r *memBillingRepo) FindItemsByProvider(_ context.Context, providerID uuid.UUID) ([]models.BillingItem, error) {
	var out []models.BillingItem
	for _, it := range r.items {
		if it.ProviderID == providerID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (r *memBillingRepo) ListActiveItems(_ context.Context, provider models.ProviderName, category models.BillCategory) ([]models.BillingItem, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []models.BillingItem
	for _, it := range r.items {
		if it.Provider.Name == provider && it.Active && (category == "" || it.Category == category) {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (r *memBillingRepo) UpsertItems(_ context.Context, items []models.BillingItem) error {
	r.upserts = append(r.upserts, items)
	for _, in := range items {
		var target *models.BillingItem
		for _, it := range r.items {
			if it.InternalCode == in.InternalCode && it.ProviderID == in.ProviderID {
				target = it
			}
		}
		if target == nil {
			cp := in
			cp.ID = uuid.New()
			r.items[cp.ID] = &cp
			continue
		}
		id := target.ID
		*target = in
		target.ID = id
	}
	return nil
}

func (r *memBillingRepo) itemCount() int { return len(r.items) }

// ---- scripted provider adapter ----

type step struct {
	result providers.Result
	err    error
}

type scriptedAdapter struct {
	mu          sync.Mutex
	name        models.ProviderName
	rounds      int
	unsupported map[models.BillCategory]bool
	pay         step
	confirms    []step
	payCalls    []providers.PayRequest
	confirmRefs []string
	offers      []providers.Offer
	offersErr   error
	customer    models.Customer
	customerErr error
}

func newAdapter(name models.ProviderName, rounds int) *scriptedAdapter {
	return &scriptedAdapter{name: name, rounds: rounds}
}

func (a *scriptedAdapter) Name() models.ProviderName { return a.name }
func (a *scriptedAdapter) ConfirmationRounds() int { return a.rounds }
func (a *scriptedAdapter) Supports(c models.BillCategory) bool {
	return !a.unsupported[c]
}

func (a *scriptedAdapter) Pay(_ context.Context, req providers.PayRequest) (providers.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payCalls = append(a.payCalls, req)
	return a.pay.result, a.pay.err
}

func (a *scriptedAdapter) Confirm(_ context.Context, ref string) (providers.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirmRefs = append(a.confirmRefs, ref)
	if len(a.confirms) == 0 {
		return providers.Result{Status: providers.OutcomePending}, nil
	}
	s := a.confirms[0]
	if len(a.confirms) > 1 {
		a.confirms = a.confirms[1:]
	}
	return s.result, s.err
}

func (a *scriptedAdapter) ListOffers(context.Context) ([]providers.Offer, error) {
	return a.offers, a.offersErr
}

func (a *scriptedAdapter) ValidateCustomer(context.Context, providers.CustomerLookup) (models.Customer, error) {
	return a.customer, a.customerErr
}

func pending() step {
	return step{result: providers.Result{Status: providers.OutcomePending}}
}

func successful(amount int64) step {
	return step{result: providers.Result{Status: providers.OutcomeSuccessful, Amount: amount, Metadata: map[string]any{"token": "1234"}}}
}

func failed(msg string) step {
	return step{result: providers.Result{Status: providers.OutcomeFailed, Message: msg}}
}

// ---- queue fakes ----

type fakeScheduler struct {
	mu       sync.Mutex
	jobs     []models.ReconciliationJob
	claimed  map[string]bool
	released []string
	err      error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{claimed: make(map[string]bool)}
}

func (f *fakeScheduler) Schedule(_ context.Context, job models.ReconciliationJob) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.claimed[job.PaymentReference] {
		return false, nil
	}
	f.claimed[job.PaymentReference] = true
	f.jobs = append(f.jobs, job)
	return true, nil
}

func (f *fakeScheduler) Release(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, ref)
	f.released = append(f.released, ref)
	return nil
}

type fakeLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	ttls   []time.Duration
	failed error
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]bool)} }

func (l *fakeLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed != nil {
		return nil, l.failed
	}
	if l.held[key] {
		return nil, queue.ErrLocked
	}
	l.held[key] = true
	l.ttls = append(l.ttls, ttl)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

// ---- notifier fakes ----

type recordedEvent struct {
	eventType string
	body      []byte
}

type fakeSNS struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, _, eventType string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType: eventType, body: msg})
	return f.err
}

func (f *fakeSNS) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.eventType)
	}
	return out
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
	values map[string]float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{counts: make(map[string]int), values: make(map[string]float64)}
}

func (m *fakeMetrics) RecordCount(_ context.Context, name string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
	return nil
}

func (m *fakeMetrics) RecordValue(_ context.Context, name string, v float64, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] += v
	return nil
}

func (m *fakeMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

var errTransport = errors.New("dial tcp: connection refused")
