package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/yashrajoria/pix-payment-service/models"
	"github.com/yashrajoria/pix-payment-service/providers"
	"github.com/yashrajoria/pix-payment-service/repository"
	"go.uber.org/zap"
)

// --- In-memory stores ---

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]models.Order
	// beforeUpdate runs once before the next Update, outside the lock.
	beforeUpdate func()
	// updateErrs are returned, in order, by the next Update calls.
	updateErrs []error
	updates    int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[uuid.UUID]models.Order{}}
}

func (r *memOrderRepo) Create(_ context.Context, o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = *o
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (r *memOrderRepo) FindByExternalPaymentID(_ context.Context, ext string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ExternalPaymentID == ext {
			found := o
			return &found, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (r *memOrderRepo) Update(_ context.Context, o *models.Order, expected models.OrderStatus) error {
	if hook := r.beforeUpdate; hook != nil {
		r.beforeUpdate = nil
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updateErrs) > 0 {
		err := r.updateErrs[0]
		r.updateErrs = r.updateErrs[1:]
		return err
	}
	stored, ok := r.orders[o.ID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if stored.Status != expected {
		return repository.ErrStatusConflict
	}
	r.updates++
	r.orders[o.ID] = *o
	return nil
}

func (r *memOrderRepo) get(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		t.Fatalf("order %s not stored", id)
	}
	return o
}

func (r *memOrderRepo) set(o models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
}

type memSaleRepo struct {
	mu        sync.Mutex
	sales     map[string]models.Sale
	createErr error
	creates   int
	// staleLookup makes every lookup miss, as when another writer commits
	// between the existence check and the insert.
	staleLookup bool
}

func newMemSaleRepo() *memSaleRepo {
	return &memSaleRepo{sales: map[string]models.Sale{}}
}

func (r *memSaleRepo) Create(_ context.Context, s *models.Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.sales[s.ExternalPaymentID]; ok {
		return repository.ErrDuplicateSale
	}
	r.sales[s.ExternalPaymentID] = *s
	return nil
}

func (r *memSaleRepo) FindByExternalPaymentID(_ context.Context, ext string) (*models.Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[ext]
	if !ok || r.staleLookup {
		return nil, repository.ErrSaleNotFound
	}
	return &s, nil
}

func (r *memSaleRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sales)
}

// --- Mocks ---

type MockPaymentProcessor struct{ mock.Mock }

func (m *MockPaymentProcessor) Name() string { return "mock" }

func (m *MockPaymentProcessor) CreatePixCharge(ctx context.Context, req providers.ChargeRequest) (*providers.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Charge), args.Error(1)
}

func (m *MockPaymentProcessor) GetCharge(ctx context.Context, chargeID string) (*providers.Charge, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Charge), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (p *recordingPublisher) PublishPaymentEvent(_ context.Context, e models.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []models.PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.PaymentEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// --- Fixture ---

type fixture struct {
	orders    *memOrderRepo
	sales     *memSaleRepo
	processor *MockPaymentProcessor
	events    *recordingPublisher
	lifecycle *Lifecycle
	now       time.Time
}

func newFixture() *fixture {
	f := &fixture{
		orders:    newMemOrderRepo(),
		sales:     newMemSaleRepo(),
		processor: new(MockPaymentProcessor),
		events:    &recordingPublisher{},
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.lifecycle = NewLifecycle(f.orders, f.sales, f.events, NoopMetrics(), zap.NewNop(),
		WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func pendingCharge(id string) *providers.Charge {
	return &providers.Charge{
		ID:            id,
		Status:        providers.StatusPending,
		StatusDetail:  providers.DetailWaitingPayment,
		CopyPasteCode: "00020126580014br.gov.bcb.pix0136" + id,
		QRCodeBase64:  "iVBORw0KGgo=",
	}
}

func chargeWithStatus(id, status string) *providers.Charge {
	return &providers.Charge{ID: id, Status: status}
}
