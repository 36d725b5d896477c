package order

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kitchen-checkout/internal/domain/catalog"
	"github.com/xenking/kitchen-checkout/internal/domain/discount"
	"github.com/xenking/kitchen-checkout/internal/domain/loyalty"
	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
	"github.com/xenking/kitchen-checkout/internal/domain/tax"
)

// --- Mock implementations ---

type mockCatalog struct {
	items map[string]*catalog.Item
}

func (m *mockCatalog) List(_ context.Context) ([]catalog.Item, error) {
	return nil, nil
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*catalog.Item, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return item, nil
}

func (m *mockCatalog) Upsert(_ context.Context, _ *catalog.Item) error {
	return nil
}

type mockDiscountRepo struct {
	mu    sync.Mutex
	rules map[string]*discount.Rule
}

func (m *mockDiscountRepo) FindByCode(_ context.Context, code string) (*discount.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[code]
	if !ok {
		return nil, discount.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockDiscountRepo) Upsert(_ context.Context, r *discount.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.Code] = r
	return nil
}

func (m *mockDiscountRepo) uses(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[code].Uses
}

type mockTaxRepo struct {
	configs []tax.Config
	err     error
}

func (m *mockTaxRepo) ActiveConfigs(_ context.Context, _ string) ([]tax.Config, error) {
	return m.configs, m.err
}

func (m *mockTaxRepo) Upsert(_ context.Context, _ *tax.Config) error {
	return nil
}

type mockLoyaltyRepo struct {
	mu       sync.Mutex
	balances map[string]int64
}

func (m *mockLoyaltyRepo) Balance(_ context.Context, customerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[customerID]
	if !ok {
		return 0, loyalty.ErrAccountNotFound
	}
	return b, nil
}

func (m *mockLoyaltyRepo) balance(customerID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[customerID]
}

// mockDraftStore keeps JSON copies of drafts so callers never share memory
// with the stored value.
type mockDraftStore struct {
	mu     sync.Mutex
	drafts map[string][]byte
}

func newMockDraftStore() *mockDraftStore {
	return &mockDraftStore{drafts: make(map[string][]byte)}
}

func (m *mockDraftStore) Create(_ context.Context, d *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.Version = 1
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	m.drafts[d.ID] = data
	return nil
}

func (m *mockDraftStore) Get(_ context.Context, id string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.drafts[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (m *mockDraftStore) Save(_ context.Context, d *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.drafts[d.ID]
	if !ok {
		return ErrDraftNotFound
	}
	var stored Draft
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.Version != d.Version {
		return ErrDraftConflict
	}
	d.Version++
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	m.drafts[d.ID] = data
	return nil
}

func (m *mockDraftStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, id)
	return nil
}

// put overwrites a stored draft, bypassing the version check.
func (m *mockDraftStore) put(t *testing.T, d *Draft) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(d)
	require.NoError(t, err)
	m.drafts[d.ID] = data
}

// mockOrderStore applies the discount usage increment, the points debit and
// the insert atomically, and deduplicates by idempotency key.
type mockOrderStore struct {
	mu        sync.Mutex
	discounts *mockDiscountRepo
	loyalty   *mockLoyaltyRepo
	receipts  map[string]Receipt
	orders    map[string]*pricing.PricedOrder
	failNext  []error
	lookupErr error
	onSubmit  func(ctx context.Context)
	calls     int
}

func newMockOrderStore(discounts *mockDiscountRepo, loyalty *mockLoyaltyRepo) *mockOrderStore {
	return &mockOrderStore{
		discounts: discounts,
		loyalty:   loyalty,
		receipts:  make(map[string]Receipt),
		orders:    make(map[string]*pricing.PricedOrder),
	}
}

func (m *mockOrderStore) Submit(ctx context.Context, req SubmitRequest) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.onSubmit != nil {
		m.onSubmit(ctx)
	}
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		return nil, err
	}
	if r, ok := m.receipts[req.IdempotencyKey]; ok {
		r.Replayed = true
		return &r, nil
	}

	o := req.Order
	if o.Discount != nil {
		m.discounts.mu.Lock()
		rule := m.discounts.rules[o.Discount.Code]
		if rule.MaxUses != nil && rule.Uses >= *rule.MaxUses {
			m.discounts.mu.Unlock()
			return nil, discount.ErrUsageExhausted
		}
		m.discounts.mu.Unlock()
	}
	if o.Loyalty != nil {
		if b := m.loyalty.balance(o.Loyalty.CustomerID); b < o.Loyalty.Points {
			return nil, &loyalty.InsufficientBalanceError{CustomerID: o.Loyalty.CustomerID, Requested: o.Loyalty.Points, Balance: b}
		}
	}

	if o.Discount != nil {
		m.discounts.mu.Lock()
		m.discounts.rules[o.Discount.Code].Uses++
		m.discounts.mu.Unlock()
	}
	if o.Loyalty != nil {
		m.loyalty.mu.Lock()
		m.loyalty.balances[o.Loyalty.CustomerID] -= o.Loyalty.Points
		m.loyalty.mu.Unlock()
	}
	r := Receipt{OrderID: fmt.Sprintf("order-%d", len(m.orders)+1), CreatedAt: testNow}
	m.receipts[req.IdempotencyKey] = r
	stored := *o
	stored.ID = r.OrderID
	stored.CreatedAt = r.CreatedAt
	m.orders[r.OrderID] = &stored
	return &r, nil
}

func (m *mockOrderStore) Lookup(_ context.Context, key string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	r, ok := m.receipts[key]
	if !ok {
		return nil, ErrOrderNotFound
	}
	r.Replayed = true
	return &r, nil
}

func (m *mockOrderStore) Get(_ context.Context, id string) (*pricing.PricedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (m *mockOrderStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []*pricing.PricedOrder
	err    error
}

func (m *mockPublisher) OrderFinalized(_ context.Context, o *pricing.PricedOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, o)
	return m.err
}

// --- Helpers ---

type fixture struct {
	svc       *Service
	drafts    *mockDraftStore
	discounts *mockDiscountRepo
	taxes     *mockTaxRepo
	loyalty   *mockLoyaltyRepo
	orders    *mockOrderStore
	events    *mockPublisher
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		drafts: newMockDraftStore(),
		discounts: &mockDiscountRepo{rules: map[string]*discount.Rule{
			"SAVE10": {
				ID:                 "d1",
				Code:               "SAVE10",
				Type:               discount.TypePercentage,
				Value:              dec("10"),
				MinimumOrderAmount: dec("400"),
				Active:             true,
			},
		}},
		taxes: &mockTaxRepo{configs: []tax.Config{
			{ID: "t1", Name: "GST", Rate: dec("5"), AppliesTo: tax.AppliesToAll, Active: true, Position: 1},
		}},
		loyalty: &mockLoyaltyRepo{balances: map[string]int64{"c-low": 50, "c-rich": 1000, "c-whale": 10000}},
		events:  &mockPublisher{},
	}
	f.orders = newMockOrderStore(f.discounts, f.loyalty)

	menu := &mockCatalog{items: map[string]*catalog.Item{
		"caesar":  {ID: "caesar", Name: "Caesar Salad", Price: dec("250.00"), Category: "salads", Available: true},
		"risotto": {ID: "risotto", Name: "Risotto", Price: dec("320.00"), Category: "mains", Available: false},
	}}

	svc, err := NewService(Deps{
		Catalog:   menu,
		Discounts: discount.NewRepoValidator(f.discounts),
		Taxes:     tax.NewCalculator(f.taxes),
		Loyalty:   loyalty.NewService(f.loyalty),
		Drafts:    f.drafts,
		Orders:    f.orders,
		Events:    f.events,
	}, Options{})
	require.NoError(t, err)

	var seq int
	var mu sync.Mutex
	svc.now = func() time.Time { return testNow }
	svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("draft-%d", seq)
	}
	f.svc = svc
	return f
}

// cart opens a draft with two Caesar salads.
func (f *fixture) cart(t *testing.T) *Draft {
	t.Helper()
	ctx := context.Background()
	d, err := f.svc.NewDraft(ctx, NewDraftRequest{Category: "dine_in"})
	require.NoError(t, err)
	d, err = f.svc.SetLine(ctx, d.ID, "caesar", 2)
	require.NoError(t, err)
	return d
}

func (f *fixture) draft(t *testing.T, id string) *Draft {
	t.Helper()
	d, err := f.drafts.Get(context.Background(), id)
	require.NoError(t, err)
	return d
}

// --- Tests ---

func TestService_NewDraft(t *testing.T) {
	f := newFixture(t)
	customer := "c-rich"

	d, err := f.svc.NewDraft(context.Background(), NewDraftRequest{CustomerID: &customer, CreatedBy: "staff-1"})

	require.NoError(t, err)
	assert.Equal(t, "draft-1", d.ID)
	assert.Equal(t, StateEmpty, d.State)
	assert.Equal(t, "dine_in", d.Category)
	assert.Equal(t, int64(1), f.draft(t, d.ID).Version)
}

func TestService_SetLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.NewDraft(ctx, NewDraftRequest{})
	require.NoError(t, err)

	t.Run("priced from catalog", func(t *testing.T) {
		got, err := f.svc.SetLine(ctx, d.ID, "caesar", 2)

		require.NoError(t, err)
		require.Len(t, got.Lines, 1)
		assert.Equal(t, "Caesar Salad", got.Lines[0].Name)
		assert.True(t, dec("250.00").Equal(got.Lines[0].UnitPrice))
		assert.Equal(t, StateHasLines, got.State)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := f.svc.SetLine(ctx, d.ID, "ghost", 1)

		var unErr *ItemUnavailableError
		require.ErrorAs(t, err, &unErr)
		assert.Equal(t, "ghost", unErr.ItemID)
	})

	t.Run("unavailable item", func(t *testing.T) {
		_, err := f.svc.SetLine(ctx, d.ID, "risotto", 1)

		var unErr *ItemUnavailableError
		require.ErrorAs(t, err, &unErr)
		assert.Equal(t, "risotto", unErr.ItemID)
	})

	t.Run("zero quantity", func(t *testing.T) {
		_, err := f.svc.SetLine(ctx, d.ID, "caesar", 0)

		var lineErr *pricing.InvalidLineItemError
		require.ErrorAs(t, err, &lineErr)
		assert.Equal(t, 2, f.draft(t, d.ID).Lines[0].Quantity)
	})

	t.Run("missing draft", func(t *testing.T) {
		_, err := f.svc.SetLine(ctx, "nope", "caesar", 1)
		require.ErrorIs(t, err, ErrDraftNotFound)
	})
}

func TestService_CheckoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)

	d, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, StatePromoApplied, d.State)
	assert.Equal(t, 0, f.discounts.uses("SAVE10"))

	quote, err := f.svc.Quote(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, quote.ID)
	assert.True(t, dec("500.00").Equal(quote.Subtotal))
	assert.True(t, dec("50.00").Equal(quote.DiscountAmount))
	assert.True(t, dec("22.50").Equal(quote.TaxTotal))
	assert.True(t, dec("472.50").Equal(quote.TotalAmount))

	o, err := f.svc.Submit(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "order-1", o.ID)
	assert.True(t, dec("472.50").Equal(o.TotalAmount))
	require.Len(t, o.TaxBreakdown, 1)
	assert.Equal(t, "GST", o.TaxBreakdown[0].Name)

	assert.Equal(t, 1, f.discounts.uses("SAVE10"))
	final := f.draft(t, d.ID)
	assert.Equal(t, StateFinalized, final.State)
	assert.Equal(t, "order-1", final.OrderID)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, "order-1", f.events.events[0].ID)

	stored, err := f.svc.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, dec("472.50").Equal(stored.TotalAmount))
}

func TestService_ApplyDiscount_BelowMinimum(t *testing.T) {
	f := newFixture(t)
	f.discounts.rules["SAVE10"].MinimumOrderAmount = dec("600")
	d := f.cart(t)

	_, err := f.svc.ApplyDiscount(context.Background(), d.ID, "SAVE10")

	var inErr *discount.IneligibleError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, discount.ReasonBelowMinimum, inErr.Reason)
	assert.Equal(t, "below minimum order amount", string(inErr.Reason))

	got := f.draft(t, d.ID)
	assert.Equal(t, StateHasLines, got.State)
	assert.Nil(t, got.Discount)
	require.NotNil(t, got.Rejection)
	assert.Equal(t, "SAVE10", got.Rejection.Code)
	assert.Equal(t, 0, f.discounts.uses("SAVE10"))
}

func TestService_ApplyDiscount_DoesNotConsumeUsage(t *testing.T) {
	f := newFixture(t)
	maxUses := 1
	f.discounts.rules["SAVE10"].MaxUses = &maxUses
	ctx := context.Background()

	for range 3 {
		d := f.cart(t)
		_, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
		require.NoError(t, err)
	}

	assert.Equal(t, 0, f.discounts.uses("SAVE10"))
}

func TestService_ApplyDiscount_EmptyDraft(t *testing.T) {
	f := newFixture(t)
	d, err := f.svc.NewDraft(context.Background(), NewDraftRequest{})
	require.NoError(t, err)

	_, err = f.svc.ApplyDiscount(context.Background(), d.ID, "SAVE10")

	var trErr *TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, StateEmpty, f.draft(t, d.ID).State)
}

func TestService_LineEditClearsDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	_, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
	require.NoError(t, err)

	d, err = f.svc.SetLine(ctx, d.ID, "caesar", 3)
	require.NoError(t, err)

	assert.Equal(t, StateHasLines, d.State)
	assert.Nil(t, d.Discount)
	quote, err := f.svc.Quote(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(quote.DiscountAmount))
	assert.True(t, dec("787.50").Equal(quote.TotalAmount))
}

func TestService_RedeemPoints(t *testing.T) {
	t.Run("insufficient balance", func(t *testing.T) {
		f := newFixture(t)
		d := f.cart(t)

		_, err := f.svc.RedeemPoints(context.Background(), d.ID, "c-low", 100)

		var balErr *loyalty.InsufficientBalanceError
		require.ErrorAs(t, err, &balErr)
		assert.Equal(t, int64(50), balErr.Balance)
		assert.Equal(t, int64(50), f.loyalty.balance("c-low"))
		assert.Nil(t, f.draft(t, d.ID).Loyalty)
	})

	t.Run("combined with promo", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		d := f.cart(t)
		_, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
		require.NoError(t, err)

		_, err = f.svc.RedeemPoints(ctx, d.ID, "c-rich", 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), f.loyalty.balance("c-rich"))

		quote, err := f.svc.Quote(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, dec("50.00").Equal(quote.PromoDiscount))
		assert.True(t, dec("10.00").Equal(quote.LoyaltyDiscount))
		assert.True(t, dec("22.00").Equal(quote.TaxTotal))
		assert.True(t, dec("462.00").Equal(quote.TotalAmount))

		_, err = f.svc.Submit(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(900), f.loyalty.balance("c-rich"))
	})

	t.Run("capped by remaining subtotal", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		d := f.cart(t)

		_, err := f.svc.RedeemPoints(ctx, d.ID, "c-whale", 8000)
		require.NoError(t, err)

		o, err := f.svc.Submit(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, dec("500.00").Equal(o.DiscountAmount))
		assert.True(t, decimal.Zero.Equal(o.TotalAmount))
		require.NotNil(t, o.Loyalty)
		assert.Equal(t, int64(5000), o.Loyalty.Points)
		assert.Equal(t, int64(5000), f.loyalty.balance("c-whale"))
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newFixture(t)
		d := f.cart(t)

		_, err := f.svc.RedeemPoints(context.Background(), d.ID, "c-nobody", 10)

		require.ErrorIs(t, err, loyalty.ErrAccountNotFound)
		assert.Nil(t, f.draft(t, d.ID).Loyalty)
	})

	t.Run("zero points clears the request", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		d := f.cart(t)
		_, err := f.svc.RedeemPoints(ctx, d.ID, "c-rich", 10)
		require.NoError(t, err)

		d, err = f.svc.RedeemPoints(ctx, d.ID, "c-rich", 0)

		require.NoError(t, err)
		assert.Nil(t, d.Loyalty)
	})
}

func TestService_Quote_NoTaxConfigs(t *testing.T) {
	f := newFixture(t)
	f.taxes.configs = nil
	ctx := context.Background()
	d := f.cart(t)
	_, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
	require.NoError(t, err)

	quote, err := f.svc.Quote(ctx, d.ID)

	require.NoError(t, err)
	assert.Empty(t, quote.TaxBreakdown)
	assert.True(t, decimal.Zero.Equal(quote.TaxTotal))
	assert.True(t, dec("450.00").Equal(quote.TotalAmount))
	assert.Empty(t, quote.Warnings)
}

func TestService_Quote_TaxUnavailable(t *testing.T) {
	f := newFixture(t)
	f.taxes.err = errors.New("dial tcp: connection refused")
	d := f.cart(t)

	quote, err := f.svc.Quote(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Empty(t, quote.TaxBreakdown)
	assert.True(t, dec("500.00").Equal(quote.TotalAmount))
	require.Len(t, quote.Warnings, 1)
	assert.Contains(t, quote.Warnings[0], "tax service unavailable")
}

func TestService_Quote_EmptyDraft(t *testing.T) {
	f := newFixture(t)
	d, err := f.svc.NewDraft(context.Background(), NewDraftRequest{})
	require.NoError(t, err)

	_, err = f.svc.Quote(context.Background(), d.ID)
	require.ErrorIs(t, err, pricing.ErrEmptyOrder)
}

func TestService_Submit_RetryableFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	_, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
	require.NoError(t, err)
	_, err = f.svc.RedeemPoints(ctx, d.ID, "c-rich", 100)
	require.NoError(t, err)
	f.orders.failNext = []error{&SubmissionError{Retryable: true, Err: errors.New("connection reset")}}

	_, err = f.svc.Submit(ctx, d.ID)

	require.True(t, IsRetryable(err))
	got := f.draft(t, d.ID)
	assert.Equal(t, StatePromoApplied, got.State)
	assert.NotNil(t, got.Discount)
	assert.Equal(t, 0, f.discounts.uses("SAVE10"))
	assert.Equal(t, int64(1000), f.loyalty.balance("c-rich"))

	o, err := f.svc.Submit(ctx, d.ID)

	require.NoError(t, err)
	assert.True(t, dec("462.00").Equal(o.TotalAmount))
	assert.Equal(t, 1, f.discounts.uses("SAVE10"))
	assert.Equal(t, int64(900), f.loyalty.balance("c-rich"))
	assert.Equal(t, 1, f.orders.count())
}

func TestService_Submit_NonRetryableFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	f.orders.failNext = []error{errors.New("check constraint violated")}

	_, err := f.svc.Submit(ctx, d.ID)

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.False(t, subErr.Retryable)
	got := f.draft(t, d.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.FailureReason, "check constraint")

	_, err = f.svc.Submit(ctx, d.ID)
	require.ErrorIs(t, err, ErrDraftClosed)
	assert.Empty(t, f.events.events)
}

func TestService_Submit_ReplaysReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	_, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
	require.NoError(t, err)

	first, err := f.svc.Submit(ctx, d.ID)
	require.NoError(t, err)

	// Simulate a crash after the store committed but before the draft was
	// marked finalized.
	stuck := f.draft(t, d.ID)
	stuck.State = StatePromoApplied
	stuck.OrderID = ""
	f.drafts.put(t, stuck)

	second, err := f.svc.Submit(ctx, d.ID)

	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.discounts.uses("SAVE10"))
	assert.Equal(t, 1, f.orders.count())
	assert.Len(t, f.events.events, 1)
	assert.Equal(t, StateFinalized, f.draft(t, d.ID).State)
}

func TestService_Submit_ReplayAfterCountersConsumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maxUses := 1
	f.discounts.rules["SAVE10"].MaxUses = &maxUses
	d := f.cart(t)
	_, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
	require.NoError(t, err)
	_, err = f.svc.RedeemPoints(ctx, d.ID, "c-rich", 1000)
	require.NoError(t, err)

	first, err := f.svc.Submit(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), f.loyalty.balance("c-rich"))
	require.Equal(t, 1, f.discounts.uses("SAVE10"))

	// The order committed but the draft never saw it: the code is now
	// exhausted and the balance is spent by that very order.
	stuck := f.draft(t, d.ID)
	stuck.State = StatePromoApplied
	stuck.OrderID = ""
	f.drafts.put(t, stuck)

	second, err := f.svc.Submit(ctx, d.ID)

	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	assert.Equal(t, int64(0), f.loyalty.balance("c-rich"))
	assert.Equal(t, 1, f.discounts.uses("SAVE10"))
	assert.Equal(t, 1, f.orders.count())
	assert.Len(t, f.events.events, 1)
	got := f.draft(t, d.ID)
	assert.Equal(t, StateFinalized, got.State)
	assert.Equal(t, first.ID, got.OrderID)
	assert.NotNil(t, got.Discount)
}

func TestService_Submit_ReplayReturnsStoredOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)

	first, err := f.svc.Submit(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, dec("525.00").Equal(first.TotalAmount))

	// The draft became editable again without learning about the order,
	// and the cart changed before the retry.
	stuck := f.draft(t, d.ID)
	stuck.State = StateHasLines
	stuck.OrderID = ""
	f.drafts.put(t, stuck)
	_, err = f.svc.SetLine(ctx, d.ID, "caesar", 5)
	require.NoError(t, err)

	second, err := f.svc.Submit(ctx, d.ID)

	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, dec("525.00").Equal(second.TotalAmount), "got %s", second.TotalAmount)
	require.Len(t, second.Lines, 1)
	assert.Equal(t, 2, second.Lines[0].Quantity)
	assert.Equal(t, testNow, second.CreatedAt)
	assert.Equal(t, 1, f.orders.count())
	assert.Equal(t, StateFinalized, f.draft(t, d.ID).State)
}

func TestService_Submit_StoreReplayReturnsStoredOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	first, err := f.svc.Submit(ctx, d.ID)
	require.NoError(t, err)

	stuck := f.draft(t, d.ID)
	stuck.State = StateHasLines
	stuck.OrderID = ""
	f.drafts.put(t, stuck)
	_, err = f.svc.SetLine(ctx, d.ID, "caesar", 5)
	require.NoError(t, err)
	// Another attempt commits between the lookup and the insert.
	f.orders.lookupErr = ErrOrderNotFound

	second, err := f.svc.Submit(ctx, d.ID)

	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount), "got %s", second.TotalAmount)
	assert.Equal(t, 2, f.orders.calls)
	assert.Len(t, f.events.events, 1)
	assert.Equal(t, StateFinalized, f.draft(t, d.ID).State)
}

func TestService_Submit_LookupFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	f.orders.lookupErr = errors.New("connection reset by peer")

	_, err := f.svc.Submit(ctx, d.ID)

	require.True(t, IsRetryable(err))
	assert.Equal(t, 0, f.orders.calls)
	assert.Equal(t, StateHasLines, f.draft(t, d.ID).State)

	f.orders.lookupErr = nil
	o, err := f.svc.Submit(ctx, d.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
}

func TestService_Submit_DiscountExhaustedAtCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	_, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
	require.NoError(t, err)
	f.orders.failNext = []error{discount.ErrUsageExhausted}

	_, err = f.svc.Submit(ctx, d.ID)

	var inErr *discount.IneligibleError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, discount.ReasonExhausted, inErr.Reason)
	assert.Equal(t, "SAVE10", inErr.Code)
	got := f.draft(t, d.ID)
	assert.Equal(t, StateHasLines, got.State)
	assert.Nil(t, got.Discount)
	require.NotNil(t, got.Rejection)
	assert.Equal(t, discount.ReasonExhausted, got.Rejection.Reason)
}

func TestService_Submit_DiscountNoLongerEligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	_, err := f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
	require.NoError(t, err)
	f.discounts.rules["SAVE10"].Active = false

	_, err = f.svc.Submit(ctx, d.ID)

	var inErr *discount.IneligibleError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, discount.ReasonInactive, inErr.Reason)
	assert.Equal(t, 0, f.orders.calls)
	assert.Equal(t, StateHasLines, f.draft(t, d.ID).State)
}

func TestService_Submit_BalanceSpentElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	_, err := f.svc.RedeemPoints(ctx, d.ID, "c-low", 40)
	require.NoError(t, err)
	f.loyalty.balances["c-low"] = 10

	_, err = f.svc.Submit(ctx, d.ID)

	var balErr *loyalty.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, 0, f.orders.calls)
	assert.Equal(t, int64(10), f.loyalty.balance("c-low"))
	assert.Equal(t, StateHasLines, f.draft(t, d.ID).State)
}

func TestService_Submit_EmptyDraft(t *testing.T) {
	f := newFixture(t)
	d, err := f.svc.NewDraft(context.Background(), NewDraftRequest{})
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), d.ID)

	var trErr *TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, 0, f.orders.calls)
}

func TestService_Submit_IgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	d := f.cart(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var storeCtxErr error
	f.orders.onSubmit = func(storeCtx context.Context) {
		cancel()
		storeCtxErr = storeCtx.Err()
	}

	_, err := f.svc.Submit(ctx, d.ID)

	require.NoError(t, err)
	require.NoError(t, storeCtxErr)
	assert.Equal(t, StateFinalized, f.draft(t, d.ID).State)
}

func TestService_Submit_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker unavailable")
	d := f.cart(t)

	o, err := f.svc.Submit(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, StateFinalized, f.draft(t, d.ID).State)
}

func TestService_Submit_Concurrent(t *testing.T) {
	f := newFixture(t)
	d := f.cart(t)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		errs []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(context.Background(), d.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ok++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.orders.count())
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrDraftBusy) || errors.Is(err, ErrDraftClosed) || errors.Is(err, ErrDraftConflict), "unexpected error: %v", err)
	}
}

func TestService_BusyDraftRejectsEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)
	pending := f.draft(t, d.ID)
	require.NoError(t, pending.BeginPromo())
	pending.UpdatedAt = testNow
	f.drafts.put(t, pending)

	_, err := f.svc.SetLine(ctx, d.ID, "caesar", 1)
	require.ErrorIs(t, err, ErrDraftBusy)
	_, err = f.svc.ApplyDiscount(ctx, d.ID, "SAVE10")
	require.ErrorIs(t, err, ErrDraftBusy)
	_, err = f.svc.Submit(ctx, d.ID)
	require.ErrorIs(t, err, ErrDraftBusy)

	// Once the attempt is stale the draft becomes editable again.
	f.svc.now = func() time.Time { return testNow.Add(time.Hour) }
	got, err := f.svc.SetLine(ctx, d.ID, "caesar", 1)
	require.NoError(t, err)
	assert.Equal(t, StateHasLines, got.State)
}

func TestService_Abandon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.cart(t)

	require.NoError(t, f.svc.Abandon(ctx, d.ID))

	_, err := f.svc.Get(ctx, d.ID)
	require.ErrorIs(t, err, ErrDraftNotFound)

	done := f.cart(t)
	_, err = f.svc.Submit(ctx, done.ID)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.Abandon(ctx, done.ID), ErrDraftClosed)
}

func TestService_SetNote(t *testing.T) {
	f := newFixture(t)
	d := f.cart(t)

	d, err := f.svc.SetNote(context.Background(), d.ID, "  no croutons ")

	require.NoError(t, err)
	assert.Equal(t, "no croutons", d.Note)
	quote, err := f.svc.Quote(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, "no croutons", quote.Note)
}
