package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-checkout/internal/domain/catalog"
	"github.com/xenking/kitchen-checkout/internal/domain/discount"
	"github.com/xenking/kitchen-checkout/internal/domain/loyalty"
	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

// maxSaveAttempts bounds retries of a local mutation that lost a version race.
const maxSaveAttempts = 3

// TaxCalculator computes the tax breakdown for a taxable base. A returned
// error is a warning: the breakdown is still usable.
type TaxCalculator interface {
	Calculate(ctx context.Context, base decimal.Decimal, category string) (pricing.Breakdown, error)
}

// BalanceChecker verifies that a customer holds enough loyalty points.
type BalanceChecker interface {
	Check(ctx context.Context, customerID string, points int64) (int64, error)
}

// Deps lists the collaborators of a Service.
type Deps struct {
	Catalog   catalog.Repository
	Discounts discount.Validator
	Taxes     TaxCalculator
	Loyalty   BalanceChecker
	Drafts    DraftStore
	Orders    Store
	Events    Publisher
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	LoyaltyRate     loyalty.Rate
	DefaultCategory string
	// StaleAfter is how long a draft may stay busy before it is reverted.
	StaleAfter     time.Duration
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if !o.LoyaltyRate.PointValue().IsPositive() {
		o.LoyaltyRate = loyalty.DefaultRate
	}
	if o.DefaultCategory == "" {
		o.DefaultCategory = "dine_in"
	}
	if o.StaleAfter == 0 {
		o.StaleAfter = 2 * time.Minute
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
}

// NewDraftRequest holds the input for opening a draft.
type NewDraftRequest struct {
	Category   string
	CustomerID *string
	Note       string
	CreatedBy  string
}

// Service drives drafts through their lifecycle and finalizes them into
// persisted orders.
type Service struct {
	catalog   catalog.Repository
	discounts discount.Validator
	taxes     TaxCalculator
	loyalty   BalanceChecker
	drafts    DraftStore
	orders    Store
	events    Publisher

	rate            loyalty.Rate
	defaultCategory string
	staleAfter      time.Duration
	now             func() time.Time
	newID           func() string

	metrics *metrics
	tracer  trace.Tracer
}

// NewService creates an order Service.
func NewService(deps Deps, opts Options) (*Service, error) {
	opts.setDefaults()
	m, err := newMetrics(opts.MeterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "init metrics")
	}
	return &Service{
		catalog:   deps.Catalog,
		discounts: deps.Discounts,
		taxes:     deps.Taxes,
		loyalty:   deps.Loyalty,
		drafts:    deps.Drafts,
		orders:    deps.Orders,
		events:    deps.Events,

		rate:            opts.LoyaltyRate,
		defaultCategory: opts.DefaultCategory,
		staleAfter:      opts.StaleAfter,
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },

		metrics: m,
		tracer:  opts.TracerProvider.Tracer(instrumentationName),
	}, nil
}

// NewDraft opens an empty draft.
func (s *Service) NewDraft(ctx context.Context, req NewDraftRequest) (*Draft, error) {
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = s.defaultCategory
	}
	d := NewDraft(s.newID(), category, s.now())
	d.CustomerID = req.CustomerID
	d.Note = req.Note
	d.CreatedBy = req.CreatedBy
	if err := s.drafts.Create(ctx, d); err != nil {
		return nil, errors.Wrap(err, "create draft")
	}
	return d, nil
}

// Get returns a draft by ID.
func (s *Service) Get(ctx context.Context, draftID string) (*Draft, error) {
	return s.load(ctx, draftID)
}

// GetOrder returns a finalized order by ID.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*pricing.PricedOrder, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// Abandon deletes a draft that has not started submitting.
func (s *Service) Abandon(ctx context.Context, draftID string) error {
	d, err := s.load(ctx, draftID)
	if err != nil {
		return err
	}
	switch {
	case d.State == StateSubmitting:
		return ErrDraftBusy
	case d.State.IsTerminal():
		return ErrDraftClosed
	}
	if err := s.drafts.Delete(ctx, draftID); err != nil {
		return errors.Wrap(err, "delete draft")
	}
	return nil
}

// SetLine puts qty of a menu item on the draft, replacing any existing line
// for the same item. The line is priced from the catalog.
func (s *Service) SetLine(ctx context.Context, draftID, itemID string, qty int) (*Draft, error) {
	if qty <= 0 {
		return nil, &pricing.InvalidLineItemError{ItemID: itemID, Reason: "quantity must be greater than 0"}
	}
	item, err := s.catalog.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &ItemUnavailableError{ItemID: itemID, Reason: "not on the menu"}
		}
		return nil, errors.Wrap(err, "get menu item")
	}
	if !item.Available {
		return nil, &ItemUnavailableError{ItemID: itemID, Reason: "not available"}
	}
	line := pricing.Line{
		ItemID:    item.ID,
		Name:      item.Name,
		Quantity:  qty,
		UnitPrice: item.Price,
	}
	return s.update(ctx, draftID, func(d *Draft) error {
		return d.SetLine(line)
	})
}

// RemoveLine drops the line for itemID.
func (s *Service) RemoveLine(ctx context.Context, draftID, itemID string) (*Draft, error) {
	return s.update(ctx, draftID, func(d *Draft) error {
		return d.RemoveLine(itemID)
	})
}

// ClearDiscount removes the applied discount code.
func (s *Service) ClearDiscount(ctx context.Context, draftID string) (*Draft, error) {
	return s.update(ctx, draftID, func(d *Draft) error {
		return d.ClearPromo()
	})
}

// SetNote replaces the kitchen note.
func (s *Service) SetNote(ctx context.Context, draftID, note string) (*Draft, error) {
	return s.update(ctx, draftID, func(d *Draft) error {
		return d.SetNote(strings.TrimSpace(note))
	})
}

// ApplyDiscount validates code against the draft subtotal and applies it.
// An ineligible code is returned as *discount.IneligibleError and the draft
// stays in its previous state with the rejection recorded. Usage is not
// consumed until the order is submitted.
func (s *Service) ApplyDiscount(ctx context.Context, draftID, code string) (_ *Draft, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.ApplyDiscount",
		trace.WithAttributes(attribute.String("draft.id", draftID)),
	)
	defer func() { endSpan(span, rerr) }()

	code = strings.TrimSpace(code)
	d, err := s.update(ctx, draftID, func(d *Draft) error {
		return d.BeginPromo()
	})
	if err != nil {
		return nil, err
	}

	// The draft is PromoPending now; finish the attempt even if the caller
	// goes away.
	finishCtx := context.WithoutCancel(ctx)

	subtotal, err := pricing.ComputeSubtotal(d.Lines)
	if err != nil {
		_, _ = s.update(finishCtx, draftID, func(d *Draft) error { return d.AbortPromo() })
		return nil, err
	}

	app, err := s.discounts.Validate(ctx, code, subtotal)
	var ineligible *discount.IneligibleError
	switch {
	case errors.As(err, &ineligible):
		s.metrics.promoRejections.Add(finishCtx, 1,
			metric.WithAttributes(attribute.String("reason", string(ineligible.Reason))),
		)
		if _, uerr := s.update(finishCtx, draftID, func(d *Draft) error {
			return d.RejectPromo(code, ineligible.Reason)
		}); uerr != nil {
			return nil, uerr
		}
		return nil, err
	case err != nil:
		if _, uerr := s.update(finishCtx, draftID, func(d *Draft) error {
			return d.AbortPromo()
		}); uerr != nil {
			zctx.From(ctx).Warn("Revert draft after discount failure", zap.String("draft_id", draftID), zap.Error(uerr))
		}
		return nil, errors.Wrap(err, "validate discount")
	}

	return s.update(finishCtx, draftID, func(d *Draft) error {
		return d.ApplyPromo(*app)
	})
}

// RedeemPoints asks to pay part of the order with loyalty points. The
// customer's balance is checked but not debited; a request above the
// balance fails with *loyalty.InsufficientBalanceError and leaves the draft
// untouched. Zero points removes the request.
func (s *Service) RedeemPoints(ctx context.Context, draftID, customerID string, points int64) (*Draft, error) {
	if points == 0 {
		return s.update(ctx, draftID, func(d *Draft) error {
			return d.ClearLoyalty()
		})
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, errors.Wrap(loyalty.ErrAccountNotFound, "customer id is required")
	}
	if _, err := s.loyalty.Check(ctx, customerID, points); err != nil {
		return nil, err
	}
	return s.update(ctx, draftID, func(d *Draft) error {
		return d.SetLoyalty(LoyaltyRequest{CustomerID: customerID, Points: points})
	})
}

// Quote prices the draft as it stands without persisting anything.
func (s *Service) Quote(ctx context.Context, draftID string) (*pricing.PricedOrder, error) {
	d, err := s.load(ctx, draftID)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, d, false)
}

// Submit finalizes the draft into an order. The discount and loyalty
// redemption are re-checked, the order is priced and validated, and the
// order store persists it together with the discount usage and the points
// debit. The draft ID is the idempotency key, so a retried submission never
// applies side effects twice and returns the order exactly as it was stored.
//
// Validation failures leave the draft editable. Retryable store failures
// return a *SubmissionError with Retryable set and the draft can be
// submitted again; any other store failure moves the draft to Failed.
func (s *Service) Submit(ctx context.Context, draftID string) (_ *pricing.PricedOrder, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Submit",
		trace.WithAttributes(attribute.String("draft.id", draftID)),
	)
	defer func() { endSpan(span, rerr) }()

	d, err := s.update(ctx, draftID, func(d *Draft) error {
		return d.BeginSubmit()
	})
	if err != nil {
		return nil, err
	}

	// From here on the submission runs to completion regardless of the
	// caller's context.
	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx).With(zap.String("draft_id", draftID))

	// An earlier attempt may have committed without the draft learning about
	// it. The live discount and loyalty counters already include that order,
	// so it must be found before they are re-checked.
	prior, err := s.orders.Lookup(ctx, d.ID)
	switch {
	case err == nil:
		return s.replay(ctx, draftID, prior.OrderID)
	case !errors.Is(err, ErrOrderNotFound):
		return nil, s.submitFailed(ctx, draftID, &SubmissionError{
			Retryable: true,
			Err:       errors.Wrap(err, "lookup previous submission"),
		})
	}

	priced, err := s.price(ctx, d, true)
	if err != nil {
		var ineligible *discount.IneligibleError
		if errors.As(err, &ineligible) {
			s.rejectOnSubmit(ctx, draftID, ineligible)
			return nil, err
		}
		s.abortSubmit(ctx, draftID, err)
		return nil, err
	}
	priced.Round()

	receipt, err := s.orders.Submit(ctx, SubmitRequest{IdempotencyKey: d.ID, Order: priced})
	if err != nil {
		return nil, s.submitFailed(ctx, draftID, err)
	}
	if receipt.Replayed {
		return s.replay(ctx, draftID, receipt.OrderID)
	}
	priced.ID = receipt.OrderID
	priced.CreatedAt = receipt.CreatedAt
	s.finalize(ctx, draftID, receipt.OrderID)

	s.metrics.finalized.Add(ctx, 1, metric.WithAttributes(attribute.String("category", priced.Category)))
	s.metrics.orderTotal.Record(ctx, priced.TotalAmount.InexactFloat64())
	if priced.Loyalty != nil && priced.Loyalty.Points > 0 {
		s.metrics.pointsRedeemed.Add(ctx, priced.Loyalty.Points)
	}
	lg.Info("Order finalized",
		zap.String("order_id", receipt.OrderID),
		zap.String("total", priced.TotalAmount.StringFixed(pricing.MoneyPlaces)),
	)

	if err := s.events.OrderFinalized(ctx, priced); err != nil {
		lg.Warn("Publish order finalized", zap.String("order_id", receipt.OrderID), zap.Error(err))
	}
	return priced, nil
}

// finalize marks the draft finalized. A failure is only logged: the order
// is persisted and a later submit replays it.
func (s *Service) finalize(ctx context.Context, draftID, orderID string) {
	if _, err := s.update(ctx, draftID, func(d *Draft) error {
		return d.Finalize(orderID)
	}); err != nil {
		zctx.From(ctx).Error("Mark draft finalized",
			zap.String("draft_id", draftID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

// replay finalizes the draft against an order stored by an earlier attempt
// and returns that order as persisted, whatever the draft holds now. No
// metrics or events are emitted a second time.
func (s *Service) replay(ctx context.Context, draftID, orderID string) (*pricing.PricedOrder, error) {
	s.finalize(ctx, draftID, orderID)
	stored, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "load submitted order %s", orderID)
	}
	zctx.From(ctx).Info("Submission replayed",
		zap.String("draft_id", draftID),
		zap.String("order_id", orderID),
	)
	return stored, nil
}

// submitFailed classifies a store failure and moves the draft accordingly.
func (s *Service) submitFailed(ctx context.Context, draftID string, err error) error {
	s.metrics.submitFailures.Add(ctx, 1)

	// Eligibility lost between quote and commit: the transaction rolled back,
	// so the draft goes back to editing.
	if errors.Is(err, discount.ErrUsageExhausted) {
		ineligible := &discount.IneligibleError{Reason: discount.ReasonExhausted}
		s.rejectOnSubmit(ctx, draftID, ineligible)
		return ineligible
	}
	var balErr *loyalty.InsufficientBalanceError
	if errors.As(err, &balErr) {
		s.abortSubmit(ctx, draftID, err)
		return balErr
	}

	if IsRetryable(err) {
		s.abortSubmit(ctx, draftID, err)
		return err
	}

	zctx.From(ctx).Error("Order submission failed", zap.String("draft_id", draftID), zap.Error(err))
	if _, uerr := s.update(ctx, draftID, func(d *Draft) error {
		return d.Fail(err.Error())
	}); uerr != nil {
		zctx.From(ctx).Warn("Mark draft failed", zap.String("draft_id", draftID), zap.Error(uerr))
	}
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return err
	}
	return &SubmissionError{Err: err}
}

// rejectOnSubmit reverts a submission whose discount is no longer eligible
// and drops the discount from the draft.
func (s *Service) rejectOnSubmit(ctx context.Context, draftID string, ineligible *discount.IneligibleError) {
	if _, err := s.update(ctx, draftID, func(d *Draft) error {
		if d.Discount != nil && ineligible.Code == "" {
			ineligible.Code = d.Discount.Code
		}
		if err := d.AbortSubmit(); err != nil {
			return err
		}
		if err := d.ClearPromo(); err != nil {
			return err
		}
		d.Rejection = &Rejection{Code: ineligible.Code, Reason: ineligible.Reason}
		return nil
	}); err != nil {
		zctx.From(ctx).Warn("Revert draft after ineligible discount", zap.String("draft_id", draftID), zap.Error(err))
	}
}

func (s *Service) abortSubmit(ctx context.Context, draftID string, cause error) {
	if _, err := s.update(ctx, draftID, func(d *Draft) error {
		return d.AbortSubmit()
	}); err != nil {
		zctx.From(ctx).Warn("Revert draft after submission error",
			zap.String("draft_id", draftID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}

// price computes the full breakdown for d. With recheck set the discount
// code is re-validated and the loyalty balance re-checked, as done before
// an order is persisted.
func (s *Service) price(ctx context.Context, d *Draft, recheck bool) (*pricing.PricedOrder, error) {
	if len(d.Lines) == 0 {
		return nil, pricing.ErrEmptyOrder
	}
	subtotal, err := pricing.ComputeSubtotal(d.Lines)
	if err != nil {
		return nil, err
	}

	app := d.Discount
	if recheck && app != nil {
		app, err = s.discounts.Validate(ctx, app.Code, subtotal)
		if err != nil {
			return nil, err
		}
	}
	promo := decimal.Zero
	if app != nil {
		promo = pricing.ClampDiscount(app.Amount, subtotal)
	}

	var redemption *pricing.LoyaltyRedemption
	if d.Loyalty != nil {
		if recheck {
			if _, err := s.loyalty.Check(ctx, d.Loyalty.CustomerID, d.Loyalty.Points); err != nil {
				return nil, err
			}
		}
		r := loyalty.Plan(s.rate, d.Loyalty.CustomerID, d.Loyalty.Points, subtotal.Sub(promo))
		redemption = &r
	}

	base := subtotal.Sub(promo)
	if redemption != nil {
		base = base.Sub(redemption.Amount)
	}
	var warnings []string
	breakdown, err := s.taxes.Calculate(ctx, base, d.Category)
	if err != nil {
		s.metrics.taxDegraded.Add(ctx, 1)
		warnings = append(warnings, err.Error())
	}

	return pricing.Compose(pricing.ComposeParams{
		DraftID:    d.ID,
		Lines:      d.Lines,
		Discount:   app,
		Loyalty:    redemption,
		Tax:        breakdown,
		Category:   d.Category,
		Note:       d.Note,
		CustomerID: d.CustomerID,
		CreatedBy:  d.CreatedBy,
		Warnings:   warnings,
	})
}

func (s *Service) load(ctx context.Context, draftID string) (*Draft, error) {
	d, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get draft")
	}
	return d, nil
}

// update loads the draft, applies fn and saves the result. A failing fn
// leaves the stored draft unchanged. Version conflicts are retried with a
// fresh copy.
func (s *Service) update(ctx context.Context, draftID string, fn func(d *Draft) error) (*Draft, error) {
	for attempt := 1; ; attempt++ {
		d, err := s.load(ctx, draftID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if d.RecoverStale(now, s.staleAfter) {
			zctx.From(ctx).Warn("Recovered stale draft", zap.String("draft_id", draftID))
		}
		if err := fn(d); err != nil {
			return nil, err
		}
		d.UpdatedAt = now

		err = s.drafts.Save(ctx, d)
		switch {
		case err == nil:
			return d, nil
		case errors.Is(err, ErrDraftConflict) && attempt < maxSaveAttempts:
			continue
		case errors.Is(err, ErrDraftConflict):
			return nil, err
		default:
			return nil, errors.Wrap(err, "save draft")
		}
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
