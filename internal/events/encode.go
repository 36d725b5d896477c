package events

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

type envelope struct {
	ID            string
	Type          string
	OccurredAt    time.Time
	CorrelationID string
}

// encodeEnvelope writes the event envelope with the order as its data.
// Money is encoded as fixed two-place strings.
func encodeEnvelope(e *jx.Encoder, env envelope, o *pricing.PricedOrder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(env.ID)
	e.FieldStart("type")
	e.Str(env.Type)
	e.FieldStart("occurred_at")
	e.Str(env.OccurredAt.Format(time.RFC3339Nano))
	if env.CorrelationID != "" {
		e.FieldStart("correlation_id")
		e.Str(env.CorrelationID)
	}
	e.FieldStart("data")
	encodeOrder(e, o)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *pricing.PricedOrder) {
	money := func(name string, v decimal.Decimal) {
		e.FieldStart(name)
		e.Str(v.StringFixed(pricing.MoneyPlaces))
	}

	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(o.ID)
	e.FieldStart("draft_id")
	e.Str(o.DraftID)
	e.FieldStart("category")
	e.Str(o.Category)
	if o.CustomerID != nil {
		e.FieldStart("customer_id")
		e.Str(*o.CustomerID)
	}

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("item_id")
		e.Str(l.ItemID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		money("unit_price", l.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()

	money("subtotal", o.Subtotal)
	money("discount_amount", o.DiscountAmount)
	if o.Discount != nil {
		e.FieldStart("discount_code")
		e.Str(o.Discount.Code)
	}
	if o.Loyalty != nil {
		e.FieldStart("loyalty_points")
		e.Int64(o.Loyalty.Points)
	}

	e.FieldStart("tax_breakdown")
	e.ArrStart()
	for _, t := range o.TaxBreakdown {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(t.Name)
		e.FieldStart("rate")
		e.Str(t.Rate.String())
		money("amount", t.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()

	money("tax_total", o.TaxTotal)
	money("total_amount", o.TotalAmount)
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}
