package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-checkout/internal/domain/catalog"
	"github.com/xenking/kitchen-checkout/internal/domain/order"
	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.FieldStart(name)
	e.Str(v.StringFixed(pricing.MoneyPlaces))
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeLines(e *jx.Encoder, lines []pricing.Line) {
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("item_id")
		e.Str(l.ItemID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		money(e, "unit_price", l.UnitPrice)
		money(e, "total", l.Total())
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeDiscount(e *jx.Encoder, a *pricing.DiscountApplication) {
	e.FieldStart("discount")
	e.ObjStart()
	e.FieldStart("code")
	e.Str(a.Code)
	money(e, "amount", a.Amount)
	if a.Description != "" {
		e.FieldStart("description")
		e.Str(a.Description)
	}
	e.ObjEnd()
}

func writeDraft(w http.ResponseWriter, status int, d *order.Draft) {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("id")
	e.Str(d.ID)
	e.FieldStart("version")
	e.Int64(d.Version)
	e.FieldStart("state")
	e.Str(d.State.String())
	e.FieldStart("category")
	e.Str(d.Category)
	encodeLines(e, d.Lines)
	if d.Discount != nil {
		encodeDiscount(e, d.Discount)
	}
	if d.Rejection != nil {
		e.FieldStart("rejection")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(d.Rejection.Code)
		e.FieldStart("reason")
		e.Str(string(d.Rejection.Reason))
		e.ObjEnd()
	}
	if d.Loyalty != nil {
		e.FieldStart("loyalty")
		e.ObjStart()
		e.FieldStart("customer_id")
		e.Str(d.Loyalty.CustomerID)
		e.FieldStart("points")
		e.Int64(d.Loyalty.Points)
		e.ObjEnd()
	}
	if d.CustomerID != nil {
		e.FieldStart("customer_id")
		e.Str(*d.CustomerID)
	}
	if d.Note != "" {
		e.FieldStart("note")
		e.Str(d.Note)
	}
	if d.OrderID != "" {
		e.FieldStart("order_id")
		e.Str(d.OrderID)
	}
	if d.FailureReason != "" {
		e.FieldStart("failure_reason")
		e.Str(d.FailureReason)
	}
	timestamp(e, "created_at", d.CreatedAt)
	timestamp(e, "updated_at", d.UpdatedAt)
	e.ObjEnd()
	writeJSON(w, status, e)
}

func writeOrder(w http.ResponseWriter, status int, o *pricing.PricedOrder) {
	e := &jx.Encoder{}
	e.ObjStart()
	if o.ID != "" {
		e.FieldStart("id")
		e.Str(o.ID)
	}
	e.FieldStart("draft_id")
	e.Str(o.DraftID)
	e.FieldStart("category")
	e.Str(o.Category)
	encodeLines(e, o.Lines)
	money(e, "subtotal", o.Subtotal)
	if o.Discount != nil {
		encodeDiscount(e, o.Discount)
	}
	if o.Loyalty != nil {
		e.FieldStart("loyalty")
		e.ObjStart()
		e.FieldStart("customer_id")
		e.Str(o.Loyalty.CustomerID)
		e.FieldStart("points")
		e.Int64(o.Loyalty.Points)
		money(e, "amount", o.Loyalty.Amount)
		e.ObjEnd()
	}
	money(e, "promo_discount", o.PromoDiscount)
	money(e, "loyalty_discount", o.LoyaltyDiscount)
	money(e, "discount_amount", o.DiscountAmount)

	e.FieldStart("tax_breakdown")
	e.ArrStart()
	for _, t := range o.TaxBreakdown {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(t.Name)
		e.FieldStart("rate")
		e.Str(t.Rate.String())
		money(e, "amount", t.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
	money(e, "tax_total", o.TaxTotal)
	money(e, "total_amount", o.TotalAmount)

	if o.CustomerID != nil {
		e.FieldStart("customer_id")
		e.Str(*o.CustomerID)
	}
	if o.Note != "" {
		e.FieldStart("note")
		e.Str(o.Note)
	}
	if o.CreatedBy != "" {
		e.FieldStart("created_by")
		e.Str(o.CreatedBy)
	}
	if !o.CreatedAt.IsZero() {
		timestamp(e, "created_at", o.CreatedAt)
	}
	if len(o.Warnings) > 0 {
		e.FieldStart("warnings")
		e.ArrStart()
		for _, msg := range o.Warnings {
			e.Str(msg)
		}
		e.ArrEnd()
	}
	e.ObjEnd()
	writeJSON(w, status, e)
}

func writeMenu(w http.ResponseWriter, items []catalog.Item) {
	e := &jx.Encoder{}
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID)
		e.FieldStart("name")
		e.Str(it.Name)
		money(e, "price", it.Price)
		e.FieldStart("category")
		e.Str(it.Category)
		e.FieldStart("available")
		e.Bool(it.Available)
		e.ObjEnd()
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, e)
}
