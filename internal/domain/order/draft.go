package order

import (
	"fmt"
	"slices"
	"time"

	"github.com/xenking/kitchen-checkout/internal/domain/discount"
	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

// State is the lifecycle position of a draft.
type State string

const (
	StateEmpty         State = "empty"
	StateHasLines      State = "has_lines"
	StatePromoPending  State = "promo_pending"
	StatePromoApplied  State = "promo_applied"
	StatePromoRejected State = "promo_rejected"
	StateSubmitting    State = "submitting"
	StateFinalized     State = "finalized"
	StateFailed        State = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateFinalized || s == StateFailed
}

// IsBusy reports whether a collaborator call is outstanding for the draft.
func (s State) IsBusy() bool {
	return s == StatePromoPending || s == StateSubmitting
}

func (s State) String() string {
	return string(s)
}

// TransitionError reports an action that is not allowed in the current state.
type TransitionError struct {
	From   State
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a draft in state %s", e.Action, e.From)
}

// Rejection records the last promo code that failed eligibility.
type Rejection struct {
	Code   string          `json:"code"`
	Reason discount.Reason `json:"reason"`
}

// LoyaltyRequest is a customer's request to pay part of the order with points.
type LoyaltyRequest struct {
	CustomerID string `json:"customer_id"`
	Points     int64  `json:"points"`
}

// snapshot is the state a draft returns to when an attempt is abandoned.
type snapshot struct {
	State    State                        `json:"state"`
	Discount *pricing.DiscountApplication `json:"discount,omitempty"`
}

// Draft is an order being assembled in a cart. Drafts are mutated only
// through their transition methods; the Service persists them after every
// successful transition.
type Draft struct {
	ID            string                       `json:"id"`
	Version       int64                        `json:"version"`
	State         State                        `json:"state"`
	Category      string                       `json:"category"`
	Lines         []pricing.Line               `json:"lines"`
	Discount      *pricing.DiscountApplication `json:"discount,omitempty"`
	Rejection     *Rejection                   `json:"rejection,omitempty"`
	Loyalty       *LoyaltyRequest              `json:"loyalty,omitempty"`
	Note          string                       `json:"note,omitempty"`
	CustomerID    *string                      `json:"customer_id,omitempty"`
	CreatedBy     string                       `json:"created_by,omitempty"`
	OrderID       string                       `json:"order_id,omitempty"`
	FailureReason string                       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time                    `json:"created_at"`
	UpdatedAt     time.Time                    `json:"updated_at"`
	Pending       *snapshot                    `json:"pending,omitempty"`
}

// NewDraft returns an empty draft.
func NewDraft(id, category string, now time.Time) *Draft {
	return &Draft{
		ID:        id,
		State:     StateEmpty,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (d *Draft) editable() error {
	switch {
	case d.State.IsTerminal():
		return ErrDraftClosed
	case d.State.IsBusy():
		return ErrDraftBusy
	}
	return nil
}

// invalidate drops anything derived from the previous set of lines.
func (d *Draft) invalidate() {
	d.Discount = nil
	d.Rejection = nil
	if len(d.Lines) == 0 {
		d.State = StateEmpty
	} else {
		d.State = StateHasLines
	}
}

// SetLine adds a line or replaces the line for the same item. Any applied
// discount is cleared because the subtotal changed.
func (d *Draft) SetLine(line pricing.Line) error {
	if err := d.editable(); err != nil {
		return err
	}
	if err := line.Validate(); err != nil {
		return err
	}
	if i := d.lineIndex(line.ItemID); i >= 0 {
		d.Lines[i] = line
	} else {
		d.Lines = append(d.Lines, line)
	}
	d.invalidate()
	return nil
}

// RemoveLine removes the line for itemID.
func (d *Draft) RemoveLine(itemID string) error {
	if err := d.editable(); err != nil {
		return err
	}
	i := d.lineIndex(itemID)
	if i < 0 {
		return ErrLineNotFound
	}
	d.Lines = slices.Delete(d.Lines, i, i+1)
	d.invalidate()
	return nil
}

func (d *Draft) lineIndex(itemID string) int {
	return slices.IndexFunc(d.Lines, func(l pricing.Line) bool { return l.ItemID == itemID })
}

// BeginPromo moves the draft to PromoPending while a code is validated.
func (d *Draft) BeginPromo() error {
	if err := d.editable(); err != nil {
		return err
	}
	if len(d.Lines) == 0 {
		return &TransitionError{From: d.State, Action: "apply a discount to"}
	}
	d.Pending = &snapshot{State: d.State, Discount: d.Discount}
	d.State = StatePromoPending
	return nil
}

// ApplyPromo completes a pending promo with a validated discount.
func (d *Draft) ApplyPromo(app pricing.DiscountApplication) error {
	if d.State != StatePromoPending {
		return &TransitionError{From: d.State, Action: "apply a discount to"}
	}
	d.Discount = &app
	d.Rejection = nil
	d.Pending = nil
	d.State = StatePromoApplied
	return nil
}

// RejectPromo records why a code was refused and reverts the draft to its
// pre-attempt state.
func (d *Draft) RejectPromo(code string, reason discount.Reason) error {
	if d.State != StatePromoPending {
		return &TransitionError{From: d.State, Action: "reject a discount on"}
	}
	d.State = StatePromoRejected
	d.Rejection = &Rejection{Code: code, Reason: reason}
	d.revert()
	return nil
}

// AbortPromo reverts a pending promo without recording a rejection, for
// failures that say nothing about the code itself.
func (d *Draft) AbortPromo() error {
	if d.State != StatePromoPending {
		return &TransitionError{From: d.State, Action: "abort a discount on"}
	}
	d.revert()
	return nil
}

// ClearPromo removes the applied discount.
func (d *Draft) ClearPromo() error {
	if err := d.editable(); err != nil {
		return err
	}
	d.Discount = nil
	d.Rejection = nil
	if d.State == StatePromoApplied || d.State == StatePromoRejected {
		d.State = StateHasLines
	}
	return nil
}

// SetLoyalty records a loyalty redemption request.
func (d *Draft) SetLoyalty(req LoyaltyRequest) error {
	if err := d.editable(); err != nil {
		return err
	}
	if d.CustomerID != nil && *d.CustomerID != req.CustomerID {
		return ErrCustomerMismatch
	}
	customerID := req.CustomerID
	d.CustomerID = &customerID
	d.Loyalty = &req
	return nil
}

// ClearLoyalty drops the loyalty redemption request.
func (d *Draft) ClearLoyalty() error {
	if err := d.editable(); err != nil {
		return err
	}
	d.Loyalty = nil
	return nil
}

// SetNote replaces the order note.
func (d *Draft) SetNote(note string) error {
	if err := d.editable(); err != nil {
		return err
	}
	d.Note = note
	return nil
}

// BeginSubmit moves the draft to Submitting. Only drafts with lines in
// HasLines or PromoApplied can be submitted.
func (d *Draft) BeginSubmit() error {
	if err := d.editable(); err != nil {
		return err
	}
	if d.State != StateHasLines && d.State != StatePromoApplied {
		return &TransitionError{From: d.State, Action: "submit"}
	}
	if len(d.Lines) == 0 {
		return pricing.ErrEmptyOrder
	}
	d.Pending = &snapshot{State: d.State, Discount: d.Discount}
	d.State = StateSubmitting
	return nil
}

// AbortSubmit reverts a submission that failed before or without side
// effects, so it can be retried.
func (d *Draft) AbortSubmit() error {
	if d.State != StateSubmitting {
		return &TransitionError{From: d.State, Action: "abort the submission of"}
	}
	d.revert()
	return nil
}

// Finalize marks the draft as persisted under orderID.
func (d *Draft) Finalize(orderID string) error {
	if d.State != StateSubmitting {
		return &TransitionError{From: d.State, Action: "finalize"}
	}
	d.OrderID = orderID
	d.Pending = nil
	d.State = StateFinalized
	return nil
}

// Fail marks the submission as permanently failed.
func (d *Draft) Fail(reason string) error {
	if d.State != StateSubmitting {
		return &TransitionError{From: d.State, Action: "fail"}
	}
	d.FailureReason = reason
	d.Pending = nil
	d.State = StateFailed
	return nil
}

// RecoverStale reverts a draft left busy for longer than ttl, e.g. after a
// crash between the two halves of an attempt. Submissions are safe to
// revert because the order store deduplicates by draft ID.
func (d *Draft) RecoverStale(now time.Time, ttl time.Duration) bool {
	if !d.State.IsBusy() || ttl <= 0 || now.Sub(d.UpdatedAt) < ttl {
		return false
	}
	d.revert()
	return true
}

func (d *Draft) revert() {
	if d.Pending == nil {
		d.invalidate()
		return
	}
	d.State = d.Pending.State
	d.Discount = d.Pending.Discount
	d.Pending = nil
	if d.State == StatePromoApplied && d.Discount == nil {
		d.State = StateHasLines
	}
}
