package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

// Sentinel errors for draft handling.
var (
	ErrDraftNotFound    = errors.New("draft not found")
	ErrDraftBusy        = errors.New("draft has an operation in progress")
	ErrDraftClosed      = errors.New("draft is closed")
	ErrDraftConflict    = errors.New("draft was modified concurrently")
	ErrLineNotFound     = errors.New("line not found")
	ErrCustomerMismatch = errors.New("draft belongs to another customer")
	ErrOrderNotFound    = errors.New("order not found")
)

// ItemUnavailableError indicates a menu item that cannot be ordered.
type ItemUnavailableError struct {
	ItemID string
	Reason string
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("item %s is unavailable: %s", e.ItemID, e.Reason)
}

// SubmissionError is a failure to persist an order. Retryable failures leave
// the draft submittable again; the rest move it to Failed.
type SubmissionError struct {
	Retryable bool
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.Retryable {
		return "order submission failed, retry later: " + e.Err.Error()
	}
	return "order submission failed: " + e.Err.Error()
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a retryable SubmissionError.
func IsRetryable(err error) bool {
	var subErr *SubmissionError
	return errors.As(err, &subErr) && subErr.Retryable
}

// DraftStore persists drafts between requests. Save must reject a draft
// whose Version does not match the stored one with ErrDraftConflict and
// increment Version on success.
type DraftStore interface {
	Create(ctx context.Context, d *Draft) error
	Get(ctx context.Context, id string) (*Draft, error)
	Save(ctx context.Context, d *Draft) error
	Delete(ctx context.Context, id string) error
}

// SubmitRequest carries a priced order to the order store. IdempotencyKey
// is the draft ID; resubmitting the same key returns the first receipt.
type SubmitRequest struct {
	IdempotencyKey string
	Order          *pricing.PricedOrder
}

// Receipt is the order store's answer to a submission.
type Receipt struct {
	OrderID   string
	CreatedAt time.Time
	Replayed  bool
}

// Store persists finalized orders. Submit must increment discount usage,
// debit loyalty points, and insert the order atomically. Lookup returns the
// receipt of an earlier submission under idempotencyKey, or
// ErrOrderNotFound.
type Store interface {
	Submit(ctx context.Context, req SubmitRequest) (*Receipt, error)
	Lookup(ctx context.Context, idempotencyKey string) (*Receipt, error)
	Get(ctx context.Context, id string) (*pricing.PricedOrder, error)
}

// Publisher announces finalized orders to downstream consumers.
type Publisher interface {
	OrderFinalized(ctx context.Context, o *pricing.PricedOrder) error
}
