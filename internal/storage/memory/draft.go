// Package memory keeps order drafts in process memory, for single-instance
// deployments and tests.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kitchen-checkout/internal/domain/order"
)

var _ order.DraftStore = (*DraftStore)(nil)

type entry struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// DraftStore implements order.DraftStore in memory. Drafts are kept
// serialized so callers never share state with the store.
type DraftStore struct {
	mu     sync.Mutex
	drafts map[string]entry
	ttl    time.Duration
	now    func() time.Time
}

// NewDraftStore returns an empty DraftStore. Drafts expire ttl after their
// last write; zero disables expiry.
func NewDraftStore(ttl time.Duration) *DraftStore {
	return &DraftStore{
		drafts: make(map[string]entry),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *DraftStore) put(d *order.Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "marshal draft")
	}
	e := entry{data: data, version: d.Version}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.drafts[d.ID] = e
	return nil
}

// lookup returns the live entry for id, dropping it when expired.
func (s *DraftStore) lookup(id string) (entry, bool) {
	e, ok := s.drafts[id]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.drafts, id)
		return entry{}, false
	}
	return e, true
}

// Create stores a new draft at version 1.
func (s *DraftStore) Create(_ context.Context, d *order.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(d.ID); ok {
		return errors.Errorf("draft %s already exists", d.ID)
	}
	d.Version = 1
	return s.put(d)
}

// Get returns a copy of the stored draft or order.ErrDraftNotFound.
func (s *DraftStore) Get(_ context.Context, id string) (*order.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return nil, order.ErrDraftNotFound
	}
	var d order.Draft
	if err := json.Unmarshal(e.data, &d); err != nil {
		return nil, errors.Wrap(err, "unmarshal draft")
	}
	return &d, nil
}

// Save replaces the draft if d.Version matches the stored version.
func (s *DraftStore) Save(_ context.Context, d *order.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(d.ID)
	if !ok {
		return order.ErrDraftNotFound
	}
	if e.version != d.Version {
		return order.ErrDraftConflict
	}
	d.Version++
	if err := s.put(d); err != nil {
		d.Version--
		return err
	}
	return nil
}

// Delete removes the draft.
func (s *DraftStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
	return nil
}
