// Package redis stores order drafts in Redis.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kitchen-checkout/internal/domain/order"
)

const keyPrefix = "kitchen:draft:"

var _ order.DraftStore = (*DraftStore)(nil)

// DraftStore implements order.DraftStore on Redis. Drafts are stored as
// JSON and expire ttl after their last write. Save is a compare-and-swap on
// the draft version using WATCH/MULTI.
type DraftStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewDraftStore returns a DraftStore using client.
func NewDraftStore(client redis.UniversalClient, ttl time.Duration) *DraftStore {
	return &DraftStore{client: client, ttl: ttl}
}

func draftKey(id string) string {
	return keyPrefix + id
}

// Create stores a new draft at version 1.
func (s *DraftStore) Create(ctx context.Context, d *order.Draft) error {
	d.Version = 1
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "marshal draft")
	}
	ok, err := s.client.SetNX(ctx, draftKey(d.ID), data, s.ttl).Result()
	if err != nil {
		return errors.Wrap(err, "redis setnx")
	}
	if !ok {
		return errors.Errorf("draft %s already exists", d.ID)
	}
	return nil
}

// Get returns the stored draft or order.ErrDraftNotFound.
func (s *DraftStore) Get(ctx context.Context, id string) (*order.Draft, error) {
	data, err := s.client.Get(ctx, draftKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, order.ErrDraftNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return decodeDraft(data)
}

// Save replaces the stored draft if its version still matches d.Version and
// increments d.Version. A concurrent writer yields order.ErrDraftConflict.
func (s *DraftStore) Save(ctx context.Context, d *order.Draft) error {
	key := draftKey(d.ID)
	next := *d
	next.Version++
	payload, err := json.Marshal(&next)
	if err != nil {
		return errors.Wrap(err, "marshal draft")
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return order.ErrDraftNotFound
		}
		if err != nil {
			return errors.Wrap(err, "redis get")
		}
		stored, err := decodeDraft(data)
		if err != nil {
			return err
		}
		if stored.Version != d.Version {
			return order.ErrDraftConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		d.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return order.ErrDraftConflict
	case errors.Is(err, order.ErrDraftNotFound), errors.Is(err, order.ErrDraftConflict):
		return err
	default:
		return errors.Wrap(err, "save draft")
	}
}

// Delete removes the draft. Deleting a missing draft is not an error.
func (s *DraftStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, draftKey(id)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func decodeDraft(data []byte) (*order.Draft, error) {
	var d order.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "unmarshal draft")
	}
	return &d, nil
}
