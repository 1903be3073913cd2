package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/pkg/circuitbreaker"
)

// MaxSessionIDLength bounds session ids used in keys.
const MaxSessionIDLength = 128

// ErrInvalidSession is returned for empty or oversized session ids.
var ErrInvalidSession = shared.NewDomainError("selection", "Validate", shared.ErrInvalidInput, "invalid session id")

// SelectionStore implements recipient.SelectionStore with one Redis set per
// (session, badge). Every write refreshes the TTL.
type SelectionStore struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
}

var _ recipient.SelectionStore = (*SelectionStore)(nil)

// NewSelectionStore creates a SelectionStore. ttl 0 means TTLSelection; a nil
// breaker disables circuit breaking.
func NewSelectionStore(cache *Cache, ttl time.Duration, breaker *circuitbreaker.Breaker) *SelectionStore {
	if ttl <= 0 {
		ttl = TTLSelection
	}
	return &SelectionStore{cache: cache, ttl: ttl, breaker: breaker}
}

// Stage adds ids to the selection.
func (s *SelectionStore) Stage(ctx context.Context, sessionID string, badgeID shared.BadgeID, ids ...shared.UserID) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	members := userMembers(ids)
	return s.run(ctx, func(ctx context.Context) error {
		return s.cache.SAddWithTTL(ctx, SelectionKey(sessionID, int64(badgeID)), s.ttl, members...)
	})
}

// Unstage removes ids from the selection.
func (s *SelectionStore) Unstage(ctx context.Context, sessionID string, badgeID shared.BadgeID, ids ...shared.UserID) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	members := userMembers(ids)
	return s.run(ctx, func(ctx context.Context) error {
		return s.cache.SRem(ctx, SelectionKey(sessionID, int64(badgeID)), members...)
	})
}

// Staged returns the selection in no particular order.
func (s *SelectionStore) Staged(ctx context.Context, sessionID string, badgeID shared.BadgeID) ([]shared.UserID, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}

	var raw []string
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.cache.SMembers(ctx, SelectionKey(sessionID, int64(badgeID)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseMembers(raw), nil
}

// Clear drops the selection.
func (s *SelectionStore) Clear(ctx context.Context, sessionID string, badgeID shared.BadgeID) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	return s.run(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, SelectionKey(sessionID, int64(badgeID)))
	})
}

func (s *SelectionStore) run(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Execute(ctx, fn)
}

func validateSession(sessionID string) error {
	if sessionID == "" || len(sessionID) > MaxSessionIDLength {
		return ErrInvalidSession
	}
	return nil
}

func userMembers(ids []shared.UserID) []interface{} {
	out := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if id.IsValid() {
			out = append(out, strconv.FormatInt(int64(id), 10))
		}
	}
	return out
}

func parseMembers(raw []string) []shared.UserID {
	out := make([]shared.UserID, 0, len(raw))
	for _, m := range raw {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, shared.UserID(n))
	}
	return out
}
