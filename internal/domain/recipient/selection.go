package recipient

import (
	"context"

	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// SelectionStore keeps the users a caller has picked but not yet awarded,
// per session and badge. They are excluded from potential recipients.
type SelectionStore interface {
	Stage(ctx context.Context, sessionID string, badgeID shared.BadgeID, ids ...shared.UserID) error
	Unstage(ctx context.Context, sessionID string, badgeID shared.BadgeID, ids ...shared.UserID) error
	Staged(ctx context.Context, sessionID string, badgeID shared.BadgeID) ([]shared.UserID, error)
	Clear(ctx context.Context, sessionID string, badgeID shared.BadgeID) error
}

// MergeExcluded appends staged ids to q.ExcludedIDs, skipping duplicates.
func MergeExcluded(q *Query, staged []shared.UserID) {
	if len(staged) == 0 {
		return
	}
	seen := make(map[shared.UserID]struct{}, len(q.ExcludedIDs)+len(staged))
	for _, id := range q.ExcludedIDs {
		seen[id] = struct{}{}
	}
	for _, id := range staged {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		q.ExcludedIDs = append(q.ExcludedIDs, id)
	}
}
