package badge

import (
	"context"

	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// These interfaces define the persistence contract.
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// AwardRepository stores manual award records.
type AwardRepository interface {
	// Exists reports whether a record with exactly this natural key exists.
	Exists(ctx context.Context, key AwardKey) (bool, error)

	// Create inserts a record and fills its ID.
	// Returns shared.ErrAwardAlreadyExists on a natural-key collision.
	Create(ctx context.Context, record *AwardRecord) error

	// DeleteByIssuer removes every record for (badge, issuer, recipient),
	// whatever role issued it, and returns the number of rows removed.
	DeleteByIssuer(ctx context.Context, badgeID shared.BadgeID, issuerID, recipientID shared.UserID) (int64, error)
}

// IssuedRepository stores issued badges.
type IssuedRepository interface {
	// Create inserts an issued badge and fills its ID.
	Create(ctx context.Context, issued *IssuedBadge) error

	// DeleteByRecipient removes every issued badge for (badge, user) and
	// returns the number of rows removed. Zero is not an error.
	DeleteByRecipient(ctx context.Context, badgeID shared.BadgeID, userID shared.UserID) (int64, error)

	// ListByUser returns a user's issued badges, newest first.
	ListByUser(ctx context.Context, filter UserBadgeFilter) ([]*IssuedBadge, error)
}

// BadgeRepository reads badge definitions.
type BadgeRepository interface {
	// Create inserts a badge and fills its ID.
	Create(ctx context.Context, b *Badge) error

	// GetByID returns shared.ErrBadgeNotFound when the badge does not exist.
	GetByID(ctx context.Context, id shared.BadgeID) (*Badge, error)
}

// UserBadgeFilter narrows ListByUser.
type UserBadgeFilter struct {
	UserID shared.UserID

	// ContextID restricts to badges of one course context when set.
	ContextID shared.ContextID

	// Search matches the badge name, case-insensitively.
	Search string

	// OnlyVisible hides badges the user marked private.
	OnlyVisible bool

	// Page and PerPage paginate; PerPage 0 returns everything.
	Page    int
	PerPage int
}

// Offset returns the row offset for the filter's page.
func (f UserBadgeFilter) Offset() int {
	if f.PerPage <= 0 || f.Page <= 0 {
		return 0
	}
	return f.Page * f.PerPage
}

// AuditRepository stores the badge audit trail.
type AuditRepository interface {
	// Append inserts an entry and fills its ID.
	Append(ctx context.Context, entry *AuditEntry) error

	// ListByBadge returns the latest entries for a badge, newest first.
	ListByBadge(ctx context.Context, badgeID shared.BadgeID, limit int) ([]*AuditEntry, error)
}
