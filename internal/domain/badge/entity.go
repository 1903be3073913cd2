package badge

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD KEY
// ══════════════════════════════════════════════════════════════════════════════

// AwardKey is the natural key of a manual award.
type AwardKey struct {
	BadgeID      shared.BadgeID
	IssuerID     shared.UserID
	IssuerRoleID shared.RoleID
	RecipientID  shared.UserID
}

// Validate checks that every part of the key is set.
func (k AwardKey) Validate() error {
	switch {
	case !k.BadgeID.IsValid():
		return shared.WrapError("badge", "Validate", shared.ErrInvalidAward, "badge id is required", shared.ErrInvalidID)
	case !k.IssuerID.IsValid():
		return shared.WrapError("badge", "Validate", shared.ErrInvalidAward, "issuer id is required", shared.ErrInvalidID)
	case !k.IssuerRoleID.IsValid():
		return shared.WrapError("badge", "Validate", shared.ErrInvalidAward, "issuer role id is required", shared.ErrInvalidID)
	case !k.RecipientID.IsValid():
		return shared.WrapError("badge", "Validate", shared.ErrInvalidAward, "recipient id is required", shared.ErrInvalidID)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD RECORD
// ══════════════════════════════════════════════════════════════════════════════

// AwardRecord is a single manual grant of a badge.
type AwardRecord struct {
	ID int64
	AwardKey
	DateMet time.Time
}

// NewAwardRecord creates a record for key stamped with the given time (UTC).
func NewAwardRecord(key AwardKey, at time.Time) *AwardRecord {
	return &AwardRecord{
		AwardKey: key,
		DateMet:  at.UTC(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ISSUED BADGE
// ══════════════════════════════════════════════════════════════════════════════

// IssuedBadge is the recipient-facing evidence of having earned a badge.
type IssuedBadge struct {
	ID         int64
	BadgeID    shared.BadgeID
	UserID     shared.UserID
	UniqueHash string
	DateIssued time.Time
	DateExpire *time.Time
	Visible    bool

	// Denormalized badge fields filled by list queries.
	BadgeName string
	ContextID shared.ContextID
}

// IsExpired reports whether the badge has an expiry in the past of now.
func (b *IssuedBadge) IsExpired(now time.Time) bool {
	return b.DateExpire != nil && !b.DateExpire.After(now)
}

// NewIssuedBadge creates an issued badge with its content hash computed.
func NewIssuedBadge(badgeID shared.BadgeID, userID shared.UserID, issuedAt time.Time, expireAt *time.Time, visible bool) *IssuedBadge {
	issuedAt = issuedAt.UTC()
	if expireAt != nil {
		e := expireAt.UTC()
		expireAt = &e
	}
	return &IssuedBadge{
		BadgeID:    badgeID,
		UserID:     userID,
		UniqueHash: ComputeUniqueHash(badgeID, userID, issuedAt),
		DateIssued: issuedAt,
		DateExpire: expireAt,
		Visible:    visible,
	}
}

// ComputeUniqueHash derives the content hash of an issued badge from the badge,
// the user and the issue time. The result is 40 hex characters.
func ComputeUniqueHash(badgeID shared.BadgeID, userID shared.UserID, issuedAt time.Time) string {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(badgeID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(userID))
	binary.BigEndian.PutUint64(buf[16:24], uint64(issuedAt.UTC().UnixNano()))

	// blake2b.New only fails for a size outside 1..64 or a key over 64 bytes.
	h, _ := blake2b.New(20, nil)
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGE
// ══════════════════════════════════════════════════════════════════════════════

// Badge is the minimal badge definition the award workflow needs.
type Badge struct {
	ID        shared.BadgeID
	Name      string
	ContextID shared.ContextID
}

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT
// ══════════════════════════════════════════════════════════════════════════════

// AuditEntry records a badge lifecycle event for later inspection.
type AuditEntry struct {
	ID            int64
	CorrelationID string
	EventType     string
	BadgeID       shared.BadgeID
	RecipientID   shared.UserID
	ContextID     shared.ContextID
	OccurredAt    time.Time
}
