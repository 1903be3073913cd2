package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST USER BADGES QUERY
// Issued badges of one user, as shown on a profile.
// ══════════════════════════════════════════════════════════════════════════════

// MaxBadgesPerPage caps PerPage.
const MaxBadgesPerPage = 100

// ListUserBadgesQuery contains the parameters of a badge listing.
type ListUserBadgesQuery struct {
	// UserID is whose badges to list.
	UserID shared.UserID

	// ViewerID is who is looking. Anyone other than the owner sees public badges only.
	ViewerID shared.UserID

	ContextID  shared.ContextID
	Search     string
	OnlyPublic bool
	Page       int
	PerPage    int
}

// Validate validates the query.
func (q ListUserBadgesQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.WrapError("badge", "ListUserBadges", shared.ErrInvalidID, "user id is required", nil)
	}
	if q.Page < 0 || q.PerPage < 0 {
		return shared.WrapError("badge", "ListUserBadges", shared.ErrInvalidInput, "page and perpage must not be negative", nil)
	}
	return nil
}

// UserBadgeDTO is a listed badge.
type UserBadgeDTO struct {
	BadgeID    int64      `json:"badge_id"`
	Name       string     `json:"name"`
	ContextID  int64      `json:"context_id"`
	UniqueHash string     `json:"unique_hash"`
	DateIssued time.Time  `json:"date_issued"`
	DateExpire *time.Time `json:"date_expire,omitempty"`
	Expired    bool       `json:"expired"`
	Visible    bool       `json:"visible"`
}

// ListUserBadgesResult contains the listing.
type ListUserBadgesResult struct {
	Badges []UserBadgeDTO `json:"badges"`
}

// ListUserBadgesHandler handles ListUserBadgesQuery.
type ListUserBadgesHandler struct {
	issued badge.IssuedRepository
	now    func() time.Time
}

// NewListUserBadgesHandler creates a new ListUserBadgesHandler.
func NewListUserBadgesHandler(issued badge.IssuedRepository) *ListUserBadgesHandler {
	return &ListUserBadgesHandler{issued: issued, now: time.Now}
}

// Handle lists the user's issued badges.
func (h *ListUserBadgesHandler) Handle(ctx context.Context, q ListUserBadgesQuery) (*ListUserBadgesResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("list_user_badges: %w", err)
	}

	onlyVisible := q.OnlyPublic
	if q.ViewerID.IsValid() && q.ViewerID != q.UserID {
		onlyVisible = true
	}

	perPage := q.PerPage
	if perPage > MaxBadgesPerPage {
		perPage = MaxBadgesPerPage
	}

	issued, err := h.issued.ListByUser(ctx, badge.UserBadgeFilter{
		UserID:      q.UserID,
		ContextID:   q.ContextID,
		Search:      q.Search,
		OnlyVisible: onlyVisible,
		Page:        q.Page,
		PerPage:     perPage,
	})
	if err != nil {
		return nil, shared.WrapError("badge", "ListUserBadges", shared.ErrStorage, "failed to list badges", err)
	}

	now := h.now()
	result := &ListUserBadgesResult{Badges: make([]UserBadgeDTO, 0, len(issued))}
	for _, b := range issued {
		result.Badges = append(result.Badges, UserBadgeDTO{
			BadgeID:    int64(b.BadgeID),
			Name:       b.BadgeName,
			ContextID:  int64(b.ContextID),
			UniqueHash: b.UniqueHash,
			DateIssued: b.DateIssued,
			DateExpire: b.DateExpire,
			Expired:    b.IsExpired(now),
			Visible:    b.Visible,
		})
	}
	return result, nil
}
