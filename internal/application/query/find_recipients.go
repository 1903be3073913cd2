// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIND RECIPIENTS QUERY
// Lists existing and potential recipients of a manual badge.
// ══════════════════════════════════════════════════════════════════════════════

// FindRecipientsHandler runs recipient searches. It holds no per-query state.
type FindRecipientsHandler struct {
	store      recipient.Store
	providers  recipient.Providers
	badges     badge.BadgeRepository
	maxResults int
	logger     *slog.Logger
}

// NewFindRecipientsHandler creates a new FindRecipientsHandler.
// badges may be nil; it is only used to fill a missing context id.
// maxResults 0 means recipient.MaxRecipientsPerPage.
func NewFindRecipientsHandler(
	store recipient.Store,
	providers recipient.Providers,
	badges badge.BadgeRepository,
	maxResults int,
	logger *slog.Logger,
) *FindRecipientsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FindRecipientsHandler{
		store:      store,
		providers:  providers,
		badges:     badges,
		maxResults: maxResults,
		logger:     logger,
	}
}

// FindExisting returns users already awarded the badge under the issuer role,
// in a single group. There is no result ceiling.
func (h *FindRecipientsHandler) FindExisting(ctx context.Context, q recipient.Query) (*recipient.Result, error) {
	stmt, err := h.compose(ctx, recipient.VariantExisting, &q)
	if err != nil {
		return nil, err
	}

	list, err := h.store.ListRecipients(ctx, stmt.List)
	if err != nil {
		return nil, shared.WrapError("recipient", "FindExisting", shared.ErrStorage, "failed to list recipients", err)
	}

	return &recipient.Result{
		Groups: []recipient.Group{{Label: recipient.LabelExisting, Recipients: nonNil(list)}},
	}, nil
}

// FindPotential returns enrolled users not yet awarded, minus q.ExcludedIDs.
//
// In render mode the candidates are counted first and a result above the
// ceiling is replaced by TooManyResults. Validate mode skips the count.
// An empty result has no groups.
func (h *FindRecipientsHandler) FindPotential(ctx context.Context, q recipient.Query, opts recipient.Options) (*recipient.Result, error) {
	stmt, err := h.compose(ctx, recipient.VariantPotential, &q)
	if err != nil {
		return nil, err
	}

	if opts.MaxResults == 0 {
		opts.MaxResults = h.maxResults
	}

	if opts.Mode != recipient.ModeValidate {
		count, err := h.store.CountRecipients(ctx, stmt.Count)
		if err != nil {
			return nil, shared.WrapError("recipient", "FindPotential", shared.ErrStorage, "failed to count recipients", err)
		}
		if count > opts.Limit() {
			h.logger.Debug("too many potential recipients",
				"badge_id", int64(q.BadgeID),
				"count", count,
				"limit", opts.Limit(),
			)
			return &recipient.Result{
				TooMany: &recipient.TooManyResults{Count: count, Search: q.Search},
			}, nil
		}
	}

	list, err := h.store.ListRecipients(ctx, stmt.List)
	if err != nil {
		return nil, shared.WrapError("recipient", "FindPotential", shared.ErrStorage, "failed to list recipients", err)
	}
	if len(list) == 0 {
		return &recipient.Result{}, nil
	}

	return &recipient.Result{
		Groups: []recipient.Group{{Label: recipient.LabelPotential, Recipients: list}},
	}, nil
}

func (h *FindRecipientsHandler) compose(ctx context.Context, variant recipient.Variant, q *recipient.Query) (recipient.Statement, error) {
	q.Search = recipient.NormalizeSearch(q.Search)

	if !q.ContextID.IsValid() && q.BadgeID.IsValid() && h.badges != nil {
		b, err := h.badges.GetByID(ctx, q.BadgeID)
		if err != nil {
			if errors.Is(err, shared.ErrBadgeNotFound) {
				return recipient.Statement{}, err
			}
			return recipient.Statement{}, shared.WrapError("recipient", "Find", shared.ErrStorage, "failed to load badge", err)
		}
		q.ContextID = b.ContextID
	}

	stmt, err := recipient.Compose(variant, *q, h.providers)
	if err != nil {
		return recipient.Statement{}, fmt.Errorf("find_recipients: %w", err)
	}
	return stmt, nil
}

func nonNil(list []recipient.Recipient) []recipient.Recipient {
	if list == nil {
		return []recipient.Recipient{}
	}
	return list
}
