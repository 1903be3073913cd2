package recipient

import (
	"context"
	"errors"
	"strings"

	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/pkg/sqlfrag"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROVIDERS
// Providers hand out SQL fragments over the users table aliased by the caller.
// ══════════════════════════════════════════════════════════════════════════════

// EnrolmentProvider yields the users enrolled in a context with a capability.
type EnrolmentProvider interface {
	// EnrolledSQL returns a sub-select exposing a single "id" column.
	EnrolledSQL(contextID shared.ContextID, capability string) sqlfrag.Fragment
}

// SearchProvider yields the free-text filter and the canonical user order.
type SearchProvider interface {
	// SearchSQL returns a WHERE predicate over alias for term.
	SearchSQL(term, alias string) sqlfrag.Fragment

	// OrderSQL returns a total ORDER BY list over alias. The term may be
	// used to rank exact matches first.
	OrderSQL(alias, term string) sqlfrag.Fragment
}

// GroupProvider restricts users to the members of a group.
type GroupProvider interface {
	// GroupSQL returns a JOIN clause and a WHERE predicate over alias.
	GroupSQL(groupID shared.GroupID, alias string) (join, where sqlfrag.Fragment)
}

// Providers bundles the collaborators Compose needs.
type Providers struct {
	Enrolment EnrolmentProvider
	Search    SearchProvider
	Group     GroupProvider

	// Capability defaults to CapabilityEarnBadge.
	Capability string
}

func (p Providers) validate() error {
	if p.Enrolment == nil || p.Search == nil || p.Group == nil {
		return errors.New("recipient: enrolment, search and group providers are required")
	}
	return nil
}

func (p Providers) capability() string {
	if p.Capability != "" {
		return p.Capability
	}
	return CapabilityEarnBadge
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store executes composed statements.
type Store interface {
	// CountRecipients runs a COUNT statement.
	CountRecipients(ctx context.Context, stmt sqlfrag.Fragment) (int, error)

	// ListRecipients runs a SELECT statement returning recipient rows.
	ListRecipients(ctx context.Context, stmt sqlfrag.Fragment) ([]Recipient, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITION
// ══════════════════════════════════════════════════════════════════════════════

const (
	userAlias    = "u"
	selectFields = "u.id, u.username, u.firstname, u.lastname, u.email"
)

// Statement is a composed search: the listing and its matching count.
type Statement struct {
	List  sqlfrag.Fragment
	Count sqlfrag.Fragment
}

// Compose builds the SQL for a variant of q.
//
// Both variants share the enrolment join, the search predicate and the group
// restriction. Existing adds a semi-join on manual awards for (badge, role);
// Potential adds the matching anti-join plus the caller's exclusion list.
func Compose(variant Variant, q Query, p Providers) (Statement, error) {
	if err := q.Validate(); err != nil {
		return Statement{}, err
	}
	if err := p.validate(); err != nil {
		return Statement{}, err
	}

	awardParams := sqlfrag.Params{
		"badgeid":    int64(q.BadgeID),
		"issuerrole": int64(q.IssuerRoleID),
	}

	joins := []sqlfrag.Fragment{
		sqlfrag.Wrap("JOIN (", p.Enrolment.EnrolledSQL(q.ContextID, p.capability()), ") je ON je.id = u.id"),
	}
	wheres := []sqlfrag.Fragment{
		p.Search.SearchSQL(q.Search, userAlias),
	}

	switch variant {
	case VariantExisting:
		wheres = append(wheres, sqlfrag.New(
			"EXISTS (SELECT 1 FROM badge_manual_awards bm WHERE bm.recipient_id = u.id"+
				" AND bm.badge_id = :badgeid AND bm.issuer_role_id = :issuerrole)",
			awardParams,
		))

	case VariantPotential:
		joins = append(joins, sqlfrag.New(
			"LEFT JOIN badge_manual_awards bm ON bm.recipient_id = u.id"+
				" AND bm.badge_id = :badgeid AND bm.issuer_role_id = :issuerrole",
			awardParams,
		))
		wheres = append(wheres,
			sqlfrag.Raw("bm.id IS NULL"),
			sqlfrag.In("u.id", "ex", toInt64s(q.ExcludedIDs), true),
		)

	default:
		return Statement{}, shared.WrapError("recipient", "Compose", shared.ErrInvalidInput, "unknown variant", nil)
	}

	if q.GroupID.IsValid() {
		join, where := p.Group.GroupSQL(q.GroupID, userAlias)
		joins = append(joins, join)
		wheres = append(wheres, where)
	}

	from := sqlfrag.Join(" ",
		sqlfrag.Raw("FROM users u"),
		sqlfrag.Join(" ", joins...),
		sqlfrag.Wrap("WHERE ", sqlfrag.Join(" AND ", wheres...), ""),
	)

	order := p.Search.OrderSQL(userAlias, q.Search)

	return Statement{
		List: sqlfrag.Join(" ",
			sqlfrag.Raw("SELECT "+selectFields),
			from,
			sqlfrag.Wrap("ORDER BY ", order, ""),
		),
		Count: sqlfrag.Join(" ", sqlfrag.Raw("SELECT COUNT(1)"), from),
	}, nil
}

func toInt64s(ids []shared.UserID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// NormalizeSearch trims the term the way every provider expects it.
func NormalizeSearch(term string) string {
	return strings.TrimSpace(term)
}
