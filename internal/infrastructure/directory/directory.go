// Package directory provides the default SQL implementations of the user
// directory collaborators used by the recipient selector: enrolment with a
// capability, free-text search with canonical ordering, and group membership.
//
// All fragments are portable between PostgreSQL and SQLite. Case folding
// goes through the Fold function so a backend whose LOWER only folds ASCII
// can supply a Unicode-aware one.
package directory

import (
	"strings"

	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/pkg/sqlfrag"
)

// Directory implements recipient.EnrolmentProvider, recipient.SearchProvider
// and recipient.GroupProvider over the users, enrolments, user_capabilities
// and group_members tables.
type Directory struct {
	// IncludeSuspended keeps suspended users in search results.
	IncludeSuspended bool

	// Fold names the SQL function that lowercases names for matching. It must
	// agree with strings.ToLower, which folds the search term.
	Fold string
}

// DefaultFold is the SQL LOWER function. PostgreSQL folds Unicode with it.
const DefaultFold = "LOWER"

// New creates a Directory folding with DefaultFold.
func New() *Directory {
	return &Directory{Fold: DefaultFold}
}

func (d *Directory) lower(expr string) string {
	fn := d.Fold
	if fn == "" {
		fn = DefaultFold
	}
	return fn + "(" + expr + ")"
}

// Providers returns a recipient.Providers backed by d.
func (d *Directory) Providers(capability string) recipient.Providers {
	return recipient.Providers{
		Enrolment:  d,
		Search:     d,
		Group:      d,
		Capability: capability,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLMENT
// ══════════════════════════════════════════════════════════════════════════════

// EnrolledSQL returns the ids of users with an active enrolment in the context
// who hold the capability there.
func (d *Directory) EnrolledSQL(contextID shared.ContextID, capability string) sqlfrag.Fragment {
	return sqlfrag.New(
		"SELECT DISTINCT e.user_id AS id FROM enrolments e"+
			" JOIN user_capabilities uc ON uc.user_id = e.user_id AND uc.context_id = e.context_id"+
			" WHERE e.context_id = :enrolctx AND e.active AND uc.capability = :enrolcap",
		sqlfrag.Params{
			"enrolctx": int64(contextID),
			"enrolcap": capability,
		},
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// SEARCH
// ══════════════════════════════════════════════════════════════════════════════

// SearchSQL matches term against the full name, email and username. Deleted
// users never match.
func (d *Directory) SearchSQL(term, alias string) sqlfrag.Fragment {
	base := "NOT " + alias + ".deleted"
	if !d.IncludeSuspended {
		base += " AND NOT " + alias + ".suspended"
	}

	term = recipient.NormalizeSearch(term)
	if term == "" {
		return sqlfrag.Raw(base)
	}

	like := func(expr string) string {
		return d.lower(expr) + " LIKE :usersearch ESCAPE '\\'"
	}
	return sqlfrag.New(
		base+" AND ("+
			like(fullName(alias))+" OR "+
			like(alias+".email")+" OR "+
			like(alias+".username")+")",
		sqlfrag.Params{"usersearch": "%" + EscapeLike(strings.ToLower(term)) + "%"},
	)
}

// OrderSQL orders by last name, first name and id. With a term, users whose
// full name equals it come first.
func (d *Directory) OrderSQL(alias, term string) sqlfrag.Fragment {
	order := alias + ".lastname, " + alias + ".firstname, " + alias + ".id"

	term = recipient.NormalizeSearch(term)
	if term == "" {
		return sqlfrag.Raw(order)
	}

	return sqlfrag.New(
		"CASE WHEN "+d.lower(fullName(alias))+" = :usersortexact THEN 0 ELSE 1 END, "+order,
		sqlfrag.Params{"usersortexact": strings.ToLower(term)},
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUPS
// ══════════════════════════════════════════════════════════════════════════════

// GroupSQL restricts alias to members of groupID.
func (d *Directory) GroupSQL(groupID shared.GroupID, alias string) (sqlfrag.Fragment, sqlfrag.Fragment) {
	join := sqlfrag.Raw("JOIN group_members gm ON gm.user_id = " + alias + ".id")
	where := sqlfrag.New("gm.group_id = :grpid", sqlfrag.Params{"grpid": int64(groupID)})
	return join, where
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// EscapeLike escapes LIKE wildcards with a backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func fullName(alias string) string {
	return alias + ".firstname || ' ' || " + alias + ".lastname"
}
