// Package recipient describes how badge recipients are located among the users
// enrolled in a course context.
//
// Two variants share one filter pipeline: Existing finds users that already
// hold a manual award for (badge, issuer role); Potential finds enrolled users
// that do not, minus an explicit exclusion list. Compose turns a Query into SQL
// using pluggable providers for enrolment, search and group membership.
package recipient

import (
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// MaxRecipientsPerPage is the default ceiling above which a potential
// recipient search reports TooManyResults instead of a list.
const MaxRecipientsPerPage = 100

// CapabilityEarnBadge is the capability an enrolled user needs to be awarded.
const CapabilityEarnBadge = "moodle/badges:earnbadge"

// Group labels.
const (
	LabelExisting  = "Existing badge recipients"
	LabelPotential = "Potential badge recipients"
)

// ══════════════════════════════════════════════════════════════════════════════
// VARIANT & MODE
// ══════════════════════════════════════════════════════════════════════════════

// Variant selects which recipient set a query describes.
type Variant int

const (
	// VariantExisting selects users already awarded for (badge, issuer role).
	VariantExisting Variant = iota + 1

	// VariantPotential selects enrolled users not yet awarded.
	VariantPotential
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case VariantExisting:
		return "existing"
	case VariantPotential:
		return "potential"
	default:
		return "unknown"
	}
}

// Mode controls how a potential recipient search is executed.
type Mode int

const (
	// ModeRender counts candidates first and applies the page ceiling.
	ModeRender Mode = iota

	// ModeValidate only checks the search and skips the count.
	ModeValidate
)

// Options tunes a potential recipient search.
type Options struct {
	Mode Mode

	// MaxResults overrides the ceiling; zero means MaxRecipientsPerPage.
	MaxResults int
}

// Limit returns the effective ceiling.
func (o Options) Limit() int {
	if o.MaxResults > 0 {
		return o.MaxResults
	}
	return MaxRecipientsPerPage
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY
// ══════════════════════════════════════════════════════════════════════════════

// Query describes a single recipient search. It is never persisted.
type Query struct {
	BadgeID      shared.BadgeID
	IssuerRoleID shared.RoleID
	ContextID    shared.ContextID

	// Search is the free-text term; empty matches everyone.
	Search string

	// GroupID restricts to members of one group when set.
	GroupID shared.GroupID

	// ExcludedIDs are users already staged for award by the caller.
	// Only the potential variant honours them.
	ExcludedIDs []shared.UserID
}

// Validate checks the fields every variant needs.
func (q Query) Validate() error {
	switch {
	case !q.BadgeID.IsValid():
		return shared.WrapError("recipient", "Validate", shared.ErrInvalidRecipientQuery, "badge id is required", shared.ErrInvalidID)
	case !q.IssuerRoleID.IsValid():
		return shared.WrapError("recipient", "Validate", shared.ErrInvalidRecipientQuery, "issuer role id is required", shared.ErrInvalidID)
	case !q.ContextID.IsValid():
		return shared.WrapError("recipient", "Validate", shared.ErrInvalidRecipientQuery, "context id is required", shared.ErrInvalidID)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT
// ══════════════════════════════════════════════════════════════════════════════

// Recipient is a user row returned by a search.
type Recipient struct {
	ID        shared.UserID `json:"id"`
	Username  string        `json:"username"`
	FirstName string        `json:"firstname"`
	LastName  string        `json:"lastname"`
	Email     string        `json:"email"`
}

// FullName returns "first last".
func (r Recipient) FullName() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	default:
		return r.FirstName + " " + r.LastName
	}
}

// Group is a labelled bucket of recipients.
type Group struct {
	Label      string      `json:"label"`
	Recipients []Recipient `json:"recipients"`
}

// TooManyResults tells the caller to narrow the search.
type TooManyResults struct {
	Count  int    `json:"count"`
	Search string `json:"search"`
}

// Result is the outcome of a search. Exactly one of Groups or TooMany is
// meaningful; an empty potential search has neither.
type Result struct {
	Groups  []Group         `json:"groups"`
	TooMany *TooManyResults `json:"too_many,omitempty"`
}

// IDs returns the ids of all recipients in all groups.
func (r *Result) IDs() []shared.UserID {
	if r == nil {
		return nil
	}
	var ids []shared.UserID
	for _, g := range r.Groups {
		for _, rec := range g.Recipients {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// Len returns the number of recipients in all groups.
func (r *Result) Len() int {
	return len(r.IDs())
}
