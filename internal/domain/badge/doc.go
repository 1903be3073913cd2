// Package badge contains the domain model of manually awarded badges.
//
// The package defines:
//
//   - Entities: AwardRecord (a manual grant), IssuedBadge (the recipient-facing
//     evidence of having earned a badge)
//   - Value objects: AwardKey, the natural key of a manual grant
//   - Repository interfaces implemented in infrastructure/persistence
//
// # Awards and issued badges
//
// An AwardRecord is created by an issuer acting under a role. At most one
// record exists per AwardKey; stores enforce this with a unique constraint.
//
// An IssuedBadge is a separate artifact. It may be produced by automatic
// criteria as well as by manual awards, so revoking a manual award removes it
// when present. A missing IssuedBadge is not an error; a storage failure is:
//
//	key := badge.AwardKey{BadgeID: 12, IssuerID: 2, IssuerRoleID: 3, RecipientID: 40}
//	record := badge.NewAwardRecord(key, time.Now())
//
// # Repositories
//
// AwardRepository, IssuedRepository and BadgeRepository form the persistence
// port. The application layer never talks to a driver directly.
package badge
