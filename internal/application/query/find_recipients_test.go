package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-badges/internal/application/command"
	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/internal/infrastructure/directory"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/sqlite"
)

const (
	testContext shared.ContextID = 11
	testIssuer  shared.UserID    = 1000
	testRole    shared.RoleID    = 3
)

type fixture struct {
	store   *sqlite.Store
	finder  *FindRecipientsHandler
	award   *command.AwardBadgeHandler
	badgeID shared.BadgeID
	users   map[string]shared.UserID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	b := &badge.Badge{Name: "Team Player", ContextID: testContext}
	require.NoError(t, store.Badges().Create(ctx, b))

	dir := directory.New()
	dir.Fold = sqlite.FoldFunc

	f := &fixture{
		store:   store,
		finder:  NewFindRecipientsHandler(store.Recipients(), dir.Providers(""), store.Badges(), 0, nil),
		award:   command.NewAwardBadgeHandler(store.Awards(), nil, nil),
		badgeID: b.ID,
		users:   make(map[string]shared.UserID),
	}

	for _, u := range []sqlite.DirectoryUser{
		{Username: "alee", FirstName: "Ann", LastName: "Lee", Email: "ann@example.com"},
		{Username: "bkim", FirstName: "Bo", LastName: "Kim", Email: "bo@example.com"},
		{Username: "cann", FirstName: "Cara", LastName: "Annton", Email: "cara@example.com"},
		{Username: "dmor", FirstName: "Dan", LastName: "Moreau", Email: "dan@example.com"},
	} {
		f.addEnrolled(t, u)
	}
	return f
}

func (f *fixture) addEnrolled(t *testing.T, u sqlite.DirectoryUser) shared.UserID {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.AddUser(ctx, &u))
	require.NoError(t, f.store.Enrol(ctx, testContext, u.ID, recipient.CapabilityEarnBadge))
	f.users[u.Username] = u.ID
	return u.ID
}

func (f *fixture) query() recipient.Query {
	return recipient.Query{BadgeID: f.badgeID, IssuerRoleID: testRole}
}

func (f *fixture) awardTo(t *testing.T, username string, role shared.RoleID) {
	t.Helper()
	ok, err := f.award.Handle(context.Background(), command.AwardBadgeCommand{
		RecipientID:  f.users[username],
		IssuerID:     testIssuer,
		IssuerRoleID: role,
		BadgeID:      f.badgeID,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func usernames(r *recipient.Result) []string {
	var out []string
	for _, g := range r.Groups {
		for _, rec := range g.Recipients {
			out = append(out, rec.Username)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestFindRecipients_AwardMovesUserToExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	existing, err := f.finder.FindExisting(ctx, f.query())
	require.NoError(t, err)
	require.Len(t, existing.Groups, 1)
	assert.Equal(t, recipient.LabelExisting, existing.Groups[0].Label)
	assert.Empty(t, existing.Groups[0].Recipients)

	f.awardTo(t, "alee", testRole)

	existing, err = f.finder.FindExisting(ctx, f.query())
	require.NoError(t, err)
	assert.Equal(t, []string{"alee"}, usernames(existing))

	potential, err := f.finder.FindPotential(ctx, f.query(), recipient.Options{})
	require.NoError(t, err)
	require.Len(t, potential.Groups, 1)
	assert.Equal(t, recipient.LabelPotential, potential.Groups[0].Label)
	assert.Equal(t, []string{"cann", "bkim", "dmor"}, usernames(potential))
}

func TestFindRecipients_ExistingAndPotentialAreDisjoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.awardTo(t, "alee", testRole)
	f.awardTo(t, "dmor", testRole)
	f.awardTo(t, "bkim", testRole+1)
	require.NoError(t, f.store.AddGroupMember(ctx, 5, f.users["alee"]))
	require.NoError(t, f.store.AddGroupMember(ctx, 5, f.users["bkim"]))

	for _, search := range []string{"", "an", "example", "zzz"} {
		for _, group := range []shared.GroupID{0, 5} {
			q := f.query()
			q.Search = search
			q.GroupID = group

			existing, err := f.finder.FindExisting(ctx, q)
			require.NoError(t, err)
			potential, err := f.finder.FindPotential(ctx, q, recipient.Options{})
			require.NoError(t, err)

			seen := make(map[shared.UserID]bool)
			for _, id := range existing.IDs() {
				seen[id] = true
			}
			for _, id := range potential.IDs() {
				assert.False(t, seen[id], "user %d in both sets (search %q, group %d)", id, search, group)
			}
		}
	}
}

func TestFindRecipients_OtherRoleIsStillPotential(t *testing.T) {
	f := newFixture(t)
	f.awardTo(t, "bkim", testRole+1)

	potential, err := f.finder.FindPotential(context.Background(), f.query(), recipient.Options{})
	require.NoError(t, err)
	assert.Contains(t, usernames(potential), "bkim")
}

func TestFindRecipients_ExcludeAllReturnsEmpty(t *testing.T) {
	f := newFixture(t)

	q := f.query()
	for _, id := range f.users {
		q.ExcludedIDs = append(q.ExcludedIDs, id)
	}

	result, err := f.finder.FindPotential(context.Background(), q, recipient.Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Groups)
	assert.Nil(t, result.TooMany)
}

func TestFindRecipients_ExcludedIDsOnlyAffectPotential(t *testing.T) {
	f := newFixture(t)
	f.awardTo(t, "alee", testRole)

	q := f.query()
	q.ExcludedIDs = []shared.UserID{f.users["alee"], f.users["bkim"]}

	existing, err := f.finder.FindExisting(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"alee"}, usernames(existing))

	potential, err := f.finder.FindPotential(context.Background(), q, recipient.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cann", "dmor"}, usernames(potential))
}

func TestFindRecipients_TooManyThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Four users already exist; bring the pool to exactly the ceiling.
	for i := len(f.users); i < recipient.MaxRecipientsPerPage; i++ {
		f.addEnrolled(t, sqlite.DirectoryUser{
			Username:  fmt.Sprintf("bulk%03d", i),
			FirstName: "Bulk",
			LastName:  fmt.Sprintf("User%03d", i),
		})
	}

	atLimit, err := f.finder.FindPotential(ctx, f.query(), recipient.Options{})
	require.NoError(t, err)
	assert.Nil(t, atLimit.TooMany)
	assert.Equal(t, recipient.MaxRecipientsPerPage, atLimit.Len())

	f.addEnrolled(t, sqlite.DirectoryUser{Username: "onemore", FirstName: "One", LastName: "More"})

	over, err := f.finder.FindPotential(ctx, f.query(), recipient.Options{})
	require.NoError(t, err)
	require.NotNil(t, over.TooMany)
	assert.Equal(t, recipient.MaxRecipientsPerPage+1, over.TooMany.Count)
	assert.Empty(t, over.Groups)

	validating, err := f.finder.FindPotential(ctx, f.query(), recipient.Options{Mode: recipient.ModeValidate})
	require.NoError(t, err)
	assert.Nil(t, validating.TooMany)
	assert.Equal(t, recipient.MaxRecipientsPerPage+1, validating.Len())

	narrowed := f.query()
	narrowed.Search = "Bulk User01"
	small, err := f.finder.FindPotential(ctx, narrowed, recipient.Options{})
	require.NoError(t, err)
	assert.Nil(t, small.TooMany)
	assert.Equal(t, 10, small.Len())
}

func TestFindRecipients_CustomLimit(t *testing.T) {
	f := newFixture(t)
	f.finder = NewFindRecipientsHandler(f.store.Recipients(), directory.New().Providers(""), f.store.Badges(), 3, nil)

	result, err := f.finder.FindPotential(context.Background(), f.query(), recipient.Options{})
	require.NoError(t, err)
	require.NotNil(t, result.TooMany)
	assert.Equal(t, 4, result.TooMany.Count)

	result, err = f.finder.FindPotential(context.Background(), f.query(), recipient.Options{MaxResults: 10})
	require.NoError(t, err)
	assert.Nil(t, result.TooMany)
}

func TestFindRecipients_SearchAndOrdering(t *testing.T) {
	f := newFixture(t)
	f.addEnrolled(t, sqlite.DirectoryUser{Username: "zann", FirstName: "Ann", LastName: "Zed"})

	q := f.query()
	q.Search = "  ann  "
	result, err := f.finder.FindPotential(context.Background(), q, recipient.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cann", "alee", "zann"}, usernames(result))

	q.Search = "ann zed"
	result, err = f.finder.FindPotential(context.Background(), q, recipient.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"zann"}, usernames(result))

	// Exact full-name match ranks first.
	f.addEnrolled(t, sqlite.DirectoryUser{Username: "aaron", FirstName: "Bo", LastName: "Kimball"})
	q.Search = "bo kim"
	result, err = f.finder.FindPotential(context.Background(), q, recipient.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"bkim", "aaron"}, usernames(result))
}

func TestFindRecipients_SearchFoldsNonASCII(t *testing.T) {
	f := newFixture(t)
	f.addEnrolled(t, sqlite.DirectoryUser{Username: "ezola", FirstName: "Émile", LastName: "Zola"})
	f.addEnrolled(t, sqlite.DirectoryUser{Username: "ezolan", FirstName: "Émile", LastName: "Zolan"})

	q := f.query()
	for _, term := range []string{"Émile", "émile", "ÉMILE"} {
		q.Search = term
		result, err := f.finder.FindPotential(context.Background(), q, recipient.Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"ezola", "ezolan"}, usernames(result), term)
	}

	// Exact full-name match ranks first after folding.
	q.Search = "ÉMILE ZOLAN"
	result, err := f.finder.FindPotential(context.Background(), q, recipient.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ezolan"}, usernames(result))

	q.Search = "émile zola"
	result, err = f.finder.FindPotential(context.Background(), q, recipient.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ezola", "ezolan"}, usernames(result))
}

func TestFindRecipients_GroupRestriction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.AddGroupMember(ctx, 9, f.users["dmor"]))
	require.NoError(t, f.store.AddGroupMember(ctx, 9, f.users["bkim"]))
	f.awardTo(t, "bkim", testRole)

	q := f.query()
	q.GroupID = 9

	potential, err := f.finder.FindPotential(ctx, q, recipient.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dmor"}, usernames(potential))

	existing, err := f.finder.FindExisting(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"bkim"}, usernames(existing))
}

func TestFindRecipients_ExistingListsRecipientOnce(t *testing.T) {
	f := newFixture(t)
	f.awardTo(t, "alee", testRole)

	ok, err := f.award.Handle(context.Background(), command.AwardBadgeCommand{
		RecipientID: f.users["alee"], IssuerID: testIssuer + 1, IssuerRoleID: testRole, BadgeID: f.badgeID,
	})
	require.NoError(t, err)
	require.True(t, ok)

	existing, err := f.finder.FindExisting(context.Background(), f.query())
	require.NoError(t, err)
	assert.Equal(t, []string{"alee"}, usernames(existing))
}

func TestFindRecipients_UnknownBadge(t *testing.T) {
	f := newFixture(t)
	q := f.query()
	q.BadgeID = 404

	_, err := f.finder.FindPotential(context.Background(), q, recipient.Options{})
	assert.ErrorIs(t, err, shared.ErrBadgeNotFound)
}

func TestFindRecipients_InvalidQuery(t *testing.T) {
	f := newFixture(t)

	_, err := f.finder.FindExisting(context.Background(), recipient.Query{BadgeID: f.badgeID})
	assert.True(t, shared.IsValidation(err))
}
