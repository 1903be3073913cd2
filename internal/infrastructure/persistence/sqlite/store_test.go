package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/internal/infrastructure/directory"
)

func openMemory(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badges.db")

	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer second.Close()

	var n int
	require.NoError(t, second.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 3, n)
}

func TestUpSection(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (id INTEGER);\n", upSection(content))
	assert.Equal(t, "SELECT 1;", upSection("SELECT 1;"))
}

func TestAwardRepository_UniqueKey(t *testing.T) {
	ctx := context.Background()
	awards := openMemory(t).Awards()
	key := badge.AwardKey{BadgeID: 1, IssuerID: 2, IssuerRoleID: 3, RecipientID: 4}

	exists, err := awards.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	rec := badge.NewAwardRecord(key, time.Now())
	require.NoError(t, awards.Create(ctx, rec))
	assert.NotZero(t, rec.ID)

	exists, err = awards.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	err = awards.Create(ctx, badge.NewAwardRecord(key, time.Now()))
	assert.ErrorIs(t, err, shared.ErrAwardAlreadyExists)
}

func TestAwardRepository_DeleteByIssuerIgnoresRole(t *testing.T) {
	ctx := context.Background()
	awards := openMemory(t).Awards()

	for _, k := range []badge.AwardKey{
		{BadgeID: 1, IssuerID: 2, IssuerRoleID: 3, RecipientID: 4},
		{BadgeID: 1, IssuerID: 2, IssuerRoleID: 5, RecipientID: 4},
		{BadgeID: 1, IssuerID: 9, IssuerRoleID: 3, RecipientID: 4},
	} {
		require.NoError(t, awards.Create(ctx, badge.NewAwardRecord(k, time.Now())))
	}

	n, err := awards.DeleteByIssuer(ctx, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	exists, err := awards.Exists(ctx, badge.AwardKey{BadgeID: 1, IssuerID: 9, IssuerRoleID: 3, RecipientID: 4})
	require.NoError(t, err)
	assert.True(t, exists, "other issuer's award survives")

	n, err = awards.DeleteByIssuer(ctx, 1, 2, 4)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIssuedRepository_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	math := &badge.Badge{Name: "Math Wizard", ContextID: 10}
	art := &badge.Badge{Name: "Art_Star", ContextID: 20}
	require.NoError(t, store.Badges().Create(ctx, math))
	require.NoError(t, store.Badges().Create(ctx, art))

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	expire := base.Add(24 * time.Hour)
	issued := []*badge.IssuedBadge{
		badge.NewIssuedBadge(math.ID, 7, base, &expire, true),
		badge.NewIssuedBadge(art.ID, 7, base.Add(time.Hour), nil, false),
		badge.NewIssuedBadge(math.ID, 8, base, nil, true),
	}
	for _, b := range issued {
		require.NoError(t, store.Issued().Create(ctx, b))
	}

	all, err := store.Issued().ListByUser(ctx, badge.UserBadgeFilter{UserID: 7})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Art_Star", all[0].BadgeName, "newest first")
	assert.Equal(t, shared.ContextID(10), all[1].ContextID)
	require.NotNil(t, all[1].DateExpire)
	assert.True(t, all[1].DateExpire.Equal(expire))

	visible, err := store.Issued().ListByUser(ctx, badge.UserBadgeFilter{UserID: 7, OnlyVisible: true})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, math.ID, visible[0].BadgeID)

	// "_" is literal, not a wildcard.
	searched, err := store.Issued().ListByUser(ctx, badge.UserBadgeFilter{UserID: 7, Search: "t_s"})
	require.NoError(t, err)
	require.Len(t, searched, 1)
	assert.Equal(t, art.ID, searched[0].BadgeID)

	searched, err = store.Issued().ListByUser(ctx, badge.UserBadgeFilter{UserID: 7, Search: "h_w"})
	require.NoError(t, err)
	assert.Empty(t, searched)

	paged, err := store.Issued().ListByUser(ctx, badge.UserBadgeFilter{UserID: 7, Page: 1, PerPage: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, math.ID, paged[0].BadgeID)

	byContext, err := store.Issued().ListByUser(ctx, badge.UserBadgeFilter{UserID: 7, ContextID: 20})
	require.NoError(t, err)
	require.Len(t, byContext, 1)

	n, err := store.Issued().DeleteByRecipient(ctx, math.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Issued().DeleteByRecipient(ctx, math.ID, 7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIssuedRepository_HashCollision(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Issued().Create(ctx, badge.NewIssuedBadge(1, 2, at, nil, true)))

	err := store.Issued().Create(ctx, badge.NewIssuedBadge(1, 2, at, nil, true))
	assert.True(t, shared.IsAlreadyExists(err))
}

func TestBadgeRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	badges := openMemory(t).Badges()

	b := &badge.Badge{Name: "Helper", ContextID: 42}
	require.NoError(t, badges.Create(ctx, b))

	got, err := badges.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Helper", got.Name)
	assert.Equal(t, shared.ContextID(42), got.ContextID)

	_, err = badges.GetByID(ctx, 999)
	assert.ErrorIs(t, err, shared.ErrBadgeNotFound)
}

func TestAuditRepository(t *testing.T) {
	ctx := context.Background()
	audit := openMemory(t).Audit()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, audit.Append(ctx, &badge.AuditEntry{
			EventType:   string(shared.EventBadgeRevoked),
			BadgeID:     5,
			RecipientID: shared.UserID(i + 1),
			OccurredAt:  at.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := audit.ListByBadge(ctx, 5, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, shared.UserID(3), entries[0].RecipientID)
	assert.True(t, entries[0].OccurredAt.Equal(at.Add(2*time.Minute)))

	none, err := audit.ListByBadge(ctx, 6, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecipientStore_WithDirectory(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	users := []*DirectoryUser{
		{Username: "alee", FirstName: "Ann", LastName: "Lee", Email: "ann@example.com"},
		{Username: "bkim", FirstName: "Bo", LastName: "Kim", Email: "bo@example.com"},
		{Username: "gone", FirstName: "Old", LastName: "User", Deleted: true},
		{Username: "nocap", FirstName: "No", LastName: "Cap"},
	}
	for _, u := range users {
		require.NoError(t, store.AddUser(ctx, u))
	}
	for _, u := range users[:3] {
		require.NoError(t, store.Enrol(ctx, 11, u.ID, recipient.CapabilityEarnBadge))
	}
	require.NoError(t, store.Enrol(ctx, 11, users[3].ID))

	q := recipient.Query{BadgeID: 1, IssuerRoleID: 3, ContextID: 11}
	stmt, err := recipient.Compose(recipient.VariantPotential, q, directory.New().Providers(""))
	require.NoError(t, err)

	n, err := store.Recipients().CountRecipients(ctx, stmt.Count)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := store.Recipients().ListRecipients(ctx, stmt.List)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bkim", list[0].Username, "ordered by last name")
	assert.Equal(t, "alee", list[1].Username)
}
