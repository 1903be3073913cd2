package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/sqlite"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type memoryAwards struct {
	mu      sync.Mutex
	records map[badge.AwardKey]*badge.AwardRecord

	existsErr error
	createErr error
	deleteErr error

	// hideOnExists makes Exists report false once, to simulate a lost race.
	hideOnExists bool
}

func newMemoryAwards() *memoryAwards {
	return &memoryAwards{records: make(map[badge.AwardKey]*badge.AwardRecord)}
}

func (m *memoryAwards) Exists(_ context.Context, key badge.AwardKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	if m.hideOnExists {
		m.hideOnExists = false
		return false, nil
	}
	_, ok := m.records[key]
	return ok, nil
}

func (m *memoryAwards) Create(_ context.Context, rec *badge.AwardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.records[rec.AwardKey]; ok {
		return shared.ErrAwardAlreadyExists
	}
	rec.ID = int64(len(m.records) + 1)
	m.records[rec.AwardKey] = rec
	return nil
}

func (m *memoryAwards) DeleteByIssuer(_ context.Context, badgeID shared.BadgeID, issuerID, recipientID shared.UserID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var n int64
	for k := range m.records {
		if k.BadgeID == badgeID && k.IssuerID == issuerID && k.RecipientID == recipientID {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

type memoryIssued struct {
	rows      map[[2]int64]int
	deleteErr error
	calls     int
}

func newMemoryIssued() *memoryIssued {
	return &memoryIssued{rows: make(map[[2]int64]int)}
}

func (m *memoryIssued) Create(_ context.Context, b *badge.IssuedBadge) error {
	m.rows[[2]int64{int64(b.BadgeID), int64(b.UserID)}]++
	return nil
}

func (m *memoryIssued) DeleteByRecipient(_ context.Context, badgeID shared.BadgeID, userID shared.UserID) (int64, error) {
	m.calls++
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	k := [2]int64{int64(badgeID), int64(userID)}
	n := m.rows[k]
	delete(m.rows, k)
	return int64(n), nil
}

func (m *memoryIssued) ListByUser(context.Context, badge.UserBadgeFilter) ([]*badge.IssuedBadge, error) {
	return nil, nil
}

type staticBadges struct {
	badges map[shared.BadgeID]*badge.Badge
}

func (s staticBadges) Create(context.Context, *badge.Badge) error { return nil }

func (s staticBadges) GetByID(_ context.Context, id shared.BadgeID) (*badge.Badge, error) {
	if b, ok := s.badges[id]; ok {
		return b, nil
	}
	return nil, shared.ErrBadgeNotFound
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD
// ══════════════════════════════════════════════════════════════════════════════

var testKey = badge.AwardKey{BadgeID: 12, IssuerID: 2, IssuerRoleID: 3, RecipientID: 40}

func awardCmd(k badge.AwardKey) AwardBadgeCommand {
	return AwardBadgeCommand{BadgeID: k.BadgeID, IssuerID: k.IssuerID, IssuerRoleID: k.IssuerRoleID, RecipientID: k.RecipientID}
}

func revokeCmd(k badge.AwardKey) RevokeBadgeCommand {
	return RevokeBadgeCommand{BadgeID: k.BadgeID, IssuerID: k.IssuerID, IssuerRoleID: k.IssuerRoleID, RecipientID: k.RecipientID}
}

func TestAwardBadge_DuplicateReturnsFalse(t *testing.T) {
	awards := newMemoryAwards()
	pub := &recordingPublisher{}
	h := NewAwardBadgeHandler(awards, pub, nil)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	first, err := h.Handle(context.Background(), awardCmd(testKey))
	require.NoError(t, err)
	second, err := h.Handle(context.Background(), awardCmd(testKey))
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false}, []bool{first, second})
	assert.Len(t, awards.records, 1)
	assert.Equal(t, fixed, awards.records[testKey].DateMet)
	assert.Len(t, pub.ofType(shared.EventBadgeAwarded), 1)
}

func TestAwardBadge_ConcurrentDuplicateFoldsToFalse(t *testing.T) {
	awards := newMemoryAwards()
	require.NoError(t, awards.Create(context.Background(), badge.NewAwardRecord(testKey, time.Now())))
	awards.hideOnExists = true

	ok, err := NewAwardBadgeHandler(awards, nil, nil).Handle(context.Background(), awardCmd(testKey))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, awards.records, 1)
}

func TestAwardBadge_StorageFailure(t *testing.T) {
	cause := errors.New("disk full")

	awards := newMemoryAwards()
	awards.createErr = cause
	_, err := NewAwardBadgeHandler(awards, nil, nil).Handle(context.Background(), awardCmd(testKey))
	assert.ErrorIs(t, err, cause)
	assert.True(t, shared.IsStorage(err))

	awards = newMemoryAwards()
	awards.existsErr = cause
	_, err = NewAwardBadgeHandler(awards, nil, nil).Handle(context.Background(), awardCmd(testKey))
	assert.ErrorIs(t, err, cause)
}

func TestAwardBadge_Validation(t *testing.T) {
	_, err := NewAwardBadgeHandler(newMemoryAwards(), nil, nil).Handle(context.Background(), AwardBadgeCommand{BadgeID: 1})
	assert.True(t, shared.IsValidation(err))
}

func TestAwardBadge_PublishFailureDoesNotFail(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("bus down")}
	ok, err := NewAwardBadgeHandler(newMemoryAwards(), pub, nil).Handle(context.Background(), awardCmd(testKey))
	require.NoError(t, err)
	assert.True(t, ok)
}

// ══════════════════════════════════════════════════════════════════════════════
// REVOKE
// ══════════════════════════════════════════════════════════════════════════════

func newRevoke(awards *memoryAwards, issued *memoryIssued, pub shared.EventPublisher) *RevokeBadgeHandler {
	badges := staticBadges{badges: map[shared.BadgeID]*badge.Badge{
		testKey.BadgeID: {ID: testKey.BadgeID, Name: "Helper", ContextID: 77},
	}}
	return NewRevokeBadgeHandler(awards, issued, badges, pub, nil)
}

func TestRevokeBadge_WithoutAwardIsNotFound(t *testing.T) {
	pub := &recordingPublisher{}
	ok, err := newRevoke(newMemoryAwards(), newMemoryIssued(), pub).Handle(context.Background(), revokeCmd(testKey))

	assert.False(t, ok)
	assert.ErrorIs(t, err, shared.ErrAwardNotFound)
	assert.True(t, shared.IsNotFound(err))
	assert.Empty(t, pub.events)
}

func TestRevokeBadge_AwardThenRevokeTwice(t *testing.T) {
	ctx := context.Background()
	awards := newMemoryAwards()
	issued := newMemoryIssued()
	pub := &recordingPublisher{}

	ok, err := NewAwardBadgeHandler(awards, pub, nil).Handle(ctx, awardCmd(testKey))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, issued.Create(ctx, badge.NewIssuedBadge(testKey.BadgeID, testKey.RecipientID, time.Now(), nil, true)))

	revoke := newRevoke(awards, issued, pub)

	ok, err = revoke.Handle(ctx, revokeCmd(testKey))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, awards.records)
	assert.Empty(t, issued.rows)

	_, err = revoke.Handle(ctx, revokeCmd(testKey))
	assert.ErrorIs(t, err, shared.ErrAwardNotFound)

	revoked := pub.ofType(shared.EventBadgeRevoked)
	require.Len(t, revoked, 1, "exactly one event per successful revoke")
	ev := revoked[0].(shared.BadgeRevokedEvent)
	assert.Equal(t, int64(testKey.BadgeID), ev.BadgeID)
	assert.Equal(t, int64(testKey.RecipientID), ev.RecipientID)
	assert.Equal(t, int64(77), ev.ContextID)
}

func TestRevokeBadge_SucceedsWithoutIssuedBadge(t *testing.T) {
	awards := newMemoryAwards()
	require.NoError(t, awards.Create(context.Background(), badge.NewAwardRecord(testKey, time.Now())))
	issued := newMemoryIssued()

	ok, err := newRevoke(awards, issued, nil).Handle(context.Background(), revokeCmd(testKey))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, issued.calls)
}

func TestRevokeBadge_IssuedDeleteFailurePropagates(t *testing.T) {
	cause := errors.New("connection reset")
	awards := newMemoryAwards()
	require.NoError(t, awards.Create(context.Background(), badge.NewAwardRecord(testKey, time.Now())))
	issued := newMemoryIssued()
	issued.deleteErr = cause
	pub := &recordingPublisher{}

	ok, err := newRevoke(awards, issued, pub).Handle(context.Background(), revokeCmd(testKey))
	assert.False(t, ok)
	assert.ErrorIs(t, err, cause)
	assert.True(t, shared.IsStorage(err))
	assert.Empty(t, pub.events)
}

func TestRevokeBadge_AwardDeleteFailureSuppressesEvent(t *testing.T) {
	cause := errors.New("deadlock")
	awards := newMemoryAwards()
	require.NoError(t, awards.Create(context.Background(), badge.NewAwardRecord(testKey, time.Now())))
	awards.deleteErr = cause
	issued := newMemoryIssued()
	pub := &recordingPublisher{}

	ok, err := newRevoke(awards, issued, pub).Handle(context.Background(), revokeCmd(testKey))
	assert.False(t, ok)
	assert.ErrorIs(t, err, cause)
	assert.Zero(t, issued.calls, "issued badges untouched")
	assert.Empty(t, pub.events)
}

func TestRevokeBadge_UnknownBadgeContextStillEmits(t *testing.T) {
	key := testKey
	key.BadgeID = 99
	awards := newMemoryAwards()
	require.NoError(t, awards.Create(context.Background(), badge.NewAwardRecord(key, time.Now())))
	pub := &recordingPublisher{}

	ok, err := newRevoke(awards, newMemoryIssued(), pub).Handle(context.Background(), revokeCmd(key))
	require.NoError(t, err)
	assert.True(t, ok)

	revoked := pub.ofType(shared.EventBadgeRevoked)
	require.Len(t, revoked, 1)
	assert.Zero(t, revoked[0].(shared.BadgeRevokedEvent).ContextID)
}

// Pins the current behaviour: the existence check includes the role, the
// delete does not, so one revoke clears the issuer's awards under every role.
func TestRevokeBadge_DeletesAcrossRoles(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	award := NewAwardBadgeHandler(store.Awards(), nil, nil)
	otherRole := testKey
	otherRole.IssuerRoleID = 5
	otherIssuer := testKey
	otherIssuer.IssuerID = 8

	for _, k := range []badge.AwardKey{testKey, otherRole, otherIssuer} {
		ok, err := award.Handle(ctx, awardCmd(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	pub := &recordingPublisher{}
	revoke := NewRevokeBadgeHandler(store.Awards(), store.Issued(), store.Badges(), pub, nil)

	ok, err := revoke.Handle(ctx, revokeCmd(testKey))
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := store.Awards().Exists(ctx, otherRole)
	require.NoError(t, err)
	assert.False(t, exists, "award under another role removed too")

	exists, err = store.Awards().Exists(ctx, otherIssuer)
	require.NoError(t, err)
	assert.True(t, exists, "another issuer's award kept")

	_, err = revoke.Handle(ctx, revokeCmd(otherRole))
	assert.ErrorIs(t, err, shared.ErrAwardNotFound)
	assert.Len(t, pub.ofType(shared.EventBadgeRevoked), 1)
}
