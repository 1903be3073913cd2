package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/internal/infrastructure/messaging"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/sqlite"
)

type failingAudit struct {
	badge.AuditRepository
	err error
}

func (f failingAudit) Append(context.Context, *badge.AuditEntry) error { return f.err }

type payloadEvent struct {
	shared.BaseEvent
	payload map[string]interface{}
}

func (e payloadEvent) Payload() map[string]interface{} { return e.payload }

func TestOnBadgeEvent_RecordsRevocation(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	h := NewOnBadgeEventHandler(store.Audit(), nil)

	event := shared.NewBadgeRevokedEvent(7, 42, 11)
	event.BaseEvent = event.WithCorrelationID("req-1")
	require.NoError(t, h.Handle(event))

	entries, err := store.Audit().ListByBadge(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].CorrelationID)
	assert.Equal(t, string(shared.EventBadgeRevoked), entries[0].EventType)
	assert.Equal(t, shared.UserID(42), entries[0].RecipientID)
	assert.Equal(t, shared.ContextID(11), entries[0].ContextID)
	assert.WithinDuration(t, event.OccurredAt(), entries[0].OccurredAt, time.Millisecond)
}

func TestOnBadgeEvent_RecordsRemoteAward(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	// JSON numbers decode as float64.
	event, _, err := messaging.DecodeEvent([]byte(`{
		"instance_id": "other",
		"event_type": "badge.awarded",
		"aggregate_id": "7",
		"correlation_id": "req-2",
		"occurred_at": "2026-03-01T12:00:00Z",
		"payload": {"badge_id": 7, "recipient_id": 42, "issuer_id": 1, "issuer_role_id": 3}
	}`))
	require.NoError(t, err)

	h := NewOnBadgeEventHandler(store.Audit(), nil)
	require.NoError(t, h.Handle(event))

	entries, err := store.Audit().ListByBadge(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-2", entries[0].CorrelationID)
	assert.Equal(t, string(shared.EventBadgeAwarded), entries[0].EventType)
	assert.Equal(t, shared.ContextID(0), entries[0].ContextID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), entries[0].OccurredAt)
}

func TestOnBadgeEvent_MalformedPayloadIsDropped(t *testing.T) {
	h := NewOnBadgeEventHandler(failingAudit{err: errors.New("must not be called")}, nil)

	event := payloadEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventBadgeRevoked, "7"),
		payload:   map[string]interface{}{"recipient_id": "42"},
	}
	assert.NoError(t, h.Handle(event))
}

func TestOnBadgeEvent_UnsupportedEventIgnored(t *testing.T) {
	h := NewOnBadgeEventHandler(failingAudit{err: errors.New("must not be called")}, nil)

	event := payloadEvent{BaseEvent: shared.NewBaseEvent("badge.viewed", "7")}
	assert.NoError(t, h.Handle(event))
}

func TestOnBadgeEvent_StorageErrorIsReturned(t *testing.T) {
	h := NewOnBadgeEventHandler(failingAudit{err: errors.New("disk full")}, nil)

	err := h.Handle(shared.NewBadgeAwardedEvent(7, 42, 1, 3))
	assert.ErrorContains(t, err, "disk full")
}

func TestOnBadgeEvent_EventTypes(t *testing.T) {
	h := NewOnBadgeEventHandler(nil, nil)
	assert.ElementsMatch(t, []shared.EventType{shared.EventBadgeAwarded, shared.EventBadgeRevoked}, h.EventTypes())
}
