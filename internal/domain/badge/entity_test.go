package badge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

func TestAwardKey_Validate(t *testing.T) {
	valid := AwardKey{BadgeID: 1, IssuerID: 2, IssuerRoleID: 3, RecipientID: 4}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name string
		key  AwardKey
	}{
		{"missing badge", AwardKey{IssuerID: 2, IssuerRoleID: 3, RecipientID: 4}},
		{"missing issuer", AwardKey{BadgeID: 1, IssuerRoleID: 3, RecipientID: 4}},
		{"missing role", AwardKey{BadgeID: 1, IssuerID: 2, RecipientID: 4}},
		{"missing recipient", AwardKey{BadgeID: 1, IssuerID: 2, IssuerRoleID: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			assert.Error(t, err)
			assert.True(t, shared.IsValidation(err))
			assert.ErrorIs(t, err, shared.ErrInvalidAward)
			assert.ErrorIs(t, err, shared.ErrInvalidID)
		})
	}
}

func TestNewAwardRecord_UsesUTC(t *testing.T) {
	loc := time.FixedZone("ALMT", 5*60*60)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, loc)

	rec := NewAwardRecord(AwardKey{BadgeID: 1, IssuerID: 2, IssuerRoleID: 3, RecipientID: 4}, at)

	assert.Equal(t, time.UTC, rec.DateMet.Location())
	assert.True(t, rec.DateMet.Equal(at))
	assert.Equal(t, shared.UserID(4), rec.RecipientID)
}

func TestComputeUniqueHash(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	h1 := ComputeUniqueHash(1, 2, at)
	assert.Len(t, h1, 40)
	assert.Equal(t, h1, ComputeUniqueHash(1, 2, at.In(time.FixedZone("X", 3600))))
	assert.NotEqual(t, h1, ComputeUniqueHash(1, 3, at))
	assert.NotEqual(t, h1, ComputeUniqueHash(2, 2, at))
	assert.NotEqual(t, h1, ComputeUniqueHash(1, 2, at.Add(time.Nanosecond)))
}

func TestIssuedBadge_IsExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, NewIssuedBadge(1, 2, now, nil, true).IsExpired(now))
	assert.True(t, NewIssuedBadge(1, 2, now, &past, true).IsExpired(now))
	assert.False(t, NewIssuedBadge(1, 2, now, &future, true).IsExpired(now))
}

func TestUserBadgeFilter_Offset(t *testing.T) {
	assert.Equal(t, 0, UserBadgeFilter{}.Offset())
	assert.Equal(t, 0, UserBadgeFilter{Page: 3}.Offset())
	assert.Equal(t, 20, UserBadgeFilter{Page: 2, PerPage: 10}.Offset())
}
