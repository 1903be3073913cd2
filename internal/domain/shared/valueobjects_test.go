package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserIDs(t *testing.T) {
	ids, err := ParseUserIDs(" 3, 5,,8 ")
	require.NoError(t, err)
	assert.Equal(t, []UserID{3, 5, 8}, ids)

	ids, err = ParseUserIDs("")
	require.NoError(t, err)
	assert.Nil(t, ids)

	_, err = ParseUserIDs("3,abc")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = ParseUserIDs("0")
	assert.True(t, IsValidation(err))
}

func TestDomainError_Is(t *testing.T) {
	assert.True(t, IsNotFound(ErrAwardNotFound))
	assert.True(t, errors.Is(ErrAwardNotFound, ErrNotFound))
	assert.False(t, IsNotFound(ErrAwardAlreadyExists))
	assert.True(t, IsAlreadyExists(ErrAwardAlreadyExists))

	cause := errors.New("connection reset")
	wrapped := WrapError("badge", "Award", ErrStorage, "failed to create award", cause)
	assert.True(t, IsStorage(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "badge.Award: failed to create award: connection reset", wrapped.Error())
}

func TestPayloadInt64(t *testing.T) {
	payload := map[string]interface{}{"a": int64(4), "b": float64(5), "c": "x"}

	v, ok := PayloadInt64(payload, "a")
	assert.True(t, ok)
	assert.Equal(t, int64(4), v)

	v, ok = PayloadInt64(payload, "b")
	assert.True(t, ok)
	assert.Equal(t, int64(5), v)

	_, ok = PayloadInt64(payload, "c")
	assert.False(t, ok)
}
