package sqlfrag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBind_Postgres_ReusesIndexForRepeatedName(t *testing.T) {
	f := New("a = :x AND b = :y AND c = :x", Params{"x": 1, "y": "two"})

	sql, args, err := Bind(Postgres, f)
	require.NoError(t, err)

	assert.Equal(t, "a = $1 AND b = $2 AND c = $1", sql)
	assert.Equal(t, []any{1, "two"}, args)
}

func TestBind_SQLite_RepeatsArgumentPerOccurrence(t *testing.T) {
	f := New("a = :x AND b = :y AND c = :x", Params{"x": 1, "y": "two"})

	sql, args, err := Bind(SQLite, f)
	require.NoError(t, err)

	assert.Equal(t, "a = ? AND b = ? AND c = ?", sql)
	assert.Equal(t, []any{1, "two", 1}, args)
}

func TestBind_SkipsLiteralsAndCasts(t *testing.T) {
	f := New("x LIKE :p ESCAPE '\\' AND y = 'a:b' AND z = :n::bigint", Params{"p": "%a%", "n": 3})

	sql, args, err := Bind(Postgres, f)
	require.NoError(t, err)

	assert.Equal(t, "x LIKE $1 ESCAPE '\\' AND y = 'a:b' AND z = $2::bigint", sql)
	assert.Equal(t, []any{"%a%", 3}, args)
}

func TestBind_MissingParam(t *testing.T) {
	_, _, err := Bind(SQLite, Raw("id = :id"))
	assert.ErrorIs(t, err, ErrMissingParam)
}

func TestBind_UnknownDialect(t *testing.T) {
	_, _, err := Bind(Dialect(42), Raw("SELECT 1"))
	assert.ErrorIs(t, err, ErrUnknownDialect)
}

func TestJoin_SkipsEmptyAndMergesParams(t *testing.T) {
	f := Join(" AND ",
		New("a = :a", Params{"a": 1}),
		Fragment{},
		Raw("   "),
		New("b = :b", Params{"b": 2}),
	)

	assert.Equal(t, "a = :a AND b = :b", f.SQL)
	assert.Equal(t, Params{"a": 1, "b": 2}, f.Params)
}

func TestJoin_SameNameSameValueIsFine(t *testing.T) {
	f := Join(" AND ", New("a = :id", Params{"id": 7}), New("b = :id", Params{"id": 7}))

	_, args, err := Bind(Postgres, f)
	require.NoError(t, err)
	assert.Equal(t, []any{7}, args)
}

func TestJoin_ConflictingValuesFailOnBind(t *testing.T) {
	f := Join(" AND ", New("a = :id", Params{"id": 7}), New("b = :id", Params{"id": 8}))

	_, _, err := Bind(Postgres, f)
	assert.ErrorIs(t, err, ErrParamConflict)
}

func TestIn(t *testing.T) {
	tests := []struct {
		name   string
		values []int64
		negate bool
		want   string
	}{
		{name: "not in", values: []int64{4, 5}, negate: true, want: "u.id NOT IN (:ex0, :ex1)"},
		{name: "in", values: []int64{4}, negate: false, want: "u.id IN (:ex0)"},
		{name: "empty not in", values: nil, negate: true, want: ""},
		{name: "empty in", values: nil, negate: false, want: "1 = 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := In("u.id", "ex", tt.values, tt.negate)
			assert.Equal(t, tt.want, f.SQL)
			assert.Len(t, f.Names(), len(tt.values))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.True(t, Wrap("(", Fragment{}, ")").IsEmpty())
	assert.Equal(t, "(a = :a)", Wrap("(", New("a = :a", Params{"a": 1}), ")").SQL)
}
