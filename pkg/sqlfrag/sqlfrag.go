// Package sqlfrag composes SQL fragments that carry named placeholders
// (":name") and binds them to the positional syntax of a concrete driver.
//
// Fragments are what the directory providers hand to the recipient
// selector: a sub-select, a JOIN, a WHERE predicate or an ORDER BY list.
// Composition never renders values into the SQL text.
package sqlfrag

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrMissingParam is returned when a placeholder has no bound value.
	ErrMissingParam = errors.New("sqlfrag: missing parameter")

	// ErrParamConflict is returned when two fragments bind the same name
	// to different values.
	ErrParamConflict = errors.New("sqlfrag: conflicting parameter")

	// ErrUnknownDialect is returned for an unsupported dialect.
	ErrUnknownDialect = errors.New("sqlfrag: unknown dialect")
)

// ══════════════════════════════════════════════════════════════════════════════
// DIALECT
// ══════════════════════════════════════════════════════════════════════════════

// Dialect selects the positional placeholder syntax.
type Dialect int

const (
	// Postgres binds to $1, $2, ... and reuses the index of a repeated name.
	Postgres Dialect = iota + 1

	// SQLite binds to ? and repeats the argument for every occurrence.
	SQLite
)

// String returns the dialect name.
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FRAGMENT
// ══════════════════════════════════════════════════════════════════════════════

// Params maps placeholder names (without the colon) to values.
type Params map[string]any

// Fragment is a piece of SQL text plus the values of its named placeholders.
type Fragment struct {
	SQL    string
	Params Params
}

// New creates a fragment. params may be nil.
func New(sql string, params Params) Fragment {
	return Fragment{SQL: sql, Params: params}
}

// Raw creates a fragment without parameters.
func Raw(sql string) Fragment {
	return Fragment{SQL: sql}
}

// IsEmpty reports whether the fragment carries no SQL.
func (f Fragment) IsEmpty() bool {
	return strings.TrimSpace(f.SQL) == ""
}

// Join concatenates the non-empty fragments with sep and merges their params.
// A name bound to two different values is reported by Bind, not here;
// the later value wins in the merged map and the conflict is remembered.
func Join(sep string, frags ...Fragment) Fragment {
	parts := make([]string, 0, len(frags))
	merged := Params{}
	for _, f := range frags {
		if f.IsEmpty() {
			continue
		}
		parts = append(parts, f.SQL)
		for k, v := range f.Params {
			if prev, ok := merged[k]; ok && !sameValue(prev, v) {
				merged[k] = conflict{name: k}
				continue
			}
			merged[k] = v
		}
	}
	return Fragment{SQL: strings.Join(parts, sep), Params: merged}
}

// Wrap returns the fragment with prefix and suffix text around it.
// An empty fragment stays empty.
func Wrap(prefix string, f Fragment, suffix string) Fragment {
	if f.IsEmpty() {
		return f
	}
	return Fragment{SQL: prefix + f.SQL + suffix, Params: f.Params}
}

// In builds "<column> IN (:p0, :p1, ...)" or its NOT IN form.
// An empty value list yields an empty fragment for NOT IN and an always-false
// predicate for IN.
func In[T any](column, prefix string, values []T, negate bool) Fragment {
	if len(values) == 0 {
		if negate {
			return Fragment{}
		}
		return Raw("1 = 0")
	}

	names := make([]string, len(values))
	params := make(Params, len(values))
	for i, v := range values {
		name := prefix + strconv.Itoa(i)
		names[i] = ":" + name
		params[name] = v
	}

	op := " IN ("
	if negate {
		op = " NOT IN ("
	}
	return Fragment{SQL: column + op + strings.Join(names, ", ") + ")", Params: params}
}

// Names returns the placeholder names used in the fragment, in order of first
// appearance.
func (f Fragment) Names() []string {
	seen := make(map[string]bool)
	var out []string
	scan(f.SQL, func(name string) string {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		return ""
	})
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// BINDING
// ══════════════════════════════════════════════════════════════════════════════

// Bind rewrites the named placeholders into the dialect's positional form and
// returns the matching argument list.
func Bind(d Dialect, f Fragment) (string, []any, error) {
	if d != Postgres && d != SQLite {
		return "", nil, fmt.Errorf("%w: %d", ErrUnknownDialect, d)
	}

	var (
		args    []any
		index   = make(map[string]int)
		bindErr error
	)

	sql := scan(f.SQL, func(name string) string {
		v, ok := f.Params[name]
		if !ok {
			if bindErr == nil {
				bindErr = fmt.Errorf("%w: %q", ErrMissingParam, name)
			}
			return ":" + name
		}
		if c, isConflict := v.(conflict); isConflict {
			if bindErr == nil {
				bindErr = fmt.Errorf("%w: %q", ErrParamConflict, c.name)
			}
			return ":" + name
		}

		if d == SQLite {
			args = append(args, v)
			return "?"
		}

		if i, seen := index[name]; seen {
			return "$" + strconv.Itoa(i)
		}
		args = append(args, v)
		index[name] = len(args)
		return "$" + strconv.Itoa(len(args))
	})
	if bindErr != nil {
		return "", nil, bindErr
	}

	return sql, args, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type conflict struct{ name string }

func sameValue(a, b any) bool {
	defer func() { _ = recover() }()
	return a == b
}

// scan walks sql, skipping quoted literals and "::" casts, and replaces each
// :name placeholder with repl(name).
func scan(sql string, repl func(name string) string) string {
	var b strings.Builder
	b.Grow(len(sql))

	inQuote := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]

		if c == '\'' {
			inQuote = !inQuote
			b.WriteByte(c)
			continue
		}
		if inQuote || c != ':' {
			b.WriteByte(c)
			continue
		}

		// "::" is a PostgreSQL cast, not a placeholder.
		if i+1 < len(sql) && sql[i+1] == ':' {
			b.WriteString("::")
			i++
			continue
		}

		j := i + 1
		for j < len(sql) && isNameByte(sql[j], j == i+1) {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}

		b.WriteString(repl(sql[i+1 : j]))
		i = j - 1
	}

	return b.String()
}

func isNameByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	default:
		return false
	}
}
