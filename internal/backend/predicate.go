package backend

import (
	"fmt"
	"strconv"
	"strings"
)

// Predicate filters rows. Match evaluates it against an event row; SQL renders
// it as a WHERE fragment with ? placeholders.
type Predicate interface {
	Match(r Row) bool
	SQL() (string, []any)
}

type eq struct {
	col string
	val any
}

// Eq matches rows whose column equals v. A nil v matches NULL.
func Eq(col string, v any) Predicate { return eq{col: col, val: v} }

func (p eq) Match(r Row) bool {
	got, ok := r[p.col]
	if p.val == nil {
		return !ok || got == nil
	}
	return ok && equalValues(got, p.val)
}

func (p eq) SQL() (string, []any) {
	if p.val == nil {
		return quoteIdent(p.col) + " IS NULL", nil
	}
	return quoteIdent(p.col) + " = ?", []any{p.val}
}

type in struct {
	col  string
	vals []any
}

// In matches rows whose column equals any of vals. An empty set matches nothing.
func In(col string, vals ...any) Predicate { return in{col: col, vals: vals} }

func (p in) Match(r Row) bool {
	got, ok := r[p.col]
	if !ok {
		return false
	}
	for _, v := range p.vals {
		if equalValues(got, v) {
			return true
		}
	}
	return false
}

func (p in) SQL() (string, []any) {
	if len(p.vals) == 0 {
		return "FALSE", nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(p.vals)), ", ")
	return quoteIdent(p.col) + " IN (" + marks + ")", p.vals
}

type junction struct {
	op    string
	parts []Predicate
}

func And(ps ...Predicate) Predicate { return junction{op: "AND", parts: ps} }
func Or(ps ...Predicate) Predicate  { return junction{op: "OR", parts: ps} }

func (p junction) Match(r Row) bool {
	if p.op == "AND" {
		for _, q := range p.parts {
			if !q.Match(r) {
				return false
			}
		}
		return true
	}
	for _, q := range p.parts {
		if q.Match(r) {
			return true
		}
	}
	return false
}

func (p junction) SQL() (string, []any) {
	if len(p.parts) == 0 {
		if p.op == "AND" {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	var (
		frags []string
		args  []any
	)
	for _, q := range p.parts {
		s, a := q.SQL()
		frags = append(frags, "("+s+")")
		args = append(args, a...)
	}
	return strings.Join(frags, " "+p.op+" "), args
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteIdent quotes a column or table name for PostgreSQL.
func QuoteIdent(s string) string { return quoteIdent(s) }

func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders numbers numerically and everything else by its string
// form. nil sorts first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bool, string, nil:
		return 0, false
	}
	f, err := strconv.ParseFloat(fmt.Sprint(v), 64)
	return f, err == nil
}
