package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/emilythestrangee/campusnet/backend/internal/backend"
)

// Store implements backend.Client on PostgreSQL. Rows travel as row_to_json
// text so every table shares one scan path. Subscriptions are served from the
// hub the Listener publishes to.
type Store struct {
	db  *gorm.DB
	hub *backend.Hub
}

func NewStore(db *gorm.DB, hub *backend.Hub) *Store {
	return &Store{db: db, hub: hub}
}

func (s *Store) Select(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	tx := s.db.WithContext(ctx).
		Table(backend.QuoteIdent(string(q.Kind)) + " AS t").
		Select("row_to_json(t)::text")
	if q.Where != nil {
		clause, args := q.Where.SQL()
		tx = tx.Where(clause, args...)
	}
	for _, o := range q.Order {
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		tx = tx.Order(backend.QuoteIdent(o.Column) + dir)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	rows, err := tx.Rows()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Kind, err)
	}
	return scanRows(rows)
}

func (s *Store) Write(ctx context.Context, m backend.Mutation) ([]backend.Row, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	query, args := buildWrite(m)
	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", m.Op, m.Kind, translate(err))
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", m.Op, m.Kind, translate(err))
	}
	return out, nil
}

func (s *Store) Subscribe(f backend.Filter, fn backend.Handler) (backend.Subscription, error) {
	return s.hub.Subscribe(f, fn)
}

// Close stops delivery to subscribers. The connection pool is owned by the
// database Service.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanRows(rows rowScanner) ([]backend.Row, error) {
	defer rows.Close()
	var out []backend.Row
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r backend.Row
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const returning = " RETURNING row_to_json(t)::text"

func buildWrite(m backend.Mutation) (string, []any) {
	table := backend.QuoteIdent(string(m.Kind))
	switch m.Op {
	case backend.Insert, backend.Upsert:
		cols := sortedKeys(m.Values)
		quoted := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			quoted[i] = backend.QuoteIdent(c)
			args[i] = bindValue(m.Values[c])
		}
		var b strings.Builder
		fmt.Fprintf(&b, "INSERT INTO %s AS t (%s) VALUES (%s)", table,
			strings.Join(quoted, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
		if m.Op == backend.Upsert {
			conflict := make([]string, len(m.ConflictOn))
			skip := make(map[string]bool, len(m.ConflictOn))
			for i, c := range m.ConflictOn {
				conflict[i] = backend.QuoteIdent(c)
				skip[c] = true
			}
			var sets []string
			for _, c := range cols {
				if skip[c] || c == "id" {
					continue
				}
				q := backend.QuoteIdent(c)
				sets = append(sets, q+" = EXCLUDED."+q)
			}
			if len(sets) == 0 {
				// still return the existing row
				q := backend.QuoteIdent(m.ConflictOn[0])
				sets = append(sets, q+" = EXCLUDED."+q)
			}
			fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", "))
		}
		b.WriteString(returning)
		return b.String(), args

	case backend.Update:
		cols := sortedKeys(m.Values)
		sets := make([]string, 0, len(cols))
		args := make([]any, 0, len(cols))
		for _, c := range cols {
			if c == "id" {
				continue
			}
			sets = append(sets, backend.QuoteIdent(c)+" = ?")
			args = append(args, bindValue(m.Values[c]))
		}
		where, wargs := m.Where.SQL()
		return fmt.Sprintf("UPDATE %s AS t SET %s WHERE %s%s", table, strings.Join(sets, ", "), where, returning),
			append(args, wargs...)

	case backend.Delete:
		where, args := m.Where.SQL()
		return fmt.Sprintf("DELETE FROM %s AS t WHERE %s%s", table, where, returning), args
	}
	return "", nil
}

func sortedKeys(r backend.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// bindValue adapts JSON-shaped values to column types: lists become text[],
// objects become jsonb.
func bindValue(v any) any {
	switch x := v.(type) {
	case []string:
		return pq.StringArray(x)
	case []any:
		arr := make(pq.StringArray, len(x))
		for i, e := range x {
			arr[i] = fmt.Sprint(e)
		}
		return arr
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return datatypes.JSON(b)
	case json.RawMessage:
		return datatypes.JSON(x)
	}
	return v
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "23505":
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, backend.ErrConflict)
	case pgErr.Code == "23514" && pgErr.ConstraintName == "group_members_capacity":
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, backend.ErrCapacity)
	}
	return err
}
