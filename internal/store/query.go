package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/nbd-wtf/go-nostr"
)

// MaxLimit caps the rows returned for a single filter.
const MaxLimit = 500

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		return dialectSQLite, nil
	case DriverPostgres:
		return dialectPostgres, nil
	default:
		return 0, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// placeholder returns the bind marker for argument n (1-based).
func (d dialect) placeholder(n int) string {
	if d == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// placeholders returns count comma-separated markers starting at from.
func (d dialect) placeholders(from, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

// tagCondition matches rows holding a tag named by nameArg whose value is one
// of valueArgs.
func (d dialect) tagCondition(nameArg, valueArgs string) string {
	if d == dialectPostgres {
		return "EXISTS (SELECT 1 FROM jsonb_array_elements(events.tags) AS t(tag) WHERE t.tag->>0 = " +
			nameArg + " AND t.tag->>1 IN (" + valueArgs + "))"
	}
	return "EXISTS (SELECT 1 FROM json_each(events.tags) AS t WHERE json_extract(t.value, '$[0]') = " +
		nameArg + " AND json_extract(t.value, '$[1]') IN (" + valueArgs + "))"
}

const selectColumns = "id, pubkey, created_at, kind, tags, content, sig"

// Find returns stored events matching any of filters, newest first.
// Each filter's limit applies to that filter.
func (s *Store) Find(ctx context.Context, filters nostr.Filters) ([]*domain.Event, error) {
	seen := make(map[string]struct{})
	result := make([]*domain.Event, 0)

	for i := range filters {
		events, err := s.findFilter(ctx, &filters[i])
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if _, ok := seen[ev.ID]; ok {
				continue
			}
			seen[ev.ID] = struct{}{}
			result = append(result, ev)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (s *Store) findFilter(ctx context.Context, f *nostr.Filter) ([]*domain.Event, error) {
	if f.LimitZero {
		return nil, nil
	}

	query, args := s.buildQuery(f)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if !f.Matches(&ev.Event) {
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// buildQuery translates f into SQL. Tag conditions match the first two
// elements of a stored tag, the same way Filter.Matches does.
func (s *Store) buildQuery(f *nostr.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)

	nextArg := func(v any) string {
		args = append(args, v)
		return s.dialect.placeholder(len(args))
	}

	in := func(column string, values []any) {
		markers := make([]string, len(values))
		for i, v := range values {
			markers[i] = nextArg(v)
		}
		where = append(where, column+" IN ("+strings.Join(markers, ", ")+")")
	}

	if len(f.IDs) > 0 {
		in("id", toAny(f.IDs))
	}
	if len(f.Authors) > 0 {
		in("pubkey", toAny(f.Authors))
	}
	if len(f.Kinds) > 0 {
		values := make([]any, len(f.Kinds))
		for i, k := range f.Kinds {
			values[i] = k
		}
		in("kind", values)
	}
	if f.Since != nil {
		where = append(where, "created_at >= "+nextArg(int64(*f.Since)))
	}
	if f.Until != nil {
		where = append(where, "created_at <= "+nextArg(int64(*f.Until)))
	}

	names := make([]string, 0, len(f.Tags))
	for name, values := range f.Tags {
		if values != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		values := f.Tags[name]
		if len(values) == 0 {
			where = append(where, "1 = 0")
			continue
		}
		nameArg := nextArg(name)
		markers := make([]string, len(values))
		for i, v := range values {
			markers[i] = nextArg(v)
		}
		where = append(where, s.dialect.tagCondition(nameArg, strings.Join(markers, ", ")))
	}

	query := "SELECT " + selectColumns + " FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT " + nextArg(effectiveLimit(f))

	return query, args
}

func effectiveLimit(f *nostr.Filter) int {
	if f.Limit <= 0 || f.Limit > MaxLimit {
		return MaxLimit
	}
	return f.Limit
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func scanEvent(rows *sql.Rows) (*domain.Event, error) {
	var (
		ev        nostr.Event
		createdAt int64
		tags      []byte
	)

	if err := rows.Scan(&ev.ID, &ev.PubKey, &createdAt, &ev.Kind, &tags, &ev.Content, &ev.Sig); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	ev.CreatedAt = nostr.Timestamp(createdAt)
	if err := json.Unmarshal(tags, &ev.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", ev.ID, err)
	}

	return domain.NewEvent(ev), nil
}
