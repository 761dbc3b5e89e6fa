package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianly1003/nrelay/internal/testutil"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func newPostgresStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	s, err := New(db, DriverPostgres)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1_700_000_100, 0) }
	return s, mock
}

var eventColumns = []string{"id", "pubkey", "created_at", "kind", "tags", "content", "sig"}

func TestPostgres_Create(t *testing.T) {
	s, mock := newPostgresStore(t)
	ev := testutil.NewIdentity(t).SignedEvent(t, 1, "hi", time.Unix(1_700_000_000, 0), nostr.Tag{"t", "go"})

	mock.ExpectExec(`INSERT INTO events \(id, pubkey, created_at, kind, tags, content, sig, received_at\)\s+VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\) ON CONFLICT \(id\) DO NOTHING`).
		WithArgs(ev.ID, ev.PubKey, int64(1_700_000_000), 1, `[["t","go"]]`, "hi", ev.Sig, int64(1_700_000_100)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Create(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgres_CreateDuplicate(t *testing.T) {
	s, mock := newPostgresStore(t)
	ev := testutil.NewIdentity(t).TextNote(t, "dup")

	mock.ExpectExec(`INSERT INTO events`).WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.Create(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPostgres_CreateError(t *testing.T) {
	s, mock := newPostgresStore(t)
	ev := testutil.NewIdentity(t).TextNote(t, "boom")

	mock.ExpectExec(`INSERT INTO events`).WillReturnError(errors.New("connection reset"))

	_, err := s.Create(context.Background(), ev)
	assert.ErrorContains(t, err, "connection reset")
}

func TestPostgres_FindBuildsIndexedQuery(t *testing.T) {
	s, mock := newPostgresStore(t)
	ev := testutil.NewIdentity(t).SignedEvent(t, 1, "hi", time.Unix(1_700_000_000, 0))

	mock.ExpectQuery(`SELECT id, pubkey, created_at, kind, tags, content, sig FROM events WHERE pubkey IN \(\$1\) AND kind IN \(\$2, \$3\) AND created_at >= \$4 ORDER BY created_at DESC, id ASC LIMIT \$5`).
		WithArgs(ev.PubKey, 1, 30023, int64(1_600_000_000), 10).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(ev.ID, ev.PubKey, int64(ev.CreatedAt), ev.Kind, []byte(`[]`), ev.Content, ev.Sig))

	found, err := s.Find(context.Background(), nostr.Filters{{
		Authors: []string{ev.PubKey},
		Kinds:   []int{1, 30023},
		Since:   ts(1_600_000_000),
		Limit:   10,
	}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ev.ID, found[0].ID)
}

func TestPostgres_FindPushesTagsIntoSQL(t *testing.T) {
	s, mock := newPostgresStore(t)
	id := testutil.NewIdentity(t)
	tagged := id.SignedEvent(t, 1, "tagged", time.Unix(1_700_000_001, 0), nostr.Tag{"t", "go"})

	mock.ExpectQuery(`SELECT .+ FROM events WHERE kind IN \(\$1\) AND EXISTS \(SELECT 1 FROM jsonb_array_elements\(events\.tags\) AS t\(tag\) WHERE t\.tag->>0 = \$2 AND t\.tag->>1 IN \(\$3, \$4\)\) ORDER BY created_at DESC, id ASC LIMIT \$5$`).
		WithArgs(1, "t", "go", "rust", 7).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(tagged.ID, tagged.PubKey, int64(tagged.CreatedAt), 1, []byte(`[["t","go"]]`), tagged.Content, tagged.Sig))

	found, err := s.Find(context.Background(), nostr.Filters{{
		Kinds: []int{1},
		Tags:  nostr.TagMap{"t": []string{"go", "rust"}},
		Limit: 7,
	}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, tagged.ID, found[0].ID)
}

func TestPostgres_FindRechecksRows(t *testing.T) {
	s, mock := newPostgresStore(t)
	id := testutil.NewIdentity(t)
	tagged := id.SignedEvent(t, 1, "tagged", time.Unix(1_700_000_001, 0), nostr.Tag{"t", "go"})
	plain := id.SignedEvent(t, 1, "plain", time.Unix(1_700_000_000, 0))

	mock.ExpectQuery(`SELECT .+ FROM events WHERE .+ LIMIT \$4$`).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(tagged.ID, tagged.PubKey, int64(tagged.CreatedAt), 1, []byte(`[["t","go"]]`), tagged.Content, tagged.Sig).
			AddRow(plain.ID, plain.PubKey, int64(plain.CreatedAt), 1, []byte(`[]`), plain.Content, plain.Sig))

	found, err := s.Find(context.Background(), nostr.Filters{{
		Kinds: []int{1},
		Tags:  nostr.TagMap{"t": []string{"go"}},
	}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, tagged.ID, found[0].ID)
}

func TestPostgres_FindQueryError(t *testing.T) {
	s, mock := newPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM events`).WillReturnError(errors.New("timeout"))

	_, err := s.Find(context.Background(), nostr.Filters{{}})
	assert.ErrorContains(t, err, "query events")
}

func TestPostgres_FindBadTags(t *testing.T) {
	s, mock := newPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM events`).
		WillReturnRows(sqlmock.NewRows(eventColumns).AddRow("id", "pk", int64(1), 1, []byte(`{`), "", "sig"))

	_, err := s.Find(context.Background(), nostr.Filters{{}})
	assert.ErrorContains(t, err, "decode tags")
}

func TestDialect_Placeholders(t *testing.T) {
	assert.Equal(t, "$3, $4, $5", dialectPostgres.placeholders(3, 3))
	assert.Equal(t, "?, ?", dialectSQLite.placeholders(1, 2))
}
