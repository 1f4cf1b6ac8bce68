package kb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"frontdesk/internal/db"
	"frontdesk/internal/domain"
	"frontdesk/internal/events"
	"frontdesk/internal/kb"
	"frontdesk/internal/migrate"
	"frontdesk/internal/repo"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newCache(t *testing.T) *kb.Cache {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return kb.New(repo.Repo{DB: conn, Events: events.Writer{}}, func() time.Time { return t0 }, nil)
}

func TestLookupNormalizesQuestion(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	_, err := c.Upsert(ctx, "What are your hours?", "9 to 5")
	require.NoError(t, err)

	for _, q := range []string{"what are your hours", "  WHAT are your hours?!  ", "What, are your hours."} {
		answer, ok, err := c.Lookup(ctx, q)
		require.NoError(t, err)
		require.True(t, ok, q)
		require.Equal(t, "9 to 5", answer)
	}

	_, ok, err := c.Lookup(ctx, "Where are you?")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Lookup(ctx, "?!")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpsertOverwritesSingleEntry(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	_, err := c.Upsert(ctx, "Do you deliver?", "No")
	require.NoError(t, err)
	_, _, err = c.Lookup(ctx, "do you deliver")
	require.NoError(t, err)
	e, err := c.Upsert(ctx, "do you deliver", "Yes, within 5 miles")
	require.NoError(t, err)
	require.Equal(t, "do you deliver", e.Key)

	entries, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Yes, within 5 miles", entries[0].Answer)
	require.Equal(t, "do you deliver", entries[0].Question)
	require.EqualValues(t, 1, entries[0].Hits)
}

func TestUpsertValidation(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	for _, tc := range []struct{ q, a string }{{"", "x"}, {"q", "  "}, {"?!.", "x"}} {
		_, err := c.Upsert(ctx, tc.q, tc.a)
		require.ErrorIs(t, err, domain.ErrValidation)
	}
	entries, err := c.List(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

type brokenStore struct{}

var errDisk = errors.New("disk gone")

func (brokenStore) FindAnswer(context.Context, string) (domain.KnowledgeEntry, error) {
	return domain.KnowledgeEntry{}, errDisk
}
func (brokenStore) RecordHit(context.Context, string) error { return errDisk }
func (brokenStore) UpsertAnswer(context.Context, domain.KnowledgeEntry) error { return errDisk }
func (brokenStore) ListAnswers(context.Context) ([]domain.KnowledgeEntry, error) {
	return nil, errDisk
}

func TestStorageFailuresAreNotMisses(t *testing.T) {
	c := kb.New(brokenStore{}, nil, nil)
	ctx := context.Background()

	_, ok, err := c.Lookup(ctx, "anything")
	require.False(t, ok)
	require.ErrorIs(t, err, domain.ErrStorage)
	require.ErrorIs(t, err, errDisk)

	_, err = c.Upsert(ctx, "q", "a")
	require.ErrorIs(t, err, domain.ErrStorage)

	_, err = c.List(ctx)
	require.ErrorIs(t, err, domain.ErrStorage)
}

func TestUpsertReturnsStoredEntry(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	now := t0
	c := kb.New(repo.Repo{DB: conn, Events: events.Writer{}}, func() time.Time { return now }, nil)
	ctx := context.Background()

	first, err := c.Upsert(ctx, "Do you deliver?", "No")
	require.NoError(t, err)
	require.True(t, first.CreatedAt.Equal(t0))
	require.EqualValues(t, 0, first.Hits)

	for i := 0; i < 2; i++ {
		_, ok, err := c.Lookup(ctx, "do you deliver")
		require.NoError(t, err)
		require.True(t, ok)
	}

	now = t0.Add(time.Hour)
	second, err := c.Upsert(ctx, "DO YOU DELIVER", "Yes")
	require.NoError(t, err)
	require.Equal(t, "Yes", second.Answer)
	require.Equal(t, "DO YOU DELIVER", second.Question)
	require.True(t, second.CreatedAt.Equal(t0), second.CreatedAt)
	require.True(t, second.UpdatedAt.Equal(t0.Add(time.Hour)), second.UpdatedAt)
	require.EqualValues(t, 2, second.Hits)
}
