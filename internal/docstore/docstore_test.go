package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_InsertAndFindOne(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.Insert(ctx, "cache", Document{"UUID": "a", "informant": "https://x/1"})
	require.NoError(t, err)
	require.Equal(t, "a", id)

	got, ok, err := s.FindOne(ctx, "cache", Filter{"id": "not-a-uuid"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestMemoryStore_DuplicateCheckOrClauseEvenWithEmptyInformant(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Insert(ctx, "cache", Document{"UUID": "a", "informant": ""})
	require.NoError(t, err)

	// Preserves the documented quirk: the OR clause is built even when
	// informant is empty, and its empty-informant branch still matches
	// even though the malformed id branch matches nothing.
	found, ok, err := s.FindOne(ctx, "cache", Filter{"$or": []Filter{
		{"id": "bad-id"},
		{"informant": ""},
	}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", found["UUID"])
}

func TestMemoryStore_Update(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, _ := s.Insert(ctx, "cache", Document{"UUID": NewID()})
	n, err := s.Update(ctx, "cache", Filter{"id": id}, Document{"APPENDIX": map[string]any{"__ARCHIVED__": "A"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, ok, _ := s.FindOne(ctx, "cache", Filter{"id": id})
	require.True(t, ok)
	require.Equal(t, "A", got["APPENDIX"].(map[string]any)["__ARCHIVED__"])
}

func TestZoneRoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	original := time.Date(2026, 3, 15, 9, 30, 0, 0, loc)
	doc := Document{"pub_time": original}

	asUTC := ToUTC(doc).(Document)
	require.Equal(t, time.UTC, asUTC["pub_time"].(time.Time).Location())

	backLocal := ToLocal(asUTC, loc).(Document)
	require.True(t, original.Equal(backLocal["pub_time"].(time.Time)))
}

func TestExportStream_AtomicRename(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Insert(ctx, "archive", Document{"UUID": "a", "archived_timestamp": time.Now().UTC()})
	require.NoError(t, err)

	dir := t.TempDir()
	dest := filepath.Join(dir, "2026-W11.json")
	err = s.ExportByTimeRange(ctx, "archive", "archived_timestamp",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour), dest)
	require.NoError(t, err)

	_, err = os.Stat(dest)
	require.NoError(t, err)
	_, err = os.Stat(dest + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestPeriodBounds_Week(t *testing.T) {
	t0 := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) // a Friday
	start, end := PeriodBounds(t0, time.UTC, SplitWeek)
	require.Equal(t, time.Monday, start.Weekday())
	require.Equal(t, 7*24*time.Hour, end.Sub(start))
}
