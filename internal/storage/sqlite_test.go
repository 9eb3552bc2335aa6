package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/neuraflow/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "entries.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate())
	return s
}

func testEntry(camera string, ts time.Time, total int64, conf float64) models.Entry {
	return models.Entry{
		EventID:      uuid.New(),
		CameraID:     camera,
		TrackID:      int(total),
		Timestamp:    ts,
		TotalEntries: total,
		XCenter:      320,
		YBottom:      310,
		Confidence:   conf,
		ModelVersion: "YOLOv8n",
	}
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate())
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLiteInsertSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	a := testEntry("door", now, 1, 0.8)
	b := testEntry("door", now.Add(time.Second), 2, 0.6)

	n, err := s.InsertEntries(ctx, []models.Entry{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.InsertEntries(ctx, []models.Entry{a})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	total, err := s.TotalEntries(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestSQLiteRecentEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	var all []models.Entry
	for i := range 7 {
		all = append(all, testEntry("door", base.Add(time.Duration(i)*time.Minute), int64(i+1), 0.7))
	}
	all = append(all, testEntry("garage", base.Add(time.Hour), 1, 0.9))
	_, err := s.InsertEntries(ctx, all)
	require.NoError(t, err)

	recent, err := s.RecentEntries(ctx, "door", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, int64(7), recent[0].TotalEntries)
	assert.Equal(t, int64(3), recent[4].TotalEntries)

	want := all[6]
	if diff := cmp.Diff(want, recent[0], cmpopts.IgnoreFields(models.Entry{}, "ID")); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}

	everyone, err := s.RecentEntries(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, everyone, 1)
	assert.Equal(t, "garage", everyone[0].CameraID)

	doorTotal, err := s.TotalEntries(ctx, "door")
	require.NoError(t, err)
	assert.Equal(t, int64(7), doorTotal)
}

func TestSQLiteEntryByEventID(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	e := testEntry("door", time.Now().UTC().Truncate(time.Millisecond), 1, 0.8)
	e.SnapshotKey = "snapshots/door/x.jpg"
	_, err := s.InsertEntries(ctx, []models.Entry{e})
	require.NoError(t, err)

	got, err := s.EntryByEventID(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, e.SnapshotKey, got.SnapshotKey)

	_, err = s.EntryByEventID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStatistics(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	_, err := s.InsertEntries(ctx, []models.Entry{
		testEntry("door", now.Add(-time.Hour), 3, 0.9),
		testEntry("door", now.Add(-2*time.Hour), 2, 0.7),
		testEntry("door", now.AddDate(0, 0, -2), 1, 0.5),
		testEntry("door", now.AddDate(0, 0, -30), 9, 0.5), // outside the window
	})
	require.NoError(t, err)

	st, err := s.Statistics(ctx, "", 7, now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.TotalEntries)
	assert.InDelta(t, 0.65, st.AvgConfidence, 1e-9)
	require.Len(t, st.Daily, 7)
	assert.Equal(t, models.DailyCount{Date: "2026-03-04", Count: 0}, st.Daily[0])
	assert.Equal(t, models.DailyCount{Date: "2026-03-08", Count: 1}, st.Daily[4])
	assert.Equal(t, models.DailyCount{Date: "2026-03-10", Count: 2}, st.Daily[6])

	empty, err := s.Statistics(ctx, "garage", 7, now)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalEntries)
	assert.Zero(t, empty.AvgConfidence)
}

func TestStaleKeys(t *testing.T) {
	base := time.Unix(1700000000, 0)
	objs := []ObjectInfo{
		{Key: "a", LastModified: base},
		{Key: "b", LastModified: base.Add(2 * time.Second)},
		{Key: "c", LastModified: base.Add(time.Second)},
		{Key: "d", LastModified: base.Add(3 * time.Second)},
	}

	assert.Equal(t, []string{"c", "a"}, staleKeys(objs, 2))
	assert.Nil(t, staleKeys(objs, 4))
	assert.Equal(t, "a", objs[0].Key, "input untouched")
}
