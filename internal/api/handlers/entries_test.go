package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/neuraflow/internal/models"
	"github.com/your-org/neuraflow/internal/storage"
	"github.com/your-org/neuraflow/pkg/dto"
)

type fakeStore struct {
	entries   []models.Entry
	err       error
	lastLimit int
	lastCam   string
	lastDays  int
}

func (f *fakeStore) InsertEntries(context.Context, []models.Entry) (int, error) { return 0, nil }

func (f *fakeStore) TotalEntries(_ context.Context, cameraID string) (int64, error) {
	f.lastCam = cameraID
	return int64(len(f.entries)), f.err
}

func (f *fakeStore) RecentEntries(_ context.Context, cameraID string, limit int) ([]models.Entry, error) {
	f.lastCam, f.lastLimit = cameraID, limit
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[:min(limit, len(f.entries))], nil
}

func (f *fakeStore) EntryByEventID(_ context.Context, id uuid.UUID) (*models.Entry, error) {
	for _, e := range f.entries {
		if e.EventID == id {
			return &e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) Statistics(_ context.Context, cameraID string, days int, _ time.Time) (*models.Statistics, error) {
	f.lastCam, f.lastDays = cameraID, days
	if f.err != nil {
		return nil, f.err
	}
	return &models.Statistics{
		TotalEntries:  int64(len(f.entries)),
		AvgConfidence: 0.75,
		Daily:         []models.DailyCount{{Date: "2026-03-09", Count: 1}, {Date: "2026-03-10", Count: 2}},
	}, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

type fakeSnapshots map[string][]byte

func (f fakeSnapshots) GetObject(_ context.Context, key string) ([]byte, error) {
	data, ok := f[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

type fakeControl struct {
	sent []models.ControlCommand
	err  error
}

func (f *fakeControl) PublishControl(cmd models.ControlCommand) error {
	f.sent = append(f.sent, cmd)
	return f.err
}

var (
	ts        = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	withSnap  = uuid.MustParse("6f1c2a0e-8d5b-4c4e-9a43-1f2d3c4b5a69")
	noSnapID  = uuid.MustParse("0b7e9c1d-2f3a-4b5c-8d6e-7f8091a2b3c4")
	sampleLog = []models.Entry{
		{ID: 2, EventID: withSnap, CameraID: "door", TrackID: 9, Timestamp: ts, TotalEntries: 2,
			XCenter: 320, YBottom: 310, Confidence: 0.8, ModelVersion: "YOLOv8n", SnapshotKey: "snapshots/door/20260310/a.jpg"},
		{ID: 1, EventID: noSnapID, CameraID: "door", TrackID: 4, Timestamp: ts.Add(-time.Hour), TotalEntries: 1,
			XCenter: 300, YBottom: 305, Confidence: 0.7, ModelVersion: "YOLOv8n"},
	}
)

func newEntryRouter(h *EntryHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/entries/recent", h.Recent)
	r.GET("/v1/entries/total", h.Total)
	r.GET("/v1/entries/:id/snapshot", h.Snapshot)
	r.GET("/v1/stats", h.Stats)
	r.POST("/v1/cameras/:id/reset", h.Reset)
	return r
}

func do(r http.Handler, method, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, url, nil))
	return w
}

func TestRecentEntries(t *testing.T) {
	store := &fakeStore{entries: sampleLog}
	r := newEntryRouter(NewEntryHandler(store, nil, nil, nil))

	w := do(r, http.MethodGet, "/v1/entries/recent?camera_id=door")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, store.lastLimit)
	assert.Equal(t, "door", store.lastCam)

	var resp dto.EntryListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)

	want := dto.EntryResponse{
		ID: 2, EventID: withSnap, CameraID: "door", TrackID: 9, Timestamp: "2026-03-10T14:00:00Z",
		TotalEntries: 2, XCenter: 320, YBottom: 310, Confidence: 0.8, ModelVersion: "YOLOv8n",
		SnapshotURL: "/v1/entries/" + withSnap.String() + "/snapshot",
	}
	if diff := cmp.Diff(want, resp.Entries[0]); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, resp.Entries[1].SnapshotURL)
}

func TestRecentEntriesLimit(t *testing.T) {
	store := &fakeStore{entries: sampleLog}
	r := newEntryRouter(NewEntryHandler(store, nil, nil, nil))

	do(r, http.MethodGet, "/v1/entries/recent?limit=1000")
	assert.Equal(t, 100, store.lastLimit)

	w := do(r, http.MethodGet, "/v1/entries/recent?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTotalAndStoreErrors(t *testing.T) {
	store := &fakeStore{entries: sampleLog}
	r := newEntryRouter(NewEntryHandler(store, nil, nil, nil))

	w := do(r, http.MethodGet, "/v1/entries/total")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_entries":2}`, w.Body.String())

	store.err = errors.New("db down")
	w = do(r, http.MethodGet, "/v1/entries/total")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	w = do(r, http.MethodGet, "/v1/entries/recent")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatsMergesLiveSnapshots(t *testing.T) {
	store := &fakeStore{entries: sampleLog}
	live := NewLiveCache()
	live.Set(models.LiveStats{CameraID: "door", TotalEntries: 2, FPS: 14.5, UpdatedAt: ts})
	live.Set(models.LiveStats{CameraID: "garage", TotalEntries: 0})
	r := newEntryRouter(NewEntryHandler(store, nil, nil, live))

	w := do(r, http.MethodGet, "/v1/stats?camera_id=door&days=400")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 90, store.lastDays)

	var resp dto.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.TotalEntries)
	assert.InDelta(t, 0.75, resp.AvgConfidence, 1e-9)
	assert.Equal(t, []dto.DailyCount{{Date: "2026-03-09", Count: 1}, {Date: "2026-03-10", Count: 2}}, resp.Daily)
	require.Len(t, resp.Live, 1)
	assert.Equal(t, "door", resp.Live[0].CameraID)
	assert.Equal(t, "2026-03-10T14:00:00Z", resp.Live[0].UpdatedAt)

	do(r, http.MethodGet, "/v1/stats")
	assert.Equal(t, 7, store.lastDays)
}

func TestSnapshot(t *testing.T) {
	store := &fakeStore{entries: sampleLog}
	snaps := fakeSnapshots{"snapshots/door/20260310/a.jpg": {0xFF, 0xD8, 0xFF, 0xD9}}
	r := newEntryRouter(NewEntryHandler(store, snaps, nil, nil))

	w := do(r, http.MethodGet, "/v1/entries/"+withSnap.String()+"/snapshot")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, w.Body.Bytes())

	tests := []struct {
		name string
		id   string
		want int
	}{
		{"bad id", "nope", http.StatusBadRequest},
		{"unknown entry", uuid.NewString(), http.StatusNotFound},
		{"entry without snapshot", noSnapID.String(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, "/v1/entries/"+tt.id+"/snapshot")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestResetPublishesControl(t *testing.T) {
	control := &fakeControl{}
	h := NewEntryHandler(&fakeStore{}, nil, control, nil)
	h.now = func() time.Time { return ts }
	r := newEntryRouter(h)

	w := do(r, http.MethodPost, "/v1/cameras/door/reset")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, control.sent, 1)
	cmd := control.sent[0]
	assert.Equal(t, models.CommandReset, cmd.Command)
	assert.Equal(t, "door", cmd.CameraID)
	assert.Equal(t, ts, cmd.IssuedAt)

	var resp dto.ResetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, cmd.RequestID, resp.RequestID)

	w = do(r, http.MethodPost, "/v1/cameras/a.b/reset")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	control.err = errors.New("nats down")
	w = do(r, http.MethodPost, "/v1/cameras/door/reset")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestResetWithoutControl(t *testing.T) {
	r := newEntryRouter(NewEntryHandler(&fakeStore{}, nil, nil, nil))
	w := do(r, http.MethodPost, "/v1/cameras/door/reset")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
