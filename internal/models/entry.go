package models

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one stored entry log row.
type Entry struct {
	ID           int64     `json:"id" db:"id"`
	EventID      uuid.UUID `json:"event_id" db:"event_id"`
	CameraID     string    `json:"camera_id" db:"camera_id"`
	TrackID      int       `json:"track_id" db:"track_id"`
	Timestamp    time.Time `json:"timestamp" db:"ts"`
	TotalEntries int64     `json:"total_entries" db:"total_entries"`
	XCenter      int       `json:"x_center" db:"x_center"`
	YBottom      int       `json:"y_bottom" db:"y_bottom"`
	Confidence   float64   `json:"confidence" db:"confidence"`
	ModelVersion string    `json:"model_version" db:"model_version"`
	SnapshotKey  string    `json:"snapshot_key,omitempty" db:"snapshot_key"`
}

// EntryEvent is published by the counter for every validated entry.
type EntryEvent struct {
	EventID      uuid.UUID `json:"event_id"`
	CameraID     string    `json:"camera_id"`
	TrackID      int       `json:"track_id"`
	Timestamp    time.Time `json:"timestamp"`
	XCenter      int       `json:"x_center"`
	YBottom      int       `json:"y_bottom"`
	Confidence   float64   `json:"confidence"`
	TotalEntries int64     `json:"total_entries"`
	ModelVersion string    `json:"model_version"`
	SnapshotKey  string    `json:"snapshot_key,omitempty"` // MinIO key of the frame at entry time
}

// Entry converts the event into a log row.
func (e EntryEvent) Entry() Entry {
	return Entry{
		EventID:      e.EventID,
		CameraID:     e.CameraID,
		TrackID:      e.TrackID,
		Timestamp:    e.Timestamp,
		TotalEntries: e.TotalEntries,
		XCenter:      e.XCenter,
		YBottom:      e.YBottom,
		Confidence:   e.Confidence,
		ModelVersion: e.ModelVersion,
		SnapshotKey:  e.SnapshotKey,
	}
}

// LiveStats is the snapshot a counter publishes while running.
type LiveStats struct {
	CameraID     string    `json:"camera_id"`
	TotalEntries int64     `json:"total_entries"`
	ActiveTracks int       `json:"active_tracks"`
	Tracked      int       `json:"tracked"`
	FPS          float64   `json:"fps"`
	FrameCount   int64     `json:"frame_count"`
	Line         [4]int    `json:"line"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DailyCount is the number of entries on one calendar day (UTC).
type DailyCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// Statistics aggregates the entry log.
type Statistics struct {
	TotalEntries  int64        `json:"total_entries"`
	AvgConfidence float64      `json:"avg_confidence"`
	Daily         []DailyCount `json:"daily"`
}

// Control commands sent to a counter.
const (
	CommandReset = "reset"
)

// ControlCommand is published on control.<camera_id>.
type ControlCommand struct {
	Command   string    `json:"command"`
	CameraID  string    `json:"camera_id"`
	RequestID uuid.UUID `json:"request_id"`
	IssuedAt  time.Time `json:"issued_at"`
}
