package dto

import "github.com/google/uuid"

type EntryResponse struct {
	ID           int64     `json:"id"`
	EventID      uuid.UUID `json:"event_id"`
	CameraID     string    `json:"camera_id"`
	TrackID      int       `json:"track_id"`
	Timestamp    string    `json:"timestamp"`
	TotalEntries int64     `json:"total_entries"`
	XCenter      int       `json:"x_center"`
	YBottom      int       `json:"y_bottom"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"model_version"`
	SnapshotURL  string    `json:"snapshot_url,omitempty"`
}

type EntryListResponse struct {
	Entries []EntryResponse `json:"entries"`
	Count   int             `json:"count"`
}

type TotalResponse struct {
	TotalEntries int64 `json:"total_entries"`
}

type RecentQuery struct {
	Limit int `form:"limit"`
}

type StatsQuery struct {
	Days int `form:"days"`
}

type ResetResponse struct {
	Status    string    `json:"status"`
	CameraID  string    `json:"camera_id"`
	RequestID uuid.UUID `json:"request_id,omitempty"`
}
