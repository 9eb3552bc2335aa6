package dto

type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// LiveStats mirrors the counter's in-memory snapshot.
type LiveStats struct {
	CameraID     string  `json:"camera_id"`
	TotalEntries int64   `json:"total_entries"`
	ActiveTracks int     `json:"active_tracks"`
	Tracked      int     `json:"tracked"`
	FPS          float64 `json:"fps"`
	FrameCount   int64   `json:"frame_count"`
	Line         [4]int  `json:"line"`
	UpdatedAt    string  `json:"updated_at,omitempty"`
}

type StatsResponse struct {
	TotalEntries  int64        `json:"total_entries"`
	AvgConfidence float64      `json:"avg_confidence"`
	Daily         []DailyCount `json:"daily"`
	Live          []LiveStats  `json:"live,omitempty"`
}

// WSEvent is a WebSocket message for real-time delivery.
type WSEvent struct {
	Type     string         `json:"type"` // entry, stats
	CameraID string         `json:"camera_id"`
	Entry    *EntryResponse `json:"entry,omitempty"`
	Stats    *LiveStats     `json:"stats,omitempty"`
}

type InfoResponse struct {
	Service       string   `json:"service"`
	Version       string   `json:"version"`
	ModelVersion  string   `json:"model_version,omitempty"`
	StorageDriver string   `json:"storage_driver,omitempty"`
	Cameras       []string `json:"cameras"`
}
