package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Camera   CameraConfig   `yaml:"camera"`
	Vision   VisionConfig   `yaml:"vision"`
	Tracking TrackingConfig `yaml:"tracking"`
	Entry    EntryConfig    `yaml:"entry"`
	Engine   EngineConfig   `yaml:"engine"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LivePort int    `yaml:"live_port"`
	APIKey   string `yaml:"api_key"`
}

type CameraConfig struct {
	ID         string `yaml:"id"`
	Source     string `yaml:"source"`
	FPS        int    `yaml:"fps"`
	FrameWidth int    `yaml:"frame_width"`
}

type VisionConfig struct {
	ModelsDir           string  `yaml:"models_dir"`
	ModelFile           string  `yaml:"model_file"`
	ModelVersion        string  `yaml:"model_version"`
	InputSize           int     `yaml:"input_size"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MinConfidence       float64 `yaml:"min_confidence"`
	NMSThreshold        float64 `yaml:"nms_threshold"`
	MinHeight           int     `yaml:"min_height"`
	MinAreaRatio        float64 `yaml:"min_area_ratio"`
	MaxAreaRatio        float64 `yaml:"max_area_ratio"`
	MinAspectRatio      float64 `yaml:"min_aspect_ratio"`
	MaxAspectRatio      float64 `yaml:"max_aspect_ratio"`
}

// TrackingConfig tunes the assignment engine and track lifecycle.
type TrackingConfig struct {
	DistanceThreshold float64       `yaml:"distance_threshold"` // pixels, frame space
	Timeout           time.Duration `yaml:"timeout"`
	MaxFramesLost     int           `yaml:"max_frames_lost"`
	HistorySize       int           `yaml:"history_size"`
	MinHits           int           `yaml:"min_hits"`
	ConfidenceWeight  float64       `yaml:"confidence_weight"` // score penalty per unit of confidence difference
}

// EntryConfig tunes the entry validator.
type EntryConfig struct {
	MinFramesDetection     int     `yaml:"min_frames_detection"`
	RatioApproachThreshold float64 `yaml:"ratio_approach_threshold"`
	DirectionThreshold     int     `yaml:"direction_threshold"`
	ConsistencyRatio       float64 `yaml:"consistency_ratio"`
	MinStep                int     `yaml:"min_step"`
	// Line is x1, y1, x2, y2. All zeros means a horizontal line at mid-frame.
	Line     [4]int `yaml:"line"`
	LineFile string `yaml:"line_file"`
}

type EngineConfig struct {
	ProcessEveryNFrames int           `yaml:"process_every_n_frames"`
	FPSUpdateInterval   int           `yaml:"fps_update_interval"`
	JPEGQuality         int           `yaml:"jpeg_quality"`
	StopTimeout         time.Duration `yaml:"stop_timeout"`
	StatsInterval       time.Duration `yaml:"stats_interval"`
	EmitTimeout         time.Duration `yaml:"emit_timeout"` // bounds snapshot upload and sink emit per entry
	Snapshots           bool          `yaml:"snapshots"`
}

type StorageConfig struct {
	Driver            string        `yaml:"driver"` // postgres or sqlite
	SQLitePath        string        `yaml:"sqlite_path"`
	BatchInserts      *bool         `yaml:"batch_inserts"`
	BatchSize         int           `yaml:"batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	SnapshotRetention int           `yaml:"snapshot_retention"`
}

// Batching reports whether entries are buffered before insert.
func (s StorageConfig) Batching() bool {
	return s.BatchInserts == nil || *s.BatchInserts
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file, applies environment variable overrides,
// fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	setTunables(cfg)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if cfg.Entry.LineFile != "" && cfg.Entry.Line == [4]int{} {
		line, err := LoadLine(cfg.Entry.LineFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg.Entry.Line = line
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	setTunables(cfg)
	setDefaults(cfg)
	return cfg
}

// DefaultTracking returns the tracking defaults.
func DefaultTracking() TrackingConfig {
	return Default().Tracking
}

// DefaultEntry returns the entry validation defaults.
func DefaultEntry() EntryConfig {
	return Default().Entry
}

// LoadLine reads a counting line saved as {"line": [x1, y1, x2, y2]}.
func LoadLine(path string) ([4]int, error) {
	var line [4]int
	data, err := os.ReadFile(path)
	if err != nil {
		return line, fmt.Errorf("read line file: %w", err)
	}
	var doc struct {
		Line []int `json:"line"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return line, fmt.Errorf("parse line file: %w", err)
	}
	if len(doc.Line) != 4 {
		return line, fmt.Errorf("line file %s: want 4 coordinates, got %d", path, len(doc.Line))
	}
	copy(line[:], doc.Line)
	return line, nil
}

// setTunables presets the settings for which zero is a meaningful value.
// It runs before unmarshalling so an explicit 0 in YAML survives.
func setTunables(cfg *Config) {
	cfg.Tracking.ConfidenceWeight = 50
	cfg.Entry.RatioApproachThreshold = 0.15
	cfg.Entry.DirectionThreshold = 30
	cfg.Entry.MinStep = 5
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.LivePort == 0 {
		cfg.Server.LivePort = 8082
	}
	if cfg.Camera.ID == "" {
		cfg.Camera.ID = "main"
	}
	if cfg.Camera.Source == "" {
		cfg.Camera.Source = "0"
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 15
	}
	if cfg.Camera.FrameWidth == 0 {
		cfg.Camera.FrameWidth = 640
	}
	if cfg.Vision.ModelFile == "" {
		cfg.Vision.ModelFile = "yolov8n.onnx"
	}
	if cfg.Vision.ModelVersion == "" {
		cfg.Vision.ModelVersion = "YOLOv8n"
	}
	if cfg.Vision.InputSize == 0 {
		cfg.Vision.InputSize = 640
	}
	if cfg.Vision.ConfidenceThreshold == 0 {
		cfg.Vision.ConfidenceThreshold = 0.3
	}
	if cfg.Vision.MinConfidence == 0 {
		cfg.Vision.MinConfidence = 0.4
	}
	if cfg.Vision.NMSThreshold == 0 {
		cfg.Vision.NMSThreshold = 0.45
	}
	if cfg.Vision.MinHeight == 0 {
		cfg.Vision.MinHeight = 70
	}
	if cfg.Vision.MinAreaRatio == 0 {
		cfg.Vision.MinAreaRatio = 0.0015
	}
	if cfg.Vision.MaxAreaRatio == 0 {
		cfg.Vision.MaxAreaRatio = 0.35
	}
	if cfg.Vision.MinAspectRatio == 0 {
		cfg.Vision.MinAspectRatio = 1.3
	}
	if cfg.Vision.MaxAspectRatio == 0 {
		cfg.Vision.MaxAspectRatio = 4.0
	}
	if cfg.Tracking.DistanceThreshold == 0 {
		cfg.Tracking.DistanceThreshold = 150
	}
	if cfg.Tracking.Timeout == 0 {
		cfg.Tracking.Timeout = 1500 * time.Millisecond
	}
	if cfg.Tracking.MaxFramesLost == 0 {
		cfg.Tracking.MaxFramesLost = 10
	}
	if cfg.Tracking.HistorySize == 0 {
		cfg.Tracking.HistorySize = 15
	}
	if cfg.Tracking.MinHits == 0 {
		cfg.Tracking.MinHits = 3
	}
	if cfg.Entry.MinFramesDetection == 0 {
		cfg.Entry.MinFramesDetection = 8
	}
	if cfg.Entry.ConsistencyRatio == 0 {
		cfg.Entry.ConsistencyRatio = 0.7
	}
	if cfg.Engine.ProcessEveryNFrames == 0 {
		cfg.Engine.ProcessEveryNFrames = 1
	}
	if cfg.Engine.FPSUpdateInterval == 0 {
		cfg.Engine.FPSUpdateInterval = 30
	}
	if cfg.Engine.JPEGQuality == 0 {
		cfg.Engine.JPEGQuality = 85
	}
	if cfg.Engine.StopTimeout == 0 {
		cfg.Engine.StopTimeout = 3 * time.Second
	}
	if cfg.Engine.StatsInterval == 0 {
		cfg.Engine.StatsInterval = 2 * time.Second
	}
	if cfg.Engine.EmitTimeout == 0 {
		cfg.Engine.EmitTimeout = 2 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "neuraflow.db"
	}
	if cfg.Storage.BatchSize == 0 {
		cfg.Storage.BatchSize = 10
	}
	if cfg.Storage.FlushInterval == 0 {
		cfg.Storage.FlushInterval = 5 * time.Second
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 5
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "neuraflow-snapshots"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	v := c.Vision
	check(v.ConfidenceThreshold >= 0 && v.ConfidenceThreshold <= 1,
		"vision.confidence_threshold must be within [0, 1], got %v", v.ConfidenceThreshold)
	check(v.MinConfidence >= v.ConfidenceThreshold && v.MinConfidence <= 1,
		"vision.min_confidence must be within [confidence_threshold, 1], got %v", v.MinConfidence)
	check(v.MinAreaRatio < v.MaxAreaRatio,
		"vision.min_area_ratio (%v) must be < max_area_ratio (%v)", v.MinAreaRatio, v.MaxAreaRatio)
	check(v.MinAspectRatio < v.MaxAspectRatio,
		"vision.min_aspect_ratio (%v) must be < max_aspect_ratio (%v)", v.MinAspectRatio, v.MaxAspectRatio)
	check(v.MinHeight >= 0, "vision.min_height must be >= 0, got %d", v.MinHeight)
	check(v.InputSize > 0, "vision.input_size must be > 0, got %d", v.InputSize)

	if err := c.Tracking.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Entry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := CheckWindow(c.Tracking, c.Entry); err != nil {
		errs = append(errs, err)
	}

	e := c.Engine
	check(e.ProcessEveryNFrames >= 1, "engine.process_every_n_frames must be >= 1, got %d", e.ProcessEveryNFrames)
	check(e.FPSUpdateInterval >= 1, "engine.fps_update_interval must be >= 1, got %d", e.FPSUpdateInterval)
	check(e.JPEGQuality >= 1 && e.JPEGQuality <= 100, "engine.jpeg_quality must be within [1, 100], got %d", e.JPEGQuality)
	check(e.EmitTimeout > 0, "engine.emit_timeout must be > 0, got %s", e.EmitTimeout)

	s := c.Storage
	check(s.Driver == "postgres" || s.Driver == "sqlite", "storage.driver must be postgres or sqlite, got %q", s.Driver)
	check(s.BatchSize > 0, "storage.batch_size must be > 0, got %d", s.BatchSize)
	check(s.SnapshotRetention >= 0, "storage.snapshot_retention must be >= 0, got %d", s.SnapshotRetention)

	check(c.Camera.FPS > 0, "camera.fps must be > 0, got %d", c.Camera.FPS)
	check(ValidCameraID(c.Camera.ID), "camera.id %q must be non-empty and free of NATS subject tokens", c.Camera.ID)

	return errors.Join(errs...)
}

// ValidCameraID reports whether id can be used as a single NATS subject token.
func ValidCameraID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ".*> \t")
}

// Validate checks the tracking parameters.
func (t TrackingConfig) Validate() error {
	var errs []error
	if t.DistanceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("tracking.distance_threshold must be > 0, got %v", t.DistanceThreshold))
	}
	if t.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("tracking.timeout must be > 0, got %s", t.Timeout))
	}
	if t.MaxFramesLost <= 0 {
		errs = append(errs, fmt.Errorf("tracking.max_frames_lost must be > 0, got %d", t.MaxFramesLost))
	}
	if t.HistorySize < 2 {
		errs = append(errs, fmt.Errorf("tracking.history_size must be >= 2, got %d", t.HistorySize))
	}
	if t.MinHits < 1 {
		errs = append(errs, fmt.Errorf("tracking.min_hits must be >= 1, got %d", t.MinHits))
	}
	if t.ConfidenceWeight < 0 {
		errs = append(errs, fmt.Errorf("tracking.confidence_weight must be >= 0, got %v", t.ConfidenceWeight))
	}
	return errors.Join(errs...)
}

// CheckWindow reports a validation window the track history can never fill.
func CheckWindow(t TrackingConfig, e EntryConfig) error {
	if e.MinFramesDetection > t.HistorySize {
		return fmt.Errorf("entry.min_frames_detection (%d) must be <= tracking.history_size (%d)",
			e.MinFramesDetection, t.HistorySize)
	}
	return nil
}

// Validate checks the entry validation parameters.
func (e EntryConfig) Validate() error {
	var errs []error
	if e.MinFramesDetection < 2 {
		errs = append(errs, fmt.Errorf("entry.min_frames_detection must be >= 2, got %d", e.MinFramesDetection))
	}
	if e.RatioApproachThreshold < 0 {
		errs = append(errs, fmt.Errorf("entry.ratio_approach_threshold must be >= 0, got %v", e.RatioApproachThreshold))
	}
	if e.DirectionThreshold < 0 {
		errs = append(errs, fmt.Errorf("entry.direction_threshold must be >= 0, got %d", e.DirectionThreshold))
	}
	if e.ConsistencyRatio < 0 || e.ConsistencyRatio > 1 {
		errs = append(errs, fmt.Errorf("entry.consistency_ratio must be within [0, 1], got %v", e.ConsistencyRatio))
	}
	if e.MinStep < 0 {
		errs = append(errs, fmt.Errorf("entry.min_step must be >= 0, got %d", e.MinStep))
	}
	for i, v := range e.Line {
		if v < 0 {
			errs = append(errs, fmt.Errorf("entry.line[%d] must be >= 0, got %d", i, v))
		}
	}
	return errors.Join(errs...)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NF_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NF_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("NF_CAMERA_ID"); v != "" {
		cfg.Camera.ID = v
	}
	if v := os.Getenv("NF_CAMERA_SOURCE"); v != "" {
		cfg.Camera.Source = v
	}
	if v := os.Getenv("NF_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("NF_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("NF_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.MinConfidence = f
		}
	}
	if v := os.Getenv("NF_DISTANCE_TRACKING"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracking.DistanceThreshold = f
		}
	}
	if v := os.Getenv("NF_TRACKING_TIMEOUT"); v != "" {
		if d, ok := parseSeconds(v); ok {
			cfg.Tracking.Timeout = d
		}
	}
	if v := os.Getenv("NF_MAX_FRAMES_LOST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tracking.MaxFramesLost = n
		}
	}
	if v := os.Getenv("NF_DIRECTION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Entry.DirectionThreshold = n
		}
	}
	if v := os.Getenv("NF_FRAMES_MIN_DETECTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Entry.MinFramesDetection = n
		}
	}
	if v := os.Getenv("NF_RATIO_APPROACH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Entry.RatioApproachThreshold = f
		}
	}
	if v := os.Getenv("NF_PROCESS_EVERY_N_FRAMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.ProcessEveryNFrames = n
		}
	}
	if v := os.Getenv("NF_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("NF_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("NF_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.BatchSize = n
		}
	}
	if v := os.Getenv("NF_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("NF_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("NF_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("NF_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("NF_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("NF_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("NF_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("NF_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("NF_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("NF_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
}

// parseSeconds accepts either a Go duration ("1500ms") or plain seconds ("1.5").
func parseSeconds(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), true
	}
	return 0, false
}
