package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// EntryStore is the entry log. Inserts are idempotent on event id.
// An empty cameraID selects every camera.
type EntryStore interface {
	InsertEntries(ctx context.Context, entries []models.Entry) (int, error)
	TotalEntries(ctx context.Context, cameraID string) (int64, error)
	RecentEntries(ctx context.Context, cameraID string, limit int) ([]models.Entry, error)
	EntryByEventID(ctx context.Context, eventID uuid.UUID) (*models.Entry, error)
	Statistics(ctx context.Context, cameraID string, days int, now time.Time) (*models.Statistics, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, cfg *config.Config) (EntryStore, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		if err := MigratePostgres(cfg.Database); err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// statsWindow returns the first instant counted for a days-long window ending today (UTC).
func statsWindow(now time.Time, days int) time.Time {
	if days < 1 {
		days = 1
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))
}

// fillDays returns one DailyCount per day from since, zero for days without entries.
func fillDays(since time.Time, days int, counts map[string]int64) []models.DailyCount {
	if days < 1 {
		days = 1
	}
	out := make([]models.DailyCount, days)
	for i := range days {
		date := since.AddDate(0, 0, i).Format(time.DateOnly)
		out[i] = models.DailyCount{Date: date, Count: counts[date]}
	}
	return out
}
