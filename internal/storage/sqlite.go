package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/your-org/neuraflow/internal/models"
)

// SQLiteStore keeps the entry log in a local file, for single-box deployments.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; WAL lets readers proceed during batch inserts
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) InsertEntries(ctx context.Context, entries []models.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert entries: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO entries (event_id, camera_id, track_id, ts_ms, total_entries,
			x_center, y_bottom, confidence, model_version, snapshot_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert entry: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx,
			e.EventID.String(), e.CameraID, e.TrackID, e.Timestamp.UnixMilli(), e.TotalEntries,
			e.XCenter, e.YBottom, e.Confidence, e.ModelVersion, e.SnapshotKey)
		if err != nil {
			return 0, fmt.Errorf("insert entry %s: %w", e.EventID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit entries: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteStore) TotalEntries(ctx context.Context, cameraID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM entries WHERE (?1 = '' OR camera_id = ?1)`, cameraID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return total, nil
}

const sqliteEntryColumns = `id, event_id, camera_id, track_id, ts_ms, total_entries,
	x_center, y_bottom, confidence, model_version, snapshot_key`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (models.Entry, error) {
	var (
		e       models.Entry
		eventID string
		tsMS    int64
	)
	err := row.Scan(&e.ID, &eventID, &e.CameraID, &e.TrackID, &tsMS, &e.TotalEntries,
		&e.XCenter, &e.YBottom, &e.Confidence, &e.ModelVersion, &e.SnapshotKey)
	if err != nil {
		return e, err
	}
	e.Timestamp = time.UnixMilli(tsMS).UTC()
	e.EventID, err = uuid.Parse(eventID)
	if err != nil {
		return e, fmt.Errorf("parse event id %q: %w", eventID, err)
	}
	return e, nil
}

func (s *SQLiteStore) RecentEntries(ctx context.Context, cameraID string, limit int) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM entries
		 WHERE (?1 = '' OR camera_id = ?1)
		 ORDER BY ts_ms DESC, id DESC LIMIT ?2`, cameraID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) EntryByEventID(ctx context.Context, eventID uuid.UUID) (*models.Entry, error) {
	e, err := scanSQLiteEntry(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM entries WHERE event_id = ?`, eventID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) Statistics(ctx context.Context, cameraID string, days int, now time.Time) (*models.Statistics, error) {
	st := &models.Statistics{}
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(avg(confidence), 0) FROM entries WHERE (?1 = '' OR camera_id = ?1)`,
		cameraID,
	).Scan(&st.TotalEntries, &st.AvgConfidence)
	if err != nil {
		return nil, fmt.Errorf("aggregate entries: %w", err)
	}

	since := statsWindow(now, days)
	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m-%d', ts_ms / 1000, 'unixepoch') AS day, count(*)
		 FROM entries
		 WHERE ts_ms >= ?1 AND (?2 = '' OR camera_id = ?2)
		 GROUP BY day ORDER BY day`, since.UnixMilli(), cameraID)
	if err != nil {
		return nil, fmt.Errorf("query daily entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("scan daily entries: %w", err)
		}
		counts[day] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	st.Daily = fillDays(since, days, counts)
	return st, nil
}
