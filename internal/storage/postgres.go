package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const pgInsertEntry = `
	INSERT INTO entries (event_id, camera_id, track_id, ts, total_entries,
		x_center, y_bottom, confidence, model_version, snapshot_key)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (event_id) DO NOTHING`

// InsertEntries writes entries in one batch and returns how many were new.
func (s *PostgresStore) InsertEntries(ctx context.Context, entries []models.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(pgInsertEntry,
			e.EventID, e.CameraID, e.TrackID, e.Timestamp, e.TotalEntries,
			e.XCenter, e.YBottom, e.Confidence, e.ModelVersion, e.SnapshotKey)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert entries: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range entries {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("insert entry: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit entries: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) TotalEntries(ctx context.Context, cameraID string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM entries WHERE ($1::text = '' OR camera_id = $1)`, cameraID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return total, nil
}

const pgEntryColumns = `id, event_id, camera_id, track_id, ts, total_entries,
	x_center, y_bottom, confidence, model_version, snapshot_key`

func scanPGEntry(row pgx.Row) (models.Entry, error) {
	var e models.Entry
	err := row.Scan(&e.ID, &e.EventID, &e.CameraID, &e.TrackID, &e.Timestamp, &e.TotalEntries,
		&e.XCenter, &e.YBottom, &e.Confidence, &e.ModelVersion, &e.SnapshotKey)
	return e, err
}

func (s *PostgresStore) RecentEntries(ctx context.Context, cameraID string, limit int) ([]models.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgEntryColumns+` FROM entries
		 WHERE ($1::text = '' OR camera_id = $1)
		 ORDER BY ts DESC, id DESC LIMIT $2`, cameraID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		e, err := scanPGEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) EntryByEventID(ctx context.Context, eventID uuid.UUID) (*models.Entry, error) {
	e, err := scanPGEntry(s.pool.QueryRow(ctx,
		`SELECT `+pgEntryColumns+` FROM entries WHERE event_id = $1`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) Statistics(ctx context.Context, cameraID string, days int, now time.Time) (*models.Statistics, error) {
	st := &models.Statistics{}
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), COALESCE(avg(confidence), 0) FROM entries WHERE ($1::text = '' OR camera_id = $1)`,
		cameraID,
	).Scan(&st.TotalEntries, &st.AvgConfidence)
	if err != nil {
		return nil, fmt.Errorf("aggregate entries: %w", err)
	}

	since := statsWindow(now, days)
	rows, err := s.pool.Query(ctx,
		`SELECT to_char(date_trunc('day', ts AT TIME ZONE 'UTC'), 'YYYY-MM-DD') AS day, count(*)
		 FROM entries
		 WHERE ts >= $1 AND ($2::text = '' OR camera_id = $2)
		 GROUP BY day ORDER BY day`, since, cameraID)
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
