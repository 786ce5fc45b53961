// Package store persists job records in SQL. SQLite is the embedded default;
// Postgres serves deployments that already run a database.
//
// Timestamps are stored as fixed-width RFC3339 text so both dialects share one
// schema and text order matches time order.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"vidpipe/job"
)

//go:embed schema.sql
var schemaSQL string

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLStore implements job.Store on top of sqlx.
type SQLStore struct {
	db    *sqlx.DB
	clock func() time.Time
	idGen func() string
}

type jobRow struct {
	ID             string         `db:"id"`
	SourcePath     string         `db:"source_path"`
	Status         string         `db:"status"`
	TranscodedPath sql.NullString `db:"transcoded_path"`
	SubtitlesPath  sql.NullString `db:"subtitles_path"`
	SegmentsPath   sql.NullString `db:"segments_path"`
	ThumbnailPath  sql.NullString `db:"thumbnail_path"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

// timeLayout keeps every fractional digit so values sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, source_path, status, transcoded_path, subtitles_path, segments_path, thumbnail_path, created_at, updated_at`

// Open connects to the database for driver ("sqlite" or "postgres") and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	driverName := driver
	if driver == "postgres" {
		driverName = "pgx"
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", driver, err)
	}

	switch driver {
	case "sqlite":
		// One writer at a time; WAL lets status queries read while a stage persists.
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	case "postgres":
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	s := &SQLStore{db: db, clock: time.Now, idGen: job.NewID}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Create(ctx context.Context, sourcePath string) (*job.Job, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return nil, job.ErrInvalidArgument
	}

	now := s.clock().UTC()
	j := &job.Job{
		ID:         s.idGen(),
		SourcePath: sourcePath,
		Status:     job.StatusPending,
		Artifacts:  job.Artifacts{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	row := toRow(j)
	const q = `INSERT INTO jobs (` + jobColumns + `)
		VALUES (:id, :source_path, :status, :transcoded_path, :subtitles_path, :segments_path, :thumbnail_path, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return nil, fmt.Errorf("job create: %w", err)
	}
	return j, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*job.Job, error) {
	if id == "" {
		return nil, job.ErrInvalidArgument
	}
	return s.get(ctx, s.db, id)
}

// Update applies u inside a transaction so validation and write see the same row.
func (s *SQLStore) Update(ctx context.Context, id string, u job.Update) error {
	if id == "" {
		return job.ErrInvalidArgument
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.get(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := job.Apply(current, u); err != nil {
		return err
	}
	current.UpdatedAt = s.clock().UTC()

	row := toRow(current)
	const q = `UPDATE jobs
		SET status = :status, transcoded_path = :transcoded_path, subtitles_path = :subtitles_path,
		    segments_path = :segments_path, thumbnail_path = :thumbnail_path, updated_at = :updated_at
		WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("job update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, statuses ...job.Status) ([]*job.Job, error) {
	var (
		query = `SELECT ` + jobColumns + ` FROM jobs`
		args  []interface{}
		err   error
	)
	if len(statuses) > 0 {
		query, args, err = sqlx.In(query+` WHERE status IN (?)`, statuses)
		if err != nil {
			return nil, fmt.Errorf("build list query: %w", err)
		}
	}
	query = s.db.Rebind(query + ` ORDER BY created_at, id`)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("job list: %w", err)
	}

	out := make([]*job.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *SQLStore) get(ctx context.Context, q sqlx.QueryerContext, id string) (*job.Job, error) {
	query := sqlx.Rebind(sqlx.BindType(s.db.DriverName()), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`)

	var r jobRow
	if err := sqlx.GetContext(ctx, q, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("job get: %w", err)
	}
	return r.toJob()
}

func toRow(j *job.Job) jobRow {
	return jobRow{
		ID:             j.ID,
		SourcePath:     j.SourcePath,
		Status:         string(j.Status),
		TranscodedPath: nullable(j.Artifacts[job.StageTranscode]),
		SubtitlesPath:  nullable(j.Artifacts[job.StageSubtitles]),
		SegmentsPath:   nullable(j.Artifacts[job.StageSegments]),
		ThumbnailPath:  nullable(j.Artifacts[job.StageThumbnail]),
		CreatedAt:      j.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:      j.UpdatedAt.UTC().Format(timeLayout),
	}
}

func (r jobRow) toJob() (*job.Job, error) {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("job %s: parse created_at: %w", r.ID, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("job %s: parse updated_at: %w", r.ID, err)
	}

	artifacts := job.Artifacts{}
	for stage, col := range map[job.Stage]sql.NullString{
		job.StageTranscode: r.TranscodedPath,
		job.StageSubtitles: r.SubtitlesPath,
		job.StageSegments:  r.SegmentsPath,
		job.StageThumbnail: r.ThumbnailPath,
	} {
		if col.Valid && col.String != "" {
			artifacts[stage] = col.String
		}
	}

	return &job.Job{
		ID:         r.ID,
		SourcePath: r.SourcePath,
		Status:     job.Status(r.Status),
		Artifacts:  artifacts,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
