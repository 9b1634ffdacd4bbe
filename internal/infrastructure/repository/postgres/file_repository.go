package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *FileRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	media_type TEXT NOT NULL,
	byte_size BIGINT NOT NULL DEFAULT 0,
	content_location TEXT NOT NULL,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	summary TEXT NOT NULL DEFAULT '',
	processing_state TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_processing_state ON files(processing_state);
CREATE INDEX IF NOT EXISTS idx_files_created_at ON files(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *FileRepository) Create(ctx context.Context, file *domain.FileRecord) error {
	tagsJSON, err := marshalTags(file.Tags)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO files (
	id, filename, media_type, byte_size, content_location, tags, summary, processing_state, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		file.ID, file.Filename, file.MediaType, file.ByteSize, file.ContentLocation, tagsJSON,
		file.Summary, string(file.ProcessingState), file.CreatedAt, file.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (r *FileRepository) GetByID(ctx context.Context, id string) (*domain.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, media_type, byte_size, content_location, tags, summary, processing_state, created_at, updated_at
FROM files
WHERE id = $1
`, id)

	var file domain.FileRecord
	var tagsRaw []byte
	var state string

	err := row.Scan(
		&file.ID, &file.Filename, &file.MediaType, &file.ByteSize, &file.ContentLocation,
		&tagsRaw, &file.Summary, &state, &file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrFileNotFound, "get file", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}

	if err := json.Unmarshal(tagsRaw, &file.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if file.Tags == nil {
		file.Tags = []string{}
	}
	file.ProcessingState = domain.ProcessingState(state)
	return &file, nil
}

// UpdateAnnotation is a compare-and-set on processing_state. When no row was
// updated a second lookup tells a missing file apart from a lost race.
func (r *FileRepository) UpdateAnnotation(
	ctx context.Context,
	id string,
	ann domain.Annotation,
	expected domain.ProcessingState,
) error {
	if !domain.CanTransition(expected, ann.ProcessingState) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"update annotation",
			fmt.Errorf("transition %s -> %s is not allowed", expected, ann.ProcessingState),
		)
	}
	tagsJSON, err := marshalTags(ann.Tags)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE files
SET tags = $2, summary = $3, processing_state = $4, updated_at = $5
WHERE id = $1 AND processing_state = $6
`, id, tagsJSON, ann.Summary, string(ann.ProcessingState), time.Now().UTC(), string(expected))
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update annotation rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT processing_state FROM files WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrFileNotFound, "update annotation", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("read processing state: %w", err)
	}
	return domain.WrapError(
		domain.ErrStateConflict,
		"update annotation",
		fmt.Errorf("expected %s, found %s", expected, current),
	)
}

func marshalTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return raw, nil
}
