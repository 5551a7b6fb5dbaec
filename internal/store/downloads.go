package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cesargomez89/inkqueue/internal/domain"
)

// DownloadBackend keeps download_item records in the download_queue table.
type DownloadBackend struct {
	db *DB
}

func NewDownloadBackend(db *DB) *DownloadBackend {
	return &DownloadBackend{db: db}
}

type downloadRow struct {
	ID         int64           `db:"id"`
	Status     string          `db:"status"`
	Progress   float64         `db:"progress"`
	Message    string          `db:"message"`
	Metadata   domain.Metadata `db:"metadata"`
	RetryCount int             `db:"retry_count"`
	Version    int64           `db:"version"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
	StartedAt  sql.NullTime    `db:"started_at"`
	FinishedAt sql.NullTime    `db:"finished_at"`
}

const downloadColumns = `id, status, progress, message, metadata, retry_count, version,
	created_at, updated_at, started_at, finished_at`

func (r *downloadRow) record() *domain.JobRecord {
	rec := &domain.JobRecord{
		ID:         strconv.FormatInt(r.ID, 10),
		Kind:       domain.KindDownloadItem,
		Status:     domain.Status(r.Status),
		Progress:   r.Progress,
		Message:    r.Message,
		Metadata:   r.Metadata,
		RetryCount: r.RetryCount,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time.UTC()
		rec.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time.UTC()
		rec.FinishedAt = &t
	}
	return rec
}

func rowFromRecord(rec *domain.JobRecord) downloadRow {
	row := downloadRow{
		Status:     string(rec.Status),
		Progress:   rec.Progress,
		Message:    rec.Message,
		Metadata:   rec.Metadata,
		RetryCount: rec.RetryCount,
		Version:    rec.Version,
		CreatedAt:  rec.CreatedAt.UTC(),
		UpdatedAt:  rec.UpdatedAt.UTC(),
	}
	if rec.StartedAt != nil {
		row.StartedAt = sql.NullTime{Time: rec.StartedAt.UTC(), Valid: true}
	}
	if rec.FinishedAt != nil {
		row.FinishedAt = sql.NullTime{Time: rec.FinishedAt.UTC(), Valid: true}
	}
	return row
}

func parseDownloadID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("download id %q must be a positive integer: %w", id, domain.ErrInvalidInput)
	}
	return n, nil
}

func (b *DownloadBackend) Kind() domain.Kind {
	return domain.KindDownloadItem
}

func (b *DownloadBackend) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, domain.NotFound(domain.KindDownloadItem, id)
	}

	var row downloadRow
	err = b.db.GetContext(ctx, &row, `SELECT `+downloadColumns+` FROM download_queue WHERE id = ?`, n)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(domain.KindDownloadItem, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get download %s: %w", id, err)
	}
	return row.record(), nil
}

func (b *DownloadBackend) List(ctx context.Context, filter domain.Filter) ([]*domain.JobRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Active {
		where = append(where, "status NOT IN (?, ?)")
		args = append(args, domain.StatusCompleted, domain.StatusFailed)
	}
	if len(filter.Statuses) > 0 {
		clause, inArgs, err := sqlx.In("status IN (?)", filter.Statuses)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, inArgs...)
	}

	query := `SELECT ` + downloadColumns + ` FROM download_queue`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []downloadRow
	if err := b.db.SelectContext(ctx, &rows, b.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}

	out := make([]*domain.JobRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].record())
	}
	return out, nil
}

func (b *DownloadBackend) Insert(ctx context.Context, rec *domain.JobRecord, hold func(id string)) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := rowFromRecord(rec)
	if rec.ID == "" {
		res, err := tx.NamedExecContext(ctx, `INSERT INTO download_queue
			(status, progress, message, metadata, retry_count, version, created_at, updated_at, started_at, finished_at)
			VALUES (:status, :progress, :message, :metadata, :retry_count, :version, :created_at, :updated_at, :started_at, :finished_at)`, row)
		if err != nil {
			return fmt.Errorf("insert download: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert download: %w", err)
		}
		rec.ID = strconv.FormatInt(id, 10)
	} else {
		if row.ID, err = parseDownloadID(rec.ID); err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO download_queue (`+downloadColumns+`)
			VALUES (:id, :status, :progress, :message, :metadata, :retry_count, :version, :created_at, :updated_at, :started_at, :finished_at)`, row); err != nil {
			return fmt.Errorf("insert download %s: %w", rec.ID, err)
		}
	}

	if hold != nil {
		hold(rec.ID)
	}
	return tx.Commit()
}

func (b *DownloadBackend) Save(ctx context.Context, rec *domain.JobRecord) error {
	row := rowFromRecord(rec)
	var err error
	if row.ID, err = parseDownloadID(rec.ID); err != nil {
		return err
	}

	_, err = b.db.NamedExecContext(ctx, `INSERT INTO download_queue (`+downloadColumns+`)
		VALUES (:id, :status, :progress, :message, :metadata, :retry_count, :version, :created_at, :updated_at, :started_at, :finished_at)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			message = excluded.message,
			metadata = excluded.metadata,
			retry_count = excluded.retry_count,
			version = excluded.version,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`, row)
	if err != nil {
		return fmt.Errorf("save download %s: %w", rec.ID, err)
	}
	return nil
}

func (b *DownloadBackend) Remove(ctx context.Context, id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return domain.NotFound(domain.KindDownloadItem, id)
	}
	res, err := b.db.ExecContext(ctx, `DELETE FROM download_queue WHERE id = ?`, n)
	if err != nil {
		return fmt.Errorf("delete download %s: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.NotFound(domain.KindDownloadItem, id)
	}
	return nil
}
