package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cdrcore/internal/domain/model"
)

// ImportRepository — маппинг внешних идентификаторов, пакетные задания
// импорта и события сверки.
type ImportRepository interface {
	// GetRecord возвращает маппинг (source, external_id) или ErrNotFound.
	GetRecord(ctx context.Context, source model.ImportSource, externalID string) (*model.ImportRecord, error)
	// UpsertRecord создаёт или обновляет маппинг.
	UpsertRecord(ctx context.Context, rec *model.ImportRecord) error
	// ListRecords возвращает маппинги источника; status == "" — все.
	ListRecords(ctx context.Context, source model.ImportSource, status string) ([]*model.ImportRecord, error)
	// CreateJob регистрирует запуск пакетного импорта.
	CreateJob(ctx context.Context, source model.ImportSource, startedAt time.Time) (*model.ImportJob, error)
	// FinishJob фиксирует итоговый статус задания.
	FinishJob(ctx context.Context, id int, status string, finishedAt time.Time) error
	// GetJob возвращает задание импорта.
	GetJob(ctx context.Context, id int) (*model.ImportJob, error)
	// AddEvent записывает итог сверки документа; повтор в задании — ErrConflict.
	AddEvent(ctx context.Context, ev *model.ImportEvent) error
	// ListEvents возвращает события задания в порядке записи.
	ListEvents(ctx context.Context, jobID int) ([]*model.ImportEvent, error)
}

type importRepo struct {
	db DBTX
}

// NewImportRepository создаёт репозиторий импорта.
func NewImportRepository(db DBTX) ImportRepository {
	return &importRepo{db: db}
}

func (r *importRepo) GetRecord(ctx context.Context, source model.ImportSource, externalID string) (*model.ImportRecord, error) {
	query := `
		SELECT source, external_id, cdr_doc_id, last_import_date, status
		FROM import_record
		WHERE source = $1 AND external_id = $2`

	rec := &model.ImportRecord{}
	err := r.db.QueryRow(ctx, query, string(source), externalID).
		Scan(&rec.Source, &rec.ExternalID, &rec.CDRDocID, &rec.LastImportDate, &rec.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи импорта: %w", classify(err))
	}
	return rec, nil
}

func (r *importRepo) UpsertRecord(ctx context.Context, rec *model.ImportRecord) error {
	query := `
		INSERT INTO import_record (source, external_id, cdr_doc_id, last_import_date, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source, external_id) DO UPDATE SET
			cdr_doc_id = COALESCE(EXCLUDED.cdr_doc_id, import_record.cdr_doc_id),
			last_import_date = COALESCE(EXCLUDED.last_import_date, import_record.last_import_date),
			status = EXCLUDED.status`

	_, err := r.db.Exec(ctx, query, string(rec.Source), rec.ExternalID, rec.CDRDocID, rec.LastImportDate, rec.Status)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: документ %v", ErrNotFound, rec.CDRDocID)
		}
		return fmt.Errorf("ошибка записи маппинга импорта: %w", classify(err))
	}
	return nil
}

func (r *importRepo) ListRecords(ctx context.Context, source model.ImportSource, status string) ([]*model.ImportRecord, error) {
	query := `
		SELECT source, external_id, cdr_doc_id, last_import_date, status
		FROM import_record
		WHERE source = $1 AND ($2 = '' OR status = $2)
		ORDER BY external_id`

	rows, err := r.db.Query(ctx, query, string(source), status)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей импорта: %w", classify(err))
	}
	defer rows.Close()

	var result []*model.ImportRecord
	for rows.Next() {
		rec := &model.ImportRecord{}
		if err := rows.Scan(&rec.Source, &rec.ExternalID, &rec.CDRDocID, &rec.LastImportDate, &rec.Status); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи импорта: %w", err)
		}
		result = append(result, rec)
	}
	return result, classifyRows(rows.Err())
}

func (r *importRepo) CreateJob(ctx context.Context, source model.ImportSource, startedAt time.Time) (*model.ImportJob, error) {
	job := &model.ImportJob{Source: source, StartedAt: startedAt, Status: model.JobStatusInProgress}
	err := r.db.QueryRow(ctx,
		`INSERT INTO import_job (source, started_at, status) VALUES ($1, $2, $3) RETURNING id`,
		string(source), startedAt, job.Status).Scan(&job.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания задания импорта: %w", classify(err))
	}
	return job, nil
}

func (r *importRepo) FinishJob(ctx context.Context, id int, status string, finishedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE import_job SET status = $2, finished_at = $3 WHERE id = $1`,
		id, status, finishedAt)
	if err != nil {
		return fmt.Errorf("ошибка завершения задания импорта: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *importRepo) GetJob(ctx context.Context, id int) (*model.ImportJob, error) {
	job := &model.ImportJob{}
	err := r.db.QueryRow(ctx,
		`SELECT id, source, started_at, finished_at, status FROM import_job WHERE id = $1`, id).
		Scan(&job.ID, &job.Source, &job.StartedAt, &job.FinishedAt, &job.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания импорта: %w", classify(err))
	}
	return job, nil
}

func (r *importRepo) AddEvent(ctx context.Context, ev *model.ImportEvent) error {
	query := `
		INSERT INTO import_event (job_id, doc_id, source, external_id, locked, new, pub_version, warning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`

	_, err := r.db.Exec(ctx, query, ev.JobID, ev.DocID, string(ev.Source), ev.ExternalID,
		ev.Locked, ev.New, ev.PubVersion, ev.Warning, ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: событие %s/%s уже записано в задании %d", ErrConflict, ev.Source, ev.ExternalID, ev.JobID)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: задание %d или документ", ErrNotFound, ev.JobID)
		}
		return fmt.Errorf("ошибка записи события импорта: %w", classify(err))
	}
	return nil
}

func (r *importRepo) ListEvents(ctx context.Context, jobID int) ([]*model.ImportEvent, error) {
	query := `
		SELECT job_id, doc_id, source, external_id, locked, new, pub_version, COALESCE(warning, ''), created_at
		FROM import_event
		WHERE job_id = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения событий импорта: %w", classify(err))
	}
	defer rows.Close()

	var result []*model.ImportEvent
	for rows.Next() {
		ev := &model.ImportEvent{}
		if err := rows.Scan(&ev.JobID, &ev.DocID, &ev.Source, &ev.ExternalID,
			&ev.Locked, &ev.New, &ev.PubVersion, &ev.Warning, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования события импорта: %w", err)
		}
		result = append(result, ev)
	}
	return result, classifyRows(rows.Err())
}
