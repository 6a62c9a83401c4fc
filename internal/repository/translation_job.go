package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/translation"
)

// TranslationJobRepository — активные задания перевода и их история.
// Все методы принимают семейство: таблицы разных семейств не пересекаются.
type TranslationJobRepository interface {
	// Get возвращает активное задание документа.
	Get(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error)
	// GetForUpdate возвращает задание, блокируя строку до конца транзакции.
	GetForUpdate(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error)
	// Insert создаёт активное задание.
	Insert(ctx context.Context, f translation.Family, job *model.TranslationJob) error
	// Update перезаписывает состояние, исполнителя, дату и комментарий.
	Update(ctx context.Context, f translation.Family, job *model.TranslationJob) error
	// AppendHistory добавляет строку истории и возвращает её history_id.
	AppendHistory(ctx context.Context, f translation.Family, job *model.TranslationJob) (int64, error)
	// DeleteInState удаляет активные задания в состоянии stateID.
	DeleteInState(ctx context.Context, f translation.Family, stateID int) (int, error)
	// ListActive возвращает активные задания в порядке
	// (state_date, позиция состояния, имя исполнителя, doc_id).
	ListActive(ctx context.Context, f translation.Family, filter model.JobFilter) ([]*model.TranslationJob, error)
	// ListHistory возвращает историю, отсортированную по колонке sort.
	ListHistory(ctx context.Context, f translation.Family, filter model.JobFilter, sort translation.SortColumn) ([]*model.JobHistoryEntry, error)
}

type translationJobRepo struct {
	db DBTX
}

// NewTranslationJobRepository создаёт репозиторий заданий перевода.
func NewTranslationJobRepository(db DBTX) TranslationJobRepository {
	return &translationJobRepo{db: db}
}

// jobColumns — колонки задания с данными справочников для таблицы alias t.
func jobColumns(f translation.Family, alias string) (columns, joins string) {
	columns = fmt.Sprintf(`%[1]s.doc_id, COALESCE(d.title, ''), %[1]s.state_id, s.value_name, s.value_pos,
			%[1]s.assigned_to, u.name, %[1]s.state_date, %[1]s.comments`, alias)
	joins = fmt.Sprintf(`
		JOIN %[1]s s ON s.value_id = %[2]s.state_id
		JOIN usr u ON u.id = %[2]s.assigned_to
		LEFT JOIN document d ON d.id = %[2]s.doc_id`, f.StateTable(), alias)
	return columns, joins
}

func scanJob(row pgx.Row, job *model.TranslationJob, extra ...any) error {
	dest := []any{
		&job.DocID, &job.DocTitle, &job.StateID, &job.StateName, &job.StatePos,
		&job.AssigneeID, &job.AssigneeName, &job.StateDate, &job.Comments,
	}
	return row.Scan(append(extra, dest...)...)
}

func (r *translationJobRepo) get(ctx context.Context, f translation.Family, docID int, lock string) (*model.TranslationJob, error) {
	columns, joins := jobColumns(f, "j")
	query := fmt.Sprintf(`SELECT %s FROM %s j %s WHERE j.doc_id = $1 %s`, columns, f.JobTable(), joins, lock)

	job := &model.TranslationJob{}
	if err := scanJob(r.db.QueryRow(ctx, query, docID), job); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания %s/%d: %w", f, docID, classify(err))
	}
	return job, nil
}

func (r *translationJobRepo) Get(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error) {
	return r.get(ctx, f, docID, "")
}

func (r *translationJobRepo) GetForUpdate(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error) {
	return r.get(ctx, f, docID, "FOR UPDATE OF j")
}

func (r *translationJobRepo) Insert(ctx context.Context, f translation.Family, job *model.TranslationJob) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (doc_id, state_id, assigned_to, state_date, comments)
		VALUES ($1, $2, $3, $4, $5)`, f.JobTable())

	_, err := r.db.Exec(ctx, query, job.DocID, job.StateID, job.AssigneeID, job.StateDate, job.Comments)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: задание для документа %d уже существует", ErrConflict, job.DocID)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: документ, состояние или пользователь", ErrNotFound)
		}
		return fmt.Errorf("ошибка создания задания: %w", classify(err))
	}
	return nil
}

func (r *translationJobRepo) Update(ctx context.Context, f translation.Family, job *model.TranslationJob) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET state_id = $2, assigned_to = $3, state_date = $4, comments = $5
		WHERE doc_id = $1`, f.JobTable())

	tag, err := r.db.Exec(ctx, query, job.DocID, job.StateID, job.AssigneeID, job.StateDate, job.Comments)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: состояние или пользователь", ErrNotFound)
		}
		return fmt.Errorf("ошибка обновления задания: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *translationJobRepo) AppendHistory(ctx context.Context, f translation.Family, job *model.TranslationJob) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (doc_id, state_id, assigned_to, state_date, comments)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING history_id`, f.HistoryTable())

	var id int64
	err := r.db.QueryRow(ctx, query, job.DocID, job.StateID, job.AssigneeID, job.StateDate, job.Comments).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка записи истории задания: %w", classify(err))
	}
	return id, nil
}

func (r *translationJobRepo) DeleteInState(ctx context.Context, f translation.Family, stateID int) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE state_id = $1`, f.JobTable())

	tag, err := r.db.Exec(ctx, query, stateID)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления заданий: %w", classify(err))
	}
	return int(tag.RowsAffected()), nil
}

// buildJobWhere строит WHERE по фильтру для таблицы alias.
func buildJobWhere(filter model.JobFilter, alias string) (string, []any) {
	var conditions []string
	var args []any
	argNum := 1

	if len(filter.StateIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("%s.state_id = ANY($%d)", alias, argNum))
		args = append(args, filter.StateIDs)
		argNum++
	}
	if len(filter.AssigneeIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("%s.assigned_to = ANY($%d)", alias, argNum))
		args = append(args, filter.AssigneeIDs)
		argNum++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("%s.state_date >= $%d", alias, argNum))
		args = append(args, *filter.From)
		argNum++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("%s.state_date < $%d", alias, argNum))
		args = append(args, *filter.To)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *translationJobRepo) ListActive(ctx context.Context, f translation.Family, filter model.JobFilter) ([]*model.TranslationJob, error) {
	columns, joins := jobColumns(f, "j")
	where, args := buildJobWhere(filter, "j")
	query := fmt.Sprintf(`
		SELECT %s FROM %s j %s
		%s
		ORDER BY j.state_date, s.value_pos, u.name, j.doc_id`, columns, f.JobTable(), joins, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заданий: %w", classify(err))
	}
	defer rows.Close()

	var result []*model.TranslationJob
	for rows.Next() {
		job := &model.TranslationJob{}
		if err := scanJob(rows, job); err != nil {
			return nil, fmt.Errorf("ошибка сканирования задания: %w", err)
		}
		result = append(result, job)
	}
	return result, classifyRows(rows.Err())
}

// historyOrder — ORDER BY истории; равные ключи — по doc_id и порядку вставки.
func historyOrder(sort translation.SortColumn) string {
	switch sort {
	case translation.SortByState:
		return "s.value_pos, h.doc_id, h.history_id"
	case translation.SortByAssignee:
		return "u.name, h.doc_id, h.history_id"
	case translation.SortByDocID:
		return "h.doc_id, h.history_id"
	default:
		return "h.state_date, h.doc_id, h.history_id"
	}
}

func (r *translationJobRepo) ListHistory(ctx context.Context, f translation.Family, filter model.JobFilter, sort translation.SortColumn) ([]*model.JobHistoryEntry, error) {
	columns, joins := jobColumns(f, "h")
	where, args := buildJobWhere(filter, "h")
	query := fmt.Sprintf(`
		SELECT h.history_id, %s FROM %s h %s
		%s
		ORDER BY %s`, columns, f.HistoryTable(), joins, where, historyOrder(sort))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории заданий: %w", classify(err))
	}
	defer rows.Close()

	var result []*model.JobHistoryEntry
	for rows.Next() {
		entry := &model.JobHistoryEntry{}
		if err := scanJob(rows, &entry.TranslationJob, &entry.HistoryID); err != nil {
			return nil, fmt.Errorf("ошибка сканирования истории: %w", err)
		}
		result = append(result, entry)
	}
	return result, classifyRows(rows.Err())
}

func classifyRows(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ошибка чтения строк: %w", classify(err))
}
