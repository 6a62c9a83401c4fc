package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/queryterm"
)

// NewDocument — параметры создания документа.
type NewDocument struct {
	DocType     string
	Title       string
	XML         string
	UserID      int
	Comment     string
	Publishable bool
	At          time.Time
}

// DocumentRepository — хранилище версионируемых XML-документов CDR:
// получение по id, сохранение версий, блокировки и индекс query_term.
type DocumentRepository interface {
	// Get возвращает текущую версию документа.
	Get(ctx context.Context, id int) (*model.Document, error)
	// Create создаёт документ и его первую версию, возвращает id.
	Create(ctx context.Context, doc NewDocument) (int, error)
	// SaveVersion сохраняет новую версию документа и возвращает её номер.
	SaveVersion(ctx context.Context, id int, doc NewDocument) (int, error)
	// LastVersion возвращает последнюю сохранённую версию.
	LastVersion(ctx context.Context, id int) (*model.DocVersion, error)
	// Checkout блокирует документ для пользователя.
	// Если документ заблокирован другим пользователем — ErrLocked.
	// Повторная блокировка тем же пользователем — no-op.
	Checkout(ctx context.Context, id, userID int, at time.Time) error
	// Checkin снимает блокировку пользователя.
	Checkin(ctx context.Context, id, userID int, at time.Time) error
	// LockHolder возвращает открытую блокировку или ErrNotFound.
	LockHolder(ctx context.Context, id int) (*model.Checkout, error)
	// ReplaceTerms перестраивает строки query_term документа.
	ReplaceTerms(ctx context.Context, id int, terms []queryterm.Term) error
	// FindByTerm — точный поиск документов по значению пути индекса.
	FindByTerm(ctx context.Context, path queryterm.Path, value string) ([]int, error)
	// ListTermValues возвращает все значения пути в активных документах
	// в порядке (doc_id, node_loc).
	ListTermValues(ctx context.Context, path queryterm.Path) ([]TermValue, error)
}

// TermValue — значение пути индекса в документе.
type TermValue struct {
	DocID int
	Value string
}

type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) Get(ctx context.Context, id int) (*model.Document, error) {
	query := `
		SELECT d.id, t.name, d.title, d.xml, d.last_mod
		FROM document d
		JOIN doc_type t ON t.id = d.doc_type
		WHERE d.id = $1 AND d.active_status = 'A'`

	doc := &model.Document{}
	err := r.db.QueryRow(ctx, query, id).Scan(&doc.ID, &doc.DocType, &doc.Title, &doc.XML, &doc.LastMod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа %d: %w", id, classify(err))
	}
	return doc, nil
}

func (r *documentRepo) Create(ctx context.Context, doc NewDocument) (int, error) {
	query := `
		INSERT INTO document (doc_type, title, xml, last_mod)
		SELECT t.id, $2, $3, $4 FROM doc_type t WHERE t.name = $1
		RETURNING id`

	var id int
	err := r.db.QueryRow(ctx, query, doc.DocType, doc.Title, doc.XML, doc.At).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: тип документа %q", ErrNotFound, doc.DocType)
		}
		return 0, fmt.Errorf("ошибка создания документа: %w", classify(err))
	}

	if err := r.insertVersion(ctx, id, 1, doc); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *documentRepo) SaveVersion(ctx context.Context, id int, doc NewDocument) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE document SET title = $2, xml = $3, last_mod = $4 WHERE id = $1`,
		id, doc.Title, doc.XML, doc.At)
	if err != nil {
		return 0, fmt.Errorf("ошибка сохранения документа %d: %w", id, classify(err))
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}

	var num int
	err = r.db.QueryRow(ctx, `SELECT COALESCE(MAX(num), 0) + 1 FROM doc_version WHERE id = $1`, id).Scan(&num)
	if err != nil {
		return 0, fmt.Errorf("ошибка вычисления номера версии: %w", classify(err))
	}

	if err := r.insertVersion(ctx, id, num, doc); err != nil {
		return 0, err
	}
	return num, nil
}

func (r *documentRepo) insertVersion(ctx context.Context, id, num int, doc NewDocument) error {
	query := `
		INSERT INTO doc_version (id, num, title, xml, comment, publishable, usr, dt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query, id, num, doc.Title, doc.XML, doc.Comment, doc.Publishable, doc.UserID, doc.At)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: версия %d документа %d сохранена параллельно", ErrConflict, num, id)
		}
		return fmt.Errorf("ошибка записи версии документа: %w", classify(err))
	}
	return nil
}

func (r *documentRepo) LastVersion(ctx context.Context, id int) (*model.DocVersion, error) {
	query := `
		SELECT id, num, COALESCE(comment, ''), publishable, usr, dt
		FROM doc_version WHERE id = $1
		ORDER BY num DESC LIMIT 1`

	v := &model.DocVersion{}
	err := r.db.QueryRow(ctx, query, id).Scan(&v.DocID, &v.Num, &v.Comment, &v.Publishable, &v.UserID, &v.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения версии документа: %w", classify(err))
	}
	return v, nil
}

func (r *documentRepo) LockHolder(ctx context.Context, id int) (*model.Checkout, error) {
	query := `
		SELECT c.id, c.usr, u.name, c.dt_out
		FROM checkout c
		JOIN usr u ON u.id = c.usr
		WHERE c.id = $1 AND c.dt_in IS NULL`

	co := &model.Checkout{}
	err := r.db.QueryRow(ctx, query, id).Scan(&co.DocID, &co.UserID, &co.UserName, &co.DtOut)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения блокировки: %w", classify(err))
	}
	return co, nil
}

func (r *documentRepo) Checkout(ctx context.Context, id, userID int, at time.Time) error {
	holder, err := r.LockHolder(ctx, id)
	switch {
	case err == nil && holder.UserID == userID:
		return nil
	case err == nil:
		return fmt.Errorf("%w: документ %d заблокирован пользователем %s", ErrLocked, id, holder.UserName)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	// Параллельный checkout, успевший раньше, не прерывает транзакцию:
	// конфликт по частичному индексу открытых блокировок даёт 0 строк.
	tag, err := r.db.Exec(ctx, `
		INSERT INTO checkout (id, usr, dt_out) VALUES ($1, $2, $3)
		ON CONFLICT (id) WHERE dt_in IS NULL DO NOTHING`, id, userID, at)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: документ %d", ErrNotFound, id)
		}
		return fmt.Errorf("ошибка блокировки документа: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: документ %d", ErrLocked, id)
	}
	return nil
}

func (r *documentRepo) Checkin(ctx context.Context, id, userID int, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE checkout SET dt_in = $3 WHERE id = $1 AND usr = $2 AND dt_in IS NULL`,
		id, userID, at)
	if err != nil {
		return fmt.Errorf("ошибка снятия блокировки: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) ReplaceTerms(ctx context.Context, id int, terms []queryterm.Term) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM query_term WHERE doc_id = $1`, id); err != nil {
		return fmt.Errorf("ошибка очистки query_term: %w", classify(err))
	}
	if len(terms) == 0 {
		return nil
	}

	query := `INSERT INTO query_term (doc_id, path, node_loc, value, int_val) VALUES ($1, $2, $3, $4, $5)`
	for _, t := range terms {
		if !t.Path.Valid() {
			return fmt.Errorf("неизвестный путь query_term %q", t.Path)
		}
		if _, err := r.db.Exec(ctx, query, id, string(t.Path), t.NodeLoc, t.Value, t.IntVal); err != nil {
			return fmt.Errorf("ошибка записи query_term: %w", classify(err))
		}
	}
	return nil
}

func (r *documentRepo) FindByTerm(ctx context.Context, path queryterm.Path, value string) ([]int, error) {
	if !path.Valid() {
		return nil, fmt.Errorf("неизвестный путь query_term %q", path)
	}

	query := `
		SELECT DISTINCT q.doc_id
		FROM query_term q
		JOIN document d ON d.id = q.doc_id
		WHERE q.path = $1 AND q.value = $2 AND d.active_status = 'A'
		ORDER BY q.doc_id`

	rows, err := r.db.Query(ctx, query, string(path), value)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска по query_term: %w", classify(err))
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования doc_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, classifyRows(rows.Err())
}

func (r *documentRepo) ListTermValues(ctx context.Context, path queryterm.Path) ([]TermValue, error) {
	if !path.Valid() {
		return nil, fmt.Errorf("неизвестный путь query_term %q", path)
	}

	query := `
		SELECT q.doc_id, q.value
		FROM query_term q
		JOIN document d ON d.id = q.doc_id
		WHERE q.path = $1 AND d.active_status = 'A'
		ORDER BY q.doc_id, q.node_loc`

	rows, err := r.db.Query(ctx, query, string(path))
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки query_term: %w", classify(err))
	}
	defer rows.Close()

	var result []TermValue
	for rows.Next() {
		var tv TermValue
		if err := rows.Scan(&tv.DocID, &tv.Value); err != nil {
			return nil, fmt.Errorf("ошибка сканирования query_term: %w", err)
		}
		result = append(result, tv)
	}
	return result, classifyRows(rows.Err())
}
