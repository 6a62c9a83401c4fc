package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/translation"
)

// TranslationStateRepository — справочники состояний очередей перевода.
type TranslationStateRepository interface {
	// List возвращает состояния семейства в порядке value_pos.
	List(ctx context.Context, f translation.Family) ([]*model.TranslationState, error)
	// GetByID возвращает состояние по value_id.
	GetByID(ctx context.Context, f translation.Family, id int) (*model.TranslationState, error)
	// GetByName возвращает состояние по имени.
	GetByName(ctx context.Context, f translation.Family, name string) (*model.TranslationState, error)
	// Create добавляет состояние; дубликат имени или позиции — ErrConflict.
	Create(ctx context.Context, f translation.Family, name string, position int) (*model.TranslationState, error)
}

type translationStateRepo struct {
	db DBTX
}

// NewTranslationStateRepository создаёт репозиторий справочников состояний.
func NewTranslationStateRepository(db DBTX) TranslationStateRepository {
	return &translationStateRepo{db: db}
}

func (r *translationStateRepo) List(ctx context.Context, f translation.Family) ([]*model.TranslationState, error) {
	query := fmt.Sprintf(`SELECT value_id, value_name, value_pos FROM %s ORDER BY value_pos`, f.StateTable())

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения состояний %s: %w", f, classify(err))
	}
	defer rows.Close()

	var result []*model.TranslationState
	for rows.Next() {
		st := &model.TranslationState{}
		if err := rows.Scan(&st.ID, &st.Name, &st.Position); err != nil {
			return nil, fmt.Errorf("ошибка сканирования состояния: %w", err)
		}
		result = append(result, st)
	}
	return result, classifyRows(rows.Err())
}

func (r *translationStateRepo) getOne(ctx context.Context, f translation.Family, column string, value any) (*model.TranslationState, error) {
	query := fmt.Sprintf(`SELECT value_id, value_name, value_pos FROM %s WHERE %s = $1`, f.StateTable(), column)

	st := &model.TranslationState{}
	err := r.db.QueryRow(ctx, query, value).Scan(&st.ID, &st.Name, &st.Position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения состояния: %w", classify(err))
	}
	return st, nil
}

func (r *translationStateRepo) GetByID(ctx context.Context, f translation.Family, id int) (*model.TranslationState, error) {
	return r.getOne(ctx, f, "value_id", id)
}

func (r *translationStateRepo) GetByName(ctx context.Context, f translation.Family, name string) (*model.TranslationState, error) {
	return r.getOne(ctx, f, "value_name", name)
}

func (r *translationStateRepo) Create(ctx context.Context, f translation.Family, name string, position int) (*model.TranslationState, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (value_name, value_pos) VALUES ($1, $2)
		RETURNING value_id`, f.StateTable())

	st := &model.TranslationState{Name: name, Position: position}
	if err := r.db.QueryRow(ctx, query, name, position).Scan(&st.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: имя или позиция состояния заняты", ErrConflict)
		}
		return nil, fmt.Errorf("ошибка создания состояния: %w", classify(err))
	}
	return st, nil
}
