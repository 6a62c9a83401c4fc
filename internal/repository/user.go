package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cdrcore/internal/domain/model"
)

// UserRepository — учётные записи и группы CDR.
type UserRepository interface {
	// GetByID возвращает пользователя по usr.id.
	GetByID(ctx context.Context, id int) (*model.User, error)
	// GetByName возвращает пользователя по usr.name (регистр не важен).
	GetByName(ctx context.Context, name string) (*model.User, error)
	// IsMember проверяет членство пользователя в группе.
	IsMember(ctx context.Context, userID int, group string) (bool, error)
	// ListGroupMembers возвращает действующих членов группы по имени.
	ListGroupMembers(ctx context.Context, group string) ([]*model.Translator, error)
}

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) getOne(ctx context.Context, where string, arg any) (*model.User, error) {
	query := `SELECT id, name, COALESCE(fullname, '') FROM usr WHERE ` + where

	u := &model.User{}
	if err := r.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Name, &u.FullName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", classify(err))
	}
	return u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int) (*model.User, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *userRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	return r.getOne(ctx, "LOWER(name) = LOWER($1)", name)
}

func (r *userRepo) IsMember(ctx context.Context, userID int, group string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM grp_usr gu
			JOIN grp g ON g.id = gu.grp
			JOIN usr u ON u.id = gu.usr
			WHERE gu.usr = $1 AND g.name = $2 AND u.expired IS NULL
		)`

	var ok bool
	if err := r.db.QueryRow(ctx, query, userID, group).Scan(&ok); err != nil {
		return false, fmt.Errorf("ошибка проверки членства в группе: %w", classify(err))
	}
	return ok, nil
}

func (r *userRepo) ListGroupMembers(ctx context.Context, group string) ([]*model.Translator, error) {
	query := `
		SELECT u.id, u.name, COALESCE(u.fullname, '')
		FROM usr u
		JOIN grp_usr gu ON gu.usr = u.id
		JOIN grp g ON g.id = gu.grp
		WHERE g.name = $1 AND u.expired IS NULL
		ORDER BY u.fullname, u.name`

	rows, err := r.db.Query(ctx, query, group)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения членов группы: %w", classify(err))
	}
	defer rows.Close()

	var result []*model.Translator
	for rows.Next() {
		tr := &model.Translator{}
		if err := rows.Scan(&tr.ID, &tr.Name, &tr.FullName); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, tr)
	}
	return result, classifyRows(rows.Err())
}
