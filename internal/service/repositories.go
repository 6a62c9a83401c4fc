package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/rbac"
	"github.com/bigkaa/cdrcore/internal/repository"
	"github.com/bigkaa/cdrcore/internal/session"
)

// Repositories — конструкторы репозиториев поверх пула или транзакции.
// В unit-тестах подменяются функциями, возвращающими моки.
type Repositories struct {
	Jobs      func(repository.DBTX) repository.TranslationJobRepository
	States    func(repository.DBTX) repository.TranslationStateRepository
	Users     func(repository.DBTX) repository.UserRepository
	Documents func(repository.DBTX) repository.DocumentRepository
	Imports   func(repository.DBTX) repository.ImportRepository
	Partners  func(repository.DBTX) repository.PartnerRepository
}

// NewRepositories возвращает конструкторы PostgreSQL-репозиториев.
func NewRepositories() Repositories {
	return Repositories{
		Jobs:      repository.NewTranslationJobRepository,
		States:    repository.NewTranslationStateRepository,
		Users:     repository.NewUserRepository,
		Documents: repository.NewDocumentRepository,
		Imports:   repository.NewImportRepository,
		Partners:  repository.NewPartnerRepository,
	}
}

// authorize проверяет право сессии из контекста на действие.
func authorize(ctx context.Context, action rbac.Action) (*session.Session, error) {
	s := session.FromContext(ctx)
	if s == nil {
		return nil, fmt.Errorf("%w: нет сессии", ErrUnauthorized)
	}
	if !s.Can(action) {
		return nil, fmt.Errorf("%w: у пользователя %s нет права %s", ErrUnauthorized, s.UserName, action)
	}
	return s, nil
}

// currentUser возвращает учётную запись CDR пользователя сессии.
func currentUser(ctx context.Context, users repository.UserRepository, s *session.Session) (*model.User, error) {
	u, err := users.GetByName(ctx, s.UserName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь %q не зарегистрирован в CDR", ErrUnauthorized, s.UserName)
		}
		return nil, classify(err)
	}
	return u, nil
}
