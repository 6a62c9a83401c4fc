// Пакет session — идентичность текущего пользователя в контексте операции.
// HTTP-запросы получают сессию из JWT middleware, пакетные задания —
// системную сессию пользователя CDR_BATCH_USER.
package session

import (
	"context"

	"github.com/bigkaa/cdrcore/internal/domain/rbac"
)

type contextKey struct{}

// Session — аутентифицированный пользователь.
type Session struct {
	// Subject — sub из JWT (или имя пользователя для системной сессии)
	Subject string
	// UserName — имя учётной записи CDR (usr.name)
	UserName string
	Groups   []string
	// Role — роль, вычисленная из групп
	Role string
}

// Can проверяет право на действие.
func (s *Session) Can(action rbac.Action) bool {
	if s == nil {
		return false
	}
	return rbac.Allowed(s.Role, action)
}

// System создаёт сессию пакетного задания с ролью admin.
func System(userName string) *Session {
	return &Session{
		Subject:  userName,
		UserName: userName,
		Role:     rbac.RoleAdmin,
	}
}

// WithSession кладёт сессию в контекст.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext извлекает сессию из контекста.
// Возвращает nil, если сессии нет.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}
