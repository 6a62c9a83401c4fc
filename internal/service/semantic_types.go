package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigkaa/cdrcore/internal/cdrdoc"
	"github.com/bigkaa/cdrcore/internal/domain/queryterm"
	"github.com/bigkaa/cdrcore/internal/repository"
)

// notFoundID — отметка в кэше: термина семантического типа нет.
const notFoundID = 0

// SemanticTypeLookup находит документ Term семантического типа по имени
// через индекс query_term. Результаты (включая отсутствие) кэшируются.
type SemanticTypeLookup struct {
	docs  repository.DocumentRepository
	cache *Cache[int]
}

// NewSemanticTypeLookup создаёт поиск семантических типов.
func NewSemanticTypeLookup(docs repository.DocumentRepository, cache *Cache[int]) *SemanticTypeLookup {
	return &SemanticTypeLookup{docs: docs, cache: cache}
}

// ResolveSemanticType реализует thesaurus.SemanticTypeResolver.
// При нескольких совпадениях берётся документ с меньшим id.
func (l *SemanticTypeLookup) ResolveSemanticType(ctx context.Context, name string) (int, bool, error) {
	name = strings.TrimSpace(name)
	if id, ok := l.cache.Get(name); ok {
		return id, id != notFoundID, nil
	}

	byName, err := l.docs.FindByTerm(ctx, queryterm.TermPreferredName, name)
	if err != nil {
		return 0, false, fmt.Errorf("поиск термина %q: %w", name, err)
	}
	id := notFoundID
	if len(byName) > 0 {
		semantic, err := l.docs.FindByTerm(ctx, queryterm.TermTypeName, cdrdoc.TermTypeSemantic)
		if err != nil {
			return 0, false, fmt.Errorf("поиск терминов семантических типов: %w", err)
		}
		id = firstCommon(byName, semantic)
	}

	l.cache.Set(name, id)
	return id, id != notFoundID, nil
}

// firstCommon возвращает наименьший общий элемент двух отсортированных списков.
func firstCommon(a, b []int) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return a[i]
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return notFoundID
}
