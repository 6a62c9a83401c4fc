package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/queryterm"
	"github.com/bigkaa/cdrcore/internal/domain/rbac"
	"github.com/bigkaa/cdrcore/internal/repository"
	"github.com/bigkaa/cdrcore/internal/thesaurus"
)

const termDoc = `<Term xmlns:cdr="cips.nci.nih.gov/cdr">
  <PreferredName>Aspirin</PreferredName>
  <TermType><TermTypeName>Index term</TermTypeName></TermType>
  <NCIThesaurusConcept Public="Yes">C287</NCIThesaurusConcept>
</Term>`

// fakeEVS возвращает концепты по коду.
type fakeEVS struct {
	concepts map[string]*thesaurus.Concept
	err      error
	calls    []string
}

func (f *fakeEVS) FetchConcept(_ context.Context, code string) (*thesaurus.Concept, error) {
	f.calls = append(f.calls, code)
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.concepts[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", thesaurus.ErrNotFound, code)
	}
	return c, nil
}

// staticTypes — семантические типы по имени.
type staticTypes map[string]int

func (s staticTypes) ResolveSemanticType(_ context.Context, name string) (int, bool, error) {
	id, ok := s[name]
	return id, ok, nil
}

func plainAspirin() *thesaurus.Concept {
	return &thesaurus.Concept{Code: "C287", PreferredName: "Aspirin"}
}

func richAspirin() *thesaurus.Concept {
	return &thesaurus.Concept{
		Code:          "C287",
		PreferredName: "Aspirin",
		Synonyms:      []thesaurus.Synonym{{Name: "ASA", TermType: "SY", Source: "NCI"}},
		Definitions:   []thesaurus.ConceptDefinition{{Text: "An orally administered salicylate.", Source: "NCI"}},
		SemanticTypes: []string{"Pharmacologic Substance"},
	}
}

func termRepo(xml string) *mockDocRepo {
	return &mockDocRepo{
		getFn: func(_ context.Context, id int) (*model.Document, error) {
			return &model.Document{ID: id, DocType: model.DocTypeTerm, XML: xml}, nil
		},
	}
}

func newReconcileService(m mockRepos, evs ConceptFetcher) *ConceptReconcileService {
	svc := NewConceptReconcileService(nil, &mockTx{}, m.build(), evs,
		staticTypes{"Pharmacologic Substance": 600}, "ImportUser", 0, slog.Default())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

// TestReconcileConcept_Update проверяет сохранение версии с изменениями.
func TestReconcileConcept_Update(t *testing.T) {
	docs := termRepo(termDoc)
	var saved repository.NewDocument
	var indexed []queryterm.Term
	checkins := 0
	docs.saveVersionFn = func(_ context.Context, id int, doc repository.NewDocument) (int, error) {
		if id != 500 {
			t.Errorf("id = %d, ожидалось 500", id)
		}
		saved = doc
		return 4, nil
	}
	docs.replaceTermsFn = func(_ context.Context, _ int, terms []queryterm.Term) error {
		indexed = terms
		return nil
	}
	docs.checkinFn = func(_ context.Context, _, _ int, _ time.Time) error {
		checkins++
		return nil
	}
	var rec *model.ImportRecord
	imports := &mockImportRepo{upsertRecordFn: func(_ context.Context, r *model.ImportRecord) error {
		rec = r
		return nil
	}}
	evs := &fakeEVS{concepts: map[string]*thesaurus.Concept{"C287": richAspirin()}}
	svc := newReconcileService(mockRepos{docs: docs, imports: imports}, evs)

	res, err := svc.ReconcileConcept(ctxWithRole(rbac.RoleAdmin), " c287 ", ptr(500))
	if err != nil {
		t.Fatalf("ReconcileConcept ошибка: %v", err)
	}
	if len(evs.calls) != 1 || evs.calls[0] != "C287" {
		t.Errorf("запросы к EVS = %v", evs.calls)
	}
	if res.Version != 4 || res.Created {
		t.Errorf("результат = %+v", res)
	}
	if len(res.Changes) != 3 {
		t.Fatalf("изменений = %d (%v), ожидалось 3", len(res.Changes), res.Changes)
	}
	for i, prefix := range []string{thesaurus.FieldOtherName, thesaurus.FieldDefinition, thesaurus.FieldSemanticType} {
		if !strings.HasPrefix(res.Changes[i], prefix) {
			t.Errorf("Changes[%d] = %q, ожидался префикс %s", i, res.Changes[i], prefix)
		}
	}
	if saved.Comment != "Updated from NCI Thesaurus concept C287" {
		t.Errorf("комментарий версии = %q", saved.Comment)
	}
	if !saved.Publishable {
		t.Error("версия должна быть публикуемой")
	}
	if !strings.Contains(saved.XML, `cdr:ref="CDR0000000600"`) {
		t.Errorf("в XML нет ссылки на семантический тип:\n%s", saved.XML)
	}
	if len(indexed) == 0 {
		t.Error("query_term не перестроен")
	}
	if checkins != 1 {
		t.Errorf("checkin вызван %d раз, ожидался 1", checkins)
	}
	if rec == nil || rec.Source != model.SourceThesaurus || rec.ExternalID != "C287" || rec.CDRDocID == nil || *rec.CDRDocID != 500 {
		t.Errorf("запись импорта = %+v", rec)
	}
}

// TestReconcileConcept_NoChange проверяет, что без изменений версия не пишется.
func TestReconcileConcept_NoChange(t *testing.T) {
	docs := termRepo(termDoc)
	docs.saveVersionFn = func(_ context.Context, _ int, _ repository.NewDocument) (int, error) {
		t.Error("SaveVersion не должен вызываться")
		return 0, nil
	}
	checkins := 0
	docs.checkinFn = func(_ context.Context, _, _ int, _ time.Time) error {
		checkins++
		return nil
	}
	evs := &fakeEVS{concepts: map[string]*thesaurus.Concept{"C287": plainAspirin()}}
	svc := newReconcileService(mockRepos{docs: docs}, evs)

	res, err := svc.ReconcileConcept(ctxWithRole(rbac.RoleAdmin), "C287", ptr(500))
	if err != nil {
		t.Fatalf("ReconcileConcept ошибка: %v", err)
	}
	if res.Changes == nil || len(res.Changes) != 0 {
		t.Errorf("Changes = %#v, ожидался пустой список", res.Changes)
	}
	if res.Version != 0 {
		t.Errorf("Version = %d, ожидался 0", res.Version)
	}
	if checkins != 1 {
		t.Errorf("checkin вызван %d раз, ожидался 1", checkins)
	}
}

// TestReconcileConcept_LinksCode проверяет, что привязка кода концепта
// к Term без кода сохраняется новой версией.
func TestReconcileConcept_LinksCode(t *testing.T) {
	unlinked := strings.Replace(termDoc, `<NCIThesaurusConcept Public="Yes">C287</NCIThesaurusConcept>`, "", 1)
	docs := termRepo(unlinked)
	var saved *repository.NewDocument
	docs.saveVersionFn = func(_ context.Context, _ int, doc repository.NewDocument) (int, error) {
		saved = &doc
		return 3, nil
	}
	evs := &fakeEVS{concepts: map[string]*thesaurus.Concept{"C287": plainAspirin()}}
	svc := newReconcileService(mockRepos{docs: docs}, evs)

	res, err := svc.ReconcileConcept(ctxWithRole(rbac.RoleAdmin), "C287", ptr(500))
	if err != nil {
		t.Fatalf("ReconcileConcept ошибка: %v", err)
	}
	if len(res.Changes) != 1 || !strings.HasPrefix(res.Changes[0], thesaurus.FieldConceptCode) {
		t.Errorf("Changes = %v, ожидалась запись ConceptCode", res.Changes)
	}
	if saved == nil || !strings.Contains(saved.XML, ">C287</NCIThesaurusConcept>") {
		t.Errorf("сохранённая версия = %+v, ожидался код концепта", saved)
	}
}

// TestReconcileConcept_KeepsOwnLock проверяет, что блокировка,
// взятая пользователем до сверки, не снимается.
func TestReconcileConcept_KeepsOwnLock(t *testing.T) {
	docs := termRepo(termDoc)
	docs.lockHolderFn = func(_ context.Context, id int) (*model.Checkout, error) {
		return &model.Checkout{DocID: id, UserID: 1}, nil
	}
	docs.checkinFn = func(_ context.Context, _, _ int, _ time.Time) error {
		t.Error("Checkin не должен вызываться")
		return nil
	}
	evs := &fakeEVS{concepts: map[string]*thesaurus.Concept{"C287": richAspirin()}}
	svc := newReconcileService(mockRepos{docs: docs}, evs)

	if _, err := svc.ReconcileConcept(ctxWithRole(rbac.RoleAdmin), "C287", ptr(500)); err != nil {
		t.Fatalf("ReconcileConcept ошибка: %v", err)
	}
}

// TestReconcileConcept_Create проверяет импорт нового термина.
func TestReconcileConcept_Create(t *testing.T) {
	var created repository.NewDocument
	docs := &mockDocRepo{
		findByTermFn: func(_ context.Context, path queryterm.Path, value string) ([]int, error) {
			if path != queryterm.TermConceptCode || value != "C287" {
				t.Errorf("FindByTerm(%s, %q)", path, value)
			}
			return nil, nil
		},
		createFn: func(_ context.Context, doc repository.NewDocument) (int, error) {
			created = doc
			return 777, nil
		},
	}
	evs := &fakeEVS{concepts: map[string]*thesaurus.Concept{"C287": richAspirin()}}
	svc := newReconcileService(mockRepos{docs: docs}, evs)

	res, err := svc.ReconcileConcept(ctxWithRole(rbac.RoleAdmin), "C287", nil)
	if err != nil {
		t.Fatalf("ReconcileConcept ошибка: %v", err)
	}
	if !res.Created || res.DocID != 777 || res.Version != 1 {
		t.Errorf("результат = %+v", res)
	}
	if created.Comment != "Imported from NCI Thesaurus concept C287" {
		t.Errorf("комментарий = %q", created.Comment)
	}
	if created.DocType != model.DocTypeTerm || created.Title != "Aspirin" || !created.Publishable {
		t.Errorf("документ = %+v", created)
	}
	if !strings.Contains(created.XML, "<NCIThesaurusConcept") {
		t.Errorf("в XML нет кода концепта:\n%s", created.XML)
	}
}

// TestReconcileConcept_Errors проверяет классификацию ошибок.
func TestReconcileConcept_Errors(t *testing.T) {
	known := map[string]*thesaurus.Concept{"C287": richAspirin()}

	tests := []struct {
		name    string
		ctx     context.Context
		code    string
		docID   *int
		repos   mockRepos
		evs     *fakeEVS
		wantErr error
	}{
		{
			name:    "manager не может сверять",
			ctx:     ctxWithRole(rbac.RoleManager),
			code:    "C287",
			evs:     &fakeEVS{concepts: known},
			wantErr: ErrUnauthorized,
		},
		{
			name:    "пустой код",
			ctx:     ctxWithRole(rbac.RoleAdmin),
			code:    "  ",
			evs:     &fakeEVS{concepts: known},
			wantErr: ErrValidation,
		},
		{
			name:    "EVS недоступен",
			ctx:     ctxWithRole(rbac.RoleAdmin),
			code:    "C287",
			evs:     &fakeEVS{err: fmt.Errorf("%w: HTTP 503", thesaurus.ErrUnavailable)},
			wantErr: ErrExternal,
		},
		{
			name:    "концепт не найден",
			ctx:     ctxWithRole(rbac.RoleAdmin),
			code:    "C1",
			evs:     &fakeEVS{concepts: known},
			wantErr: ErrNotFound,
		},
		{
			name:  "документ заблокирован",
			ctx:   ctxWithRole(rbac.RoleAdmin),
			code:  "C287",
			docID: ptr(500),
			repos: mockRepos{docs: func() *mockDocRepo {
				d := termRepo(termDoc)
				d.checkoutFn = func(_ context.Context, _, _ int, _ time.Time) error {
					return repository.ErrLocked
				}
				return d
			}()},
			evs:     &fakeEVS{concepts: known},
			wantErr: ErrLocked,
		},
		{
			name:    "документ связан с другим концептом",
			ctx:     ctxWithRole(rbac.RoleAdmin),
			code:    "C287",
			docID:   ptr(500),
			repos:   mockRepos{docs: termRepo(strings.Replace(termDoc, "C287", "C999", 1))},
			evs:     &fakeEVS{concepts: known},
			wantErr: ErrConflict,
		},
		{
			name:  "документ не Term",
			ctx:   ctxWithRole(rbac.RoleAdmin),
			code:  "C287",
			docID: ptr(500),
			repos: mockRepos{docs: &mockDocRepo{getFn: func(_ context.Context, id int) (*model.Document, error) {
				return &model.Document{ID: id, DocType: "Summary"}, nil
			}}},
			evs:     &fakeEVS{concepts: known},
			wantErr: ErrValidation,
		},
		{
			name:    "документ не найден",
			ctx:     ctxWithRole(rbac.RoleAdmin),
			code:    "C287",
			docID:   ptr(404),
			evs:     &fakeEVS{concepts: known},
			wantErr: ErrNotFound,
		},
		{
			name: "концепт уже импортирован",
			ctx:  ctxWithRole(rbac.RoleAdmin),
			code: "C287",
			repos: mockRepos{docs: &mockDocRepo{findByTermFn: func(_ context.Context, _ queryterm.Path, _ string) ([]int, error) {
				return []int{77}, nil
			}}},
			evs:     &fakeEVS{concepts: known},
			wantErr: ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newReconcileService(tt.repos, tt.evs)
			_, err := svc.ReconcileConcept(tt.ctx, tt.code, tt.docID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ошибка = %v, ожидалась %v", err, tt.wantErr)
			}
		})
	}
}

// TestRefreshAll проверяет обход документов и прерывание при недоступности EVS.
func TestRefreshAll(t *testing.T) {
	docs := termRepo(termDoc)
	docs.listTermValuesFn = func(_ context.Context, path queryterm.Path) ([]repository.TermValue, error) {
		if path != queryterm.TermConceptCode {
			t.Errorf("path = %s", path)
		}
		return []repository.TermValue{{DocID: 500, Value: "C287"}, {DocID: 501, Value: "C287"}}, nil
	}
	docs.checkoutFn = func(_ context.Context, id, _ int, _ time.Time) error {
		if id == 501 {
			return repository.ErrLocked
		}
		return nil
	}
	evs := &fakeEVS{concepts: map[string]*thesaurus.Concept{"C287": richAspirin()}}
	svc := newReconcileService(mockRepos{docs: docs}, evs)

	outcomes, err := svc.RefreshAll(ctxWithRole(rbac.RoleAdmin))
	if err != nil {
		t.Fatalf("RefreshAll ошибка: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("итогов = %d, ожидалось 2", len(outcomes))
	}
	if outcomes[0].Outcome != model.OutcomeUpdated || outcomes[1].Outcome != model.OutcomeLocked {
		t.Errorf("итоги = %+v", outcomes)
	}

	evs.err = thesaurus.ErrUnavailable
	outcomes, err = svc.RefreshAll(ctxWithRole(rbac.RoleAdmin))
	if !errors.Is(err, ErrExternal) {
		t.Errorf("ошибка = %v, ожидалась ErrExternal", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("итогов = %d, ожидалось 0", len(outcomes))
	}
}

// TestConceptReconcile_StartStop проверяет запуск и остановку периодического обхода.
func TestConceptReconcile_StartStop(t *testing.T) {
	calls := make(chan struct{}, 10)
	docs := &mockDocRepo{listTermValuesFn: func(_ context.Context, _ queryterm.Path) ([]repository.TermValue, error) {
		calls <- struct{}{}
		return nil, nil
	}}
	svc := NewConceptReconcileService(nil, &mockTx{}, mockRepos{docs: docs}.build(), &fakeEVS{},
		staticTypes{}, "ImportUser", 10*time.Millisecond, slog.Default())

	svc.Start(context.Background())
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("периодический обход не запустился")
	}
	svc.Stop()

	// Без интервала обход не запускается, Stop — no-op
	idle := NewConceptReconcileService(nil, &mockTx{}, mockRepos{}.build(), &fakeEVS{},
		staticTypes{}, "ImportUser", 0, slog.Default())
	idle.Start(context.Background())
	idle.Stop()
}
