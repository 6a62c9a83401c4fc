package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/rbac"
	"github.com/bigkaa/cdrcore/internal/domain/translation"
	"github.com/bigkaa/cdrcore/internal/repository"
)

var fixedNow = time.Date(2024, 5, 6, 10, 30, 0, 123456789, time.UTC)

func newQueueService(m mockRepos) *TranslationQueueService {
	return NewTranslationQueueService(nil, &mockTx{}, m.build(), func() time.Time { return fixedNow }, slog.Default())
}

func ptr[T any](v T) *T { return &v }

// TestCreateJob проверяет, что активная строка и строка истории совпадают.
func TestCreateJob(t *testing.T) {
	var inserted, history *model.TranslationJob
	jobs := &mockJobRepo{
		insertFn: func(_ context.Context, f translation.Family, job *model.TranslationJob) error {
			if f != translation.FamilySummary {
				t.Errorf("family = %q, ожидалось summary", f)
			}
			copied := *job
			inserted = &copied
			return nil
		},
		appendHistoryFn: func(_ context.Context, _ translation.Family, job *model.TranslationJob) (int64, error) {
			copied := *job
			history = &copied
			return 1, nil
		},
		getFn: func(_ context.Context, _ translation.Family, _ int) (*model.TranslationJob, error) {
			got := *inserted
			got.StateName = "Ready for Translation"
			return &got, nil
		},
	}
	docs := &mockDocRepo{
		getFn: func(_ context.Context, id int) (*model.Document, error) {
			return &model.Document{ID: id, DocType: "Summary"}, nil
		},
	}
	states := &mockStateRepo{
		getByIDFn: func(_ context.Context, _ translation.Family, id int) (*model.TranslationState, error) {
			return &model.TranslationState{ID: id, Name: "Ready for Translation", Position: 1}, nil
		},
	}
	svc := newQueueService(mockRepos{jobs: jobs, docs: docs, states: states})

	job, err := svc.CreateJob(ctxWithRole(rbac.RoleManager), translation.FamilySummary, CreateJobRequest{
		DocID: 42, StateID: 1, AssigneeID: 7, Comment: ptr("  first pass  "),
	})
	if err != nil {
		t.Fatalf("CreateJob ошибка: %v", err)
	}
	if job.StateName != "Ready for Translation" {
		t.Errorf("StateName = %q", job.StateName)
	}
	if history == nil || *history != *inserted {
		t.Fatalf("история %+v не совпадает с активной строкой %+v", history, inserted)
	}
	if !inserted.StateDate.Equal(fixedNow.Truncate(time.Microsecond)) {
		t.Errorf("StateDate = %v, ожидалось %v", inserted.StateDate, fixedNow.Truncate(time.Microsecond))
	}
	if inserted.Comments == nil || *inserted.Comments != "first pass" {
		t.Errorf("Comments = %v, ожидалось \"first pass\"", inserted.Comments)
	}
}

// TestCreateJob_Errors проверяет классификацию ошибок создания.
func TestCreateJob_Errors(t *testing.T) {
	okDoc := &mockDocRepo{getFn: func(_ context.Context, id int) (*model.Document, error) {
		return &model.Document{ID: id}, nil
	}}
	okState := &mockStateRepo{getByIDFn: func(_ context.Context, _ translation.Family, id int) (*model.TranslationState, error) {
		return &model.TranslationState{ID: id}, nil
	}}

	tests := []struct {
		name    string
		ctx     context.Context
		family  translation.Family
		repos   mockRepos
		wantErr error
	}{
		{
			name:    "нет сессии",
			ctx:     context.Background(),
			family:  translation.FamilySummary,
			wantErr: ErrUnauthorized,
		},
		{
			name:    "readonly не может создавать",
			ctx:     ctxWithRole(rbac.RoleReadonly),
			family:  translation.FamilySummary,
			wantErr: ErrUnauthorized,
		},
		{
			name:    "неизвестное семейство",
			ctx:     ctxWithRole(rbac.RoleManager),
			family:  translation.Family("audio"),
			wantErr: ErrValidation,
		},
		{
			name:    "документ не найден",
			ctx:     ctxWithRole(rbac.RoleManager),
			family:  translation.FamilyMedia,
			repos:   mockRepos{states: okState},
			wantErr: ErrNotFound,
		},
		{
			name:    "состояние не существует",
			ctx:     ctxWithRole(rbac.RoleManager),
			family:  translation.FamilyMedia,
			repos:   mockRepos{docs: okDoc},
			wantErr: ErrValidation,
		},
		{
			name:   "исполнитель не в группе переводчиков",
			ctx:    ctxWithRole(rbac.RoleManager),
			family: translation.FamilyGlossary,
			repos: mockRepos{docs: okDoc, states: okState, users: &mockUserRepo{
				isMemberFn: func(_ context.Context, _ int, group string) (bool, error) {
					if group != "Spanish Glossary Translators" {
						t.Errorf("group = %q", group)
					}
					return false, nil
				},
			}},
			wantErr: ErrValidation,
		},
		{
			name:   "активное задание уже есть",
			ctx:    ctxWithRole(rbac.RoleManager),
			family: translation.FamilySummary,
			repos: mockRepos{docs: okDoc, states: okState, jobs: &mockJobRepo{
				insertFn: func(_ context.Context, _ translation.Family, _ *model.TranslationJob) error {
					return repository.ErrConflict
				},
			}},
			wantErr: ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newQueueService(tt.repos)
			_, err := svc.CreateJob(tt.ctx, tt.family, CreateJobRequest{DocID: 1, StateID: 1, AssigneeID: 2})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ошибка = %v, ожидалась %v", err, tt.wantErr)
			}
		})
	}
}

func activeJob() *model.TranslationJob {
	return &model.TranslationJob{
		DocID:      42,
		StateID:    1,
		AssigneeID: 7,
		StateDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Comments:   ptr("draft"),
	}
}

// TestUpdateJob_NoChange проверяет, что неизменённое задание не пишется.
func TestUpdateJob_NoChange(t *testing.T) {
	writes := 0
	jobs := &mockJobRepo{
		getForUpdateFn: func(_ context.Context, _ translation.Family, _ int) (*model.TranslationJob, error) {
			return activeJob(), nil
		},
		updateFn: func(_ context.Context, _ translation.Family, _ *model.TranslationJob) error {
			writes++
			return nil
		},
		appendHistoryFn: func(_ context.Context, _ translation.Family, _ *model.TranslationJob) (int64, error) {
			writes++
			return 1, nil
		},
	}
	svc := newQueueService(mockRepos{jobs: jobs})

	job, err := svc.UpdateJob(ctxWithRole(rbac.RoleManager), translation.FamilySummary, 42, JobUpdate{
		StateID: ptr(1), AssigneeID: ptr(7), Comment: ptr(" draft "),
	})
	if err != nil {
		t.Fatalf("UpdateJob ошибка: %v", err)
	}
	if writes != 0 {
		t.Errorf("записей = %d, ожидалось 0", writes)
	}
	if !job.StateDate.Equal(activeJob().StateDate) {
		t.Errorf("StateDate изменился: %v", job.StateDate)
	}
}

// TestUpdateJob_ChangeState проверяет запись истории с новыми значениями.
func TestUpdateJob_ChangeState(t *testing.T) {
	var updated, history *model.TranslationJob
	jobs := &mockJobRepo{
		getForUpdateFn: func(_ context.Context, _ translation.Family, _ int) (*model.TranslationJob, error) {
			return activeJob(), nil
		},
		updateFn: func(_ context.Context, _ translation.Family, job *model.TranslationJob) error {
			copied := *job
			updated = &copied
			return nil
		},
		appendHistoryFn: func(_ context.Context, _ translation.Family, job *model.TranslationJob) (int64, error) {
			copied := *job
			history = &copied
			return 2, nil
		},
		getFn: func(_ context.Context, _ translation.Family, _ int) (*model.TranslationJob, error) {
			return updated, nil
		},
	}
	states := &mockStateRepo{getByIDFn: func(_ context.Context, _ translation.Family, id int) (*model.TranslationState, error) {
		return &model.TranslationState{ID: id}, nil
	}}
	svc := newQueueService(mockRepos{jobs: jobs, states: states})

	job, err := svc.UpdateJob(ctxWithRole(rbac.RoleManager), translation.FamilySummary, 42, JobUpdate{
		StateID: ptr(3), Comment: ptr(""),
	})
	if err != nil {
		t.Fatalf("UpdateJob ошибка: %v", err)
	}
	if job.StateID != 3 {
		t.Errorf("StateID = %d, ожидалось 3", job.StateID)
	}
	if job.Comments != nil {
		t.Errorf("Comments = %q, ожидался nil", *job.Comments)
	}
	if history == nil || history.StateID != 3 || !history.StateDate.Equal(updated.StateDate) {
		t.Errorf("история = %+v, ожидались значения после изменения %+v", history, updated)
	}
	if !updated.StateDate.Equal(fixedNow.Truncate(time.Microsecond)) {
		t.Errorf("StateDate = %v", updated.StateDate)
	}
}

// TestUpdateJob_Errors проверяет пустое изменение и отсутствующее задание.
func TestUpdateJob_Errors(t *testing.T) {
	svc := newQueueService(mockRepos{})
	ctx := ctxWithRole(rbac.RoleManager)

	if _, err := svc.UpdateJob(ctx, translation.FamilySummary, 42, JobUpdate{}); !errors.Is(err, ErrValidation) {
		t.Errorf("пустое изменение: ошибка = %v, ожидалась ErrValidation", err)
	}
	if _, err := svc.UpdateJob(ctx, translation.FamilySummary, 42, JobUpdate{StateID: ptr(2)}); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет задания: ошибка = %v, ожидалась ErrNotFound", err)
	}
}

// TestReassignBulk проверяет подсчёт изменений и объединение ошибок.
func TestReassignBulk(t *testing.T) {
	appended := 0
	jobs := &mockJobRepo{
		getForUpdateFn: func(_ context.Context, _ translation.Family, docID int) (*model.TranslationJob, error) {
			switch docID {
			case 1:
				return &model.TranslationJob{DocID: 1, StateID: 1, AssigneeID: 9}, nil
			case 2:
				return &model.TranslationJob{DocID: 2, StateID: 1, AssigneeID: 7}, nil
			default:
				return nil, repository.ErrNotFound
			}
		},
		appendHistoryFn: func(_ context.Context, _ translation.Family, job *model.TranslationJob) (int64, error) {
			if job.AssigneeID != 9 {
				t.Errorf("AssigneeID в истории = %d, ожидалось 9", job.AssigneeID)
			}
			appended++
			return int64(appended), nil
		},
		getFn: func(_ context.Context, _ translation.Family, docID int) (*model.TranslationJob, error) {
			return &model.TranslationJob{DocID: docID, AssigneeID: 9}, nil
		},
	}
	tx := &mockTx{}
	svc := NewTranslationQueueService(nil, tx, mockRepos{jobs: jobs}.build(), nil, slog.Default())

	count, err := svc.ReassignBulk(ctxWithRole(rbac.RoleManager), translation.FamilyMedia, []int{1, 2, 2, 3}, 9)
	if count != 1 {
		t.Errorf("count = %d, ожидалось 1", count)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound для документа 3", err)
	}
	if appended != 1 {
		t.Errorf("строк истории = %d, ожидалось 1", appended)
	}
	if tx.calls != 3 {
		t.Errorf("транзакций = %d, ожидалось 3 (по одной на документ)", tx.calls)
	}
}

// TestReassignBulk_Empty проверяет, что пустой список не открывает транзакций.
func TestReassignBulk_Empty(t *testing.T) {
	tx := &mockTx{}
	svc := NewTranslationQueueService(nil, tx, mockRepos{}.build(), nil, slog.Default())

	count, err := svc.ReassignBulk(ctxWithRole(rbac.RoleManager), translation.FamilySummary, nil, 9)
	if err != nil || count != 0 {
		t.Errorf("ReassignBulk(пусто) = %d, %v; ожидалось 0, nil", count, err)
	}
	if tx.calls != 0 {
		t.Errorf("транзакций = %d, ожидалось 0", tx.calls)
	}
}

// TestPurgeTerminal проверяет удаление заданий терминального состояния.
func TestPurgeTerminal(t *testing.T) {
	states := &mockStateRepo{getByNameFn: func(_ context.Context, _ translation.Family, name string) (*model.TranslationState, error) {
		if name != translation.TerminalState {
			t.Errorf("name = %q", name)
		}
		return &model.TranslationState{ID: 9, Name: name}, nil
	}}
	jobs := &mockJobRepo{deleteInStateFn: func(_ context.Context, _ translation.Family, stateID int) (int, error) {
		if stateID != 9 {
			t.Errorf("stateID = %d, ожидалось 9", stateID)
		}
		return 3, nil
	}}
	svc := newQueueService(mockRepos{states: states, jobs: jobs})

	n, err := svc.PurgeTerminal(ctxWithRole(rbac.RoleManager), translation.FamilyGlossary)
	if err != nil {
		t.Fatalf("PurgeTerminal ошибка: %v", err)
	}
	if n != 3 {
		t.Errorf("удалено = %d, ожидалось 3", n)
	}

	svc = newQueueService(mockRepos{})
	if _, err := svc.PurgeTerminal(ctxWithRole(rbac.RoleManager), translation.FamilyGlossary); !errors.Is(err, ErrInternal) {
		t.Errorf("нет терминального состояния: ошибка = %v, ожидалась ErrInternal", err)
	}
}

// TestListHistory_BadInterval проверяет валидацию интервала дат.
func TestListHistory_BadInterval(t *testing.T) {
	svc := newQueueService(mockRepos{})
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	_, err := svc.ListHistory(ctxWithRole(rbac.RoleReadonly), translation.FamilySummary,
		model.JobFilter{From: &from, To: &to}, translation.SortColumn("state_date"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка = %v, ожидалась ErrValidation", err)
	}
}

// TestAddState проверяет права и валидацию нового состояния.
func TestAddState(t *testing.T) {
	svc := newQueueService(mockRepos{})

	if _, err := svc.AddState(ctxWithRole(rbac.RoleManager), translation.FamilySummary, "Review", 5); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("manager: ошибка = %v, ожидалась ErrUnauthorized", err)
	}
	if _, err := svc.AddState(ctxWithRole(rbac.RoleAdmin), translation.FamilySummary, "  ", 5); !errors.Is(err, ErrValidation) {
		t.Errorf("пустое имя: ошибка = %v, ожидалась ErrValidation", err)
	}
	if _, err := svc.AddState(ctxWithRole(rbac.RoleAdmin), translation.FamilySummary, "Review", 0); !errors.Is(err, ErrValidation) {
		t.Errorf("позиция 0: ошибка = %v, ожидалась ErrValidation", err)
	}
	st, err := svc.AddState(ctxWithRole(rbac.RoleAdmin), translation.FamilySummary, " Review ", 5)
	if err != nil {
		t.Fatalf("AddState ошибка: %v", err)
	}
	if st.Name != "Review" || st.Position != 5 {
		t.Errorf("состояние = %+v", st)
	}
}
