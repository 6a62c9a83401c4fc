// translation_queue.go — очереди заданий перевода (summary, media, glossary).
//
// Каждое изменение задания выполняется в своей транзакции: активная строка
// блокируется FOR UPDATE от чтения до записи, в историю добавляется строка
// с новыми значениями. Поэтому для каждой активной строки в истории есть
// строка с теми же state_date и state_id.
//
// Prometheus-метрики:
//   - cdr_translation_transitions_total — изменения заданий по операциям
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/rbac"
	"github.com/bigkaa/cdrcore/internal/domain/translation"
	"github.com/bigkaa/cdrcore/internal/repository"
)

var translationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cdr_translation_transitions_total",
	Help: "Количество изменений заданий перевода",
}, []string{"family", "operation"}) // operation: create, update, reassign, purge

// CreateJobRequest — параметры нового задания.
type CreateJobRequest struct {
	DocID      int
	StateID    int
	AssigneeID int
	Comment    *string
}

// JobUpdate — изменения задания; nil — поле не меняется.
// Пустой комментарий очищает комментарий задания.
type JobUpdate struct {
	StateID    *int
	AssigneeID *int
	Comment    *string
}

// TranslationQueueService — операции над очередями перевода.
type TranslationQueueService struct {
	db     repository.DBTX
	tx     repository.Transactor
	repos  Repositories
	now    func() time.Time
	logger *slog.Logger
}

// NewTranslationQueueService создаёт сервис очередей перевода.
// now — источник времени для state_date (nil — time.Now в UTC).
func NewTranslationQueueService(
	db repository.DBTX,
	tx repository.Transactor,
	repos Repositories,
	now func() time.Time,
	logger *slog.Logger,
) *TranslationQueueService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TranslationQueueService{
		db:     db,
		tx:     tx,
		repos:  repos,
		now:    now,
		logger: logger.With(slog.String("component", "translation_queue")),
	}
}

func checkFamily(f translation.Family) error {
	if !f.Valid() {
		return fmt.Errorf("%w: неизвестное семейство %q", ErrValidation, f)
	}
	return nil
}

// clock возвращает время с точностью до микросекунд (точность timestamptz).
func (s *TranslationQueueService) clock() time.Time {
	return s.now().Truncate(time.Microsecond)
}

// checkAssignee проверяет, что пользователь входит в группу переводчиков семейства.
func checkAssignee(ctx context.Context, users repository.UserRepository, f translation.Family, userID int) error {
	ok, err := users.IsMember(ctx, userID, f.TranslatorGroup())
	if err != nil {
		return classify(err)
	}
	if !ok {
		return fmt.Errorf("%w: пользователь %d не входит в группу %q", ErrValidation, userID, f.TranslatorGroup())
	}
	return nil
}

func checkState(ctx context.Context, states repository.TranslationStateRepository, f translation.Family, stateID int) error {
	if _, err := states.GetByID(ctx, f, stateID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: состояние %d не существует в семействе %s", ErrValidation, stateID, f)
		}
		return classify(err)
	}
	return nil
}

// CreateJob создаёт задание и первую строку истории с тем же содержимым.
func (s *TranslationQueueService) CreateJob(ctx context.Context, f translation.Family, req CreateJobRequest) (*model.TranslationJob, error) {
	if _, err := authorize(ctx, rbac.ActionManageQueue); err != nil {
		return nil, err
	}
	if err := checkFamily(f); err != nil {
		return nil, err
	}

	var created *model.TranslationJob
	err := s.tx.RunInTx(ctx, func(tx repository.DBTX) error {
		if _, err := s.repos.Documents(tx).Get(ctx, req.DocID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: документ %d", ErrNotFound, req.DocID)
			}
			return classify(err)
		}
		if err := checkState(ctx, s.repos.States(tx), f, req.StateID); err != nil {
			return err
		}
		if err := checkAssignee(ctx, s.repos.Users(tx), f, req.AssigneeID); err != nil {
			return err
		}

		jobs := s.repos.Jobs(tx)
		job := &model.TranslationJob{
			DocID:      req.DocID,
			StateID:    req.StateID,
			AssigneeID: req.AssigneeID,
			StateDate:  s.clock(),
			Comments:   normalizeComment(req.Comment),
		}
		if err := jobs.Insert(ctx, f, job); err != nil {
			return classify(err)
		}
		if _, err := jobs.AppendHistory(ctx, f, job); err != nil {
			return classify(err)
		}
		got, err := jobs.Get(ctx, f, job.DocID)
		if err != nil {
			return classify(err)
		}
		created = got
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	translationTransitionsTotal.WithLabelValues(string(f), "create").Inc()
	s.logger.Info("Задание перевода создано",
		slog.String("family", string(f)),
		slog.Int("doc_id", created.DocID),
		slog.String("state", created.StateName),
		slog.String("assignee", created.AssigneeName),
	)
	return created, nil
}

// UpdateJob меняет состояние, исполнителя или комментарий задания.
// Если ни одно значение не изменилось, задание возвращается без записи.
func (s *TranslationQueueService) UpdateJob(ctx context.Context, f translation.Family, docID int, upd JobUpdate) (*model.TranslationJob, error) {
	if _, err := authorize(ctx, rbac.ActionManageQueue); err != nil {
		return nil, err
	}
	if err := checkFamily(f); err != nil {
		return nil, err
	}
	if upd.StateID == nil && upd.AssigneeID == nil && upd.Comment == nil {
		return nil, fmt.Errorf("%w: не задано ни одного изменения", ErrValidation)
	}

	var (
		result  *model.TranslationJob
		changed bool
	)
	err := s.tx.RunInTx(ctx, func(tx repository.DBTX) error {
		job, ok, err := s.applyUpdate(ctx, tx, f, docID, upd)
		if err != nil {
			return err
		}
		result, changed = job, ok
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if changed {
		translationTransitionsTotal.WithLabelValues(string(f), "update").Inc()
		s.logger.Info("Задание перевода изменено",
			slog.String("family", string(f)),
			slog.Int("doc_id", docID),
			slog.String("state", result.StateName),
			slog.String("assignee", result.AssigneeName),
		)
	}
	return result, nil
}

// applyUpdate выполняет изменение внутри транзакции tx.
// Возвращает задание после изменения и признак того, что запись была.
func (s *TranslationQueueService) applyUpdate(
	ctx context.Context, tx repository.DBTX, f translation.Family, docID int, upd JobUpdate,
) (*model.TranslationJob, bool, error) {
	jobs := s.repos.Jobs(tx)
	cur, err := jobs.GetForUpdate(ctx, f, docID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: нет активного задания для документа %d", ErrNotFound, docID)
		}
		return nil, false, classify(err)
	}

	next := *cur
	changed := false
	if upd.StateID != nil && *upd.StateID != cur.StateID {
		if err := checkState(ctx, s.repos.States(tx), f, *upd.StateID); err != nil {
			return nil, false, err
		}
		next.StateID = *upd.StateID
		changed = true
	}
	if upd.AssigneeID != nil && *upd.AssigneeID != cur.AssigneeID {
		if err := checkAssignee(ctx, s.repos.Users(tx), f, *upd.AssigneeID); err != nil {
			return nil, false, err
		}
		next.AssigneeID = *upd.AssigneeID
		changed = true
	}
	if upd.Comment != nil {
		comment := normalizeComment(upd.Comment)
		if commentText(comment) != commentText(cur.Comments) {
			next.Comments = comment
			changed = true
		}
	}
	if !changed {
		return cur, false, nil
	}

	next.StateDate = s.clock()
	if err := jobs.Update(ctx, f, &next); err != nil {
		return nil, false, classify(err)
	}
	if _, err := jobs.AppendHistory(ctx, f, &next); err != nil {
		return nil, false, classify(err)
	}
	got, err := jobs.Get(ctx, f, docID)
	if err != nil {
		return nil, false, classify(err)
	}
	return got, true, nil
}

// ReassignBulk назначает задания документов docIDs пользователю assigneeID.
// Каждый документ обрабатывается в отдельной транзакции; задания, уже
// назначенные этому пользователю, пропускаются. Возвращает число
// изменённых заданий и объединённые ошибки по документам.
func (s *TranslationQueueService) ReassignBulk(ctx context.Context, f translation.Family, docIDs []int, assigneeID int) (int, error) {
	if _, err := authorize(ctx, rbac.ActionManageQueue); err != nil {
		return 0, err
	}
	if err := checkFamily(f); err != nil {
		return 0, err
	}
	if len(docIDs) == 0 {
		return 0, nil
	}
	if err := checkAssignee(ctx, s.repos.Users(s.db), f, assigneeID); err != nil {
		return 0, err
	}

	count := 0
	var errs []error
	seen := make(map[int]bool, len(docIDs))
	for _, docID := range docIDs {
		if seen[docID] {
			continue
		}
		seen[docID] = true

		var changed bool
		err := s.tx.RunInTx(ctx, func(tx repository.DBTX) error {
			_, ok, err := s.applyUpdate(ctx, tx, f, docID, JobUpdate{AssigneeID: &assigneeID})
			changed = ok
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("документ %d: %w", docID, classify(err)))
			continue
		}
		if changed {
			count++
		}
	}

	translationTransitionsTotal.WithLabelValues(string(f), "reassign").Add(float64(count))
	s.logger.Info("Задания перевода переназначены",
		slog.String("family", string(f)),
		slog.Int("assignee_id", assigneeID),
		slog.Int("requested", len(seen)),
		slog.Int("changed", count),
		slog.Int("failed", len(errs)),
	)
	return count, errors.Join(errs...)
}

// PurgeTerminal удаляет активные задания в терминальном состоянии.
// История сохраняется.
func (s *TranslationQueueService) PurgeTerminal(ctx context.Context, f translation.Family) (int, error) {
	if _, err := authorize(ctx, rbac.ActionManageQueue); err != nil {
		return 0, err
	}
	if err := checkFamily(f); err != nil {
		return 0, err
	}

	terminal, err := s.repos.States(s.db).GetByName(ctx, f, translation.TerminalState)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%w: в семействе %s нет состояния %q", ErrInternal, f, translation.TerminalState)
		}
		return 0, classify(err)
	}

	n, err := s.repos.Jobs(s.db).DeleteInState(ctx, f, terminal.ID)
	if err != nil {
		return 0, classify(err)
	}

	translationTransitionsTotal.WithLabelValues(string(f), "purge").Add(float64(n))
	s.logger.Info("Завершённые задания перевода удалены",
		slog.String("family", string(f)),
		slog.Int("deleted", n),
	)
	return n, nil
}

// GetJob возвращает активное задание документа.
func (s *TranslationQueueService) GetJob(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error) {
	if _, err := authorize(ctx, rbac.ActionViewQueue); err != nil {
		return nil, err
	}
	if err := checkFamily(f); err != nil {
		return nil, err
	}
	job, err := s.repos.Jobs(s.db).Get(ctx, f, docID)
	if err != nil {
		return nil, classify(err)
	}
	return job, nil
}

// ListActive возвращает активные задания по фильтру.
func (s *TranslationQueueService) ListActive(ctx context.Context, f translation.Family, filter model.JobFilter) ([]*model.TranslationJob, error) {
	if _, err := authorize(ctx, rbac.ActionViewQueue); err != nil {
		return nil, err
	}
	if err := checkFilter(f, filter); err != nil {
		return nil, err
	}
	jobs, err := s.repos.Jobs(s.db).ListActive(ctx, f, filter)
	if err != nil {
		return nil, classify(err)
	}
	return jobs, nil
}

// ListHistory возвращает историю заданий по фильтру.
func (s *TranslationQueueService) ListHistory(
	ctx context.Context, f translation.Family, filter model.JobFilter, sort translation.SortColumn,
) ([]*model.JobHistoryEntry, error) {
	if _, err := authorize(ctx, rbac.ActionViewQueue); err != nil {
		return nil, err
	}
	if err := checkFilter(f, filter); err != nil {
		return nil, err
	}
	entries, err := s.repos.Jobs(s.db).ListHistory(ctx, f, filter, sort)
	if err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func checkFilter(f translation.Family, filter model.JobFilter) error {
	if err := checkFamily(f); err != nil {
		return err
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return fmt.Errorf("%w: начало интервала должно быть раньше конца", ErrValidation)
	}
	return nil
}

// ListStates возвращает справочник состояний семейства.
func (s *TranslationQueueService) ListStates(ctx context.Context, f translation.Family) ([]*model.TranslationState, error) {
	if _, err := authorize(ctx, rbac.ActionViewQueue); err != nil {
		return nil, err
	}
	if err := checkFamily(f); err != nil {
		return nil, err
	}
	states, err := s.repos.States(s.db).List(ctx, f)
	if err != nil {
		return nil, classify(err)
	}
	return states, nil
}

// AddState добавляет состояние в справочник семейства.
func (s *TranslationQueueService) AddState(ctx context.Context, f translation.Family, name string, position int) (*model.TranslationState, error) {
	if _, err := authorize(ctx, rbac.ActionManageStates); err != nil {
		return nil, err
	}
	if err := checkFamily(f); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: пустое имя состояния", ErrValidation)
	}
	if position < 1 {
		return nil, fmt.Errorf("%w: позиция состояния должна быть положительной", ErrValidation)
	}

	st, err := s.repos.States(s.db).Create(ctx, f, name, position)
	if err != nil {
		return nil, classify(err)
	}
	s.logger.Info("Состояние перевода добавлено",
		slog.String("family", string(f)),
		slog.String("name", st.Name),
		slog.Int("position", st.Position),
	)
	return st, nil
}

// ListTranslators возвращает пользователей, которым можно назначать задания семейства.
func (s *TranslationQueueService) ListTranslators(ctx context.Context, f translation.Family) ([]*model.Translator, error) {
	if _, err := authorize(ctx, rbac.ActionViewQueue); err != nil {
		return nil, err
	}
	if err := checkFamily(f); err != nil {
		return nil, err
	}
	users, err := s.repos.Users(s.db).ListGroupMembers(ctx, f.TranslatorGroup())
	if err != nil {
		return nil, classify(err)
	}
	return users, nil
}

// normalizeComment убирает пробелы; пустой комментарий хранится как NULL.
func normalizeComment(c *string) *string {
	if c == nil {
		return nil
	}
	v := strings.TrimSpace(*c)
	if v == "" {
		return nil
	}
	return &v
}

func commentText(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}
