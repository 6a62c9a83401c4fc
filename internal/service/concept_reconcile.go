// concept_reconcile.go — сверка документов Term с концептами NCI Thesaurus.
//
// ReconcileConcept с id документа блокирует документ, применяет изменения
// концепта и сохраняет новую версию; без id — создаёт документ из концепта.
// Пустой список изменений означает, что версия не записывалась.
//
// Периодический режим (CDR_RECONCILE_INTERVAL) обходит все документы Term
// с кодом концепта. Недоступность EVS прерывает обход целиком.
//
// Prometheus-метрики:
//   - cdr_concept_reconcile_total — результаты сверки документов
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

	"github.com/bigkaa/cdrcore/internal/cdrdoc"
	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/queryterm"
	"github.com/bigkaa/cdrcore/internal/domain/rbac"
	"github.com/bigkaa/cdrcore/internal/repository"
	"github.com/bigkaa/cdrcore/internal/session"
	"github.com/bigkaa/cdrcore/internal/thesaurus"
)

var conceptReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cdr_concept_reconcile_total",
	Help: "Результаты сверки документов с NCI Thesaurus",
}, []string{"result"}) // result: created, updated, unchanged, locked, error

// ConceptFetcher — источник концептов NCI Thesaurus.
type ConceptFetcher interface {
	FetchConcept(ctx context.Context, code string) (*thesaurus.Concept, error)
}

// ConceptResult — итог сверки одного концепта.
type ConceptResult struct {
	Code    string `json:"code"`
	DocID   int    `json:"doc_id"`
	Created bool   `json:"created"`
	// Version — номер записанной версии (0 — версия не записывалась)
	Version     int      `json:"version,omitempty"`
	Publishable bool     `json:"publishable"`
	Changes     []string `json:"changes"`
	Warnings    []string `json:"warnings,omitempty"`
}

// RefreshOutcome — итог обработки документа при периодическом обходе.
type RefreshOutcome struct {
	Code    string        `json:"code"`
	DocID   int           `json:"doc_id"`
	Outcome model.Outcome `json:"outcome"`
	Changes []string      `json:"changes,omitempty"`
	Message string        `json:"message,omitempty"`
}

// ConceptReconcileService — сверка терминов с NCI Thesaurus.
type ConceptReconcileService struct {
	db       repository.DBTX
	tx       repository.Transactor
	repos    Repositories
	evs      ConceptFetcher
	resolver thesaurus.SemanticTypeResolver
	now      func() time.Time
	logger   *slog.Logger

	batchUser string
	interval  time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewConceptReconcileService создаёт сервис сверки концептов.
// batchUser и interval используются только периодическим обходом.
func NewConceptReconcileService(
	db repository.DBTX,
	tx repository.Transactor,
	repos Repositories,
	evs ConceptFetcher,
	resolver thesaurus.SemanticTypeResolver,
	batchUser string,
	interval time.Duration,
	logger *slog.Logger,
) *ConceptReconcileService {
	return &ConceptReconcileService{
		db:        db,
		tx:        tx,
		repos:     repos,
		evs:       evs,
		resolver:  resolver,
		now:       func() time.Time { return time.Now().UTC() },
		batchUser: batchUser,
		interval:  interval,
		logger:    logger.With(slog.String("component", "concept_reconcile")),
	}
}

// normalizeCode приводит код концепта к виду C1234.
func normalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("%w: пустой код концепта", ErrValidation)
	}
	return code, nil
}

// ReconcileConcept сверяет концепт code с документом docID
// или, если docID == nil, создаёт документ Term из концепта.
func (s *ConceptReconcileService) ReconcileConcept(ctx context.Context, code string, docID *int) (*ConceptResult, error) {
	sess, err := authorize(ctx, rbac.ActionReconcile)
	if err != nil {
		return nil, err
	}
	code, err = normalizeCode(code)
	if err != nil {
		return nil, err
	}
	user, err := currentUser(ctx, s.repos.Users(s.db), sess)
	if err != nil {
		return nil, err
	}

	concept, err := s.evs.FetchConcept(ctx, code)
	if err != nil {
		return nil, classify(err)
	}

	var res *ConceptResult
	if docID != nil {
		res, err = s.updateTerm(ctx, user, concept, *docID)
	} else {
		res, err = s.createTerm(ctx, user, concept)
	}
	if err != nil {
		result := "error"
		if errors.Is(err, ErrLocked) {
			result = "locked"
		}
		conceptReconcileTotal.WithLabelValues(result).Inc()
		return nil, err
	}

	result := "unchanged"
	switch {
	case res.Created:
		result = "created"
	case res.Version > 0:
		result = "updated"
	}
	conceptReconcileTotal.WithLabelValues(result).Inc()
	s.logger.Info("Концепт NCI Thesaurus сверен",
		slog.String("code", code),
		slog.Int("doc_id", res.DocID),
		slog.String("result", result),
		slog.Int("changes", len(res.Changes)),
	)
	return res, nil
}

func (s *ConceptReconcileService) updateTerm(ctx context.Context, user *model.User, c *thesaurus.Concept, docID int) (*ConceptResult, error) {
	res := &ConceptResult{Code: c.Code, DocID: docID}
	err := s.tx.RunInTx(ctx, func(tx repository.DBTX) error {
		docs := s.repos.Documents(tx)
		doc, err := docs.Get(ctx, docID)
		if err != nil {
			return classify(err)
		}
		if doc.DocType != model.DocTypeTerm {
			return fmt.Errorf("%w: документ %s имеет тип %s, ожидался Term", ErrValidation, cdrdoc.FormatID(docID), doc.DocType)
		}
		term, err := cdrdoc.ParseTerm(doc.XML)
		if err != nil {
			return classify(err)
		}
		if existing := term.ConceptCode(); existing != "" && !strings.EqualFold(existing, c.Code) {
			return fmt.Errorf("%w: документ %s связан с концептом %s", ErrConflict, cdrdoc.FormatID(docID), existing)
		}

		release, err := checkoutDocument(ctx, docs, docID, user.ID, s.now())
		if err != nil {
			return err
		}

		diff, err := thesaurus.Reconcile(ctx, term, c, s.resolver)
		if err != nil {
			return classify(err)
		}
		res.Changes, res.Warnings = nonNil(diff.Changes), diff.Warnings

		now := s.now()
		if len(diff.Changes) > 0 {
			version, publishable, err := s.saveTerm(ctx, docs, docID, term, user.ID,
				fmt.Sprintf("Updated from NCI Thesaurus concept %s", c.Code), now)
			if err != nil {
				return err
			}
			res.Version, res.Publishable = version, publishable
		}
		if err := release(now); err != nil {
			return err
		}
		return s.recordImport(ctx, tx, c.Code, docID, now)
	})
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

func (s *ConceptReconcileService) createTerm(ctx context.Context, user *model.User, c *thesaurus.Concept) (*ConceptResult, error) {
	res := &ConceptResult{Code: c.Code, Created: true, Version: 1}
	err := s.tx.RunInTx(ctx, func(tx repository.DBTX) error {
		docs := s.repos.Documents(tx)
		existing, err := docs.FindByTerm(ctx, queryterm.TermConceptCode, c.Code)
		if err != nil {
			return classify(err)
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: концепт %s уже импортирован в %s", ErrConflict, c.Code, cdrdoc.FormatID(existing[0]))
		}

		term, diff, err := thesaurus.NewTerm(ctx, c, s.resolver)
		if err != nil {
			return classify(err)
		}
		res.Changes, res.Warnings = nonNil(diff.Changes), diff.Warnings

		xml, err := term.XML()
		if err != nil {
			return classify(err)
		}
		publishable, _, err := cdrdoc.Publishable(model.DocTypeTerm, xml)
		if err != nil {
			return classify(err)
		}
		now := s.now()
		id, err := docs.Create(ctx, repository.NewDocument{
			DocType:     model.DocTypeTerm,
			Title:       term.Title(),
			XML:         xml,
			UserID:      user.ID,
			Comment:     fmt.Sprintf("Imported from NCI Thesaurus concept %s", c.Code),
			Publishable: publishable,
			At:          now,
		})
		if err != nil {
			return classify(err)
		}
		if err := docs.ReplaceTerms(ctx, id, term.Terms()); err != nil {
			return classify(err)
		}
		res.DocID, res.Publishable = id, publishable
		return s.recordImport(ctx, tx, c.Code, id, now)
	})
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// checkoutDocument блокирует документ для пользователя. Возвращаемая функция
// снимает блокировку, если до вызова документ не был заблокирован этим пользователем.
func checkoutDocument(ctx context.Context, docs repository.DocumentRepository, docID, userID int, at time.Time) (func(time.Time) error, error) {
	held := false
	if holder, err := docs.LockHolder(ctx, docID); err == nil && holder.UserID == userID {
		held = true
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, classify(err)
	}
	if err := docs.Checkout(ctx, docID, userID, at); err != nil {
		return nil, classify(err)
	}
	return func(at time.Time) error {
		if held {
			return nil
		}
		if err := docs.Checkin(ctx, docID, userID, at); err != nil {
			return classify(err)
		}
		return nil
	}, nil
}

func (s *ConceptReconcileService) saveTerm(
	ctx context.Context, docs repository.DocumentRepository, docID int,
	term *cdrdoc.TermDoc, userID int, comment string, at time.Time,
) (int, bool, error) {
	xml, err := term.XML()
	if err != nil {
		return 0, false, classify(err)
	}
	publishable, problems, err := cdrdoc.Publishable(model.DocTypeTerm, xml)
	if err != nil {
		return 0, false, classify(err)
	}
	if !publishable {
		s.logger.Warn("Документ сохранён непубликуемой версией",
			slog.Int("doc_id", docID),
			slog.String("problems", problems),
		)
	}
	version, err := docs.SaveVersion(ctx, docID, repository.NewDocument{
		DocType:     model.DocTypeTerm,
		Title:       term.Title(),
		XML:         xml,
		UserID:      userID,
		Comment:     comment,
		Publishable: publishable,
		At:          at,
	})
	if err != nil {
		return 0, false, classify(err)
	}
	if err := docs.ReplaceTerms(ctx, docID, term.Terms()); err != nil {
		return 0, false, classify(err)
	}
	return version, publishable, nil
}

func (s *ConceptReconcileService) recordImport(ctx context.Context, tx repository.DBTX, code string, docID int, at time.Time) error {
	err := s.repos.Imports(tx).UpsertRecord(ctx, &model.ImportRecord{
		Source:         model.SourceThesaurus,
		ExternalID:     code,
		CDRDocID:       &docID,
		LastImportDate: &at,
		Status:         model.ImportStatusImported,
	})
	return classify(err)
}

// RefreshAll сверяет все документы Term, у которых есть код концепта.
// Ошибки отдельных документов попадают в итог; недоступность EVS прерывает обход.
func (s *ConceptReconcileService) RefreshAll(ctx context.Context) ([]RefreshOutcome, error) {
	if _, err := authorize(ctx, rbac.ActionReconcile); err != nil {
		return nil, err
	}
	values, err := s.repos.Documents(s.db).ListTermValues(ctx, queryterm.TermConceptCode)
	if err != nil {
		return nil, classify(err)
	}

	outcomes := make([]RefreshOutcome, 0, len(values))
	for _, v := range values {
		docID := v.DocID
		out := RefreshOutcome{Code: v.Value, DocID: docID}
		res, err := s.ReconcileConcept(ctx, v.Value, &docID)
		switch {
		case errors.Is(err, ErrExternal):
			return outcomes, err
		case errors.Is(err, ErrLocked):
			out.Outcome, out.Message = model.OutcomeLocked, err.Error()
		case err != nil:
			out.Outcome, out.Message = model.OutcomeError, err.Error()
			s.logger.Error("Ошибка сверки документа",
				slog.Int("doc_id", docID),
				slog.String("code", v.Value),
				slog.String("error", err.Error()),
			)
		case res.Version > 0:
			out.Outcome, out.Changes = model.OutcomeUpdated, res.Changes
		default:
			out.Outcome = model.OutcomeNoChange
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// Start запускает периодический обход, если задан интервал.
func (s *ConceptReconcileService) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(session.WithSession(ctx, session.System(s.batchUser)))
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая сверка концептов запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая сверка концептов остановлена")
				return
			case <-ticker.C:
				outcomes, err := s.RefreshAll(ctx)
				if err != nil {
					s.logger.Error("Ошибка периодической сверки концептов", slog.String("error", err.Error()))
					continue
				}
				s.logger.Info("Периодическая сверка концептов завершена",
					slog.Int("documents", len(outcomes)),
				)
			}
		}
	}()
}

// Stop останавливает периодический обход и ждёт завершения.
func (s *ConceptReconcileService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func nonNil(changes []string) []string {
	if changes == nil {
		return []string{}
	}
	return changes
}
