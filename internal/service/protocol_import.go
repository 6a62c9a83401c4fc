// protocol_import.go — пакетный импорт протоколов из CTGov и RSS.
//
// Задание импорта: StartImportJob → ImportProtocolBatch → FinishImportJob.
// Источник опрашивается один раз на пакет; при его недоступности
// пакет прерывается, ничего не записав. Каждый документ сверяется
// в отдельной транзакции, итог пишется строкой import_event.
//
// Prometheus-метрики:
//   - cdr_import_documents_total — итоги сверки документов по источнику
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/cdrcore/internal/cdrdoc"
	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/rbac"
	"github.com/bigkaa/cdrcore/internal/importsrc"
	"github.com/bigkaa/cdrcore/internal/repository"
)

var importDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cdr_import_documents_total",
	Help: "Итоги импорта документов протоколов",
}, []string{"source", "outcome"})

// ImportReport — итог полного запуска импорта.
type ImportReport struct {
	Job      *model.ImportJob        `json:"job"`
	Outcomes []model.DocumentOutcome `json:"outcomes"`
}

// ProtocolImportService — импорт протоколов из внешних источников.
type ProtocolImportService struct {
	db      repository.DBTX
	tx      repository.Transactor
	repos   Repositories
	sources importsrc.Sources
	now     func() time.Time
	logger  *slog.Logger
}

// NewProtocolImportService создаёт сервис импорта протоколов.
func NewProtocolImportService(
	db repository.DBTX,
	tx repository.Transactor,
	repos Repositories,
	sources importsrc.Sources,
	logger *slog.Logger,
) *ProtocolImportService {
	return &ProtocolImportService{
		db:      db,
		tx:      tx,
		repos:   repos,
		sources: sources,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "protocol_import")),
	}
}

func (s *ProtocolImportService) source(name model.ImportSource) (importsrc.Source, error) {
	src, ok := s.sources.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: источник %q не настроен", ErrValidation, name)
	}
	return src, nil
}

// StartImportJob регистрирует задание импорта со статусом In progress.
func (s *ProtocolImportService) StartImportJob(ctx context.Context, source model.ImportSource) (*model.ImportJob, error) {
	if _, err := authorize(ctx, rbac.ActionImport); err != nil {
		return nil, err
	}
	if _, err := s.source(source); err != nil {
		return nil, err
	}

	job, err := s.repos.Imports(s.db).CreateJob(ctx, source, s.now())
	if err != nil {
		return nil, classify(err)
	}
	s.logger.Info("Задание импорта создано",
		slog.Int("job_id", job.ID),
		slog.String("source", string(source)),
	)
	return job, nil
}

// ImportProtocolBatch получает записи источника и сверяет каждую
// с документом CDR. ids дополняют внешние идентификаторы, уже
// известные по import_record. Ошибки отдельных документов не
// прерывают пакет и попадают в итог с outcome error.
func (s *ProtocolImportService) ImportProtocolBatch(ctx context.Context, jobID int, source model.ImportSource, ids []string) ([]model.DocumentOutcome, error) {
	sess, err := authorize(ctx, rbac.ActionImport)
	if err != nil {
		return nil, err
	}
	src, err := s.source(source)
	if err != nil {
		return nil, err
	}
	user, err := currentUser(ctx, s.repos.Users(s.db), sess)
	if err != nil {
		return nil, err
	}

	imports := s.repos.Imports(s.db)
	job, err := imports.GetJob(ctx, jobID)
	if err != nil {
		return nil, classify(err)
	}
	if job.Source != source {
		return nil, fmt.Errorf("%w: задание %d относится к источнику %s", ErrConflict, jobID, job.Source)
	}
	if job.Status != model.JobStatusInProgress {
		return nil, fmt.Errorf("%w: задание %d уже завершено (%s)", ErrConflict, jobID, job.Status)
	}

	known, err := imports.ListRecords(ctx, source, "")
	if err != nil {
		return nil, classify(err)
	}
	wanted := make([]string, 0, len(known)+len(ids))
	for _, rec := range known {
		wanted = append(wanted, rec.ExternalID)
	}
	wanted = dedupe(append(wanted, ids...))

	records, err := src.Fetch(ctx, wanted)
	if err != nil {
		return nil, classify(err)
	}

	outcomes := make([]model.DocumentOutcome, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, ext := range records {
		if seen[ext.ExternalID] {
			s.logger.Warn("Повтор записи в ответе источника",
				slog.String("source", string(source)),
				slog.String("external_id", ext.ExternalID),
			)
			continue
		}
		seen[ext.ExternalID] = true

		out := s.importOne(ctx, jobID, user.ID, ext)
		importDocumentsTotal.WithLabelValues(string(source), string(out.Outcome)).Inc()
		outcomes = append(outcomes, out)
	}

	s.logger.Info("Пакет импорта обработан",
		slog.Int("job_id", jobID),
		slog.String("source", string(source)),
		slog.Int("documents", len(outcomes)),
	)
	return outcomes, nil
}

// importOne сверяет одну внешнюю запись в собственной транзакции.
func (s *ProtocolImportService) importOne(ctx context.Context, jobID, userID int, ext model.ExternalProtocol) model.DocumentOutcome {
	out := model.DocumentOutcome{ExternalID: ext.ExternalID}
	err := s.tx.RunInTx(ctx, func(tx repository.DBTX) error {
		out = model.DocumentOutcome{ExternalID: ext.ExternalID}
		docs := s.repos.Documents(tx)
		imports := s.repos.Imports(tx)
		now := s.now()

		docID, err := matchDocument(ctx, docs, imports, ext)
		if err != nil {
			return err
		}

		ev := &model.ImportEvent{
			JobID:      jobID,
			Source:     ext.Source,
			ExternalID: ext.ExternalID,
			CreatedAt:  now,
		}
		rec := &model.ImportRecord{
			Source:     ext.Source,
			ExternalID: ext.ExternalID,
			Status:     model.ImportStatusImported,
		}

		if docID == nil {
			id, publishable, err := s.createProtocol(ctx, docs, ext, userID, now)
			if err != nil {
				return err
			}
			docID = &id
			ev.New, ev.PubVersion = true, publishable
			out.Outcome, out.PubVersion = model.OutcomeNew, publishable
		} else {
			if err := s.updateProtocol(ctx, docs, *docID, ext, userID, now, ev, &out); err != nil {
				return err
			}
			switch out.Outcome {
			case model.OutcomeLocked:
				rec.Status = model.ImportStatusLocked
			case model.OutcomeSkipped:
				rec.Status = model.ImportStatusSkipped
			case model.OutcomeError:
				rec = nil
			}
		}
		out.DocID, ev.DocID = docID, docID
		out.Message = ev.Warning

		if err := imports.AddEvent(ctx, ev); err != nil {
			return classify(err)
		}
		if rec == nil {
			return nil
		}
		rec.CDRDocID = docID
		if rec.Status == model.ImportStatusImported {
			rec.LastImportDate = &now
		}
		return classify(imports.UpsertRecord(ctx, rec))
	})
	if err != nil {
		err = classify(err)
		s.logger.Error("Ошибка импорта документа",
			slog.String("source", string(ext.Source)),
			slog.String("external_id", ext.ExternalID),
			slog.String("error", err.Error()),
		)
		out.Outcome, out.Message = model.OutcomeError, err.Error()
	}
	return out
}

// matchDocument ищет документ по import_record, затем по query_term.
// nil — документа ещё нет.
func matchDocument(ctx context.Context, docs repository.DocumentRepository, imports repository.ImportRepository, ext model.ExternalProtocol) (*int, error) {
	rec, err := imports.GetRecord(ctx, ext.Source, ext.ExternalID)
	switch {
	case err == nil && rec.CDRDocID != nil:
		return rec.CDRDocID, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, classify(err)
	}

	path, err := cdrdoc.MatchPath(ext.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	ids, err := docs.FindByTerm(ctx, path, ext.ExternalID)
	if err != nil {
		return nil, classify(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return &ids[0], nil
}

func (s *ProtocolImportService) createProtocol(ctx context.Context, docs repository.DocumentRepository, ext model.ExternalProtocol, userID int, now time.Time) (int, bool, error) {
	p, err := cdrdoc.NewProtocol(ext.Source)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	p.Apply(ext)
	xml, err := p.XML()
	if err != nil {
		return 0, false, classify(err)
	}
	publishable, _, err := cdrdoc.Publishable(p.DocType(), xml)
	if err != nil {
		return 0, false, classify(err)
	}
	id, err := docs.Create(ctx, repository.NewDocument{
		DocType:     p.DocType(),
		Title:       p.Title(),
		XML:         xml,
		UserID:      userID,
		Comment:     fmt.Sprintf("Imported from %s", ext.Source),
		Publishable: publishable,
		At:          now,
	})
	if err != nil {
		return 0, false, classify(err)
	}
	if err := docs.ReplaceTerms(ctx, id, p.Terms()); err != nil {
		return 0, false, classify(err)
	}
	return id, publishable, nil
}

// updateProtocol сверяет существующий документ. Заблокированный,
// устаревший или неразбираемый документ не считается ошибкой
// транзакции: итог фиксируется в ev и out.
func (s *ProtocolImportService) updateProtocol(
	ctx context.Context, docs repository.DocumentRepository, docID int,
	ext model.ExternalProtocol, userID int, now time.Time,
	ev *model.ImportEvent, out *model.DocumentOutcome,
) error {
	doc, err := docs.Get(ctx, docID)
	if err != nil {
		return classify(err)
	}
	p, err := cdrdoc.ParseProtocol(ext.Source, doc.XML)
	if err != nil {
		ev.Warning = fmt.Sprintf("документ %s не разобран: %v", cdrdoc.FormatID(docID), err)
		out.Outcome = model.OutcomeError
		return nil
	}

	release, err := checkoutDocument(ctx, docs, docID, userID, now)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			ev.Locked = true
			ev.Warning = fmt.Sprintf("документ %s заблокирован", cdrdoc.FormatID(docID))
			out.Outcome = model.OutcomeLocked
			return nil
		}
		return err
	}

	// Запись старше последнего сохранения документа или отметки
	// импорта не применяется; сравнение по дням UTC.
	known := utcDay(p.LastModified())
	if saved := utcDay(doc.LastMod); saved.After(known) {
		known = saved
	}
	switch {
	case !ext.LastModified.IsZero() && utcDay(ext.LastModified).Before(known):
		ev.Warning = fmt.Sprintf("внешняя запись от %s старше документа (%s)",
			ext.LastModified.Format(cdrdoc.DateLayout), known.Format(cdrdoc.DateLayout))
		out.Outcome = model.OutcomeSkipped
	default:
		before, err := p.XML()
		if err != nil {
			return classify(err)
		}
		p.Apply(ext)
		after, err := p.XML()
		if err != nil {
			return classify(err)
		}
		if before == after {
			out.Outcome = model.OutcomeNoChange
			break
		}

		publishable, problems, err := cdrdoc.Publishable(p.DocType(), after)
		if err != nil {
			return classify(err)
		}
		if _, err := docs.SaveVersion(ctx, docID, repository.NewDocument{
			DocType:     p.DocType(),
			Title:       p.Title(),
			XML:         after,
			UserID:      userID,
			Comment:     fmt.Sprintf("Updated from %s", ext.Source),
			Publishable: publishable,
			At:          now,
		}); err != nil {
			return classify(err)
		}
		if err := docs.ReplaceTerms(ctx, docID, p.Terms()); err != nil {
			return classify(err)
		}
		if !publishable {
			ev.Warning = "непубликуемая версия: " + problems
		}
		ev.PubVersion = publishable
		out.Outcome, out.PubVersion = model.OutcomeUpdated, publishable
	}
	return release(now)
}

// FinishImportJob фиксирует итоговый статус задания: Success или Failure.
func (s *ProtocolImportService) FinishImportJob(ctx context.Context, jobID int, status string) error {
	if _, err := authorize(ctx, rbac.ActionImport); err != nil {
		return err
	}
	if status != model.JobStatusSuccess && status != model.JobStatusFailure {
		return fmt.Errorf("%w: недопустимый статус задания %q", ErrValidation, status)
	}

	imports := s.repos.Imports(s.db)
	job, err := imports.GetJob(ctx, jobID)
	if err != nil {
		return classify(err)
	}
	if job.Status != model.JobStatusInProgress {
		return fmt.Errorf("%w: задание %d уже завершено (%s)", ErrConflict, jobID, job.Status)
	}
	if err := imports.FinishJob(ctx, jobID, status, s.now()); err != nil {
		return classify(err)
	}

	s.logger.Info("Задание импорта завершено",
		slog.Int("job_id", jobID),
		slog.String("status", status),
	)
	return nil
}

// ListEvents возвращает события задания импорта.
func (s *ProtocolImportService) ListEvents(ctx context.Context, jobID int) ([]*model.ImportEvent, error) {
	if _, err := authorize(ctx, rbac.ActionImport); err != nil {
		return nil, err
	}
	imports := s.repos.Imports(s.db)
	if _, err := imports.GetJob(ctx, jobID); err != nil {
		return nil, classify(err)
	}
	events, err := imports.ListEvents(ctx, jobID)
	if err != nil {
		return nil, classify(err)
	}
	return events, nil
}

// RunImport выполняет задание целиком. Если пакет прерван,
// задание завершается со статусом Failure и возвращается ошибка пакета.
func (s *ProtocolImportService) RunImport(ctx context.Context, source model.ImportSource, ids []string) (*ImportReport, error) {
	job, err := s.StartImportJob(ctx, source)
	if err != nil {
		return nil, err
	}

	outcomes, batchErr := s.ImportProtocolBatch(ctx, job.ID, source, ids)
	status := model.JobStatusSuccess
	if batchErr != nil {
		status = model.JobStatusFailure
	}
	if err := s.FinishImportJob(ctx, job.ID, status); err != nil {
		return nil, errors.Join(batchErr, err)
	}
	if batchErr != nil {
		return nil, batchErr
	}

	finished, err := s.repos.Imports(s.db).GetJob(ctx, job.ID)
	if err != nil {
		return nil, classify(err)
	}
	return &ImportReport{Job: finished, Outcomes: outcomes}, nil
}

func utcDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
