package service

import (
	"context"
	"time"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/queryterm"
	"github.com/bigkaa/cdrcore/internal/domain/translation"
	"github.com/bigkaa/cdrcore/internal/repository"
	"github.com/bigkaa/cdrcore/internal/session"
)

// --- Transactor ---

// mockTx выполняет fn без транзакции и считает вызовы.
type mockTx struct {
	calls int
}

func (m *mockTx) RunInTx(_ context.Context, fn func(tx repository.DBTX) error) error {
	m.calls++
	return fn(nil)
}

// --- TranslationJobRepository ---

type mockJobRepo struct {
	getFn           func(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error)
	getForUpdateFn  func(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error)
	insertFn        func(ctx context.Context, f translation.Family, job *model.TranslationJob) error
	updateFn        func(ctx context.Context, f translation.Family, job *model.TranslationJob) error
	appendHistoryFn func(ctx context.Context, f translation.Family, job *model.TranslationJob) (int64, error)
	deleteInStateFn func(ctx context.Context, f translation.Family, stateID int) (int, error)
	listActiveFn    func(ctx context.Context, f translation.Family, filter model.JobFilter) ([]*model.TranslationJob, error)
	listHistoryFn   func(ctx context.Context, f translation.Family, filter model.JobFilter, sort translation.SortColumn) ([]*model.JobHistoryEntry, error)
}

func (m *mockJobRepo) Get(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error) {
	if m.getFn != nil {
		return m.getFn(ctx, f, docID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockJobRepo) GetForUpdate(ctx context.Context, f translation.Family, docID int) (*model.TranslationJob, error) {
	if m.getForUpdateFn != nil {
		return m.getForUpdateFn(ctx, f, docID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockJobRepo) Insert(ctx context.Context, f translation.Family, job *model.TranslationJob) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, f, job)
	}
	return nil
}

func (m *mockJobRepo) Update(ctx context.Context, f translation.Family, job *model.TranslationJob) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, f, job)
	}
	return nil
}

func (m *mockJobRepo) AppendHistory(ctx context.Context, f translation.Family, job *model.TranslationJob) (int64, error) {
	if m.appendHistoryFn != nil {
		return m.appendHistoryFn(ctx, f, job)
	}
	return 1, nil
}

func (m *mockJobRepo) DeleteInState(ctx context.Context, f translation.Family, stateID int) (int, error) {
	if m.deleteInStateFn != nil {
		return m.deleteInStateFn(ctx, f, stateID)
	}
	return 0, nil
}

func (m *mockJobRepo) ListActive(ctx context.Context, f translation.Family, filter model.JobFilter) ([]*model.TranslationJob, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, f, filter)
	}
	return nil, nil
}

func (m *mockJobRepo) ListHistory(ctx context.Context, f translation.Family, filter model.JobFilter, sort translation.SortColumn) ([]*model.JobHistoryEntry, error) {
	if m.listHistoryFn != nil {
		return m.listHistoryFn(ctx, f, filter, sort)
	}
	return nil, nil
}

// --- TranslationStateRepository ---

type mockStateRepo struct {
	listFn      func(ctx context.Context, f translation.Family) ([]*model.TranslationState, error)
	getByIDFn   func(ctx context.Context, f translation.Family, id int) (*model.TranslationState, error)
	getByNameFn func(ctx context.Context, f translation.Family, name string) (*model.TranslationState, error)
	createFn    func(ctx context.Context, f translation.Family, name string, position int) (*model.TranslationState, error)
}

func (m *mockStateRepo) List(ctx context.Context, f translation.Family) ([]*model.TranslationState, error) {
	if m.listFn != nil {
		return m.listFn(ctx, f)
	}
	return nil, nil
}

func (m *mockStateRepo) GetByID(ctx context.Context, f translation.Family, id int) (*model.TranslationState, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, f, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockStateRepo) GetByName(ctx context.Context, f translation.Family, name string) (*model.TranslationState, error) {
	if m.getByNameFn != nil {
		return m.getByNameFn(ctx, f, name)
	}
	return nil, repository.ErrNotFound
}

func (m *mockStateRepo) Create(ctx context.Context, f translation.Family, name string, position int) (*model.TranslationState, error) {
	if m.createFn != nil {
		return m.createFn(ctx, f, name, position)
	}
	return &model.TranslationState{ID: 100, Name: name, Position: position}, nil
}

// --- UserRepository ---

type mockUserRepo struct {
	getByIDFn          func(ctx context.Context, id int) (*model.User, error)
	getByNameFn        func(ctx context.Context, name string) (*model.User, error)
	isMemberFn         func(ctx context.Context, userID int, group string) (bool, error)
	listGroupMembersFn func(ctx context.Context, group string) ([]*model.Translator, error)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int) (*model.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

// GetByName по умолчанию находит любого пользователя с id 1.
func (m *mockUserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	if m.getByNameFn != nil {
		return m.getByNameFn(ctx, name)
	}
	return &model.User{ID: 1, Name: name}, nil
}

func (m *mockUserRepo) IsMember(ctx context.Context, userID int, group string) (bool, error) {
	if m.isMemberFn != nil {
		return m.isMemberFn(ctx, userID, group)
	}
	return true, nil
}

func (m *mockUserRepo) ListGroupMembers(ctx context.Context, group string) ([]*model.Translator, error) {
	if m.listGroupMembersFn != nil {
		return m.listGroupMembersFn(ctx, group)
	}
	return nil, nil
}

// --- DocumentRepository ---

type mockDocRepo struct {
	getFn            func(ctx context.Context, id int) (*model.Document, error)
	createFn         func(ctx context.Context, doc repository.NewDocument) (int, error)
	saveVersionFn    func(ctx context.Context, id int, doc repository.NewDocument) (int, error)
	lastVersionFn    func(ctx context.Context, id int) (*model.DocVersion, error)
	checkoutFn       func(ctx context.Context, id, userID int, at time.Time) error
	checkinFn        func(ctx context.Context, id, userID int, at time.Time) error
	lockHolderFn     func(ctx context.Context, id int) (*model.Checkout, error)
	replaceTermsFn   func(ctx context.Context, id int, terms []queryterm.Term) error
	findByTermFn     func(ctx context.Context, path queryterm.Path, value string) ([]int, error)
	listTermValuesFn func(ctx context.Context, path queryterm.Path) ([]repository.TermValue, error)
}

func (m *mockDocRepo) Get(ctx context.Context, id int) (*model.Document, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDocRepo) Create(ctx context.Context, doc repository.NewDocument) (int, error) {
	if m.createFn != nil {
		return m.createFn(ctx, doc)
	}
	return 1000, nil
}

func (m *mockDocRepo) SaveVersion(ctx context.Context, id int, doc repository.NewDocument) (int, error) {
	if m.saveVersionFn != nil {
		return m.saveVersionFn(ctx, id, doc)
	}
	return 2, nil
}

func (m *mockDocRepo) LastVersion(ctx context.Context, id int) (*model.DocVersion, error) {
	if m.lastVersionFn != nil {
		return m.lastVersionFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDocRepo) Checkout(ctx context.Context, id, userID int, at time.Time) error {
	if m.checkoutFn != nil {
		return m.checkoutFn(ctx, id, userID, at)
	}
	return nil
}

func (m *mockDocRepo) Checkin(ctx context.Context, id, userID int, at time.Time) error {
	if m.checkinFn != nil {
		return m.checkinFn(ctx, id, userID, at)
	}
	return nil
}

func (m *mockDocRepo) LockHolder(ctx context.Context, id int) (*model.Checkout, error) {
	if m.lockHolderFn != nil {
		return m.lockHolderFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDocRepo) ReplaceTerms(ctx context.Context, id int, terms []queryterm.Term) error {
	if m.replaceTermsFn != nil {
		return m.replaceTermsFn(ctx, id, terms)
	}
	return nil
}

func (m *mockDocRepo) FindByTerm(ctx context.Context, path queryterm.Path, value string) ([]int, error) {
	if m.findByTermFn != nil {
		return m.findByTermFn(ctx, path, value)
	}
	return nil, nil
}

func (m *mockDocRepo) ListTermValues(ctx context.Context, path queryterm.Path) ([]repository.TermValue, error) {
	if m.listTermValuesFn != nil {
		return m.listTermValuesFn(ctx, path)
	}
	return nil, nil
}

// --- ImportRepository ---

type mockImportRepo struct {
	getRecordFn    func(ctx context.Context, source model.ImportSource, externalID string) (*model.ImportRecord, error)
	upsertRecordFn func(ctx context.Context, rec *model.ImportRecord) error
	listRecordsFn  func(ctx context.Context, source model.ImportSource, status string) ([]*model.ImportRecord, error)
	createJobFn    func(ctx context.Context, source model.ImportSource, startedAt time.Time) (*model.ImportJob, error)
	finishJobFn    func(ctx context.Context, id int, status string, finishedAt time.Time) error
	getJobFn       func(ctx context.Context, id int) (*model.ImportJob, error)
	addEventFn     func(ctx context.Context, ev *model.ImportEvent) error
	listEventsFn   func(ctx context.Context, jobID int) ([]*model.ImportEvent, error)
}

func (m *mockImportRepo) GetRecord(ctx context.Context, source model.ImportSource, externalID string) (*model.ImportRecord, error) {
	if m.getRecordFn != nil {
		return m.getRecordFn(ctx, source, externalID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockImportRepo) UpsertRecord(ctx context.Context, rec *model.ImportRecord) error {
	if m.upsertRecordFn != nil {
		return m.upsertRecordFn(ctx, rec)
	}
	return nil
}

func (m *mockImportRepo) ListRecords(ctx context.Context, source model.ImportSource, status string) ([]*model.ImportRecord, error) {
	if m.listRecordsFn != nil {
		return m.listRecordsFn(ctx, source, status)
	}
	return nil, nil
}

func (m *mockImportRepo) CreateJob(ctx context.Context, source model.ImportSource, startedAt time.Time) (*model.ImportJob, error) {
	if m.createJobFn != nil {
		return m.createJobFn(ctx, source, startedAt)
	}
	return &model.ImportJob{ID: 1, Source: source, StartedAt: startedAt, Status: model.JobStatusInProgress}, nil
}

func (m *mockImportRepo) FinishJob(ctx context.Context, id int, status string, finishedAt time.Time) error {
	if m.finishJobFn != nil {
		return m.finishJobFn(ctx, id, status, finishedAt)
	}
	return nil
}

func (m *mockImportRepo) GetJob(ctx context.Context, id int) (*model.ImportJob, error) {
	if m.getJobFn != nil {
		return m.getJobFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockImportRepo) AddEvent(ctx context.Context, ev *model.ImportEvent) error {
	if m.addEventFn != nil {
		return m.addEventFn(ctx, ev)
	}
	return nil
}

func (m *mockImportRepo) ListEvents(ctx context.Context, jobID int) ([]*model.ImportEvent, error) {
	if m.listEventsFn != nil {
		return m.listEventsFn(ctx, jobID)
	}
	return nil, nil
}

// --- PartnerRepository ---

type mockPartnerRepo struct {
	tryLockFn       func(ctx context.Context) error
	recreateFn      func(ctx context.Context) error
	insertProductFn func(ctx context.Context, p *model.PartnerProduct, at time.Time) error
	insertOrgFn     func(ctx context.Context, o *model.PartnerOrg, at time.Time) error
	insertContactFn func(ctx context.Context, c *model.PartnerContact, at time.Time) error
}

func (m *mockPartnerRepo) TryLock(ctx context.Context) error {
	if m.tryLockFn != nil {
		return m.tryLockFn(ctx)
	}
	return nil
}

func (m *mockPartnerRepo) Recreate(ctx context.Context) error {
	if m.recreateFn != nil {
		return m.recreateFn(ctx)
	}
	return nil
}

func (m *mockPartnerRepo) InsertProduct(ctx context.Context, p *model.PartnerProduct, at time.Time) error {
	if m.insertProductFn != nil {
		return m.insertProductFn(ctx, p, at)
	}
	return nil
}

func (m *mockPartnerRepo) InsertOrg(ctx context.Context, o *model.PartnerOrg, at time.Time) error {
	if m.insertOrgFn != nil {
		return m.insertOrgFn(ctx, o, at)
	}
	return nil
}

func (m *mockPartnerRepo) InsertContact(ctx context.Context, c *model.PartnerContact, at time.Time) error {
	if m.insertContactFn != nil {
		return m.insertContactFn(ctx, c, at)
	}
	return nil
}

func (m *mockPartnerRepo) ListOrgs(_ context.Context) ([]*model.PartnerOrg, error) {
	return nil, nil
}

func (m *mockPartnerRepo) CountContacts(_ context.Context) (int, error) {
	return 0, nil
}

// --- Helpers ---

// mockRepos собирает Repositories из моков; nil-мок заменяется пустым.
type mockRepos struct {
	jobs     *mockJobRepo
	states   *mockStateRepo
	users    *mockUserRepo
	docs     *mockDocRepo
	imports  *mockImportRepo
	partners *mockPartnerRepo
}

func (m mockRepos) build() Repositories {
	if m.jobs == nil {
		m.jobs = &mockJobRepo{}
	}
	if m.states == nil {
		m.states = &mockStateRepo{}
	}
	if m.users == nil {
		m.users = &mockUserRepo{}
	}
	if m.docs == nil {
		m.docs = &mockDocRepo{}
	}
	if m.imports == nil {
		m.imports = &mockImportRepo{}
	}
	if m.partners == nil {
		m.partners = &mockPartnerRepo{}
	}
	return Repositories{
		Jobs:      func(repository.DBTX) repository.TranslationJobRepository { return m.jobs },
		States:    func(repository.DBTX) repository.TranslationStateRepository { return m.states },
		Users:     func(repository.DBTX) repository.UserRepository { return m.users },
		Documents: func(repository.DBTX) repository.DocumentRepository { return m.docs },
		Imports:   func(repository.DBTX) repository.ImportRepository { return m.imports },
		Partners:  func(repository.DBTX) repository.PartnerRepository { return m.partners },
	}
}

// ctxWithRole возвращает контекст с сессией пользователя editor в роли role.
func ctxWithRole(role string) context.Context {
	return session.WithSession(context.Background(), &session.Session{
		Subject:  "editor",
		UserName: "editor",
		Role:     role,
	})
}
