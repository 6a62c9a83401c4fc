package model

import "time"

// ImportSource — внешний источник терминологии или протоколов.
type ImportSource string

const (
	SourceThesaurus ImportSource = "NCI Thesaurus"
	SourceCTGov     ImportSource = "ctgov"
	SourceRSS       ImportSource = "rss"
)

// Статусы записи маппинга.
const (
	ImportStatusPending  = "pending"
	ImportStatusImported = "imported"
	ImportStatusLocked   = "locked"
	ImportStatusSkipped  = "skipped"
)

// Статусы пакетного задания импорта.
const (
	JobStatusInProgress = "In progress"
	JobStatusSuccess    = "Success"
	JobStatusFailure    = "Failure"
)

// ImportRecord — маппинг внешнего идентификатора на документ CDR.
// (source, external_id) уникальны; CDRDocID == nil — импорт ожидается.
type ImportRecord struct {
	Source         ImportSource `json:"source"`
	ExternalID     string       `json:"external_id"`
	CDRDocID       *int         `json:"cdr_doc_id,omitempty"`
	LastImportDate *time.Time   `json:"last_import_date,omitempty"`
	Status         string       `json:"status"`
}

// ImportJob — запуск пакетного импорта.
type ImportJob struct {
	ID         int          `json:"id"`
	Source     ImportSource `json:"source"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Status     string       `json:"status"`
}

// ImportEvent — итог сверки одного документа в рамках задания.
type ImportEvent struct {
	JobID      int          `json:"job_id"`
	DocID      *int         `json:"doc_id,omitempty"`
	Source     ImportSource `json:"source"`
	ExternalID string       `json:"external_id"`
	Locked     bool         `json:"locked"`
	New        bool         `json:"new"`
	PubVersion bool         `json:"pub_version"`
	Warning    string       `json:"warning,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Outcome — итог обработки одного внешнего документа.
type Outcome string

const (
	OutcomeNew      Outcome = "new"
	OutcomeUpdated  Outcome = "updated"
	OutcomeLocked   Outcome = "locked"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeError    Outcome = "error"
	OutcomeNoChange Outcome = "unchanged"
)

// DocumentOutcome — строка отчёта пакетного импорта.
type DocumentOutcome struct {
	ExternalID string  `json:"external_id"`
	DocID      *int    `json:"doc_id,omitempty"`
	Outcome    Outcome `json:"outcome"`
	PubVersion bool    `json:"pub_version"`
	Message    string  `json:"message,omitempty"`
}

// ProtocolSite — участвующий центр протокола.
type ProtocolSite struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// ExternalProtocol — запись протокола из внешнего источника,
// приведённая к общему виду для CTGov и RSS.
type ExternalProtocol struct {
	Source ImportSource `json:"source"`
	// ExternalID — NCT ID для CTGov, lead-org ID для RSS
	ExternalID string `json:"external_id"`
	// SecondaryID — OrgStudyID для CTGov
	SecondaryID   string         `json:"secondary_id,omitempty"`
	Title         string         `json:"title"`
	OfficialTitle string         `json:"official_title,omitempty"`
	Phase         string         `json:"phase,omitempty"`
	Status        string         `json:"status,omitempty"`
	Sponsor       string         `json:"sponsor,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	Sites         []ProtocolSite `json:"sites,omitempty"`
	// LastModified — дата последнего изменения во внешней системе
	LastModified time.Time `json:"last_modified"`
}
