package model

import "time"

// TranslationJob — активное задание перевода.
// Хранится в таблице <family>_translation_job, ключ — doc_id.
type TranslationJob struct {
	// DocID — id переводимого документа CDR
	DocID int `json:"doc_id"`
	// DocTitle — заголовок документа (из document.title)
	DocTitle string `json:"doc_title"`
	// StateID — текущее состояние
	StateID   int    `json:"state_id"`
	StateName string `json:"state_name"`
	// StatePos — позиция состояния в справочнике
	StatePos int `json:"state_pos"`
	// AssigneeID — usr.id исполнителя
	AssigneeID   int    `json:"assigned_to"`
	AssigneeName string `json:"assignee_name"`
	// StateDate — время последнего изменения задания
	StateDate time.Time `json:"state_date"`
	Comments  *string   `json:"comments,omitempty"`
}

// JobHistoryEntry — строка истории задания, после вставки не изменяется.
type JobHistoryEntry struct {
	HistoryID int64 `json:"history_id"`
	TranslationJob
}

// TranslationState — значение справочника состояний.
type TranslationState struct {
	ID       int    `json:"value_id"`
	Name     string `json:"value_name"`
	Position int    `json:"value_pos"`
}

// Translator — пользователь из группы переводчиков семейства.
type Translator struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"fullname"`
}

// JobFilter — фильтры списков заданий и истории.
// Пустые срезы и nil-даты не ограничивают выборку.
type JobFilter struct {
	StateIDs    []int
	AssigneeIDs []int
	// From, To — полуинтервал [From, To) по state_date
	From *time.Time
	To   *time.Time
}
