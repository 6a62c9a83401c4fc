// Пакет translation — семейства документов очередей перевода.
//
// Каждое семейство (summary, media, glossary) имеет собственные таблицы
// активных заданий, истории и справочник состояний с одинаковой схемой.
// Переходы между состояниями не ограничиваются графом: оператор может
// перевести задание из любого состояния в любое. Выделено только
// терминальное состояние, задания в котором удаляет purge.
package translation

import (
	"fmt"
	"strings"
)

// TerminalState — имя терминального состояния во всех семействах.
const TerminalState = "Translation Made Publishable"

// Family — семейство переводимых документов.
type Family string

const (
	FamilySummary  Family = "summary"
	FamilyMedia    Family = "media"
	FamilyGlossary Family = "glossary"
)

// Families — все семейства в порядке отображения.
var Families = []Family{FamilySummary, FamilyMedia, FamilyGlossary}

// translatorGroups — группа CDR, членство в которой даёт право
// получать задания семейства.
var translatorGroups = map[Family]string{
	FamilySummary:  "Spanish Summary Translators",
	FamilyMedia:    "Spanish Media Translators",
	FamilyGlossary: "Spanish Glossary Translators",
}

// ParseFamily разбирает имя семейства (регистр не важен).
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := translatorGroups[f]; !ok {
		return "", fmt.Errorf("неизвестное семейство документов %q, допустимые: summary, media, glossary", s)
	}
	return f, nil
}

// Valid проверяет, что семейство известно.
func (f Family) Valid() bool {
	_, ok := translatorGroups[f]
	return ok
}

// JobTable — таблица активных заданий.
// Имена таблиц строятся только из констант семейств, поэтому
// их подстановка в SQL безопасна.
func (f Family) JobTable() string {
	return string(f) + "_translation_job"
}

// HistoryTable — таблица истории заданий (только добавление).
func (f Family) HistoryTable() string {
	return string(f) + "_translation_job_history"
}

// StateTable — справочник состояний семейства.
func (f Family) StateTable() string {
	return string(f) + "_translation_state"
}

// TranslatorGroup — группа переводчиков семейства.
func (f Family) TranslatorGroup() string {
	return translatorGroups[f]
}

// SortColumn — колонка сортировки истории.
type SortColumn string

const (
	SortByStateDate SortColumn = "state_date"
	SortByState     SortColumn = "state"
	SortByAssignee  SortColumn = "assignee"
	SortByDocID     SortColumn = "doc_id"
)

// ParseSortColumn разбирает колонку сортировки; пустая строка — state_date.
func ParseSortColumn(s string) (SortColumn, error) {
	switch SortColumn(strings.ToLower(s)) {
	case "", SortByStateDate:
		return SortByStateDate, nil
	case SortByState:
		return SortByState, nil
	case SortByAssignee:
		return SortByAssignee, nil
	case SortByDocID:
		return SortByDocID, nil
	default:
		return "", fmt.Errorf("недопустимая колонка сортировки %q, допустимые: state_date, state, assignee, doc_id", s)
	}
}
