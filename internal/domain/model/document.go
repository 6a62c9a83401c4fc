package model

import "time"

// Типы документов CDR, с которыми работает ядро.
const (
	DocTypeTerm          = "Term"
	DocTypeCTGovProtocol = "CTGovProtocol"
	DocTypeRSSProtocol   = "RSSProtocol"
)

// User — учётная запись CDR (таблица usr).
type User struct {
	ID       int
	Name     string
	FullName string
}

// Document — текущая версия документа CDR.
type Document struct {
	ID      int
	DocType string
	Title   string
	XML     string
	// LastMod — время последнего сохранения
	LastMod time.Time
}

// DocVersion — сохранённая версия документа.
type DocVersion struct {
	DocID       int
	Num         int
	Comment     string
	Publishable bool
	UserID      int
	SavedAt     time.Time
}

// Checkout — блокировка документа пользователем.
type Checkout struct {
	DocID    int
	UserID   int
	UserName string
	DtOut    time.Time
}
