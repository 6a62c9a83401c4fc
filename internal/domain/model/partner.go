package model

import "time"

// Статусы организации-партнёра.
const (
	OrgStatusActive    = "A"
	OrgStatusTest      = "T"
	OrgStatusSuspended = "S"
)

// Типы контактов.
const (
	ContactPrimary   = "P"
	ContactSecondary = "S"
	ContactInternal  = "I"
	ContactDeleted   = "D"
)

// PartnerProduct — продукт PDQ (таблица data_partner_product).
type PartnerProduct struct {
	ID          int
	Name        string
	Description string
	Inactivated *time.Time
}

// PartnerOrg — организация-партнёр (таблица data_partner_org).
// Ключ слияния — имя в нижнем регистре.
type PartnerOrg struct {
	ID          int
	Name        string
	ProductID   int
	Status      string
	Activated   time.Time
	Terminated  *time.Time
	Renewal     *time.Time
	FTPUsername *string
}

// PartnerContact — контактное лицо организации (таблица data_partner_contact).
type PartnerContact struct {
	ID          int
	OrgID       int
	PersonName  string
	Email       string
	Phone       string
	ContactType string
	NotifCount  int
	NotifDate   *time.Time
}

// RegistryCounts — итог загрузки реестра партнёров.
type RegistryCounts struct {
	Products      int      `json:"products"`
	Organizations int      `json:"organizations"`
	Contacts      int      `json:"contacts"`
	Skipped       int      `json:"skipped"`
	Warnings      []string `json:"warnings,omitempty"`
}
