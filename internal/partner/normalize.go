package partner

import (
	"fmt"
	"strings"
	"time"

	"github.com/bigkaa/cdrcore/internal/domain/model"
)

// Organization — организация после слияния дубликатов
// вместе с её контактами в порядке файла.
type Organization struct {
	// Product — имя продукта организации
	Product  string
	Org      model.PartnerOrg
	Contacts []model.PartnerContact
}

// Registry — нормализованный реестр, готовый к записи в БД.
type Registry struct {
	Products      []Product
	Organizations []*Organization
	Skipped       int
	Warnings      []string
}

// ContactCount возвращает общее число контактов.
func (r *Registry) ContactCount() int {
	n := 0
	for _, o := range r.Organizations {
		n += len(o.Contacts)
	}
	return n
}

var (
	validOrgStatus = map[string]bool{
		model.OrgStatusActive: true, model.OrgStatusTest: true, model.OrgStatusSuspended: true,
	}
	validContactType = map[string]bool{
		model.ContactPrimary: true, model.ContactSecondary: true,
		model.ContactInternal: true, model.ContactDeleted: true,
	}
)

// Normalize сводит записи файла к реестру каталога c.
//
// Искажённый продукт заменяется основным, контакт помечается удалённым.
// Организации сливаются по имени в нижнем регистре: дата активации
// берётся самая ранняя, даты окончания и продления — самые поздние.
// Первая встреченная запись задаёт имя, статус и FTP-логин организации.
func Normalize(records []Record, c Catalog) *Registry {
	reg := &Registry{Products: c.Products}
	byKey := map[string]*Organization{}

	skip := func(rec Record, format string, args ...any) {
		reg.Skipped++
		reg.Warnings = append(reg.Warnings, fmt.Sprintf("строка %d: ", rec.Line)+fmt.Sprintf(format, args...))
	}

	for _, rec := range records {
		productName := rec.Product
		contactType := rec.ContactType
		if c.IsBogus(productName) {
			productName = c.Production
			contactType = model.ContactDeleted
		}
		product, ok := c.Lookup(productName)
		if !ok {
			skip(rec, "продукт %q не загружается", rec.Product)
			continue
		}
		if !validOrgStatus[rec.OrgStatus] {
			skip(rec, "недопустимый статус организации %q", rec.OrgStatus)
			continue
		}
		if !validContactType[contactType] {
			skip(rec, "недопустимый тип контакта %q", rec.ContactType)
			continue
		}
		if rec.Terminated != nil && rec.Terminated.Before(rec.Activated) {
			skip(rec, "дата окончания %s раньше даты активации %s",
				rec.Terminated.Format(time.DateOnly), rec.Activated.Format(time.DateOnly))
			continue
		}

		key := strings.ToLower(rec.OrgName)
		org, exists := byKey[key]
		if !exists {
			org = &Organization{
				Product: product.Name,
				Org: model.PartnerOrg{
					Name:       rec.OrgName,
					Status:     rec.OrgStatus,
					Activated:  rec.Activated,
					Terminated: rec.Terminated,
					Renewal:    rec.Renewal,
				},
			}
			if rec.FTPUsername != "" {
				ftp := rec.FTPUsername
				org.Org.FTPUsername = &ftp
			}
			byKey[key] = org
			reg.Organizations = append(reg.Organizations, org)
		} else {
			mergeDates(&org.Org, rec)
		}

		org.Contacts = append(org.Contacts, model.PartnerContact{
			PersonName:  rec.PersonName,
			Email:       rec.Email,
			Phone:       rec.Phone,
			ContactType: contactType,
			NotifCount:  rec.NotifiedCount,
			NotifDate:   rec.NotifDate,
		})
	}
	return reg
}

// mergeDates расширяет интервал организации датами записи.
func mergeDates(o *model.PartnerOrg, rec Record) {
	if rec.Activated.Before(o.Activated) {
		o.Activated = rec.Activated
	}
	o.Terminated = later(o.Terminated, rec.Terminated)
	o.Renewal = later(o.Renewal, rec.Renewal)
}

// later возвращает более позднюю дату; nil означает отсутствие даты.
func later(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
