package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/cdrcore/internal/domain/model"
)

// partnerLoadLockKey — ключ advisory-блокировки загрузки реестра партнёров.
const partnerLoadLockKey int64 = 0x43445250 // "CDRP"

// partnerDDL пересоздаёт таблицы реестра; совпадает с миграцией 000004.
var partnerDDL = []string{
	`DROP TABLE IF EXISTS data_partner_contact`,
	`DROP TABLE IF EXISTS data_partner_org`,
	`DROP TABLE IF EXISTS data_partner_product`,
	`CREATE TABLE data_partner_product (
		prod_id     SERIAL PRIMARY KEY,
		prod_name   VARCHAR(64)  NOT NULL UNIQUE,
		prod_desc   TEXT,
		inactivated DATE,
		last_mod    TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE TABLE data_partner_org (
		org_id       SERIAL PRIMARY KEY,
		org_name     VARCHAR(255) NOT NULL UNIQUE,
		prod_id      INTEGER      NOT NULL REFERENCES data_partner_product (prod_id),
		org_status   CHAR(1)      NOT NULL CHECK (org_status IN ('A', 'T', 'S')),
		activated    DATE         NOT NULL,
		terminated   DATE,
		renewal      DATE,
		ftp_username VARCHAR(64),
		last_mod     TIMESTAMPTZ  NOT NULL,
		CHECK (terminated IS NULL OR terminated >= activated)
	)`,
	`CREATE TABLE data_partner_contact (
		contact_id   SERIAL PRIMARY KEY,
		org_id       INTEGER      NOT NULL REFERENCES data_partner_org (org_id),
		person_name  VARCHAR(255) NOT NULL,
		email_addr   VARCHAR(255) NOT NULL,
		phone        VARCHAR(64),
		contact_type CHAR(1)      NOT NULL CHECK (contact_type IN ('P', 'S', 'I', 'D')),
		notif_count  INTEGER      NOT NULL DEFAULT 0,
		notif_date   DATE,
		last_mod     TIMESTAMPTZ  NOT NULL
	)`,
}

// PartnerRepository — таблицы реестра партнёров PDQ.
// Методы рассчитаны на вызов внутри одной транзакции загрузки.
type PartnerRepository interface {
	// TryLock захватывает транзакционную advisory-блокировку загрузки.
	// Если блокировку держит другая загрузка — ErrConflict.
	TryLock(ctx context.Context) error
	// Recreate удаляет и создаёт заново таблицы реестра.
	Recreate(ctx context.Context) error
	InsertProduct(ctx context.Context, p *model.PartnerProduct, at time.Time) error
	InsertOrg(ctx context.Context, o *model.PartnerOrg, at time.Time) error
	InsertContact(ctx context.Context, c *model.PartnerContact, at time.Time) error
	// ListOrgs возвращает организации в порядке имени.
	ListOrgs(ctx context.Context) ([]*model.PartnerOrg, error)
	// CountContacts возвращает число контактов.
	CountContacts(ctx context.Context) (int, error)
}

type partnerRepo struct {
	db DBTX
}

// NewPartnerRepository создаёт репозиторий реестра партнёров.
func NewPartnerRepository(db DBTX) PartnerRepository {
	return &partnerRepo{db: db}
}

func (r *partnerRepo) TryLock(ctx context.Context) error {
	var ok bool
	if err := r.db.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, partnerLoadLockKey).Scan(&ok); err != nil {
		return fmt.Errorf("ошибка захвата блокировки реестра: %w", classify(err))
	}
	if !ok {
		return fmt.Errorf("%w: реестр партнёров загружается другим процессом", ErrConflict)
	}
	return nil
}

func (r *partnerRepo) Recreate(ctx context.Context) error {
	for _, stmt := range partnerDDL {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка пересоздания таблиц реестра: %w", classify(err))
		}
	}
	return nil
}

func (r *partnerRepo) InsertProduct(ctx context.Context, p *model.PartnerProduct, at time.Time) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO data_partner_product (prod_name, prod_desc, inactivated, last_mod)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		RETURNING prod_id`,
		p.Name, p.Description, p.Inactivated, at).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: продукт %q", ErrConflict, p.Name)
		}
		return fmt.Errorf("ошибка записи продукта: %w", classify(err))
	}
	return nil
}

func (r *partnerRepo) InsertOrg(ctx context.Context, o *model.PartnerOrg, at time.Time) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO data_partner_org
			(org_name, prod_id, org_status, activated, terminated, renewal, ftp_username, last_mod)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING org_id`,
		o.Name, o.ProductID, o.Status, o.Activated, o.Terminated, o.Renewal, o.FTPUsername, at).Scan(&o.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: организация %q", ErrConflict, o.Name)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: продукт %d", ErrNotFound, o.ProductID)
		}
		return fmt.Errorf("ошибка записи организации: %w", classify(err))
	}
	return nil
}

func (r *partnerRepo) InsertContact(ctx context.Context, c *model.PartnerContact, at time.Time) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO data_partner_contact
			(org_id, person_name, email_addr, phone, contact_type, notif_count, notif_date, last_mod)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
		RETURNING contact_id`,
		c.OrgID, c.PersonName, c.Email, c.Phone, c.ContactType, c.NotifCount, c.NotifDate, at).Scan(&c.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: организация %d", ErrNotFound, c.OrgID)
		}
		return fmt.Errorf("ошибка записи контакта: %w", classify(err))
	}
	return nil
}

func (r *partnerRepo) ListOrgs(ctx context.Context) ([]*model.PartnerOrg, error) {
	rows, err := r.db.Query(ctx, `
		SELECT org_id, org_name, prod_id, org_status, activated, terminated, renewal, ftp_username
		FROM data_partner_org
		ORDER BY org_name`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения организаций: %w", classify(err))
	}
	defer rows.Close()

	var result []*model.PartnerOrg
	for rows.Next() {
		o := &model.PartnerOrg{}
		if err := rows.Scan(&o.ID, &o.Name, &o.ProductID, &o.Status,
			&o.Activated, &o.Terminated, &o.Renewal, &o.FTPUsername); err != nil {
			return nil, fmt.Errorf("ошибка сканирования организации: %w", err)
		}
		result = append(result, o)
	}
	return result, classifyRows(rows.Err())
}

func (r *partnerRepo) CountContacts(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM data_partner_contact`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта контактов: %w", classify(err))
	}
	return n, nil
}
