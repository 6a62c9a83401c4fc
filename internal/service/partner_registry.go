package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/rbac"
	"github.com/bigkaa/cdrcore/internal/partner"
	"github.com/bigkaa/cdrcore/internal/repository"
)

// PartnerRegistryService загружает реестр партнёров PDQ из файла выгрузки.
// Загрузка полностью заменяет таблицы реестра в одной транзакции.
type PartnerRegistryService struct {
	tx      repository.Transactor
	repos   Repositories
	catalog partner.Catalog
	now     func() time.Time
	logger  *slog.Logger
}

// NewPartnerRegistryService создаёт сервис с каталогом продуктов catalog.
func NewPartnerRegistryService(tx repository.Transactor, repos Repositories, catalog partner.Catalog, logger *slog.Logger) *PartnerRegistryService {
	return &PartnerRegistryService{
		tx:      tx,
		repos:   repos,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "partner_registry")),
	}
}

// LoadRegistry разбирает файл, нормализует записи и пересоздаёт реестр.
// allowed ограничивает загружаемые продукты; пустой — все продукты каталога.
func (s *PartnerRegistryService) LoadRegistry(ctx context.Context, data []byte, allowed []string) (*model.RegistryCounts, error) {
	if _, err := authorize(ctx, rbac.ActionLoadPartners); err != nil {
		return nil, err
	}

	records, warnings, err := partner.ParseFile(data)
	if err != nil {
		return nil, classify(err)
	}
	catalog, err := s.catalog.Restrict(allowed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	reg := partner.Normalize(records, catalog)

	counts := &model.RegistryCounts{
		Products:      len(reg.Products),
		Organizations: len(reg.Organizations),
		Contacts:      reg.ContactCount(),
		Skipped:       len(warnings) + reg.Skipped,
		Warnings:      append(warnings, reg.Warnings...),
	}

	err = s.tx.RunInTx(ctx, func(tx repository.DBTX) error {
		repo := s.repos.Partners(tx)
		if err := repo.TryLock(ctx); err != nil {
			return classify(err)
		}
		if err := repo.Recreate(ctx); err != nil {
			return classify(err)
		}

		now := s.now()
		productIDs := make(map[string]int, len(reg.Products))
		for _, p := range reg.Products {
			row := &model.PartnerProduct{Name: p.Name, Description: p.Description}
			if err := repo.InsertProduct(ctx, row, now); err != nil {
				return classify(err)
			}
			productIDs[strings.ToLower(p.Name)] = row.ID
		}

		for _, o := range reg.Organizations {
			prodID, ok := productIDs[strings.ToLower(o.Product)]
			if !ok {
				return fmt.Errorf("%w: продукт %q организации %q отсутствует в каталоге", ErrInternal, o.Product, o.Org.Name)
			}
			org := o.Org
			org.ProductID = prodID
			if err := repo.InsertOrg(ctx, &org, now); err != nil {
				return classify(err)
			}
			for _, c := range o.Contacts {
				c.OrgID = org.ID
				if err := repo.InsertContact(ctx, &c, now); err != nil {
					return classify(err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	s.logger.Info("Реестр партнёров загружен",
		slog.Int("products", counts.Products),
		slog.Int("organizations", counts.Organizations),
		slog.Int("contacts", counts.Contacts),
		slog.Int("skipped", counts.Skipped),
	)
	return counts, nil
}
