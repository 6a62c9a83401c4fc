package importsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/cdrcore/internal/domain/model"
)

// ctgovPageSize — число идентификаторов в одном запросе filter.ids.
const ctgovPageSize = 100

// CTGov — клиент ClinicalTrials.gov API v2.
type CTGov struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCTGov создаёт клиент. baseURL — например, https://clinicaltrials.gov.
func NewCTGov(baseURL string, timeout time.Duration, logger *slog.Logger) *CTGov {
	return &CTGov{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "ctgov_source")),
	}
}

// Name реализует Source.
func (c *CTGov) Name() model.ImportSource {
	return model.SourceCTGov
}

type ctgovDate struct {
	Date string `json:"date"`
}

type ctgovStudy struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID          string `json:"nctId"`
			OrgStudyIDInfo struct {
				ID string `json:"id"`
			} `json:"orgStudyIdInfo"`
			BriefTitle    string `json:"briefTitle"`
			OfficialTitle string `json:"officialTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus            string    `json:"overallStatus"`
			LastUpdatePostDateStruct ctgovDate `json:"lastUpdatePostDateStruct"`
		} `json:"statusModule"`
		SponsorCollaboratorsModule struct {
			LeadSponsor struct {
				Name string `json:"name"`
			} `json:"leadSponsor"`
		} `json:"sponsorCollaboratorsModule"`
		DescriptionModule struct {
			BriefSummary string `json:"briefSummary"`
		} `json:"descriptionModule"`
		DesignModule struct {
			Phases []string `json:"phases"`
		} `json:"designModule"`
		ContactsLocationsModule struct {
			Locations []struct {
				Facility string `json:"facility"`
				Status   string `json:"status"`
			} `json:"locations"`
		} `json:"contactsLocationsModule"`
	} `json:"protocolSection"`
}

type ctgovPage struct {
	Studies       []ctgovStudy `json:"studies"`
	NextPageToken string       `json:"nextPageToken"`
}

// Fetch запрашивает исследования по NCT ID порциями по ctgovPageSize,
// проходя все страницы ответа.
func (c *CTGov) Fetch(ctx context.Context, ids []string) ([]model.ExternalProtocol, error) {
	var result []model.ExternalProtocol
	for start := 0; start < len(ids); start += ctgovPageSize {
		end := min(start+ctgovPageSize, len(ids))
		batch, err := c.fetchBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		result = append(result, batch...)
	}
	c.logger.Info("Получены исследования ClinicalTrials.gov",
		slog.Int("requested", len(ids)),
		slog.Int("received", len(result)),
	)
	return result, nil
}

func (c *CTGov) fetchBatch(ctx context.Context, ids []string) ([]model.ExternalProtocol, error) {
	var result []model.ExternalProtocol
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("filter.ids", strings.Join(ids, ","))
		q.Set("pageSize", fmt.Sprint(ctgovPageSize))
		q.Set("format", "json")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		body, err := httpGet(ctx, c.httpClient, c.baseURL+"/api/v2/studies?"+q.Encode(), "application/json")
		if err != nil {
			return nil, fmt.Errorf("запрос ClinicalTrials.gov: %w", err)
		}

		var page ctgovPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("%w: ответ ClinicalTrials.gov не разбирается: %v", ErrUnavailable, err)
		}
		for i := range page.Studies {
			p, err := convertStudy(&page.Studies[i])
			if err != nil {
				return nil, err
			}
			result = append(result, p)
		}
		if page.NextPageToken == "" {
			return result, nil
		}
		pageToken = page.NextPageToken
	}
}

func convertStudy(s *ctgovStudy) (model.ExternalProtocol, error) {
	ps := &s.ProtocolSection
	id := ps.IdentificationModule.NCTID
	if id == "" {
		return model.ExternalProtocol{}, fmt.Errorf("%w: исследование без nctId", ErrUnavailable)
	}

	p := model.ExternalProtocol{
		Source:        model.SourceCTGov,
		ExternalID:    id,
		SecondaryID:   ps.IdentificationModule.OrgStudyIDInfo.ID,
		Title:         ps.IdentificationModule.BriefTitle,
		OfficialTitle: ps.IdentificationModule.OfficialTitle,
		Phase:         strings.Join(ps.DesignModule.Phases, "/"),
		Status:        ps.StatusModule.OverallStatus,
		Sponsor:       ps.SponsorCollaboratorsModule.LeadSponsor.Name,
		Summary:       ps.DescriptionModule.BriefSummary,
	}
	for _, loc := range ps.ContactsLocationsModule.Locations {
		if loc.Facility != "" {
			p.Sites = append(p.Sites, model.ProtocolSite{Name: loc.Facility, Status: loc.Status})
		}
	}
	if d := ps.StatusModule.LastUpdatePostDateStruct.Date; d != "" {
		t, err := parseCTGovDate(d)
		if err != nil {
			return model.ExternalProtocol{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, id, err)
		}
		p.LastModified = t
	}
	return p, nil
}

// parseCTGovDate разбирает даты API v2: 2024-03-01 или 2024-03.
func parseCTGovDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("некорректная дата %q", s)
}
