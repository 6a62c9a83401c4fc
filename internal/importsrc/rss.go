package importsrc

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bigkaa/cdrcore/internal/domain/model"
)

// RSS — лента обновлений протоколов lead-организаций.
//
// Формат элемента ленты (RSS 2.0 с расширением pdq:):
//
//	<item>
//	  <guid>LEAD-ORG-ID</guid>
//	  <title>Protocol title</title>
//	  <pubDate>Fri, 01 Mar 2024 10:00:00 +0000</pubDate>
//	  <pdq:status>Active</pdq:status>
//	  <pdq:site status="Active">Site name</pdq:site>
//	</item>
type RSS struct {
	feedURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRSS создаёт источник для ленты feedURL.
func NewRSS(feedURL string, timeout time.Duration, logger *slog.Logger) *RSS {
	return &RSS{
		feedURL:    feedURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "rss_source")),
	}
}

// Name реализует Source.
func (r *RSS) Name() model.ImportSource {
	return model.SourceRSS
}

type rssFeed struct {
	XMLName xml.Name  `xml:"rss"`
	Items   []rssItem `xml:"channel>item"`
}

type rssItem struct {
	GUID    string `xml:"guid"`
	Title   string `xml:"title"`
	PubDate string `xml:"pubDate"`
	Status  string `xml:"status"`
	Sites   []struct {
		Name   string `xml:",chardata"`
		Status string `xml:"status,attr"`
	} `xml:"site"`
}

// rssDateLayouts — форматы pubDate, встречающиеся в лентах.
var rssDateLayouts = []string{time.RFC1123Z, time.RFC1123, "2006-01-02"}

// Fetch загружает ленту целиком; ids не используются.
func (r *RSS) Fetch(ctx context.Context, _ []string) ([]model.ExternalProtocol, error) {
	body, err := httpGet(ctx, r.httpClient, r.feedURL, "application/rss+xml, application/xml")
	if err != nil {
		return nil, fmt.Errorf("запрос RSS-ленты: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%w: RSS-лента не разбирается: %v", ErrUnavailable, err)
	}

	result := make([]model.ExternalProtocol, 0, len(feed.Items))
	for _, item := range feed.Items {
		id := strings.TrimSpace(item.GUID)
		if id == "" {
			r.logger.Warn("Элемент ленты без guid пропущен", slog.String("title", item.Title))
			continue
		}
		p := model.ExternalProtocol{
			Source:     model.SourceRSS,
			ExternalID: id,
			Title:      strings.TrimSpace(item.Title),
			Status:     strings.TrimSpace(item.Status),
		}
		for _, s := range item.Sites {
			if name := strings.TrimSpace(s.Name); name != "" {
				p.Sites = append(p.Sites, model.ProtocolSite{Name: name, Status: s.Status})
			}
		}
		if item.PubDate != "" {
			t, err := parseRSSDate(item.PubDate)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, id, err)
			}
			p.LastModified = t
		}
		result = append(result, p)
	}

	r.logger.Info("Получена RSS-лента протоколов", slog.Int("items", len(result)))
	return result, nil
}

func parseRSSDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range rssDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("некорректная дата pubDate %q", s)
}
