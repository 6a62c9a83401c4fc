package cdrdoc

import (
	"fmt"
	"time"

	"github.com/beevik/etree"

	"github.com/bigkaa/cdrcore/internal/domain/model"
	"github.com/bigkaa/cdrcore/internal/domain/queryterm"
)

// DateLayout — формат дат в протоколах.
const DateLayout = "2006-01-02"

// ProtocolDoc — документ протокола CTGovProtocol или RSSProtocol.
type ProtocolDoc struct {
	doc     *etree.Document
	docType string
}

// rootFor возвращает корневой элемент документа для источника.
func rootFor(source model.ImportSource) (string, error) {
	switch source {
	case model.SourceCTGov:
		return model.DocTypeCTGovProtocol, nil
	case model.SourceRSS:
		return model.DocTypeRSSProtocol, nil
	default:
		return "", fmt.Errorf("источник %q не поставляет протоколы", source)
	}
}

// NewProtocol создаёт пустой документ протокола для источника.
func NewProtocol(source model.ImportSource) (*ProtocolDoc, error) {
	root, err := rootFor(source)
	if err != nil {
		return nil, err
	}
	return &ProtocolDoc{doc: newDoc(root), docType: root}, nil
}

// ParseProtocol разбирает существующий документ протокола.
func ParseProtocol(source model.ImportSource, xml string) (*ProtocolDoc, error) {
	root, err := rootFor(source)
	if err != nil {
		return nil, err
	}
	doc, err := parse(xml, root)
	if err != nil {
		return nil, err
	}
	return &ProtocolDoc{doc: doc, docType: root}, nil
}

// DocType — тип документа CDR.
func (p *ProtocolDoc) DocType() string {
	return p.docType
}

// Apply переносит в документ поля внешней записи. Элементы,
// не входящие в отображение (например, заметки редакторов CDR),
// сохраняются.
func (p *ProtocolDoc) Apply(ext model.ExternalProtocol) {
	root := p.doc.Root()
	lastMod := ""
	if !ext.LastModified.IsZero() {
		lastMod = ext.LastModified.UTC().Format(DateLayout)
	}

	switch p.docType {
	case model.DocTypeCTGovProtocol:
		ids := ensure(root, "IDInfo")
		setText(ids, "NCTID", ext.ExternalID)
		setText(ids, "OrgStudyID", ext.SecondaryID)
		setText(root, "BriefTitle", ext.Title)
		setText(root, "OfficialTitle", ext.OfficialTitle)
		setText(root, "Phase", ext.Phase)
		setText(root, "OverallStatus", ext.Status)
		if ext.Sponsor != "" {
			setText(ensure(root, "Sponsors"), "LeadSponsor", ext.Sponsor)
		}
		setText(root, "BriefSummary", ext.Summary)
	case model.DocTypeRSSProtocol:
		setText(root, "LeadOrgProtocolID", ext.ExternalID)
		setText(root, "ProtocolTitle", ext.Title)
		setText(root, "Status", ext.Status)
		if len(ext.Sites) > 0 {
			if old := root.SelectElement("Sites"); old != nil {
				root.RemoveChild(old)
			}
			sites := root.CreateElement("Sites")
			for _, s := range ext.Sites {
				el := sites.CreateElement("Site")
				el.CreateElement("SiteName").SetText(s.Name)
				setText(el, "SiteStatus", s.Status)
			}
		}
	}
	setText(root, "LastModified", lastMod)
}

// ExternalID — внешний идентификатор из документа.
func (p *ProtocolDoc) ExternalID() string {
	if p.docType == model.DocTypeCTGovProtocol {
		return text(p.doc.Root(), "IDInfo/NCTID")
	}
	return text(p.doc.Root(), "LeadOrgProtocolID")
}

// Title — заголовок документа.
func (p *ProtocolDoc) Title() string {
	var title string
	if p.docType == model.DocTypeCTGovProtocol {
		title = text(p.doc.Root(), "BriefTitle")
	} else {
		title = text(p.doc.Root(), "ProtocolTitle")
	}
	if title == "" {
		return p.ExternalID()
	}
	return title
}

// LastModified — дата изменения из документа (нулевое время, если нет).
func (p *ProtocolDoc) LastModified() time.Time {
	t, err := time.Parse(DateLayout, text(p.doc.Root(), "LastModified"))
	if err != nil {
		return time.Time{}
	}
	return t
}

// XML сериализует документ.
func (p *ProtocolDoc) XML() (string, error) {
	return serialize(p.doc)
}

// Terms — строки query_term протокола.
func (p *ProtocolDoc) Terms() []queryterm.Term {
	root := p.doc.Root()
	var terms []queryterm.Term
	if p.docType == model.DocTypeCTGovProtocol {
		terms = appendTerm(terms, queryterm.CTGovNCTID, nodeLoc(0, 0), text(root, "IDInfo/NCTID"), nil)
		terms = appendTerm(terms, queryterm.CTGovOrgStudyID, nodeLoc(0, 1), text(root, "IDInfo/OrgStudyID"), nil)
		terms = appendTerm(terms, queryterm.CTGovTitle, nodeLoc(1), text(root, "BriefTitle"), nil)
		return terms
	}
	terms = appendTerm(terms, queryterm.RSSLeadOrgID, nodeLoc(0), text(root, "LeadOrgProtocolID"), nil)
	terms = appendTerm(terms, queryterm.RSSTitle, nodeLoc(1), text(root, "ProtocolTitle"), nil)
	return terms
}

// MatchPath — путь query_term, по которому ищется документ
// с внешним идентификатором источника.
func MatchPath(source model.ImportSource) (queryterm.Path, error) {
	switch source {
	case model.SourceCTGov:
		return queryterm.CTGovNCTID, nil
	case model.SourceRSS:
		return queryterm.RSSLeadOrgID, nil
	default:
		return "", fmt.Errorf("источник %q не поставляет протоколы", source)
	}
}
