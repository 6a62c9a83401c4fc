// Пакет queryterm — закрытый словарь путей индекса query_term.
//
// Индекс query_term — предвычисленная проекция XML-документов
// (doc_id, path, node_loc, value, int_val). Пути задаются схемами документов,
// поэтому словарь фиксирован в коде; произвольные пути во время выполнения
// не принимаются.
package queryterm

import "fmt"

// Path — путь элемента в XML-документе CDR.
type Path string

const (
	// Term (термины NCI Thesaurus)
	TermPreferredName Path = "/Term/PreferredName"
	TermOtherName     Path = "/Term/OtherName/OtherTermName"
	TermConceptCode   Path = "/Term/NCIThesaurusConcept"
	TermTypeName      Path = "/Term/TermType/TermTypeName"
	TermSemanticType  Path = "/Term/SemanticType/@cdr:ref"

	// Протоколы CTGov
	CTGovNCTID      Path = "/CTGovProtocol/IDInfo/NCTID"
	CTGovOrgStudyID Path = "/CTGovProtocol/IDInfo/OrgStudyID"
	CTGovTitle      Path = "/CTGovProtocol/BriefTitle"

	// Протоколы RSS
	RSSLeadOrgID Path = "/RSSProtocol/LeadOrgProtocolID"
	RSSTitle     Path = "/RSSProtocol/ProtocolTitle"
)

var known = map[Path]bool{
	TermPreferredName: true,
	TermOtherName:     true,
	TermConceptCode:   true,
	TermTypeName:      true,
	TermSemanticType:  true,
	CTGovNCTID:        true,
	CTGovOrgStudyID:   true,
	CTGovTitle:        true,
	RSSLeadOrgID:      true,
	RSSTitle:          true,
}

// Valid проверяет, что путь входит в словарь.
func (p Path) Valid() bool {
	return known[p]
}

// Parse возвращает путь словаря или ошибку для неизвестного пути.
func Parse(s string) (Path, error) {
	p := Path(s)
	if !p.Valid() {
		return "", fmt.Errorf("неизвестный путь query_term %q", s)
	}
	return p, nil
}

// Term — одна строка индекса для документа.
type Term struct {
	Path Path
	// NodeLoc — позиция узла в документе (порядковый номер для повторяющихся элементов).
	NodeLoc string
	Value   string
	// IntVal — числовое значение (например, id документа из cdr:ref), если есть.
	IntVal *int
}
