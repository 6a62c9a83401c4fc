package cdrdoc

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/bigkaa/cdrcore/internal/domain/queryterm"
)

// Значения элементов термина, которые выставляет импорт.
const (
	ReviewUnreviewed   = "Unreviewed"
	TermTypeIndex      = "Index term"
	TermTypeSemantic   = "Semantic type"
	OtherNameSynonym   = "Synonym"
	DefinitionTypeHP   = "Health professional"
	ConceptPublicValue = "Yes"
)

// Definition — определение термина с указанием источника.
type Definition struct {
	Text   string
	Type   string
	Source string
}

// TermDoc — документ Term.
type TermDoc struct {
	doc *etree.Document
}

// ParseTerm разбирает XML документа Term.
func ParseTerm(xml string) (*TermDoc, error) {
	doc, err := parse(xml, "Term")
	if err != nil {
		return nil, err
	}
	return &TermDoc{doc: doc}, nil
}

// NewTerm создаёт пустой термин указанного типа.
func NewTerm(termType string) *TermDoc {
	t := &TermDoc{doc: newDoc("Term")}
	if termType != "" {
		t.root().CreateElement("TermType").CreateElement("TermTypeName").SetText(termType)
	}
	return t
}

func (t *TermDoc) root() *etree.Element {
	return t.doc.Root()
}

// PreferredName — основное название.
func (t *TermDoc) PreferredName() string {
	return text(t.root(), "PreferredName")
}

// SetPreferredName заменяет основное название.
// Новый элемент вставляется первым дочерним элементом.
func (t *TermDoc) SetPreferredName(name string) {
	if el := t.root().SelectElement("PreferredName"); el != nil {
		el.SetText(name)
		return
	}
	el := etree.NewElement("PreferredName")
	el.SetText(name)
	t.root().InsertChildAt(0, el)
}

// OtherNames — все OtherTermName в порядке документа.
func (t *TermDoc) OtherNames() []string {
	var names []string
	for _, el := range t.root().SelectElements("OtherName") {
		if n := text(el, "OtherTermName"); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// HasOtherName проверяет наличие имени без учёта регистра.
func (t *TermDoc) HasOtherName(name string) bool {
	for _, n := range t.OtherNames() {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// AddOtherName добавляет синоним с указанием словаря-источника.
func (t *TermDoc) AddOtherName(name, sourceTermType, source string) {
	el := etree.NewElement("OtherName")
	el.CreateElement("OtherTermName").SetText(name)
	el.CreateElement("OtherNameType").SetText(OtherNameSynonym)
	if source != "" {
		vs := el.CreateElement("SourceInformation").CreateElement("VocabularySource")
		vs.CreateElement("SourceCode").SetText(source)
		if sourceTermType != "" {
			vs.CreateElement("SourceTermType").SetText(sourceTermType)
		}
	}
	el.CreateElement("ReviewStatus").SetText(ReviewUnreviewed)
	t.insertAfterLast(el, "OtherName", "PreferredName")
}

// Definitions — все определения.
func (t *TermDoc) Definitions() []Definition {
	var defs []Definition
	for _, el := range t.root().SelectElements("Definition") {
		defs = append(defs, Definition{
			Text:   text(el, "DefinitionText"),
			Type:   text(el, "DefinitionType"),
			Source: text(el, "DefinitionSource/DefinitionSourceName"),
		})
	}
	return defs
}

// Definition возвращает текст определения из источника source.
func (t *TermDoc) Definition(source string) (string, bool) {
	for _, d := range t.Definitions() {
		if strings.EqualFold(d.Source, source) {
			return d.Text, true
		}
	}
	return "", false
}

// SetDefinition заменяет определение источника d.Source или добавляет
// новое; определения других источников не меняются.
func (t *TermDoc) SetDefinition(d Definition) {
	for _, el := range t.root().SelectElements("Definition") {
		if strings.EqualFold(text(el, "DefinitionSource/DefinitionSourceName"), d.Source) {
			ensure(el, "DefinitionText").SetText(d.Text)
			setText(el, "ReviewStatus", ReviewUnreviewed)
			return
		}
	}
	el := etree.NewElement("Definition")
	el.CreateElement("DefinitionText").SetText(d.Text)
	if d.Type != "" {
		el.CreateElement("DefinitionType").SetText(d.Type)
	}
	el.CreateElement("DefinitionSource").CreateElement("DefinitionSourceName").SetText(d.Source)
	el.CreateElement("ReviewStatus").SetText(ReviewUnreviewed)
	t.insertAfterLast(el, "Definition", "OtherName", "PreferredName")
}

// TermType — тип термина.
func (t *TermDoc) TermType() string {
	return text(t.root(), "TermType/TermTypeName")
}

// SemanticTypeRefs — cdr:ref ссылок на термины семантических типов.
func (t *TermDoc) SemanticTypeRefs() []string {
	var refs []string
	for _, el := range t.root().SelectElements("SemanticType") {
		if ref := el.SelectAttrValue("cdr:ref", ""); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// HasSemanticType проверяет наличие ссылки на документ id.
func (t *TermDoc) HasSemanticType(id int) bool {
	for _, ref := range t.SemanticTypeRefs() {
		if got, err := ParseID(ref); err == nil && got == id {
			return true
		}
	}
	return false
}

// AddSemanticType добавляет ссылку на термин семантического типа.
func (t *TermDoc) AddSemanticType(id int, name string) {
	el := etree.NewElement("SemanticType")
	el.CreateAttr("cdr:ref", FormatID(id))
	el.SetText(name)
	t.insertAfterLast(el, "SemanticType", "TermType", "Definition", "OtherName", "PreferredName")
}

// ConceptCode — код концепта NCI Thesaurus.
func (t *TermDoc) ConceptCode() string {
	return text(t.root(), "NCIThesaurusConcept")
}

// SetConceptCode записывает код концепта.
func (t *TermDoc) SetConceptCode(code string) {
	el := ensure(t.root(), "NCIThesaurusConcept")
	el.SetText(code)
	if el.SelectAttr("Public") == nil {
		el.CreateAttr("Public", ConceptPublicValue)
	}
}

// XML сериализует документ.
func (t *TermDoc) XML() (string, error) {
	return serialize(t.doc)
}

// Title — заголовок документа для таблицы document.
func (t *TermDoc) Title() string {
	if name := t.PreferredName(); name != "" {
		return name
	}
	return "Untitled term"
}

// Terms — строки query_term документа.
func (t *TermDoc) Terms() []queryterm.Term {
	var terms []queryterm.Term
	for i, el := range t.root().ChildElements() {
		switch el.Tag {
		case "PreferredName":
			terms = appendTerm(terms, queryterm.TermPreferredName, nodeLoc(i), el.Text(), nil)
		case "OtherName":
			terms = appendTerm(terms, queryterm.TermOtherName, nodeLoc(i), text(el, "OtherTermName"), nil)
		case "TermType":
			terms = appendTerm(terms, queryterm.TermTypeName, nodeLoc(i), text(el, "TermTypeName"), nil)
		case "SemanticType":
			ref := el.SelectAttrValue("cdr:ref", "")
			var intVal *int
			if id, err := ParseID(ref); err == nil {
				intVal = &id
			}
			terms = appendTerm(terms, queryterm.TermSemanticType, nodeLoc(i), ref, intVal)
		case "NCIThesaurusConcept":
			terms = appendTerm(terms, queryterm.TermConceptCode, nodeLoc(i), el.Text(), nil)
		}
	}
	return terms
}

func appendTerm(terms []queryterm.Term, path queryterm.Path, loc, value string, intVal *int) []queryterm.Term {
	value = strings.TrimSpace(value)
	if value == "" {
		return terms
	}
	return append(terms, queryterm.Term{Path: path, NodeLoc: loc, Value: value, IntVal: intVal})
}

// insertAfterLast вставляет el после последнего дочернего элемента
// с первым найденным тегом из after; если ни одного нет — в конец.
func (t *TermDoc) insertAfterLast(el *etree.Element, after ...string) {
	root := t.root()
	for _, tag := range after {
		siblings := root.SelectElements(tag)
		if len(siblings) == 0 {
			continue
		}
		last := siblings[len(siblings)-1]
		root.InsertChildAt(last.Index()+1, el)
		return
	}
	root.AddChild(el)
}
