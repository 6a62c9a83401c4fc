package cdrdoc

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/bigkaa/cdrcore/internal/domain/model"
)

// requiredElements — обязательные элементы публикуемой версии по типу документа.
var requiredElements = map[string][]string{
	model.DocTypeTerm:          {"PreferredName", "TermType/TermTypeName"},
	model.DocTypeCTGovProtocol: {"IDInfo/NCTID", "BriefTitle", "OverallStatus"},
	model.DocTypeRSSProtocol:   {"LeadOrgProtocolID", "ProtocolTitle", "Status"},
}

// Validate проверяет документ: XML разбирается, корень соответствует типу,
// обязательные элементы заполнены. Ошибки обязательных элементов
// возвращаются списком: документ сохраняется, но непубликуемой версией.
// Ошибка разбора XML возвращается как error.
func Validate(docType, xml string) ([]string, error) {
	required, ok := requiredElements[docType]
	if !ok {
		return nil, fmt.Errorf("неизвестный тип документа %q", docType)
	}
	doc, err := parse(xml, docType)
	if err != nil {
		return nil, err
	}

	var problems []string
	for _, path := range required {
		if text(doc.Root(), path) == "" {
			problems = append(problems, fmt.Sprintf("не заполнен обязательный элемент %s", path))
		}
	}
	problems = append(problems, checkRefs(doc.Root())...)
	return problems, nil
}

// checkRefs проверяет формат атрибутов cdr:ref во всём документе.
func checkRefs(root *etree.Element) []string {
	var problems []string
	if attr := root.SelectAttr("cdr:ref"); attr != nil {
		if _, err := ParseID(attr.Value); err != nil {
			problems = append(problems, fmt.Sprintf("некорректная ссылка cdr:ref=%q в %s", attr.Value, root.Tag))
		}
	}
	for _, child := range root.ChildElements() {
		problems = append(problems, checkRefs(child)...)
	}
	return problems
}

// Publishable — результат проверки документа для сохранения версии.
func Publishable(docType, xml string) (bool, string, error) {
	problems, err := Validate(docType, xml)
	if err != nil {
		return false, "", err
	}
	return len(problems) == 0, strings.Join(problems, "; "), nil
}
