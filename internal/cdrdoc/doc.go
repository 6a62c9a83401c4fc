// Пакет cdrdoc — разбор и правка XML-документов CDR (Term, CTGovProtocol,
// RSSProtocol) поверх DOM github.com/beevik/etree.
//
// Правки выполняются точечно: элементы, которые пакет не знает,
// сохраняются без изменений.
package cdrdoc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Namespace — пространство имён атрибутов cdr:*.
const Namespace = "cips.nci.nih.gov/cdr"

// ErrInvalid — документ не разбирается как XML ожидаемого типа.
var ErrInvalid = errors.New("некорректный XML документа")

// FormatID форматирует id документа в виде CDR0000012345.
func FormatID(id int) string {
	return fmt.Sprintf("CDR%010d", id)
}

// ParseID разбирает id документа: CDR0000012345, CDR12345 или 12345.
func ParseID(s string) (int, error) {
	s = strings.TrimSpace(s)
	digits := strings.TrimPrefix(strings.ToUpper(s), "CDR")
	if i := strings.IndexByte(digits, '#'); i >= 0 {
		digits = digits[:i]
	}
	id, err := strconv.Atoi(digits)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("некорректный id документа %q", s)
	}
	return id, nil
}

// parse читает документ и проверяет имя корневого элемента.
func parse(xml, root string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: нет корневого элемента", ErrInvalid)
	}
	if doc.Root().Tag != root {
		return nil, fmt.Errorf("%w: корневой элемент %q, ожидался %q", ErrInvalid, doc.Root().Tag, root)
	}
	return doc, nil
}

// newDoc создаёт пустой документ с корнем root и объявлением cdr:.
func newDoc(root string) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	el := doc.CreateElement(root)
	el.CreateAttr("xmlns:cdr", Namespace)
	return doc
}

// serialize записывает документ с отступами.
func serialize(doc *etree.Document) (string, error) {
	doc.Indent(2)
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации документа: %w", err)
	}
	return s, nil
}

// text возвращает текст дочернего элемента по пути или "".
func text(el *etree.Element, path string) string {
	if c := el.FindElement(path); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

// ensure возвращает дочерний элемент tag, создавая его при отсутствии.
func ensure(el *etree.Element, tag string) *etree.Element {
	if c := el.SelectElement(tag); c != nil {
		return c
	}
	return el.CreateElement(tag)
}

// setText устанавливает текст дочернего элемента tag.
// Пустое значение удаляет элемент.
func setText(el *etree.Element, tag, value string) {
	if value == "" {
		if c := el.SelectElement(tag); c != nil {
			el.RemoveChild(c)
		}
		return
	}
	ensure(el, tag).SetText(value)
}

// nodeLoc — позиция узла для query_term: четыре цифры на уровень.
func nodeLoc(indexes ...int) string {
	var b strings.Builder
	for _, i := range indexes {
		fmt.Fprintf(&b, "%04X", i)
	}
	return b.String()
}
