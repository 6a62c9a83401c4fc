package thesaurus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bigkaa/cdrcore/internal/cdrdoc"
)

const (
	// evsSource — код источника NCI в ответах EVS.
	evsSource = "NCI"
	// DefinitionSource — имя источника определения в документах CDR.
	DefinitionSource = "NCI Thesaurus"
	// VocabularySource — код словаря для синонимов в документах CDR.
	VocabularySource = "NCI Thesaurus"

	semanticTypeProperty = "Semantic_Type"
)

// Имена полей в описаниях изменений.
const (
	FieldPreferredName = "PreferredName"
	FieldOtherName     = "OtherName"
	FieldDefinition    = "Definition"
	FieldSemanticType  = "SemanticType"
	FieldConceptCode   = "ConceptCode"
)

// Synonym — синоним концепта.
type Synonym struct {
	Name     string
	TermType string
	Source   string
}

// ConceptDefinition — определение концепта.
type ConceptDefinition struct {
	Text   string
	Type   string
	Source string
}

// Concept — концепт NCI Thesaurus.
type Concept struct {
	Code          string
	PreferredName string
	Synonyms      []Synonym
	Definitions   []ConceptDefinition
	SemanticTypes []string
}

// nciDefinition — первое определение источника NCI.
func (c *Concept) nciDefinition() (ConceptDefinition, bool) {
	for _, d := range c.Definitions {
		if strings.EqualFold(d.Source, evsSource) && strings.TrimSpace(d.Text) != "" {
			return d, true
		}
	}
	return ConceptDefinition{}, false
}

// otherNames — синонимы NCI без повторов и без основного названия.
func (c *Concept) otherNames() []Synonym {
	seen := map[string]bool{strings.ToLower(c.PreferredName): true}
	var result []Synonym
	for _, s := range c.Synonyms {
		name := strings.TrimSpace(s.Name)
		if name == "" || (s.Source != "" && !strings.EqualFold(s.Source, evsSource)) {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, Synonym{Name: name, TermType: s.TermType, Source: s.Source})
	}
	return result
}

// SemanticTypeResolver находит документ Term семантического типа по имени.
type SemanticTypeResolver interface {
	ResolveSemanticType(ctx context.Context, name string) (id int, found bool, err error)
}

// Result — итог сверки концепта с документом.
type Result struct {
	// Changes — по одной строке на изменённое поле, с префиксом имени поля
	Changes []string
	// Warnings — изменения, которые применить не удалось
	Warnings []string
}

// Reconcile применяет к документу изменения из концепта:
//   - основное название заменяется, если отличается (с учётом регистра);
//   - синонимы только добавляются, существующие сохраняются;
//   - определение источника NCI Thesaurus заменяется, если отличается,
//     определения других источников не трогаются;
//   - ссылки на семантические типы только добавляются.
//
// Пустой Changes означает, что документ не изменился.
func Reconcile(ctx context.Context, term *cdrdoc.TermDoc, c *Concept, resolver SemanticTypeResolver) (*Result, error) {
	res := &Result{}

	if old := term.PreferredName(); old != strings.TrimSpace(c.PreferredName) {
		term.SetPreferredName(c.PreferredName)
		res.Changes = append(res.Changes, fmt.Sprintf("%s: %q -> %q", FieldPreferredName, old, c.PreferredName))
	}

	var added []string
	for _, s := range c.otherNames() {
		if term.HasOtherName(s.Name) || strings.EqualFold(term.PreferredName(), s.Name) {
			continue
		}
		term.AddOtherName(s.Name, s.TermType, VocabularySource)
		added = append(added, fmt.Sprintf("%q", s.Name))
	}
	if len(added) > 0 {
		res.Changes = append(res.Changes, fmt.Sprintf("%s: added %s", FieldOtherName, strings.Join(added, ", ")))
	}

	if def, ok := c.nciDefinition(); ok {
		text := strings.TrimSpace(def.Text)
		old, exists := term.Definition(DefinitionSource)
		if !exists || old != text {
			term.SetDefinition(cdrdoc.Definition{Text: text, Type: cdrdoc.DefinitionTypeHP, Source: DefinitionSource})
			verb := "replaced"
			if !exists {
				verb = "added"
			}
			res.Changes = append(res.Changes, fmt.Sprintf("%s: %s %s definition", FieldDefinition, verb, DefinitionSource))
		}
	}

	var linked []string
	types := append([]string(nil), c.SemanticTypes...)
	sort.Strings(types)
	for _, name := range types {
		id, found, err := resolver.ResolveSemanticType(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("поиск семантического типа %q: %w", name, err)
		}
		if !found {
			res.Warnings = append(res.Warnings, fmt.Sprintf("семантический тип %q не найден в CDR", name))
			continue
		}
		if term.HasSemanticType(id) {
			continue
		}
		term.AddSemanticType(id, name)
		linked = append(linked, fmt.Sprintf("%q (%s)", name, cdrdoc.FormatID(id)))
	}
	if len(linked) > 0 {
		res.Changes = append(res.Changes, fmt.Sprintf("%s: added %s", FieldSemanticType, strings.Join(linked, ", ")))
	}

	if term.ConceptCode() == "" {
		term.SetConceptCode(c.Code)
		res.Changes = append(res.Changes, fmt.Sprintf("%s: set %s", FieldConceptCode, c.Code))
	}
	return res, nil
}

// NewTerm создаёт документ Term из концепта.
func NewTerm(ctx context.Context, c *Concept, resolver SemanticTypeResolver) (*cdrdoc.TermDoc, *Result, error) {
	term := cdrdoc.NewTerm(cdrdoc.TermTypeIndex)
	term.SetConceptCode(c.Code)
	res, err := Reconcile(ctx, term, c, resolver)
	if err != nil {
		return nil, nil, err
	}
	return term, res, nil
}
