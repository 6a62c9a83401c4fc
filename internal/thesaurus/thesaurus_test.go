package thesaurus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/cdrcore/internal/cdrdoc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const aspirinJSON = `{
  "code": "C287",
  "name": "Aspirin",
  "terminology": "ncit",
  "synonyms": [
    {"name": "Aspirin", "termType": "PT", "type": "FULL_SYN", "source": "NCI"},
    {"name": "ASA", "termType": "AB", "type": "FULL_SYN", "source": "NCI"},
    {"name": "acetylsalicylic acid", "termType": "SY", "type": "FULL_SYN", "source": "NCI"},
    {"name": "Acetylsalicylic Acid", "termType": "SY", "type": "FULL_SYN", "source": "NCI"},
    {"name": "ASPIRIN", "termType": "SY", "type": "FULL_SYN", "source": "FDA"}
  ],
  "definitions": [
    {"definition": "An orally administered salicylate.", "type": "DEFINITION", "source": "NCI"},
    {"definition": "A drug.", "type": "ALT_DEFINITION", "source": "NCI-GLOSS"}
  ],
  "properties": [
    {"type": "Semantic_Type", "value": "Pharmacologic Substance"},
    {"type": "Semantic_Type", "value": "Organic Chemical"},
    {"type": "Contributing_Source", "value": "FDA"}
  ]
}`

func TestClient_FetchConcept(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/concept/ncit/C287":
			if r.URL.Query().Get("include") != "full" {
				t.Errorf("include = %q, хотели full", r.URL.Query().Get("include"))
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(aspirinJSON))
		case "/api/v1/concept/ncit/C404":
			w.WriteHeader(http.StatusNotFound)
		case "/api/v1/concept/ncit/C500":
			http.Error(w, "upstream broke", http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte("{not json"))
		}
	}))
	t.Cleanup(server.Close)

	client := New(server.URL+"/", 5*time.Second, testLogger())
	ctx := context.Background()

	c, err := client.FetchConcept(ctx, "C287")
	if err != nil {
		t.Fatalf("FetchConcept() ошибка: %v", err)
	}
	if c.Code != "C287" || c.PreferredName != "Aspirin" {
		t.Errorf("Concept = %+v", c)
	}
	if len(c.Synonyms) != 5 || len(c.Definitions) != 2 {
		t.Errorf("Synonyms = %d, Definitions = %d", len(c.Synonyms), len(c.Definitions))
	}
	if len(c.SemanticTypes) != 2 || c.SemanticTypes[0] != "Pharmacologic Substance" {
		t.Errorf("SemanticTypes = %v", c.SemanticTypes)
	}

	if _, err := client.FetchConcept(ctx, "C404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchConcept(C404) = %v, хотели ErrNotFound", err)
	}
	_, err = client.FetchConcept(ctx, "C500")
	if !errors.Is(err, ErrUnavailable) || !strings.Contains(err.Error(), "upstream broke") {
		t.Errorf("FetchConcept(C500) = %v, хотели ErrUnavailable с телом ответа", err)
	}
	if _, err := client.FetchConcept(ctx, "CBAD"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("FetchConcept(CBAD) = %v, хотели ErrUnavailable", err)
	}
	if _, err := client.FetchConcept(ctx, " "); !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchConcept(пусто) = %v, хотели ErrNotFound", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := New(url, time.Second, testLogger()).FetchConcept(context.Background(), "C287")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("FetchConcept() = %v, хотели ErrUnavailable", err)
	}
}

// mockResolver — резолвер семантических типов по карте имён.
type mockResolver struct {
	ids   map[string]int
	err   error
	calls int
}

func (m *mockResolver) ResolveSemanticType(_ context.Context, name string) (int, bool, error) {
	m.calls++
	if m.err != nil {
		return 0, false, m.err
	}
	id, ok := m.ids[name]
	return id, ok, nil
}

const cdrAspirin = `<Term xmlns:cdr="cips.nci.nih.gov/cdr">
  <PreferredName>aspirin</PreferredName>
  <OtherName><OtherTermName>ASA</OtherTermName><OtherNameType>Synonym</OtherNameType></OtherName>
  <OtherName><OtherTermName>Ecotrin</OtherTermName><OtherNameType>Brand name</OtherNameType></OtherName>
  <Definition>
    <DefinitionText>An orally administered salicylate.</DefinitionText>
    <DefinitionSource><DefinitionSourceName>NCI Thesaurus</DefinitionSourceName></DefinitionSource>
  </Definition>
  <Definition>
    <DefinitionText>Patient-friendly text.</DefinitionText>
    <DefinitionSource><DefinitionSourceName>PDQ</DefinitionSourceName></DefinitionSource>
  </Definition>
  <TermType><TermTypeName>Index term</TermTypeName></TermType>
  <SemanticType cdr:ref="CDR0000000300">Pharmacologic Substance</SemanticType>
  <NCIThesaurusConcept Public="Yes">C287</NCIThesaurusConcept>
</Term>`

func aspirinConcept() *Concept {
	return &Concept{
		Code:          "C287",
		PreferredName: "Aspirin",
		Synonyms: []Synonym{
			{Name: "Aspirin", TermType: "PT", Source: "NCI"},
			{Name: "ASA", TermType: "AB", Source: "NCI"},
		},
		Definitions:   []ConceptDefinition{{Text: "An orally administered salicylate.", Source: "NCI"}},
		SemanticTypes: []string{"Pharmacologic Substance"},
	}
}

func TestReconcile_PreferredNameOnly(t *testing.T) {
	term, err := cdrdoc.ParseTerm(cdrAspirin)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Reconcile(context.Background(), term, aspirinConcept(), &mockResolver{ids: map[string]int{"Pharmacologic Substance": 300}})
	if err != nil {
		t.Fatalf("Reconcile() ошибка: %v", err)
	}
	if len(res.Changes) != 1 || !strings.HasPrefix(res.Changes[0], FieldPreferredName) {
		t.Fatalf("Changes = %v, хотели одну запись PreferredName", res.Changes)
	}
	if term.PreferredName() != "Aspirin" {
		t.Errorf("PreferredName() = %q", term.PreferredName())
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	term, _ := cdrdoc.ParseTerm(cdrAspirin)
	resolver := &mockResolver{ids: map[string]int{"Pharmacologic Substance": 300, "Organic Chemical": 301}}
	concept := aspirinConcept()
	concept.Synonyms = append(concept.Synonyms, Synonym{Name: "acetylsalicylic acid", TermType: "SY", Source: "NCI"})
	concept.SemanticTypes = append(concept.SemanticTypes, "Organic Chemical")
	concept.Definitions[0].Text = "A revised definition.  "

	first, err := Reconcile(context.Background(), term, concept, resolver)
	if err != nil {
		t.Fatalf("Reconcile() ошибка: %v", err)
	}
	fields := map[string]bool{}
	for _, c := range first.Changes {
		fields[strings.SplitN(c, ":", 2)[0]] = true
	}
	for _, f := range []string{FieldPreferredName, FieldOtherName, FieldDefinition, FieldSemanticType} {
		if !fields[f] {
			t.Errorf("нет изменения %s в %v", f, first.Changes)
		}
	}

	// Повтор через сериализацию: изменений нет
	xml, _ := term.XML()
	again, _ := cdrdoc.ParseTerm(xml)
	second, err := Reconcile(context.Background(), again, concept, resolver)
	if err != nil {
		t.Fatalf("повторный Reconcile() ошибка: %v", err)
	}
	if len(second.Changes) != 0 {
		t.Errorf("повторный Reconcile() = %v, хотели пусто", second.Changes)
	}
}

func TestReconcile_AdditiveAndMatchSource(t *testing.T) {
	term, _ := cdrdoc.ParseTerm(cdrAspirin)
	concept := aspirinConcept()
	concept.Synonyms = nil // внешний источник убрал синонимы
	concept.Definitions = []ConceptDefinition{
		{Text: "New NCI text.", Source: "NCI"},
		{Text: "Glossary text.", Source: "NCI-GLOSS"},
	}

	res, err := Reconcile(context.Background(), term, concept, &mockResolver{ids: map[string]int{"Pharmacologic Substance": 300}})
	if err != nil {
		t.Fatalf("Reconcile() ошибка: %v", err)
	}
	if names := term.OtherNames(); len(names) != 2 {
		t.Errorf("синонимы удалены: %v", names)
	}
	if d, _ := term.Definition("PDQ"); d != "Patient-friendly text." {
		t.Errorf("определение PDQ изменено: %q", d)
	}
	if d, _ := term.Definition(DefinitionSource); d != "New NCI text." {
		t.Errorf("определение NCI = %q", d)
	}
	if len(res.Changes) != 2 {
		t.Errorf("Changes = %v, хотели PreferredName и Definition", res.Changes)
	}
}

func TestReconcile_SemanticTypeWarningsAndErrors(t *testing.T) {
	term, _ := cdrdoc.ParseTerm(cdrAspirin)
	concept := aspirinConcept()
	concept.PreferredName = "aspirin"
	concept.SemanticTypes = []string{"Unknown Type"}

	res, err := Reconcile(context.Background(), term, concept, &mockResolver{})
	if err != nil {
		t.Fatalf("Reconcile() ошибка: %v", err)
	}
	if len(res.Changes) != 0 || len(res.Warnings) != 1 {
		t.Errorf("Changes = %v, Warnings = %v", res.Changes, res.Warnings)
	}

	boom := errors.New("db down")
	if _, err := Reconcile(context.Background(), term, concept, &mockResolver{err: boom}); !errors.Is(err, boom) {
		t.Errorf("Reconcile() = %v, хотели ошибку резолвера", err)
	}
}

func TestReconcile_LinksConceptCode(t *testing.T) {
	unlinked := strings.Replace(cdrAspirin, `<NCIThesaurusConcept Public="Yes">C287</NCIThesaurusConcept>`, "", 1)
	term, err := cdrdoc.ParseTerm(unlinked)
	if err != nil {
		t.Fatal(err)
	}
	concept := aspirinConcept()
	concept.PreferredName = "aspirin"
	concept.SemanticTypes = nil

	res, err := Reconcile(context.Background(), term, concept, &mockResolver{})
	if err != nil {
		t.Fatalf("Reconcile() ошибка: %v", err)
	}
	if len(res.Changes) != 1 || res.Changes[0] != "ConceptCode: set C287" {
		t.Errorf("Changes = %v, хотели одну запись ConceptCode", res.Changes)
	}
	if term.ConceptCode() != "C287" {
		t.Errorf("ConceptCode() = %q", term.ConceptCode())
	}
}

func TestNewTerm(t *testing.T) {
	concept := aspirinConcept()
	term, res, err := NewTerm(context.Background(), concept, &mockResolver{ids: map[string]int{"Pharmacologic Substance": 300}})
	if err != nil {
		t.Fatalf("NewTerm() ошибка: %v", err)
	}
	if term.ConceptCode() != "C287" || term.PreferredName() != "Aspirin" {
		t.Errorf("ConceptCode() = %q, PreferredName() = %q", term.ConceptCode(), term.PreferredName())
	}
	if names := term.OtherNames(); len(names) != 1 || names[0] != "ASA" {
		t.Errorf("OtherNames() = %v (основное название не должно дублироваться)", names)
	}
	if len(res.Changes) != 4 {
		t.Errorf("Changes = %v", res.Changes)
	}
	xml, _ := term.XML()
	if problems, err := cdrdoc.Validate("Term", xml); err != nil || len(problems) != 0 {
		t.Errorf("Validate() = %v, %v", problems, err)
	}
}
