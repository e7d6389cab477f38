package rules

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

const invoiceText = `INVOICE
Invoice #: INV-2024-001
Date: 2024-01-15
Bill To: Jane Smith
Acme Widgets Inc
123 Main Street, Springfield, IL 62704
Phone: (555) 123-4567
Email: billing@acme-widgets.com
Total Due: $1,234.56
`

func newTestEngine() *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractFields_Email(t *testing.T) {
	e := newTestEngine()

	res, err := e.ExtractFields(context.Background(), "Contact John at john.doe@example.com", []string{"email"})
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	best, ok := res["email"].Best()
	if !ok {
		t.Fatal("expected an email candidate")
	}
	if best.Value != "john.doe@example.com" {
		t.Errorf("value = %q, want john.doe@example.com", best.Value)
	}
	if best.Confidence <= 0 {
		t.Errorf("confidence = %v, want > 0", best.Confidence)
	}
	if best.Position == nil || *best.Position != 16 {
		t.Errorf("position = %v, want 16", best.Position)
	}
	if !strings.Contains(best.Context, "john.doe@example.com") {
		t.Errorf("context %q does not contain the value", best.Context)
	}
	if best.Source != models.SourceRules {
		t.Errorf("source = %q, want rules", best.Source)
	}
}

func TestExtractFields_InvalidEmails(t *testing.T) {
	e := newTestEngine()

	res, err := e.ExtractFields(context.Background(), "Invalid emails: @domain.com, user@", []string{"email"})
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	fr, ok := res["email"]
	if !ok {
		t.Fatal("requested field missing from result")
	}
	if len(fr.Candidates) != 0 {
		t.Errorf("got %d candidates, want 0: %+v", len(fr.Candidates), fr.Candidates)
	}
}

func TestExtractFields_Invoice(t *testing.T) {
	e := newTestEngine()

	res, err := e.ExtractFields(context.Background(), invoiceText, nil)
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}

	want := map[string]string{
		models.FieldEmail:          "billing@acme-widgets.com",
		models.FieldPhone:          "5551234567",
		models.FieldName:           "Jane Smith",
		models.FieldCompany:        "Acme Widgets Inc",
		models.FieldAmount:         "1234.56",
		models.FieldDate:           "2024-01-15",
		models.FieldAddress:        "123 Main Street, Springfield, IL 62704",
		models.FieldDocumentNumber: "INV-2024-001",
	}
	for field, value := range want {
		t.Run(field, func(t *testing.T) {
			best, ok := res[field].Best()
			if !ok {
				t.Fatalf("no candidates for %s", field)
			}
			if best.Value != value {
				t.Errorf("%s = %q, want %q", field, best.Value, value)
			}
		})
	}
}

func TestExtractFields_ResultInvariants(t *testing.T) {
	e := newTestEngine()
	text := invoiceText + "\nAlt contact: BILLING@ACME-WIDGETS.COM, sales@acme-widgets.com\nCall 555.123.4567 or +44 20 7946 0958"

	res, err := e.ExtractFields(context.Background(), text, nil)
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	for field, fr := range res {
		if len(fr.Candidates) > MaxCandidates {
			t.Errorf("%s: %d candidates, max %d", field, len(fr.Candidates), MaxCandidates)
		}
		seen := map[string]bool{}
		for i, c := range fr.Candidates {
			if c.Confidence < 0 || c.Confidence > 1 {
				t.Errorf("%s: confidence %v out of range", field, c.Confidence)
			}
			if i > 0 && c.Confidence > fr.Candidates[i-1].Confidence {
				t.Errorf("%s: candidates not sorted at %d", field, i)
			}
			key := strings.ToLower(c.Value)
			if seen[key] {
				t.Errorf("%s: duplicate value %q", field, c.Value)
			}
			seen[key] = true
		}
	}

	if n := len(res[models.FieldEmail].Candidates); n != 2 {
		t.Errorf("email candidates = %d, want 2 after dedupe", n)
	}
}

func TestExtractFields_Deterministic(t *testing.T) {
	e := newTestEngine()

	first, err := e.ExtractFields(context.Background(), invoiceText, nil)
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.ExtractFields(context.Background(), invoiceText, nil)
		if err != nil {
			t.Fatalf("ExtractFields: %v", err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
}

func TestExtractFields_UnknownField(t *testing.T) {
	e := newTestEngine()

	_, err := e.ExtractFields(context.Background(), "text", []string{"email", "shoeSize"})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("err = %v, want ErrUnknownField", err)
	}
}

func TestExtractFields_CanceledContext(t *testing.T) {
	e := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.ExtractFields(ctx, invoiceText, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestAddCustomRule(t *testing.T) {
	e := newTestEngine()
	before := e.Health()

	rule := PatternRule{
		Name:     "rnc",
		Patterns: []*regexp.Regexp{regexp.MustCompile(`RNC[:\s]*(\d{9})`)},
		Priority: 1,
	}
	if err := e.AddCustomRule("taxId", rule); err != nil {
		t.Fatalf("AddCustomRule: %v", err)
	}
	// same field and name replaces
	if err := e.AddCustomRule("taxId", rule); err != nil {
		t.Fatalf("AddCustomRule: %v", err)
	}

	h := e.Health()
	if h.TotalRules != before.TotalRules+1 || h.CustomRules != 1 {
		t.Errorf("Health = %+v, want one more rule and one custom", h)
	}
	if !e.HasField("taxId") {
		t.Error("taxId should be requestable")
	}

	res, err := e.ExtractFields(context.Background(), "Emisor RNC: 101234567", []string{"taxId"})
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	best, ok := res["taxId"].Best()
	if !ok || best.Value != "101234567" {
		t.Errorf("taxId = %+v, want 101234567", best)
	}
	if best.Confidence <= BaseConfidence {
		t.Errorf("confidence = %v, want above base", best.Confidence)
	}
}

func TestAddCustomRule_Invalid(t *testing.T) {
	e := newTestEngine()
	tests := []struct {
		name  string
		field string
		rule  PatternRule
	}{
		{"empty field", "", PatternRule{Name: "x", Patterns: compile(`x`)}},
		{"empty name", "f", PatternRule{Patterns: compile(`x`)}},
		{"no patterns", "f", PatternRule{Name: "x"}},
		{"nil pattern", "f", PatternRule{Name: "x", Patterns: []*regexp.Regexp{nil}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.AddCustomRule(tt.field, tt.rule); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("err = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestValidatorPanicIsRejection(t *testing.T) {
	e := newTestEngine()
	rule := PatternRule{
		Name:       "boom",
		Patterns:   compile(`code-(\d+)`),
		Validators: []Validator{func(string) error { panic("bad validator") }},
	}
	if err := e.AddCustomRule("code", rule); err != nil {
		t.Fatalf("AddCustomRule: %v", err)
	}

	res, err := e.ExtractFields(context.Background(), "code-42", []string{"code"})
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if n := len(res["code"].Candidates); n != 0 {
		t.Errorf("got %d candidates from a panicking validator, want 0", n)
	}
}

func TestScore(t *testing.T) {
	short := regexp.MustCompile(`abc`)
	long := regexp.MustCompile(strings.Repeat("a", 300))

	tests := []struct {
		name     string
		pattern  *regexp.Regexp
		priority int
		keyword  bool
		want     float64
	}{
		{"lowest priority", short, 3, false, 0.515},
		{"priority and keyword", short, 1, true, 0.765},
		{"priority beyond max", short, 10, false, 0.515},
		{"complexity capped", long, 3, false, 0.7},
		{"everything", long, 0, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.pattern, tt.priority, tt.keyword)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasKeyword(t *testing.T) {
	tests := []struct {
		window   string
		keywords []string
		want     bool
	}{
		{"Date: ", []string{"date"}, true},
		{"Boston  arrived", []string{"date", "on"}, false},
		{"paid on  via wire", []string{"on"}, true},
		{"hotel ", []string{"tel", "phone"}, false},
		{"Tel. ", []string{"tel"}, true},
		{"send E-Mail to ", []string{"e-mail"}, true},
		{"mailing list ", []string{"mail"}, false},
		{"LLC-registered ", []string{"llc"}, true},
		{"", []string{"date"}, false},
		{"anything", []string{""}, false},
	}
	for _, tt := range tests {
		t.Run(tt.window, func(t *testing.T) {
			if got := hasKeyword(tt.window, tt.keywords); got != tt.want {
				t.Errorf("hasKeyword(%q, %v) = %v, want %v", tt.window, tt.keywords, got, tt.want)
			}
		})
	}
}

func TestExtractFields_KeywordNeedsWholeWord(t *testing.T) {
	e := newTestEngine()
	confidence := func(t *testing.T, text, field string) float64 {
		t.Helper()
		res, err := e.ExtractFields(context.Background(), text, []string{field})
		if err != nil {
			t.Fatalf("ExtractFields(%q): %v", text, err)
		}
		best, ok := res[field].Best()
		if !ok {
			t.Fatalf("no %s found in %q", field, text)
		}
		return best.Confidence
	}

	tests := []struct {
		field           string
		plain, embedded string // embedded hides a keyword inside another word
		labeled         string
	}{
		{models.FieldDate, "Shipment 2024-03-15 arrived", "Boston 2024-03-15 arrived", "Dated 2024-03-15 arrived"},
		{models.FieldPhone, "Room 555-123-4567", "hotel 555-123-4567", "call 555-123-4567"},
		{models.FieldPhone, "Room 555-123-4567", "recall 555-123-4567", "call 555-123-4567"},
	}
	for _, tt := range tests {
		t.Run(tt.embedded, func(t *testing.T) {
			plain := confidence(t, tt.plain, tt.field)
			embedded := confidence(t, tt.embedded, tt.field)
			labeled := confidence(t, tt.labeled, tt.field)
			if math.Abs(embedded-plain) > 1e-9 {
				t.Errorf("confidence(%q) = %v, want %v", tt.embedded, embedded, plain)
			}
			if math.Abs(labeled-plain-KeywordBonus) > 1e-9 {
				t.Errorf("confidence(%q) = %v, want %v", tt.labeled, labeled, plain+KeywordBonus)
			}
		})
	}
}

func TestRank(t *testing.T) {
	cands := []models.Candidate{
		{Value: "A@x.com", Confidence: 0.6},
		{Value: "b@x.com", Confidence: 0.7},
		{Value: "a@x.com", Confidence: 0.9},
		{Value: "c@x.com", Confidence: 0.7},
	}
	got := Rank(models.FieldEmail, cands, 2)
	want := []models.Candidate{
		{Value: "a@x.com", Confidence: 0.9},
		{Value: "b@x.com", Confidence: 0.7},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rank mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeStats(t *testing.T) {
	results := map[string]models.FieldResult{
		"email": {Candidates: []models.Candidate{{Value: "a@x.com", Confidence: 0.8}}},
		"phone": {Candidates: []models.Candidate{{Value: "5551234567", Confidence: 0.6}}},
		"name":  {},
		"date":  {},
	}
	s := ComputeStats(results)
	if s.TotalFields != 4 || s.ExtractedFields != 2 {
		t.Errorf("Stats = %+v", s)
	}
	if math.Abs(s.ExtractionRate-0.5) > 1e-9 || math.Abs(s.AverageConfidence-0.7) > 1e-9 {
		t.Errorf("rate/avg = %v/%v, want 0.5/0.7", s.ExtractionRate, s.AverageConfidence)
	}
	if empty := ComputeStats(nil); empty.ExtractionRate != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-01-15", "2024-01-15", true},
		{"01/15/2024", "2024-01-15", true},
		{"January 15th, 2024", "2024-01-15", true},
		{"15 Jan 2024", "2024-01-15", true},
		{"Sept. 3, 2024", "2024-09-03", true},
		{"2024-13-45", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got.Format("2006-01-02") != tt.want {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestParseDefinition(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"field":"taxId","name":"rnc","patterns":["RNC\\s*(\\d{9})"],"validators":["digits"],"priority":1}`, false},
		{"missing patterns", `{"field":"taxId","name":"rnc"}`, true},
		{"empty patterns", `{"field":"taxId","name":"rnc","patterns":[]}`, true},
		{"unknown property", `{"field":"taxId","name":"rnc","patterns":["x"],"weight":3}`, true},
		{"bad field name", `{"field":"9tax","name":"rnc","patterns":["x"]}`, true},
		{"priority out of range", `{"field":"taxId","name":"rnc","patterns":["x"],"priority":0}`, true},
		{"not json", `field: taxId`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.body))
			if tt.wantErr && !errors.Is(err, ErrInvalidRule) {
				t.Errorf("err = %v, want ErrInvalidRule", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAddDefinition_CompileErrors(t *testing.T) {
	e := newTestEngine()

	err := e.AddDefinition(RuleDefinition{Field: "f", Name: "n", Patterns: []string{"("}})
	if !errors.Is(err, ErrInvalidRule) {
		t.Errorf("bad regexp: err = %v, want ErrInvalidRule", err)
	}
	err = e.AddDefinition(RuleDefinition{Field: "f", Name: "n", Patterns: []string{"x"}, Validators: []string{"luhn"}})
	if !errors.Is(err, ErrInvalidRule) {
		t.Errorf("unknown validator: err = %v, want ErrInvalidRule", err)
	}
	if e.HasField("f") {
		t.Error("failed definitions must not register a field")
	}
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	yamlDoc := `rules:
  - field: taxId
    name: rnc
    patterns:
      - 'RNC[:\s]*(\d{9})'
    validators: [digits]
    priority: 1
  - field: email
    name: email_obfuscated
    patterns:
      - '([a-z0-9.]+ at [a-z0-9-]+ dot com)'
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine()
	n, err := e.LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded %d rules, want 2", n)
	}
	if e.Health().CustomRules != 2 {
		t.Errorf("CustomRules = %d, want 2", e.Health().CustomRules)
	}

	found := false
	for _, d := range e.Definitions() {
		if d.Field == "taxId" && d.Name == "rnc" {
			found = true
		}
	}
	if !found {
		t.Error("Definitions() should list the loaded rule")
	}

	if _, err := e.LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFields(t *testing.T) {
	e := newTestEngine()
	want := []string{"address", "amount", "company", "date", "documentNumber", "email", "name", "phone"}
	if diff := cmp.Diff(want, e.Fields()); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		field, in, want string
	}{
		{models.FieldEmail, "  John.Doe@Example.COM ", "john.doe@example.com"},
		{models.FieldPhone, "+1 (555) 123-4567", "15551234567"},
		{models.FieldAmount, "$ 1,234.56", "1234.56"},
		{models.FieldAmount, "€99", "99"},
		{models.FieldDocumentNumber, " inv-001.", "INV-001"},
		{"custom", "  spaced   out  ", "spaced out"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.field, tt.in); got != tt.want {
			t.Errorf("Normalize(%s, %q) = %q, want %q", tt.field, tt.in, got, tt.want)
		}
	}
}
