package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hadesus/analyzerforCP/internal/docx"
	"github.com/hadesus/analyzerforCP/internal/literature"
	"github.com/hadesus/analyzerforCP/internal/llm"
	"github.com/hadesus/analyzerforCP/internal/model"
	"github.com/hadesus/analyzerforCP/internal/normalizer"
	"github.com/hadesus/analyzerforCP/internal/regulatory"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeNormalizer struct {
	inn    *string
	panics bool
	calls  int32
}

func (f *fakeNormalizer) Normalize(_ context.Context, _ string) model.NormalizationResult {
	atomic.AddInt32(&f.calls, 1)
	if f.panics {
		panic("normalizer exploded")
	}
	if f.inn == nil {
		return model.Unresolved()
	}
	return model.NormalizationResult{INN: f.inn, Source: model.SourceTerminology, Confidence: model.ConfidenceHigh}
}

type fakeRegulatory struct {
	panics  bool
	calls   int32
	subject regulatory.Subject
	mu      sync.Mutex
}

func (f *fakeRegulatory) CheckAll(_ context.Context, s regulatory.Subject) model.RegulatoryReport {
	atomic.AddInt32(&f.calls, 1)
	if f.panics {
		panic("regulatory exploded")
	}
	f.mu.Lock()
	f.subject = s
	f.mu.Unlock()
	checks := map[model.Regulator]model.RegulatoryStatus{}
	for _, r := range model.Regulators {
		checks[r] = model.RegulatoryStatus{Status: model.StatusApproved}
	}
	return model.RegulatoryReport{Checks: checks, DosageCheck: model.DosageComparison{Result: model.DosageWithinRange, Evaluated: true}}
}

type fakeLiterature struct {
	panics bool
	calls  int32
	query  literature.Query
	mu     sync.Mutex
}

func (f *fakeLiterature) Search(_ context.Context, q literature.Query) []model.LiteratureRecord {
	atomic.AddInt32(&f.calls, 1)
	if f.panics {
		panic("literature exploded")
	}
	f.mu.Lock()
	f.query = q
	f.mu.Unlock()
	return []model.LiteratureRecord{{PMID: "1", Title: "Aspirin for headache"}, {PMID: "2", Title: "Aspirin RCT"}}
}

type fakeSynthesizer struct {
	grade   model.Grade
	calls   int32
	dossier model.DrugDossier
	mu      sync.Mutex
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, d model.DrugDossier) model.EvidenceAssessment {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.dossier = d
	f.mu.Unlock()
	return model.EvidenceAssessment{Grade: f.grade, Justification: "Multiple RCTs.", ClinicianNote: "Подходит."}
}

type fakeExtractor struct {
	mentions   []model.DrugMention
	drugsErr   error
	summaryErr error
	calls      int32
}

func (f *fakeExtractor) Summarize(_ context.Context, _ string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return "Протокол лечения головной боли.", nil
}

func (f *fakeExtractor) ExtractDrugs(_ context.Context, _ string) ([]model.DrugMention, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.mentions, f.drugsErr
}

func (f *fakeExtractor) PlaceholderSummary() string { return "placeholder summary" }

type countingLLM struct{ calls int32 }

func (c *countingLLM) Generate(context.Context, string, llm.Options) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	return "", errors.New("unexpected call")
}

func (c *countingLLM) ModelName() string { return "counting" }

type harness struct {
	norm  *fakeNormalizer
	reg   *fakeRegulatory
	lit   *fakeLiterature
	synth *fakeSynthesizer
	ext   *fakeExtractor
	drug  *DrugPipeline
	doc   *DocumentPipeline
}

func newHarness(mentions ...model.DrugMention) *harness {
	h := &harness{
		norm:  &fakeNormalizer{inn: model.StringPtr("Acetylsalicylic acid")},
		reg:   &fakeRegulatory{},
		lit:   &fakeLiterature{},
		synth: &fakeSynthesizer{grade: model.GradeHigh},
		ext:   &fakeExtractor{mentions: mentions},
	}
	h.drug = NewDrugPipeline(h.norm, h.reg, h.lit, h.synth, nil)
	h.doc = NewDocumentPipeline(h.ext, h.drug, nil)
	return h
}

const scenarioText = "Aspirin 100mg daily for headache"

func aspirin() model.DrugMention {
	return model.DrugMention{SourceName: "Aspirin", DosageText: "100mg daily", RouteText: "oral", IndicationContext: "headache"}
}

func TestScenarioCompleteAnalysis(t *testing.T) {
	h := newHarness(aspirin())

	res, err := h.doc.Analyze(context.Background(), scenarioText)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}
	a := res.Results[0]
	if a.Normalization.INNValue() != "Acetylsalicylic acid" || a.Normalization.Confidence != model.ConfidenceHigh {
		t.Fatalf("unexpected normalization %+v", a.Normalization)
	}
	if len(a.Checks) != 4 {
		t.Fatalf("expected 4 regulatory checks, got %d", len(a.Checks))
	}
	for r, st := range a.Checks {
		if st.Status != model.StatusApproved {
			t.Fatalf("%s: expected Approved, got %s", r, st.Status)
		}
	}
	if len(a.Literature) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(a.Literature))
	}
	if a.Evidence.Grade != model.GradeHigh {
		t.Fatalf("expected High grade, got %s", a.Evidence.Grade)
	}
	if len(a.Degradations) != 0 || res.Stats.Degradations != 0 {
		t.Fatalf("expected no degradations, got %+v", a.Degradations)
	}
	if res.DocumentSummary != "Протокол лечения головной боли." || res.Message != "" || res.Error != "" {
		t.Fatalf("unexpected document fields %+v", res)
	}
	if res.ID == "" || res.Stats.DrugsExtracted != 1 || res.Stats.DrugsAnalyzed != 1 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	if h.reg.subject.INN != "Acetylsalicylic acid" || h.reg.subject.SourceDosage != "100mg daily" {
		t.Fatalf("unexpected regulatory subject %+v", h.reg.subject)
	}
	if h.lit.query.Brand != "Aspirin" || h.lit.query.Context != "headache" || h.lit.query.MaxResults != literature.DefaultMaxResults {
		t.Fatalf("unexpected literature query %+v", h.lit.query)
	}
	if len(h.synth.dossier.Literature) != 2 || len(h.synth.dossier.Checks) != 4 {
		t.Fatalf("synthesizer did not receive gathered data: %+v", h.synth.dossier)
	}
}

func TestScenarioEmptyNameIsDropped(t *testing.T) {
	h := newHarness(model.DrugMention{SourceName: "  ", DosageText: "100mg"})

	res, err := h.doc.Analyze(context.Background(), scenarioText)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Results) != 0 {
		t.Fatalf("expected the mention to be dropped, got %+v", res.Results)
	}
	if res.Stats.DrugsExtracted != 1 || res.Stats.DrugsDropped != 1 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	if h.norm.calls != 0 || h.reg.calls != 0 || h.lit.calls != 0 {
		t.Fatalf("no collaborator should be called, got %d/%d/%d", h.norm.calls, h.reg.calls, h.lit.calls)
	}
}

func TestScenarioUnresolvedINN(t *testing.T) {
	h := newHarness(aspirin())
	h.norm.inn = model.StringPtr("")

	res, err := h.doc.Analyze(context.Background(), scenarioText)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}
	a := res.Results[0]
	if a.Normalization.Confidence != model.ConfidenceNone || a.Normalization.INN != nil {
		t.Fatalf("unexpected normalization %+v", a.Normalization)
	}
	if a.Checks == nil || len(a.Checks) != 0 {
		t.Fatalf("expected empty regulatory checks, got %+v", a.Checks)
	}
	if a.Literature == nil || len(a.Literature) != 0 {
		t.Fatalf("expected empty article list, got %#v", a.Literature)
	}
	if a.Evidence.Grade != model.GradeUnknown || a.Evidence.Justification == "" {
		t.Fatalf("unexpected evidence %+v", a.Evidence)
	}
	if h.reg.calls != 0 || h.lit.calls != 0 || h.synth.calls != 0 {
		t.Fatalf("expected no enrichment calls, got reg=%d lit=%d synth=%d", h.reg.calls, h.lit.calls, h.synth.calls)
	}
}

func TestSentinelNameShortCircuitsWithoutCalls(t *testing.T) {
	terminologyCalls := int32(0)
	caller := &countingLLM{}
	norm := normalizer.New(resolverFunc(func(context.Context, string) (string, error) {
		atomic.AddInt32(&terminologyCalls, 1)
		return "", errors.New("unexpected")
	}), caller, nil)
	reg, lit, synth := &fakeRegulatory{}, &fakeLiterature{}, &fakeSynthesizer{grade: model.GradeHigh}
	p := NewDrugPipeline(norm, reg, lit, synth, nil, WithLanguage("English"))

	for _, name := range []string{"unknown", "Не определен", "N/A"} {
		a, ok := p.Run(context.Background(), model.DrugMention{SourceName: name}, "")
		if !ok {
			t.Fatalf("%q: sentinel names are analysed as partial results", name)
		}
		if a.Evidence.Grade != model.GradeUnknown || a.Evidence.ClinicianNote != "Manual review of the drug name is required." {
			t.Fatalf("%q: unexpected evidence %+v", name, a.Evidence)
		}
	}
	if terminologyCalls != 0 || caller.calls != 0 || reg.calls != 0 || lit.calls != 0 || synth.calls != 0 {
		t.Fatalf("expected zero calls, got terminology=%d llm=%d reg=%d lit=%d synth=%d", terminologyCalls, caller.calls, reg.calls, lit.calls, synth.calls)
	}
}

type resolverFunc func(ctx context.Context, name string) (string, error)

func (f resolverFunc) ResolveIngredient(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

func TestEmptyDocumentMakesNoLLMCalls(t *testing.T) {
	h := newHarness(aspirin())

	res, err := h.doc.Analyze(context.Background(), " \n\t ")
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if res.Error != "document empty" || len(res.Results) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.ext.calls != 0 {
		t.Fatalf("expected zero llm calls, got %d", h.ext.calls)
	}

	res, err = h.doc.Run(context.Background(), buildDocx(t, `<w:p><w:r><w:t>  </w:t></w:r></w:p>`))
	if !errors.Is(err, ErrEmptyDocument) || res.Error != "document empty" || h.ext.calls != 0 {
		t.Fatalf("expected empty document from docx, got %+v err=%v calls=%d", res, err, h.ext.calls)
	}
}

func TestRunReadsDocx(t *testing.T) {
	h := newHarness(aspirin())
	res, err := h.doc.Run(context.Background(), buildDocx(t, `<w:p><w:r><w:t>`+scenarioText+`</w:t></w:r></w:p>`))
	if err != nil || len(res.Results) != 1 {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestRunRejectsMalformedDocx(t *testing.T) {
	h := newHarness(aspirin())
	res, err := h.doc.Run(context.Background(), []byte("%PDF-1.7"))
	if !errors.Is(err, docx.ErrMalformed) || res.Error == "" {
		t.Fatalf("expected malformed error, got %+v err=%v", res, err)
	}
	if h.ext.calls != 0 {
		t.Fatalf("expected zero llm calls, got %d", h.ext.calls)
	}
}

func TestNoDrugsFound(t *testing.T) {
	h := newHarness()
	res, err := h.doc.Analyze(context.Background(), scenarioText)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Message != "no drugs found" || res.Results == nil || len(res.Results) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExtractionFailuresDegrade(t *testing.T) {
	h := newHarness(aspirin())
	h.ext.summaryErr = errors.New("llm timeout")
	h.ext.drugsErr = errors.New("unparseable")

	res, err := h.doc.Analyze(context.Background(), scenarioText)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.DocumentSummary != "placeholder summary" || res.Message != "no drugs found" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Degradations) != 2 || res.Stats.Degradations != 2 {
		t.Fatalf("expected 2 document degradations, got %+v", res.Degradations)
	}
}

func TestEnrichmentFailuresAreIsolated(t *testing.T) {
	h := newHarness(aspirin())
	h.reg.panics = true

	a, ok := h.drug.Run(context.Background(), aspirin(), "")
	if !ok {
		t.Fatalf("expected result")
	}
	if len(a.Checks) != 0 || len(a.Literature) != 2 || a.Evidence.Grade != model.GradeHigh {
		t.Fatalf("regulatory panic must not affect literature: %+v", a)
	}
	if len(a.Degradations) != 1 || a.Degradations[0].Stage != "regulatory" {
		t.Fatalf("unexpected degradations %+v", a.Degradations)
	}

	h = newHarness(aspirin())
	h.lit.panics = true
	a, _ = h.drug.Run(context.Background(), aspirin(), "")
	if len(a.Checks) != 4 || a.Literature == nil || len(a.Literature) != 0 {
		t.Fatalf("literature panic must not affect regulatory: %+v", a)
	}
}

func TestNormalizerPanicIsPartial(t *testing.T) {
	h := newHarness(aspirin())
	h.norm.panics = true
	a, ok := h.drug.Run(context.Background(), aspirin(), "")
	if !ok || a.Evidence.Grade != model.GradeUnknown || h.reg.calls != 0 {
		t.Fatalf("unexpected result %+v", a)
	}
	if len(a.Degradations) != 1 || a.Degradations[0].Stage != "normalization" {
		t.Fatalf("unexpected degradations %+v", a.Degradations)
	}
}

func TestLiteratureContextFallsBackToDocument(t *testing.T) {
	h := newHarness()
	doc := strings.Repeat("ж", 250)
	h.drug.Run(context.Background(), model.DrugMention{SourceName: "Aspirin"}, doc)
	if h.lit.query.Context != strings.Repeat("ж", 200) {
		t.Fatalf("expected first 200 runes of the document, got %d runes", len([]rune(h.lit.query.Context)))
	}
}

type scriptedRunner struct {
	inFlight, maxInFlight int32
}

func (r *scriptedRunner) Run(_ context.Context, m model.DrugMention, _ string) (model.DrugAnalysis, bool) {
	n := atomic.AddInt32(&r.inFlight, 1)
	defer atomic.AddInt32(&r.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&r.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&r.maxInFlight, cur, n) {
			break
		}
	}
	switch m.SourceName {
	case "panic":
		panic("drug exploded")
	case "slow":
		time.Sleep(50 * time.Millisecond)
	}
	return model.DrugAnalysis{Mention: m}, true
}

func TestFanOutKeepsOrderAndDropsPanics(t *testing.T) {
	mentions := []model.DrugMention{{SourceName: "slow"}, {SourceName: "panic"}, {SourceName: "fast"}, {SourceName: "slow"}}
	p := NewDocumentPipeline(&fakeExtractor{mentions: mentions}, &scriptedRunner{}, nil)

	res, err := p.Analyze(context.Background(), scenarioText)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	var names []string
	for _, r := range res.Results {
		names = append(names, r.Mention.SourceName)
	}
	if strings.Join(names, ",") != "slow,fast,slow" {
		t.Fatalf("unexpected order %v", names)
	}
	if res.Stats.DrugsDropped != 1 {
		t.Fatalf("expected 1 dropped drug, got %d", res.Stats.DrugsDropped)
	}
}

func TestFanOutConcurrencyCap(t *testing.T) {
	mentions := []model.DrugMention{{SourceName: "slow"}, {SourceName: "slow"}, {SourceName: "slow"}}
	runner := &scriptedRunner{}
	p := NewDocumentPipeline(&fakeExtractor{mentions: mentions}, runner, nil, WithMaxConcurrentDrugs(1))
	if _, err := p.Analyze(context.Background(), scenarioText); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if runner.maxInFlight != 1 {
		t.Fatalf("expected at most 1 drug in flight, got %d", runner.maxInFlight)
	}

	runner = &scriptedRunner{}
	p = NewDocumentPipeline(&fakeExtractor{mentions: mentions}, runner, nil)
	_, _ = p.Analyze(context.Background(), scenarioText)
	if runner.maxInFlight < 2 {
		t.Fatalf("expected drugs to run concurrently without a cap, got %d", runner.maxInFlight)
	}
}

func TestSpansPerDocumentAndDrug(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	h := newHarness(aspirin(), aspirin())
	if _, err := h.doc.Analyze(context.Background(), scenarioText); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	counts := map[string]int{}
	for _, s := range sr.Ended() {
		counts[s.Name()]++
	}
	if counts["pipeline.document"] != 1 || counts["pipeline.drug"] != 2 {
		t.Fatalf("unexpected spans %v", counts)
	}
}

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
