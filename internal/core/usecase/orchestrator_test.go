package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

type orchestratorFixture struct {
	planner    *fakePlanner
	synth      *fakeSynthesizer
	entailment *fakeEntailment
	aligner    *fakeAligner
	journal    *fakeJournal
	traces     *fakeTraceStore
	orch       *Orchestrator
}

func newOrchestratorFixture(t *testing.T, sparse []domain.ScoredChunk, cfg OrchestratorConfig) *orchestratorFixture {
	t.Helper()

	f := &orchestratorFixture{
		planner:    &fakePlanner{},
		synth:      &fakeSynthesizer{},
		entailment: &fakeEntailment{label: domain.EntailmentSupported},
		aligner:    &fakeAligner{score: 0.9},
		journal:    &fakeJournal{},
		traces:     &fakeTraceStore{},
	}

	retriever := NewFusionRetriever(&fakeSparse{hits: sparse}, &fakeDense{}, &fakeEmbedder{})
	verifier, err := NewVerifier(f.entailment, f.aligner, 0.8)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	memory, err := NewMemoryController(f.journal, testMemoryConfig())
	if err != nil {
		t.Fatalf("new memory controller: %v", err)
	}

	f.orch = NewOrchestrator(
		f.planner,
		retriever,
		NewRefiner(&RerankStrategy{}, discardLogger()),
		f.synth,
		verifier,
		memory,
		f.traces,
		discardLogger(),
		cfg,
	)
	return f
}

func handbookCorpus() []domain.ScoredChunk {
	return []domain.ScoredChunk{
		{Chunk: testChunk("handbook:p4:0", "handbook", 4, "employees accrue 25 days of annual leave per year"), Score: 9},
		{Chunk: testChunk("handbook:p9:0", "handbook", 9, "unused annual leave expires at calendar year end"), Score: 6},
	}
}

func stageSequence(trace *domain.RunTrace) []domain.Stage {
	out := make([]domain.Stage, len(trace.Stages))
	for i, s := range trace.Stages {
		out[i] = s.Stage
	}
	return out
}

func TestAskHappyPath(t *testing.T) {
	f := newOrchestratorFixture(t, handbookCorpus(), OrchestratorConfig{RetryBudget: 2})
	f.synth.draft = domain.DraftAnswer{
		Text: "You accrue 25 days of leave. Questions go to hr@example.com.",
		Claims: []domain.Claim{
			{Text: "25 days of annual leave", ChunkIDs: []string{"handbook:p4:0"}},
		},
	}

	result, trace, err := f.orch.Ask(context.Background(), domain.Query{Text: "how many leave days do I get"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !result.Verified || result.BestEffort {
		t.Fatalf("result %+v, want verified", result)
	}

	if strings.Contains(result.AnswerText, "hr@example.com") {
		t.Fatal("answer leaked an email address")
	}
	if !strings.Contains(result.AnswerText, "[EMAIL_REDACTED]") {
		t.Fatalf("answer %q missing redaction marker", result.AnswerText)
	}

	wantCitations := []domain.Citation{{DocumentID: "handbook", Page: 4, ChunkID: "handbook:p4:0"}}
	if len(result.Citations) != 1 || result.Citations[0] != wantCitations[0] {
		t.Fatalf("citations %+v, want %+v", result.Citations, wantCitations)
	}

	want := []domain.Stage{
		domain.StagePlan, domain.StageRetrieve, domain.StageRefine,
		domain.StageSynthesize, domain.StageVerify, domain.StageAdapt,
	}
	got := stageSequence(trace)
	if len(got) != len(want) {
		t.Fatalf("stages %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages %v, want %v", got, want)
		}
	}
	if trace.FinalStage != domain.StageDone {
		t.Fatalf("final stage %s", trace.FinalStage)
	}
	if len(trace.Fused) == 0 || len(trace.Refined) == 0 {
		t.Fatal("trace missing fused/refined candidate sets")
	}

	if len(f.journal.records) != 1 || !f.journal.records[0].Verified {
		t.Fatalf("journal %+v, want one verified record", f.journal.records)
	}
	if len(f.traces.saved) != 1 || f.traces.saved[0].RunID != result.RunID {
		t.Fatal("trace not persisted under the run id")
	}
}

func TestAskRetriesWithAdaptedParamsThenDegrades(t *testing.T) {
	f := newOrchestratorFixture(t, handbookCorpus(), OrchestratorConfig{RetryBudget: 1})
	f.entailment.label = domain.EntailmentContradicted
	f.synth.draft = domain.DraftAnswer{
		Text:   "Leave never expires.",
		Claims: []domain.Claim{{Text: "leave never expires", ChunkIDs: []string{"handbook:p9:0"}}},
	}

	result, trace, err := f.orch.Ask(context.Background(), domain.Query{Text: "does leave expire"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if result.Verified || !result.BestEffort {
		t.Fatalf("result %+v, want best-effort unverified", result)
	}

	retrieves := 0
	for _, s := range trace.Stages {
		if s.Stage == domain.StageRetrieve {
			retrieves++
		}
	}
	if retrieves != 2 {
		t.Fatalf("%d retrieve stages, want exactly 2 (initial + one retry)", retrieves)
	}

	// Defaults are alpha 0.5 / top_k 5; one retry widens k and nudges alpha.
	if result.RunParametersUsed.TopK != 7 {
		t.Fatalf("top_k %d, want 7 after retry adaptation", result.RunParametersUsed.TopK)
	}
	if result.RunParametersUsed.Alpha == 0.5 {
		t.Fatal("alpha unchanged on retry")
	}

	if len(f.journal.records) != 1 || f.journal.records[0].Verified {
		t.Fatalf("journal %+v, want one unverified record", f.journal.records)
	}
	if trace.FinalStage != domain.StageDone {
		t.Fatalf("final stage %s, want done despite failed verification", trace.FinalStage)
	}
}

func TestAskEvidenceGapIsTerminal(t *testing.T) {
	f := newOrchestratorFixture(t, nil, OrchestratorConfig{RetryBudget: 2})

	result, trace, err := f.orch.Ask(context.Background(), domain.Query{Text: "anything"})
	if !domain.IsKind(err, domain.ErrEvidenceGap) {
		t.Fatalf("err %v, want evidence gap", err)
	}
	if result != nil {
		t.Fatal("result returned despite evidence gap")
	}
	if trace == nil || trace.FinalStage != domain.StageError {
		t.Fatalf("trace %+v, want error terminal", trace)
	}
}

func TestAskRejectsEmptyAndSensitiveQueries(t *testing.T) {
	f := newOrchestratorFixture(t, handbookCorpus(), OrchestratorConfig{})

	for _, text := range []string{"", "   ", "what is the admin password"} {
		if _, _, err := f.orch.Ask(context.Background(), domain.Query{Text: text}); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Errorf("query %q: got %v, want invalid input", text, err)
		}
	}
	if f.synth.synthCalls != 0 {
		t.Fatal("rejected query reached the synthesizer")
	}
}

func TestAskPlannerFailureFallsBackToRawQuery(t *testing.T) {
	f := newOrchestratorFixture(t, handbookCorpus(), OrchestratorConfig{})
	f.planner.err = errors.New("planner offline")
	f.synth.draft = domain.DraftAnswer{
		Text:   "25 days.",
		Claims: []domain.Claim{{Text: "25 days", ChunkIDs: []string{"handbook:p4:0"}}},
	}

	result, _, err := f.orch.Ask(context.Background(), domain.Query{Text: "leave days"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !result.Verified {
		t.Fatal("fallback plan did not produce a verified answer")
	}
}

func TestAskSubQueriesWidenTheEvidencePool(t *testing.T) {
	f := newOrchestratorFixture(t, handbookCorpus(), OrchestratorConfig{})
	f.planner.plan = domain.QueryPlan{
		Language:   "en",
		SubQueries: []string{"annual leave accrual", "leave expiry"},
	}
	f.synth.draft = domain.DraftAnswer{
		Text:   "25 days, expiring at year end.",
		Claims: []domain.Claim{{Text: "25 days", ChunkIDs: []string{"handbook:p4:0"}}},
	}

	result, trace, err := f.orch.Ask(context.Background(), domain.Query{Text: "leave policy"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !result.Verified {
		t.Fatalf("result %+v", result)
	}
	if len(trace.Fused) == 0 {
		t.Fatal("no fused candidates recorded")
	}
}

func TestAskRefinementFailureDegradesWithoutAborting(t *testing.T) {
	f := newOrchestratorFixture(t, handbookCorpus(), OrchestratorConfig{})
	f.orch.refiner = NewRefiner(failingStrategy{}, discardLogger())
	f.synth.draft = domain.DraftAnswer{
		Text:   "25 days.",
		Claims: []domain.Claim{{Text: "25 days", ChunkIDs: []string{"handbook:p4:0"}}},
	}

	result, trace, err := f.orch.Ask(context.Background(), domain.Query{Text: "leave days"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !result.Verified {
		t.Fatalf("result %+v, want verified despite degraded refinement", result)
	}
	if trace.FinalStage != domain.StageDone {
		t.Fatalf("final stage %s, want done", trace.FinalStage)
	}

	var refine *domain.StageTrace
	for i := range trace.Stages {
		if trace.Stages[i].Stage == domain.StageRefine {
			refine = &trace.Stages[i]
		}
	}
	if refine == nil {
		t.Fatal("no refine stage recorded")
	}
	if !strings.Contains(refine.Note, "degraded") {
		t.Fatalf("refine note %q, want degradation warning", refine.Note)
	}
	if !strings.Contains(refine.Err, domain.ErrRefinementDegraded.Error()) {
		t.Fatalf("refine err %q, want the degraded marker", refine.Err)
	}
}

func TestAskSynthesizerFailureIsTerminal(t *testing.T) {
	f := newOrchestratorFixture(t, handbookCorpus(), OrchestratorConfig{})
	f.synth.err = errors.New("model unavailable")

	_, trace, err := f.orch.Ask(context.Background(), domain.Query{Text: "leave days"})
	if err == nil {
		t.Fatal("expected error")
	}
	if trace.FinalStage != domain.StageError {
		t.Fatalf("final stage %s", trace.FinalStage)
	}
	if len(f.journal.records) != 0 {
		t.Fatal("failed run must not pollute the memory journal")
	}
}

func TestAskDebatePassRevisesDraft(t *testing.T) {
	f := newOrchestratorFixture(t, handbookCorpus(), OrchestratorConfig{DebateEnabled: true})
	f.synth.draft = domain.DraftAnswer{
		Text:   "draft answer",
		Claims: []domain.Claim{{Text: "25 days", ChunkIDs: []string{"handbook:p4:0"}}},
	}
	f.synth.debated = &domain.DraftAnswer{
		Text:   "revised answer",
		Claims: []domain.Claim{{Text: "25 days", ChunkIDs: []string{"handbook:p4:0"}}},
	}

	result, _, err := f.orch.Ask(context.Background(), domain.Query{Text: "leave days"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if result.AnswerText != "revised answer" {
		t.Fatalf("answer %q, want the debated revision", result.AnswerText)
	}
}

func TestAskStageTimeoutSurfacesTypedError(t *testing.T) {
	f := newOrchestratorFixture(t, handbookCorpus(), OrchestratorConfig{StageTimeout: time.Nanosecond})
	f.synth.err = context.DeadlineExceeded

	_, _, err := f.orch.Ask(context.Background(), domain.Query{Text: "leave days"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrStageTimeout) {
		t.Fatalf("err %v, want stage timeout", err)
	}
}
