package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
	"github.com/kirillkom/policy-analyst/internal/core/ports"
	"github.com/kirillkom/policy-analyst/internal/observability/logging"
)

type pipelineEvent string

const (
	evOK           pipelineEvent = "ok"
	evVerifyFailed pipelineEvent = "verify_failed"
	evFatal        pipelineEvent = "fatal"
)

// stageTransitions is the orchestrator's FSM as data: states and edges are
// first-class so retry/escalation policy stays auditable without reading
// the stage bodies.
var stageTransitions = map[domain.Stage]map[pipelineEvent]domain.Stage{
	domain.StagePlan: {
		evOK:    domain.StageRetrieve,
		evFatal: domain.StageError,
	},
	domain.StageRetrieve: {
		evOK:    domain.StageRefine,
		evFatal: domain.StageError,
	},
	domain.StageRefine: {
		evOK:    domain.StageSynthesize,
		evFatal: domain.StageError,
	},
	domain.StageSynthesize: {
		evOK:    domain.StageVerify,
		evFatal: domain.StageError,
	},
	domain.StageVerify: {
		evOK:           domain.StageAdapt,
		evVerifyFailed: domain.StageRetrieve,
		evFatal:        domain.StageError,
	},
	domain.StageAdapt: {
		evOK:    domain.StageDone,
		evFatal: domain.StageError,
	},
}

const maxSubQueries = 4

type OrchestratorConfig struct {
	RetryBudget   int
	StageTimeout  time.Duration
	DebateEnabled bool
}

func (c OrchestratorConfig) normalize() OrchestratorConfig {
	out := c
	if out.RetryBudget < 0 {
		out.RetryBudget = 0
	}
	if out.StageTimeout <= 0 {
		out.StageTimeout = 60 * time.Second
	}
	return out
}

// Orchestrator sequences planning, retrieval, refinement, synthesis,
// verification, and adaptation for one query at a time. Independent
// queries may run concurrently; each call owns its own PipelineState.
type Orchestrator struct {
	planner     ports.QueryPlanner
	retriever   *FusionRetriever
	refiner     *Refiner
	synthesizer ports.AnswerSynthesizer
	verifier    *Verifier
	memory      *MemoryController
	traces      ports.TraceStore
	logger      *slog.Logger
	cfg         OrchestratorConfig
}

func NewOrchestrator(
	planner ports.QueryPlanner,
	retriever *FusionRetriever,
	refiner *Refiner,
	synthesizer ports.AnswerSynthesizer,
	verifier *Verifier,
	memory *MemoryController,
	traces ports.TraceStore,
	logger *slog.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		planner:     planner,
		retriever:   retriever,
		refiner:     refiner,
		synthesizer: synthesizer,
		verifier:    verifier,
		memory:      memory,
		traces:      traces,
		logger:      logger,
		cfg:         cfg.normalize(),
	}
}

// Ask runs the full pipeline for one query. On exhausted verification
// retries the last answer is returned flagged best-effort rather than
// withheld; configuration errors and unrecoverable stage failures
// propagate as hard errors.
func (o *Orchestrator) Ask(ctx context.Context, query domain.Query) (*domain.PipelineResult, *domain.RunTrace, error) {
	question := strings.TrimSpace(query.Text)
	if question == "" {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "query", errors.New("empty query text"))
	}
	if domain.IsSensitiveQuery(question) {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "query", errors.New("query blocked by guardrails"))
	}

	params, err := o.memory.SuggestNext(ctx)
	if err != nil {
		o.logger.Warn("suggest_next_failed", "error", err)
		params = o.memory.Current()
	}
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}

	started := time.Now()
	state := &domain.PipelineState{
		RunID:  uuid.NewString(),
		Stage:  domain.StagePlan,
		Params: params,
	}
	trace := &domain.RunTrace{
		RunID:     state.RunID,
		Query:     question,
		StartedAt: started.UTC(),
		Params:    params,
	}
	// Tag the context so every log line below this point carries the run id.
	ctx = logging.WithRunID(ctx, state.RunID)

	var fatal error
	for !state.Stage.Terminal() {
		stage := state.Stage
		stageStart := time.Now()

		event, note, stageErr := o.runStage(ctx, question, state, trace, started)

		entry := domain.StageTrace{
			Stage:    stage,
			Duration: time.Since(stageStart),
			Note:     note,
		}
		if stageErr != nil {
			entry.Err = stageErr.Error()
		}
		entry.Candidates = len(state.Evidence)
		trace.Stages = append(trace.Stages, entry)

		next, ok := stageTransitions[stage][event]
		if !ok {
			stageErr = fmt.Errorf("no transition from %s on %s", stage, event)
			next = domain.StageError
		}
		// A degraded refinement is recorded on the stage trace but never
		// escalates to the error terminal.
		if stageErr != nil && !domain.IsKind(stageErr, domain.ErrRefinementDegraded) {
			state.LastError = stageErr.Error()
			fatal = stageErr
		}
		state.Stage = next
	}

	trace.FinalStage = state.Stage
	o.saveTrace(ctx, trace)

	if state.Stage == domain.StageError {
		// PipelineState survives inside the trace for diagnostics.
		return nil, trace, fatal
	}

	result := o.buildResult(state)
	return result, trace, nil
}

func (o *Orchestrator) runStage(ctx context.Context, question string, state *domain.PipelineState, trace *domain.RunTrace, started time.Time) (pipelineEvent, string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	var event pipelineEvent
	var note string
	var err error

	switch state.Stage {
	case domain.StagePlan:
		event, err = o.runPlan(stageCtx, question, state)
	case domain.StageRetrieve:
		event, err = o.runRetrieve(stageCtx, state)
		trace.Fused = state.Evidence
	case domain.StageRefine:
		event, note, err = o.runRefine(stageCtx, question, state)
		trace.Refined = state.Evidence
	case domain.StageSynthesize:
		event, err = o.runSynthesize(stageCtx, question, state)
	case domain.StageVerify:
		event, note, err = o.runVerify(stageCtx, state)
	case domain.StageAdapt:
		event, err = o.runAdapt(stageCtx, state, started)
	default:
		event, err = evFatal, fmt.Errorf("unexpected stage %s", state.Stage)
	}

	if err != nil && !domain.IsKind(err, domain.ErrRefinementDegraded) && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = domain.WrapError(domain.ErrStageTimeout, string(state.Stage), err)
	}
	return event, note, err
}

func (o *Orchestrator) runPlan(ctx context.Context, question string, state *domain.PipelineState) (pipelineEvent, error) {
	plan, err := o.planner.Plan(ctx, domain.Query{Text: question})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return evFatal, err
		}
		// Decomposition is a collaborator nicety; fall back to the raw
		// query rather than failing the run.
		logging.RunLogger(ctx, o.logger).Warn("planner_fallback", "error", err)
		plan = domain.QueryPlan{Original: question, Language: "unknown", SubQueries: nil}
	}
	plan.Original = question
	if len(plan.SubQueries) > maxSubQueries {
		plan.SubQueries = plan.SubQueries[:maxSubQueries]
	}
	state.Plan = plan
	return evOK, nil
}

func (o *Orchestrator) runRetrieve(ctx context.Context, state *domain.PipelineState) (pipelineEvent, error) {
	queries := append([]string{state.Plan.Original}, state.Plan.SubQueries...)

	rankings := make([][]domain.RetrievalResult, 0, len(queries))
	for _, q := range queries {
		ranking, err := o.retriever.Retrieve(ctx, q, state.Params)
		if err != nil {
			return evFatal, fmt.Errorf("fusion retrieve: %w", err)
		}
		rankings = append(rankings, ranking)
	}

	merged := mergeByFusedScore(rankings, state.Params.TopK)
	if len(merged) == 0 {
		return evFatal, domain.WrapError(domain.ErrEvidenceGap, "retrieve", fmt.Errorf("no candidates for query %q", state.Plan.Original))
	}
	state.Evidence = merged
	return evOK, nil
}

func (o *Orchestrator) runRefine(ctx context.Context, question string, state *domain.PipelineState) (pipelineEvent, string, error) {
	refined, err := o.refiner.Refine(ctx, question, state.Evidence, state.Params.RefinementDepth)
	if err != nil {
		return evOK, "refinement degraded, fused ranking kept", err
	}
	state.Evidence = refined
	return evOK, "", nil
}

func (o *Orchestrator) runSynthesize(ctx context.Context, question string, state *domain.PipelineState) (pipelineEvent, error) {
	draft, err := o.synthesizer.Synthesize(ctx, question, state.Evidence)
	if err != nil {
		return evFatal, fmt.Errorf("synthesize answer: %w", err)
	}
	if o.cfg.DebateEnabled {
		debated, err := o.synthesizer.Debate(ctx, question, draft, state.Evidence)
		if err != nil {
			logging.RunLogger(ctx, o.logger).Warn("debate_skipped", "error", err)
		} else {
			draft = debated
		}
	}
	state.Draft = draft
	return evOK, nil
}

func (o *Orchestrator) runVerify(ctx context.Context, state *domain.PipelineState) (pipelineEvent, string, error) {
	report, err := o.verifier.Verify(ctx, state.Draft, state.Evidence)
	if err != nil {
		return evFatal, "", fmt.Errorf("verify answer: %w", err)
	}
	state.Report = report

	if report.Passed {
		return evOK, "", nil
	}
	if state.RetryCount >= o.cfg.RetryBudget {
		return evOK, "retries exhausted, answer flagged unverified", nil
	}

	// A retry with unchanged parameters would reproduce the same evidence
	// set; always retrieve with an adapted set.
	state.RetryCount++
	state.Params = o.memory.AdaptForRetry(state.Params, state.RetryCount)
	return evVerifyFailed, fmt.Sprintf("retry %d with adapted parameters", state.RetryCount), nil
}

func (o *Orchestrator) runAdapt(ctx context.Context, state *domain.PipelineState, started time.Time) (pipelineEvent, error) {
	outcome := domain.RunOutcome{
		Confidence: state.Report.SupportedFraction,
		Latency:    time.Since(started),
		Verified:   state.Report.Passed,
		Retries:    state.RetryCount,
	}
	if err := o.memory.Record(ctx, state.Params, outcome); err != nil {
		return evFatal, fmt.Errorf("record run outcome: %w", err)
	}
	return evOK, nil
}

func (o *Orchestrator) buildResult(state *domain.PipelineState) *domain.PipelineResult {
	return &domain.PipelineResult{
		RunID:               state.RunID,
		AnswerText:          domain.RedactPII(state.Draft.Text),
		Citations:           buildCitations(state.Draft, state.Evidence),
		VerificationSummary: state.Report.Summary(),
		RunParametersUsed:   state.Params,
		Verified:            state.Report.Passed,
		BestEffort:          !state.Report.Passed,
	}
}

// buildCitations emits one citation per cited chunk that is actually
// present in the final evidence set; anything else is fabricated
// provenance and is dropped here (and flagged by the Verifier).
func buildCitations(draft domain.DraftAnswer, evidence []domain.RetrievalResult) []domain.Citation {
	byID := make(map[string]domain.Chunk, len(evidence))
	for _, r := range evidence {
		byID[r.Chunk.ID] = r.Chunk
	}

	seen := make(map[string]struct{})
	out := make([]domain.Citation, 0, len(draft.Claims))
	for _, claim := range draft.Claims {
		for _, id := range claim.ChunkIDs {
			chunk, ok := byID[id]
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, domain.Citation{
				DocumentID: chunk.DocumentID,
				Page:       chunk.Pages.From,
				ChunkID:    chunk.ID,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

func (o *Orchestrator) saveTrace(ctx context.Context, trace *domain.RunTrace) {
	if o.traces == nil {
		return
	}
	if err := o.traces.SaveTrace(ctx, *trace); err != nil {
		logging.RunLogger(ctx, o.logger).Warn("save_trace_failed", "error", err)
	}
}
