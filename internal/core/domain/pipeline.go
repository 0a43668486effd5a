package domain

import "time"

// Stage is one state of the orchestrator's finite-state machine.
type Stage string

const (
	StagePlan       Stage = "plan"
	StageRetrieve   Stage = "retrieve"
	StageRefine     Stage = "refine"
	StageSynthesize Stage = "synthesize"
	StageVerify     Stage = "verify"
	StageAdapt      Stage = "adapt"
	StageDone       Stage = "done"
	StageError      Stage = "error"
)

func (s Stage) Terminal() bool {
	return s == StageDone || s == StageError
}

// PipelineState is the orchestrator's per-query mutable state. One instance
// per query, destroyed once a terminal stage is reached; preserved inside
// the trace for diagnostics on error.
type PipelineState struct {
	RunID      string            `json:"run_id"`
	Stage      Stage             `json:"stage"`
	RetryCount int               `json:"retry_count"`
	Params     RunParameters     `json:"params"`
	Plan       QueryPlan         `json:"plan"`
	Evidence   []RetrievalResult `json:"evidence"`
	Draft      DraftAnswer       `json:"draft"`
	Report     VerificationReport `json:"report"`
	LastError  string            `json:"last_error,omitempty"`
}

// StageTrace records one stage execution for offline analysis.
type StageTrace struct {
	Stage      Stage         `json:"stage"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates,omitempty"`
	Note       string        `json:"note,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// RunTrace is the structured run trace exposed to the external
// plotting/reporting collaborator.
type RunTrace struct {
	RunID      string            `json:"run_id"`
	Query      string            `json:"query"`
	StartedAt  time.Time         `json:"started_at"`
	Params     RunParameters     `json:"params"`
	Stages     []StageTrace      `json:"stages"`
	Fused      []RetrievalResult `json:"fused,omitempty"`
	Refined    []RetrievalResult `json:"refined,omitempty"`
	FinalStage Stage             `json:"final_stage"`
}

// PipelineResult is the externally visible outcome of one query.
type PipelineResult struct {
	RunID               string              `json:"run_id"`
	AnswerText          string              `json:"answer_text"`
	Citations           []Citation          `json:"citations"`
	VerificationSummary VerificationSummary `json:"verification_summary"`
	RunParametersUsed   RunParameters       `json:"run_parameters_used"`
	Verified            bool                `json:"verified"`
	BestEffort          bool                `json:"best_effort,omitempty"`
}
