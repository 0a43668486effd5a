package domain

import (
	"fmt"
	"time"
)

// RunParameters is the tunable knob set for one pipeline run. Mutable only
// through the memory controller; one active set at a time, full history in
// the journal.
type RunParameters struct {
	Version         int     `json:"version"`
	Alpha           float64 `json:"alpha"`
	TopK            int     `json:"top_k"`
	RefinementDepth int     `json:"refinement_depth"`
}

// Validate rejects out-of-domain values as configuration errors rather
// than clamping them.
func (p RunParameters) Validate() error {
	if p.Alpha < 0 || p.Alpha > 1 {
		return WrapError(ErrConfiguration, "run parameters", fmt.Errorf("alpha %.3f outside [0,1]", p.Alpha))
	}
	if p.TopK <= 0 {
		return WrapError(ErrConfiguration, "run parameters", fmt.Errorf("top_k %d must be positive", p.TopK))
	}
	if p.RefinementDepth < 0 {
		return WrapError(ErrConfiguration, "run parameters", fmt.Errorf("refinement_depth %d must be non-negative", p.RefinementDepth))
	}
	return nil
}

// RunOutcome is what the orchestrator observed for a finished run.
type RunOutcome struct {
	Confidence float64       `json:"confidence"`
	Latency    time.Duration `json:"latency"`
	Verified   bool          `json:"verified"`
	Retries    int           `json:"retries"`
}

// MemoryRecord is one append-only journal entry: the parameter snapshot a
// run used plus the quality it achieved. Never mutated after write.
type MemoryRecord struct {
	ID         string        `json:"id"`
	RecordedAt time.Time     `json:"recorded_at"`
	Params     RunParameters `json:"params"`
	Confidence float64       `json:"confidence"`
	Latency    time.Duration `json:"latency"`
	Verified   bool          `json:"verified"`
}
