package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
	"github.com/kirillkom/policy-analyst/internal/core/ports"
)

// MemoryConfig bounds the adaptation behavior of the memory controller.
type MemoryConfig struct {
	Window           int
	AlphaStepMax     float64
	StepDecay        float64
	Momentum         float64
	KMin             int
	KMax             int
	KStep            int
	LatencyBudget    time.Duration
	ConfidenceTarget float64
	Defaults         domain.RunParameters
}

func (c MemoryConfig) validate() error {
	if c.AlphaStepMax <= 0 || c.AlphaStepMax > 0.5 {
		return domain.WrapError(domain.ErrConfiguration, "memory controller", fmt.Errorf("alpha step max %.3f outside (0,0.5]", c.AlphaStepMax))
	}
	if c.StepDecay <= 0 || c.StepDecay > 1 {
		return domain.WrapError(domain.ErrConfiguration, "memory controller", fmt.Errorf("step decay %.3f outside (0,1]", c.StepDecay))
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return domain.WrapError(domain.ErrConfiguration, "memory controller", fmt.Errorf("momentum %.3f outside [0,1)", c.Momentum))
	}
	if c.KMin <= 0 || c.KMax < c.KMin {
		return domain.WrapError(domain.ErrConfiguration, "memory controller", fmt.Errorf("k range [%d,%d] invalid", c.KMin, c.KMax))
	}
	if c.Window < 2 {
		return domain.WrapError(domain.ErrConfiguration, "memory controller", fmt.Errorf("window %d must be at least 2", c.Window))
	}
	return c.Defaults.Validate()
}

// MemoryController owns the feedback loop from run outcomes back into run
// parameters. All access is serialized: Record and SuggestNext share one
// mutex, the journal append is all-or-nothing, and callers never see raw
// mutable fields.
//
// The adaptation rule is a local hill-climbing heuristic, not a global
// optimizer: it can plateau or oscillate. Oscillation is damped with a
// momentum term and per-step decay, and every step is bounded by
// AlphaStepMax and clamped to the valid domain.
type MemoryController struct {
	mu      sync.Mutex
	journal ports.MemoryJournal
	cfg     MemoryConfig

	current   domain.RunParameters
	stepSize  float64
	lastStep  float64
	seeded    bool
}

func NewMemoryController(journal ports.MemoryJournal, cfg MemoryConfig) (*MemoryController, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MemoryController{
		journal:  journal,
		cfg:      cfg,
		current:  cfg.Defaults,
		stepSize: cfg.AlphaStepMax,
	}, nil
}

// Record appends one immutable journal entry for a finished run and moves
// the in-memory snapshot forward.
func (m *MemoryController) Record(ctx context.Context, params domain.RunParameters, outcome domain.RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := domain.MemoryRecord{
		ID:         uuid.NewString(),
		RecordedAt: time.Now().UTC(),
		Params:     params,
		Confidence: outcome.Confidence,
		Latency:    outcome.Latency,
		Verified:   outcome.Verified,
	}
	if err := m.journal.Append(ctx, record); err != nil {
		return fmt.Errorf("append memory record: %w", err)
	}
	m.current = params
	m.seeded = true
	return nil
}

// SuggestNext returns the parameter set for the next run, hill-climbing
// alpha in the direction that correlated with higher confidence over the
// rolling window and trading k off between latency and confidence.
func (m *MemoryController) SuggestNext(ctx context.Context) (domain.RunParameters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.journal.Load(ctx, m.cfg.Window)
	if err != nil {
		return domain.RunParameters{}, fmt.Errorf("load memory records: %w", err)
	}
	if len(records) == 0 {
		return m.current, nil
	}

	latest := records[0]
	base := latest.Params
	if !m.seeded {
		m.current = base
		m.seeded = true
	}

	next := base
	next.Version = base.Version + 1

	if len(records) >= 2 {
		direction := alphaConfidenceDirection(records)
		step := m.cfg.Momentum*m.lastStep + (1-m.cfg.Momentum)*direction*m.stepSize
		step = clampAbs(step, m.cfg.AlphaStepMax)
		next.Alpha = clamp01(base.Alpha + step)
		m.lastStep = next.Alpha - base.Alpha
		m.stepSize *= m.cfg.StepDecay
		if floor := m.cfg.AlphaStepMax * 0.1; m.stepSize < floor {
			m.stepSize = floor
		}

		next.TopK = m.adaptTopK(base.TopK, records)
	}

	m.current = next
	return next, nil
}

// AdaptForRetry produces a deliberately different parameter set for a
// verification retry: identical retrieval would only reproduce the failed
// evidence set.
func (m *MemoryController) AdaptForRetry(params domain.RunParameters, attempt int) domain.RunParameters {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := params
	next.Version = params.Version + 1

	widened := params.TopK + m.cfg.KStep*attempt
	if widened > m.cfg.KMax {
		widened = m.cfg.KMax
	}
	next.TopK = widened

	// Pull alpha toward balance so a retry never repeats a lopsided
	// weighting that just failed verification.
	switch {
	case params.Alpha > 0.5:
		next.Alpha = clamp01(params.Alpha - m.cfg.AlphaStepMax)
	case params.Alpha < 0.5:
		next.Alpha = clamp01(params.Alpha + m.cfg.AlphaStepMax)
	default:
		next.Alpha = clamp01(params.Alpha + m.cfg.AlphaStepMax)
	}
	return next
}

// Current returns the active parameter snapshot.
func (m *MemoryController) Current() domain.RunParameters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MemoryController) adaptTopK(base int, records []domain.MemoryRecord) int {
	var confSum float64
	var latSum time.Duration
	for _, r := range records {
		confSum += r.Confidence
		latSum += r.Latency
	}
	avgConf := confSum / float64(len(records))
	avgLat := latSum / time.Duration(len(records))

	next := base
	switch {
	case avgConf < m.cfg.ConfidenceTarget && avgLat <= m.cfg.LatencyBudget:
		next = base + m.cfg.KStep
	case avgLat > m.cfg.LatencyBudget && avgConf >= m.cfg.ConfidenceTarget:
		next = base - m.cfg.KStep
	}
	if next > m.cfg.KMax {
		next = m.cfg.KMax
	}
	if next < m.cfg.KMin {
		next = m.cfg.KMin
	}
	return next
}

// alphaConfidenceDirection estimates whether higher alpha correlated with
// higher confidence across the window. Zero covariance keeps alpha put.
func alphaConfidenceDirection(records []domain.MemoryRecord) float64 {
	var alphaMean, confMean float64
	for _, r := range records {
		alphaMean += r.Params.Alpha
		confMean += r.Confidence
	}
	n := float64(len(records))
	alphaMean /= n
	confMean /= n

	var cov float64
	for _, r := range records {
		cov += (r.Params.Alpha - alphaMean) * (r.Confidence - confMean)
	}
	switch {
	case cov > 0:
		return 1
	case cov < 0:
		return -1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampAbs(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
