package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
	"github.com/kirillkom/policy-analyst/internal/core/ports"
)

// entailmentLocalRetries bounds stage-internal retries of a single failing
// classifier call before the error escalates to the orchestrator.
const entailmentLocalRetries = 2

// Verifier checks factual and semantic alignment of a draft answer against
// the evidence set that produced it. It never edits the answer.
type Verifier struct {
	entailment ports.EntailmentClassifier
	aligner    ports.AlignmentScorer
	threshold  float64
}

func NewVerifier(entailment ports.EntailmentClassifier, aligner ports.AlignmentScorer, threshold float64) (*Verifier, error) {
	if threshold < 0 || threshold > 1 {
		return nil, domain.WrapError(domain.ErrConfiguration, "verifier", fmt.Errorf("alignment threshold %.3f outside [0,1]", threshold))
	}
	return &Verifier{
		entailment: entailment,
		aligner:    aligner,
		threshold:  threshold,
	}, nil
}

// Verify emits one report entry per claim. A claim is accepted only when
// entailment is supported AND alignment meets the threshold; a citation
// that points outside the evidence set makes the claim unverifiable.
func (v *Verifier) Verify(ctx context.Context, draft domain.DraftAnswer, evidence []domain.RetrievalResult) (domain.VerificationReport, error) {
	byID := make(map[string]domain.Chunk, len(evidence))
	for _, r := range evidence {
		byID[r.Chunk.ID] = r.Chunk
	}

	report := domain.VerificationReport{
		Claims: make([]domain.ClaimReport, 0, len(draft.Claims)),
	}

	accepted := 0
	for _, claim := range draft.Claims {
		entry, err := v.verifyClaim(ctx, claim, byID)
		if err != nil {
			return domain.VerificationReport{}, err
		}
		if entry.Accepted {
			accepted++
		}
		report.Claims = append(report.Claims, entry)
	}

	if len(report.Claims) > 0 {
		report.SupportedFraction = float64(accepted) / float64(len(report.Claims))
	}
	report.Passed = len(report.Claims) > 0 && accepted == len(report.Claims)
	return report, nil
}

func (v *Verifier) verifyClaim(ctx context.Context, claim domain.Claim, evidence map[string]domain.Chunk) (domain.ClaimReport, error) {
	cited := make([]string, 0, len(claim.ChunkIDs))
	for _, id := range claim.ChunkIDs {
		chunk, ok := evidence[id]
		if !ok {
			// Fabricated provenance: the cited chunk was never part of the
			// refined set for this query.
			return domain.ClaimReport{
				Claim:      claim,
				Entailment: domain.EntailmentUnverifiable,
				Reason:     fmt.Sprintf("cited chunk %s not in evidence set", id),
			}, nil
		}
		cited = append(cited, chunk.Text)
	}
	if len(cited) == 0 {
		return domain.ClaimReport{
			Claim:      claim,
			Entailment: domain.EntailmentUnverifiable,
			Reason:     "claim carries no citations",
		}, nil
	}

	evidenceText := strings.Join(cited, "\n\n")

	label, err := v.classifyWithRetry(ctx, claim.Text, evidenceText)
	if err != nil {
		return domain.ClaimReport{}, fmt.Errorf("classify entailment: %w", err)
	}

	alignment, err := v.aligner.Align(ctx, claim.Text, evidenceText)
	if err != nil {
		return domain.ClaimReport{}, fmt.Errorf("score alignment: %w", err)
	}

	entry := domain.ClaimReport{
		Claim:          claim,
		Entailment:     label,
		AlignmentScore: alignment,
	}
	switch {
	case label != domain.EntailmentSupported:
		entry.Reason = fmt.Sprintf("entailment %s", label)
	case alignment < v.threshold:
		entry.Reason = fmt.Sprintf("alignment %.3f below threshold %.3f", alignment, v.threshold)
	default:
		entry.Accepted = true
	}
	return entry, nil
}

func (v *Verifier) classifyWithRetry(ctx context.Context, claim, evidenceText string) (domain.EntailmentLabel, error) {
	var lastErr error
	for attempt := 0; attempt <= entailmentLocalRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		label, err := v.entailment.Classify(ctx, claim, evidenceText)
		if err == nil {
			return label, nil
		}
		lastErr = err
		if !domain.IsKind(err, domain.ErrTemporary) {
			break
		}
	}
	return "", lastErr
}
