package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

func verifyEvidence() []domain.RetrievalResult {
	return []domain.RetrievalResult{
		{Chunk: testChunk("c1", "handbook", 4, "employees accrue 25 days of annual leave")},
		{Chunk: testChunk("c2", "handbook", 9, "unused leave expires at year end")},
	}
}

func TestVerifyAcceptsSupportedAlignedClaim(t *testing.T) {
	v, err := NewVerifier(&fakeEntailment{label: domain.EntailmentSupported}, &fakeAligner{score: 0.92}, 0.8)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	draft := domain.DraftAnswer{
		Text:   "Staff get 25 days of leave.",
		Claims: []domain.Claim{{Text: "25 days of annual leave", ChunkIDs: []string{"c1"}}},
	}
	report, err := v.Verify(context.Background(), draft, verifyEvidence())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Passed || report.SupportedFraction != 1 {
		t.Fatalf("report %+v, want passed with fraction 1", report)
	}
	if !report.Claims[0].Accepted {
		t.Fatal("claim not accepted")
	}
}

func TestVerifyContradictedClaimFlaggedDespiteHighAlignment(t *testing.T) {
	// High lexical alignment must never rescue a contradicted claim.
	v, _ := NewVerifier(&fakeEntailment{label: domain.EntailmentContradicted}, &fakeAligner{score: 0.99}, 0.8)

	draft := domain.DraftAnswer{
		Claims: []domain.Claim{{Text: "leave never expires", ChunkIDs: []string{"c2"}}},
	}
	report, err := v.Verify(context.Background(), draft, verifyEvidence())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Passed {
		t.Fatal("contradicted claim passed verification")
	}
	entry := report.Claims[0]
	if entry.Accepted || entry.Entailment != domain.EntailmentContradicted {
		t.Fatalf("entry %+v, want rejected contradicted claim", entry)
	}
	if entry.AlignmentScore != 0.99 {
		t.Fatalf("alignment %.2f not reported independently", entry.AlignmentScore)
	}
}

func TestVerifyAlignmentBelowThresholdRejects(t *testing.T) {
	v, _ := NewVerifier(&fakeEntailment{label: domain.EntailmentSupported}, &fakeAligner{score: 0.79}, 0.8)

	draft := domain.DraftAnswer{
		Claims: []domain.Claim{{Text: "25 days", ChunkIDs: []string{"c1"}}},
	}
	report, err := v.Verify(context.Background(), draft, verifyEvidence())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Passed || report.Claims[0].Accepted {
		t.Fatal("claim below alignment threshold accepted")
	}
	if !strings.Contains(report.Claims[0].Reason, "below threshold") {
		t.Fatalf("reason %q", report.Claims[0].Reason)
	}
}

func TestVerifyFabricatedCitationIsUnverifiable(t *testing.T) {
	entailment := &fakeEntailment{label: domain.EntailmentSupported}
	v, _ := NewVerifier(entailment, &fakeAligner{score: 1}, 0.8)

	draft := domain.DraftAnswer{
		Claims: []domain.Claim{{Text: "invented", ChunkIDs: []string{"ghost"}}},
	}
	report, err := v.Verify(context.Background(), draft, verifyEvidence())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	entry := report.Claims[0]
	if entry.Entailment != domain.EntailmentUnverifiable || entry.Accepted {
		t.Fatalf("entry %+v, want unverifiable", entry)
	}
	if entailment.calls != 0 {
		t.Fatal("classifier consulted for a fabricated citation")
	}
}

func TestVerifyUncitedClaimIsUnverifiable(t *testing.T) {
	v, _ := NewVerifier(&fakeEntailment{label: domain.EntailmentSupported}, &fakeAligner{score: 1}, 0.8)

	draft := domain.DraftAnswer{Claims: []domain.Claim{{Text: "no sources"}}}
	report, err := v.Verify(context.Background(), draft, verifyEvidence())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Claims[0].Entailment != domain.EntailmentUnverifiable {
		t.Fatalf("entailment %s, want unverifiable", report.Claims[0].Entailment)
	}
}

func TestVerifyEmptyClaimsNeverPasses(t *testing.T) {
	v, _ := NewVerifier(&fakeEntailment{}, &fakeAligner{score: 1}, 0.8)
	report, err := v.Verify(context.Background(), domain.DraftAnswer{}, verifyEvidence())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Passed {
		t.Fatal("claimless answer passed verification")
	}
}

func TestVerifyRetriesTemporaryClassifierFailures(t *testing.T) {
	entailment := &fakeEntailment{label: domain.EntailmentSupported, failures: 2}
	v, _ := NewVerifier(entailment, &fakeAligner{score: 0.9}, 0.8)

	draft := domain.DraftAnswer{
		Claims: []domain.Claim{{Text: "25 days", ChunkIDs: []string{"c1"}}},
	}
	report, err := v.Verify(context.Background(), draft, verifyEvidence())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Passed {
		t.Fatal("claim rejected despite recovered classifier")
	}
	if entailment.calls != 3 {
		t.Fatalf("classifier called %d times, want 3", entailment.calls)
	}
}

func TestVerifyPermanentClassifierFailurePropagates(t *testing.T) {
	entailment := &fakeEntailment{err: errors.New("model unloaded")}
	v, _ := NewVerifier(entailment, &fakeAligner{score: 0.9}, 0.8)

	draft := domain.DraftAnswer{
		Claims: []domain.Claim{{Text: "25 days", ChunkIDs: []string{"c1"}}},
	}
	if _, err := v.Verify(context.Background(), draft, verifyEvidence()); err == nil {
		t.Fatal("expected error")
	}
	if entailment.calls != 1 {
		t.Fatalf("permanent failure retried %d times", entailment.calls-1)
	}
}

func TestNewVerifierRejectsBadThreshold(t *testing.T) {
	for _, threshold := range []float64{-0.1, 1.5} {
		if _, err := NewVerifier(&fakeEntailment{}, &fakeAligner{}, threshold); !domain.IsKind(err, domain.ErrConfiguration) {
			t.Errorf("threshold %.1f: got %v, want configuration error", threshold, err)
		}
	}
}
