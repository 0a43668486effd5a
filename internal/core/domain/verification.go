package domain

type EntailmentLabel string

const (
	EntailmentSupported    EntailmentLabel = "supported"
	EntailmentContradicted EntailmentLabel = "contradicted"
	EntailmentUnverifiable EntailmentLabel = "unverifiable"
)

// Claim is a single factual assertion extracted from a draft answer,
// carrying the chunk ids the synthesizer cited for it.
type Claim struct {
	Text     string   `json:"text"`
	ChunkIDs []string `json:"chunk_ids"`
}

// DraftAnswer is the synthesis collaborator's output before verification.
type DraftAnswer struct {
	Text   string  `json:"text"`
	Claims []Claim `json:"claims"`
}

// ClaimReport is the Verifier's verdict for one claim. AlignmentScore is
// computed independently of the entailment label.
type ClaimReport struct {
	Claim          Claim           `json:"claim"`
	Entailment     EntailmentLabel `json:"entailment"`
	AlignmentScore float64         `json:"alignment_score"`
	Accepted       bool            `json:"accepted"`
	Reason         string          `json:"reason,omitempty"`
}

// VerificationReport covers every claim of one answer. Produced once per
// answer; the Verifier never edits the answer itself.
type VerificationReport struct {
	Claims            []ClaimReport `json:"claims"`
	SupportedFraction float64       `json:"supported_fraction"`
	Passed            bool          `json:"passed"`
}

// FlaggedClaims returns the claims that did not pass.
func (r VerificationReport) FlaggedClaims() []ClaimReport {
	out := make([]ClaimReport, 0, len(r.Claims))
	for _, c := range r.Claims {
		if !c.Accepted {
			out = append(out, c)
		}
	}
	return out
}

// VerificationSummary is the externally visible digest of a report.
type VerificationSummary struct {
	SupportedFraction float64  `json:"supported_fraction"`
	FlaggedClaims     []string `json:"flagged_claims"`
}

func (r VerificationReport) Summary() VerificationSummary {
	rejected := r.FlaggedClaims()
	flagged := make([]string, 0, len(rejected))
	for _, c := range rejected {
		flagged = append(flagged, c.Claim.Text)
	}
	return VerificationSummary{
		SupportedFraction: r.SupportedFraction,
		FlaggedClaims:     flagged,
	}
}
