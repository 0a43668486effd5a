package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

func buildPlanPrompt(query domain.Query) string {
	hint := ""
	if query.LanguageHint != "" {
		hint = "\nThe user indicated the query language is: " + query.LanguageHint + "."
	}
	return fmt.Sprintf(`You decompose policy questions for a document search engine.%s
Return a strict JSON object with keys:
language (ISO 639-1 code of the question), sub_queries (array of up to 3 short standalone search queries, empty if the question is already atomic).
No markdown, no extra keys.

Question:
%s`, hint, query.Text)
}

func buildSynthesisPrompt(question string, evidence []domain.RetrievalResult) string {
	return fmt.Sprintf(`Answer the question using ONLY the evidence below.
Return a strict JSON object with keys:
answer (string), claims (array of objects with keys text and chunk_ids).
Every factual statement of the answer must appear as a claim citing the chunk ids it came from.
If the evidence is insufficient, say so in the answer and return an empty claims array.
No markdown, no extra keys.

Question:
%s

Evidence:
%s`, question, formatEvidence(evidence))
}

func buildDebatePrompt(question string, draft domain.DraftAnswer, evidence []domain.RetrievalResult) string {
	var claims strings.Builder
	for _, claim := range draft.Claims {
		claims.WriteString(fmt.Sprintf("- %s (cites %s)\n", claim.Text, strings.Join(claim.ChunkIDs, ", ")))
	}
	return fmt.Sprintf(`You are a critical reviewer. A colleague drafted this answer; challenge every claim against the evidence, drop anything unsupported, and produce the strongest defensible revision.
Return the same strict JSON shape: answer (string), claims (array of objects with keys text and chunk_ids).
No markdown, no extra keys.

Question:
%s

Draft answer:
%s

Draft claims:
%s
Evidence:
%s`, question, draft.Text, claims.String(), formatEvidence(evidence))
}

func buildEntailmentPrompt(claim string, evidence string) string {
	return fmt.Sprintf(`Does the evidence support the claim?
Return a strict JSON object with one key: label, one of "supported", "contradicted", "unverifiable".
"supported" only if the evidence states or directly implies the claim.
"contradicted" if the evidence states the opposite.
"unverifiable" otherwise.
No markdown, no extra keys.

Claim:
%s

Evidence:
%s`, claim, evidence)
}

func buildAlignmentPrompt(claim string, evidence string) string {
	return fmt.Sprintf(`Rate how closely the claim's meaning matches the evidence on a scale from 0 to 1.
Return a strict JSON object with one key: score (number).
No markdown, no extra keys.

Claim:
%s

Evidence:
%s`, claim, evidence)
}

func formatEvidence(evidence []domain.RetrievalResult) string {
	var b strings.Builder
	for _, result := range evidence {
		b.WriteString(fmt.Sprintf(
			"[%s] document=%s pages=%d-%d score=%.3f\n%s\n\n",
			result.Chunk.ID,
			result.Chunk.DocumentID,
			result.Chunk.Pages.From,
			result.Chunk.Pages.To,
			result.FusedScore,
			result.Chunk.Text,
		))
	}
	return b.String()
}
