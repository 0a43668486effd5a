package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/resilience"
)

// Client talks to a local Ollama instance. One generation model serves
// planning, synthesis, entailment, and alignment; a separate model serves
// embeddings. Calls share a rate limiter so parallel pipeline stages do
// not overload the single-GPU backend.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	limiter    *rate.Limiter
	exec       *resilience.Executor
}

func New(baseURL, genModel, embedModel string, requestsPerSecond float64, exec *resilience.Executor) *Client {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    limiter,
		exec:       exec,
	}
}

func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if c.exec != nil {
		err = c.exec.Execute(ctx, operation, fn, classifyOllamaError)
	} else {
		err = fn(ctx)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

// Planner decomposes a query into sub-queries with the generation model.
type Planner struct {
	client *Client
}

func NewPlanner(client *Client) *Planner {
	return &Planner{client: client}
}

func (p *Planner) Plan(ctx context.Context, query domain.Query) (domain.QueryPlan, error) {
	respText, err := p.client.generateJSON(ctx, "plan", buildPlanPrompt(query))
	if err != nil {
		return domain.QueryPlan{}, err
	}

	var parsed struct {
		Language   string   `json:"language"`
		SubQueries []string `json:"sub_queries"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &parsed); err != nil {
		return domain.QueryPlan{}, fmt.Errorf("parse plan json: %w", err)
	}

	plan := domain.QueryPlan{
		Original: query.Text,
		Language: strings.TrimSpace(parsed.Language),
	}
	if plan.Language == "" {
		plan.Language = "unknown"
	}
	for _, sub := range parsed.SubQueries {
		if trimmed := strings.TrimSpace(sub); trimmed != "" {
			plan.SubQueries = append(plan.SubQueries, trimmed)
		}
	}
	return plan, nil
}

// Synthesizer drafts a cited answer and optionally revises it through a
// critic pass.
type Synthesizer struct {
	client *Client
}

func NewSynthesizer(client *Client) *Synthesizer {
	return &Synthesizer{client: client}
}

func (s *Synthesizer) Synthesize(ctx context.Context, question string, evidence []domain.RetrievalResult) (domain.DraftAnswer, error) {
	respText, err := s.client.generateJSON(ctx, "synthesize", buildSynthesisPrompt(question, evidence))
	if err != nil {
		return domain.DraftAnswer{}, err
	}
	return parseDraftAnswer(respText)
}

func (s *Synthesizer) Debate(ctx context.Context, question string, draft domain.DraftAnswer, evidence []domain.RetrievalResult) (domain.DraftAnswer, error) {
	respText, err := s.client.generateJSON(ctx, "debate", buildDebatePrompt(question, draft, evidence))
	if err != nil {
		return domain.DraftAnswer{}, err
	}
	return parseDraftAnswer(respText)
}

func parseDraftAnswer(raw string) (domain.DraftAnswer, error) {
	var parsed struct {
		Answer string `json:"answer"`
		Claims []struct {
			Text     string   `json:"text"`
			ChunkIDs []string `json:"chunk_ids"`
		} `json:"claims"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return domain.DraftAnswer{}, fmt.Errorf("parse draft json: %w", err)
	}

	draft := domain.DraftAnswer{Text: strings.TrimSpace(parsed.Answer)}
	for _, claim := range parsed.Claims {
		text := strings.TrimSpace(claim.Text)
		if text == "" {
			continue
		}
		draft.Claims = append(draft.Claims, domain.Claim{Text: text, ChunkIDs: claim.ChunkIDs})
	}
	return draft, nil
}

// Entailment labels claims against their cited evidence.
type Entailment struct {
	client *Client
}

func NewEntailment(client *Client) *Entailment {
	return &Entailment{client: client}
}

func (e *Entailment) Classify(ctx context.Context, claim string, evidence string) (domain.EntailmentLabel, error) {
	respText, err := e.client.generateJSON(ctx, "entailment", buildEntailmentPrompt(claim, evidence))
	if err != nil {
		return "", err
	}

	var parsed struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &parsed); err != nil {
		return "", fmt.Errorf("parse entailment json: %w", err)
	}

	switch domain.EntailmentLabel(strings.ToLower(strings.TrimSpace(parsed.Label))) {
	case domain.EntailmentSupported:
		return domain.EntailmentSupported, nil
	case domain.EntailmentContradicted:
		return domain.EntailmentContradicted, nil
	default:
		// Anything the model cannot commit to counts against the claim.
		return domain.EntailmentUnverifiable, nil
	}
}

// Aligner scores claim/evidence semantic closeness on [0,1].
type Aligner struct {
	client *Client
}

func NewAligner(client *Client) *Aligner {
	return &Aligner{client: client}
}

func (a *Aligner) Align(ctx context.Context, claim string, evidence string) (float64, error) {
	respText, err := a.client.generateJSON(ctx, "align", buildAlignmentPrompt(claim, evidence))
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &parsed); err != nil {
		return 0, fmt.Errorf("parse alignment json: %w", err)
	}
	if parsed.Score < 0 {
		return 0, nil
	}
	if parsed.Score > 1 {
		return 1, nil
	}
	return parsed.Score, nil
}

// Embedder builds dense vectors with the embedding model.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.call(ctx, "embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, err
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

func (c *Client) generateJSON(ctx context.Context, operation, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	err := c.call(ctx, operation, func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, operation)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
