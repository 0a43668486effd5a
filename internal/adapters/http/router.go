package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
	"github.com/kirillkom/policy-analyst/internal/core/ports"
	"github.com/kirillkom/policy-analyst/internal/observability/metrics"
)

// RouterConfig carries the traffic-control knobs for the public surface.
type RouterConfig struct {
	ServiceName    string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
}

// ReportRenderer produces the xlsx diagnostics workbook for recent runs.
type ReportRenderer interface {
	Render(ctx context.Context, limit int) ([]byte, error)
}

type Router struct {
	query    ports.PolicyQueryService
	ingestor ports.ChunkIngestor
	traces   ports.TraceReader
	report   ReportRenderer
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
	cfg      RouterConfig
}

func NewRouter(
	query ports.PolicyQueryService,
	ingestor ports.ChunkIngestor,
	traces ports.TraceReader,
	report ReportRenderer,
	m *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	cfg RouterConfig,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		query:    query,
		ingestor: ingestor,
		traces:   traces,
		report:   report,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/query", rt.askQuery)
	mux.HandleFunc("/v1/chunks", rt.ingestChunks)
	mux.HandleFunc("/v1/runs/", rt.getRunTrace)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.cfg.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.QueueWait)
	}
	if rt.cfg.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) askQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Text         string `json:"text"`
		LanguageHint string `json:"language_hint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, trace, err := rt.query.Ask(r.Context(), domain.Query{
		Text:         req.Text,
		LanguageHint: req.LanguageHint,
	})
	if err != nil {
		rt.writeMappedError(w, r, "ask", err)
		return
	}
	rt.recordRunMetrics(result, trace)

	writeJSON(w, http.StatusOK, struct {
		*domain.PipelineResult
		TraceID string `json:"trace_id,omitempty"`
	}{PipelineResult: result, TraceID: traceID(trace)})
}

func (rt *Router) ingestChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Records []domain.IngestRecord `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	chunks, err := rt.ingestor.Ingest(r.Context(), req.Records)
	if err != nil {
		rt.writeMappedError(w, r, "ingest", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"chunks_created": len(chunks),
	})
}

func (rt *Router) getRunTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if rest == "report" {
		rt.runReport(w, r)
		return
	}
	runID, suffix, found := strings.Cut(rest, "/")
	if runID == "" || !found || suffix != "trace" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	trace, err := rt.traces.GetTrace(r.Context(), runID)
	if err != nil {
		rt.writeMappedError(w, r, "get trace", err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// recordRunMetrics derives per-run observations from the finished trace so
// the pipeline itself stays metrics-agnostic.
func (rt *Router) recordRunMetrics(result *domain.PipelineResult, trace *domain.RunTrace) {
	if rt.metrics == nil || result == nil || trace == nil {
		return
	}

	var total time.Duration
	retrieves := 0
	for _, stage := range trace.Stages {
		total += stage.Duration
		rt.metrics.ObserveStage(rt.cfg.ServiceName, string(stage.Stage), stage.Duration)
		if stage.Stage == domain.StageRetrieve {
			retrieves++
		}
		if stage.Stage == domain.StageRefine && strings.Contains(stage.Note, "degraded") {
			rt.metrics.RecordRefinementFallback(rt.cfg.ServiceName)
		}
	}
	for i := 1; i < retrieves; i++ {
		rt.metrics.RecordVerifyRetry(rt.cfg.ServiceName)
	}

	outcome := "verified"
	if result.BestEffort {
		outcome = "best_effort"
	}
	rt.metrics.RecordRun(rt.cfg.ServiceName, outcome, total, len(trace.Fused))
	rt.metrics.SetActiveParams(rt.cfg.ServiceName, result.RunParametersUsed.Alpha, result.RunParametersUsed.TopK)
}

func (rt *Router) runReport(w http.ResponseWriter, r *http.Request) {
	if rt.report == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	payload, err := rt.report.Render(r.Context(), limit)
	if err != nil {
		rt.writeMappedError(w, r, "render report", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="run_report.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (rt *Router) writeMappedError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"operation", operation,
			"error", err,
		)
	}
	writeError(w, status, publicErrorMessage(status, err))
}

func traceID(trace *domain.RunTrace) string {
	if trace == nil {
		return ""
	}
	return trace.RunID
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
