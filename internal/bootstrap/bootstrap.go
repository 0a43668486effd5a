package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/policy-analyst/internal/config"
	"github.com/kirillkom/policy-analyst/internal/core/domain"
	"github.com/kirillkom/policy-analyst/internal/core/ports"
	"github.com/kirillkom/policy-analyst/internal/core/usecase"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/chunking"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/queue/nats"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/reporting/xlsx"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/resilience"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/policy-analyst/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/policy-analyst/internal/observability/logging"
)

// App wires the full dependency graph once and hands the api/worker
// binaries only the ports they serve.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue    ports.MessageQueue
	Query    ports.PolicyQueryService
	Ingestor ports.ChunkIngestor
	Indexer  ports.ChunkIndexer
	Traces   ports.TraceReader
	Report   *xlsx.ReportService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	chunkStore := postgres.NewChunkStore(db)
	if err := chunkStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure chunk schema: %w", err)
	}
	traceStore := postgres.NewTraceStore(db)
	if err := traceStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure trace schema: %w", err)
	}

	journal, err := buildJournal(ctx, cfg, db)
	if err != nil {
		return nil, err
	}

	exec := resilience.NewExecutorWithLogger(resilience.DefaultConfig(), logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: exec,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	llm := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, cfg.OllamaRPS, exec)
	planner := ollama.NewPlanner(llm)
	synthesizer := ollama.NewSynthesizer(llm)
	entailment := ollama.NewEntailment(llm)
	aligner := ollama.NewAligner(llm)
	embedder := ollama.NewEmbedder(llm)

	index, err := buildIndex(cfg)
	if err != nil {
		return nil, err
	}

	var graph ports.EvidenceGraph
	var closeGraph func()
	if cfg.Neo4jURI != "" {
		g, err := neo4j.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			return nil, fmt.Errorf("init evidence graph: %w", err)
		}
		graph = g
		closeGraph = func() { _ = g.Close(ctx) }
	}

	memory, err := usecase.NewMemoryController(journal, usecase.MemoryConfig{
		Window:           cfg.MemoryWindow,
		AlphaStepMax:     cfg.AlphaStepMax,
		StepDecay:        cfg.StepDecay,
		Momentum:         cfg.Momentum,
		KMin:             cfg.KMin,
		KMax:             cfg.KMax,
		KStep:            cfg.KStep,
		LatencyBudget:    time.Duration(cfg.LatencyBudgetMS) * time.Millisecond,
		ConfidenceTarget: cfg.ConfidenceTarget,
		Defaults:         domainDefaults(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("init memory controller: %w", err)
	}

	retriever := usecase.NewFusionRetriever(index, index, embedder)
	strategy, err := usecase.NewRefinementStrategy(cfg.RefinementStrategy, graph, retriever)
	if err != nil {
		return nil, fmt.Errorf("init refinement strategy: %w", err)
	}
	refiner := usecase.NewRefiner(strategy, logger)

	verifier, err := usecase.NewVerifier(entailment, aligner, cfg.AlignmentThreshold)
	if err != nil {
		return nil, fmt.Errorf("init verifier: %w", err)
	}

	orchestrator := usecase.NewOrchestrator(
		planner,
		retriever,
		refiner,
		synthesizer,
		verifier,
		memory,
		traceStore,
		logger,
		usecase.OrchestratorConfig{
			RetryBudget:   cfg.RetryBudget,
			StageTimeout:  time.Duration(cfg.StageTimeoutSeconds) * time.Second,
			DebateEnabled: cfg.DebateEnabled,
		},
	)

	splitter := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	ingestor := usecase.NewIngestService(chunkStore, queue, splitter, logger)
	indexer := usecase.NewIndexerService(chunkStore, index, embedder, graph, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:    queue,
		Query:    orchestrator,
		Ingestor: ingestor,
		Indexer:  indexer,
		Traces:   traceStore,
		Report:   xlsx.NewReportService(traceStore, journal),

		closeFn: func() {
			queue.Close()
			if closeGraph != nil {
				closeGraph()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func buildIndex(cfg config.Config) (ports.ChunkIndex, error) {
	switch cfg.IndexBackend {
	case "qdrant", "":
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection), nil
	case "memory":
		return qdrant.NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

// buildJournal picks the memory-journal backing: Postgres for shared
// deployments, a local JSONL file for single-node ones.
func buildJournal(ctx context.Context, cfg config.Config, db *sql.DB) (ports.MemoryJournal, error) {
	switch cfg.JournalBackend {
	case "postgres", "":
		journal := postgres.NewMemoryJournal(db)
		if err := journal.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure memory schema: %w", err)
		}
		return journal, nil
	case "file":
		journal, err := localfs.NewJournal(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init file journal: %w", err)
		}
		return journal, nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.JournalBackend)
	}
}

func domainDefaults(cfg config.Config) domain.RunParameters {
	return domain.RunParameters{
		Version:         1,
		Alpha:           cfg.Alpha,
		TopK:            cfg.TopK,
		RefinementDepth: cfg.RefinementDepth,
	}
}
