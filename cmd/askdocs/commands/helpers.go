package commands

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/askdocs-go/internal/config"
	"github.com/54b3r/askdocs-go/internal/embedder"
	"github.com/54b3r/askdocs-go/internal/journal"
	"github.com/54b3r/askdocs-go/internal/llm"
	"github.com/54b3r/askdocs-go/internal/loader"
	"github.com/54b3r/askdocs-go/internal/rag"
)

// app is the application container: configuration is loaded once, every
// service is constructed here and injected into the engine, and the engine
// is injected into whichever surface the command runs. No service is held
// in package-level state outside this container.
type app struct {
	// settings is the validated runtime configuration.
	settings *config.Settings
	// log is the process logger.
	log *slog.Logger
	// metrics is the registry shared by every instrumented component.
	metrics *prometheus.Registry
	// embedder is the process-wide embedding service.
	embedder *embedder.Service
	// store is the persistent vector store.
	store *rag.ChromemStore
	// llmClient is the shared model daemon client.
	llmClient *llm.Client
	// journal is the ingest journal, nil when disabled.
	journal *journal.Journal
	// engine is the orchestrator all surfaces talk to.
	engine *rag.Engine
}

// buildApp loads and validates configuration, then wires the full service
// graph. Configuration errors and a collection/embedding-model mismatch are
// returned as errors and must abort the command.
func buildApp(log *slog.Logger) (*app, error) {
	settings := config.FromEnv()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	metrics := prometheus.NewRegistry()

	emb := embedder.New(&embedder.Config{
		BaseURL: settings.LLMBaseURL,
		Model:   settings.EmbeddingModel,
	})

	store, err := rag.OpenChromem(&rag.ChromemConfig{
		Dir:            settings.VectorStoreDir,
		Collection:     settings.CollectionName,
		EmbeddingModel: settings.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(&llm.Config{
		BaseURL:           settings.LLMBaseURL,
		Timeout:           settings.LLMTimeout,
		StreamIdleTimeout: settings.LLMStreamIdleTimeout,
		Registerer:        metrics,
	})

	var jnl *journal.Journal
	if settings.JournalDBPath != "" && settings.JournalDBPath != "disabled" {
		jnl, err = journal.Open(settings.JournalDBPath)
		if err != nil {
			// The journal is advisory; a broken journal must not keep the
			// service down.
			log.Warn("journal unavailable, continuing without it", slog.Any("error", err))
			jnl = nil
		}
	}

	engine, err := rag.NewEngine(
		emb,
		store,
		client,
		loader.New(settings.MaxFileSizeBytes(), settings.AllowedExtensions),
		jnl,
		&rag.EngineConfig{
			ChunkSize:           settings.ChunkSize,
			ChunkOverlap:        settings.ChunkOverlap,
			TopK:                settings.TopKResults,
			HistoryBudgetTokens: settings.HistoryBudgetTokens,
			Model:               settings.LLMModel,
			Temperature:         settings.LLMTemperature,
			MaxTokens:           settings.LLMMaxTokens,
			RepeatPenalty:       settings.LLMRepeatPenalty,
			UploadDir:           settings.UploadDir,
			Registerer:          metrics,
		},
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to construct engine: %w", err)
	}

	return &app{
		settings:  settings,
		log:       log,
		metrics:   metrics,
		embedder:  emb,
		store:     store,
		llmClient: client,
		journal:   jnl,
		engine:    engine,
	}, nil
}

// close releases the container's long-lived resources.
func (a *app) close() {
	a.llmClient.Close()
	if a.journal != nil {
		_ = a.journal.Close()
	}
}
