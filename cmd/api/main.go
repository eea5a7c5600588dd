package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"demoforge/internal/adapter/repo"
	"demoforge/internal/consistency"
	"demoforge/internal/domain"
	"demoforge/internal/http/handlers"
	httpapi "demoforge/internal/http/httpapi"
	"demoforge/internal/infra"
	"demoforge/internal/orchestrator"
	"demoforge/internal/providers/extract"
	"demoforge/internal/providers/generation"
	"demoforge/internal/reference"
	"demoforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	// Snapshot persistence is optional. Without DATABASE_URL the state
	// lives in memory for the process lifetime.
	var snapshots domain.TaskSnapshotRepository
	var states domain.StateSnapshotRepository
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		if err := repo.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure snapshot schema")
		}
		snapshots = repo.NewTaskRepository(pool)
		states = repo.NewSessionRepository(pool)
		logger.Info().Msg("session and task snapshots persisted to postgres")
	}

	provider := selectProvider(cfg, logger)
	orch := orchestrator.New(orchestrator.Options{
		Provider: provider,
		Config: orchestrator.Config{
			MaxRetries:       cfg.TaskMaxRetries,
			ArtifactTTL:      cfg.ArtifactTTL,
			VideoPromptLimit: cfg.VideoPromptCap,
		},
		Logger:    &logger,
		Snapshots: snapshots,
	})

	var cache *storage.FileStore
	if cfg.StoragePath != "" {
		cache, err = storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure reference storage")
		}
	}

	assembler := consistency.NewAssembler(cfg.VideoPromptCap)
	references := reference.NewManager(reference.Options{
		Orchestrator: orch,
		Assembler:    assembler,
		Cache:        cache,
		Snapshots:    states,
		Logger:       &logger,
	})

	app := &handlers.App{
		Sessions:       consistency.NewRegistry(),
		Assembler:      assembler,
		Orchestrator:   orch,
		Extractor:      selectExtractor(cfg, logger),
		References:     references,
		StateSnapshots: states,
		Logger:         &logger,
	}

	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("provider", provider.Name()).Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func selectProvider(cfg *infra.Config, logger infra.Logger) generation.Provider {
	if cfg.DashScopeAPIKey == "" {
		logger.Warn().Msg("DASHSCOPE_API_KEY missing, using synthetic local generation")
		return generation.NewLocal()
	}
	wan, err := generation.NewWan(generation.WanOptions{
		APIKey:     cfg.DashScopeAPIKey,
		BaseURL:    cfg.DashScopeBaseURL,
		ImageModel: cfg.WanImageModel,
		VideoModel: cfg.WanVideoModel,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure wan provider")
	}
	return wan
}

func selectExtractor(cfg *infra.Config, logger infra.Logger) extract.Extractor {
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY missing, using heuristic extraction")
		return extract.NewStaticExtractor()
	}
	gemini, err := extract.NewGeminiExtractor(extract.GeminiOptions{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure gemini extractor")
	}
	return gemini
}
