package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/avablake/emcee/assistant"
	"github.com/avablake/emcee/chat"
	"github.com/avablake/emcee/config"
	"github.com/avablake/emcee/embedding"
	"github.com/avablake/emcee/logging"
	"github.com/avablake/emcee/memory"
	"github.com/avablake/emcee/observability"
	"github.com/avablake/emcee/scheduler"
	"github.com/avablake/emcee/status"
	"github.com/avablake/emcee/storage"
	pgstore "github.com/avablake/emcee/storage/postgres"
	s3store "github.com/avablake/emcee/storage/s3"
	"github.com/avablake/emcee/tool"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the session document")
	logFormat := flag.String("log-format", "json", "log format (json or text)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.New(&logging.Config{Level: logging.LogLevelInfo, Format: *logFormat})
	logger = logging.WithSession(logger, uuid.NewString())
	metrics := observability.NewMetrics("emcee")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blob, err := newBlobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	client := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))

	store := memory.NewStore(blob, logging.WithComponent(logger, "memory"))
	engine := memory.NewEngine(store, embedding.NewOpenAI(&client), cfg.MemoryStoreKey,
		func(o *memory.EngineOptions) {
			o.Logger = logging.WithComponent(logger, "memory")
		})

	registry, err := tool.NewRegistry(memory.NewStoreTool(engine))
	if err != nil {
		log.Fatalf("tool registry init failed: %v", err)
	}

	manager := assistant.NewManager(
		assistant.NewOpenAIService(&client, cfg.AssistantID),
		func(o *assistant.ManagerOptions) {
			o.Logger = logging.WithComponent(logger, "assistant")
			o.Metrics = metrics
		})

	transport := chat.NewTwitch(cfg.TwitchUsername, cfg.TwitchOAuthToken, cfg.Channel,
		func(o *chat.TwitchOptions) {
			o.Logger = logging.WithComponent(logger, "chat")
		})

	var reporter status.Reporter = status.Noop{}
	if cfg.StatusUpdateURL != "" {
		reporter = status.NewHTTPReporter(cfg.StatusUpdateURL, func(o *status.HTTPOptions) {
			o.Logger = logging.WithComponent(logger, "status")
		})
	}

	sched := scheduler.New(cfg, transport, manager, func(o *scheduler.Options) {
		o.Memory = engine
		o.Tools = registry
		o.Reporter = reporter
		o.Metrics = metrics
		o.Logger = logging.WithComponent(logger, "scheduler")
	})

	var httpServer *http.Server
	if cfg.MetricsAddr != "" {
		router := chi.NewRouter()
		router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		router.Handle("/metrics", observability.MetricsHandler())
		httpServer = &http.Server{Addr: cfg.MetricsAddr, Handler: router}
		go func() {
			logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("metrics server error: %v", err)
			}
		}()
	}

	logger.Info("starting session",
		"bot", cfg.BotName, "channel", cfg.Channel, "storage", cfg.StorageBackend)
	if err := sched.Run(ctx); err != nil {
		logger.Error("session ended with error", "error", err)
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
		}
	}
	logger.Info("shutdown complete")
}

// newBlobStore builds the memory snapshot backend named by the session
// document. An empty or unknown backend falls back to process-local memory.
func newBlobStore(ctx context.Context, cfg *config.Config) (storage.Blob, error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		return s3store.New(ctx, s3store.Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region})
	case config.BackendPostgres:
		return pgstore.New(ctx, cfg.PostgresDSN)
	default:
		return storage.NewInMemory(), nil
	}
}
