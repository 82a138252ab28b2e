// Command hephaestusd is the Hephaestus orchestrator server: it assembles
// every component in an explicit App container (SPEC_FULL §A — no global
// mutable server_state singleton, per spec §9's re-architecture note), runs
// database migrations, starts the MonitorLoop and the cleanup worker, and
// serves the admin health surface. Shape follows the teacher's
// cmd/tarsy/main.go almost verbatim: flag-parsed config dir, godotenv load,
// config.Initialize, service construction, gin router, graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hephaestus-ai/hephaestus/pkg/adminapi"
	"github.com/hephaestus-ai/hephaestus/pkg/agent"
	"github.com/hephaestus-ai/hephaestus/pkg/blocking"
	"github.com/hephaestus-ai/hephaestus/pkg/cleanup"
	"github.com/hephaestus-ai/hephaestus/pkg/conductor"
	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/guardian"
	"github.com/hephaestus-ai/hephaestus/pkg/llm"
	"github.com/hephaestus-ai/hephaestus/pkg/monitor"
	"github.com/hephaestus-ai/hephaestus/pkg/queue"
	"github.com/hephaestus-ai/hephaestus/pkg/redact"
	"github.com/hephaestus-ai/hephaestus/pkg/similarity"
	"github.com/hephaestus-ai/hephaestus/pkg/store"
	"github.com/hephaestus-ai/hephaestus/pkg/task"
	"github.com/hephaestus-ai/hephaestus/pkg/ticket"
	"github.com/hephaestus-ai/hephaestus/pkg/tmux"
	"github.com/hephaestus-ai/hephaestus/pkg/validation"
	"github.com/hephaestus-ai/hephaestus/pkg/vectorindex"
	"github.com/hephaestus-ai/hephaestus/pkg/workflow"
	"github.com/hephaestus-ai/hephaestus/pkg/worktree"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// ticketIndexAdapter adapts vectorindex.Index's Point type to
// pkg/ticket.Service's locally defined VectorPoint, avoiding an import
// cycle between pkg/ticket and pkg/vectorindex (ticket only depends on the
// capability shape, never the concrete Qdrant client).
type ticketIndexAdapter struct {
	idx vectorindex.Index
}

func (a ticketIndexAdapter) Upsert(ctx context.Context, collection string, p ticket.VectorPoint) error {
	return a.idx.Upsert(ctx, collection, vectorindex.Point{ID: p.ID, Vector: p.Vector, Metadata: p.Metadata})
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	httpAddr := flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "Address the admin health server listens on")
	flag.Parse()

	envPath := *configDir + "/.env"
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir, *httpAddr); err != nil {
		slog.Error("hephaestusd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir, httpAddr string) error {
	slog.Info("starting hephaestus", "config_dir", configDir)

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}

	dsn := cfg.Store.DatabasePath
	if dsn == "" {
		dsn = getEnv("DATABASE_URL", "")
	}
	st, err := store.Open(ctx, store.Config{DSN: dsn})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	slog.Info("connected to database and applied migrations")

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		return fmt.Errorf("building llm client: %w", err)
	}

	vecIndex, err := buildVectorIndex(cfg)
	if err != nil {
		slog.Warn("vector index unavailable, ticket search degrades to keyword search", "error", err)
	}

	sessionHost := tmux.NewHost(cfg.AgentCLI.Command)
	redactor := redact.New()

	worktreeMgr := worktree.NewManager(cfg.Worktree.MainRepoPath, cfg.Worktree.WorktreeRoot, st)
	agentMgr := agent.NewManager(sessionHost, worktreeMgr, st, redactor)

	similarityCfg := cfg.Similarity
	similaritySvc := similarity.NewService(llmClient, st, similarityCfg)

	// blocking, queue, and task form a three-way constructor cycle (queue
	// needs a Blocker, task needs both a Blocker and a Queue, blocking
	// needs a Requeuer and an Enricher). Build blockingSvc first with its
	// forward references unset, then backfill once queueSvc/taskSvc exist.
	blockingSvc := blocking.NewService(st, nil, nil)
	queueSvc := queue.NewService(st, blockingSvc, cfg.Queue)
	taskSvc := task.NewService(st, llmClient, similaritySvc, blockingSvc, queueSvc, agentMgr)
	blockingSvc.SetQueue(queueSvc)
	blockingSvc.SetEnricher(taskSvc)

	var ticketIdx ticket.VectorIndex
	if vecIndex != nil {
		ticketIdx = ticketIndexAdapter{idx: vecIndex}
	}
	ticketSvc := ticket.NewService(st, blockingSvc, llmClient, ticketIdx, cfg.VectorIndex.CollectionName)

	validationSvc := validation.NewService(st, worktreeMgr, agentMgr, ticketSvc, taskSvc, cfg.Worktree.MainRepoPath)
	// validationSvc is driven by task-completion transport handlers, which
	// are an out-of-scope external collaborator here (spec §1) — keep it
	// constructed and ready for that wiring.
	_ = validationSvc

	workflowSvc := workflow.NewService(st, taskSvc)

	guardianSvc := guardian.NewService(st, agentMgr, agentMgr, llmClient, cfg.Guardian, cfg.Monitor.TmuxOutputLines)
	conductorSvc := conductor.NewService(st, agentMgr, agentMgr, llmClient, cfg.Conductor)

	orphanGrace := cfg.Monitor.TickInterval * 2
	if cfg.Guardian.MinAgentAge > orphanGrace {
		orphanGrace = cfg.Guardian.MinAgentAge
	}
	monitorSvc := monitor.NewService(st, sessionHost, guardianSvc, conductorSvc, workflowSvc, taskSvc, agentMgr,
		cfg.Monitor, cfg.Diagnostic, orphanGrace, cfg.Worktree.MainRepoPath)
	monitorSvc.Start(ctx)
	defer monitorSvc.Stop()

	cleanupSvc := cleanup.NewService(cfg.Retention, st, worktreeMgr)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	// Periodic queue processor: drains the queue even when no enqueue fires.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := taskSvc.ProcessQueue(ctx); err != nil {
					slog.Error("periodic queue processing failed", "error", err)
				}
			}
		}
	}()

	adminSrv := adminapi.NewServer(st, st, cfg.Queue, cfg.Stats())
	httpServer := &http.Server{Addr: httpAddr, Handler: adminSrv.Engine()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin health server listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown error", "error", err)
	}
	return nil
}

func buildLLMClient(cfg *config.Config) (*llm.AnthropicClient, error) {
	provider, err := cfg.GetLLMProvider(cfg.DefaultLLMProvider)
	if err != nil {
		return nil, fmt.Errorf("resolving default llm provider %q: %w", cfg.DefaultLLMProvider, err)
	}
	apiKey := os.Getenv(provider.APIKeyEnv)
	return llm.NewAnthropicClientFromProvider(provider, apiKey, apiKey), nil
}

func buildVectorIndex(cfg *config.Config) (vectorindex.Index, error) {
	raw := cfg.VectorIndex.QdrantURL
	if raw == "" {
		return nil, fmt.Errorf("vector index: no qdrant_url configured")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing qdrant_url %q: %w", raw, err)
	}
	host := u.Hostname()
	port := 6334
	if p := u.Port(); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}
	idx, err := vectorindex.NewQdrantIndex(vectorindex.Config{
		Host:   host,
		Port:   port,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}
