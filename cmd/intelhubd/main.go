// Command intelhubd runs the intelligence hub: it ingests collected
// items, analyzes them through the configured AI service rotation,
// archives the results, indexes them for vector search, and serves the
// HTTP surface documented in the external interfaces contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"intelhub/internal/aiclient"
	"intelhub/internal/analyzer"
	"intelhub/internal/config"
	"intelhub/internal/conversation"
	"intelhub/internal/docstore"
	"intelhub/internal/httpapi"
	"intelhub/internal/hub"
	"intelhub/internal/hubtypes"
	"intelhub/internal/obs"
	"intelhub/internal/observability"
	"intelhub/internal/recommend"
	"intelhub/internal/scheduler"
	"intelhub/internal/vectorengine"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("intelhubd")
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	conversationDir := flag.String("conversation-dir", "./conversations", "directory for recorded AI exchanges")
	httpAddr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	observability.InitLogger("intelhubd.log", "info")
	zlog := obs.NewZerologLogger(nil)
	clock := obs.SystemClock{}

	baseCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownOTel, err := observability.InitOTel(baseCtx, cfg.Observability)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	store, err := docstore.NewPostgresStore(baseCtx, cfg.MongoDB.PostgresDSN(), time.Local)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer func() { _ = store.Close(context.Background()) }()

	vecService, err := buildVectorService(baseCtx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("build vector service: %w", err)
	}

	sched := scheduler.New(clock, zlog)
	sched.Start(baseCtx)

	aiManager := aiclient.NewManager(clock, zlog)
	balanceProber, err := registerAIClients(aiManager, sched, cfg, zlog)
	if err != nil {
		return fmt.Errorf("register AI clients: %w", err)
	}
	aiManager.SetGroupLimit(cfg.IntelligenceHub.AIService.URL, cfg.Hub.GroupLimit)
	aiManager.StartMonitoring(baseCtx, 30*time.Second, probeClientBalance(balanceProber))

	recorder, err := conversation.Open(*conversationDir, zlog)
	if err != nil {
		return fmt.Errorf("open conversation recorder: %w", err)
	}
	defer recorder.Close()

	analyzerProxy := analyzer.New(aiManager, recorder, 0, zlog)

	recommender := recommend.New(store, analyzerProxy, clock, zlog, recommend.Config{
		SystemPrompt: recommendSystemPrompt,
	})

	h := hub.New(store, vecService, aiManager, analyzerProxy, recommender, sched, clock, zlog, hub.Config{
		AnalysisWorkers:        cfg.Hub.AnalysisWorkers,
		SystemPrompt:           analysisSystemPrompt,
		FullTextUsesRawContent: true,
		ExportRoot:             cfg.Hub.ExportRoot,
	})

	if err := h.Startup(baseCtx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.Shutdown(shutdownCtx, 25*time.Second); err != nil {
			log.Error().Err(err).Msg("hub shutdown")
		}
		sched.Stop()
	}()

	server := httpapi.New(h, httpapi.Config{
		Addr: *httpAddr,
		Tokens: httpapi.TokenSet{
			RPC:       cfg.IntelligenceHubWebService.RPCAPI.Tokens,
			Collector: cfg.IntelligenceHubWebService.Collector.Tokens,
			Processor: cfg.IntelligenceHubWebService.Processor.Tokens,
		},
	})

	log.Info().Str("addr", *httpAddr).Msg("intelhubd: listening")
	if err := server.Start(baseCtx); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

const (
	analysisSystemPrompt  = "Analyze the submitted item and return a single JSON object with TITLE, BRIEF, EVENT_TEXT, and RATE fields."
	recommendSystemPrompt = "Rank the provided archived items and return a single JSON object describing the top recommendations."
)

func buildVectorService(ctx context.Context, cfg *config.Config, zlog obs.Logger) (*vectorengine.Service, error) {
	vdb := cfg.IntelligenceHub.VectorDB
	embedder := vectorengine.NewClientEmbedder(vdb.ToEmbeddingConfig(), 1536)
	buildIndex := func() (vectorengine.VectorIndex, error) {
		if !vdb.Enabled || vdb.VectorDBPath == "" {
			return vectorengine.NewMemoryIndex(), nil
		}
		dsn := vdb.VectorDBPath
		if vdb.VectorDBPort != 0 {
			dsn = fmt.Sprintf("%s:%d", vdb.VectorDBPath, vdb.VectorDBPort)
		}
		return vectorengine.NewQdrantIndex(dsn)
	}
	service := vectorengine.NewService(ctx, embedder, buildIndex, "./vectordata", zlog)
	if _, err := service.WaitUntilReady(20 * time.Second); err != nil {
		log.Warn().Err(err).Msg("vector service did not become ready in time; continuing, archival proceeds without vector indexing")
	}
	return service, nil
}

// registerAIClients builds a "primary" StandardClient for the primary
// URL/token/model plus one more StandardClient per non-empty configured AI
// service proxy (spec's ai_service.proxies list), and — when
// ai_service_rotator is enabled — an additional OuterTokenRotatingClient
// whose active key a Rotator swaps on an hourly scheduled probe (spec
// §4.9).
func registerAIClients(manager *aiclient.Manager, sched *scheduler.Scheduler, cfg *config.Config, zlog obs.Logger) (*aiclient.HTTPBalanceProber, error) {
	ai := cfg.IntelligenceHub.AIService
	if ai.URL == "" {
		return nil, fmt.Errorf("intelligence_hub.ai_service.url is required")
	}

	httpClient := observability.NewHTTPClient(nil, cfg.Hub.HTTPTimeoutRemote)
	prober := &aiclient.HTTPBalanceProber{BalanceURL: ai.URL, Client: httpClient}

	manager.RegisterClient(aiclient.NewStandardClient(
		"primary", hubtypes.PriorityNormal, ai.URL, ai.URL, ai.Token, ai.Model, httpClient, nil,
	))

	for i, proxyURL := range ai.Proxies {
		if proxyURL == "" {
			continue
		}
		name := fmt.Sprintf("proxy-%d", i+1)
		manager.RegisterClient(aiclient.NewStandardClient(
			name, hubtypes.PriorityNormal, ai.URL, proxyURL, ai.Token, ai.Model, httpClient, nil,
		))
	}

	rot := cfg.AIServiceRotator
	if !rot.Enabled {
		return prober, nil
	}
	rotator, err := aiclient.NewRotator(rot.KeyFile, rot.Threshold, prober, zlog)
	if err != nil {
		return nil, fmt.Errorf("init AI service rotator: %w", err)
	}
	manager.RegisterClient(aiclient.NewOuterTokenRotatingClient(
		"rotating", hubtypes.PriorityNormal, ai.URL, ai.URL, ai.Model, rotator, httpClient, zlog,
	))
	if err := sched.AddHourlyTask("ai-service-rotator-probe", func(ctx context.Context) error {
		rotator.Probe(ctx)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("schedule rotator probe: %w", err)
	}
	return prober, nil
}

// probeClientBalance adapts an HTTPBalanceProber into the generic
// per-client balance check aiclient.Manager.StartMonitoring expects,
// checking out the client's current token rather than assuming one
// fixed key (spec §4.9). A zero-or-negative balance marks the client
// unavailable until a later poll finds funds again; a client with no
// token to check (e.g. none configured) is left available, since there
// is nothing this prober can say about it.
func probeClientBalance(prober *aiclient.HTTPBalanceProber) func(ctx context.Context, c aiclient.Client) (float64, bool, error) {
	return func(ctx context.Context, c aiclient.Client) (float64, bool, error) {
		token := c.CurrentToken()
		if token == "" {
			return 0, true, nil
		}
		balance, err := prober.Probe(ctx, token)
		if err != nil {
			return 0, false, err
		}
		return balance, balance > 0, nil
	}
}
