// Package app assembles the service from configuration: storage,
// retrieval, responder, engine, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/grigolet/memchat/internal/chat"
	"github.com/grigolet/memchat/internal/config"
	"github.com/grigolet/memchat/internal/convo"
	"github.com/grigolet/memchat/internal/httpapi"
	"github.com/grigolet/memchat/internal/observability"
	"github.com/grigolet/memchat/internal/responder"
	"github.com/grigolet/memchat/internal/retrieval"
	"github.com/grigolet/memchat/internal/turn"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Engine  *convo.Engine
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release external
	// resources (DB pools, index files).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	registry, err := chat.NewRegistry(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("chat registry init failed: %w", err)
	}

	store, err := turn.NewStore(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("turn store init failed: %w", err)
	}

	// One client serves both embeddings and chat completions.
	var client *openai.Client
	if cfg.OpenAIAPIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			clientCfg.BaseURL = cfg.OpenAIBaseURL
		}
		client = openai.NewClientWithConfig(clientCfg)
	}

	var embed retrieval.EmbedFunc
	retrievalProvider := cfg.RetrievalProvider
	if client != nil {
		embed = retrieval.NewOpenAIEmbedFunc(client, cfg.EmbeddingModel)
	} else if provider := strings.ToLower(strings.TrimSpace(retrievalProvider)); provider == "" || provider == "auto" {
		// No embedding backend available. Retrieval degrades to the
		// static provider so keyless local runs still converse.
		log.Printf("no OPENAI_API_KEY set; similarity retrieval disabled")
		retrievalProvider = "static"
	}

	persistDir := cfg.ChromemPath
	if persistDir == "" {
		persistDir = filepath.Join(cfg.DataDir, "index")
	}
	oracle, err := retrieval.NewOracle(ctx, retrieval.Config{
		Provider:     retrievalProvider,
		DatabaseURL:  cfg.DatabaseURL,
		PersistDir:   persistDir,
		Embed:        embed,
		EmbeddingDim: cfg.EmbeddingDim,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("retrieval init failed: %w", err)
	}

	respond, err := responder.New(responder.Config{
		Mode:         cfg.ResponderMode,
		OpenAIClient: client,
		OpenAIModel:  cfg.OpenAIModel,
		HTTPURL:      cfg.ResponderHTTPURL,
	})
	if err != nil {
		_ = oracle.Close()
		_ = store.Close()
		return nil, fmt.Errorf("responder init failed: %w", err)
	}

	engine := convo.NewEngine(convo.Options{
		Registry:           registry,
		Store:              store,
		Oracle:             oracle,
		Responder:          respond,
		Metrics:            metrics,
		Threshold:          cfg.SimilarityThreshold,
		TopKFallback:       cfg.TopKResults,
		SessionIdleTimeout: cfg.SessionIdleTimeout,
	})

	api := httpapi.New(cfg, engine, metrics)

	cleanup := func() error {
		var errs []string
		if err := oracle.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Engine:  engine,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}
