// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the LeadRelay AI service.
//
// The AI service fronts the platform: it routes generation requests to
// LLM providers (Anthropic, OpenAI, Ollama), applies processing rules,
// runs lead workflows, and records usage.
//
// Usage:
//
//	./aiservice
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8082)
//	CONFIG_FILE - optional YAML config file; env vars override it
//	DATABASE_URL - PostgreSQL connection string (required)
//	REDIS_ADDR - Redis address (default: localhost:6379)
//	REDIS_PASSWORD, REDIS_DB - Redis credentials (optional)
//	CRM_BASE_URL, CRM_API_KEY - CRM backend; workflows need both
//	SEARCH_BASE_URL, SEARCH_API_KEY - semantic search service (optional)
//	ANTHROPIC_API_KEY - Anthropic API key (optional)
//	OPENAI_API_KEY, OPENAI_ORG_ID - OpenAI credentials (optional)
//	OLLAMA_ENDPOINT - Ollama endpoint URL (optional)
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"leadrelay/platform/api"
	"leadrelay/platform/crm"
	"leadrelay/platform/events"
	"leadrelay/platform/orchestrator"
	"leadrelay/platform/orchestrator/providers/anthropic"
	"leadrelay/platform/orchestrator/providers/ollama"
	"leadrelay/platform/orchestrator/providers/openai"
	"leadrelay/platform/retrieval"
	"leadrelay/platform/rules"
	"leadrelay/platform/usage"
	"leadrelay/platform/workflow"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("[aiservice] startup failed: %v", err)
	}
}

func run() error {
	log.Println("Starting LeadRelay AI service...")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}
	defer redisClient.Close()

	registry := orchestrator.NewRegistry()
	registerProviders(ctx, registry, cfg)
	registry.StartHealthLoop(ctx)

	rulesEngine := rules.NewEngine(rules.NewPostgresStore(db))
	ledger := usage.NewLedger(db)

	orc := orchestrator.New(registry,
		orchestrator.WithRules(rulesEngine),
		orchestrator.WithUsageTracker(ledger),
		orchestrator.WithRetriever(buildRetriever(cfg)),
		orchestrator.WithMetrics(orchestrator.NewMetrics(prometheus.DefaultRegisterer)),
	)

	serverOpts := []api.Option{
		api.WithRules(rulesEngine),
		api.WithUsageReports(ledger),
	}

	if cfg.CRM.BaseURL != "" {
		crmClient, err := crm.New(crm.Config{BaseURL: cfg.CRM.BaseURL, APIKey: cfg.CRM.APIKey})
		if err != nil {
			return err
		}
		executor := workflow.NewExecutor(
			crmClient,
			workflow.NewAgentRunner(orc, crmClient, nil),
			workflow.NewPostgresStore(db),
			workflow.NewRedisApprovals(redisClient),
			workflow.WithEventBus(events.NewRedisBusFromClient(redisClient)),
			workflow.WithMetrics(workflow.NewMetrics(prometheus.DefaultRegisterer)),
		)
		serverOpts = append(serverOpts, api.WithWorkflows(executor))
	} else {
		log.Println("[aiservice] CRM_BASE_URL not set, workflow endpoints disabled")
	}

	server := api.NewServer(orc, serverOpts...)

	r := mux.NewRouter()
	server.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[aiservice] listening on port %s", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("[aiservice] shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openDatabase connects to postgres and ensures the service's tables
// exist. Schema application is idempotent.
func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	for _, schema := range []string{rules.Schema(), usage.Schema(), workflow.Schema()} {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}
	return db, nil
}

// registerProviders wires every configured provider adapter. A provider
// that fails to register is logged and skipped so the service can still
// boot with the remaining ones.
func registerProviders(ctx context.Context, registry *orchestrator.Registry, cfg *config) {
	if key := cfg.Providers.AnthropicAPIKey; key != "" {
		adapter, err := anthropic.New(anthropic.Config{APIKey: key})
		if err == nil {
			err = registry.RegisterAdapter(ctx, adapter)
		}
		if err != nil {
			log.Printf("[aiservice] anthropic provider unavailable: %v", err)
		}
	}
	if key := cfg.Providers.OpenAIAPIKey; key != "" {
		adapter, err := openai.New(openai.Config{APIKey: key, OrgID: cfg.Providers.OpenAIOrgID})
		if err == nil {
			err = registry.RegisterAdapter(ctx, adapter)
		}
		if err != nil {
			log.Printf("[aiservice] openai provider unavailable: %v", err)
		}
	}
	if endpoint := cfg.Providers.OllamaEndpoint; endpoint != "" {
		adapter := ollama.New(ollama.Config{BaseURL: endpoint})
		if err := registry.RegisterAdapter(ctx, adapter); err != nil {
			log.Printf("[aiservice] ollama provider unavailable: %v", err)
		}
	}
}

// buildRetriever returns the configured search client, or a noop when no
// search service is deployed. Search failures never fail generations.
func buildRetriever(cfg *config) orchestrator.ContextRetriever {
	if cfg.Retrieval.BaseURL == "" {
		return retrieval.Noop{}
	}
	searcher, err := retrieval.NewHTTPSearcher(retrieval.Config{
		BaseURL: cfg.Retrieval.BaseURL,
		APIKey:  cfg.Retrieval.APIKey,
	})
	if err != nil {
		log.Printf("[aiservice] search service unavailable: %v", err)
		return retrieval.Noop{}
	}
	return retrieval.NewResilient(searcher, nil)
}
