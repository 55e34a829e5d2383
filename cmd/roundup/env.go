package main

import (
	"context"
	"time"

	"github.com/roundup-invest/receipt-review/config"
	"github.com/roundup-invest/receipt-review/internal/auth"
	"github.com/roundup-invest/receipt-review/internal/suggest"
	"github.com/roundup-invest/receipt-review/internal/workflow"
	"github.com/roundup-invest/receipt-review/pkg/receiptapi"
	"github.com/roundup-invest/receipt-review/services"
)

// environment is what every command needs to talk to the receipt API.
type environment struct {
	cfg         *config.Config
	credentials auth.CredentialProvider
	pool        *services.WorkerPool
	search      *services.TickerSearchService
	factory     services.WorkflowFactory
}

// setup loads configuration and resolves credentials from ROUNDUP_*_TOKEN.
func setup(ctx context.Context) (*environment, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	credentials := auth.NewChainProvider(auth.EnvSources()...)
	if _, err := credentials.Token(ctx); err != nil {
		return nil, err
	}

	pool := services.NewWorkerPool(cfg.WorkerPool)
	pool.Start()
	search := services.NewTickerSearchService(nil, cfg.Workflow.SearchCacheTTL())
	return &environment{
		cfg:         cfg,
		credentials: credentials,
		pool:        pool,
		search:      search,
		factory:     services.NewWorkflowFactory(cfg, search, services.NewLearningService(pool)),
	}, nil
}

func (e *environment) newWorkflow() *workflow.Workflow {
	return e.factory("cli", e.credentials)
}

// searchBackend is the receipt API's ticker search behind the result cache.
func (e *environment) searchBackend() suggest.Backend {
	return e.search.Backend(e.client())
}

// close waits for queued learning submissions before the process exits.
func (e *environment) close() {
	timeout := time.Duration(e.cfg.WorkerPool.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = e.pool.Shutdown(ctx)
}

func (e *environment) client() *receiptapi.HTTPClient {
	return receiptapi.NewClient(e.cfg.Backend.BaseURL, e.credentials, receiptapi.WithTimeout(e.cfg.Backend.Timeout()))
}
