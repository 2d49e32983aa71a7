package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/knowledge"
	chiTransport "github.com/kailas-cloud/ragbot/internal/transport/chi"
	"github.com/kailas-cloud/ragbot/internal/usecase/account"
	"github.com/kailas-cloud/ragbot/internal/usecase/conversation"
	healthuc "github.com/kailas-cloud/ragbot/internal/usecase/health"
	"github.com/kailas-cloud/ragbot/internal/usecase/ingest"
	"github.com/kailas-cloud/ragbot/internal/version"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		ingestFirst bool
		watch       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent-chat compatible HTTP API",
		Long: `Run the HTTP API used by agent-chat UIs: /info, /auth/login, /threads,
streamed runs over SSE, knowledge-base file management, /health and /metrics.

The first admin is created from auth.admin_username and auth.admin_password
when the database has no users yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(false); err != nil {
				return err
			}
			defer a.sync()
			return runServe(a.context(cmd), a, ingestFirst, watch)
		},
	}
	cmd.Flags().BoolVar(&ingestFirst, "ingest", false, "ingest the knowledge directory before serving (vectorstore.rebuild picks the mode)")
	cmd.Flags().BoolVar(&watch, "watch", false, "rebuild the collection whenever the knowledge directory changes")
	return cmd
}

func runServe(ctx context.Context, a *app, ingestFirst, watch bool) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("Starting ragbot API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", a.env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("vectorstore", cfg.VectorStore.Driver),
	)

	// Register metrics explicitly (no init())
	registerMetrics()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	accounts := account.New(store, cfg.Auth.APIKeys, logger)
	created, err := accounts.Bootstrap(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Info("Created first admin user", zap.String("username", cfg.Auth.AdminUsername))
	}

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	if ingestFirst {
		report, err := p.ingest.Run(ctx, ingest.Options{Rebuild: *cfg.VectorStore.Rebuild})
		if err != nil && !errors.Is(err, domain.ErrNoDocuments) {
			return fmt.Errorf("initial ingest: %w", err)
		}
		if err != nil {
			logger.Warn("Knowledge directory is empty, serving without documents", zap.Error(err))
		} else {
			logger.Info("Initial ingest done", zap.Int("files", report.Files), zap.Int("chunks", report.Chunks))
		}
	}

	conversations := conversation.New(store, p.rag, accounts, cfg.Retrieval.HistoryTurns, logger)
	kb := knowledge.NewBase(cfg.Knowledge.DataDir, store, cfg.Knowledge.MaxUploadBytes, logger)
	health := healthuc.New(p.vectors, store, newEmbeddingHealthChecker(p.embedder))

	server := chiTransport.NewServer(chiTransport.Deps{
		Accounts:      accounts,
		Conversations: conversations,
		KnowledgeBase: kb,
		Indexer:       p.ingest,
		Health:        health,
	}, logger,
		chiTransport.WithTokenName(cfg.Auth.TokenName),
		chiTransport.WithMaxUploadBytes(cfg.Knowledge.MaxUploadBytes),
	)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(cfg.HTTP.CORSOrigins),
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if watch {
		g.Go(func() error {
			return p.ingest.Watch(gctx, time.Duration(cfg.Knowledge.WatchDebounceMS)*time.Millisecond)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
