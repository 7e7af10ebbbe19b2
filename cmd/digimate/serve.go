package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digimate-ai/digimate/internal/api"
	"github.com/digimate-ai/digimate/internal/chat"
	"github.com/digimate-ai/digimate/internal/config"
	"github.com/digimate-ai/digimate/internal/db"
	"github.com/digimate-ai/digimate/internal/kv"
	"github.com/digimate-ai/digimate/internal/llm"
	"github.com/digimate-ai/digimate/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, a.logger)
		},
	}
}

func openStore(cfg config.StoreConfig, logger *zap.Logger) (store.ConversationStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		database, err := db.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite store", zap.String("path", cfg.SQLitePath))
		return database, nil
	case config.DriverRedis:
		client, err := kv.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis store")
		return kv.NewStore(client, logger), nil
	case config.DriverMemory:
		logger.Warn("using in-memory store, conversations are lost on exit")
		return kv.NewStore(kv.NewMemory(), logger), nil
	}
	return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
}

func newCompleter(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*llm.Client, error) {
	return llm.New(ctx, llm.Settings{
		Provider: cfg.Provider,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
	}, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return errors.Wrap(err, "opening conversation store")
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		return errors.Wrap(err, "conversation store is not reachable")
	}

	completer, err := newCompleter(ctx, cfg.LLM, logger)
	if err != nil {
		return err
	}

	svc := chat.NewService(st, completer, logger,
		chat.WithContextWindow(cfg.Chat.ContextWindow),
		chat.WithCompletionTimeout(cfg.Chat.CompletionTimeout),
	)
	handler := api.NewHandler(st, svc, logger)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTP.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
