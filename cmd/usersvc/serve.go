package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/usersvc/pkg/api"
	"github.com/Sternrassler/usersvc/pkg/config"
	"github.com/Sternrassler/usersvc/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(settings func() *config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings())
		},
	}
}

// serve runs the server until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, s *config.Settings) error {
	logger := logging.NewLogger("server")

	a, err := newApp(ctx, s)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info().Str("redis", s.Redis.Addr).Msg("Connected to Redis")

	srv := api.NewServer(a.users, api.Options{
		Policy:     s.Policy(),
		Fetch:      a.fetch,
		Invalidate: a.invalidate,
	})

	httpServer := &http.Server{
		Addr:              s.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", httpServer.Addr).
			Int("concurrency", s.Fanout.Concurrency).
			Dur("per_item_timeout", s.Fanout.PerItemTimeout).
			Bool("fail_fast", s.Fanout.FailFast).
			Dur("cache_ttl", s.Cache.TTL).
			Msg("Starting user service")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server failed")
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}
