package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/agentview/internal/config"
	"github.com/ashureev/agentview/internal/gateway"
	"github.com/ashureev/agentview/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP gateway for a UI",
	Long: `Exposes the session engine over HTTP: POST /api/chat streams a run
back as SSE, POST /api/abort cancels it, /api/history reads or clears the
conversation, and /ws/updates pushes state snapshots over a websocket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, repo, cleanup, err := openSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := repo.Ping(ctx); err != nil {
			return err
		}

		handler := gateway.NewHandler(sess, repo, cfg.SSEKeepalive, nil)

		r := chi.NewRouter()
		r.Use(chiMiddleware.RequestID)
		r.Use(chiMiddleware.RealIP)
		r.Use(chiMiddleware.Logger)
		r.Use(chiMiddleware.Recoverer)
		r.Use(chiMiddleware.Heartbeat("/health"))
		corsOrigins := []string{"*"}
		if cfg.FrontendURL != "" {
			corsOrigins = []string{cfg.FrontendURL}
		}
		r.Use(middleware.CORS(corsOrigins))

		handler.RegisterRoutes(r)

		// SSE connections need an unbounded write window; keepalive pings
		// hold the connection open instead.
		srv := &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("gateway listening", "port", cfg.Port, "conversation", conversationID)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		slog.Info("shutting down")
		sess.Abort()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
