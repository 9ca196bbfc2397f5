/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tieubaoca/docrag/handler"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the HTTP API server",
	Long: `Starts the document API: upload, update and delete documents, query within
one document or across all of them, aggregate JSON fields and stream
ingestion progress over a websocket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := handler.NewRouter(a.documents, a.events.HandleEvents, handler.RouterConfig{
			JWTSecret:      cfg.JWTSecret,
			RequestTimeout: cfg.RequestTimeout,
		})
		if cfg.JWTSecret == "" {
			zap.S().Warn("JWT secret is not set, write routes are unauthenticated")
		}

		server := &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: router,
		}
		serverErr := make(chan error, 1)
		go func() {
			zap.S().Infof("Starting server on port %s...", cfg.Port)
			serverErr <- server.ListenAndServe()
		}()

		select {
		case err := <-serverErr:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		zap.S().Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
