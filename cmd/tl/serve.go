package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"taskline/internal/engine"
	"taskline/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serves the Taskline API and delivers webhooks configured for the project.
Bearer tokens are HS256 JWTs signed with TASKLINE_JWT_SECRET.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: viper.GetBool("allow-actor-header"),
				DevLogin:               viper.GetBool("dev-login"),
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TASKLINE_JWT_SECRET (or --jwt-secret) is required for bearer auth")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				return serve(ctx, e, authCfg)
			})
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().String("base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().Bool("allow-actor-header", false, "accept unauthenticated X-Actor-Id (local development)")
	cmd.Flags().Bool("dev-login", false, "expose POST /auth/dev/login (local development)")
	for _, name := range []string{"addr", "base-path", "jwt-secret", "allow-actor-header", "dev-login"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func serve(ctx context.Context, e engine.Engine, authCfg server.AuthConfig) error {
	log := logger.With().Str("component", "server").Logger()
	addr := viper.GetString("addr")
	basePath := viper.GetString("base-path")
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: basePath,
		Auth:     authCfg,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving Taskline API (OpenAPI at /openapi.json, Swagger UI at /docs)")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	hooks := server.NewWebhookDispatcher(e, e.Config.Project.ID, e.Config.Webhooks, logger.Logger)
	if hooks.Enabled() {
		g.Go(func() error {
			if err := hooks.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
