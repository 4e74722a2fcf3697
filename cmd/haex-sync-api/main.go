package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haexhub/haex-sync/internal/auth"
	"github.com/haexhub/haex-sync/internal/config"
	"github.com/haexhub/haex-sync/internal/database"
	"github.com/haexhub/haex-sync/internal/identity"
	"github.com/haexhub/haex-sync/internal/logging"
	"github.com/haexhub/haex-sync/internal/server"
	"github.com/haexhub/haex-sync/internal/vault"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "haex-sync-api",
		Short: "Encrypted vault sync backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("environment", defaults.GetString("environment"), "Runtime environment tag")
	cmd.PersistentFlags().StringSlice("cors-origin", defaults.GetStringSlice("cors.allowed_origins"), "Allowed CORS origin (repeatable)")
	cmd.PersistentFlags().String("auth-jwks-url", defaults.GetString("auth.jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().String("auth-audience", defaults.GetString("auth.audience"), "Expected access token audience")
	cmd.PersistentFlags().StringSlice("auth-issuer", defaults.GetStringSlice("auth.issuers"), "Allowed access token issuer (repeatable)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "environment", "environment")
	bindFlag(cmd, "cors.allowed_origins", "cors-origin")
	bindFlag(cmd, "auth.jwks_url", "auth-jwks-url")
	bindFlag(cmd, "auth.audience", "auth-audience")
	bindFlag(cmd, "auth.issuers", "auth-issuer")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	verifier, err := auth.NewTokenVerifier(auth.TokenVerifierConfig{
		Audience:       appConfig.AuthAudience,
		JWKSURL:        appConfig.AuthJWKSURL,
		AllowedIssuers: appConfig.AuthIssuers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	identityService, err := identity.NewService(identity.ServiceConfig{
		Database: db,
	})
	if err != nil {
		return err
	}

	vaultService, err := vault.NewService(vault.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: vault.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:       verifier,
		VaultService:   vaultService,
		Identities:     identityService,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
		Environment:    appConfig.Environment,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("environment", appConfig.Environment))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
