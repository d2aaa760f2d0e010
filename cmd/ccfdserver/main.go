package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ccfd-server/internal/cfg"
	"ccfd-server/internal/metrics"
	"ccfd-server/internal/ml"
	"ccfd-server/internal/server"
	"ccfd-server/internal/storage"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	fetcher := newFetcher(c)
	defer func() {
		if err := fetcher.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close artifact bundles")
		}
	}()

	registry := loadEnsemble(ctx, c, fetcher, m)

	srv := server.New(c.Addr(), registry,
		server.WithMetrics(metrics.NewWrapper(m)),
		server.WithMaxRequestBytes(c.MaxRequestBytes),
		server.WithReadTimeout(c.ReadTimeout),
		server.WithWriteTimeout(c.WriteTimeout),
	)

	var admin *server.Admin
	if c.MetricsPort > 0 {
		admin = startAdminServer(c, srv)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(ctx)
	}()

	waitForShutdown(ctx, c, srv, registry, m, serveErr)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer shutdownCancel()

	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown admin server")
		}
	}
	if err := srv.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, in-flight connections abandoned")
		return
	}
	log.Info().Msg("server stopped")
}

func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func newFetcher(c cfg.Settings) *storage.Fetcher {
	return storage.NewFetcher(storage.FetcherConfig{
		S3: storage.S3ClientConfig{
			Endpoint:        c.S3.Endpoint,
			Region:          c.S3.Region,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
		},
		HTTPTimeout: c.HTTPTimeout,
	})
}

// loadEnsemble loads every configured model or exits. The server never starts with a partial ensemble.
func loadEnsemble(ctx context.Context, c cfg.Settings, fetcher *storage.Fetcher, m *metrics.Metrics) *ml.Registry {
	specs, err := c.ModelSpecs()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid model configuration")
	}

	registry, err := ml.Load(ctx, specs, c.PassScore,
		ml.WithSource(fetcher),
		ml.WithRuntime(ml.NewRuntime(c.OnnxLibrary)),
	)
	if err != nil {
		log.Fatal().Err(err).Int("models", len(specs)).Msg("failed to load models")
	}

	ens := registry.Ensemble()
	m.SetEnsemble(ens.Size(), ens.PassScore())
	log.Info().
		Int("models", ens.Size()).
		Int("pass_score", ens.PassScore()).
		Strs("names", memberNames(ens)).
		Msg("ensemble loaded")
	return registry
}

func memberNames(ens *ml.Ensemble) []string {
	members := ens.Members()
	names := make([]string, len(members))
	for i, member := range members {
		names[i] = member.Name
	}
	return names
}

func startAdminServer(c cfg.Settings, srv *server.Server) *server.Admin {
	admin := server.NewAdmin(fmt.Sprintf(":%d", c.MetricsPort), srv, nil)
	go func() {
		if err := admin.Start(); err != nil {
			log.Error().Err(err).Msg("admin server failed")
		}
	}()
	log.Info().Int("port", c.MetricsPort).Msg("admin server started")
	return admin
}

// reload re-reads the configuration and swaps in a new ensemble. The serving
// ensemble is kept when anything fails.
func reload(ctx context.Context, registry *ml.Registry, m *metrics.Metrics) {
	c, err := cfg.Load()
	if err != nil {
		m.ReloadResult(err)
		log.Error().Err(err).Msg("reload skipped, config load failed")
		return
	}
	specs, err := c.ModelSpecs()
	if err == nil {
		err = registry.Reload(ctx, specs, c.PassScore)
	}
	m.ReloadResult(err)
	if err != nil {
		log.Error().Err(err).Msg("reload failed, keeping current ensemble")
		return
	}

	ens := registry.Ensemble()
	m.SetEnsemble(ens.Size(), ens.PassScore())
	log.Info().Int("models", ens.Size()).Int("pass_score", ens.PassScore()).Msg("ensemble reloaded")
}

// waitForShutdown serves signals until SIGINT/SIGTERM, context cancellation or a
// listener failure, then stops the server. SIGHUP reloads the ensemble.
func waitForShutdown(ctx context.Context, c cfg.Settings, srv *server.Server, registry *ml.Registry,
	m *metrics.Metrics, serveErr <-chan error,
) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				log.Info().Msg("reload signal received")
				reload(ctx, registry, m)
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		case err := <-serveErr:
			if err != nil {
				log.Error().Err(err).Str("addr", c.Addr()).Msg("server failed")
			}
		case <-ctx.Done():
			log.Info().Msg("context canceled")
		}
		break
	}

	log.Info().Msg("shutting down gracefully...")
	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop listener")
	}
}
