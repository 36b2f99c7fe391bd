// Command server runs the multi-tenant grid-hedging trading engine: the
// session control API, the Prometheus endpoint and the background session
// janitor.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"

	"github.com/hemalabs/hedgegrid/internal/api"
	"github.com/hemalabs/hedgegrid/internal/config"
	"github.com/hemalabs/hedgegrid/internal/exchange"
	"github.com/hemalabs/hedgegrid/internal/exchange/bitget"
	"github.com/hemalabs/hedgegrid/internal/logger"
	"github.com/hemalabs/hedgegrid/internal/monitoring"
	"github.com/hemalabs/hedgegrid/internal/session"
	"github.com/hemalabs/hedgegrid/internal/state"
)

const cleanupInterval = 5 * time.Minute

func main() {
	envFile := flag.String("env", ".env", "path to env file")
	console := flag.Bool("console", false, "human readable log output")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*envFile)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, *console)

	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		log.Fatal().Err(err).Msg("state store")
	}

	metrics, registry := monitoring.NewMetrics()

	factory := func(creds config.ExchangeCredentials) exchange.Exchange {
		return bitget.NewClient(bitget.Credentials{
			APIKey:     creds.APIKey,
			SecretKey:  creds.SecretKey,
			Passphrase: creds.Passphrase,
			Demo:       creds.Demo,
		}, log)
	}

	manager := session.NewManager(cfg.MaxSessions, factory, store, metrics, log)

	printStartupSummary(cfg)

	apiServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(manager, cfg.AdminSecret, log).Router(),
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: monitoring.Handler(registry),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("control api listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("control api")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go janitor(ctx, manager, cfg.CleanupAge, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	manager.Shutdown(shutdownCtx)
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics shutdown")
	}
	log.Info().Msg("bye")
}

// janitor periodically unregisters sessions that finished long ago.
func janitor(ctx context.Context, manager *session.Manager, age time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupStopped(ctx, age); removed > 0 {
				log.Info().Int("removed", removed).Msg("cleaned up finished sessions")
			}
		}
	}
}

func printStartupSummary(cfg config.ServerConfig) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("hedgegrid server")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"listen", cfg.ListenAddr},
		{"metrics", cfg.MetricsAddr},
		{"max sessions", cfg.MaxSessions},
		{"shutdown timeout", cfg.ShutdownTimeout},
		{"cleanup age", cfg.CleanupAge},
		{"state dir", cfg.StateDir},
		{"log level", cfg.LogLevel},
	})
	t.Render()
}
