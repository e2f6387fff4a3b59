package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/venue/internal/api"
	"github.com/xtrntr/venue/internal/auth"
	"github.com/xtrntr/venue/internal/config"
	"github.com/xtrntr/venue/internal/db"
	"github.com/xtrntr/venue/internal/exchange"
	"github.com/xtrntr/venue/internal/logging"
	"github.com/xtrntr/venue/internal/metrics"
	"github.com/xtrntr/venue/internal/models"
	"github.com/xtrntr/venue/internal/server"
	"go.uber.org/zap"
)

// Main entry point: sets up the exchange, the session listener and the HTTP
// read API, and runs until interrupted.
func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		// Logger flavour comes from config, so fall back to production here.
		logging.NewLoggerFromEnv("prod").Fatal("invalid configuration", zap.Error(err))
	}

	log := logging.NewLoggerFromEnv(cfg.Environment)
	defer log.AtExit()

	if err := run(cfg, log); err != nil {
		log.Error("venue stopped with error", zap.Error(err))
		log.AtExit()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex := exchange.NewExchange(log, exchange.Options{
		Currencies:        cfg.Currencies,
		MaxMatchesPerTick: cfg.MaxMatchesPerTick,
	})
	m := metrics.New()
	srv := server.New(ex, log, server.Options{
		TickInterval: cfg.TickInterval,
		Observer:     m,
	})

	var journal api.TradeStore
	if cfg.DatabaseURL != "" {
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close(context.Background())
		if err := database.EnsureSchema(ctx); err != nil {
			return err
		}
		journal = database
		jlog := log.Named("journal")
		srv.OnTrades(func(ctx context.Context, trades []models.Trade) {
			// The book has already settled; a failed write only loses audit rows.
			if err := database.InsertTrades(ctx, trades); err != nil {
				jlog.Error("failed to journal trades", zap.Int("count", len(trades)), zap.Error(err))
			}
		})
		log.Info("trade journal enabled")
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		handler := api.NewHandler(ex, auth.NewAuthService(ex, cfg.JWTSecret), journal, log)
		srv.OnTrades(handler.Feed.PublishTick)
		go handler.Feed.Run(ctx, cfg.TickInterval)
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler.Router(m.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(ctx, lis) }()

	httpErr := make(chan error, 1)
	if httpServer != nil {
		go func() {
			log.Info("starting HTTP server", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	srvExited := false
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-httpErr:
		stop()
	case err = <-srvDone:
		// The session listener died on its own; take HTTP down with it.
		srvExited = true
		stop()
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
			log.Warn("HTTP shutdown incomplete", zap.Error(serr))
		}
	}
	if !srvExited {
		if serr := <-srvDone; err == nil {
			err = serr
		}
	}
	return err
}
