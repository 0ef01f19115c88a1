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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/ukydev/fleet-service-tracker/internal/config"
	"github.com/ukydev/fleet-service-tracker/internal/db"
	"github.com/ukydev/fleet-service-tracker/internal/handlers"
	"github.com/ukydev/fleet-service-tracker/internal/host"
	"github.com/ukydev/fleet-service-tracker/internal/middleware"
	"github.com/ukydev/fleet-service-tracker/internal/status"
	"github.com/ukydev/fleet-service-tracker/internal/store"
	"github.com/ukydev/fleet-service-tracker/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

// app bundles what main starts and later shuts down.
type app struct {
	handler  http.Handler
	tracker  *tracker.Tracker
	storage  db.Storage
	notifier host.Notifier
}

func (a *app) close() {
	a.tracker.Wait()
	if n, ok := a.notifier.(*host.MQTTNotifier); ok {
		n.Shutdown()
	}
	if err := a.storage.Close(); err != nil {
		log.WithError(err).Warn("Failed to close storage")
	}
}

// buildApp wires storage, store, engine, host sink and HTTP routes.
func buildApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	storage, err := db.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	st := store.New(storage, logger)
	if err := st.Load(ctx); err != nil {
		_ = storage.Close()
		return nil, err
	}

	var notifier host.Notifier = host.Nop{}
	if cfg.Host.Enabled() {
		n, err := host.DialMQTT(cfg.Host, logger)
		if err != nil {
			// the widget works without its host
			logger.WithError(err).WithField("broker", cfg.Host.Broker).Warn("Host unavailable, records will not be forwarded")
		} else {
			notifier = n
		}
	}

	tr := tracker.New(st, status.NewEngine(), notifier, logger)

	mux := http.NewServeMux()
	handlers.NewRecordHandler(tr, logger).Register(mux)

	limiter := middleware.NewRateLimitMiddleware(logger)
	var h http.Handler = mux
	h = limiter.RateLimit(cfg.RateLimitMax, cfg.RateLimitWindow)(h)
	h = middleware.RequestLogger(logger)(h)

	return &app{handler: h, tracker: tr, storage: storage, notifier: notifier}, nil
}

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	port := pflag.String("port", "", "listen port (overrides PORT)")
	backend := pflag.String("storage", "", "storage backend: file, sqlite, mongo or memory (overrides STORAGE_BACKEND)")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}

	logger := config.NewLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start tracker")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		a.close()
		logger.WithError(err).Fatal("Failed to listen")
	}

	logger.WithFields(log.Fields{
		"port":    cfg.Port,
		"storage": cfg.Storage.Backend,
		"host":    cfg.Host.Enabled(),
	}).Info("HTTP server listening")
	if err := serve(ctx, srv, ln, a, logger); err != nil {
		logger.WithError(err).Error("HTTP server failed")
	}
}

// serve runs srv on ln until ctx is done. The app is closed only after
// in-flight requests have drained.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, a *app, logger log.FieldLogger) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP server did not shut down cleanly")
		}
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		// Serve returns as soon as Shutdown starts
		<-done
		err = nil
	}
	a.close()
	return err
}
