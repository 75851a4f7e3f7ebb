package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/davidahmann/afaap/internal/api"
	"github.com/davidahmann/afaap/internal/auth"
	"github.com/davidahmann/afaap/internal/config"
	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/internal/govern"
	"github.com/davidahmann/afaap/internal/ledger"
	"github.com/davidahmann/afaap/internal/ledger/pgstore"
	"github.com/davidahmann/afaap/internal/ledger/sqlstore"
	"github.com/davidahmann/afaap/internal/policy"
	"github.com/davidahmann/afaap/internal/sla"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(*http.Server) error

const shutdownTimeout = 10 * time.Second

type gateway struct {
	server   *http.Server
	watcher  *sla.Watcher
	interval time.Duration
	closer   io.Closer
}

func (g *gateway) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer.Close()
}

func newGateway(cfg config.Config, logger *slog.Logger) (*gateway, error) {
	loaded, err := policy.LoadPolicy(cfg.PolicyPath, policy.Overrides{MinF1Score: cfg.MinF1Score, MaxFPR: cfg.MaxFPR})
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	authn, err := auth.NewAuthenticatorFromEnv(cfg.Auth.Tokens)
	if err != nil {
		return nil, err
	}

	entities, entries, closer, err := openStores(cfg.DB)
	if err != nil {
		return nil, err
	}

	l := ledger.New(entries, ledger.WithLogger(logger))
	svc := govern.New(entities, l, loaded, govern.WithLogger(logger))

	logger.Info("policy loaded",
		"policy_id", loaded.Policy.PolicyID,
		"policy_hash", loaded.Hash,
		"db_driver", cfg.DB.Driver,
	)

	return &gateway{
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.NewRouter(&api.Handler{Auth: authn, Service: svc, Logger: logger}),
			ReadHeaderTimeout: 5 * time.Second,
		},
		watcher:  sla.NewWatcher(svc, sla.LogNotifier{Logger: logger}, logger),
		interval: cfg.SLA.WatchInterval,
		closer:   closer,
	}, nil
}

// openStores returns the entity and ledger stores for the configured
// driver. The SQL backends serve both from one database.
func openStores(cfg config.DBConfig) (entity.Store, ledger.Store, io.Closer, error) {
	driver, err := ledger.ParseDriver(cfg.Driver)
	if err != nil {
		return nil, nil, nil, err
	}

	switch driver {
	case ledger.DBSQLite:
		store, err := sqlstore.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := ledger.Migrate(store.DB(), driver); err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
		return store, store, store, nil
	case ledger.DBPostgres:
		store, err := pgstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := ledger.Migrate(store.DB(), driver); err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
		return store, store, store, nil
	default:
		return entity.NewInMemoryStore(), ledger.NewInMemoryStore(), nil, nil
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run(args []string, getenv envFn, listen listenFn) error {
	fs := flag.NewFlagSet("afaap-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to afaap config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = getenv("AFAAP_CONFIG_PATH")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go gw.watcher.Run(ctx, gw.interval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("afaap-gateway listening", "addr", gw.server.Addr)
		errCh <- listen(gw.server)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("afaap-gateway shutting down")
		return gw.server.Shutdown(shutdownCtx)
	}
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}
