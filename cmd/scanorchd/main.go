// Command scanorchd runs the scan-orchestration service: the HTTP API that
// accepts scan submissions and reports status/results, the worker that
// drives submitted tasks through the scanner fleet, and the housekeeping
// sweep that reclaims completed/failed task storage past its retention
// window.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scanorch/scanorch/internal/api"
	"github.com/scanorch/scanorch/internal/breaker"
	"github.com/scanorch/scanorch/internal/config"
	"github.com/scanorch/scanorch/internal/housekeeping"
	"github.com/scanorch/scanorch/internal/idempotency"
	"github.com/scanorch/scanorch/internal/metrics"
	"github.com/scanorch/scanorch/internal/queue"
	"github.com/scanorch/scanorch/internal/registry"
	"github.com/scanorch/scanorch/internal/secrets"
	"github.com/scanorch/scanorch/internal/taskstore"
	"github.com/scanorch/scanorch/internal/worker"
)

// App is the root of the dependency graph: every long-lived component is
// built once here and handed to the pieces that need it, rather than
// reached for through a package-level singleton.
type App struct {
	cfg      *config.Config
	store    *taskstore.Store
	queue    *queue.Queue
	registry *registry.Registry
	breakers *breaker.Manager
	idemp    *idempotency.Index
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "worker":
		runWorker(os.Args[2:])
	case "all":
		runAll(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`scanorchd - vulnerability scan orchestration service

Usage:
  scanorchd <command> [options]

Commands:
  serve    Start the HTTP API and housekeeping sweep
  worker   Start a worker process (drives queued tasks through the fleet)
  all      Start API, housekeeping, and worker in a single process

Options:
  -config string   Path to config file (default "config.yaml")

Examples:
  scanorchd serve -config config.yaml
  scanorchd worker -config config.yaml`)
}

func newApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store := taskstore.New(cfg.DataDir)
	if key, err := secrets.NewKeyStore(cfg.DataDir).LoadOrGenerate(); err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	} else if enc, err := secrets.NewEncryptor(key); err != nil {
		return nil, fmt.Errorf("build encryptor: %w", err)
	} else {
		store = store.WithEncryptor(enc)
	}

	q, err := queue.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	reg := registry.New(cfg, registry.DefaultFactory)
	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold:    cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:     cfg.CircuitBreaker.RecoveryTimeout,
		HalfOpenMaxInFlight: cfg.CircuitBreaker.HalfOpenMaxInFlight,
	})
	idemp := idempotency.New(q.Client(), cfg.Idempotency.TTL)

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			next, err := config.Load(configPath)
			if err != nil {
				log.Printf("scanorchd: reload config: %v", err)
				continue
			}
			reg.Reload(next)
			log.Printf("scanorchd: configuration reloaded")
		}
	}()

	metrics.Register(q, reg, reg.ListPools())

	return &App{cfg: cfg, store: store, queue: q, registry: reg, breakers: breakers, idemp: idemp}, nil
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	app, err := newApp(*configPath)
	if err != nil {
		log.Fatalf("scanorchd serve: %v", err)
	}
	defer app.queue.Close()

	sweeper := housekeeping.New(app.store, app.cfg.Housekeeping)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("scanorchd serve: start housekeeping: %v", err)
	}
	defer sweeper.Stop()

	serveHTTP(app)
}

func runWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	app, err := newApp(*configPath)
	if err != nil {
		log.Fatalf("scanorchd worker: %v", err)
	}
	defer app.queue.Close()

	w := worker.New(app.queue, app.store, app.registry, app.breakers, app.cfg.Worker)
	w.Start()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	log.Println("scanorchd worker: shutting down, waiting for in-flight scans...")
	w.Stop()
}

func runAll(args []string) {
	fs := flag.NewFlagSet("all", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	app, err := newApp(*configPath)
	if err != nil {
		log.Fatalf("scanorchd all: %v", err)
	}
	defer app.queue.Close()

	sweeper := housekeeping.New(app.store, app.cfg.Housekeeping)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("scanorchd all: start housekeeping: %v", err)
	}
	defer sweeper.Stop()

	w := worker.New(app.queue, app.store, app.registry, app.breakers, app.cfg.Worker)
	w.Start()
	defer w.Stop()

	serveHTTP(app)
}

// serveHTTP builds the API server, starts listening, and blocks until
// SIGINT/SIGTERM, then drains in-flight requests.
func serveHTTP(app *App) {
	srv := api.New(app.cfg, app.store, app.queue, app.registry, app.breakers, api.WithIdempotency(app.idemp))

	server := &http.Server{
		Addr:              app.cfg.API.ListenAddr,
		Handler:           srv.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("scanorchd: listening on %s", app.cfg.API.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("scanorchd: server error: %v", err)
		}
	}()

	<-done
	log.Println("scanorchd: shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
