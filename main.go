package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packhouse/coldstore/audit"
	"github.com/packhouse/coldstore/config"
	"github.com/packhouse/coldstore/repository"
	"github.com/packhouse/coldstore/server"
	service_registry "github.com/packhouse/coldstore/srvreg"
)

var (
	configPath   string
	httpPort     string
	postgresHost string
	badgerDir    string
	seed         bool
)

func init() {
	flag.StringVar(&configPath, "config", "./coldstore.yaml", "Path to the config file")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides config)")
	flag.StringVar(&postgresHost, "postgres-host", "", "DB host address (overrides config DSN)")
	flag.StringVar(&badgerDir, "badger-dir", "", "Audit ledger directory (overrides config)")
	flag.BoolVar(&seed, "seed", false, "Seed demo operators and batches")
}

func main() {
	// Load Config
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if httpPort != "" {
		cfg.HTTPPort = httpPort
	}
	if postgresHost != "" {
		cfg.PostgresDSN = fmt.Sprintf("postgresql://postgres:postgrespassword@%s/postgres", postgresHost)
	}
	if badgerDir != "" {
		cfg.BadgerDir = badgerDir
	}
	if seed {
		cfg.Seed = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Connect Postgresql DB
	repo := repository.NewRepository(cfg, logger)
	logger.Info("Connecting to database", "dsn", cfg.PostgresDSN)
	if err := repo.ConnectDB(cfg.PostgresDSN); err != nil {
		log.Fatalf("Connecting to database: %v", err)
	}
	if err := repo.Migrate(); err != nil {
		log.Fatalf("Migrating database: %v", err)
	}
	if cfg.Seed {
		repo.Seed()
	}

	// Open the audit ledger
	ledger, err := audit.Open(cfg.BadgerDir, logger)
	if err != nil {
		log.Fatalf("Opening audit ledger: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("Closing audit ledger", "err", err)
		}
	}()

	// Initialize Service Registry
	serviceRegistry := service_registry.NewServiceRegistry(repo, logger)
	serviceRegistry.RegisterDefaultServices()

	// Start Web Server
	webserver := server.NewWebServer(cfg.HTTPPort, logger, serviceRegistry, ledger)
	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	// Create deadline to wait for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := webserver.Shutdown(ctx); err != nil {
		logger.Error("Shutting down HTTP web server", "err", err)
	}
	logger.Info("HTTP web server gracefully stopped")
}
