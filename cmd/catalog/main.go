// Command catalog runs a standalone federated catalog node: it crawls the
// participants listed in its node directory and serves the cached catalogs
// on the catalog query endpoint. It has no embedded data plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/runtime"
)

func main() {
	configPath := flag.String("config", os.Getenv("DS_CONFIG"), "Path to a YAML or TOML config file")
	nodes := flag.String("nodes", "", "Node directory file (overrides federated_catalog.directory.file)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.FederatedCatalog.Enabled = true
	cfg.DataPlane.Enabled = false
	if *nodes != "" {
		cfg.FederatedCatalog.Directory.Type = "file"
		cfg.FederatedCatalog.Directory.File = *nodes
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", e)
		}
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg, logger)
	if err != nil {
		logger.ComponentError(logging.ComponentCatalog, "Failed to assemble catalog node", zap.Error(err))
		os.Exit(1)
	}
	logger.ComponentInfo(logging.ComponentCatalog, "Federated catalog starting",
		zap.String("participant_id", cfg.Participant.ID),
		zap.String("cache", cfg.FederatedCatalog.Cache.Backend),
		zap.Duration("period", cfg.FederatedCatalog.ExecutionPeriod),
	)
	if err := rt.Run(ctx, 10*time.Second); err != nil {
		logger.ComponentError(logging.ComponentCatalog, "Catalog node stopped with error", zap.Error(err))
		os.Exit(1)
	}
}
