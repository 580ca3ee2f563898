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

const shutdownTimeout = 15 * time.Second

func getEnvDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func main() {
	configPath := flag.String("config", getEnvDefault("DS_CONFIG", ""), "YAML or TOML config file, looked up in $DS_HOME or ~/.dataspace when not found (defaults apply when empty)")
	validateOnly := flag.Bool("validate", false, "Validate the configuration and exit")
	flag.Parse()

	path, err := config.DefaultPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config path: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "Configuration is invalid:\n")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		os.Exit(1)
	}
	if *validateOnly {
		fmt.Println("Configuration is valid")
		return
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.ComponentInfo(logging.ComponentGeneral, "Connector configuration loaded",
		zap.String("config", *configPath),
		zap.String("participant_id", cfg.Participant.ID),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("data_plane", cfg.DataPlane.Enabled),
		zap.Bool("federated_catalog", cfg.FederatedCatalog.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg, logger)
	if err != nil {
		logger.ComponentError(logging.ComponentGeneral, "Failed to assemble connector", zap.Error(err))
		os.Exit(1)
	}
	if err := rt.Run(ctx, shutdownTimeout); err != nil {
		logger.ComponentError(logging.ComponentGeneral, "Connector stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.ComponentInfo(logging.ComponentGeneral, "Connector shutdown complete")
}
