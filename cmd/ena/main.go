// Command ena is the process entrypoint: load configuration, construct the
// shared logger/metrics/store, build the Supervisor, and run until
// SIGINT/SIGTERM. CLI surface is deliberately minimal (spec.md §1 marks
// the CLI entrypoint out of scope beyond this).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/PluieElectrique/ena/internal/config"
	"github.com/PluieElectrique/ena/internal/logging"
	"github.com/PluieElectrique/ena/internal/metrics"
	"github.com/PluieElectrique/ena/internal/persistence"
	"github.com/PluieElectrique/ena/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "ena.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := logging.FromEnv()

	cfg, err := config.Load(*configPath)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load configuration", "err", err)
		return 1
	}

	store, err := persistence.Open(cfg.DatabaseMedia.DatabaseURL, cfg.AsagiCompat.AdjustTimestamps, cfg.AsagiCompat.CreateIndexCounters)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open database", "err", err)
		return 1
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	sv := supervisor.New(cfg, logger, m, store, afero.NewOsFs())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level.Info(logger).Log("msg", "starting ena", "boards", fmt.Sprint(cfg.BoardNames()))
	if err := sv.Run(ctx); err != nil {
		level.Error(logger).Log("msg", "supervisor exited with error", "err", err)
		return 1
	}
	return 0
}
