package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hiveguard/mtracker/artifactstore"
	"github.com/hiveguard/mtracker/broker"
	"github.com/hiveguard/mtracker/cli/config"
	"github.com/hiveguard/mtracker/internal/demomodule"
	"github.com/hiveguard/mtracker/iox"
	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/registry"
	"github.com/hiveguard/mtracker/store"
)

// env bundles the components every subcommand wires together, built
// once from the loaded config. The module registry is loaded once at
// worker start and read only thereafter — no in-process shared mutable
// state to guard.
type env struct {
	cfg      config.Config
	store    store.Store
	broker   *broker.Broker
	logger   *log.Logger
	registry *registry.Registry
	artifact *artifactstore.Client
}

func loadEnv(c *cli.Context) (*env, error) {
	cfgPath := c.String("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := log.NewLogger(log.Context{})

	s, err := store.Open(cfg.Database.URL, cfg.Mtracker.MaxFailingSpree)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	b, err := broker.New(broker.Config{URL: cfg.RedisURL(), Timeout: 5 * time.Second, Retries: 3})
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	reg := registry.New()
	reg.Register(demomodule.Factory{})

	artifact := artifactstore.New(resolveMwdbURL(*cfg), cfg.Mwdb.Token)

	return &env{cfg: *cfg, store: s, broker: b, logger: logger, registry: reg, artifact: artifact}, nil
}

func resolveMwdbURL(cfg config.Config) string {
	if cfg.Mwdb.APIURLOverride != "" {
		return cfg.Mwdb.APIURLOverride
	}
	return cfg.Mwdb.URL
}

func (e *env) Close() {
	iox.DiscardClose(e.store)
	iox.DiscardClose(e.broker)
}
