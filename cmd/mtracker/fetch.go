package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/hiveguard/mtracker/dhash"
	"github.com/hiveguard/mtracker/executor"
	"github.com/hiveguard/mtracker/proxy"
	"github.com/hiveguard/mtracker/store"
	"github.com/hiveguard/mtracker/types"
)

// fetchCommand runs a single module invocation against one proxy outside
// the scheduler/broker loop — an alternate entry point into the executor
// for ad-hoc testing of a module or a stored tracker config.
func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "run one module invocation outside the scheduler loop",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "hash", Usage: "config hash of an existing tracker to fetch against"},
			&cli.StringFlag{Name: "file", Usage: "path to a JSON static config file (used when --hash is not given)"},
			&cli.StringFlag{Name: "family", Usage: "module family (required with --file)"},
			&cli.StringFlag{Name: "country", Usage: "country to pick a stored proxy for (default: any)"},
			&cli.StringFlag{Name: "out", Value: "stdout", Usage: "where to write the result tree: stdout, db, or file"},
			&cli.StringFlag{Name: "out-file", Usage: "output path when --out=file"},
			&cli.Int64Flag{Name: "bot-id", Usage: "existing bot to attach the task/result rows to when --out=db"},
		},
		Action: runFetch,
	}
}

func runFetch(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()

	family := c.String("family")
	config, err := resolveFetchConfig(ctx, e, c.String("hash"), c.String("file"), &family)
	if err != nil {
		return err
	}
	if family == "" {
		return fmt.Errorf("fetch: --family is required when fetching from --file")
	}

	proxyAddr, err := resolveFetchProxy(ctx, e, c.String("country"))
	if err != nil {
		return err
	}

	out, err := executor.Execute(ctx, e.registry, e.logger, executor.Input{
		Family: family, Config: config, State: map[string]any{}, Proxy: proxyAddr,
	})
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	e.logger.Info("fetch complete", map[string]any{"family": family, "status": out.Status.String()})
	return writeFetchOutput(ctx, e, c, out)
}

func resolveFetchConfig(ctx context.Context, e *env, hash, file string, family *string) (map[string]any, error) {
	if hash != "" {
		tracker, err := e.store.GetTrackerByHash(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("fetch: look up tracker by hash: %w", err)
		}
		*family = tracker.Family
		cfg := make(map[string]any, len(tracker.Config)+1)
		for k, v := range tracker.Config {
			cfg[k] = v
		}
		cfg["_id"] = tracker.ConfigHash
		return cfg, nil
	}

	if file == "" {
		return nil, fmt.Errorf("fetch: one of --hash or --file is required")
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("fetch: read config file: %w", err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("fetch: parse config file: %w", err)
	}
	cfg["_id"] = dhash.Hash(cfg)
	return cfg, nil
}

func resolveFetchProxy(ctx context.Context, e *env, country string) (string, error) {
	proxies, err := e.store.ListProxies(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch: list proxies: %w", err)
	}
	pool := proxy.NewPool(proxies)
	p, err := pool.PickRandom(country)
	if err != nil {
		// No proxy configured for the requested country is not fatal for
		// a one-off fetch — fall back to a direct connection.
		e.logger.Warn("no proxy available, connecting directly", map[string]any{"country": country})
		return "", nil
	}
	return p.ConnectionString(), nil
}

func writeFetchOutput(ctx context.Context, e *env, c *cli.Context, out executor.Output) error {
	switch c.String("out") {
	case "stdout":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Tree.ToMapRecursive())
	case "file":
		path := c.String("out-file")
		if path == "" {
			return fmt.Errorf("fetch: --out-file is required when --out=file")
		}
		data, err := json.MarshalIndent(out.Tree.ToMapRecursive(), "", "  ")
		if err != nil {
			return fmt.Errorf("fetch: marshal result tree: %w", err)
		}
		return os.WriteFile(path, data, 0o644)
	case "db":
		botID := c.Int64("bot-id")
		if botID == 0 {
			return fmt.Errorf("fetch: --bot-id is required when --out=db")
		}
		return persistFetchResult(ctx, e.store, botID, out)
	default:
		return fmt.Errorf("fetch: unknown --out value %q", c.String("out"))
	}
}

func persistFetchResult(ctx context.Context, s store.Store, botID int64, out executor.Output) error {
	taskID, err := s.CreateTask(ctx, botID, types.StatusInProgress)
	if err != nil {
		return fmt.Errorf("fetch: create task: %w", err)
	}
	for _, child := range out.Tree.Children {
		name := child.ConfigType
		if name == "" {
			name = child.Name
		}
		if _, err := s.CreateResult(ctx, taskID, string(child.Kind), name, "", child.Tags); err != nil {
			return fmt.Errorf("fetch: create result row: %w", err)
		}
	}
	return s.UpdateTaskAfterRun(ctx, taskID, out.Status)
}
