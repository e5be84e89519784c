// Package ingest is the Tracker API ingest path (component I): accepts a
// new static config, creates or reuses a tracker row, and fans out one
// bot per eligible country.
//
// Grounded on server.py's track_config: existing trackers are reused by
// config hash, already-tracked countries are skipped, and a module's
// proxy whitelist (when non-nil) restricts which countries get a bot.
// The HTTP/HTML surface server.py wraps this in is explicitly out of
// scope; this package is just the operation.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/hiveguard/mtracker/dhash"
	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/registry"
	"github.com/hiveguard/mtracker/store"
)

// Result mirrors track_config's returned dict.
type Result struct {
	NewTracker bool
	TrackerID  int64
	BotIDs     []int64
}

// ErrUnsupportedFamily is returned when no module is registered for the
// requested family.
var ErrUnsupportedFamily = fmt.Errorf("unsupported family")

// ErrNoProxies is returned when the proxy pool is empty: track_config
// has nowhere to place a bot, so the request is rejected outright
// rather than silently creating a tracker with zero bots.
var ErrNoProxies = fmt.Errorf("no proxies configured")

// Ingestor ties the module registry, proxy pool, and persistence layer
// together for the track operation.
type Ingestor struct {
	store  store.Store
	reg    *registry.Registry
	logger *log.Logger
}

func New(s store.Store, reg *registry.Registry, logger *log.Logger) *Ingestor {
	return &Ingestor{store: s, reg: reg, logger: logger}
}

// Track creates or reuses a tracker for (family, config) and creates a
// bot for every proxy country not already tracked and not excluded by
// the module's proxy whitelist.
func (i *Ingestor) Track(ctx context.Context, family string, config map[string]any) (Result, error) {
	factory, err := i.reg.Lookup(family)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w: %s", ErrUnsupportedFamily, family)
	}

	proxies, err := i.proxyCountries(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(proxies) == 0 {
		return Result{}, fmt.Errorf("ingest: %w", ErrNoProxies)
	}

	hash := dhash.Hash(config)
	i.logger.Info("tracking config", map[string]any{"family": family, "config_hash": hash})

	tracker, err := i.store.GetTrackerByHash(ctx, hash)
	switch {
	case err == nil:
		return i.fanOutExisting(ctx, factory, tracker.TrackerID, proxies)
	case errors.Is(err, store.ErrNotFound):
		return i.createTrackerAndFanOut(ctx, factory, hash, config, proxies)
	default:
		return Result{}, fmt.Errorf("ingest: lookup tracker by hash: %w", err)
	}
}

// fanOutExisting creates a bot for every country in proxies not already
// tracked by trackerID and permitted by the module's whitelist, all as
// one CreateBotsForTracker call — track_config's "In one transaction"
// fan-out for a reused tracker.
func (i *Ingestor) fanOutExisting(ctx context.Context, factory registry.Factory, trackerID int64, proxies []string) (Result, error) {
	bots, err := i.store.ListBotsForTracker(ctx, trackerID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: list bots for existing tracker: %w", err)
	}
	result := Result{TrackerID: trackerID}
	trackedCountries := make(map[string]bool, len(bots))
	for _, b := range bots {
		result.BotIDs = append(result.BotIDs, b.BotID)
		trackedCountries[b.Country] = true
	}

	toAdd := eligibleCountries(proxies, trackedCountries, factory, i.logger)
	botIDs, err := i.store.CreateBotsForTracker(ctx, trackerID, factory.Family(), toAdd)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: create bots for existing tracker: %w", err)
	}
	result.BotIDs = append(result.BotIDs, botIDs...)
	for _, country := range toAdd {
		i.logger.Info("created bot", map[string]any{"tracker_id": trackerID, "country": country})
	}
	return result, nil
}

// createTrackerAndFanOut creates a brand-new tracker plus its initial bot
// fan-out as a single CreateTrackerWithBots call — track_config's "In one
// transaction" for a tracker that has never been seen before.
func (i *Ingestor) createTrackerAndFanOut(ctx context.Context, factory registry.Factory, hash string, config map[string]any, proxies []string) (Result, error) {
	toAdd := eligibleCountries(proxies, nil, factory, i.logger)
	trackerID, botIDs, err := i.store.CreateTrackerWithBots(ctx, hash, config, factory.Family(), toAdd)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: create tracker with bots: %w", err)
	}
	for _, country := range toAdd {
		i.logger.Info("created bot", map[string]any{"tracker_id": trackerID, "country": country})
	}
	return Result{NewTracker: true, TrackerID: trackerID, BotIDs: botIDs}, nil
}

// eligibleCountries filters proxies down to the countries a new bot
// should be created for: not already tracked, and not excluded by the
// module's proxy whitelist.
func eligibleCountries(proxies []string, trackedCountries map[string]bool, factory registry.Factory, logger *log.Logger) []string {
	whitelist := whitelistSet(factory.ProxyWhitelist())
	family := factory.Family()

	var out []string
	for _, country := range proxies {
		if trackedCountries[country] {
			logger.Debug("country already tracked", map[string]any{"country": country})
			continue
		}
		if whitelist != nil && !whitelist[country] {
			logger.Debug("country not whitelisted by module", map[string]any{"country": country, "family": family})
			continue
		}
		out = append(out, country)
	}
	return out
}

// proxyCountries lists every country with at least one known proxy,
// matching server.py's model.Proxy.get_countries(cur).keys().
func (i *Ingestor) proxyCountries(ctx context.Context) ([]string, error) {
	proxies, err := i.store.ListProxies(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: list proxies: %w", err)
	}
	seen := make(map[string]bool)
	var countries []string
	for _, p := range proxies {
		if !seen[p.Country] {
			seen[p.Country] = true
			countries = append(countries, p.Country)
		}
	}
	return countries, nil
}

func whitelistSet(whitelist []string) map[string]bool {
	if whitelist == nil {
		return nil
	}
	set := make(map[string]bool, len(whitelist))
	for _, c := range whitelist {
		set[c] = true
	}
	return set
}

