// Package proxy implements the proxy pool (component C): proxies grouped
// by country with a symmetric-diff synchronization against an externally
// sourced proxy list.
//
// Grounded directly on model.py's Proxy class, get_countries, and
// synchronize_proxies — the country-grouping + diff-by-identity model.
// This is deliberately simpler than a strategy-based selector
// (round-robin/random/sticky): mtracker picks uniformly at random within
// a country and has no concept of strategies or stickiness.
package proxy

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/hiveguard/mtracker/types"
)

// ErrNoProxyForCountry is returned by Pool.PickRandom when a country has
// no candidate proxies.
var ErrNoProxyForCountry = fmt.Errorf("no proxy available for country")

// Pool holds the full set of known proxies grouped by country.
type Pool struct {
	byCountry map[string][]types.Proxy
}

// NewPool builds a Pool from a flat proxy list.
func NewPool(proxies []types.Proxy) *Pool {
	p := &Pool{byCountry: make(map[string][]types.Proxy)}
	for _, px := range proxies {
		p.byCountry[px.Country] = append(p.byCountry[px.Country], px)
	}
	return p
}

// ByCountry returns the proxies known for a country, or nil.
func (p *Pool) ByCountry(country string) []types.Proxy {
	return p.byCountry[country]
}

// Countries returns every country with at least one proxy.
func (p *Pool) Countries() []string {
	countries := make([]string, 0, len(p.byCountry))
	for c := range p.byCountry {
		countries = append(countries, c)
	}
	return countries
}

// Count returns the total number of proxies across all countries.
func (p *Pool) Count() int {
	n := 0
	for _, list := range p.byCountry {
		n += len(list)
	}
	return n
}

// PickRandom selects one proxy uniformly at random from a country's
// candidates, mirroring scheduler.py's random.choice(proxy_candidates).
func (p *Pool) PickRandom(country string) (types.Proxy, error) {
	candidates := p.byCountry[country]
	if len(candidates) == 0 {
		return types.Proxy{}, fmt.Errorf("%w: %s", ErrNoProxyForCountry, country)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	idx, err := randInt(len(candidates))
	if err != nil {
		return types.Proxy{}, err
	}
	return candidates[idx], nil
}

func randInt(n int) (int, error) {
	bigIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random proxy selection: %w", err)
	}
	return int(bigIdx.Int64()), nil
}

// Diff is the result of comparing an existing proxy list against a newly
// fetched one: proxies present in New but not Existing (by identity) must
// be inserted; proxies present in Existing but not New must be deleted.
type Diff struct {
	Insert []types.Proxy
	Delete []types.Proxy
}

// Synchronize computes the symmetric diff between the currently known
// proxies and a freshly fetched list, by identity tuple (host, port,
// country, username, password). This is the exact algorithm from
// model.py's synchronize_proxies: every existing proxy starts in the
// delete set; any new proxy matching an existing identity is removed from
// the delete set instead of being inserted; every remaining new proxy is
// inserted.
func Synchronize(existing, fresh []types.Proxy) Diff {
	toDelete := make(map[types.ProxyIdentity]types.Proxy, len(existing))
	for _, px := range existing {
		toDelete[px.Identity()] = px
	}

	var toInsert []types.Proxy
	for _, px := range fresh {
		id := px.Identity()
		if _, ok := toDelete[id]; ok {
			delete(toDelete, id)
			continue
		}
		toInsert = append(toInsert, px)
	}

	deleted := make([]types.Proxy, 0, len(toDelete))
	for _, px := range toDelete {
		deleted = append(deleted, px)
	}

	return Diff{Insert: toInsert, Delete: deleted}
}
