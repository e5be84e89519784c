package proxy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveguard/mtracker/proxy"
	"github.com/hiveguard/mtracker/types"
)

func proxies() []types.Proxy {
	return []types.Proxy{
		{ProxyID: 1, Host: "a.example", Port: 1080, Country: "PL"},
		{ProxyID: 2, Host: "b.example", Port: 1080, Country: "PL"},
		{ProxyID: 3, Host: "c.example", Port: 1080, Country: "US", Username: "u", Password: "p"},
	}
}

func TestByCountryAndCount(t *testing.T) {
	pool := proxy.NewPool(proxies())
	assert.Len(t, pool.ByCountry("PL"), 2)
	assert.Len(t, pool.ByCountry("US"), 1)
	assert.Empty(t, pool.ByCountry("DE"))
	assert.Equal(t, 3, pool.Count())
}

func TestPickRandomNoCandidates(t *testing.T) {
	pool := proxy.NewPool(proxies())
	_, err := pool.PickRandom("DE")
	require.ErrorIs(t, err, proxy.ErrNoProxyForCountry)
}

func TestPickRandomReturnsCandidate(t *testing.T) {
	pool := proxy.NewPool(proxies())
	px, err := pool.PickRandom("PL")
	require.NoError(t, err)
	assert.Equal(t, "PL", px.Country)
}

func TestSynchronizeInsertsAndDeletesBySymmetricDiff(t *testing.T) {
	existing := []types.Proxy{
		{ProxyID: 1, Host: "a.example", Port: 1080, Country: "PL"},
		{ProxyID: 2, Host: "stale.example", Port: 1080, Country: "PL"},
	}
	fresh := []types.Proxy{
		{Host: "a.example", Port: 1080, Country: "PL"}, // unchanged, ProxyID unset
		{Host: "new.example", Port: 1080, Country: "US"},
	}

	diff := proxy.Synchronize(existing, fresh)
	require.Len(t, diff.Insert, 1)
	assert.Equal(t, "new.example", diff.Insert[0].Host)
	require.Len(t, diff.Delete, 1)
	assert.Equal(t, "stale.example", diff.Delete[0].Host)
}

func TestSynchronizeNoOpWhenIdentical(t *testing.T) {
	existing := proxies()
	fresh := []types.Proxy{
		{Host: "a.example", Port: 1080, Country: "PL"},
		{Host: "b.example", Port: 1080, Country: "PL"},
		{Host: "c.example", Port: 1080, Country: "US", Username: "u", Password: "p"},
	}
	diff := proxy.Synchronize(existing, fresh)
	assert.Empty(t, diff.Insert)
	assert.Empty(t, diff.Delete)
}

func TestConnectionStringWithAndWithoutAuth(t *testing.T) {
	noAuth := types.Proxy{Host: "a.example", Port: 1080}
	assert.Equal(t, "socks5h://a.example:1080", noAuth.ConnectionString())

	withAuth := types.Proxy{Host: "a.example", Port: 1080, Username: "u", Password: "p"}
	assert.Equal(t, "socks5h://u:p@a.example:1080", withAuth.ConnectionString())
}
