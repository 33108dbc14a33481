package proxypool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Iranian:       []string{"http://10.0.0.1:8080", "http://10.0.0.2:8080"},
		International: []string{"socks5://203.0.113.7:1080"},
		CorsRelays:    []string{"https://relay.example.org/?url="},
	}
}

func TestNextVisitsEveryEndpointOnce(t *testing.T) {
	p := New(testConfig())
	n := p.Size()
	require.Equal(t, 4, n)

	seen := make(map[string]int)
	for range n {
		ep, ok := p.Next()
		require.True(t, ok)
		seen[ep.Address]++
	}

	assert.Len(t, seen, n)
	for addr, count := range seen {
		assert.Equal(t, 1, count, "endpoint %s visited more than once", addr)
	}

	// The next call wraps back to the first endpoint.
	ep, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.1:8080", ep.Address)
}

func TestNextPreservesPoolOrderAndKinds(t *testing.T) {
	p := New(testConfig())

	want := []struct {
		addr string
		kind Kind
	}{
		{"http://10.0.0.1:8080", KindIranian},
		{"http://10.0.0.2:8080", KindIranian},
		{"socks5://203.0.113.7:1080", KindInternational},
		{"https://relay.example.org/?url=", KindCorsRelay},
	}
	for _, w := range want {
		ep, ok := p.Next()
		require.True(t, ok)
		assert.Equal(t, w.addr, ep.Address)
		assert.Equal(t, w.kind, ep.Kind)
		assert.False(t, ep.LastUsedAt.IsZero())
	}
}

func TestNextSkipsExcludedEndpoints(t *testing.T) {
	p := New(testConfig())

	first, _ := p.Next()
	p.MarkFailed(first)

	for range 6 {
		ep, ok := p.Next()
		require.True(t, ok)
		assert.NotEqual(t, first.Address, ep.Address)
	}
}

func TestMarkFailedDoesNotMoveCursor(t *testing.T) {
	p := New(testConfig())

	_, _ = p.Next() // cursor -> 1
	p.MarkFailed(Endpoint{Address: "socks5://203.0.113.7:1080"})

	ep, _ := p.Next()
	assert.Equal(t, "http://10.0.0.2:8080", ep.Address)

	ep, _ = p.Next()
	assert.Equal(t, "https://relay.example.org/?url=", ep.Address)
}

func TestImplicitResetWhenAllExcluded(t *testing.T) {
	p := New(testConfig())

	for _, st := range p.Stats() {
		p.MarkFailed(st.Endpoint)
	}
	require.Equal(t, p.Size(), p.ExcludedCount())

	ep, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.1:8080", ep.Address)
	assert.Equal(t, 0, p.ExcludedCount())
}

func TestResetMakesEndpointsEligibleAgain(t *testing.T) {
	p := New(testConfig())
	target := Endpoint{Address: "http://10.0.0.2:8080"}

	p.MarkFailed(target)
	p.MarkFailed(target)
	p.Reset()

	assert.Equal(t, 0, p.ExcludedCount())
	for _, st := range p.Stats() {
		if st.Address == target.Address {
			assert.Equal(t, 2, st.ConsecutiveFailures)
			assert.False(t, st.Excluded)
		}
	}

	p.MarkSucceeded(target)
	for _, st := range p.Stats() {
		if st.Address == target.Address {
			assert.Equal(t, 0, st.ConsecutiveFailures)
		}
	}
}

func TestEmptyPool(t *testing.T) {
	p := New(Config{Iranian: []string{"", "  "}})

	_, ok := p.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, p.Size())
}

func TestDuplicatesDropped(t *testing.T) {
	p := New(Config{
		Iranian:       []string{"http://10.0.0.1:8080"},
		International: []string{"http://10.0.0.1:8080", "http://198.51.100.4:3128"},
	})

	assert.Equal(t, 2, p.Size())
}

func TestConcurrentNextAndMarkFailed(t *testing.T) {
	p := New(testConfig())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				ep, ok := p.Next()
				if !ok {
					t.Error("pool unexpectedly empty")
					return
				}
				p.MarkFailed(ep)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.ExcludedCount(), p.Size())
}
