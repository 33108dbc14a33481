package crawler

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/proxypool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTarget(t *testing.T, raw string, opts Options) *Target {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return &Target{URL: u, Options: opts.Normalise()}
}

func TestDirectStrategySendsBrowserHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.UserAgent(), "Chrome")
		assert.Contains(t, r.Header.Get("Accept-Language"), "fa-IR")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>قانون مدنی</body></html>"))
	}))
	defer ts.Close()

	cfg := DefaultConfig()
	s := &headerStrategy{kind: KindDirect, fetcher: newFetcher(), cfg: cfg, userAgent: cfg.BrowserUserAgent, headers: browserHeaders(cfg.AcceptLanguage)}

	resp, err := s.Execute(context.Background(), newTarget(t, ts.URL+"/law/1", Options{}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "قانون مدنی")
	assert.Equal(t, ts.URL+"/law/1", resp.FinalURL)
}

func TestFetchNon2xxReturnsHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer ts.Close()

	resp, err := newFetcher().fetch(context.Background(), fetchRequest{URL: ts.URL, UserAgent: "test"})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFetchConnectionRefusedIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	resp, err := newFetcher().fetch(context.Background(), fetchRequest{URL: addr, UserAgent: "test"})

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrNetwork)
}

type staticResolver struct {
	addr  netip.Addr
	calls int
}

func (r *staticResolver) Resolve(ctx context.Context, host string) (netip.Addr, bool) {
	r.calls++
	return r.addr, r.addr.IsValid()
}

func TestDNSBypassDialsResolvedAddressKeepingHost(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Host, "majlis.test:"), "host header was %s", r.Host)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	_, port, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)

	resolver := &staticResolver{addr: netip.MustParseAddr("127.0.0.1")}
	s := &dnsBypassStrategy{fetcher: newFetcher(), cfg: DefaultConfig(), resolver: resolver}
	target := newTarget(t, "http://majlis.test:"+port+"/fa/law", Options{})

	s.Prepare(context.Background(), target)
	s.Prepare(context.Background(), target)
	require.True(t, s.Enabled(target))
	assert.Equal(t, 1, resolver.calls, "resolution happens once per target")

	resp, err := s.Execute(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestDNSBypassDisabledWithoutCandidate(t *testing.T) {
	s := &dnsBypassStrategy{fetcher: newFetcher(), cfg: DefaultConfig(), resolver: &staticResolver{}}

	target := newTarget(t, "https://eadl.ir/", Options{})
	s.Prepare(context.Background(), target)
	assert.False(t, s.Enabled(target))

	off := newTarget(t, "https://eadl.ir/", Options{DisableDNS: true})
	s.Prepare(context.Background(), off)
	assert.False(t, s.Enabled(off))
}

func TestProxyStrategyUsesTransportProxy(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "http://qavanin.test/Law/1", r.URL.String())
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	pool := proxypool.New(proxypool.Config{Iranian: []string{proxy.URL}})
	s := &proxyStrategy{fetcher: newFetcher(), cfg: DefaultConfig(), pool: pool}
	target := newTarget(t, "http://qavanin.test/Law/1", Options{})

	require.True(t, s.Enabled(target))
	resp, err := s.Execute(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "via proxy", string(resp.Body))
	assert.Equal(t, proxy.URL, resp.Proxy)
	assert.Zero(t, pool.ExcludedCount())
}

func TestProxyStrategyMarksFailedEndpoint(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	pool := proxypool.New(proxypool.Config{Iranian: []string{deadURL, "http://127.0.0.1:9"}})
	s := &proxyStrategy{fetcher: newFetcher(), cfg: DefaultConfig(), pool: pool}

	_, err := s.Execute(context.Background(), newTarget(t, "http://qavanin.test/", Options{TimeoutMs: 2000}))
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 1, pool.ExcludedCount())

	stats := pool.Stats()
	assert.Equal(t, 1, stats[0].ConsecutiveFailures)
	assert.True(t, stats[0].Excluded)
}

func TestProxyStrategyRelayEndpointPrefixesURL(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://dotic.ir/portal/law?id=7", r.URL.Query().Get("url"))
		_, _ = w.Write([]byte("relayed"))
	}))
	defer relay.Close()

	pool := proxypool.New(proxypool.Config{CorsRelays: []string{relay.URL + "/raw?url="}})
	s := &proxyStrategy{fetcher: newFetcher(), cfg: DefaultConfig(), pool: pool}

	resp, err := s.Execute(context.Background(), newTarget(t, "https://dotic.ir/portal/law?id=7", Options{}))
	require.NoError(t, err)
	assert.Equal(t, "relayed", string(resp.Body))
}

func TestCorsRelayStrategyRotatesRelays(t *testing.T) {
	var (
		mu   sync.Mutex
		hits []string
	)
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))
	defer relay.Close()

	cfg := DefaultConfig()
	s := &corsRelayStrategy{fetcher: newFetcher(), cfg: cfg, relays: []string{relay.URL + "/a?u=", relay.URL + "/b?u="}}
	target := newTarget(t, "https://rc.majlis.ir/fa/law/show/1", Options{})

	for range 3 {
		_, err := s.Execute(context.Background(), target)
		require.NoError(t, err)
	}
	mu.Lock()
	assert.Equal(t, []string{"/a", "/b", "/a"}, hits)
	mu.Unlock()

	assert.False(t, s.Enabled(newTarget(t, "https://rc.majlis.ir/", Options{DisableCorsRelay: true})))
}

func TestExecutorFallsThroughToMobileAgent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.UserAgent(), "iPhone") {
			http.Error(w, "desktop clients blocked", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("<html><title>قانون</title></html>"))
	}))
	defer ts.Close()

	cfg := DefaultConfig()
	cfg.StrategyDelay = 0
	cfg.AttemptDelay = 0
	cfg.CorsRelays = nil
	e := NewExecutor(cfg, allowAll{}, DefaultStrategies(cfg, nil, nil))

	res := e.Fetch(context.Background(), ts.URL, Options{MaxAttempts: 1})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "mobile-agent", res.StrategyUsed)

	outcomes := make([]Outcome, len(res.Attempts))
	for i, a := range res.Attempts {
		outcomes[i] = a.Outcome
	}
	assert.Equal(t, []Outcome{OutcomeHTTPError, OutcomeSkipped, OutcomeSkipped, OutcomeSkipped, OutcomeSuccess}, outcomes)
}

func TestZeroOptionsNormaliseToDefaults(t *testing.T) {
	assert.Equal(t, DefaultOptions(), Options{}.Normalise())
}

func TestZeroOptionsRunEveryStrategy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer ts.Close()

	cfg := DefaultConfig()
	cfg.StrategyDelay = 0
	cfg.AttemptDelay = 0
	cfg.CorsRelays = []string{ts.URL + "/raw?url="}
	pool := proxypool.New(proxypool.Config{Iranian: []string{ts.URL}})
	resolver := &staticResolver{addr: netip.MustParseAddr("127.0.0.1")}
	e := NewExecutor(cfg, allowAll{}, DefaultStrategies(cfg, pool, resolver))

	res := e.Fetch(context.Background(), ts.URL+"/fa/law", Options{})

	assert.False(t, res.Success)
	require.Len(t, res.Attempts, DefaultOptions().MaxAttempts*6)
	kinds := make([]Kind, 0, 6)
	for _, a := range res.Attempts[:6] {
		kinds = append(kinds, a.Strategy)
	}
	assert.Equal(t, []Kind{KindDirect, KindDNSBypass, KindProxy, KindCorsRelay, KindMobileAgent, KindCrawlerAgent}, kinds)
	for _, a := range res.Attempts {
		assert.Equal(t, OutcomeHTTPError, a.Outcome, "%s in attempt %d", a.Strategy, a.AttemptIndex)
	}
}

func TestPinnedDialsShareOneTransport(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	_, port, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)

	f := newFetcher()
	for _, host := range []string{"majlis.test", "qavanin.test", "eadl.test"} {
		resp, err := f.fetch(context.Background(), fetchRequest{
			URL:       "http://" + host + ":" + port + "/",
			UserAgent: "test",
			DialIP:    netip.MustParseAddr("127.0.0.1"),
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", string(resp.Body))
	}
	// A different answer for the same route reuses the pinned transport.
	_, _ = f.fetch(context.Background(), fetchRequest{
		URL:       "http://majlis.test:" + port + "/",
		UserAgent: "test",
		DialIP:    netip.MustParseAddr("127.0.0.2"),
		Timeout:   2 * time.Second,
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.transports, 1)
	assert.Contains(t, f.transports, "pinned")
}
