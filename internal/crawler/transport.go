package crawler

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/netip"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// tracingRoundTripper captures HTTP trace metrics for each request
type tracingRoundTripper struct {
	transport http.RoundTripper
	metrics   *PerformanceMetrics
	dialIP    netip.Addr
}

// RoundTrip implements the http.RoundTripper interface with httptrace instrumentation
func (t *tracingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var dnsStartTime, connectStartTime, tlsStartTime time.Time
	requestStartTime := time.Now()
	metrics := t.metrics

	trace := &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			dnsStartTime = time.Now()
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			if !dnsStartTime.IsZero() {
				metrics.DNSLookupTime = time.Since(dnsStartTime).Milliseconds()
			}
		},
		ConnectStart: func(network, addr string) {
			connectStartTime = time.Now()
		},
		ConnectDone: func(network, addr string, err error) {
			if err == nil && !connectStartTime.IsZero() {
				metrics.TCPConnectionTime = time.Since(connectStartTime).Milliseconds()
			}
		},
		TLSHandshakeStart: func() {
			tlsStartTime = time.Now()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if err == nil && !tlsStartTime.IsZero() {
				metrics.TLSHandshakeTime = time.Since(tlsStartTime).Milliseconds()
			}
		},
		GotFirstResponseByte: func() {
			metrics.TTFB = time.Since(requestStartTime).Milliseconds()
		},
	}

	ctx := httptrace.WithClientTrace(req.Context(), trace)
	if t.dialIP.IsValid() {
		ctx = withDialAddr(ctx, t.dialIP)
	}
	return t.transport.RoundTrip(req.WithContext(ctx))
}

// fetchRequest describes one HTTP exchange made on behalf of a strategy.
type fetchRequest struct {
	URL       string
	UserAgent string
	Headers   http.Header
	Timeout   time.Duration
	Proxy     *url.URL   // Optional upstream proxy
	DialIP    netip.Addr // Optional pinned address; Host and SNI stay on the hostname
}

// fetcher performs requests through colly. Transports are cached per proxy
// endpoint plus one for direct requests and one for pinned dials, so the cache
// is bounded by the configured pool size.
type fetcher struct {
	mu         sync.Mutex
	transports map[string]*http.Transport
}

type dialAddrKey struct{}

// withDialAddr pins the address the next dial on a pinned transport connects to.
func withDialAddr(ctx context.Context, ip netip.Addr) context.Context {
	return context.WithValue(ctx, dialAddrKey{}, ip)
}

func newFetcher() *fetcher {
	return &fetcher{transports: make(map[string]*http.Transport)}
}

func (f *fetcher) transport(proxy *url.URL, pinned bool) *http.Transport {
	key := "direct"
	switch {
	case proxy != nil:
		key = "proxy:" + proxy.String()
	case pinned:
		key = "pinned"
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if tr, ok := f.transports[key]; ok {
		return tr
	}

	dialer := &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext:         dialer.DialContext,
	}
	if proxy != nil {
		tr.Proxy = http.ProxyURL(proxy)
	}
	if pinned {
		tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if ip, ok := ctx.Value(dialAddrKey{}).(netip.Addr); ok && ip.IsValid() {
				_, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				addr = net.JoinHostPort(ip.String(), port)
			}
			return dialer.DialContext(ctx, network, addr)
		}
	}

	f.transports[key] = tr
	return tr
}

// fetch runs a single colly visit. A completed exchange always yields a Response;
// non-2xx statuses additionally return an *HTTPError.
func (f *fetcher) fetch(ctx context.Context, req fetchRequest) (*Response, error) {
	metrics := &PerformanceMetrics{}
	client := &http.Client{
		Timeout: req.Timeout,
		Transport: &tracingRoundTripper{
			transport: f.transport(req.Proxy, req.DialIP.IsValid()),
			metrics:   metrics,
			dialIP:    req.DialIP,
		},
	}

	c := colly.NewCollector(
		colly.UserAgent(req.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	c.SetClient(client)

	c.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}

		log.Debug().
			Str("url", r.URL.String()).
			Msg("Sending request")
	})

	start := time.Now()
	var resp *Response
	c.OnResponse(func(r *colly.Response) {
		if metrics.TTFB > 0 {
			metrics.ContentTransferTime = time.Since(start).Milliseconds() - metrics.TTFB
		}
		resp = &Response{
			StatusCode:  r.StatusCode,
			Headers:     r.Headers.Clone(),
			Body:        r.Body,
			FinalURL:    r.Request.URL.String(),
			Performance: *metrics,
		}
		if req.Proxy != nil {
			resp.Proxy = req.Proxy.String()
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(req.URL)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if resp == nil {
		if err == nil {
			err = fmt.Errorf("no response received")
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &HTTPError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func browserHeaders(acceptLanguage string) http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

func crawlerHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	h.Set("From", "googlebot(at)googlebot.com")
	return h
}
