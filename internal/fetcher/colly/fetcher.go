// Package collyfetcher implements sheetsim.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

const (
	defaultTimeout      = 20 * time.Second
	defaultMaxRedirects = 10
)

// Config controls collector behavior.
type Config struct {
	Timeout      time.Duration
	MaxBodySize  int
	MaxRedirects int
	// Headers are sent with every request in addition to the user agent.
	Headers http.Header
}

// DefaultHeaders mimic a desktop browser asking for an HTML page.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml"},
		"Accept-Language": {"en-US,en;q=0.9"},
	}
}

// Fetcher issues one GET per call from a clone of a shared collector, so
// concurrent jobs share the transport but not callbacks.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher. Redirects are followed up to cfg.MaxRedirects and
// robots.txt is not consulted: the URLs come from the spreadsheet.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	})
	// Clones share the HTTP client, so client-level settings are made once here.
	f := &Fetcher{cfg: cfg, base: c}
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(f.limitRedirects)
	return f
}

// Fetch performs the GET. Non-2xx responses and transport failures are
// errors; ctx cancellation abandons the in-flight visit.
func (f *Fetcher) Fetch(ctx context.Context, request sheetsim.FetchRequest) (sheetsim.FetchResponse, error) {
	v := &visit{start: time.Now()}
	c := f.base.Clone()
	if request.UserAgent != "" {
		c.UserAgent = request.UserAgent
	}
	c.OnRequest(f.addHeaders)
	c.OnResponse(v.response)
	c.OnError(v.failure)

	done := make(chan error, 1)
	go func() { done <- c.Visit(request.URL) }()
	select {
	case <-ctx.Done():
		return sheetsim.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
	case err := <-done:
		return v.outcome(request.URL, err)
	}
}

func (f *Fetcher) addHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func (f *Fetcher) limitRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) >= f.cfg.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	return nil
}

// visit collects the callbacks of a single collector run.
type visit struct {
	start time.Time

	mu   sync.Mutex
	resp sheetsim.FetchResponse
	err  error
}

func (v *visit) response(r *colly.Response) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resp = sheetsim.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) failure(r *colly.Response, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if r != nil && r.StatusCode != 0 {
		v.err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		return
	}
	v.err = err
}

func (v *visit) outcome(url string, visitErr error) (sheetsim.FetchResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.err != nil:
		return sheetsim.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, v.err)
	case visitErr != nil:
		return sheetsim.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, visitErr)
	default:
		return v.resp, nil
	}
}
