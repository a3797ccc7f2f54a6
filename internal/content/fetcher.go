// Package content turns a URL into validated article text for one job run.
package content

import (
	"context"
	"errors"
	"math/rand"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sheet-similarity/internal/metrics"
	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

// DefaultTimeout bounds a single page fetch.
const DefaultTimeout = 20 * time.Second

// DefaultUserAgents is the pool a request's user agent is drawn from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
}

// Archive receives every accepted text. Archive failures never fail a fetch.
type Archive struct {
	Store  sheetsim.BlobStore
	Hasher sheetsim.Hasher
	Prefix string
	JobID  string
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimits overrides the validation limits.
func WithLimits(l Limits) Option {
	return func(f *Fetcher) { f.limits = l }
}

// WithUserAgents overrides the user agent pool.
func WithUserAgents(agents []string) Option {
	return func(f *Fetcher) {
		if len(agents) > 0 {
			f.userAgents = append([]string(nil), agents...)
		}
	}
}

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithArchive stores accepted texts in a blob store.
func WithArchive(a Archive) Option {
	return func(f *Fetcher) {
		if a.Store != nil && a.Hasher != nil {
			f.archive = &a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPicker replaces the random user agent choice; pick returns an index in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(f *Fetcher) {
		if pick != nil {
			f.pick = pick
		}
	}
}

// Fetcher is scoped to a single job run. Its cache is not safe for
// concurrent use; a job processes rows one at a time.
type Fetcher struct {
	pages      sheetsim.PageFetcher
	extractor  sheetsim.Extractor
	limits     Limits
	userAgents []string
	timeout    time.Duration
	archive    *Archive
	logger     *zap.Logger
	pick       func(n int) int
	cache      map[string]string
}

// NewFetcher builds a run-scoped fetcher.
func NewFetcher(pages sheetsim.PageFetcher, extractor sheetsim.Extractor, opts ...Option) *Fetcher {
	metrics.Init()
	f := &Fetcher{
		pages:      pages,
		extractor:  extractor,
		limits:     DefaultLimits(),
		userAgents: DefaultUserAgents,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
		pick:       rand.Intn,
		cache:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NormalizeURL trims rawURL and adds https:// when no http(s) scheme is present.
func NormalizeURL(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + u
}

// Fetch returns validated text for rawURL. Failures are *FetchError values
// and are not cached.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u := NormalizeURL(rawURL)
	if text, ok := f.cache[u]; ok {
		return text, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	resp, err := f.pages.Fetch(fetchCtx, sheetsim.FetchRequest{URL: u, UserAgent: f.userAgent()})
	if err != nil {
		metrics.ObservePageFetch(u, "error")
		return "", f.fail(u, ReasonFetch, err)
	}
	metrics.ObservePageFetch(u, "ok")

	pageURL := resp.URL
	if pageURL == "" {
		pageURL = u
	}
	text, err := f.extractor.Extract(resp.Body, pageURL)
	if err != nil {
		return "", f.fail(u, ReasonEmpty, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", f.fail(u, ReasonEmpty, nil)
	}
	if reason := f.limits.Validate(text); reason != "" {
		return "", f.fail(u, reason, nil)
	}

	f.cache[u] = text
	f.store(ctx, u, text)
	return text, nil
}

// Cached reports how many URLs hold validated text in this run.
func (f *Fetcher) Cached() int {
	return len(f.cache)
}

func (f *Fetcher) userAgent() string {
	if len(f.userAgents) == 0 {
		return ""
	}
	return f.userAgents[f.pick(len(f.userAgents))]
}

func (f *Fetcher) fail(u, reason string, err error) error {
	metrics.ObserveContentFailure(reason)
	return &FetchError{URL: u, Reason: reason, Err: err}
}

func (f *Fetcher) store(ctx context.Context, u, text string) {
	if f.archive == nil {
		return
	}
	digest, err := f.archive.Hasher.Hash([]byte(u))
	if err != nil {
		f.logger.Warn("hash archived url", zap.String("url", u), zap.Error(err))
		return
	}
	key := path.Join(f.archive.Prefix, f.archive.JobID, digest+".txt")
	uri, err := f.archive.Store.PutObject(ctx, key, "text/plain; charset=utf-8", strings.NewReader(text))
	if err != nil {
		f.logger.Warn("archive page text", zap.String("url", u), zap.Error(err))
		return
	}
	f.logger.Debug("archived page text", zap.String("url", u), zap.String("uri", uri))
}

// Reason extracts the failure reason from err, or "" when err is not a FetchError.
func Reason(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}
