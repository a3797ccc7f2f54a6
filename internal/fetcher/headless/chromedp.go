// Package headless fetches pages through headless Chrome for sites that only
// render their article body with JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

const (
	defaultNavTimeout = 20 * time.Second
	defaultParallel   = 1
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs; zero means one.
	MaxParallel       int
	NavigationTimeout time.Duration
	Headers           http.Header
}

// Fetcher implements sheetsim.PageFetcher using chromedp. One browser is
// shared by every job; each fetch gets its own tab.
type Fetcher struct {
	cfg         Config
	tabs        *semaphore.Weighted
	browser     context.Context
	closeBrowse context.CancelFunc
}

// NewChromedp starts an allocator for a headless browser. Images are not
// loaded since only the article text is used.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = defaultParallel
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("enable-automation", false),
	)
	browser, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{
		cfg:         cfg,
		tabs:        semaphore.NewWeighted(int64(cfg.MaxParallel)),
		browser:     browser,
		closeBrowse: cancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.closeBrowse()
}

// Fetch loads the page in a fresh tab and returns the rendered DOM. A
// document response with a 4xx/5xx status is an error.
func (f *Fetcher) Fetch(ctx context.Context, request sheetsim.FetchRequest) (sheetsim.FetchResponse, error) {
	if err := f.tabs.Acquire(ctx, 1); err != nil {
		return sheetsim.FetchResponse{}, fmt.Errorf("wait for browser tab: %w", err)
	}
	defer f.tabs.Release(1)

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	defer context.AfterFunc(ctx, cancel)()

	var doc documentResponse
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		f.prepareTab(request.UserAgent),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return sheetsim.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, finalURL := doc.result(request.URL, location)
	if status >= http.StatusBadRequest {
		return sheetsim.FetchResponse{}, fmt.Errorf("render %s: status %d", finalURL, status)
	}
	return sheetsim.FetchResponse{
		URL:          finalURL,
		StatusCode:   status,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// prepareTab sets the per-request user agent and the shared headers.
func (f *Fetcher) prepareTab(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(f.cfg.Headers) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// documentResponse records the last top-level document response of a tab.
type documentResponse struct {
	mu     sync.Mutex
	status int
	url    string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
}

// result falls back to the browser location, then the requested URL, and
// assumes 200 when no document response was seen.
func (d *documentResponse) result(requested, location string) (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	if status == 0 {
		status = http.StatusOK
	}
	for _, candidate := range []string{location, requested} {
		if url != "" {
			break
		}
		url = candidate
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		if len(values) == 1 {
			out[key] = values[0]
		} else if len(values) > 1 {
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
