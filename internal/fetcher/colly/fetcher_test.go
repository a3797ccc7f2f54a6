package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

func TestFetcherSendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), sheetsim.FetchRequest{URL: srv.URL, UserAgent: "agent/1.0"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "hello")
	require.Equal(t, "agent/1.0", got.Get("User-Agent"))
	require.Equal(t, "text/html,application/xhtml+xml", got.Get("Accept"))
	require.Equal(t, "en-US,en;q=0.9", got.Get("Accept-Language"))

	again, err := f.Fetch(context.Background(), sheetsim.FetchRequest{URL: srv.URL})
	require.NoError(t, err, "the same URL can be fetched twice")
	require.Equal(t, http.StatusOK, again.StatusCode)
}

func TestFetcherFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("moved here"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp, err := New(Config{}).Fetch(context.Background(), sheetsim.FetchRequest{URL: srv.URL + "/old"})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/new", resp.URL)
	require.Equal(t, "moved here", string(resp.Body))
}

func TestFetcherReturnsStatusErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{}).Fetch(context.Background(), sheetsim.FetchRequest{URL: srv.URL})
	require.Error(t, err)
}

func TestFetcherHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, sheetsim.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcherStopsRedirectLoops(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{MaxRedirects: 3}).Fetch(context.Background(), sheetsim.FetchRequest{URL: srv.URL + "/a"})
	require.ErrorContains(t, err, "stopped after 3 redirects")
}

func TestVisitOutcome(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("https://example.com/page")
	require.NoError(t, err)

	ok := &visit{start: time.Now()}
	ok.response(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body"), Request: &colly.Request{URL: u}})
	resp, err := ok.outcome(u.String(), nil)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/page", resp.URL)
	require.Equal(t, "body", string(resp.Body))

	failed := &visit{start: time.Now()}
	failed.failure(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	_, err = failed.outcome(u.String(), errors.New("visit error"))
	require.ErrorContains(t, err, "status 404")

	transport := &visit{start: time.Now()}
	_, err = transport.outcome(u.String(), errors.New("dial tcp: refused"))
	require.ErrorContains(t, err, "refused")
}
