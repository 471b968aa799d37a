package fetcher_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"newsfeed/internal/fetcher"
	"newsfeed/internal/logger"
)

func init() {
	logger.Discard()
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

// recordingTimer срабатывает сразу и запоминает запрошенные паузы.
type recordingTimer struct {
	mu     *sync.Mutex
	delays *[]time.Duration
	c      chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	*t.delays = append(*t.delays, d)
	t.mu.Unlock()
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func newRecorder() (func() backoff.Timer, func() []time.Duration) {
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	factory := func() backoff.Timer { return &recordingTimer{mu: &mu, delays: &delays} }
	snapshot := func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), delays...)
	}
	return factory, snapshot
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errRefused
		}
		return okResponse("<rss/>"), nil
	})}
	timer, delays := newRecorder()

	f := fetcher.New(fetcher.WithClient(client), fetcher.WithTimer(timer))
	body, err := f.Fetch(context.Background(), "https://feed.test/rss")

	require.NoError(t, err)
	require.Equal(t, "<rss/>", string(body))
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.Equal(t, []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}, delays())
}

func TestFetch_ExhaustsRetries(t *testing.T) {
	var calls int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errRefused
	})}
	timer, delays := newRecorder()

	f := fetcher.New(fetcher.WithClient(client), fetcher.WithTimer(timer))
	_, err := f.Fetch(context.Background(), "https://feed.test/rss")

	var exhausted *fetcher.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.Len(t, delays(), 2)
}

func TestFetch_LastDelayReused(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errRefused
	})}
	timer, delays := newRecorder()

	f := fetcher.New(fetcher.WithClient(client), fetcher.WithTimer(timer), fetcher.WithMaxAttempts(5))
	_, err := f.Fetch(context.Background(), "https://feed.test/rss")

	require.Error(t, err)
	require.Equal(t, []time.Duration{
		500 * time.Millisecond, 1500 * time.Millisecond, 3000 * time.Millisecond, 3000 * time.Millisecond,
	}, delays())
}

func TestFetch_StatusNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer server.Close()
	timer, delays := newRecorder()

	f := fetcher.New(fetcher.WithTimer(timer))
	_, err := f.Fetch(context.Background(), server.URL)

	var statusErr *fetcher.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.Empty(t, delays())
}

func TestFetch_TimeoutIsRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Write([]byte("<feed/>"))
	}))
	defer server.Close()
	timer, _ := newRecorder()

	f := fetcher.New(fetcher.WithTimer(timer), fetcher.WithTimeout(100*time.Millisecond))
	body, err := f.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	require.Equal(t, "<feed/>", string(body))
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFetch_SendsHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("<rss/>"))
	}))
	defer server.Close()

	f := fetcher.New(fetcher.WithUserAgent("TestBot/2.0"))
	_, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	require.Equal(t, "TestBot/2.0", got.Get("User-Agent"))
	require.Contains(t, got.Get("Accept"), "application/rss+xml")
	require.True(t, strings.HasPrefix(got.Get("Accept-Language"), "fr"))
	require.Equal(t, "no-cache", got.Get("Cache-Control"))
}

func TestFetch_InvalidURLNotRetried(t *testing.T) {
	timer, delays := newRecorder()
	f := fetcher.New(fetcher.WithTimer(timer))

	_, err := f.Fetch(context.Background(), "ftp://feed.test/rss")
	require.Error(t, err)
	var exhausted *fetcher.ExhaustedError
	require.False(t, errors.As(err, &exhausted))
	require.Empty(t, delays())
}

func TestFetchFirst_FallsBackInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/primary":
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("")), Header: make(http.Header)}, nil
		case "/second":
			return nil, errRefused
		default:
			return okResponse("<rss>" + r.URL.Path + "</rss>"), nil
		}
	})}
	timer, _ := newRecorder()
	f := fetcher.New(fetcher.WithClient(client), fetcher.WithTimer(timer))

	body, used, err := f.FetchFirst(context.Background(), []string{
		"https://feed.test/primary",
		"https://feed.test/second",
		"https://feed.test/primary",
		"https://feed.test/third",
		"https://feed.test/fourth",
	})

	require.NoError(t, err)
	require.Equal(t, "https://feed.test/third", used)
	require.Equal(t, "<rss>/third</rss>", string(body))
	// primary once (status), second three times (retries), third once; duplicates skipped.
	require.Equal(t, []string{"/primary", "/second", "/second", "/second", "/third"}, order)
}

func TestFetchFirst_AllFail(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("")), Header: make(http.Header)}, nil
	})}
	f := fetcher.New(fetcher.WithClient(client))

	_, _, err := f.FetchFirst(context.Background(), []string{"https://a.test/x", "https://b.test/y"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "all 2 candidate URLs failed")

	var statusErr *fetcher.StatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestFetchFirst_NoCandidates(t *testing.T) {
	f := fetcher.New()
	_, _, err := f.FetchFirst(context.Background(), []string{"", ""})
	require.Error(t, err)
}
