package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "mylist-test-agent", RespectRobots: true, Timeout: time.Second})
	collector := f.buildCollector(mylist.FetchRequest{URL: "https://example.com"}, time.Unix(0, 0), &mylist.FetchResponse{}, new(error))

	require.Equal(t, "mylist-test-agent", collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.AllowURLRevisit)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := mylist.FetchRequest{
		URL:     "https://nvapi.nicovideo.jp/v2/mylists/1",
		Headers: http.Header{"X-Frontend-Id": {"6"}},
	}
	var result mylist.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "6", collyReq.Headers.Get("X-Frontend-Id"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"data":{}}`),
		Headers:    &http.Header{"Content-Type": {"application/json"}},
		Request:    &colly.Request{URL: mustParseURL(t, req.URL)},
	})
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, `{"data":{}}`, string(result.Body))
	require.Equal(t, "application/json", result.Headers.Get("Content-Type"))

	hooks.onError(&colly.Response{StatusCode: http.StatusInternalServerError}, errors.New("Internal Server Error"))
	require.EqualError(t, fetchErr, "status 500: Internal Server Error")

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(mylist.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("X-Echo", r.Header.Get("X-Frontend-Id"))
			_, _ = w.Write([]byte("hello"))
		default:
			http.Error(w, "nope", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})

	resp, err := f.Fetch(context.Background(), mylist.FetchRequest{
		URL:     srv.URL + "/ok",
		Headers: http.Header{"X-Frontend-Id": {"6"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello", string(resp.Body))
	require.Equal(t, "6", resp.Headers.Get("X-Echo"))

	// Same URL twice in one process must not be treated as already visited.
	_, err = f.Fetch(context.Background(), mylist.FetchRequest{URL: srv.URL + "/ok"})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), mylist.FetchRequest{URL: srv.URL + "/broken"})
	require.Error(t, err)
}

func TestFetchConcurrentWorkersShareFetcher(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "mylist-test-agent", Timeout: 5 * time.Second})

	const workers, perWorker = 5, 4
	errs := make(chan error, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				path := fmt.Sprintf("/watch/sm%d%d", w, i)
				resp, err := f.Fetch(context.Background(), mylist.FetchRequest{URL: srv.URL + path})
				if err == nil && string(resp.Body) != path {
					err = fmt.Errorf("body %q for %s", resp.Body, path)
				}
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, workers*perWorker, hits.Load())
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, mylist.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchUsesLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := &countingWaiter{}
	f := New(Config{}, WithLimiter(w))
	_, err := f.Fetch(context.Background(), mylist.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.EqualValues(t, 1, w.calls.Load())

	w.err = errors.New("throttled")
	_, err = f.Fetch(context.Background(), mylist.FetchRequest{URL: srv.URL})
	require.ErrorContains(t, err, "throttled")
}

type countingWaiter struct {
	calls atomic.Int32
	err   error
}

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return w.err
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
