package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://nicovideo.jp/watch/sm9", "nicovideo.jp"},
		{"standard https", "https://NVAPI.nicovideo.jp/v2/mylists/1", "nvapi.nicovideo.jp"},
		{"no scheme", "www.nicovideo.jp/mylist/1", "www.nicovideo.jp"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if itemsTotal == nil || fetchTotal == nil || httpRequestsTotal == nil || activeWorkers == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveItem(t *testing.T) {
	Init()
	before := testutil.ToFloat64(itemsTotal.WithLabelValues("degraded"))
	ObserveItem("degraded")
	if got := testutil.ToFloat64(itemsTotal.WithLabelValues("degraded")); got != before+1 {
		t.Errorf("expected degraded items to be %f, got %f", before+1, got)
	}
}

func TestObserveFetchSkipsZeroBytes(t *testing.T) {
	Init()
	site := "metrics-test.invalid"
	ObserveFetch("https://"+site+"/a", "200", 0)
	ObserveFetch("https://"+site+"/b", "200", 128)

	if got := testutil.ToFloat64(fetchTotal.WithLabelValues(site, "200")); got != 2 {
		t.Errorf("expected 2 fetches, got %f", got)
	}
	if got := testutil.ToFloat64(fetchBytesTotal.WithLabelValues(site)); got != 128 {
		t.Errorf("expected 128 bytes, got %f", got)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != before+1 {
		t.Errorf("expected gauge %f, got %f", before+1, got)
	}
	DecActiveWorkers()
	ObserveRateLimitDelay("example.com", 50*time.Millisecond)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://nicovideo.jp", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
