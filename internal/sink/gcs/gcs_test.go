package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/mylist-importer/internal/hash/sha256"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

func newTestSink(t *testing.T, handler http.Handler, cfg Config) *Sink {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := New(client, cfg, sha256.New())
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"}, nil)
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{Bucket: "  "}, nil)
	require.ErrorContains(t, err, "bucket")
}

func TestWriteUploadsObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/playlists/o")
		assert.Equal(t, "mylist/2025-09.json", r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"id": "sm9"`)
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{ "name": "mylist/2025-09.json", "bucket": "playlists" }`)
	})
	s := newTestSink(t, handler, Config{Bucket: "playlists", Prefix: "/mylist/"})

	res, err := s.Write(context.Background(), mylist.Batch{
		RunID: "run-1",
		Name:  "2025-09",
		Label: "2025.09",
		Records: []mylist.EnrichedRecord{
			{ID: "sm9", Title: "Song", URL: "https://www.nicovideo.jp/watch/sm9", Thumbnail: "/thumbnails/sm9.jpg"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "gs://playlists/mylist/2025-09.json", res.Target)
	require.Equal(t, mylist.ActionWritten, res.Action)
	require.Equal(t, 1, res.Count)
	require.NotEmpty(t, res.Digest)
}

func TestWriteServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	s := newTestSink(t, handler, Config{Bucket: "playlists"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.Write(ctx, mylist.Batch{Name: "2025-09"})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s := &Sink{prefix: "exports"}
	got, err := s.ObjectName("2025-09")
	require.NoError(t, err)
	require.Equal(t, "exports/2025-09.json", got)

	s.prefix = ""
	got, err = s.ObjectName("/2025-09.json")
	require.NoError(t, err)
	require.Equal(t, "2025-09.json", got)

	_, err = s.ObjectName(" ")
	require.Error(t, err)
}
