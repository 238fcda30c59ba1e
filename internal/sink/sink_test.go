package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mylist-importer/internal/hash/sha256"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

func TestEncodePrettyArray(t *testing.T) {
	t.Parallel()

	img := "https://img.test/1.jpg"
	p, err := Encode([]mylist.EnrichedRecord{{
		ID:              "sm1",
		Title:           "Song",
		URL:             "https://www.nicovideo.jp/watch/sm1",
		Artist:          "Singer",
		Thumbnail:       "/thumbnails/sm1.jpg",
		OGPThumbnailURL: &img,
	}}, sha256.New())
	require.NoError(t, err)

	want := `[
  {
    "id": "sm1",
    "title": "Song",
    "url": "https://www.nicovideo.jp/watch/sm1",
    "artist": "Singer",
    "thumbnail": "/thumbnails/sm1.jpg",
    "ogpThumbnailUrl": "https://img.test/1.jpg"
  }
]
`
	require.Equal(t, want, string(p.Data))
	require.Len(t, p.Digest, 64)
}

func TestEncodeNilIsEmptyArray(t *testing.T) {
	t.Parallel()

	p, err := Encode(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(p.Data))
	require.Empty(t, p.Digest)
}

func TestEncodeHashError(t *testing.T) {
	t.Parallel()

	_, err := Encode(nil, failingHasher{})
	require.ErrorContains(t, err, "hash records")
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(namedSink("memory"), namedSink("file"), nil)
	require.Equal(t, []string{"file", "memory"}, r.Names())

	s, err := r.Get("file")
	require.NoError(t, err)
	require.Equal(t, "file", s.Name())

	_, err = r.Get("cms")
	require.ErrorIs(t, err, mylist.ErrUnknownSink)
}

type namedSink string

func (n namedSink) Name() string { return string(n) }

func (n namedSink) Write(context.Context, mylist.Batch) (mylist.SinkResult, error) {
	return mylist.SinkResult{Sink: string(n)}, nil
}

type failingHasher struct{}

func (failingHasher) Hash([]byte) (string, error) { return "", errors.New("no hash") }
