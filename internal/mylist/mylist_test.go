package mylist

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnrichedRecordJSONNullThumbnail(t *testing.T) {
	t.Parallel()

	rec := EnrichedRecord{
		ID:        "sm1",
		Title:     "A / B",
		URL:       "https://www.nicovideo.jp/watch/sm1",
		Artist:    "B",
		Thumbnail: "/thumbnails/sm1.jpg",
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"id":"sm1",
		"title":"A / B",
		"url":"https://www.nicovideo.jp/watch/sm1",
		"artist":"B",
		"thumbnail":"/thumbnails/sm1.jpg",
		"ogpThumbnailUrl":null
	}`, string(data))
}

func TestPeriodLabel(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, time.September, 30, 23, 0, 0, 0, time.UTC)
	require.Equal(t, "2025.09", PeriodLabel(ts))
	require.Equal(t, "2025-09", DefaultOutputName(PeriodLabel(ts)))
}

func TestValidLabel(t *testing.T) {
	t.Parallel()

	require.True(t, ValidLabel("2025.09"))
	require.True(t, ValidLabel("1999.12"))
	for _, bad := range []string{"", "2025.9", "2025-09", "2025.13", "25.09", "2025.09 "} {
		require.False(t, ValidLabel(bad), bad)
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ok", OutcomeOK.String())
	require.Equal(t, "degraded", OutcomeDegraded.String())
	require.Equal(t, "unknown", Outcome(42).String())
}

func TestResolutionErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("import: %w", &ResolutionError{Ref: "abc", Reason: "parse reference", Err: ErrInvalidReference})

	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	require.Equal(t, "abc", resErr.Ref)
	require.ErrorIs(t, err, ErrInvalidReference)
	require.Contains(t, err.Error(), `resolve playlist "abc": parse reference`)
}

func TestSinkErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := &SinkError{Sink: "file", Op: "write", Err: cause}

	require.ErrorIs(t, err, cause)
	require.Equal(t, "sink file write: disk full", err.Error())
}
