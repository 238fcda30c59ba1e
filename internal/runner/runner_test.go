package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	fn := func(_ context.Context, stub mylist.ItemStub) (mylist.ItemResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return okResult(stub), nil
	}

	r := New(Config{Concurrency: 5, Delay: time.Millisecond}, nil)
	summary := r.Run(context.Background(), makeStubs(12), fn)

	require.Len(t, summary.Results, 12)
	require.Empty(t, summary.Failed)
	require.LessOrEqual(t, peak.Load(), int32(5))
	require.Greater(t, peak.Load(), int32(1))
	require.ElementsMatch(t, stubIDs(12), recordIDs(summary.Records()))
}

func TestRunDefaults(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	require.Equal(t, DefaultConcurrency, r.cfg.Concurrency)
	require.Zero(t, r.cfg.Delay)

	r = New(Config{Delay: -time.Second}, nil)
	require.Zero(t, r.cfg.Delay)
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	called := false
	summary := New(Config{}, nil).Run(context.Background(), nil, func(context.Context, mylist.ItemStub) (mylist.ItemResult, error) {
		called = true
		return mylist.ItemResult{}, nil
	})
	require.False(t, called)
	require.NotNil(t, summary.Results)
	require.Empty(t, summary.Results)
}

func TestRunIsolatesErrorsAndPanics(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, stub mylist.ItemStub) (mylist.ItemResult, error) {
		switch stub.ExternalID {
		case "sm2":
			return mylist.ItemResult{}, errors.New("boom")
		case "sm4":
			panic("kaboom")
		default:
			return okResult(stub), nil
		}
	}

	summary := New(Config{Concurrency: 3}, nil).Run(context.Background(), makeStubs(6), fn)
	require.Len(t, summary.Results, 4)
	require.Len(t, summary.Failed, 2)

	failed := map[string]error{}
	for _, f := range summary.Failed {
		failed[f.ID] = f.Err
	}
	require.ErrorContains(t, failed["sm2"], "boom")
	require.ErrorContains(t, failed["sm4"], "panicked: kaboom")
}

func TestRunProgressIsSerializedAndMonotonic(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		seen   []int
		totals = map[int]bool{}
	)
	r := New(Config{Concurrency: 4}, nil).WithProgress(func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		totals[total] = true
		seen = append(seen, done)
	})
	r.Run(context.Background(), makeStubs(9), func(_ context.Context, s mylist.ItemStub) (mylist.ItemResult, error) {
		if s.ExternalID == "sm3" {
			return mylist.ItemResult{}, errors.New("counted anyway")
		}
		return okResult(s), nil
	})

	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
	require.Equal(t, map[int]bool{9: true}, totals)
}

func TestRunPacesBetweenItems(t *testing.T) {
	t.Parallel()

	pause := &recordingPause{}
	r := New(Config{Concurrency: 1, Delay: 200 * time.Millisecond}, nil)
	r.pause = pause

	r.Run(context.Background(), makeStubs(4), func(_ context.Context, s mylist.ItemStub) (mylist.ItemResult, error) {
		return okResult(s), nil
	})
	// No pause after the final item.
	require.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond, 200 * time.Millisecond}, pause.delays())
}

func TestRunCanceledContextStillProcessesAll(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	summary := New(Config{Concurrency: 2, Delay: time.Second}, nil).Run(ctx, makeStubs(5), func(ctx context.Context, s mylist.ItemStub) (mylist.ItemResult, error) {
		res := okResult(s)
		if ctx.Err() != nil {
			res.Outcome = mylist.OutcomeDegraded
		}
		return res, nil
	})
	require.Len(t, summary.Results, 5)
	require.Equal(t, 5, summary.Degraded())
	require.Less(t, time.Since(start), time.Second)
}

func TestTimerPause(t *testing.T) {
	t.Parallel()

	start := time.Now()
	timerPause{}.Pause(context.Background(), 20*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	timerPause{}.Pause(context.Background(), 0)
}

func TestSummaryHelpers(t *testing.T) {
	t.Parallel()

	s := Summary{Results: []mylist.ItemResult{
		{Record: mylist.EnrichedRecord{ID: "a"}, Outcome: mylist.OutcomeOK},
		{Record: mylist.EnrichedRecord{ID: "b"}, Outcome: mylist.OutcomeDegraded},
	}}
	require.Equal(t, 1, s.Degraded())
	require.Equal(t, []string{"a", "b"}, recordIDs(s.Records()))
}

type recordingPause struct {
	mu     sync.Mutex
	called []time.Duration
}

func (p *recordingPause) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.called = append(p.called, d)
}

func (p *recordingPause) delays() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.called...)
}

func okResult(stub mylist.ItemStub) mylist.ItemResult {
	return mylist.ItemResult{
		Record:  mylist.EnrichedRecord{ID: stub.ExternalID, Title: stub.RawTitle},
		Outcome: mylist.OutcomeOK,
	}
}

func makeStubs(n int) []mylist.ItemStub {
	stubs := make([]mylist.ItemStub, 0, n)
	for i := 1; i <= n; i++ {
		stubs = append(stubs, mylist.ItemStub{ExternalID: fmt.Sprintf("sm%d", i), RawTitle: fmt.Sprintf("title %d", i)})
	}
	return stubs
}

func stubIDs(n int) []string {
	out := make([]string, 0, n)
	for _, s := range makeStubs(n) {
		out = append(out, s.ExternalID)
	}
	return out
}

func recordIDs(records []mylist.EnrichedRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
