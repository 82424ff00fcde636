package taskrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTask(t *testing.T) {
	r := New(4, nil)
	defer r.Stop()

	var ran atomic.Bool

	done := make(chan struct{})
	r.Submit(&Task{
		Priority: P0UserImmediate,
		Label:    "test",
		Run: func(ctx context.Context) (*Task, error) {
			ran.Store(true)
			close(done)
			return nil, nil
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	require.True(t, ran.Load())
}

func TestPriorityOrderingPrefersLowerLane(t *testing.T) {
	// Single worker so ordering is deterministic: whichever lane is
	// checked first among ready lanes wins.
	r := New(1, nil)
	defer r.Stop()

	var order []Priority
	orderCh := make(chan Priority, 10)

	// Block the single worker until both tasks are enqueued.
	block := make(chan struct{})
	r.Submit(&Task{Priority: P0UserImmediate, Run: func(ctx context.Context) (*Task, error) {
		<-block
		return nil, nil
	}})

	r.Submit(&Task{Priority: P5CloudFullDownload, Run: func(ctx context.Context) (*Task, error) {
		orderCh <- P5CloudFullDownload
		return nil, nil
	}})
	r.Submit(&Task{Priority: P0UserImmediate, Run: func(ctx context.Context) (*Task, error) {
		orderCh <- P0UserImmediate
		return nil, nil
	}})

	close(block)

	for i := 0; i < 2; i++ {
		select {
		case p := <-orderCh:
			order = append(order, p)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks")
		}
	}

	require.Equal(t, []Priority{P0UserImmediate, P5CloudFullDownload}, order)
}

func TestTaskContinuationYields(t *testing.T) {
	r := New(2, nil)
	defer r.Stop()

	var slices atomic.Int32
	done := make(chan struct{})

	var step func(ctx context.Context) (*Task, error)
	step = func(ctx context.Context) (*Task, error) {
		n := slices.Add(1)
		if n < 3 {
			return &Task{Run: step}, nil
		}

		close(done)

		return nil, nil
	}

	r.Submit(&Task{Priority: P4BulkCrawl, Label: "crawl", Run: step})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("continuation chain did not complete")
	}

	require.Equal(t, int32(3), slices.Load())
}

func TestStatsTracksOutcome(t *testing.T) {
	r := New(2, nil)
	defer r.Stop()

	ok := make(chan struct{})
	failed := make(chan struct{})

	r.Submit(&Task{Run: func(ctx context.Context) (*Task, error) {
		close(ok)
		return nil, nil
	}})
	r.Submit(&Task{Run: func(ctx context.Context) (*Task, error) {
		defer close(failed)
		return nil, assertErr
	}})

	<-ok
	<-failed

	require.Eventually(t, func() bool {
		s := r.Stats()
		return s.Completed == 1 && s.Failed == 1 && s.Submitted == 2
	}, 2*time.Second, 10*time.Millisecond)
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestStopWaitsForWorkers(t *testing.T) {
	r := New(2, nil)
	r.Stop()

	s := r.Stats()
	require.Equal(t, int64(0), s.Submitted)
}
