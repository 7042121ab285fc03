package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan backlink.Task, 1)
	errCh := make(chan error, 1)

	go func() {
		task, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- task
	}()

	require.NoError(t, q.Enqueue(context.Background(), backlink.Task{Kind: backlink.TaskVerify, BacklinkID: 7}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, int64(7), got.BacklinkID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return task")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), backlink.Task{BacklinkID: 1}))
	err = q.Enqueue(ctx, backlink.Task{BacklinkID: 2})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, backlink.Task{BacklinkID: 1}))
	require.NoError(t, q.Enqueue(ctx, backlink.Task{BacklinkID: 2}))
	require.Equal(t, 2, q.Len())
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(ctx, backlink.Task{BacklinkID: 3}), ErrQueueClosed)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, []int64{first.BacklinkID, second.BacklinkID})

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueCloseWakesBlockedDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	q.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not observe close")
	}
}
