package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	queuememory "github.com/JakeFAU/backlink-monitor/internal/queue/memory"
	"github.com/JakeFAU/backlink-monitor/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var now = time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func seeded() *memory.Store {
	store := memory.NewStore()
	store.PutBacklink(backlink.Backlink{ID: 1, ProjectID: 1, Status: backlink.StatusActive, LastCheckedAt: at(2 * time.Hour)})
	store.PutBacklink(backlink.Backlink{ID: 2, ProjectID: 1, Status: backlink.StatusActive, LastCheckedAt: at(30 * time.Hour)})
	store.PutBacklink(backlink.Backlink{ID: 3, ProjectID: 2, Status: backlink.StatusActive})
	store.PutBacklink(backlink.Backlink{ID: 4, ProjectID: 2, Status: backlink.StatusLost, LastCheckedAt: at(10 * 24 * time.Hour)})
	store.PutBacklink(backlink.Backlink{ID: 5, ProjectID: 1, Status: backlink.StatusActive, LastCheckedAt: at(8 * 24 * time.Hour)})
	return store
}

func drain(t *testing.T, q *queuememory.Queue) []int64 {
	t.Helper()
	q.Close()
	var ids []int64
	for {
		task, err := q.Dequeue(context.Background())
		if err != nil {
			require.ErrorIs(t, err, queuememory.ErrQueueClosed)
			return ids
		}
		require.Equal(t, backlink.TaskVerify, task.Kind)
		ids = append(ids, task.BacklinkID)
	}
}

func TestDispatchSelections(t *testing.T) {
	t.Parallel()

	project2 := int64(2)
	tests := []struct {
		name string
		sel  backlink.Selection
		want []int64
	}{
		{"daily active", backlink.Selection{Frequency: backlink.FrequencyDaily, Status: backlink.StatusActive}, []int64{3, 5, 2}},
		{"weekly active", backlink.Selection{Frequency: backlink.FrequencyWeekly, Status: backlink.StatusActive}, []int64{3, 5}},
		{"all statuses daily", backlink.Selection{Frequency: backlink.FrequencyDaily, Status: backlink.StatusAll}, []int64{3, 4, 5, 2}},
		{"project filter", backlink.Selection{Frequency: backlink.FrequencyAll, Status: backlink.StatusAll, ProjectID: &project2}, []int64{3, 4}},
		{"limit", backlink.Selection{Frequency: backlink.FrequencyAll, Status: backlink.StatusAll, Limit: 2}, []int64{3, 4}},
		{"no matches", backlink.Selection{Frequency: backlink.FrequencyAll, Status: backlink.StatusChanged}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := queuememory.NewQueue(16)
			s := New(seeded(), q, fixedClock{now: now}, zap.NewNop())
			n, err := s.Dispatch(context.Background(), tt.sel)
			require.NoError(t, err)
			require.Equal(t, len(tt.want), n)
			require.Equal(t, tt.want, drain(t, q))
		})
	}
}

func TestDispatchStopsWhenQueueClosed(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(16)
	q.Close()
	n, err := New(seeded(), q, fixedClock{now: now}, nil).
		Dispatch(context.Background(), backlink.Selection{Frequency: backlink.FrequencyAll, Status: backlink.StatusAll})
	require.ErrorIs(t, err, queuememory.ErrQueueClosed)
	require.Zero(t, n)
}

func TestEnqueueSingle(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(2)
	s := New(seeded(), q, fixedClock{now: now}, nil)
	require.NoError(t, s.Enqueue(context.Background(), 4))
	require.ErrorIs(t, s.Enqueue(context.Background(), 99), backlink.ErrNotFound)
	require.Equal(t, []int64{4}, drain(t, q))
}

func TestNewCron(t *testing.T) {
	t.Parallel()

	s := New(seeded(), queuememory.NewQueue(16), fixedClock{now: now}, nil)

	c, err := NewCron(s, []Job{
		{Name: "daily", Schedule: "0 3 * * *", Frequency: "daily", Status: "active"},
		{Name: "weekly-lost", Schedule: "0 4 * * 1", Frequency: "weekly", Status: "lost", Limit: 100},
	}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, c.Entries())

	_, err = NewCron(s, []Job{{Name: "bad", Schedule: "every day", Frequency: "daily", Status: "all"}}, nil)
	require.Error(t, err)

	_, err = NewCron(s, []Job{{Name: "bad", Schedule: "0 3 * * *", Frequency: "hourly", Status: "all"}}, nil)
	require.Error(t, err)
}

func TestCronRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	c, err := NewCron(New(seeded(), queuememory.NewQueue(1), fixedClock{now: now}, nil), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cron did not stop")
	}
}

func TestCronTriggerDispatches(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(16)
	c, err := NewCron(New(seeded(), q, fixedClock{now: now}, nil), nil, nil)
	require.NoError(t, err)

	c.trigger("manual", backlink.Selection{Frequency: backlink.FrequencyWeekly, Status: backlink.StatusLost})
	require.Equal(t, []int64{4}, drain(t, q))
}
