package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/checker"
	pubmemory "github.com/JakeFAU/backlink-monitor/internal/publisher/memory"
	queuememory "github.com/JakeFAU/backlink-monitor/internal/queue/memory"
	"github.com/JakeFAU/backlink-monitor/internal/seo"
	"github.com/JakeFAU/backlink-monitor/internal/statemachine"
	"github.com/JakeFAU/backlink-monitor/internal/storage/memory"
	"github.com/JakeFAU/backlink-monitor/internal/urlguard"
	"github.com/JakeFAU/backlink-monitor/internal/webhook"
	"github.com/JakeFAU/backlink-monitor/internal/worker"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%d", g.n.Add(1)), nil
}

type stubChecker struct {
	result backlink.CheckResult
	calls  atomic.Int32
}

func (c *stubChecker) Check(context.Context, backlink.Backlink) backlink.CheckResult {
	c.calls.Add(1)
	return c.result
}

type stubSEO struct {
	metrics *seo.Metrics
	err     error
}

func (stubSEO) Name() string { return "stub" }

func (s stubSEO) DomainMetrics(context.Context, string) (*seo.Metrics, error) {
	return s.metrics, s.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []backlink.Subscriber
	links []*backlink.Backlink
	err   error
}

func (n *recordingNotifier) Deliver(_ context.Context, _ backlink.Alert, b *backlink.Backlink, sub backlink.Subscriber) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, sub)
	n.links = append(n.links, b)
	return n.err
}

type fixture struct {
	store      *memory.Store
	checker    *stubChecker
	publisher  *pubmemory.Publisher
	deliveries *queuememory.Queue
	handler    *VerifyHandler
}

func newFixture(t *testing.T, result backlink.CheckResult, provider seo.Provider) fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutProject(backlink.Project{ID: 1, OwnerID: 9, Name: "Widgets"})
	store.PutBacklink(backlink.Backlink{
		ID:         7,
		ProjectID:  1,
		SourceURL:  "https://blog.example.com/post",
		TargetURL:  "https://widgets.test/",
		Status:     backlink.StatusActive,
		IsDofollow: true,
	})
	f := fixture{
		store:      store,
		checker:    &stubChecker{result: result},
		publisher:  pubmemory.New(),
		deliveries: queuememory.NewQueue(8),
	}
	machine := statemachine.New(store, fixedClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, &seqIDs{}, zap.NewNop())
	f.handler = NewVerifyHandler(store, f.checker, machine, provider, f.publisher, f.deliveries,
		VerifyConfig{AlertTopic: "backlink-alerts"}, zap.NewNop())
	return f
}

func verifyTask(attempt, max int) backlink.Task {
	return backlink.Task{Kind: backlink.TaskVerify, BacklinkID: 7, Attempt: attempt, MaxAttempts: max}
}

func TestVerifyLostRaisesAlertAndQueuesDelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, backlink.CheckResult{
		HTTPStatus:   backlink.IntPtr(404),
		ErrorMessage: backlink.StringPtr("HTTP 404 - page not accessible"),
	}, nil)

	require.NoError(t, f.handler.Handle(context.Background(), verifyTask(1, 3)))

	b, err := f.store.GetBacklink(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, backlink.StatusLost, b.Status)

	events := f.publisher.Topic("backlink-alerts")
	require.Len(t, events, 1)
	event := events[0].(AlertEvent)
	require.Equal(t, backlink.AlertLost, event.Type)
	require.Equal(t, "backlink_lost", event.Attributes()["type"])

	require.Equal(t, 1, f.deliveries.Len())
	task, err := f.deliveries.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, backlink.TaskDeliver, task.Kind)
	require.Equal(t, event.AlertID, task.AlertID)
}

func TestVerifyRetriesTransportFailureUntilFinalAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, backlink.CheckResult{
		ErrorMessage: backlink.StringPtr("dial tcp: connection refused"),
		Retryable:    true,
	}, nil)
	ctx := context.Background()

	err := f.handler.Handle(ctx, verifyTask(1, 3))
	require.Error(t, err)
	checks, _ := f.store.ListChecks(ctx, 7, 0)
	require.Empty(t, checks)

	require.NoError(t, f.handler.Handle(ctx, verifyTask(3, 3)))
	checks, _ = f.store.ListChecks(ctx, 7, 0)
	require.Len(t, checks, 1)
	require.Nil(t, checks[0].HTTPStatus)

	b, _ := f.store.GetBacklink(ctx, 7)
	require.Equal(t, backlink.StatusLost, b.Status)
}

func TestVerifyUnknownBacklinkIsPermanent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, backlink.CheckResult{}, nil)
	err := f.handler.Handle(context.Background(), backlink.Task{Kind: backlink.TaskVerify, BacklinkID: 404})
	require.True(t, worker.IsPermanent(err))
	require.Zero(t, f.checker.calls.Load())
}

func TestVerifyPresentEnrichesDomainAuthority(t *testing.T) {
	t.Parallel()

	present := backlink.CheckResult{
		IsPresent:  true,
		HTTPStatus: backlink.IntPtr(200),
		IsDofollow: true,
	}
	f := newFixture(t, present, stubSEO{metrics: &seo.Metrics{DomainAuthority: 61}})
	require.NoError(t, f.handler.Handle(context.Background(), verifyTask(1, 3)))

	b, err := f.store.GetBacklink(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 61, *b.DomainAuthority)
	require.Empty(t, f.publisher.Messages())
	require.Zero(t, f.deliveries.Len())
}

func TestVerifySEOFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, backlink.CheckResult{IsPresent: true, IsDofollow: true}, stubSEO{err: errors.New("quota")})
	require.NoError(t, f.handler.Handle(context.Background(), verifyTask(1, 3)))
	b, _ := f.store.GetBacklink(context.Background(), 7)
	require.Nil(t, b.DomainAuthority)
}

func TestVerifyPublishFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, backlink.CheckResult{ErrorMessage: backlink.StringPtr("link not found in page"),
		HTTPStatus: backlink.IntPtr(200)}, nil)
	f.publisher.FailWith(errors.New("pubsub down"))
	require.NoError(t, f.handler.Handle(context.Background(), verifyTask(1, 3)))
	require.Equal(t, 1, f.deliveries.Len())
}

func TestVerifyWithRealChecker(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	store.PutProject(backlink.Project{ID: 1})
	store.PutBacklink(backlink.Backlink{ID: 7, ProjectID: 1, SourceURL: "http://10.0.0.5/page", TargetURL: "https://widgets.test/"})
	c := checker.New(urlguard.New(), nil, nil, zap.NewNop())
	machine := statemachine.New(store, fixedClock{now: time.Now()}, &seqIDs{}, zap.NewNop())
	h := NewVerifyHandler(store, c, machine, nil, nil, nil, VerifyConfig{}, nil)

	require.NoError(t, h.Handle(context.Background(), verifyTask(1, 3)))
	checks, err := store.ListChecks(context.Background(), 7, 1)
	require.NoError(t, err)
	require.Contains(t, *checks[0].ErrorMessage, "blocked by URL safety policy")
}

func seedAlert(store *memory.Store, types ...backlink.AlertType) backlink.Alert {
	id := int64(7)
	a := backlink.Alert{ID: "alert-1", BacklinkID: &id, ProjectID: 1, Type: backlink.AlertChanged,
		Severity: backlink.SeverityLow, CreatedAt: time.Now().UTC()}
	store.PutAlert(a)
	store.PutSubscriber(backlink.Subscriber{UserID: 9, WebhookURL: "https://hooks.test/x", WebhookEvents: types})
	return a
}

func TestDeliverSendsToOwner(t *testing.T) {
	t.Parallel()

	f := newFixture(t, backlink.CheckResult{}, nil)
	seedAlert(f.store)
	n := &recordingNotifier{}
	h := NewDeliverHandler(f.store, n, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), backlink.Task{Kind: backlink.TaskDeliver, AlertID: "alert-1"}))
	require.Len(t, n.calls, 1)
	require.Equal(t, int64(9), n.calls[0].UserID)
	require.NotNil(t, n.links[0])
	require.Equal(t, int64(7), n.links[0].ID)
}

func TestDeliverHonoursEventFilter(t *testing.T) {
	t.Parallel()

	f := newFixture(t, backlink.CheckResult{}, nil)
	seedAlert(f.store, backlink.AlertLost)
	n := &recordingNotifier{}
	require.NoError(t, NewDeliverHandler(f.store, n, nil).
		Handle(context.Background(), backlink.Task{AlertID: "alert-1"}))
	require.Empty(t, n.calls)
}

func TestDeliverWithoutSubscriber(t *testing.T) {
	t.Parallel()

	f := newFixture(t, backlink.CheckResult{}, nil)
	f.store.PutAlert(backlink.Alert{ID: "alert-2", ProjectID: 1, Type: backlink.AlertLost})
	n := &recordingNotifier{}
	require.NoError(t, NewDeliverHandler(f.store, n, nil).
		Handle(context.Background(), backlink.Task{AlertID: "alert-2"}))
	require.Empty(t, n.calls)
}

func TestDeliverErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, backlink.CheckResult{}, nil)
	seedAlert(f.store)

	err := NewDeliverHandler(f.store, &recordingNotifier{}, nil).
		Handle(context.Background(), backlink.Task{AlertID: "missing"})
	require.True(t, worker.IsPermanent(err))

	failing := &recordingNotifier{err: &webhook.DeliveryError{URL: "https://hooks.test/x", StatusCode: 503}}
	err = NewDeliverHandler(f.store, failing, nil).Handle(context.Background(), backlink.Task{AlertID: "alert-1"})
	require.Error(t, err)
	require.False(t, worker.IsPermanent(err))

	blocked := &recordingNotifier{err: &webhook.DeliveryError{URL: "http://10.0.0.1",
		Err: &urlguard.SsrfError{URL: "http://10.0.0.1", Reason: "blocked"}}}
	err = NewDeliverHandler(f.store, blocked, nil).Handle(context.Background(), backlink.Task{AlertID: "alert-1"})
	require.True(t, worker.IsPermanent(err))
}
