package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/config"
)

type fakeRunner struct {
	sel       backlink.Selection
	source    string
	olderThan time.Duration
	served    bool
	closed    bool
}

func (f *fakeRunner) RunBatch(_ context.Context, sel backlink.Selection) (int, error) {
	f.sel = sel
	return 3, nil
}

func (f *fakeRunner) CheckURL(_ context.Context, sourceURL, _ string) backlink.CheckResult {
	f.source = sourceURL
	return backlink.CheckResult{IsPresent: true, AnchorText: backlink.StringPtr("Widgets"), Body: []byte("<html>")}
}

func (f *fakeRunner) PruneAlerts(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 2, nil
}

func (f *fakeRunner) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeRunner) Close() { f.closed = true }

// useFakeApp swaps the application factory; tests using it must not run in parallel.
func useFakeApp(t *testing.T) (*fakeRunner, *int) {
	t.Helper()
	fake := &fakeRunner{}
	opened := 0
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (Runner, error) {
		opened++
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return fake, &opened
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckBacklinks(t *testing.T) {
	fake, _ := useFakeApp(t)

	out, err := run(t, "check-backlinks", "--frequency", "weekly", "--status", "lost", "--project", "4", "--limit", "10")
	require.NoError(t, err)
	require.Contains(t, out, "verified 3 backlinks")
	require.Equal(t, backlink.FrequencyWeekly, fake.sel.Frequency)
	require.Equal(t, backlink.StatusLost, fake.sel.Status)
	require.NotNil(t, fake.sel.ProjectID)
	require.EqualValues(t, 4, *fake.sel.ProjectID)
	require.Equal(t, 10, fake.sel.Limit)
	require.True(t, fake.closed)
}

func TestCheckBacklinksDefaults(t *testing.T) {
	fake, _ := useFakeApp(t)

	_, err := run(t, "check-backlinks")
	require.NoError(t, err)
	require.Equal(t, backlink.FrequencyDaily, fake.sel.Frequency)
	require.Equal(t, backlink.StatusAll, fake.sel.Status)
	require.Nil(t, fake.sel.ProjectID)
}

func TestCheckBacklinksRejectsBadFlagsBeforeOpening(t *testing.T) {
	_, opened := useFakeApp(t)

	_, err := run(t, "check-backlinks", "--frequency", "hourly")
	require.ErrorContains(t, err, "invalid frequency")
	_, err = run(t, "check-backlinks", "--status", "broken")
	require.ErrorContains(t, err, "invalid status")
	_, err = run(t, "check-backlinks", "--limit", "-1")
	require.ErrorContains(t, err, "invalid limit")
	require.Zero(t, *opened)
}

func TestCheckURLPrintsJSON(t *testing.T) {
	fake, _ := useFakeApp(t)

	out, err := run(t, "check-url", "--source", "https://blog.example.com/post", "--target", "https://widgets.test/")
	require.NoError(t, err)
	require.Equal(t, "https://blog.example.com/post", fake.source)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, true, got["is_present"])
	require.Equal(t, "Widgets", got["anchor_text"])
	require.NotContains(t, got, "Body")
}

func TestCheckURLRequiresFlags(t *testing.T) {
	useFakeApp(t)

	_, err := run(t, "check-url", "--source", "https://blog.example.com/post")
	require.Error(t, err)
}

func TestPruneAlerts(t *testing.T) {
	fake, _ := useFakeApp(t)

	out, err := run(t, "prune-alerts", "--older-than", "720h")
	require.NoError(t, err)
	require.Contains(t, out, "deleted 2 read alerts")
	require.Equal(t, 720*time.Hour, fake.olderThan)

	_, err = run(t, "prune-alerts")
	require.NoError(t, err)
	require.Equal(t, defaultAlertRetention, fake.olderThan)

	_, err = run(t, "prune-alerts", "--older-than", "0s")
	require.Error(t, err)
}

func TestServe(t *testing.T) {
	fake, _ := useFakeApp(t)

	_, err := run(t, "serve")
	require.NoError(t, err)
	require.True(t, fake.served)
	require.True(t, fake.closed)
}

func TestInvalidConfigFile(t *testing.T) {
	useFakeApp(t)

	_, err := run(t, "--config", "/nonexistent/backlink.yaml", "serve")
	require.ErrorContains(t, err, "load config")
}
