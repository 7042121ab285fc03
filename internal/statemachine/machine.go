package statemachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/alert"
	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/metrics"
)

const defaultCommitAttempts = 3

// Snapshotter stores the fetched page that triggered a transition and returns its URI.
type Snapshotter interface {
	Snapshot(ctx context.Context, b backlink.Backlink, checkID string, body []byte) (string, error)
}

// Outcome is what one Apply committed.
type Outcome struct {
	Backlink backlink.Backlink
	Check    backlink.Check
	Alert    *backlink.Alert
	Decision Decision
}

// Machine is the only writer of backlink status outside Acknowledge.
type Machine struct {
	store       backlink.Store
	clock       backlink.Clock
	ids         backlink.IDGenerator
	snapshotter Snapshotter
	logger      *zap.Logger
	locks       *keyedMutex
	attempts    int
}

// Option customizes a Machine.
type Option func(*Machine)

// WithSnapshotter stores page snapshots for checks that change status.
func WithSnapshotter(s Snapshotter) Option {
	return func(m *Machine) {
		m.snapshotter = s
	}
}

// WithCommitAttempts bounds the re-read loop on concurrent modification.
func WithCommitAttempts(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.attempts = n
		}
	}
}

// New constructs a Machine.
func New(store backlink.Store, clock backlink.Clock, ids backlink.IDGenerator, logger *zap.Logger, opts ...Option) *Machine {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		store:    store,
		clock:    clock,
		ids:      ids,
		logger:   logger,
		locks:    newKeyedMutex(),
		attempts: defaultCommitAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply records result against the backlink: one Check is appended, fields are
// updated and at most one Alert is raised, all in one commit.
func (m *Machine) Apply(ctx context.Context, backlinkID int64, result backlink.CheckResult) (Outcome, error) {
	unlock := m.locks.Lock(backlinkID)
	defer unlock()

	checkID, err := m.ids.NewID()
	if err != nil {
		return Outcome{}, fmt.Errorf("check id: %w", err)
	}
	var snapshotURI *string

	for attempt := 1; ; attempt++ {
		current, err := m.store.GetBacklink(ctx, backlinkID)
		if err != nil {
			return Outcome{}, fmt.Errorf("load backlink %d: %w", backlinkID, err)
		}
		now := m.clock.Now()
		decision := Decide(current, result, now)

		if snapshotURI == nil && decision.Transitioned() {
			snapshotURI = m.snapshot(ctx, current, checkID, result.Body)
		}

		outcome := Outcome{
			Backlink: decision.Updated,
			Decision: decision,
			Check: backlink.Check{
				ID:            checkID,
				BacklinkID:    backlinkID,
				CheckedAt:     now,
				IsPresent:     result.IsPresent,
				HTTPStatus:    result.HTTPStatus,
				AnchorText:    result.AnchorText,
				RelAttributes: result.RelAttributes,
				ErrorMessage:  result.ErrorMessage,
				SnapshotURI:   snapshotURI,
			},
		}
		if decision.Alert != "" {
			a, err := m.buildAlert(ctx, current, decision, result, now)
			if err != nil {
				return Outcome{}, err
			}
			outcome.Alert = &a
		}

		err = m.store.CommitVerification(ctx, backlink.VerificationCommit{
			Backlink: decision.Updated,
			Check:    outcome.Check,
			Alert:    outcome.Alert,
		})
		switch {
		case err == nil:
			m.record(outcome)
			outcome.Backlink.Version++
			return outcome, nil
		case errors.Is(err, backlink.ErrConflict) && attempt < m.attempts:
			m.logger.Debug("backlink modified concurrently, re-reading",
				zap.Int64("backlink_id", backlinkID),
				zap.Int("attempt", attempt),
			)
			continue
		default:
			return Outcome{}, fmt.Errorf("commit verification for backlink %d: %w", backlinkID, err)
		}
	}
}

// Acknowledge resets a changed backlink to active. It is the only way out of
// changed other than the link being lost.
func (m *Machine) Acknowledge(ctx context.Context, backlinkID int64) (backlink.Backlink, error) {
	unlock := m.locks.Lock(backlinkID)
	defer unlock()

	b, err := m.store.AcknowledgeChange(ctx, backlinkID)
	if err != nil {
		return backlink.Backlink{}, fmt.Errorf("acknowledge backlink %d: %w", backlinkID, err)
	}
	metrics.ObserveTransition(string(backlink.StatusChanged), string(backlink.StatusActive))
	m.logger.Info("backlink change acknowledged", zap.Int64("backlink_id", backlinkID))
	return b, nil
}

func (m *Machine) buildAlert(
	ctx context.Context,
	current backlink.Backlink,
	decision Decision,
	result backlink.CheckResult,
	now time.Time,
) (backlink.Alert, error) {
	project, err := m.store.GetProject(ctx, current.ProjectID)
	if err != nil {
		return backlink.Alert{}, fmt.Errorf("load project %d: %w", current.ProjectID, err)
	}
	id, err := m.ids.NewID()
	if err != nil {
		return backlink.Alert{}, fmt.Errorf("alert id: %w", err)
	}
	c := alert.Classify(alert.Input{
		Type:     decision.Alert,
		Previous: decision.Previous,
		Current:  decision.Next,
		Backlink: current,
		Project:  project,
		Diff:     decision.Diff,
		Result:   result,
	})
	backlinkID := current.ID
	return backlink.Alert{
		ID:         id,
		BacklinkID: &backlinkID,
		ProjectID:  current.ProjectID,
		Type:       c.Type,
		Severity:   c.Severity,
		Title:      c.Title,
		Message:    c.Message,
		Metadata:   c.Metadata,
		CreatedAt:  now.UTC(),
	}, nil
}

func (m *Machine) snapshot(ctx context.Context, b backlink.Backlink, checkID string, body []byte) *string {
	if m.snapshotter == nil || len(body) == 0 {
		return nil
	}
	uri, err := m.snapshotter.Snapshot(ctx, b, checkID, body)
	if err != nil {
		m.logger.Warn("page snapshot failed",
			zap.Int64("backlink_id", b.ID),
			zap.String("check_id", checkID),
			zap.Error(err),
		)
		return nil
	}
	return &uri
}

func (m *Machine) record(o Outcome) {
	d := o.Decision
	if d.Transitioned() {
		metrics.ObserveTransition(string(d.Previous), string(d.Next))
	}
	fields := []zap.Field{
		zap.Int64("backlink_id", o.Check.BacklinkID),
		zap.String("check_id", o.Check.ID),
		zap.String("status", string(d.Next)),
		zap.Bool("present", o.Check.IsPresent),
	}
	if o.Alert == nil {
		m.logger.Debug("verification recorded", fields...)
		return
	}
	metrics.ObserveAlert(string(o.Alert.Type), string(o.Alert.Severity))
	m.logger.Info("backlink status changed",
		append(fields,
			zap.String("previous_status", string(d.Previous)),
			zap.String("alert_id", o.Alert.ID),
			zap.String("alert_type", string(o.Alert.Type)),
			zap.String("severity", string(o.Alert.Severity)),
		)...,
	)
}
