// Package tasks holds the queue handlers for backlink verification and alert delivery.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/alert"
	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/seo"
	"github.com/JakeFAU/backlink-monitor/internal/statemachine"
	"github.com/JakeFAU/backlink-monitor/internal/worker"
)

// Checker verifies one backlink.
type Checker interface {
	Check(ctx context.Context, b backlink.Backlink) backlink.CheckResult
}

// Applier records a check result.
type Applier interface {
	Apply(ctx context.Context, backlinkID int64, result backlink.CheckResult) (statemachine.Outcome, error)
}

// AlertEvent is published for every raised alert.
type AlertEvent struct {
	AlertID    string             `json:"alert_id"`
	BacklinkID *int64             `json:"backlink_id"`
	ProjectID  int64              `json:"project_id"`
	Type       backlink.AlertType `json:"type"`
	Severity   backlink.Severity  `json:"severity"`
	Title      string             `json:"title"`
	CreatedAt  string             `json:"created_at"`
}

// Attributes lets subscribers filter on type and severity.
func (e AlertEvent) Attributes() map[string]string {
	return map[string]string{
		"type":     string(e.Type),
		"severity": string(e.Severity),
	}
}

// VerifyConfig controls VerifyHandler.
type VerifyConfig struct {
	// AlertTopic receives an AlertEvent per raised alert; empty disables publishing.
	AlertTopic string
}

// VerifyHandler checks a backlink and records the result.
type VerifyHandler struct {
	store      backlink.Store
	checker    Checker
	machine    Applier
	seo        seo.Provider
	publisher  backlink.Publisher
	deliveries backlink.Queue
	cfg        VerifyConfig
	logger     *zap.Logger
}

// NewVerifyHandler constructs a VerifyHandler. publisher, deliveries and provider may be nil.
func NewVerifyHandler(
	store backlink.Store,
	checker Checker,
	machine Applier,
	provider seo.Provider,
	publisher backlink.Publisher,
	deliveries backlink.Queue,
	cfg VerifyConfig,
	logger *zap.Logger,
) *VerifyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if provider == nil {
		provider = seo.None{}
	}
	return &VerifyHandler{
		store:      store,
		checker:    checker,
		machine:    machine,
		seo:        provider,
		publisher:  publisher,
		deliveries: deliveries,
		cfg:        cfg,
		logger:     logger,
	}
}

// Handle runs one verification attempt. Transport failures are returned for
// retry until the final attempt, which records them like any other result.
func (h *VerifyHandler) Handle(ctx context.Context, task backlink.Task) error {
	b, err := h.store.GetBacklink(ctx, task.BacklinkID)
	if err != nil {
		if errors.Is(err, backlink.ErrNotFound) {
			return worker.Permanent(err)
		}
		return fmt.Errorf("load backlink: %w", err)
	}

	result := h.checker.Check(ctx, b)
	if result.Retryable && !task.FinalAttempt() {
		return fmt.Errorf("fetch %s: %s", b.SourceURL, backlink.StringValue(result.ErrorMessage))
	}

	outcome, err := h.machine.Apply(ctx, b.ID, result)
	if err != nil {
		if errors.Is(err, backlink.ErrNotFound) {
			return worker.Permanent(err)
		}
		return err
	}
	h.logger.Debug("backlink verified",
		zap.Int64("backlink_id", b.ID),
		zap.String("url", b.SourceURL),
		zap.String("status", string(outcome.Backlink.Status)),
		zap.Int("attempt", task.Attempt),
	)

	if result.IsPresent {
		h.enrich(ctx, outcome.Backlink)
	}
	if outcome.Alert != nil {
		h.announce(ctx, *outcome.Alert)
	}
	return nil
}

func (h *VerifyHandler) enrich(ctx context.Context, b backlink.Backlink) {
	m, err := h.seo.DomainMetrics(ctx, alert.SourceDomain(b.SourceURL))
	if err != nil {
		h.logger.Warn("seo lookup failed",
			zap.Int64("backlink_id", b.ID),
			zap.String("provider", h.seo.Name()),
			zap.Error(err),
		)
		return
	}
	if m == nil || (b.DomainAuthority != nil && *b.DomainAuthority == m.DomainAuthority) {
		return
	}
	if err := h.store.UpdateDomainAuthority(ctx, b.ID, m.DomainAuthority); err != nil {
		h.logger.Warn("store domain authority failed", zap.Int64("backlink_id", b.ID), zap.Error(err))
	}
}

// announce fans an alert out to the event topic and the delivery queue. Failures
// are logged; the verification itself is already committed.
func (h *VerifyHandler) announce(ctx context.Context, a backlink.Alert) {
	if h.publisher != nil && h.cfg.AlertTopic != "" {
		event := AlertEvent{
			AlertID:    a.ID,
			BacklinkID: a.BacklinkID,
			ProjectID:  a.ProjectID,
			Type:       a.Type,
			Severity:   a.Severity,
			Title:      a.Title,
			CreatedAt:  a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if _, err := h.publisher.Publish(ctx, h.cfg.AlertTopic, event); err != nil {
			h.logger.Warn("publish alert event failed", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
	if h.deliveries != nil {
		task := backlink.Task{Kind: backlink.TaskDeliver, AlertID: a.ID, Submitted: a.CreatedAt}
		if a.BacklinkID != nil {
			task.BacklinkID = *a.BacklinkID
		}
		if err := h.deliveries.Enqueue(ctx, task); err != nil {
			h.logger.Error("enqueue webhook delivery failed", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
}
