package tasks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/urlguard"
	"github.com/JakeFAU/backlink-monitor/internal/webhook"
	"github.com/JakeFAU/backlink-monitor/internal/worker"
)

// Notifier sends one alert to a subscriber.
type Notifier interface {
	Deliver(ctx context.Context, a backlink.Alert, b *backlink.Backlink, sub backlink.Subscriber) error
}

// DeliverHandler posts an alert to the project owner's webhook.
type DeliverHandler struct {
	store    backlink.Store
	notifier Notifier
	logger   *zap.Logger
}

// NewDeliverHandler constructs a DeliverHandler.
func NewDeliverHandler(store backlink.Store, notifier Notifier, logger *zap.Logger) *DeliverHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliverHandler{store: store, notifier: notifier, logger: logger}
}

// Handle delivers task.AlertID. Missing subscribers and filtered event types are not errors.
func (h *DeliverHandler) Handle(ctx context.Context, task backlink.Task) error {
	a, err := h.store.GetAlert(ctx, task.AlertID)
	if err != nil {
		return notFoundIsPermanent(fmt.Errorf("load alert: %w", err))
	}
	project, err := h.store.GetProject(ctx, a.ProjectID)
	if err != nil {
		return notFoundIsPermanent(fmt.Errorf("load project: %w", err))
	}
	sub, err := h.store.GetSubscriber(ctx, project.OwnerID)
	if errors.Is(err, backlink.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscriber: %w", err)
	}
	if !webhook.ShouldDeliver(sub, a.Type) {
		h.logger.Debug("webhook skipped by subscriber filter",
			zap.String("alert_id", a.ID),
			zap.Int64("user_id", sub.UserID),
		)
		return nil
	}

	var b *backlink.Backlink
	if a.BacklinkID != nil {
		loaded, err := h.store.GetBacklink(ctx, *a.BacklinkID)
		switch {
		case err == nil:
			b = &loaded
		case !errors.Is(err, backlink.ErrNotFound):
			return fmt.Errorf("load backlink: %w", err)
		}
	}

	err = h.notifier.Deliver(ctx, a, b, sub)
	var ssrf *urlguard.SsrfError
	if errors.As(err, &ssrf) || errors.Is(err, webhook.ErrNoEndpoint) {
		return worker.Permanent(err)
	}
	return err
}

func notFoundIsPermanent(err error) error {
	if errors.Is(err, backlink.ErrNotFound) {
		return worker.Permanent(err)
	}
	return err
}
