// Package notify delivers the signals sent when an export finishes: the
// user-facing notification and the latency analytics event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Benevox/rapidpro/internal/exports"
	"github.com/Benevox/rapidpro/internal/websocket"
)

// FinishedEvent is the payload of an export finished notification
type FinishedEvent struct {
	ID             string         `json:"id"`
	OrgID          string         `json:"org_id"`
	Kind           string         `json:"kind"`
	Status         exports.Status `json:"status"`
	Scope          string         `json:"scope"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CompletedOn    *time.Time     `json:"completed_on,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	DownloadPath   string         `json:"download_path,omitempty"`
}

// DownloadPath returns the API path a finished export is fetched from
func DownloadPath(job *exports.Job) string {
	return fmt.Sprintf("/api/exports/%s/download", job.ID)
}

// NewFinishedEvent builds the notification payload for job
func NewFinishedEvent(job *exports.Job) FinishedEvent {
	ev := FinishedEvent{
		ID:             job.ID,
		OrgID:          job.OrgID,
		Kind:           job.Kind,
		Status:         job.Status,
		Scope:          job.NotificationScope(),
		CreatedBy:      job.CreatedBy,
		CompletedOn:    job.CompletedOn,
		ElapsedSeconds: job.ElapsedSeconds,
	}
	if job.IsAssetReady() {
		ev.DownloadPath = DownloadPath(job)
	}
	return ev
}

// Notifiers fans a notification out to every notifier. All are called;
// their errors are joined.
type Notifiers []exports.Notifier

// ExportFinished implements exports.Notifier
func (n Notifiers) ExportFinished(ctx context.Context, job *exports.Job) error {
	var errs []error
	for _, notifier := range n {
		if err := notifier.ExportFinished(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier records finished exports in the log
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "notify"))}
}

// ExportFinished implements exports.Notifier
func (n *LogNotifier) ExportFinished(ctx context.Context, job *exports.Job) error {
	n.logger.InfoContext(ctx, "export finished",
		slog.String("export_id", job.ID),
		slog.String("org_id", job.OrgID),
		slog.String("kind", job.Kind),
		slog.String("scope", job.NotificationScope()),
		slog.String("created_by", job.CreatedBy),
		slog.Float64("elapsed_seconds", job.ElapsedSeconds))
	return nil
}

// Broadcaster sends a message to the clients following an organization
type Broadcaster interface {
	Broadcast(ctx context.Context, orgID, msgType, scope string, data interface{}) error
}

// HubNotifier pushes finished exports to the organization's websocket
// clients
type HubNotifier struct {
	hub Broadcaster
}

// NewHubNotifier creates a notifier broadcasting on hub
func NewHubNotifier(hub Broadcaster) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// ExportFinished implements exports.Notifier
func (n *HubNotifier) ExportFinished(ctx context.Context, job *exports.Job) error {
	ev := NewFinishedEvent(job)
	if err := n.hub.Broadcast(ctx, job.OrgID, websocket.TypeExportFinished, ev.Scope, ev); err != nil {
		return fmt.Errorf("failed to broadcast export %s: %w", job.ID, err)
	}
	return nil
}
