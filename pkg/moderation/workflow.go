// Package moderation advances reports from pending to resolved. Only an
// admin may do it and resolved is terminal.
package moderation

import (
	"context"

	"go.uber.org/zap"

	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/models"
)

type Guard interface {
	RequireAdmin() error
}

type StatusWriter interface {
	SetStatus(ctx context.Context, id string, status models.Status) error
}

// LocalReports is the locally held copy of the collection.
type LocalReports interface {
	Lookup(id string) (models.Report, bool)
	Patch(ctx context.Context, id string, status models.Status) error
}

type Notifier interface {
	Notify(ctx context.Context, ev models.ReportEvent)
}

type Workflow struct {
	gate   Guard
	repo   StatusWriter
	local  LocalReports
	events Notifier
	log    *zap.Logger
}

func NewWorkflow(gate Guard, repo StatusWriter, local LocalReports, events Notifier, log *zap.Logger) *Workflow {
	return &Workflow{gate: gate, repo: repo, local: local, events: events, log: logger.OrNop(log)}
}

// Resolve marks a report resolved. Resolving a report already resolved in
// the local copy does nothing. The local copy is patched only after the
// store accepts the write.
func (w *Workflow) Resolve(ctx context.Context, id string) error {
	if err := w.gate.RequireAdmin(); err != nil {
		return err
	}

	report, held := w.local.Lookup(id)
	if held && report.Resolved() {
		w.log.Debug("report already resolved", zap.String("id", id))
		return nil
	}

	if err := w.repo.SetStatus(ctx, id, models.StatusResolved); err != nil {
		return err
	}

	if err := w.local.Patch(ctx, id, models.StatusResolved); err != nil {
		// The store has it; the next delivery will bring the local copy along.
		w.log.Warn("local patch skipped", zap.String("id", id), zap.Error(err))
	}

	if w.events != nil {
		if !held {
			report = models.Report{ID: id}
		}
		report.Status = models.StatusResolved
		w.events.Notify(ctx, models.NewReportEvent(models.EventReportResolved, report))
	}

	w.log.Info("report resolved", zap.String("id", id))
	return nil
}
