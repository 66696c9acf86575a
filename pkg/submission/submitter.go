// Package submission files new reports on behalf of the signed-in end user.
package submission

import (
	"context"

	"go.uber.org/zap"

	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/models"
	"lost-found-portal/pkg/validation"
)

type Guard interface {
	RequireEndUser() (models.Identity, error)
}

type Creator interface {
	Create(ctx context.Context, form validation.Form, reporter models.Identity) (models.Report, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev models.ReportEvent)
}

type Submitter struct {
	gate   Guard
	repo   Creator
	events Notifier
	log    *zap.Logger
}

func NewSubmitter(gate Guard, repo Creator, events Notifier, log *zap.Logger) *Submitter {
	return &Submitter{gate: gate, repo: repo, events: events, log: logger.OrNop(log)}
}

// Submit sanitizes and validates every field before writing. Invalid forms
// never reach the store; the error then unwraps to *validation.ValidationError
// values (see validation.FieldErrors).
func (s *Submitter) Submit(ctx context.Context, form validation.Form) (models.Report, error) {
	reporter, err := s.gate.RequireEndUser()
	if err != nil {
		return models.Report{}, err
	}

	form = form.Sanitized()
	if errs := validation.ValidateForm(form); !errs.Empty() {
		s.log.Debug("report rejected by validation", zap.Any("fields", errs.Messages()))
		return models.Report{}, errs.Err()
	}

	report, err := s.repo.Create(ctx, form, reporter)
	if err != nil {
		return models.Report{}, err
	}

	if s.events != nil {
		s.events.Notify(ctx, models.NewReportEvent(models.EventReportCreated, report))
	}
	return report, nil
}
