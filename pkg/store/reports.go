package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/models"
	"lost-found-portal/pkg/validation"
)

const ReportsCollection = "reports"

var reportsByNewest = Query{Collection: ReportsCollection, OrderBy: "created_at", Direction: Descending}

// ReportRepository is the only writer of report ids, creation times and the
// initial status.
type ReportRepository struct {
	store DocumentStore
	log   *zap.Logger
	now   func() time.Time
}

type RepositoryOption func(*ReportRepository)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *ReportRepository) { r.now = now }
}

func NewReportRepository(store DocumentStore, log *zap.Logger, opts ...RepositoryOption) *ReportRepository {
	r := &ReportRepository{
		store: store,
		log:   logger.OrNop(log),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new pending report filed by reporter. The form is expected
// to be validated already; category is parsed here because the stored value
// must be one of the two known categories.
func (r *ReportRepository) Create(ctx context.Context, form validation.Form, reporter models.Identity) (models.Report, error) {
	category, err := models.ParseCategory(form.Category)
	if err != nil {
		return models.Report{}, &WriteError{Op: "create report", Err: err}
	}

	report := models.Report{
		Name:        form.Name,
		Description: form.Description,
		Location:    form.Location,
		Contact:     form.Contact,
		Category:    category,
		ReportBy:    reporter.Email,
		Status:      models.StatusPending,
		CreatedAt:   r.now().UTC().Truncate(time.Millisecond),
	}

	id, err := r.store.AddDocument(ctx, ReportsCollection, report)
	if err != nil {
		r.log.Error("report create rejected", zap.String("report_by", reporter.Email), zap.Error(err))
		return models.Report{}, &WriteError{Op: "create report", Err: err}
	}
	report.ID = id

	r.log.Info("report saved",
		zap.String("id", id),
		zap.String("category", string(category)),
		zap.String("report_by", reporter.Email))
	return report, nil
}

// SetStatus overwrites the status of one report. Transition rules are the
// caller's business.
func (r *ReportRepository) SetStatus(ctx context.Context, id string, status models.Status) error {
	if err := r.store.UpdateDocument(ctx, ReportsCollection, id, map[string]any{"status": string(status)}); err != nil {
		r.log.Error("report status update rejected", zap.String("id", id), zap.Error(err))
		return &WriteError{Op: "set status", ID: id, Err: err}
	}
	r.log.Info("report status updated", zap.String("id", id), zap.String("status", string(status)))
	return nil
}

// List reads the whole collection once, newest first.
func (r *ReportRepository) List(ctx context.Context) ([]models.Report, error) {
	snap, err := r.store.QueryOrdered(ctx, reportsByNewest)
	if err != nil {
		return nil, err
	}
	return r.decode(snap), nil
}

// Subscribe calls fn with the complete ordered report list on connect and
// after every change. Each call replaces whatever the caller held before.
func (r *ReportRepository) Subscribe(fn func([]models.Report)) (Unsubscribe, error) {
	return r.store.Subscribe(reportsByNewest, func(snap Snapshot) {
		fn(r.decode(snap))
	})
}

func (r *ReportRepository) decode(snap Snapshot) []models.Report {
	reports := make([]models.Report, 0, len(snap))
	for _, doc := range snap {
		var rep models.Report
		if err := doc.Decode(&rep); err != nil {
			r.log.Warn("skipping undecodable report", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		if !rep.Category.Valid() {
			r.log.Warn("skipping report with unknown category", zap.String("id", doc.ID), zap.String("category", string(rep.Category)))
			continue
		}
		if rep.Status == "" {
			rep.Status = models.StatusPending
		}
		rep.ID = doc.ID
		reports = append(reports, rep)
	}
	return reports
}
