package etims

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
)

// Worker drains the durable job queue. It runs a polling claim loop and
// can additionally be triggered out of band by the pubsub push handler.
type Worker struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Orchestrator *Orchestrator
	WorkerID     string
	BatchSize    int
	Interval     time.Duration
	LockTTL      time.Duration
}

func NewWorker(db *gorm.DB, logger *logrus.Logger, orchestrator *Orchestrator) *Worker {
	return &Worker{
		DB:           db,
		Logger:       logger,
		Orchestrator: orchestrator,
		WorkerID:     "etims-" + time.Now().Format("20060102-150405.000"),
		BatchSize:    50,
		Interval:     2 * time.Second,
		LockTTL:      30 * time.Second,
	}
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Interval):
		}
	}
}

// ProcessOnce claims a batch of runnable jobs and executes them.
func (w *Worker) ProcessOnce(ctx context.Context) {
	claimed, err := models.ClaimDueJobs(ctx, w.DB, w.WorkerID, w.BatchSize, w.LockTTL)
	if err != nil {
		config.LogError(w.Logger, "etims", "ProcessOnce", "job claim failed", w.WorkerID, err)
		return
	}
	for idx := range claimed {
		job := claimed[idx]
		if err := w.executeJob(ctx, &job); err != nil {
			backoff := retryBackoff(job.Attempts)
			if markErr := job.MarkFailed(ctx, w.DB, err.Error(), backoff); markErr != nil {
				config.LogError(w.Logger, "etims", "ProcessOnce", "job failure update failed", job.JobName, markErr)
			}
			config.LogError(w.Logger, "etims", "ProcessOnce", "job failed", job.JobName, err)
			continue
		}
		if err := job.MarkDone(ctx, w.DB); err != nil {
			config.LogError(w.Logger, "etims", "ProcessOnce", "job completion update failed", job.JobName, err)
		}
	}
}

func (w *Worker) executeJob(ctx context.Context, job *models.BackgroundJob) error {
	switch job.Kind {
	case models.JobKindSubmitInvoice:
		return w.Orchestrator.SubmitInvoice(ctx, job.SettingsName, job.DocumentName)
	case models.JobKindSaveInvoiceLines:
		return w.Orchestrator.ProcessInvoiceLines(ctx, job.SettingsName, job.DocumentName)
	case models.JobKindTransitionInvoice:
		return w.Orchestrator.TransitionInvoice(ctx, job.SettingsName, job.DocumentName)
	case models.JobKindSignInvoice:
		return w.Orchestrator.SignInvoice(ctx, job.SettingsName, job.DocumentName)
	case models.JobKindFetchInvoiceDetails:
		return w.Orchestrator.FetchInvoiceDetails(ctx, job.SettingsName, job.DocumentName)
	case models.JobKindRegisterItem:
		return w.Orchestrator.RegisterItem(ctx, job.SettingsName, job.DocumentName)
	case models.JobKindRegisterPartner:
		return w.Orchestrator.RegisterPartner(ctx, job.SettingsName, job.DocumentName)
	case models.JobKindSubmitStockAdjust:
		return w.Orchestrator.SubmitStockAdjustment(ctx, job.SettingsName, job.DocumentName)
	case models.JobKindFetchPurchases:
		return w.Orchestrator.FetchPurchases(ctx, job.SettingsName)
	case models.JobKindFetchNotices:
		return w.Orchestrator.FetchNotices(ctx, job.SettingsName)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func retryBackoff(attempts int) time.Duration {
	shift := attempts
	if shift > 5 {
		shift = 5
	}
	backoff := time.Duration(1<<shift) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// Sweeper periodically re-queues documents stuck mid-chain. It is the
// safety net behind lost jobs, restarts and receipts that lag the sign
// request.
type Sweeper struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Queue    *Queue
	Interval time.Duration
}

func NewSweeper(db *gorm.DB, logger *logrus.Logger, queue *Queue) *Sweeper {
	interval := 5 * time.Minute
	if raw := os.Getenv("ETIMS_SWEEP_INTERVAL_SECS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}
	return &Sweeper{DB: db, Logger: logger, Queue: queue, Interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.DB == nil {
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce walks every auto-submitting setup and re-queues its stuck
// documents.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	settingsList, err := models.GetActiveSettings(ctx)
	if err != nil {
		config.LogError(s.Logger, "etims", "SweepOnce", "settings load failed", nil, err)
		return
	}
	for _, settings := range settingsList {
		if !settings.SalesAutoSubmissionEnabled {
			continue
		}
		if err := s.sweepInvoices(ctx, settings); err != nil {
			config.LogError(s.Logger, "etims", "SweepOnce", "invoice sweep failed", settings.Name, err)
		}
		if err := s.sweepStockAdjustments(ctx, settings); err != nil {
			config.LogError(s.Logger, "etims", "SweepOnce", "stock sweep failed", settings.Name, err)
		}
	}
}

// nextInvoiceStep maps a stuck document's persisted state to the job that
// resumes it.
func nextInvoiceStep(invoice *models.SalesInvoice) (models.JobKind, bool) {
	switch invoice.SubmissionState {
	case "", models.SubmissionStateAborted:
		if invoice.SladeId == "" {
			return models.JobKindSubmitInvoice, true
		}
		return models.JobKindSaveInvoiceLines, true
	case models.SubmissionStateDraft:
		return models.JobKindSaveInvoiceLines, true
	case models.SubmissionStateLinesSaved:
		return models.JobKindTransitionInvoice, true
	case models.SubmissionStateTransitioned:
		return models.JobKindSignInvoice, true
	case models.SubmissionStateSigned:
		return models.JobKindFetchInvoiceDetails, true
	default:
		return "", false
	}
}

func (s *Sweeper) sweepInvoices(ctx context.Context, settings *models.EtimsSettings) error {
	cutoff := time.Now().UTC().Add(-settings.SubmissionTimeframe())
	maxAttempts := settings.MaxSubmissionAttemptsFor(models.DoctypeSalesInvoice)

	var invoices []*models.SalesInvoice
	err := s.DB.WithContext(ctx).
		Where("settings_name = ? AND created_at >= ?", settings.Name, cutoff).
		Where("submission_state <> ?", models.SubmissionStateFinalized).
		Where("prevent_submission = ?", false).
		Find(&invoices).Error
	if err != nil {
		return err
	}

	for _, invoice := range invoices {
		kind, enqueue, countAttempt := sweepAction(invoice, maxAttempts)
		if !enqueue {
			continue
		}
		if err := s.Queue.EnqueueRetry(ctx, kind, settings.Name, models.DoctypeSalesInvoice, invoice.Name, 0); err != nil {
			config.LogError(s.Logger, "etims", "sweepInvoices", "enqueue failed", invoice.Name, err)
			continue
		}
		if countAttempt {
			if err := invoice.IncrementSubmissionAttempts(ctx, s.DB); err != nil {
				config.LogError(s.Logger, "etims", "sweepInvoices", "attempt count failed", invoice.Name, err)
			}
		}
	}
	return nil
}

// sweepAction decides whether a stuck invoice gets re-queued and whether
// that action consumes a submission attempt. The submit step counts its
// own attempt when it runs; every other re-queued step must be counted by
// the sweep or a document stuck in a later state retries unbounded.
func sweepAction(invoice *models.SalesInvoice, maxAttempts int) (models.JobKind, bool, bool) {
	if invoice.SubmissionAttempts >= maxAttempts {
		return "", false, false
	}
	kind, ok := nextInvoiceStep(invoice)
	if !ok {
		return "", false, false
	}
	return kind, true, kind != models.JobKindSubmitInvoice
}

func (s *Sweeper) sweepStockAdjustments(ctx context.Context, settings *models.EtimsSettings) error {
	cutoff := time.Now().UTC().Add(-settings.SubmissionTimeframe())
	maxAttempts := settings.MaxSubmissionAttemptsFor(models.DoctypeStockAdjustment)

	var adjustments []*models.StockAdjustment
	err := s.DB.WithContext(ctx).
		Where("settings_name = ? AND created_at >= ?", settings.Name, cutoff).
		Where("submission_state <> ?", models.SubmissionStateFinalized).
		Find(&adjustments).Error
	if err != nil {
		return err
	}

	for _, adjustment := range adjustments {
		if adjustment.SubmissionAttempts >= maxAttempts {
			continue
		}
		if err := s.Queue.EnqueueRetry(ctx, models.JobKindSubmitStockAdjust, settings.Name, models.DoctypeStockAdjustment, adjustment.Name, 0); err != nil {
			config.LogError(s.Logger, "etims", "sweepStockAdjustments", "enqueue failed", adjustment.Name, err)
		}
	}
	return nil
}
