package models

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JobKind string

const (
	JobKindSubmitInvoice       JobKind = "submit_invoice"
	JobKindSaveInvoiceLines    JobKind = "save_invoice_lines"
	JobKindTransitionInvoice   JobKind = "transition_invoice"
	JobKindSignInvoice         JobKind = "sign_invoice"
	JobKindFetchInvoiceDetails JobKind = "fetch_invoice_details"
	JobKindRegisterItem        JobKind = "register_item"
	JobKindRegisterPartner     JobKind = "register_partner"
	JobKindSubmitStockAdjust   JobKind = "submit_stock_adjustment"
	JobKindFetchPurchases      JobKind = "fetch_purchases"
	JobKindFetchNotices        JobKind = "fetch_notices"
)

const (
	JobStatusPending = "PENDING"
	JobStatusDone    = "DONE"
	JobStatusFailed  = "FAILED"
)

const mysqlDuplicateEntry = 1062

// BackgroundJob is one durable unit of queued integration work. JobName is
// the dedupe handle: enqueueing a name that is still pending is a no-op.
// Terminal rows release the name so a later resubmission chain can reuse it.
type BackgroundJob struct {
	ID           int     `gorm:"primary_key" json:"id"`
	JobName      string  `gorm:"size:255;uniqueIndex;not null" json:"job_name"`
	Kind         JobKind `gorm:"size:40;index;not null" json:"kind"`
	SettingsName string  `gorm:"size:140;index" json:"settings_name"`
	Doctype      string  `gorm:"size:60" json:"doctype"`
	DocumentName string  `gorm:"size:140;index" json:"document_name"`
	Payload      []byte  `gorm:"type:json" json:"payload"`

	Priority    int        `gorm:"default:0;index:idx_job_claim,priority:2" json:"priority"`
	RunAt       time.Time  `gorm:"index:idx_job_claim,priority:3;not null" json:"run_at"`
	Status      string     `gorm:"size:20;not null;default:'PENDING';index:idx_job_claim,priority:1" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"not null;default:3" json:"max_attempts"`
	LastError   *string    `gorm:"type:text" json:"last_error"`
	LockedAt    *time.Time `gorm:"index" json:"locked_at"`
	LockedBy    *string    `gorm:"size:100" json:"locked_by"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueBackgroundJob inserts a job row. A duplicate JobName is treated
// as already queued and returns (false, nil).
func EnqueueBackgroundJob(ctx context.Context, db *gorm.DB, job *BackgroundJob) (bool, error) {
	if job.RunAt.IsZero() {
		job.RunAt = time.Now().UTC()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	job.Status = JobStatusPending
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		if mysqlErr, ok := err.(*mysql.MySQLError); ok && mysqlErr.Number == mysqlDuplicateEntry {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ClaimDueJobs locks and stamps a batch of runnable jobs for one worker.
// Rows already locked within lockTTL are skipped, as are rows another
// transaction holds (SKIP LOCKED).
func ClaimDueJobs(ctx context.Context, db *gorm.DB, workerId string, batchSize int, lockTTL time.Duration) ([]BackgroundJob, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-lockTTL)

	var claimed []BackgroundJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []BackgroundJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND run_at <= ?", JobStatusPending, now).
			Where("locked_at IS NULL OR locked_at < ?", staleBefore).
			Order("priority DESC, run_at ASC, id ASC").
			Limit(batchSize).
			Find(&jobs).Error
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]int, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
		if err := tx.Model(&BackgroundJob{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{"locked_at": now, "locked_by": workerId}).Error; err != nil {
			return err
		}
		for idx := range jobs {
			jobs[idx].LockedAt = &now
			jobs[idx].LockedBy = &workerId
		}
		claimed = jobs
		return nil
	})
	return claimed, err
}

// releasedJobName suffixes the row id so the unique dedupe handle is
// freed while the row survives for audit.
func releasedJobName(name string, id int) string {
	return fmt.Sprintf("%s#%d", name, id)
}

func (j *BackgroundJob) MarkDone(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&BackgroundJob{}).Where("id = ?", j.ID).
		Updates(map[string]interface{}{
			"job_name":   releasedJobName(j.JobName, j.ID),
			"status":     JobStatusDone,
			"locked_at":  nil,
			"locked_by":  nil,
			"last_error": nil,
		}).Error
}

// MarkFailed records a failure. Exhausted jobs go to FAILED; otherwise the
// row returns to PENDING with a delayed run_at for retry.
func (j *BackgroundJob) MarkFailed(ctx context.Context, db *gorm.DB, failure string, retryAfter time.Duration) error {
	attempts := j.Attempts + 1
	j.Attempts = attempts

	updates := map[string]interface{}{
		"attempts":   attempts,
		"last_error": failure,
		"locked_at":  nil,
		"locked_by":  nil,
	}
	if attempts >= j.MaxAttempts {
		updates["status"] = JobStatusFailed
		updates["job_name"] = releasedJobName(j.JobName, j.ID)
	} else {
		updates["status"] = JobStatusPending
		updates["run_at"] = time.Now().UTC().Add(retryAfter)
	}
	return db.WithContext(ctx).Model(&BackgroundJob{}).Where("id = ?", j.ID).
		Updates(updates).Error
}
