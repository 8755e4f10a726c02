package etims

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
)

// Queue enqueues durable background jobs and nudges the worker topic so a
// push subscriber picks them up without waiting for the poll interval.
type Queue struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewQueue(db *gorm.DB, logger *logrus.Logger) *Queue {
	return &Queue{DB: db, Logger: logger}
}

func jobsTopic() string {
	if topic := os.Getenv("ETIMS_JOBS_TOPIC"); topic != "" {
		return topic
	}
	return "etims-jobs"
}

func eventsTopic() string {
	if topic := os.Getenv("ETIMS_EVENTS_TOPIC"); topic != "" {
		return topic
	}
	return "etims-events"
}

// EnsureTopics creates the jobs and events topics when they are missing.
// Called once at startup; a deployment with pre-provisioned topics just
// sees them exist.
func EnsureTopics(ctx context.Context) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	for _, topic := range []string{jobsTopic(), eventsTopic()} {
		if _, err := config.CreateTopicIfNotExists(client, topic); err != nil {
			return err
		}
	}
	return nil
}

type jobNudge struct {
	JobName string `json:"job_name"`
	Kind    string `json:"kind"`
}

// Enqueue stores the job and publishes a nudge. A job name already queued
// is a silent no-op; a failed nudge is only logged, the poller will still
// find the row.
func (q *Queue) Enqueue(ctx context.Context, job *models.BackgroundJob) error {
	created, err := models.EnqueueBackgroundJob(ctx, q.DB, job)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	if err := config.PublicIntegrationWorkflow(jobsTopic(), jobNudge{JobName: job.JobName, Kind: string(job.Kind)}); err != nil {
		config.LogError(q.Logger, "etims", "Enqueue", "pubsub nudge failed", job.JobName, err)
	}
	return nil
}

// EnqueueDocumentJob queues one step of a document's submission chain
// under the conventional dedupe name kind_documentName.
func (q *Queue) EnqueueDocumentJob(ctx context.Context, kind models.JobKind, settingsName, doctype, documentName string) error {
	return q.Enqueue(ctx, &models.BackgroundJob{
		JobName:      fmt.Sprintf("%s_%s", kind, documentName),
		Kind:         kind,
		SettingsName: settingsName,
		Doctype:      doctype,
		DocumentName: documentName,
	})
}

// retryJobName stamps the kind and the enqueue instant so a retry never
// collides with the original job or an earlier retry.
func retryJobName(kind models.JobKind, documentName string, now time.Time) string {
	return fmt.Sprintf("retry_%s_%s_%d", kind, documentName, now.UnixNano())
}

// EnqueueRetry queues a delayed resubmission with a timestamped name so it
// never collides with the original job.
func (q *Queue) EnqueueRetry(ctx context.Context, kind models.JobKind, settingsName, doctype, documentName string, delay time.Duration) error {
	return q.Enqueue(ctx, &models.BackgroundJob{
		JobName:      retryJobName(kind, documentName, time.Now()),
		Kind:         kind,
		SettingsName: settingsName,
		Doctype:      doctype,
		DocumentName: documentName,
		RunAt:        time.Now().UTC().Add(delay),
	})
}
