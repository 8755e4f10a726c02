package etims

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

func TestNextInvoiceStep(t *testing.T) {
	cases := []struct {
		name     string
		invoice  models.SalesInvoice
		expected models.JobKind
		ok       bool
	}{
		{"never submitted", models.SalesInvoice{}, models.JobKindSubmitInvoice, true},
		{"aborted with remote id", models.SalesInvoice{SubmissionState: models.SubmissionStateAborted, SladeId: "r1"}, models.JobKindSaveInvoiceLines, true},
		{"draft", models.SalesInvoice{SubmissionState: models.SubmissionStateDraft}, models.JobKindSaveInvoiceLines, true},
		{"lines saved", models.SalesInvoice{SubmissionState: models.SubmissionStateLinesSaved}, models.JobKindTransitionInvoice, true},
		{"transitioned", models.SalesInvoice{SubmissionState: models.SubmissionStateTransitioned}, models.JobKindSignInvoice, true},
		{"signed", models.SalesInvoice{SubmissionState: models.SubmissionStateSigned}, models.JobKindFetchInvoiceDetails, true},
		{"finalized", models.SalesInvoice{SubmissionState: models.SubmissionStateFinalized}, "", false},
	}
	for _, tc := range cases {
		kind, ok := nextInvoiceStep(&tc.invoice)
		if ok != tc.ok || kind != tc.expected {
			t.Fatalf("%s: expected (%s, %v), got (%s, %v)", tc.name, tc.expected, tc.ok, kind, ok)
		}
	}
}

func TestRetryBackoff(t *testing.T) {
	cases := []struct {
		attempts int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 30 * time.Second},
		{12, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := retryBackoff(tc.attempts); got != tc.expected {
			t.Fatalf("retryBackoff(%d) expected %s, got %s", tc.attempts, tc.expected, got)
		}
	}
}

func TestSweepAction(t *testing.T) {
	cases := []struct {
		name         string
		invoice      models.SalesInvoice
		maxAttempts  int
		expectedKind models.JobKind
		enqueue      bool
		countAttempt bool
	}{
		{
			name:         "fresh document resubmits without double counting",
			invoice:      models.SalesInvoice{SubmissionState: ""},
			maxAttempts:  3,
			expectedKind: models.JobKindSubmitInvoice,
			enqueue:      true,
			countAttempt: false,
		},
		{
			name:         "signed document counts each sweep pass",
			invoice:      models.SalesInvoice{SubmissionState: models.SubmissionStateSigned},
			maxAttempts:  3,
			expectedKind: models.JobKindFetchInvoiceDetails,
			enqueue:      true,
			countAttempt: true,
		},
		{
			name:        "ceiling reached stops re-queueing",
			invoice:     models.SalesInvoice{SubmissionState: models.SubmissionStateSigned, SubmissionAttempts: 3},
			maxAttempts: 3,
			enqueue:     false,
		},
		{
			name:        "finalized document is left alone",
			invoice:     models.SalesInvoice{SubmissionState: models.SubmissionStateFinalized},
			maxAttempts: 3,
			enqueue:     false,
		},
	}
	for _, tc := range cases {
		kind, enqueue, countAttempt := sweepAction(&tc.invoice, tc.maxAttempts)
		if enqueue != tc.enqueue {
			t.Fatalf("%s: enqueue expected %v, got %v", tc.name, tc.enqueue, enqueue)
		}
		if !tc.enqueue {
			continue
		}
		if kind != tc.expectedKind {
			t.Fatalf("%s: kind expected %s, got %s", tc.name, tc.expectedKind, kind)
		}
		if countAttempt != tc.countAttempt {
			t.Fatalf("%s: countAttempt expected %v, got %v", tc.name, tc.countAttempt, countAttempt)
		}
	}
}
