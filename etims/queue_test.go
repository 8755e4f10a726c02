package etims

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

func TestRetryJobNameCarriesKind(t *testing.T) {
	now := time.Unix(1700000000, 0)

	cases := []struct {
		kind     models.JobKind
		document string
		prefix   string
	}{
		{models.JobKindFetchInvoiceDetails, "SINV-1", "retry_fetch_invoice_details_SINV-1_"},
		{models.JobKindSubmitStockAdjust, "STA-9", "retry_submit_stock_adjustment_STA-9_"},
		{models.JobKindFetchNotices, "etims", "retry_fetch_notices_etims_"},
	}
	for _, tc := range cases {
		got := retryJobName(tc.kind, tc.document, now)
		if !strings.HasPrefix(got, tc.prefix) {
			t.Fatalf("retryJobName(%s) expected prefix %s, got %s", tc.kind, tc.prefix, got)
		}
	}

	first := retryJobName(models.JobKindSubmitInvoice, "SINV-1", now)
	second := retryJobName(models.JobKindSubmitInvoice, "SINV-1", now.Add(time.Nanosecond))
	if first == second {
		t.Fatalf("retries enqueued at different instants must not collide: %s", first)
	}
}
