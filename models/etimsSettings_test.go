package models

import (
	"testing"
	"time"
)

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	cases := []struct {
		name     string
		settings EtimsSettings
		expected bool
	}{
		{"no token", EtimsSettings{}, true},
		{"no expiry", EtimsSettings{AccessToken: "tok"}, true},
		{"expired", EtimsSettings{AccessToken: "tok", TokenExpiry: &past}, true},
		{"exactly now", EtimsSettings{AccessToken: "tok", TokenExpiry: &now}, true},
		{"valid", EtimsSettings{AccessToken: "tok", TokenExpiry: &future}, false},
	}
	for _, tc := range cases {
		if got := tc.settings.TokenExpired(now); got != tc.expected {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestMaxSubmissionAttemptsFor(t *testing.T) {
	settings := EtimsSettings{MaxSalesSubmissionAttempts: 5, MaxStockSubmissionAttempts: 2}
	if got := settings.MaxSubmissionAttemptsFor(DoctypeSalesInvoice); got != 5 {
		t.Fatalf("sales attempts expected 5, got %d", got)
	}
	if got := settings.MaxSubmissionAttemptsFor(DoctypeStockAdjustment); got != 2 {
		t.Fatalf("stock attempts expected 2, got %d", got)
	}

	unset := EtimsSettings{}
	if got := unset.MaxSubmissionAttemptsFor(DoctypeSalesInvoice); got != 3 {
		t.Fatalf("unset attempts should default to 3, got %d", got)
	}
}

func TestSubmissionKnobDefaults(t *testing.T) {
	unset := EtimsSettings{}
	if got := unset.SubmissionTimeframe(); got != 86400*time.Second {
		t.Fatalf("timeframe should default to a day, got %s", got)
	}
	if got := unset.DuplicateRetryDelay(); got != 15*time.Second {
		t.Fatalf("duplicate retry delay should default to 15s, got %s", got)
	}

	tuned := EtimsSettings{SubmissionTimeframeSecs: 3600, DuplicateRetryDelaySecs: 60}
	if got := tuned.SubmissionTimeframe(); got != time.Hour {
		t.Fatalf("tuned timeframe expected 1h, got %s", got)
	}
	if got := tuned.DuplicateRetryDelay(); got != time.Minute {
		t.Fatalf("tuned delay expected 1m, got %s", got)
	}
}
