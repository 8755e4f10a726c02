package models

import (
	"strings"
	"testing"
)

func TestMergeLogText(t *testing.T) {
	cases := []struct {
		name      string
		current   string
		addition  string
		separator string
		expected  string
	}{
		{"empty current", "", "new entry", "\n", "new entry"},
		{"null resets", "null", "new entry", "\n", "new entry"},
		{"appends with separator", "first", "second", "\n", "first\nsecond"},
		{"dash separator", "200 OK", "Page 1 of 3", " - ", "200 OK - Page 1 of 3"},
		{"already contained", "first\nsecond", "second", "\n", "first\nsecond"},
		{"empty addition", "first", "", "\n", "first"},
	}
	for _, tc := range cases {
		if got := mergeLogText(tc.current, tc.addition, tc.separator); got != tc.expected {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.expected, got)
		}
	}
}

func TestMergeLogText_CapsLength(t *testing.T) {
	long := strings.Repeat("x", requestLogTextLimit+500)
	got := mergeLogText("head", long, "\n")
	if len(got) != requestLogTextLimit {
		t.Fatalf("merged text should cap at %d, got %d", requestLogTextLimit, len(got))
	}
	if !strings.HasPrefix(got, "head\n") {
		t.Fatal("existing text should survive at the front")
	}
}

func TestTruncateLogText(t *testing.T) {
	short := "fits"
	if got := truncateLogText(short); got != short {
		t.Fatalf("short text should pass through, got %q", got)
	}
	long := strings.Repeat("y", requestLogTextLimit+1)
	if got := truncateLogText(long); len(got) != requestLogTextLimit {
		t.Fatalf("long text should truncate to %d, got %d", requestLogTextLimit, len(got))
	}
}
