package models

import (
	"strings"
	"testing"
)

func TestReleasedJobNameFreesDedupeHandle(t *testing.T) {
	name := "save_invoice_lines_SINV-0001"

	released := releasedJobName(name, 7)
	if released == name {
		t.Fatalf("terminal row must not keep the dedupe handle, got %s", released)
	}
	if !strings.HasPrefix(released, name) {
		t.Fatalf("released name should keep the original for audit, got %s", released)
	}
	if other := releasedJobName(name, 8); other == released {
		t.Fatalf("rows %q and %q must not collide", released, other)
	}
}
