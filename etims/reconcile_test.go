package etims

import (
	"testing"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

func matchedInvoice() *models.SalesInvoice {
	return &models.SalesInvoice{
		Name: "SINV-001",
		Lines: []models.SalesInvoiceLine{
			{ItemCode: "ITM-1", Qty: d("2"), BaseNetRate: d("100"), BaseNetAmount: d("200"), BaseAmount: d("200"), TaxAmount: d("32")},
			{ItemCode: "ITM-2", Qty: d("1"), BaseNetRate: d("50"), BaseNetAmount: d("50"), BaseAmount: d("50"), TaxAmount: d("8")},
		},
	}
}

func matchedSnapshot() *InvoiceSnapshot {
	return &InvoiceSnapshot{
		ID:               "rem-1",
		TotalGrossAmount: d("290"),
		SalesInvoiceLines: []RemoteSaleLine{
			{Product: "p1", Quantity: d("2"), PriceInclusiveTax: d("116")},
			{Product: "p2", Quantity: d("1"), PriceInclusiveTax: d("58")},
		},
	}
}

func TestMatchInvoiceData_Matches(t *testing.T) {
	if !MatchInvoiceData(matchedInvoice(), matchedSnapshot()) {
		t.Fatal("expected invoice to match its remote snapshot")
	}
}

func TestMatchInvoiceData_OrderIndependent(t *testing.T) {
	snapshot := matchedSnapshot()
	snapshot.SalesInvoiceLines[0], snapshot.SalesInvoiceLines[1] = snapshot.SalesInvoiceLines[1], snapshot.SalesInvoiceLines[0]
	if !MatchInvoiceData(matchedInvoice(), snapshot) {
		t.Fatal("line order should not affect matching")
	}
}

func TestMatchInvoiceData_CountMismatch(t *testing.T) {
	snapshot := matchedSnapshot()
	snapshot.SalesInvoiceLines = snapshot.SalesInvoiceLines[:1]
	if MatchInvoiceData(matchedInvoice(), snapshot) {
		t.Fatal("different line counts must not match")
	}
}

func TestMatchInvoiceData_TotalMismatch(t *testing.T) {
	snapshot := matchedSnapshot()
	snapshot.TotalGrossAmount = d("300")
	if MatchInvoiceData(matchedInvoice(), snapshot) {
		t.Fatal("a drifted grand total must not match")
	}
}

func TestMatchInvoiceData_LineMismatch(t *testing.T) {
	snapshot := matchedSnapshot()
	// Keep the total intact but swap unit economics between lines.
	snapshot.SalesInvoiceLines[0].PriceInclusiveTax = d("87")
	snapshot.SalesInvoiceLines[1].PriceInclusiveTax = d("116")
	if MatchInvoiceData(matchedInvoice(), snapshot) {
		t.Fatal("reshaped lines must not match even when the total survives")
	}
}

func TestMatchInvoiceData_CreditNoteSide(t *testing.T) {
	invoice := &models.SalesInvoice{
		Name:     "CRN-001",
		IsReturn: true,
		Lines: []models.SalesInvoiceLine{
			{ItemCode: "ITM-1", Qty: d("-2"), BaseNetRate: d("100"), BaseNetAmount: d("-200"), BaseAmount: d("-200"), TaxAmount: d("32")},
		},
	}
	snapshot := &InvoiceSnapshot{
		ID:             "rem-2",
		CRNTotalAmount: d("-232"),
		SalesCreditNoteLines: []RemoteSaleLine{
			{Product: "p1", Quantity: d("2"), PriceInclusiveTax: d("116")},
		},
	}
	if !MatchInvoiceData(invoice, snapshot) {
		t.Fatal("credit note should match against the credit-note side of the snapshot")
	}
}

func TestDecideMismatch(t *testing.T) {
	settings := &models.EtimsSettings{MaxAllowedRevisions: 3}

	issued := &models.SalesInvoice{Status: models.InvoiceStatusCreditNoteIssued}
	if got := DecideMismatch(issued, settings); got != MismatchActionSkip {
		t.Fatalf("reversed invoice expected Skip, got %d", got)
	}

	atCeiling := &models.SalesInvoice{RevisionCount: 3}
	if got := DecideMismatch(atCeiling, settings); got != MismatchActionStop {
		t.Fatalf("revision ceiling expected Stop, got %d", got)
	}

	fresh := &models.SalesInvoice{RevisionCount: 0}
	if got := DecideMismatch(fresh, settings); got != MismatchActionRevise {
		t.Fatalf("fresh mismatch expected Revise, got %d", got)
	}

	unlimited := &models.EtimsSettings{MaxAllowedRevisions: 0}
	if got := DecideMismatch(atCeiling, unlimited); got != MismatchActionRevise {
		t.Fatalf("zero ceiling disables the stop, expected Revise, got %d", got)
	}
}
