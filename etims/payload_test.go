package etims

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

func TestReferenceNumber(t *testing.T) {
	if got := ReferenceNumber("SINV-001", 0); got != "SINV-001" {
		t.Fatalf("unrevised reference expected SINV-001, got %s", got)
	}
	if got := ReferenceNumber("SINV-001", 2); got != "SINV-001-REV2" {
		t.Fatalf("revised reference expected SINV-001-REV2, got %s", got)
	}
}

func TestLineUnitPriceAndGrossAmount(t *testing.T) {
	line := models.SalesInvoiceLine{
		Qty:           d("3"),
		BaseNetRate:   d("100"),
		BaseNetAmount: d("300"),
		BaseAmount:    d("300"),
		TaxAmount:     d("48"),
	}
	if got := lineUnitPrice(line); !got.Equal(d("116")) {
		t.Fatalf("unit price expected 116, got %s", got)
	}
	if got := lineGrossAmount(line); !got.Equal(d("348")) {
		t.Fatalf("gross amount expected 348, got %s", got)
	}

	// Returns carry negative quantities; the unit price stays positive.
	returnLine := models.SalesInvoiceLine{
		Qty:         d("-2"),
		BaseNetRate: d("100"),
		TaxAmount:   d("32"),
	}
	if got := lineUnitPrice(returnLine); !got.Equal(d("116")) {
		t.Fatalf("return unit price expected 116, got %s", got)
	}

	zeroQty := models.SalesInvoiceLine{Qty: d("0"), BaseNetRate: d("100")}
	if got := lineUnitPrice(zeroQty); !got.Equal(d("100")) {
		t.Fatalf("zero-qty line should keep the net rate, got %s", got)
	}
}

func TestIsFullReturn(t *testing.T) {
	cases := []struct {
		original string
		returned string
		expected bool
	}{
		{"290", "-290", true},
		{"290", "290", true},
		{"290", "-289.995", true},
		{"290", "-289.98", false},
		{"290", "-100", false},
	}
	for _, tc := range cases {
		if got := IsFullReturn(d(tc.original), d(tc.returned)); got != tc.expected {
			t.Fatalf("IsFullReturn(%s, %s) expected %v, got %v", tc.original, tc.returned, tc.expected, got)
		}
	}
}

func TestBuildReturnInvoicePayload_FullUsesRemoteLines(t *testing.T) {
	invoice := &models.SalesInvoice{
		Name: "CRN-001",
		Lines: []models.SalesInvoiceLine{
			{ItemCode: "ITM-1", Qty: d("-1"), BaseAmount: d("-100"), TaxAmount: d("16")},
		},
	}
	original := &InvoiceSnapshot{
		ReferenceNumber: "SINV-001",
		SalesInvoiceLines: []RemoteSaleLine{
			{Product: "p1", ProductName: "Widget", Quantity: d("2"), PriceInclusiveTax: d("116")},
		},
	}

	payload := BuildReturnInvoicePayload(invoice, original, d("232"), true)

	if payload["invoice_reference"] != "SINV-001" {
		t.Fatalf("expected original reference, got %v", payload["invoice_reference"])
	}
	if payload["refund_reason"] != refundReasonOther {
		t.Fatalf("expected refund reason %s, got %v", refundReasonOther, payload["refund_reason"])
	}
	items := payload["items"].([]map[string]interface{})
	if len(items) != 1 {
		t.Fatalf("full return should mirror the remote lines, got %d items", len(items))
	}
	if items[0]["item_name"] != "Widget" {
		t.Fatalf("full return item should use the remote product name, got %v", items[0]["item_name"])
	}
}

func TestBuildReturnInvoicePayload_PartialUsesLocalLines(t *testing.T) {
	invoice := &models.SalesInvoice{
		Name: "CRN-002",
		Lines: []models.SalesInvoiceLine{
			{ItemCode: "ITM-1", Qty: d("-1"), BaseAmount: d("-100"), TaxAmount: d("16")},
		},
	}
	original := &InvoiceSnapshot{
		ReferenceNumber: "SINV-001",
		SalesInvoiceLines: []RemoteSaleLine{
			{Product: "p1", ProductName: "Widget", Quantity: d("2"), PriceInclusiveTax: d("116")},
		},
	}

	payload := BuildReturnInvoicePayload(invoice, original, d("-116"), false)

	items := payload["items"].([]map[string]interface{})
	if len(items) != 1 || items[0]["item_name"] != "ITM-1" {
		t.Fatalf("partial return should send the local lines, got %v", items)
	}
}

func TestBuildInvoicePayload_Dates(t *testing.T) {
	posting := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	invoice := &models.SalesInvoice{
		Name:        "SINV-010",
		PostingDate: &posting,
	}
	payload := BuildInvoicePayload(invoice)

	if payload["salesDate"] != "20260314" {
		t.Fatalf("salesDate expected 20260314, got %v", payload["salesDate"])
	}
	if payload["confirmDate"] != "20260314120000" {
		t.Fatalf("confirmDate expected 20260314120000, got %v", payload["confirmDate"])
	}
	if payload["invoiceStatusCode"] != invoiceStatusConfirmed {
		t.Fatalf("invoiceStatusCode expected %s, got %v", invoiceStatusConfirmed, payload["invoiceStatusCode"])
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in       string
		expected interface{}
	}{
		{"+254712345678", "+254712345678"},
		{"0712345678", "+254712345678"},
		{"0712 345 678", "+254712345678"},
		{"12345", nil},
		{"", nil},
	}
	for _, tc := range cases {
		if got := NormalizePhoneNumber(tc.in); got != tc.expected {
			t.Fatalf("NormalizePhoneNumber(%q) expected %v, got %v", tc.in, tc.expected, got)
		}
	}
}

func TestPartnerCustomerType(t *testing.T) {
	if got := partnerCustomerType("Company"); got != "CORPORATE" {
		t.Fatalf("Company expected CORPORATE, got %s", got)
	}
	if got := partnerCustomerType("Partnership"); got != "CORPORATE" {
		t.Fatalf("Partnership expected CORPORATE, got %s", got)
	}
	if got := partnerCustomerType("Individual"); got != "INDIVIDUAL" {
		t.Fatalf("Individual expected INDIVIDUAL, got %s", got)
	}
}
