package etims

import (
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

func d(value string) decimal.Decimal {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func TestApplyTaxes_ItemLevelTemplates(t *testing.T) {
	lines := []models.SalesInvoiceLine{
		{ItemCode: "ITM-1", BaseNetAmount: d("1000"), ItemTaxTemplate: "VAT 16"},
		{ItemCode: "ITM-2", BaseNetAmount: d("500"), ItemTaxTemplate: "Exempt"},
	}
	templates := map[string]models.TaxTemplate{
		"VAT 16": {Name: "VAT 16", TaxRate: d("16")},
		"Exempt": {Name: "Exempt", TaxRate: d("0"), TaxationTypeCode: "D"},
	}

	out := ApplyTaxes(lines, nil, templates)

	if !out[0].TaxAmount.Equal(d("160")) {
		t.Fatalf("line 1 tax expected 160, got %s", out[0].TaxAmount)
	}
	if out[0].TaxationTypeCode != "B" {
		t.Fatalf("line 1 code expected B, got %s", out[0].TaxationTypeCode)
	}
	if !out[1].TaxAmount.IsZero() {
		t.Fatalf("line 2 tax expected 0, got %s", out[1].TaxAmount)
	}
	// Template-supplied code wins over the rate classification.
	if out[1].TaxationTypeCode != "D" {
		t.Fatalf("line 2 code expected D, got %s", out[1].TaxationTypeCode)
	}
}

func TestApplyTaxes_ItemLevelMissingTemplateZeroes(t *testing.T) {
	lines := []models.SalesInvoiceLine{
		{ItemCode: "ITM-1", BaseNetAmount: d("1000"), ItemTaxTemplate: "VAT 16"},
		{ItemCode: "ITM-2", BaseNetAmount: d("500"), ItemTaxTemplate: "Gone"},
	}
	templates := map[string]models.TaxTemplate{
		"VAT 16": {Name: "VAT 16", TaxRate: d("16")},
	}

	out := ApplyTaxes(lines, nil, templates)

	if !out[1].TaxAmount.IsZero() || !out[1].TaxRate.IsZero() {
		t.Fatalf("missing template should zero the line, got rate=%s amount=%s", out[1].TaxRate, out[1].TaxAmount)
	}
	if out[1].TaxationTypeCode != "A" {
		t.Fatalf("missing template code expected A, got %s", out[1].TaxationTypeCode)
	}
}

func TestApplyTaxes_DocumentLevelDistribution(t *testing.T) {
	lines := []models.SalesInvoiceLine{
		{ItemCode: "ITM-1", BaseNetAmount: d("200")},
		{ItemCode: "ITM-2", BaseNetAmount: d("100")},
	}
	taxes := []models.SalesInvoiceTax{
		{Description: "VAT", TaxAmount: d("45")},
	}

	out := ApplyTaxes(lines, taxes, nil)

	// Division runs at decimal's default precision, so compare rounded.
	if !out[0].TaxAmount.Round(6).Equal(d("30")) {
		t.Fatalf("line 1 allocated tax expected 30, got %s", out[0].TaxAmount)
	}
	if !out[1].TaxAmount.Round(6).Equal(d("15")) {
		t.Fatalf("line 2 allocated tax expected 15, got %s", out[1].TaxAmount)
	}
	// Backed-out rate: 30/200 and 15/100 are both 15%.
	if !out[0].TaxRate.Round(6).Equal(d("15")) || !out[1].TaxRate.Round(6).Equal(d("15")) {
		t.Fatalf("expected 15%% on both lines, got %s and %s", out[0].TaxRate, out[1].TaxRate)
	}
	if out[0].TaxationTypeCode != "E" {
		t.Fatalf("15%% should classify E, got %s", out[0].TaxationTypeCode)
	}

	allocated := out[0].TaxAmount.Add(out[1].TaxAmount)
	if !allocated.Round(6).Equal(d("45")) {
		t.Fatalf("distribution should conserve the document tax, got %s", allocated)
	}
}

func TestApplyTaxes_DocumentLevelNoTaxes(t *testing.T) {
	lines := []models.SalesInvoiceLine{
		{ItemCode: "ITM-1", BaseNetAmount: d("200")},
	}

	out := ApplyTaxes(lines, nil, nil)

	if !out[0].TaxAmount.IsZero() || out[0].TaxationTypeCode != "A" {
		t.Fatalf("untaxed document should zero-rate lines, got amount=%s code=%s", out[0].TaxAmount, out[0].TaxationTypeCode)
	}
}

func TestTaxationCodeFromRate(t *testing.T) {
	cases := []struct {
		rate     string
		expected string
	}{
		{"16", "B"},
		{"18", "B"},
		{"15.6", "B"}, // rounds to 16
		{"8", "E"},
		{"12", "E"},
		{"0", "A"},
		{"3", "A"},
	}
	for _, tc := range cases {
		if got := taxationCodeFromRate(d(tc.rate)); got != tc.expected {
			t.Fatalf("taxationCodeFromRate(%s) expected %s, got %s", tc.rate, tc.expected, got)
		}
	}
}
