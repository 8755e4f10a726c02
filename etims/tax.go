package etims

import (
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

var (
	decimalZero    = decimal.Zero
	decimalHundred = decimal.NewFromInt(100)
)

// taxationCodeFromRate maps an effective rate to the fiscal category when
// no template supplies one. Rates at or above the standard band code "B",
// the reduced band "E", zero-rated "A".
func taxationCodeFromRate(rate decimal.Decimal) string {
	rounded := rate.Round(0)
	switch {
	case rounded.GreaterThanOrEqual(decimal.NewFromInt(16)):
		return "B"
	case rounded.GreaterThanOrEqual(decimal.NewFromInt(8)):
		return "E"
	case rounded.IsZero():
		return "A"
	default:
		return "A"
	}
}

// ApplyTaxes fills TaxRate, TaxAmount and TaxationTypeCode on every line.
//
// When any line carries its own tax template, tax is computed per line
// from the template rate. Otherwise the document-level tax total is
// distributed across lines in proportion to each line's net share, and
// the rate is backed out of the allocated amount.
func ApplyTaxes(lines []models.SalesInvoiceLine, taxes []models.SalesInvoiceTax, templates map[string]models.TaxTemplate) []models.SalesInvoiceLine {
	itemLevel := false
	for _, line := range lines {
		if line.ItemTaxTemplate != "" {
			itemLevel = true
			break
		}
	}

	if itemLevel {
		for idx := range lines {
			line := &lines[idx]
			template, ok := templates[line.ItemTaxTemplate]
			if !ok {
				line.TaxRate = decimalZero
				line.TaxAmount = decimalZero
				line.TaxationTypeCode = taxationCodeFromRate(decimalZero)
				continue
			}
			line.TaxRate = template.TaxRate
			line.TaxAmount = line.BaseNetAmount.Mul(template.TaxRate).Div(decimalHundred)
			line.TaxationTypeCode = taxationCode(template, template.TaxRate)
		}
		return lines
	}

	totalTax := decimalZero
	for _, tax := range taxes {
		totalTax = totalTax.Add(tax.TaxAmount)
	}
	totalNet := decimalZero
	for _, line := range lines {
		totalNet = totalNet.Add(line.BaseNetAmount)
	}

	for idx := range lines {
		line := &lines[idx]
		if totalNet.IsZero() || totalTax.IsZero() {
			line.TaxRate = decimalZero
			line.TaxAmount = decimalZero
			line.TaxationTypeCode = taxationCodeFromRate(decimalZero)
			continue
		}
		share := line.BaseNetAmount.Div(totalNet)
		line.TaxAmount = totalTax.Mul(share)
		if line.BaseNetAmount.IsZero() {
			line.TaxRate = decimalZero
		} else {
			line.TaxRate = line.TaxAmount.Div(line.BaseNetAmount).Mul(decimalHundred)
		}
		line.TaxationTypeCode = taxationCodeFromRate(line.TaxRate)
	}
	return lines
}

func taxationCode(template models.TaxTemplate, rate decimal.Decimal) string {
	if template.TaxationTypeCode != "" {
		return template.TaxationTypeCode
	}
	return taxationCodeFromRate(rate)
}
