package etims

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

const (
	salesTypeNormal        = "N"
	paymentTypeCredit      = "01"
	paymentTypeCash        = "02"
	invoiceStatusConfirmed = "02"
	creditNoteReasonOther  = "06"
	refundReasonOther      = "13"
	invoiceRemark          = "MSKL"
)

// fullReturnTolerance is the largest currency difference still treated as
// a full return of the original invoice.
var fullReturnTolerance = decimal.NewFromFloat(0.01)

// ReferenceNumber is the identifier the remote side knows a document by.
// Revised submissions get a -REVn suffix so the remote sees a fresh
// trader invoice number.
func ReferenceNumber(name string, revisionCount int) string {
	if revisionCount > 0 {
		return fmt.Sprintf("%s-REV%d", name, revisionCount)
	}
	return name
}

func compactDate(t time.Time) string {
	return t.Format("20060102")
}

func postingDate(invoice *models.SalesInvoice) time.Time {
	if invoice.PostingDate != nil {
		return *invoice.PostingDate
	}
	return invoice.CreatedAt
}

// BuildInvoicePayload shapes the invoice-save request body.
func BuildInvoicePayload(invoice *models.SalesInvoice) map[string]interface{} {
	date := compactDate(postingDate(invoice))
	reference := ReferenceNumber(invoice.Name, invoice.RevisionCount)

	items := make([]map[string]interface{}, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		items = append(items, map[string]interface{}{
			"itemCode":     line.ItemCode,
			"taxTypeCode":  line.TaxationTypeCode,
			"unitPrice":    lineUnitPrice(line),
			"pkgQuantity":  line.Qty,
			"quantity":     line.Qty.Abs(),
			"discountRate": 0,
			"discountAmt":  0,
		})
	}

	return map[string]interface{}{
		"customerNo":         invoice.Customer,
		"customerName":       invoice.CustomerName,
		"customerMobileNo":   "",
		"salesType":          salesTypeNormal,
		"paymentType":        paymentTypeCash,
		"traderInvoiceNo":    reference,
		"confirmDate":        date + "120000",
		"salesDate":          date,
		"stockReleseDate":    date + "120000",
		"receiptPublishDate": date + "120000",
		"occurredDate":       date,
		"invoiceStatusCode":  invoiceStatusConfirmed,
		"remark":             invoiceRemark,
		"isPurchaseAccept":   1,
		"mapping":            invoice.Name,
		"saleItemList":       items,
	}
}

// BuildCreditNotePayload shapes the credit-note-save request body for a
// return document. originalReference is what the original invoice was
// submitted as.
func BuildCreditNotePayload(invoice *models.SalesInvoice, originalReference string) map[string]interface{} {
	date := compactDate(postingDate(invoice))
	reference := ReferenceNumber(invoice.Name, invoice.RevisionCount)

	items := make([]map[string]interface{}, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		items = append(items, map[string]interface{}{
			"itemCode":     line.ItemCode,
			"unitPrice":    lineUnitPrice(line),
			"quantity":     line.Qty.Abs(),
			"discountRate": 0,
		})
	}

	return map[string]interface{}{
		"orgInvoiceNo":        originalReference,
		"traderInvoiceNo":     reference,
		"salesType":           salesTypeNormal,
		"paymentType":         paymentTypeCredit,
		"creditNoteDate":      date,
		"creditNoteReason":    creditNoteReasonOther,
		"confirmDate":         date + "120000",
		"occurredDate":        date,
		"invoiceStatusCode":   invoiceStatusConfirmed,
		"remark":              invoiceRemark,
		"mapping":             invoice.Name,
		"creditNoteItemsList": items,
	}
}

// lineUnitPrice is the tax-inclusive unit rate, 4dp.
func lineUnitPrice(line models.SalesInvoiceLine) decimal.Decimal {
	price := line.BaseNetRate
	if !line.Qty.IsZero() {
		price = price.Add(line.TaxAmount.Div(line.Qty.Abs()))
	}
	return price.Round(4)
}

// lineGrossAmount is the tax-inclusive line total, 4dp.
func lineGrossAmount(line models.SalesInvoiceLine) decimal.Decimal {
	return line.BaseAmount.Add(line.TaxAmount).Round(4)
}

// BuildLinePayload shapes the line-save body for one invoice or credit
// note line. The product must already be registered remotely.
func BuildLinePayload(ctx context.Context, db *gorm.DB, invoice *models.SalesInvoice, line models.SalesInvoiceLine, settingsName string) (map[string]interface{}, error) {
	productId, err := models.GetSladeId(ctx, db, models.DoctypeItem, line.ItemCode, settingsName)
	if err != nil {
		return nil, err
	}
	if productId == "" {
		return nil, newConfigurationError("buildLinePayload", models.DoctypeSalesInvoice, invoice.Name,
			"item "+line.ItemCode+" has no remote product id")
	}
	if invoice.SladeId == "" {
		return nil, newConfigurationError("buildLinePayload", models.DoctypeSalesInvoice, invoice.Name,
			"invoice has no remote id")
	}

	payload := map[string]interface{}{
		"product":        productId,
		"quantity":       line.Qty.Abs().Round(4),
		"new_price":      lineUnitPrice(line),
		"amount":         lineGrossAmount(line),
		"document_name":  line.Name,
		"allow_discount": false,
	}
	if invoice.IsReturn {
		payload["credit_note"] = invoice.SladeId
	} else {
		payload["sales_invoice"] = invoice.SladeId
	}
	if line.SladeId != "" {
		payload["id"] = line.SladeId
	}
	return payload, nil
}

// BuildTransitionPayload shapes the workflow-transition body.
func BuildTransitionPayload(invoice *models.SalesInvoice) map[string]interface{} {
	return map[string]interface{}{
		"invoice_id":    invoice.SladeId,
		"document_name": invoice.Name,
	}
}

// BuildReturnInvoicePayload shapes the refund request raised when a
// reconciliation mismatch forces the remote copy to be reversed. A return
// within tolerance of the original total reverses the remote lines;
// a partial return sends the local lines.
func BuildReturnInvoicePayload(invoice *models.SalesInvoice, original *InvoiceSnapshot, returnTotal decimal.Decimal, isFullReturn bool) map[string]interface{} {
	var items []map[string]interface{}
	if isFullReturn && original != nil {
		for _, line := range original.SalesInvoiceLines {
			items = append(items, map[string]interface{}{
				"item_name": line.ProductName,
				"quantity":  line.Quantity.Abs(),
				"amount":    line.PriceInclusiveTax.Abs().Round(4),
			})
		}
	} else {
		for _, line := range invoice.Lines {
			items = append(items, map[string]interface{}{
				"item_name": line.ItemCode,
				"quantity":  line.Qty.Abs(),
				"amount":    lineGrossAmount(line),
			})
		}
	}

	reference := ""
	if original != nil {
		reference = original.ReferenceNumber
	}
	return map[string]interface{}{
		"document_name":     invoice.Name,
		"invoice_reference": reference,
		"refund_reason":     refundReasonOther,
		"amount":            returnTotal,
		"items":             items,
	}
}

// IsFullReturn reports whether a return covers the whole original amount,
// within currency tolerance.
func IsFullReturn(originalTotal, returnTotal decimal.Decimal) bool {
	return originalTotal.Sub(returnTotal.Abs()).Abs().LessThan(fullReturnTolerance)
}

// BuildItemPayload shapes the product-register body. Classification and
// unit references must already be mapped to remote ids.
func BuildItemPayload(ctx context.Context, db *gorm.DB, item *models.Item, settings *models.EtimsSettings) (map[string]interface{}, error) {
	classificationId, err := requireMapping(ctx, db, "ItemClassification", item.ScuItemClassification, settings.Name, models.DoctypeItem, item.Name)
	if err != nil {
		return nil, err
	}
	packagingUnitId, err := requireMapping(ctx, db, "PackagingUnit", item.PackagingUnit, settings.Name, models.DoctypeItem, item.Name)
	if err != nil {
		return nil, err
	}
	quantityUnitId, err := requireMapping(ctx, db, "QuantityUnit", item.QuantityUnit, settings.Name, models.DoctypeItem, item.Name)
	if err != nil {
		return nil, err
	}

	saleTaxes := []string{}
	if item.SaleTaxTemplate != "" {
		taxId, err := requireMapping(ctx, db, "TaxTemplate", item.SaleTaxTemplate, settings.Name, models.DoctypeItem, item.Name)
		if err != nil {
			return nil, err
		}
		saleTaxes = append(saleTaxes, taxId)
	}

	payload := map[string]interface{}{
		"name":                    item.ItemName,
		"document_name":           item.Name,
		"description":             item.Description,
		"can_be_sold":             item.CanBeSold,
		"can_be_purchased":        item.CanBePurchased,
		"company_name":            settings.Company,
		"code":                    item.ItemCode,
		"scu_item_code":           item.ScuItemCode,
		"scu_item_classification": classificationId,
		"product_type":            item.ProductType,
		"item_type":               item.ItemType,
		"preferred_name":          item.ItemName,
		"country_of_origin":       item.CountryOfOrigin,
		"selling_price":           item.SellingPrice.Round(2),
		"purchasing_price":        item.PurchasingPrice.Round(2),
		"packaging_unit":          packagingUnitId,
		"quantity_unit":           quantityUnitId,
		"categories":              []string{},
		"purchase_taxes":          []string{},
		"sale_taxes":              saleTaxes,
	}
	if item.SladeId != "" {
		payload["id"] = item.SladeId
	}
	return payload, nil
}

// BuildPartnerPayload shapes the business-partner-register body.
func BuildPartnerPayload(ctx context.Context, db *gorm.DB, partner *models.Partner, settings *models.EtimsSettings) (map[string]interface{}, error) {
	currencyId, err := requireMapping(ctx, db, "Currency", partnerCurrency(partner), settings.Name, models.DoctypePartner, partner.Name)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"document_name":    partner.Name,
		"currency":         currencyId,
		"country":          partner.Country,
		"is_customer":      partner.IsCustomer,
		"is_supplier":      partner.IsSupplier,
		"customer_tax_pin": partner.TaxPin,
		"partner_name":     partner.PartnerName,
		"phone_number":     NormalizePhoneNumber(partner.PhoneNumber),
		"customer_type":    partnerCustomerType(partner.PartnerType),
	}
	if partner.SladeId != "" {
		payload["id"] = partner.SladeId
	}
	return payload, nil
}

func partnerCurrency(partner *models.Partner) string {
	if partner.Currency != "" {
		return partner.Currency
	}
	return "KES"
}

func partnerCustomerType(partnerType string) string {
	switch partnerType {
	case "Company", "Partnership":
		return "CORPORATE"
	default:
		return "INDIVIDUAL"
	}
}

// NormalizePhoneNumber renders a phone as +254 national format, or nil
// when the number cannot carry nine national digits.
func NormalizePhoneNumber(phone string) interface{} {
	if parsed, err := libphonenumber.Parse(phone, "KE"); err == nil && libphonenumber.IsValidNumber(parsed) {
		return libphonenumber.Format(parsed, libphonenumber.E164)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) < 9 {
		return nil
	}
	return "+254" + digits[len(digits)-9:]
}

// BuildStockAdjustmentPayload shapes the stock-master-save body.
func BuildStockAdjustmentPayload(adjustment *models.StockAdjustment) map[string]interface{} {
	date := time.Now().UTC()
	if adjustment.PostingDate != nil {
		date = *adjustment.PostingDate
	}
	payload := map[string]interface{}{
		"document_name": adjustment.Name,
		"warehouse":     adjustment.Warehouse,
		"reason":        adjustment.Reason,
		"occurred_date": compactDate(date),
	}
	if adjustment.SladeId != "" {
		payload["id"] = adjustment.SladeId
	}
	return payload
}

// BuildStockAdjustmentLinePayload shapes one stock-movement line body.
func BuildStockAdjustmentLinePayload(ctx context.Context, db *gorm.DB, adjustment *models.StockAdjustment, line models.StockAdjustmentLine, settingsName string) (map[string]interface{}, error) {
	productId, err := models.GetSladeId(ctx, db, models.DoctypeItem, line.ItemCode, settingsName)
	if err != nil {
		return nil, err
	}
	if productId == "" {
		return nil, newConfigurationError("buildStockLinePayload", models.DoctypeStockAdjustment, adjustment.Name,
			"item "+line.ItemCode+" has no remote product id")
	}
	if adjustment.SladeId == "" {
		return nil, newConfigurationError("buildStockLinePayload", models.DoctypeStockAdjustment, adjustment.Name,
			"stock adjustment has no remote id")
	}

	payload := map[string]interface{}{
		"product":          productId,
		"quantity":         line.Qty.Round(4),
		"rate":             line.BaseRate.Round(4),
		"stock_adjustment": adjustment.SladeId,
		"document_name":    line.Name,
	}
	if line.SladeId != "" {
		payload["id"] = line.SladeId
	}
	return payload, nil
}

func requireMapping(ctx context.Context, db *gorm.DB, mappingDoctype, documentName, settingsName, errDoctype, errDocument string) (string, error) {
	if documentName == "" {
		return "", newConfigurationError("requireMapping", errDoctype, errDocument,
			mappingDoctype+" is not set")
	}
	sladeId, err := models.GetSladeId(ctx, db, mappingDoctype, documentName, settingsName)
	if err != nil {
		return "", err
	}
	if sladeId == "" {
		return "", newConfigurationError("requireMapping", errDoctype, errDocument,
			mappingDoctype+" "+documentName+" has no remote id")
	}
	return sladeId, nil
}
