package etims

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// listEnvelope is the paged wrapper the remote API puts around search
// results. Single-object responses skip it.
type listEnvelope struct {
	Results     []json.RawMessage `json:"results"`
	Count       int               `json:"count"`
	TotalPages  int               `json:"total_pages"`
	CurrentPage int               `json:"current_page"`
}

// SCUData carries the fiscal control-unit receipt issued when an invoice
// is signed.
type SCUData struct {
	QRCodeURL        string `json:"qr_code_url"`
	ReceiptNumber    string `json:"scu_receipt_number"`
	ReceiptTimestamp string `json:"scu_receipt_timestamp"`
	ReceiptSignature string `json:"scu_receipt_signature"`
	InternalData     string `json:"scu_internal_data"`
	ScuId            string `json:"scu_id"`
	MrcNumber        string `json:"scu_mrc_number"`
	InvoiceNumber    string `json:"scu_invoice_number"`
}

// RemoteSaleLine is one line of a remote sales or credit-note document.
type RemoteSaleLine struct {
	Product           string          `json:"product"`
	ProductName       string          `json:"product_name"`
	Quantity          decimal.Decimal `json:"quantity"`
	PriceInclusiveTax decimal.Decimal `json:"price_inclusive_tax"`
	Amount            decimal.Decimal `json:"amount"`
}

// InvoiceSnapshot is the remote view of a submitted document, as returned
// by the details fetch.
type InvoiceSnapshot struct {
	ID                   string           `json:"id"`
	ReferenceNumber      string           `json:"reference_number"`
	TotalGrossAmount     decimal.Decimal  `json:"total_gross_amount"`
	CRNTotalAmount       decimal.Decimal  `json:"crn_total_amount"`
	SCUData              *SCUData         `json:"scu_data"`
	SalesInvoiceLines    []RemoteSaleLine `json:"sales_invoice_lines"`
	SalesCreditNoteLines []RemoteSaleLine `json:"sales_credit_note_lines"`
}

type remotePurchaseLine struct {
	ID               string          `json:"id"`
	ItemCode         string          `json:"item_code"`
	ItemName         string          `json:"item_name"`
	TaxationTypeCode string          `json:"taxation_type_code"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	Amount           decimal.Decimal `json:"amount"`
}

type remotePurchase struct {
	ID                 string               `json:"id"`
	SupplierName       string               `json:"supplier_name"`
	SupplierPin        string               `json:"supplier_pin"`
	SupplierBranchId   string               `json:"supplier_branch_id"`
	InvoiceNumber      string               `json:"invoice_number"`
	SupplierInvoiceNo  string               `json:"supplier_invoice_number"`
	SalesDate          string               `json:"sales_date"`
	TotalTaxableAmount decimal.Decimal      `json:"total_taxable_amount"`
	TotalTaxAmount     decimal.Decimal      `json:"total_tax_amount"`
	TotalAmount        decimal.Decimal      `json:"total_amount"`
	Items              []remotePurchaseLine `json:"purchase_invoice_lines"`
}

type remoteNotice struct {
	NoticeNumber         string `json:"notice_number"`
	Title                string `json:"title"`
	RegistrationName     string `json:"registration_name"`
	DetailURL            string `json:"detail_url"`
	RegistrationDatetime string `json:"registration_datetime"`
	Content              string `json:"content"`
}
