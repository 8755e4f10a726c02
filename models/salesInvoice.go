package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SubmissionState tracks how far a sales document has progressed through
// the remote submission chain.
type SubmissionState string

const (
	SubmissionStateDraft        SubmissionState = "Draft"
	SubmissionStateLinesSaved   SubmissionState = "LinesSaved"
	SubmissionStateTransitioned SubmissionState = "Transitioned"
	SubmissionStateSigned       SubmissionState = "Signed"
	SubmissionStateFinalized    SubmissionState = "Finalized"
	SubmissionStateAborted      SubmissionState = "Aborted"
)

const (
	DoctypeSalesInvoice    = "SalesInvoice"
	DoctypeItem            = "Item"
	DoctypePartner         = "Partner"
	DoctypeStockAdjustment = "StockAdjustment"
	DoctypeSettings        = "EtimsSettings"
)

const InvoiceStatusCreditNoteIssued = "Credit Note Issued"

type SalesInvoice struct {
	ID           int    `gorm:"primary_key" json:"id"`
	Name         string `gorm:"size:140;uniqueIndex;not null" json:"name"`
	SettingsName string `gorm:"size:140;index" json:"settings_name"`
	Company      string `gorm:"size:140" json:"company"`
	Customer     string `gorm:"size:140;index" json:"customer"`
	CustomerName string `gorm:"size:255" json:"customer_name"`

	PostingDate *time.Time `json:"posting_date"`

	IsReturn      bool   `gorm:"default:false" json:"is_return"`
	ReturnAgainst string `gorm:"size:140;index;default:null" json:"return_against"`
	Status        string `gorm:"size:40" json:"status"`

	ConversionRate decimal.Decimal `gorm:"type:decimal(20,6);default:1" json:"conversion_rate"`
	BaseGrandTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_grand_total"`

	SubmissionState    SubmissionState `gorm:"size:20;index;default:'Draft'" json:"submission_state"`
	StateChangedAt     time.Time       `json:"state_changed_at"`
	SladeId            string          `gorm:"size:128;index" json:"slade_id"`
	Submitted          bool            `gorm:"default:false;index" json:"submitted"`
	PreventSubmission  bool            `gorm:"default:false" json:"prevent_submission"`
	RevisionCount      int             `gorm:"default:0" json:"revision_count"`
	SubmissionAttempts int             `gorm:"default:0" json:"submission_attempts"`

	ReceiptNumber       string     `gorm:"size:64" json:"receipt_number"`
	ReceiptSignature    string     `gorm:"size:255" json:"receipt_signature"`
	ScuId               string     `gorm:"size:64" json:"scu_id"`
	ScuMrcNumber        string     `gorm:"size:64" json:"scu_mrc_number"`
	ScuInvoiceNumber    string     `gorm:"size:64" json:"scu_invoice_number"`
	ScuInternalData     string     `gorm:"size:255" json:"scu_internal_data"`
	ControlUnitDateTime *time.Time `json:"control_unit_date_time"`
	QRCodeURL           string     `gorm:"size:512" json:"qr_code_url"`
	QRCodeImage         string     `gorm:"size:512" json:"qr_code_image"`

	Lines []SalesInvoiceLine `gorm:"foreignKey:InvoiceId" json:"lines"`
	Taxes []SalesInvoiceTax  `gorm:"foreignKey:InvoiceId" json:"taxes"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type SalesInvoiceLine struct {
	ID        int    `gorm:"primary_key" json:"id"`
	InvoiceId int    `gorm:"index;not null" json:"invoice_id"`
	Name      string `gorm:"size:140;index" json:"name"`
	ItemCode  string `gorm:"size:140;not null" json:"item_code"`

	Qty           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	BaseNetRate   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_net_rate"`
	BaseNetAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_net_amount"`
	BaseAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_amount"`

	ItemTaxTemplate  string          `gorm:"size:140;default:null" json:"item_tax_template"`
	TaxRate          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_rate"`
	TaxAmount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	TaxationTypeCode string          `gorm:"size:10" json:"taxation_type_code"`

	SladeId     string `gorm:"size:128" json:"slade_id"`
	SentToSlade bool   `gorm:"default:false" json:"sent_to_slade"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SalesInvoiceTax is one document-level tax row, distributed across lines
// when no line carries its own tax template.
type SalesInvoiceTax struct {
	ID          int             `gorm:"primary_key" json:"id"`
	InvoiceId   int             `gorm:"index;not null" json:"invoice_id"`
	Description string          `gorm:"size:255" json:"description"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
}

func GetSalesInvoiceByName(ctx context.Context, db *gorm.DB, name string) (*SalesInvoice, error) {
	var invoice SalesInvoice
	err := db.WithContext(ctx).Preload("Lines").Preload("Taxes").
		Where("name = ?", name).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// SetSubmissionState moves the document to a new workflow state and stamps
// the change time used by the staleness sweep.
func (inv *SalesInvoice) SetSubmissionState(ctx context.Context, db *gorm.DB, state SubmissionState) error {
	now := time.Now().UTC()
	inv.SubmissionState = state
	inv.StateChangedAt = now
	return db.WithContext(ctx).Model(&SalesInvoice{}).Where("id = ?", inv.ID).
		Updates(map[string]interface{}{"submission_state": state, "state_changed_at": now}).Error
}

func (inv *SalesInvoice) SetSladeId(ctx context.Context, db *gorm.DB, sladeId string) error {
	inv.SladeId = sladeId
	return db.WithContext(ctx).Model(&SalesInvoice{}).Where("id = ?", inv.ID).
		Update("slade_id", sladeId).Error
}

func (inv *SalesInvoice) IncrementSubmissionAttempts(ctx context.Context, db *gorm.DB) error {
	inv.SubmissionAttempts++
	return db.WithContext(ctx).Model(&SalesInvoice{}).Where("id = ?", inv.ID).
		Update("submission_attempts", gorm.Expr("submission_attempts + 1")).Error
}

func (inv *SalesInvoice) lockKey() string {
	return "etimsInvoiceLock:" + inv.Name
}

// ObtainSubmissionLock takes the per-document redis lock guarding one
// orchestrator step. Returns a release func, or an error when another
// worker holds it.
func (inv *SalesInvoice) ObtainSubmissionLock(ctx context.Context, ttl time.Duration) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		// No lock backend in this environment; rely on remote-id idempotency.
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, inv.lockKey(), ttl, nil)
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}
