package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RegisteredPurchase is a purchase document fetched from the remote side,
// kept locally so a matching purchase invoice can be raised and accepted.
type RegisteredPurchase struct {
	ID           int    `gorm:"primary_key" json:"id"`
	SettingsName string `gorm:"size:140;index" json:"settings_name"`
	SladeId      string `gorm:"size:128;uniqueIndex" json:"slade_id"`

	SupplierName   string `gorm:"size:255" json:"supplier_name"`
	SupplierPin    string `gorm:"size:30" json:"supplier_pin"`
	SupplierBranch string `gorm:"size:10" json:"supplier_branch"`

	InvoiceNumber     string     `gorm:"size:64" json:"invoice_number"`
	SupplierInvoiceNo string     `gorm:"size:64" json:"supplier_invoice_no"`
	SalesDate         *time.Time `json:"sales_date"`

	TotalTaxableAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_taxable_amount"`
	TotalTaxAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_tax_amount"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`

	Accepted bool `gorm:"default:false" json:"accepted"`

	Items []RegisteredPurchaseItem `gorm:"foreignKey:PurchaseId" json:"items"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type RegisteredPurchaseItem struct {
	ID         int    `gorm:"primary_key" json:"id"`
	PurchaseId int    `gorm:"index;not null" json:"purchase_id"`
	SladeId    string `gorm:"size:128" json:"slade_id"`

	ItemCode         string `gorm:"size:140" json:"item_code"`
	ItemName         string `gorm:"size:255" json:"item_name"`
	TaxationTypeCode string `gorm:"size:10" json:"taxation_type_code"`

	Quantity  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TaxAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
}

// UpsertRegisteredPurchase stores a fetched purchase keyed by its remote
// id, replacing item rows on refresh.
func UpsertRegisteredPurchase(ctx context.Context, db *gorm.DB, purchase *RegisteredPurchase) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing RegisteredPurchase
		err := tx.Where("slade_id = ?", purchase.SladeId).First(&existing).Error
		if err == nil {
			purchase.ID = existing.ID
			purchase.Accepted = existing.Accepted
			if err := tx.Where("purchase_id = ?", existing.ID).
				Delete(&RegisteredPurchaseItem{}).Error; err != nil {
				return err
			}
			for idx := range purchase.Items {
				purchase.Items[idx].ID = 0
				purchase.Items[idx].PurchaseId = existing.ID
			}
			return tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(purchase).Error
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		return tx.Create(purchase).Error
	})
}

func GetUnacceptedPurchases(ctx context.Context, db *gorm.DB, settingsName string) ([]*RegisteredPurchase, error) {
	var purchases []*RegisteredPurchase
	err := db.WithContext(ctx).Preload("Items").
		Where("settings_name = ? AND accepted = ?", settingsName, false).
		Order("created_at").Find(&purchases).Error
	return purchases, err
}
