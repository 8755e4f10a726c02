package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Item is the catalog record pushed to the remote product register. The
// scu_* columns carry the fiscal classification codes the remote side
// requires before any sale referencing the item can be signed.
type Item struct {
	ID           int    `gorm:"primary_key" json:"id"`
	Name         string `gorm:"size:140;uniqueIndex;not null" json:"name"`
	SettingsName string `gorm:"size:140;index" json:"settings_name"`
	ItemCode     string `gorm:"size:140;index" json:"item_code"`
	ItemName     string `gorm:"size:255" json:"item_name"`
	Description  string `gorm:"size:1000" json:"description"`

	CanBeSold      bool   `gorm:"default:true" json:"can_be_sold"`
	CanBePurchased bool   `gorm:"default:true" json:"can_be_purchased"`
	ProductType    string `gorm:"size:40" json:"product_type"`
	ItemType       string `gorm:"size:40" json:"item_type"`

	ScuItemCode           string `gorm:"size:64" json:"scu_item_code"`
	ScuItemClassification string `gorm:"size:140" json:"scu_item_classification"`
	PackagingUnit         string `gorm:"size:140" json:"packaging_unit"`
	QuantityUnit          string `gorm:"size:140" json:"quantity_unit"`
	CountryOfOrigin       string `gorm:"size:10;default:'KE'" json:"country_of_origin"`
	TaxationTypeCode      string `gorm:"size:10" json:"taxation_type_code"`
	SaleTaxTemplate       string `gorm:"size:140" json:"sale_tax_template"`

	SellingPrice    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"selling_price"`
	PurchasingPrice decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"purchasing_price"`

	SladeId    string `gorm:"size:128;index" json:"slade_id"`
	Registered bool   `gorm:"default:false" json:"registered"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TaxTemplate links a named tax setup to the rate and fiscal code used
// when computing line taxes.
type TaxTemplate struct {
	ID               int             `gorm:"primary_key" json:"id"`
	Name             string          `gorm:"size:140;uniqueIndex;not null" json:"name"`
	TaxRate          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_rate"`
	TaxationTypeCode string          `gorm:"size:10" json:"taxation_type_code"`
	SladeId          string          `gorm:"size:128" json:"slade_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetItemByName(ctx context.Context, db *gorm.DB, name string) (*Item, error) {
	var item Item
	if err := db.WithContext(ctx).Where("name = ?", name).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &item, nil
}

func GetItemByCode(ctx context.Context, db *gorm.DB, code string) (*Item, error) {
	var item Item
	if err := db.WithContext(ctx).Where("item_code = ?", code).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (i *Item) MarkRegistered(ctx context.Context, db *gorm.DB, sladeId string) error {
	i.SladeId = sladeId
	i.Registered = true
	return db.WithContext(ctx).Model(&Item{}).Where("id = ?", i.ID).
		Updates(map[string]interface{}{"slade_id": sladeId, "registered": true}).Error
}

func GetTaxTemplatesByNames(ctx context.Context, db *gorm.DB, names []string) (map[string]TaxTemplate, error) {
	result := make(map[string]TaxTemplate)
	if len(names) == 0 {
		return result, nil
	}
	var rows []TaxTemplate
	if err := db.WithContext(ctx).Where("name IN ?", names).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.Name] = row
	}
	return result, nil
}
