package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/utils"
	"gorm.io/gorm"
)

// Partner is a customer or supplier synced to the remote business-partner
// register. Tax PIN is what the compliance side keys on.
type Partner struct {
	ID           int    `gorm:"primary_key" json:"id"`
	Name         string `gorm:"size:140;uniqueIndex;not null" json:"name"`
	SettingsName string `gorm:"size:140;index" json:"settings_name"`
	PartnerName  string `gorm:"size:255;not null" json:"partner_name"`
	PartnerType  string `gorm:"size:40;default:'Individual'" json:"partner_type"`

	IsCustomer bool `gorm:"default:true" json:"is_customer"`
	IsSupplier bool `gorm:"default:false" json:"is_supplier"`

	TaxPin      string `gorm:"size:30;index" json:"tax_pin"`
	PhoneNumber string `gorm:"size:30" json:"phone_number"`
	Currency    string `gorm:"size:10;default:'KES'" json:"currency"`
	Country     string `gorm:"size:10;default:'KEN'" json:"country"`

	SladeId    string `gorm:"size:128;index" json:"slade_id"`
	Registered bool   `gorm:"default:false" json:"registered"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetPartnerByName(ctx context.Context, db *gorm.DB, name string) (*Partner, error) {
	var partner Partner
	if err := db.WithContext(ctx).Where("name = ?", name).First(&partner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &partner, nil
}

func (p *Partner) MarkRegistered(ctx context.Context, db *gorm.DB, sladeId string) error {
	p.SladeId = sladeId
	p.Registered = true
	return db.WithContext(ctx).Model(&Partner{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{"slade_id": sladeId, "registered": true}).Error
}
