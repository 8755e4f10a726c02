package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockAdjustment is a stock movement reported to the remote stock master.
// It walks the same save / lines / transition chain as a sales document,
// without the signing step.
type StockAdjustment struct {
	ID           int    `gorm:"primary_key" json:"id"`
	Name         string `gorm:"size:140;uniqueIndex;not null" json:"name"`
	SettingsName string `gorm:"size:140;index" json:"settings_name"`
	Warehouse    string `gorm:"size:140" json:"warehouse"`
	Reason       string `gorm:"size:255" json:"reason"`
	PostingDate  *time.Time `json:"posting_date"`

	SubmissionState    SubmissionState `gorm:"size:20;index;default:'Draft'" json:"submission_state"`
	StateChangedAt     time.Time       `json:"state_changed_at"`
	SladeId            string          `gorm:"size:128;index" json:"slade_id"`
	Submitted          bool            `gorm:"default:false;index" json:"submitted"`
	SubmissionAttempts int             `gorm:"default:0" json:"submission_attempts"`

	Lines []StockAdjustmentLine `gorm:"foreignKey:AdjustmentId" json:"lines"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type StockAdjustmentLine struct {
	ID           int    `gorm:"primary_key" json:"id"`
	AdjustmentId int    `gorm:"index;not null" json:"adjustment_id"`
	Name         string `gorm:"size:140" json:"name"`
	ItemCode     string `gorm:"size:140;not null" json:"item_code"`

	Qty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	BaseRate decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_rate"`

	SladeId     string `gorm:"size:128" json:"slade_id"`
	SentToSlade bool   `gorm:"default:false" json:"sent_to_slade"`
}

func GetStockAdjustmentByName(ctx context.Context, db *gorm.DB, name string) (*StockAdjustment, error) {
	var adjustment StockAdjustment
	err := db.WithContext(ctx).Preload("Lines").Where("name = ?", name).First(&adjustment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &adjustment, nil
}

func (a *StockAdjustment) SetSubmissionState(ctx context.Context, db *gorm.DB, state SubmissionState) error {
	now := time.Now().UTC()
	a.SubmissionState = state
	a.StateChangedAt = now
	return db.WithContext(ctx).Model(&StockAdjustment{}).Where("id = ?", a.ID).
		Updates(map[string]interface{}{"submission_state": state, "state_changed_at": now}).Error
}

func (a *StockAdjustment) SetSladeId(ctx context.Context, db *gorm.DB, sladeId string) error {
	a.SladeId = sladeId
	return db.WithContext(ctx).Model(&StockAdjustment{}).Where("id = ?", a.ID).
		Update("slade_id", sladeId).Error
}

func (a *StockAdjustment) IncrementSubmissionAttempts(ctx context.Context, db *gorm.DB) error {
	a.SubmissionAttempts++
	return db.WithContext(ctx).Model(&StockAdjustment{}).Where("id = ?", a.ID).
		Update("submission_attempts", gorm.Expr("submission_attempts + 1")).Error
}
