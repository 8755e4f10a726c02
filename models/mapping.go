package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// SladeMapping records the remote identifier assigned to a local document.
// One row per (doctype, document, settings) triple; the remote id is the
// handle every subsequent PATCH and lookup uses.
type SladeMapping struct {
	ID           int    `gorm:"primary_key" json:"id"`
	Doctype      string `gorm:"size:60;uniqueIndex:idx_slade_mapping;not null" json:"doctype"`
	DocumentName string `gorm:"size:140;uniqueIndex:idx_slade_mapping;not null" json:"document_name"`
	SettingsName string `gorm:"size:140;uniqueIndex:idx_slade_mapping" json:"settings_name"`
	SladeId      string `gorm:"size:128;not null" json:"slade_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetSladeId returns the remote id for a document, or "" when none is
// recorded yet.
func GetSladeId(ctx context.Context, db *gorm.DB, doctype, documentName, settingsName string) (string, error) {
	var mapping SladeMapping
	err := db.WithContext(ctx).
		Where("doctype = ? AND document_name = ? AND settings_name = ?", doctype, documentName, settingsName).
		First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return mapping.SladeId, nil
}

func UpsertSladeMapping(ctx context.Context, db *gorm.DB, doctype, documentName, settingsName, sladeId string) error {
	var mapping SladeMapping
	err := db.WithContext(ctx).
		Where("doctype = ? AND document_name = ? AND settings_name = ?", doctype, documentName, settingsName).
		First(&mapping).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		mapping = SladeMapping{
			Doctype:      doctype,
			DocumentName: documentName,
			SettingsName: settingsName,
			SladeId:      sladeId,
		}
		return db.WithContext(ctx).Create(&mapping).Error
	}
	if mapping.SladeId == sladeId {
		return nil
	}
	return db.WithContext(ctx).Model(&SladeMapping{}).Where("id = ?", mapping.ID).
		Update("slade_id", sladeId).Error
}
