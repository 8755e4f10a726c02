package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// EtimsNotice mirrors a regulator bulletin fetched from the remote notice
// search. Rows are create-only, keyed by the remote notice number.
type EtimsNotice struct {
	ID           int    `gorm:"primary_key" json:"id"`
	NoticeNumber string `gorm:"size:64;uniqueIndex;not null" json:"notice_number"`
	SettingsName string `gorm:"size:140;index" json:"settings_name"`

	Title                string     `gorm:"size:500" json:"title"`
	RegistrationName     string     `gorm:"size:255" json:"registration_name"`
	DetailsURL           string     `gorm:"size:512" json:"details_url"`
	RegistrationDatetime *time.Time `json:"registration_datetime"`
	Contents             string     `gorm:"type:text" json:"contents"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CreateNoticeIfNew inserts a notice unless one with the same number
// already exists. Returns true when a row was created.
func CreateNoticeIfNew(ctx context.Context, db *gorm.DB, notice *EtimsNotice) (bool, error) {
	var existing EtimsNotice
	err := db.WithContext(ctx).Where("notice_number = ?", notice.NoticeNumber).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if err := db.WithContext(ctx).Create(notice).Error; err != nil {
		return false, err
	}
	return true, nil
}
