package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/utils"
	"gorm.io/gorm"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// EtimsSettings is one integration setup against the remote compliance
// backend. A deployment may carry several (per company / per branch), each
// with its own credential set and token state.
type EtimsSettings struct {
	ID            int    `gorm:"primary_key" json:"id"`
	Name          string `gorm:"size:140;uniqueIndex;not null" json:"name"`
	Company       string `gorm:"size:140;index" json:"company"`
	BranchId      string `gorm:"size:10;default:'00'" json:"branch_id"`
	Environment   string `gorm:"size:20;default:'sandbox'" json:"environment"`
	ServerURL     string `gorm:"size:255" json:"server_url"`
	AuthServerURL string `gorm:"size:255" json:"auth_server_url"`
	WorkstationId string `gorm:"size:100" json:"workstation_id"`

	AuthUsername string `gorm:"size:140" json:"auth_username"`
	AuthPassword string `gorm:"size:255" json:"-"`
	ClientId     string `gorm:"size:255" json:"-"`
	ClientSecret string `gorm:"size:255" json:"-"`

	AccessToken  string     `gorm:"type:text" json:"-"`
	RefreshToken string     `gorm:"type:text" json:"-"`
	TokenExpiry  *time.Time `json:"token_expiry"`

	IsActive                   bool `gorm:"default:false;index" json:"is_active"`
	SalesAutoSubmissionEnabled bool `gorm:"default:false" json:"sales_auto_submission_enabled"`

	MaxAllowedRevisions        int `gorm:"default:3" json:"max_allowed_revisions"`
	MaxSalesSubmissionAttempts int `gorm:"default:3" json:"max_sales_submission_attempts"`
	MaxStockSubmissionAttempts int `gorm:"default:3" json:"max_stock_submission_attempts"`
	SubmissionTimeframeSecs    int `gorm:"default:86400" json:"submission_timeframe_secs"`
	DuplicateRetryDelaySecs    int `gorm:"default:15" json:"duplicate_retry_delay_secs"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func settingsCacheKey(name string) string {
	return "etimsSettings:" + name
}

// GetSettingsByName reads a settings record, redis first then db.
func GetSettingsByName(ctx context.Context, name string) (*EtimsSettings, error) {
	if name == "" {
		return nil, errors.New("settings name is required")
	}

	var settings EtimsSettings
	exists, err := config.GetRedisObject(settingsCacheKey(name), &settings)
	if err == nil && exists {
		return &settings, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("name = ?", name).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	_ = config.SetRedisObject(settingsCacheKey(name), &settings, 5*time.Minute)
	return &settings, nil
}

func GetActiveSettings(ctx context.Context) ([]*EtimsSettings, error) {
	db := config.GetDB()
	var results []*EtimsSettings
	if err := db.WithContext(ctx).Where("is_active = ?", true).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// SaveTokens persists a fresh token pair and drops the cache entry.
func (s *EtimsSettings) SaveTokens(ctx context.Context, db *gorm.DB, accessToken, refreshToken string, expiry time.Time) error {
	s.AccessToken = accessToken
	s.RefreshToken = refreshToken
	s.TokenExpiry = &expiry
	if err := db.WithContext(ctx).Model(&EtimsSettings{}).Where("id = ?", s.ID).
		Updates(map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"token_expiry":  expiry,
		}).Error; err != nil {
		return err
	}
	return config.RemoveRedisKey(settingsCacheKey(s.Name))
}

func (s *EtimsSettings) SaveAuthPassword(ctx context.Context, db *gorm.DB, password string) error {
	s.AuthPassword = password
	if err := db.WithContext(ctx).Model(&EtimsSettings{}).Where("id = ?", s.ID).
		Update("auth_password", password).Error; err != nil {
		return err
	}
	return config.RemoveRedisKey(settingsCacheKey(s.Name))
}

func (s *EtimsSettings) TokenExpired(now time.Time) bool {
	if s.AccessToken == "" {
		return true
	}
	if s.TokenExpiry == nil {
		return true
	}
	return !s.TokenExpiry.After(now)
}

func (s *EtimsSettings) MaxSubmissionAttemptsFor(doctype string) int {
	var tries int
	switch doctype {
	case DoctypeStockAdjustment:
		tries = s.MaxStockSubmissionAttempts
	default:
		tries = s.MaxSalesSubmissionAttempts
	}
	if tries <= 0 {
		return 3
	}
	return tries
}

func (s *EtimsSettings) SubmissionTimeframe() time.Duration {
	secs := s.SubmissionTimeframeSecs
	if secs <= 0 {
		secs = 86400
	}
	return time.Duration(secs) * time.Second
}

func (s *EtimsSettings) DuplicateRetryDelay() time.Duration {
	secs := s.DuplicateRetryDelaySecs
	if secs <= 0 {
		secs = 15
	}
	return time.Duration(secs) * time.Second
}
