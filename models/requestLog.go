package models

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	RequestStatusPending   = "Pending"
	RequestStatusCompleted = "Completed"
	RequestStatusFailed    = "Failed"
)

// requestLogTextLimit caps accumulated output/error text per log row.
const requestLogTextLimit = 5000

// RequestLog records one remote call attempt. Rows are created before the
// call goes out and resolved exactly once per leg; retries append to the
// same row rather than creating a new one.
type RequestLog struct {
	ID                 int    `gorm:"primary_key" json:"id"`
	SettingsName       string `gorm:"size:140;index" json:"settings_name"`
	RouteKey           string `gorm:"size:64;index" json:"route_key"`
	URL                string `gorm:"size:512" json:"url"`
	Method             string `gorm:"size:10" json:"method"`
	RequestDescription string `gorm:"type:text" json:"request_description"`
	RequestHeaders     []byte `gorm:"type:json" json:"request_headers"`
	Payload            []byte `gorm:"type:json" json:"payload"`
	Status             string `gorm:"size:20;index" json:"status"`
	Output             string `gorm:"type:text" json:"output"`
	Error              string `gorm:"type:text" json:"error"`
	ReferenceDoctype   string `gorm:"size:64;index:idx_request_log_ref" json:"reference_doctype"`
	ReferenceName      string `gorm:"size:140;index:idx_request_log_ref" json:"reference_name"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreateRequestLog(ctx context.Context, db *gorm.DB, log *RequestLog) error {
	if log.Status == "" {
		log.Status = RequestStatusPending
	}
	return db.WithContext(ctx).Create(log).Error
}

// MarkCompleted resolves the log as Completed, merging output and an
// optional description annotation (e.g. pagination progress).
func (l *RequestLog) MarkCompleted(ctx context.Context, db *gorm.DB, output, descAnnotation string) error {
	updates := map[string]interface{}{"status": RequestStatusCompleted}
	if output != "" {
		l.Output = mergeLogText(l.Output, output, "\n")
		updates["output"] = l.Output
	}
	if descAnnotation != "" {
		l.RequestDescription = mergeLogText(l.RequestDescription, descAnnotation, " - ")
		updates["request_description"] = l.RequestDescription
	}
	l.Status = RequestStatusCompleted
	return db.WithContext(ctx).Model(&RequestLog{}).Where("id = ?", l.ID).Updates(updates).Error
}

// MarkFailed resolves the log as Failed, merging the error text.
func (l *RequestLog) MarkFailed(ctx context.Context, db *gorm.DB, errText string) error {
	updates := map[string]interface{}{"status": RequestStatusFailed}
	if errText != "" {
		l.Error = mergeLogText(l.Error, errText, "\n")
		updates["error"] = l.Error
	}
	l.Status = RequestStatusFailed
	return db.WithContext(ctx).Model(&RequestLog{}).Where("id = ?", l.ID).Updates(updates).Error
}

// mergeLogText appends addition to current unless current already contains
// it, keeping the result within requestLogTextLimit.
func mergeLogText(current, addition, separator string) string {
	if addition == "" {
		return current
	}
	if current == "" || current == "null" {
		return truncateLogText(addition)
	}
	if strings.Contains(current, addition) {
		return current
	}
	return truncateLogText(current + separator + addition)
}

func truncateLogText(text string) string {
	if len(text) > requestLogTextLimit {
		return text[:requestLogTextLimit]
	}
	return text
}
