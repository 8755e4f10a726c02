package etims

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"bitbucket.org/mmdatafocus/etims_backend/utils"
)

var validate = validator.New()

func errorStatus(err error) int {
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return http.StatusNotFound
	}
	switch KindOf(err) {
	case ErrorKindConfiguration:
		return http.StatusUnprocessableEntity
	case ErrorKindAuth:
		return http.StatusBadGateway
	case ErrorKindReconciliation:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error(), "kind": string(KindOf(err))})
}

// SubmitInvoiceHandler queues an invoice for submission and returns the
// accepted job immediately; the chain runs in the worker.
func SubmitInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		queue := NewQueue(config.GetDB(), config.GetLogger())
		settingsName := c.Query("settings")
		name := c.Param("name")
		ctx := c.Request.Context()

		invoice, err := models.GetSalesInvoiceByName(ctx, config.GetDB(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		if settingsName == "" {
			settingsName = invoice.SettingsName
		}
		if err := queue.EnqueueDocumentJob(ctx, models.JobKindSubmitInvoice, settingsName, models.DoctypeSalesInvoice, invoice.Name); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true, "document_name": invoice.Name})
	}
}

// InvoiceStatusHandler reports the workflow state and fiscal receipt of a
// document.
func InvoiceStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		invoice, err := models.GetSalesInvoiceByName(c.Request.Context(), config.GetDB(), c.Param("name"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"name":                   invoice.Name,
			"submission_state":       invoice.SubmissionState,
			"submitted":              invoice.Submitted,
			"revision_count":         invoice.RevisionCount,
			"submission_attempts":    invoice.SubmissionAttempts,
			"reference_number":       ReferenceNumber(invoice.Name, invoice.RevisionCount),
			"receipt_number":         invoice.ReceiptNumber,
			"receipt_signature":      invoice.ReceiptSignature,
			"scu_invoice_number":     invoice.ScuInvoiceNumber,
			"qr_code_url":            invoice.QRCodeURL,
			"qr_code_image":          invoice.QRCodeImage,
			"control_unit_date_time": invoice.ControlUnitDateTime,
			"state_changed_at":       invoice.StateChangedAt,
		})
	}
}

func RegisterItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		queue := NewQueue(config.GetDB(), config.GetLogger())
		settingsName := c.Query("settings")
		if err := queue.EnqueueDocumentJob(c.Request.Context(), models.JobKindRegisterItem, settingsName, models.DoctypeItem, c.Param("name")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}

func RegisterPartnerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		queue := NewQueue(config.GetDB(), config.GetLogger())
		settingsName := c.Query("settings")
		if err := queue.EnqueueDocumentJob(c.Request.Context(), models.JobKindRegisterPartner, settingsName, models.DoctypePartner, c.Param("name")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}

func SubmitStockAdjustmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		queue := NewQueue(config.GetDB(), config.GetLogger())
		settingsName := c.Query("settings")
		if err := queue.EnqueueDocumentJob(c.Request.Context(), models.JobKindSubmitStockAdjust, settingsName, models.DoctypeStockAdjustment, c.Param("name")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}

func FetchPurchasesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		queue := NewQueue(config.GetDB(), config.GetLogger())
		settingsName := c.Query("settings")
		if err := queue.EnqueueDocumentJob(c.Request.Context(), models.JobKindFetchPurchases, settingsName, "", settingsName); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}

func ListPurchasesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		purchases, err := models.GetUnacceptedPurchases(c.Request.Context(), config.GetDB(), c.Query("settings"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"purchases": purchases})
	}
}

func RefreshNoticesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		queue := NewQueue(config.GetDB(), config.GetLogger())
		settingsName := c.Query("settings")
		if err := queue.EnqueueDocumentJob(c.Request.Context(), models.JobKindFetchNotices, settingsName, "", settingsName); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}

func ListNoticesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var notices []models.EtimsNotice
		query := config.GetDB().WithContext(c.Request.Context()).Order("registration_datetime DESC")
		if settingsName := c.Query("settings"); settingsName != "" {
			query = query.Where("settings_name = ?", settingsName)
		}
		if err := query.Limit(200).Find(&notices).Error; err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notices": notices})
	}
}

func GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := models.GetSettingsByName(c.Request.Context(), c.Param("name"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}

type settingsRequest struct {
	Company                    string `json:"company"`
	BranchId                   string `json:"branch_id"`
	Environment                string `json:"environment" validate:"omitempty,oneof=sandbox production"`
	ServerURL                  string `json:"server_url" validate:"required,url"`
	AuthServerURL              string `json:"auth_server_url" validate:"required,url"`
	WorkstationId              string `json:"workstation_id"`
	AuthUsername               string `json:"auth_username" validate:"required"`
	AuthPassword               string `json:"auth_password"`
	ClientId                   string `json:"client_id" validate:"required"`
	ClientSecret               string `json:"client_secret"`
	IsActive                   *bool  `json:"is_active"`
	SalesAutoSubmissionEnabled *bool  `json:"sales_auto_submission_enabled"`
	MaxAllowedRevisions        *int   `json:"max_allowed_revisions" validate:"omitempty,min=0,max=20"`
	MaxSalesSubmissionAttempts *int   `json:"max_sales_submission_attempts" validate:"omitempty,min=1,max=20"`
	MaxStockSubmissionAttempts *int   `json:"max_stock_submission_attempts" validate:"omitempty,min=1,max=20"`
	SubmissionTimeframeSecs    *int   `json:"submission_timeframe_secs" validate:"omitempty,min=60"`
	DuplicateRetryDelaySecs    *int   `json:"duplicate_retry_delay_secs" validate:"omitempty,min=1,max=600"`
}

// UpsertSettingsHandler creates or updates one integration setup.
func UpsertSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		var req settingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := c.Request.Context()
		db := config.GetDB()

		var settings models.EtimsSettings
		err := db.WithContext(ctx).Where("name = ?", name).First(&settings).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, err)
			return
		}
		created := errors.Is(err, gorm.ErrRecordNotFound)

		settings.Name = name
		settings.Company = req.Company
		if req.BranchId != "" {
			settings.BranchId = req.BranchId
		}
		if req.Environment != "" {
			settings.Environment = req.Environment
		}
		settings.ServerURL = req.ServerURL
		settings.AuthServerURL = req.AuthServerURL
		settings.WorkstationId = req.WorkstationId
		settings.AuthUsername = req.AuthUsername
		if req.AuthPassword != "" {
			settings.AuthPassword = req.AuthPassword
		}
		settings.ClientId = req.ClientId
		if req.ClientSecret != "" {
			settings.ClientSecret = req.ClientSecret
		}
		if req.IsActive != nil {
			settings.IsActive = *req.IsActive
		}
		if req.SalesAutoSubmissionEnabled != nil {
			settings.SalesAutoSubmissionEnabled = *req.SalesAutoSubmissionEnabled
		}
		if req.MaxAllowedRevisions != nil {
			settings.MaxAllowedRevisions = *req.MaxAllowedRevisions
		}
		if req.MaxSalesSubmissionAttempts != nil {
			settings.MaxSalesSubmissionAttempts = *req.MaxSalesSubmissionAttempts
		}
		if req.MaxStockSubmissionAttempts != nil {
			settings.MaxStockSubmissionAttempts = *req.MaxStockSubmissionAttempts
		}
		if req.SubmissionTimeframeSecs != nil {
			settings.SubmissionTimeframeSecs = *req.SubmissionTimeframeSecs
		}
		if req.DuplicateRetryDelaySecs != nil {
			settings.DuplicateRetryDelaySecs = *req.DuplicateRetryDelaySecs
		}

		if err := db.WithContext(ctx).Save(&settings).Error; err != nil {
			respondError(c, err)
			return
		}
		_ = config.RemoveRedisKey("etimsSettings:" + name)

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, settings)
	}
}

// VerifyConnectionHandler tests the credentials end to end.
func VerifyConnectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orchestrator := NewOrchestrator(config.GetDB(), config.GetLogger())
		user, err := orchestrator.VerifyConnection(c.Request.Context(), c.Param("name"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": true, "branch_user": json.RawMessage(user)})
	}
}

// ListRequestLogsHandler pages through the audit trail, optionally
// filtered by reference document or status.
func ListRequestLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := config.GetDB().WithContext(c.Request.Context()).Model(&models.RequestLog{}).Order("id DESC")
		query = applyRequestLogFilters(query, c)

		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
				limit = parsed
			}
		}
		offset := 0
		if raw := c.Query("offset"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
				offset = parsed
			}
		}

		var logs []models.RequestLog
		if err := query.Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs})
	}
}

func applyRequestLogFilters(query *gorm.DB, c *gin.Context) *gorm.DB {
	if settingsName := c.Query("settings"); settingsName != "" {
		query = query.Where("settings_name = ?", settingsName)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if doctype := c.Query("doctype"); doctype != "" {
		query = query.Where("reference_doctype = ?", doctype)
	}
	if document := c.Query("document"); document != "" {
		query = query.Where("reference_name = ?", document)
	}
	if routeKey := c.Query("route"); routeKey != "" {
		query = query.Where("route_key = ?", routeKey)
	}
	return query
}

// ExportRequestLogsHandler downloads the filtered audit trail as a
// spreadsheet.
func ExportRequestLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := config.GetDB().WithContext(c.Request.Context()).Model(&models.RequestLog{}).Order("id DESC")
		query = applyRequestLogFilters(query, c)

		var logs []models.RequestLog
		if err := query.Limit(5000).Find(&logs).Error; err != nil {
			respondError(c, err)
			return
		}

		f := excelize.NewFile()
		sheet := "Sheet1"
		f.SetCellValue(sheet, "A1", "Id")
		f.SetCellValue(sheet, "B1", "CreatedAt")
		f.SetCellValue(sheet, "C1", "RouteKey")
		f.SetCellValue(sheet, "D1", "Method")
		f.SetCellValue(sheet, "E1", "Status")
		f.SetCellValue(sheet, "F1", "ReferenceDoctype")
		f.SetCellValue(sheet, "G1", "ReferenceName")
		f.SetCellValue(sheet, "H1", "Description")
		f.SetCellValue(sheet, "I1", "Error")

		for i, logRow := range logs {
			row := fmt.Sprint(i + 2)
			f.SetCellValue(sheet, "A"+row, logRow.ID)
			f.SetCellValue(sheet, "B"+row, logRow.CreatedAt.Format("2006-01-02 15:04:05"))
			f.SetCellValue(sheet, "C"+row, logRow.RouteKey)
			f.SetCellValue(sheet, "D"+row, logRow.Method)
			f.SetCellValue(sheet, "E"+row, logRow.Status)
			f.SetCellValue(sheet, "F"+row, logRow.ReferenceDoctype)
			f.SetCellValue(sheet, "G"+row, logRow.ReferenceName)
			f.SetCellValue(sheet, "H"+row, logRow.RequestDescription)
			f.SetCellValue(sheet, "I"+row, logRow.Error)
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", `attachment; filename="request_logs.xlsx"`)
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "etims", "ExportRequestLogsHandler", "spreadsheet write failed", nil, err)
		}
	}
}

type pubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
}

// PubSubPushHandler accepts a job nudge from the push subscription and
// drains the queue once. It always acks; the durable rows carry the work.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope pubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		db := config.GetDB()
		if envelope.Message.ID != "" {
			skip, err := BeginIdempotency(db, "etims", "pubsub_jobs_drain", envelope.Message.ID)
			if skip {
				c.Status(http.StatusNoContent)
				return
			}
			if errors.Is(err, ErrIdempotencyInProgress) {
				// Nack so Pub/Sub redelivers once the in-flight drain settles.
				c.Status(http.StatusServiceUnavailable)
				return
			}
			if err != nil {
				config.LogError(config.GetLogger(), "etims", "PubSubPushHandler", "idempotency check failed", envelope.Message.ID, err)
				c.Status(http.StatusNoContent)
				return
			}
		}

		worker := NewWorker(db, config.GetLogger(), NewOrchestrator(db, config.GetLogger()))
		worker.ProcessOnce(c.Request.Context())
		if envelope.Message.ID != "" {
			if err := MarkIdempotencySucceeded(db, "etims", "pubsub_jobs_drain", envelope.Message.ID); err != nil {
				config.LogError(config.GetLogger(), "etims", "PubSubPushHandler", "idempotency mark failed", envelope.Message.ID, err)
			}
		}
		c.Status(http.StatusNoContent)
	}
}
