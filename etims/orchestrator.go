package etims

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
)

const documentLockTTL = 30 * time.Second

// Duplicate-entity signatures the remote raises when a product or partner
// exists more than once on its side.
const (
	duplicateProductSignature = "get() returned more than one Product"
	duplicatePartnerSignature = "get() returned more than one BusinessPartner"
)

// Orchestrator drives documents through the remote submission chain:
// save, lines, transition, sign, details fetch. Each step runs under a
// per-document lock and hands the next step to the job queue.
type Orchestrator struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Pipeline *Pipeline
	Queue    *Queue
}

func NewOrchestrator(db *gorm.DB, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		DB:       db,
		Logger:   logger,
		Pipeline: NewPipeline(db, logger),
		Queue:    NewQueue(db, logger),
	}
}

type remoteIdResponse struct {
	ID string `json:"id"`
}

func (o *Orchestrator) loadInvoiceContext(ctx context.Context, settingsName, invoiceName string) (*models.EtimsSettings, *models.SalesInvoice, error) {
	settings, err := models.GetSettingsByName(ctx, settingsName)
	if err != nil {
		return nil, nil, err
	}
	invoice, err := models.GetSalesInvoiceByName(ctx, o.DB, invoiceName)
	if err != nil {
		return nil, nil, err
	}
	return settings, invoice, nil
}

// prepareLines computes taxes for the invoice lines from their templates.
func (o *Orchestrator) prepareLines(ctx context.Context, invoice *models.SalesInvoice) error {
	names := make([]string, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		if line.ItemTaxTemplate != "" {
			names = append(names, line.ItemTaxTemplate)
		}
	}
	templates, err := models.GetTaxTemplatesByNames(ctx, o.DB, names)
	if err != nil {
		return err
	}
	invoice.Lines = ApplyTaxes(invoice.Lines, invoice.Taxes, templates)
	return nil
}

// SubmitInvoice sends the document header and, on success, queues line
// submission. Returns whose originals have not been signed are rejected.
func (o *Orchestrator) SubmitInvoice(ctx context.Context, settingsName, invoiceName string) error {
	settings, invoice, err := o.loadInvoiceContext(ctx, settingsName, invoiceName)
	if err != nil {
		return err
	}
	if invoice.PreventSubmission {
		return newConfigurationError("submitInvoice", models.DoctypeSalesInvoice, invoice.Name,
			"submission is blocked for this document")
	}
	if invoice.SubmissionState == models.SubmissionStateFinalized {
		return nil
	}

	originalReference := ""
	if invoice.IsReturn {
		if invoice.ReturnAgainst == "" {
			return newConfigurationError("submitInvoice", models.DoctypeSalesInvoice, invoice.Name,
				"return has no original invoice")
		}
		original, err := models.GetSalesInvoiceByName(ctx, o.DB, invoice.ReturnAgainst)
		if err != nil {
			return err
		}
		if !original.Submitted {
			return newConfigurationError("submitInvoice", models.DoctypeSalesInvoice, invoice.Name,
				"original invoice "+original.Name+" is not yet signed remotely")
		}
		originalReference = ReferenceNumber(original.Name, original.RevisionCount)
	}

	release, err := invoice.ObtainSubmissionLock(ctx, documentLockTTL)
	if err != nil {
		return err
	}
	defer release()

	if err := invoice.IncrementSubmissionAttempts(ctx, o.DB); err != nil {
		return err
	}
	if err := o.prepareLines(ctx, invoice); err != nil {
		return err
	}

	route := RouteSalesSave
	payload := BuildInvoicePayload(invoice)
	if invoice.IsReturn {
		route = RouteCreditNoteSave
		payload = BuildCreditNotePayload(invoice, originalReference)
	}

	result, err := o.Pipeline.Call(ctx, settings, route, http.MethodPost, payload, models.DoctypeSalesInvoice, invoice.Name)
	if err != nil {
		if o.handleDuplicateEntity(ctx, settings, invoice, err) {
			return nil
		}
		return err
	}

	var saved remoteIdResponse
	if err := result.DecodeInto(&saved); err == nil && saved.ID != "" {
		if err := invoice.SetSladeId(ctx, o.DB, saved.ID); err != nil {
			return err
		}
		if err := models.UpsertSladeMapping(ctx, o.DB, models.DoctypeSalesInvoice, invoice.Name, settings.Name, saved.ID); err != nil {
			return err
		}
	}
	if err := invoice.SetSubmissionState(ctx, o.DB, models.SubmissionStateDraft); err != nil {
		return err
	}
	return o.Queue.EnqueueDocumentJob(ctx, models.JobKindSaveInvoiceLines, settings.Name, models.DoctypeSalesInvoice, invoice.Name)
}

// ProcessInvoiceLines sends every line, creating or updating depending on
// whether the line already has a remote id, then queues the transition.
func (o *Orchestrator) ProcessInvoiceLines(ctx context.Context, settingsName, invoiceName string) error {
	settings, invoice, err := o.loadInvoiceContext(ctx, settingsName, invoiceName)
	if err != nil {
		return err
	}
	release, err := invoice.ObtainSubmissionLock(ctx, documentLockTTL)
	if err != nil {
		return err
	}
	defer release()

	if err := o.prepareLines(ctx, invoice); err != nil {
		return err
	}

	route := RouteSalesLineSave
	if invoice.IsReturn {
		route = RouteCreditNoteLineSave
	}

	for idx := range invoice.Lines {
		line := invoice.Lines[idx]
		payload, err := BuildLinePayload(ctx, o.DB, invoice, line, settings.Name)
		if err != nil {
			return err
		}
		method := http.MethodPost
		if line.SladeId != "" {
			method = http.MethodPatch
		}

		result, err := o.Pipeline.Call(ctx, settings, route, method, payload, models.DoctypeSalesInvoice, invoice.Name)
		if err != nil {
			if o.handleDuplicateEntity(ctx, settings, invoice, err) {
				return nil
			}
			return err
		}

		var saved remoteIdResponse
		if err := result.DecodeInto(&saved); err == nil && saved.ID != "" {
			if err := o.DB.WithContext(ctx).Model(&models.SalesInvoiceLine{}).Where("id = ?", line.ID).
				Updates(map[string]interface{}{"slade_id": saved.ID, "sent_to_slade": true}).Error; err != nil {
				return err
			}
		}
	}

	if err := invoice.SetSubmissionState(ctx, o.DB, models.SubmissionStateLinesSaved); err != nil {
		return err
	}
	return o.Queue.EnqueueDocumentJob(ctx, models.JobKindTransitionInvoice, settings.Name, models.DoctypeSalesInvoice, invoice.Name)
}

// TransitionInvoice moves the remote document out of draft, then queues
// signing.
func (o *Orchestrator) TransitionInvoice(ctx context.Context, settingsName, invoiceName string) error {
	settings, invoice, err := o.loadInvoiceContext(ctx, settingsName, invoiceName)
	if err != nil {
		return err
	}
	if invoice.SladeId == "" {
		return newConfigurationError("transitionInvoice", models.DoctypeSalesInvoice, invoice.Name,
			"invoice has no remote id")
	}
	release, err := invoice.ObtainSubmissionLock(ctx, documentLockTTL)
	if err != nil {
		return err
	}
	defer release()

	route := RouteSalesTransition
	if invoice.IsReturn {
		route = RouteCreditNoteTransit
	}
	if _, err := o.Pipeline.Call(ctx, settings, route, http.MethodPatch, BuildTransitionPayload(invoice), models.DoctypeSalesInvoice, invoice.Name); err != nil {
		return err
	}

	if err := o.DB.WithContext(ctx).Model(&models.SalesInvoice{}).Where("id = ?", invoice.ID).
		Update("transition_successful", true).Error; err != nil {
		return err
	}
	if err := invoice.SetSubmissionState(ctx, o.DB, models.SubmissionStateTransitioned); err != nil {
		return err
	}
	return o.Queue.EnqueueDocumentJob(ctx, models.JobKindSignInvoice, settings.Name, models.DoctypeSalesInvoice, invoice.Name)
}

// SignInvoice requests the fiscal signature, then queues the details
// fetch that pulls the receipt back.
func (o *Orchestrator) SignInvoice(ctx context.Context, settingsName, invoiceName string) error {
	settings, invoice, err := o.loadInvoiceContext(ctx, settingsName, invoiceName)
	if err != nil {
		return err
	}
	if invoice.SladeId == "" {
		return newConfigurationError("signInvoice", models.DoctypeSalesInvoice, invoice.Name,
			"invoice has no remote id")
	}
	release, err := invoice.ObtainSubmissionLock(ctx, documentLockTTL)
	if err != nil {
		return err
	}
	defer release()

	route := RouteSalesSign
	if invoice.IsReturn {
		route = RouteCreditNoteSign
	}
	if _, err := o.Pipeline.Call(ctx, settings, route, http.MethodPost, BuildTransitionPayload(invoice), models.DoctypeSalesInvoice, invoice.Name); err != nil {
		return err
	}

	if err := o.DB.WithContext(ctx).Model(&models.SalesInvoice{}).Where("id = ?", invoice.ID).
		Update("submitted", true).Error; err != nil {
		return err
	}
	invoice.Submitted = true
	if err := invoice.SetSubmissionState(ctx, o.DB, models.SubmissionStateSigned); err != nil {
		return err
	}
	return o.Queue.EnqueueDocumentJob(ctx, models.JobKindFetchInvoiceDetails, settings.Name, models.DoctypeSalesInvoice, invoice.Name)
}

// FetchInvoiceDetails pulls the remote copy, reconciles it against the
// local document and either persists the receipt or starts a revision.
func (o *Orchestrator) FetchInvoiceDetails(ctx context.Context, settingsName, invoiceName string) error {
	settings, invoice, err := o.loadInvoiceContext(ctx, settingsName, invoiceName)
	if err != nil {
		return err
	}
	if invoice.SladeId == "" {
		return newConfigurationError("fetchInvoiceDetails", models.DoctypeSalesInvoice, invoice.Name,
			"invoice has no remote id")
	}

	result, err := o.Pipeline.Call(ctx, settings, RouteSalesSearch, http.MethodGet,
		map[string]interface{}{"id": invoice.SladeId}, models.DoctypeSalesInvoice, invoice.Name)
	if err != nil {
		return err
	}

	var snapshot InvoiceSnapshot
	if err := result.DecodeInto(&snapshot); err != nil {
		return err
	}
	// The receipt lags the sign request; a snapshot without it means the
	// fetch ran too early and the sweep will retry.
	if snapshot.SCUData == nil {
		return nil
	}

	if err := o.prepareLines(ctx, invoice); err != nil {
		return err
	}
	if MatchInvoiceData(invoice, &snapshot) {
		return o.finalizeInvoice(ctx, settings, invoice, &snapshot)
	}
	return o.handleMismatch(ctx, settings, invoice, &snapshot)
}

func (o *Orchestrator) finalizeInvoice(ctx context.Context, settings *models.EtimsSettings, invoice *models.SalesInvoice, snapshot *InvoiceSnapshot) error {
	scu := snapshot.SCUData

	qrImageURL := ""
	if scu.QRCodeURL != "" {
		uploaded, err := GenerateAndStoreQRImage(ctx, settings.Name, invoice.Name, scu.QRCodeURL)
		if err != nil {
			config.LogError(o.Logger, "etims", "finalizeInvoice", "qr image upload failed", invoice.Name, err)
		} else {
			qrImageURL = uploaded
		}
	}

	updates := map[string]interface{}{
		"slade_id":           snapshot.ID,
		"receipt_number":     scu.ReceiptNumber,
		"receipt_signature":  scu.ReceiptSignature,
		"scu_id":             scu.ScuId,
		"scu_mrc_number":     scu.MrcNumber,
		"scu_invoice_number": scu.InvoiceNumber,
		"scu_internal_data":  scu.InternalData,
		"qr_code_url":        scu.QRCodeURL,
	}
	if qrImageURL != "" {
		updates["qr_code_image"] = qrImageURL
	}
	if timestamp, ok := parseReceiptTimestamp(scu.ReceiptTimestamp); ok {
		updates["control_unit_date_time"] = timestamp
	}
	if err := o.DB.WithContext(ctx).Model(&models.SalesInvoice{}).Where("id = ?", invoice.ID).
		Updates(updates).Error; err != nil {
		return err
	}
	if err := invoice.SetSubmissionState(ctx, o.DB, models.SubmissionStateFinalized); err != nil {
		return err
	}
	o.notifyDocumentRefresh(models.DoctypeSalesInvoice, invoice.Name)
	return nil
}

func (o *Orchestrator) handleMismatch(ctx context.Context, settings *models.EtimsSettings, invoice *models.SalesInvoice, snapshot *InvoiceSnapshot) error {
	switch DecideMismatch(invoice, settings) {
	case MismatchActionSkip:
		return nil
	case MismatchActionStop:
		err := newReconciliationError("fetchInvoiceDetails", invoice.Name,
			"remote copy still mismatched after maximum revisions")
		config.LogError(o.Logger, "etims", "handleMismatch", "revision ceiling reached", invoice.Name, err)
		return err
	}

	invoice.RevisionCount++
	if err := o.DB.WithContext(ctx).Model(&models.SalesInvoice{}).Where("id = ?", invoice.ID).
		Update("revision_count", invoice.RevisionCount).Error; err != nil {
		return err
	}

	// The receipt behind any previously stored QR image is void now.
	if invoice.QRCodeImage != "" {
		if err := RemoveQRImage(ctx, settings.Name, invoice.Name); err != nil {
			config.LogError(o.Logger, "etims", "handleMismatch", "stale qr image cleanup failed", invoice.Name, err)
		}
	}

	// Reverse the mismatched remote copy before the revised resubmission.
	if !invoice.IsReturn {
		payload := BuildReturnInvoicePayload(invoice, snapshot, snapshot.TotalGrossAmount, true)
		if _, err := o.Pipeline.Call(ctx, settings, RouteCreditNoteSave, http.MethodPost, payload, models.DoctypeSalesInvoice, invoice.Name); err != nil {
			config.LogError(o.Logger, "etims", "handleMismatch", "reversal credit note failed", invoice.Name, err)
		}
	}

	return o.Queue.EnqueueRetry(ctx, models.JobKindSubmitInvoice, settings.Name, models.DoctypeSalesInvoice, invoice.Name, 0)
}

// handleDuplicateEntity recovers from duplicate product or partner rows on
// the remote side: re-register the offending entities and retry the
// document after a short delay.
func (o *Orchestrator) handleDuplicateEntity(ctx context.Context, settings *models.EtimsSettings, invoice *models.SalesInvoice, callErr error) bool {
	var ie *IntegrationError
	if !errors.As(callErr, &ie) {
		return false
	}
	message := ie.Message
	if message == "" && ie.Err != nil {
		message = ie.Err.Error()
	}

	switch {
	case strings.Contains(message, duplicateProductSignature):
		for _, line := range invoice.Lines {
			if err := o.Queue.EnqueueDocumentJob(ctx, models.JobKindRegisterItem, settings.Name, models.DoctypeItem, line.ItemCode); err != nil {
				config.LogError(o.Logger, "etims", "handleDuplicateEntity", "item re-registration enqueue failed", line.ItemCode, err)
			}
		}
	case strings.Contains(message, duplicatePartnerSignature):
		if err := o.Queue.EnqueueDocumentJob(ctx, models.JobKindRegisterPartner, settings.Name, models.DoctypePartner, invoice.Customer); err != nil {
			config.LogError(o.Logger, "etims", "handleDuplicateEntity", "partner re-registration enqueue failed", invoice.Customer, err)
		}
	default:
		return false
	}

	if err := o.Queue.EnqueueRetry(ctx, models.JobKindSubmitInvoice, settings.Name, models.DoctypeSalesInvoice, invoice.Name, settings.DuplicateRetryDelay()); err != nil {
		config.LogError(o.Logger, "etims", "handleDuplicateEntity", "retry enqueue failed", invoice.Name, err)
	}
	return true
}

func (o *Orchestrator) notifyDocumentRefresh(doctype, documentName string) {
	event := map[string]string{"event": "refresh_form", "doctype": doctype, "document_name": documentName}
	if err := config.PublicIntegrationWorkflow(eventsTopic(), event); err != nil {
		config.LogError(o.Logger, "etims", "notifyDocumentRefresh", "event publish failed", documentName, err)
	}
}

var receiptTimestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102150405",
}

func parseReceiptTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range receiptTimestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
