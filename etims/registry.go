package etims

import (
	"context"
	"encoding/json"
	"net/http"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"bitbucket.org/mmdatafocus/etims_backend/utils"
)

// RegisterItem pushes a catalog item to the remote product register.
// An existing remote product is adopted (and surplus duplicates
// archived) before the save goes out, so registration is idempotent.
func (o *Orchestrator) RegisterItem(ctx context.Context, settingsName, itemName string) error {
	settings, err := models.GetSettingsByName(ctx, settingsName)
	if err != nil {
		return err
	}
	item, err := models.GetItemByName(ctx, o.DB, itemName)
	if err != nil {
		item, err = models.GetItemByCode(ctx, o.DB, itemName)
		if err != nil {
			return err
		}
	}

	adoptedId, err := o.adoptRemoteDuplicates(ctx, settings, RouteItemsSearch,
		map[string]interface{}{"code": item.ItemCode}, "name", models.DoctypeItem, item.Name)
	if err != nil {
		return err
	}
	if adoptedId != "" && item.SladeId == "" {
		item.SladeId = adoptedId
	}

	payload, err := BuildItemPayload(ctx, o.DB, item, settings)
	if err != nil {
		return err
	}
	method := http.MethodPost
	if item.SladeId != "" {
		method = http.MethodPatch
	}

	result, err := o.Pipeline.Call(ctx, settings, RouteItemsSearch, method, payload, models.DoctypeItem, item.Name)
	if err != nil {
		return err
	}

	var saved remoteIdResponse
	if decodeErr := result.DecodeInto(&saved); decodeErr == nil && saved.ID != "" {
		item.SladeId = saved.ID
	}
	if item.SladeId == "" {
		return newConfigurationError("registerItem", models.DoctypeItem, item.Name,
			"remote save returned no product id")
	}
	if err := item.MarkRegistered(ctx, o.DB, item.SladeId); err != nil {
		return err
	}
	// Line payloads look products up by item code.
	return models.UpsertSladeMapping(ctx, o.DB, models.DoctypeItem, item.ItemCode, settings.Name, item.SladeId)
}

// RegisterPartner pushes a customer or supplier to the remote
// business-partner register, adopting any existing remote record first.
func (o *Orchestrator) RegisterPartner(ctx context.Context, settingsName, partnerName string) error {
	settings, err := models.GetSettingsByName(ctx, settingsName)
	if err != nil {
		return err
	}
	partner, err := models.GetPartnerByName(ctx, o.DB, partnerName)
	if err != nil {
		return err
	}
	if partner.PhoneNumber != "" {
		if phoneErr := utils.ValidatePhoneNumber(partner.PhoneNumber, utils.CountryCode); phoneErr != nil {
			o.Logger.WithField("partner", partner.Name).
				Warnf("partner phone %q failed validation, sending without it: %v", partner.PhoneNumber, phoneErr)
		}
	}

	searchParams := map[string]interface{}{"partner_name": partner.PartnerName}
	if partner.TaxPin != "" {
		searchParams = map[string]interface{}{"customer_tax_pin": partner.TaxPin}
	}
	adoptedId, err := o.adoptRemoteDuplicates(ctx, settings, RoutePartnerSave,
		searchParams, "partner_name", models.DoctypePartner, partner.Name)
	if err != nil {
		return err
	}
	if adoptedId != "" && partner.SladeId == "" {
		partner.SladeId = adoptedId
	}

	payload, err := BuildPartnerPayload(ctx, o.DB, partner, settings)
	if err != nil {
		return err
	}
	method := http.MethodPost
	if partner.SladeId != "" {
		method = http.MethodPatch
	}

	result, err := o.Pipeline.Call(ctx, settings, RoutePartnerSave, method, payload, models.DoctypePartner, partner.Name)
	if err != nil {
		return err
	}

	var saved remoteIdResponse
	if decodeErr := result.DecodeInto(&saved); decodeErr == nil && saved.ID != "" {
		partner.SladeId = saved.ID
	}
	if partner.SladeId == "" {
		return newConfigurationError("registerPartner", models.DoctypePartner, partner.Name,
			"remote save returned no partner id")
	}
	if err := partner.MarkRegistered(ctx, o.DB, partner.SladeId); err != nil {
		return err
	}
	return models.UpsertSladeMapping(ctx, o.DB, models.DoctypePartner, partner.Name, settings.Name, partner.SladeId)
}

// adoptRemoteDuplicates searches the remote register and, when it finds
// matches, keeps the first record as the canonical one and archives the
// rest. Returns the adopted remote id, or "" when nothing matched.
func (o *Orchestrator) adoptRemoteDuplicates(ctx context.Context, settings *models.EtimsSettings, route RouteKey, searchParams map[string]interface{}, nameField, refDoctype, refName string) (string, error) {
	result, err := o.Pipeline.Call(ctx, settings, route, http.MethodGet, searchParams, refDoctype, refName)
	if err != nil {
		return "", err
	}
	if result.Envelope == nil || len(result.Envelope.Results) == 0 {
		return "", nil
	}

	type remoteRecord struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		PartnerName string `json:"partner_name"`
	}

	var adopted string
	for idx, raw := range result.Envelope.Results {
		var record remoteRecord
		if err := json.Unmarshal(raw, &record); err != nil || record.ID == "" {
			continue
		}
		if idx == 0 {
			adopted = record.ID
			continue
		}

		displayName := record.Name
		if nameField == "partner_name" {
			displayName = record.PartnerName
		}
		archivePayload := map[string]interface{}{
			"id":      record.ID,
			nameField: displayName + " - Archived",
			"active":  false,
		}
		if _, err := o.Pipeline.Call(ctx, settings, route, http.MethodPatch, archivePayload, refDoctype, refName); err != nil {
			config.LogError(o.Logger, "etims", "adoptRemoteDuplicates", "duplicate archive failed", record.ID, err)
		}
	}
	return adopted, nil
}

// SubmitStockAdjustment walks a stock movement through save, lines and
// transition. Stock documents are not signed.
func (o *Orchestrator) SubmitStockAdjustment(ctx context.Context, settingsName, adjustmentName string) error {
	settings, err := models.GetSettingsByName(ctx, settingsName)
	if err != nil {
		return err
	}
	adjustment, err := models.GetStockAdjustmentByName(ctx, o.DB, adjustmentName)
	if err != nil {
		return err
	}
	if adjustment.SubmissionState == models.SubmissionStateFinalized {
		return nil
	}
	if err := adjustment.IncrementSubmissionAttempts(ctx, o.DB); err != nil {
		return err
	}

	method := http.MethodPost
	if adjustment.SladeId != "" {
		method = http.MethodPatch
	}
	result, err := o.Pipeline.Call(ctx, settings, RouteStockAdjustSave, method,
		BuildStockAdjustmentPayload(adjustment), models.DoctypeStockAdjustment, adjustment.Name)
	if err != nil {
		return err
	}
	var saved remoteIdResponse
	if decodeErr := result.DecodeInto(&saved); decodeErr == nil && saved.ID != "" {
		if err := adjustment.SetSladeId(ctx, o.DB, saved.ID); err != nil {
			return err
		}
	}
	if adjustment.SladeId == "" {
		return newConfigurationError("submitStockAdjustment", models.DoctypeStockAdjustment, adjustment.Name,
			"remote save returned no id")
	}
	if err := adjustment.SetSubmissionState(ctx, o.DB, models.SubmissionStateDraft); err != nil {
		return err
	}

	for idx := range adjustment.Lines {
		line := adjustment.Lines[idx]
		payload, err := BuildStockAdjustmentLinePayload(ctx, o.DB, adjustment, line, settings.Name)
		if err != nil {
			return err
		}
		lineMethod := http.MethodPost
		if line.SladeId != "" {
			lineMethod = http.MethodPatch
		}
		lineResult, err := o.Pipeline.Call(ctx, settings, RouteStockLineSave, lineMethod, payload, models.DoctypeStockAdjustment, adjustment.Name)
		if err != nil {
			return err
		}
		var savedLine remoteIdResponse
		if decodeErr := lineResult.DecodeInto(&savedLine); decodeErr == nil && savedLine.ID != "" {
			if err := o.DB.WithContext(ctx).Model(&models.StockAdjustmentLine{}).Where("id = ?", line.ID).
				Updates(map[string]interface{}{"slade_id": savedLine.ID, "sent_to_slade": true}).Error; err != nil {
				return err
			}
		}
	}
	if err := adjustment.SetSubmissionState(ctx, o.DB, models.SubmissionStateLinesSaved); err != nil {
		return err
	}

	transitionPayload := map[string]interface{}{
		"adjustment_id": adjustment.SladeId,
		"document_name": adjustment.Name,
	}
	if _, err := o.Pipeline.Call(ctx, settings, RouteStockAdjustTransit, http.MethodPatch, transitionPayload, models.DoctypeStockAdjustment, adjustment.Name); err != nil {
		return err
	}
	if err := o.DB.WithContext(ctx).Model(&models.StockAdjustment{}).Where("id = ?", adjustment.ID).
		Update("submitted", true).Error; err != nil {
		return err
	}
	if err := adjustment.SetSubmissionState(ctx, o.DB, models.SubmissionStateFinalized); err != nil {
		return err
	}
	o.notifyDocumentRefresh(models.DoctypeStockAdjustment, adjustment.Name)
	return nil
}

// FetchPurchases pulls purchases registered against this taxpayer and
// stores them for acceptance.
func (o *Orchestrator) FetchPurchases(ctx context.Context, settingsName string) error {
	settings, err := models.GetSettingsByName(ctx, settingsName)
	if err != nil {
		return err
	}
	result, err := o.Pipeline.Call(ctx, settings, RoutePurchaseSearch, http.MethodGet, nil, "", "")
	if err != nil {
		return err
	}
	if result.Envelope == nil {
		return nil
	}

	for _, raw := range result.Envelope.Results {
		var remote remotePurchase
		if err := json.Unmarshal(raw, &remote); err != nil || remote.ID == "" {
			continue
		}
		purchase := &models.RegisteredPurchase{
			SettingsName:       settings.Name,
			SladeId:            remote.ID,
			SupplierName:       remote.SupplierName,
			SupplierPin:        remote.SupplierPin,
			SupplierBranch:     remote.SupplierBranchId,
			InvoiceNumber:      remote.InvoiceNumber,
			SupplierInvoiceNo:  remote.SupplierInvoiceNo,
			TotalTaxableAmount: remote.TotalTaxableAmount,
			TotalTaxAmount:     remote.TotalTaxAmount,
			TotalAmount:        remote.TotalAmount,
		}
		if salesDate, ok := parseReceiptTimestamp(remote.SalesDate); ok {
			purchase.SalesDate = &salesDate
		}
		for _, item := range remote.Items {
			purchase.Items = append(purchase.Items, models.RegisteredPurchaseItem{
				SladeId:          item.ID,
				ItemCode:         item.ItemCode,
				ItemName:         item.ItemName,
				TaxationTypeCode: item.TaxationTypeCode,
				Quantity:         item.Quantity,
				UnitPrice:        item.UnitPrice,
				TaxAmount:        item.TaxAmount,
				Amount:           item.Amount,
			})
		}
		if err := models.UpsertRegisteredPurchase(ctx, o.DB, purchase); err != nil {
			config.LogError(o.Logger, "etims", "FetchPurchases", "purchase upsert failed", remote.ID, err)
		}
	}
	return nil
}

// FetchNotices pulls regulator bulletins, storing each unseen one.
func (o *Orchestrator) FetchNotices(ctx context.Context, settingsName string) error {
	settings, err := models.GetSettingsByName(ctx, settingsName)
	if err != nil {
		return err
	}
	result, err := o.Pipeline.Call(ctx, settings, RouteNoticeSearch, http.MethodGet, nil, "", "")
	if err != nil {
		return err
	}
	if result.Envelope == nil {
		return nil
	}

	for _, raw := range result.Envelope.Results {
		var remote remoteNotice
		if err := json.Unmarshal(raw, &remote); err != nil || remote.NoticeNumber == "" {
			continue
		}
		notice := &models.EtimsNotice{
			NoticeNumber:     remote.NoticeNumber,
			SettingsName:     settings.Name,
			Title:            remote.Title,
			RegistrationName: remote.RegistrationName,
			DetailsURL:       remote.DetailURL,
			Contents:         remote.Content,
		}
		if registeredAt, ok := parseReceiptTimestamp(remote.RegistrationDatetime); ok {
			notice.RegistrationDatetime = &registeredAt
		}
		if _, err := models.CreateNoticeIfNew(ctx, o.DB, notice); err != nil {
			config.LogError(o.Logger, "etims", "FetchNotices", "notice insert failed", remote.NoticeNumber, err)
		}
	}
	return nil
}

// VerifyConnection forces a token refresh and fetches the branch user the
// credentials map to. Used from the settings screen to validate a setup.
func (o *Orchestrator) VerifyConnection(ctx context.Context, settingsName string) (json.RawMessage, error) {
	settings, err := models.GetSettingsByName(ctx, settingsName)
	if err != nil {
		return nil, err
	}
	if _, err := o.Pipeline.Tokens.Refresh(ctx, settings); err != nil {
		return nil, err
	}
	result, err := o.Pipeline.Call(ctx, settings, RouteBranchUserSearch, http.MethodGet,
		map[string]interface{}{"branch_id": settings.BranchId}, models.DoctypeSettings, settings.Name)
	if err != nil {
		return nil, err
	}
	raw, ok := result.FirstResult()
	if !ok {
		return nil, newConfigurationError("verifyConnection", models.DoctypeSettings, settings.Name,
			"no branch user matches the configured credentials")
	}
	return raw, nil
}
