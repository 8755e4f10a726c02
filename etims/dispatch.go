package etims

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
)

var tracer trace.Tracer = otel.Tracer("etims-backend")

// Pipeline is the shared machinery every remote operation rides through:
// route resolution, auth headers, the HTTP leg, audit logging, response
// classification and the single 401 retry.
type Pipeline struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Client *Client
	Tokens *TokenManager
}

func NewPipeline(db *gorm.DB, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		DB:     db,
		Logger: logger,
		Client: NewClient(),
		Tokens: NewTokenManager(db, logger),
	}
}

// RequestResult is one classified remote exchange.
type RequestResult struct {
	Log  *models.RequestLog
	Body interface{}
	// Envelope is set when the body came back paged.
	Envelope *listEnvelope
}

// FirstResult returns the first paged result, or the whole body when the
// response was a single object.
func (r *RequestResult) FirstResult() (json.RawMessage, bool) {
	if r.Envelope != nil {
		if len(r.Envelope.Results) == 0 {
			return nil, false
		}
		return r.Envelope.Results[0], true
	}
	if r.Body == nil {
		return nil, false
	}
	encoded, err := json.Marshal(r.Body)
	if err != nil {
		return nil, false
	}
	return encoded, true
}

// DecodeInto unmarshals the first result object into dest.
func (r *RequestResult) DecodeInto(dest interface{}) error {
	raw, ok := r.FirstResult()
	if !ok {
		return fmt.Errorf("response carries no result object")
	}
	return json.Unmarshal(raw, dest)
}

// lastRequestKey stamps the latest exchange per logical route, not per
// setup, so one chatty route cannot mask another route going quiet.
func lastRequestKey(settingsName string, key RouteKey) string {
	return "etimsLastRequest:" + settingsName + ":" + string(key)
}

// Call performs one remote operation end to end. A 401 triggers exactly
// one token refresh and retry; every exchange leaves a RequestLog row.
func (p *Pipeline) Call(ctx context.Context, settings *models.EtimsSettings, key RouteKey, method string, payload map[string]interface{}, refDoctype, refName string) (*RequestResult, error) {
	ctx, span := tracer.Start(ctx, "etims.call."+string(key))
	defer span.End()

	route, err := resolveRoute(settings.ServerURL, key)
	if err != nil {
		return nil, err
	}

	headers, err := p.Tokens.Headers(ctx, settings)
	if err != nil {
		return nil, err
	}

	requestLog := &models.RequestLog{
		SettingsName:       settings.Name,
		RouteKey:           string(route.Key),
		URL:                route.URL,
		Method:             method,
		RequestDescription: route.Description,
		RequestHeaders:     marshalHeaders(headers),
		Payload:            marshalPayload(payload),
		ReferenceDoctype:   refDoctype,
		ReferenceName:      refName,
	}
	if err := models.CreateRequestLog(ctx, p.DB, requestLog); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, route.Timeout)
	defer cancel()

	resp, err := p.Client.Do(callCtx, method, route.URL, headers, clonePayload(payload))
	if err != nil {
		_ = requestLog.MarkFailed(ctx, p.DB, err.Error())
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if _, refreshErr := p.Tokens.Refresh(ctx, settings); refreshErr != nil {
			_ = requestLog.MarkFailed(ctx, p.DB, refreshErr.Error())
			return nil, refreshErr
		}
		headers, err = p.Tokens.Headers(ctx, settings)
		if err != nil {
			_ = requestLog.MarkFailed(ctx, p.DB, err.Error())
			return nil, err
		}
		resp, err = p.Client.Do(callCtx, method, route.URL, headers, clonePayload(payload))
		if err != nil {
			_ = requestLog.MarkFailed(ctx, p.DB, err.Error())
			return nil, err
		}
	}

	_ = config.SetRedisValue(lastRequestKey(settings.Name, key), time.Now().UTC().Format(time.RFC3339), 0)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return p.classifySuccess(ctx, settings, requestLog, resp)
	}
	return nil, p.classifyFailure(ctx, settings, requestLog, resp)
}

func (p *Pipeline) classifySuccess(ctx context.Context, settings *models.EtimsSettings, requestLog *models.RequestLog, resp *remoteResponse) (*RequestResult, error) {
	result := &RequestResult{Log: requestLog, Body: resp.Body}

	annotation := ""
	if body, ok := resp.Body.(map[string]interface{}); ok {
		if _, hasResults := body["results"]; hasResults {
			var envelope listEnvelope
			if err := json.Unmarshal(resp.Raw, &envelope); err == nil {
				result.Envelope = &envelope
				if envelope.TotalPages > 1 {
					annotation = fmt.Sprintf("Page %d of %d", envelope.CurrentPage, envelope.TotalPages)
				}
			}
		}
	}

	if err := requestLog.MarkCompleted(ctx, p.DB, string(resp.Raw), annotation); err != nil {
		config.LogError(p.Logger, "etims", "classifySuccess", "request log update failed", requestLog.ID, err)
	}
	return result, nil
}

func (p *Pipeline) classifyFailure(ctx context.Context, settings *models.EtimsSettings, requestLog *models.RequestLog, resp *remoteResponse) error {
	errorText := extractErrorText(resp.Body)
	if errorText == "" {
		errorText = fmt.Sprintf("remote returned status %d", resp.StatusCode)
	}
	_ = requestLog.MarkFailed(ctx, p.DB, errorText)

	if strings.Contains(errorText, stalePasswordSignature) {
		if err := p.Tokens.ResetAuthPassword(ctx, settings); err != nil {
			config.LogError(p.Logger, "etims", "classifyFailure", "password rotation failed", settings.Name, err)
		}
	}

	err := fmt.Errorf("status %d: %s", resp.StatusCode, errorText)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return newAuthError(requestLog.RouteKey, err)
	}
	return &IntegrationError{
		Kind:         ErrorKindTransport,
		Op:           requestLog.RouteKey,
		Doctype:      requestLog.ReferenceDoctype,
		DocumentName: requestLog.ReferenceName,
		Message:      errorText,
		Err:          err,
	}
}

// extractErrorText normalizes the remote's error shapes: a bare string,
// a list whose first element matters, or an object rendered whole.
func extractErrorText(body interface{}) string {
	switch value := body.(type) {
	case nil:
		return ""
	case string:
		return value
	case []interface{}:
		if len(value) == 0 {
			return ""
		}
		return fmt.Sprint(value[0])
	case map[string]interface{}:
		if detail, ok := value["error"]; ok {
			return extractErrorText(detail)
		}
		if detail, ok := value["detail"]; ok {
			return extractErrorText(detail)
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(encoded)
	case []byte:
		return string(value)
	default:
		return fmt.Sprint(value)
	}
}

func marshalHeaders(headers map[string]string) []byte {
	redacted := make(map[string]string, len(headers))
	for key, value := range headers {
		if key == "Authorization" {
			redacted[key] = "Bearer ***"
			continue
		}
		redacted[key] = value
	}
	encoded, _ := json.Marshal(redacted)
	return encoded
}

func marshalPayload(payload map[string]interface{}) []byte {
	if payload == nil {
		return nil
	}
	encoded, _ := json.Marshal(payload)
	return encoded
}

func clonePayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	clone := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		clone[key] = value
	}
	return clone
}
