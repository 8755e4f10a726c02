package etims

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	gormMysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
)

func TestExtractErrorText(t *testing.T) {
	cases := []struct {
		name     string
		body     interface{}
		expected string
	}{
		{"nil", nil, ""},
		{"plain string", "boom", "boom"},
		{"list takes first", []interface{}{"first", "second"}, "first"},
		{"empty list", []interface{}{}, ""},
		{"map error key", map[string]interface{}{"error": "bad request"}, "bad request"},
		{"map detail key", map[string]interface{}{"detail": "not found"}, "not found"},
		{"nested error list", map[string]interface{}{"error": []interface{}{"inner"}}, "inner"},
		{"map fallback stringified", map[string]interface{}{"field": "missing"}, `{"field":"missing"}`},
		{"bytes", []byte("raw"), "raw"},
	}
	for _, tc := range cases {
		if got := extractErrorText(tc.body); got != tc.expected {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.expected, got)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(newConfigurationError("op", "", "", "bad setup")); got != ErrorKindConfiguration {
		t.Fatalf("expected configuration, got %s", got)
	}
	if got := KindOf(newAuthError("op", errors.New("401"))); got != ErrorKindAuth {
		t.Fatalf("expected auth, got %s", got)
	}
	if got := KindOf(newReconciliationError("op", "SINV-1", "drift")); got != ErrorKindReconciliation {
		t.Fatalf("expected reconciliation, got %s", got)
	}
	if got := KindOf(errors.New("plain")); got != ErrorKindTransport {
		t.Fatalf("plain errors default to transport, got %s", got)
	}

	wrapped := newTransportError("op", newAuthError("inner", errors.New("401")))
	if got := KindOf(wrapped); got != ErrorKindTransport {
		t.Fatalf("outermost kind wins, got %s", got)
	}
}

func TestClonePayload(t *testing.T) {
	original := map[string]interface{}{"id": "42", "name": "Widget"}
	clone := clonePayload(original)
	delete(clone, "id")
	if _, ok := original["id"]; !ok {
		t.Fatal("mutating the clone must not touch the original")
	}
	if clonePayload(nil) != nil {
		t.Fatal("nil payload clones to nil")
	}
}

func TestMarshalHeadersRedactsAuthorization(t *testing.T) {
	headers := map[string]string{
		"Authorization": "Bearer secret-token",
		"Workstation":   "WS-1",
	}
	encoded := string(marshalHeaders(headers))
	if encoded == "" {
		t.Fatal("expected encoded headers")
	}
	if strings.Contains(encoded, "secret-token") {
		t.Fatal("authorization token must not appear in the audit log")
	}
	if !strings.Contains(encoded, "WS-1") {
		t.Fatal("non-sensitive headers should survive")
	}
}

func newPipelineWithMockDB(t *testing.T) (*Pipeline, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	dialector := gormMysql.New(gormMysql.Config{
		Conn:                      mockDB,
		SkipInitializeWithVersion: true,
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}

	return NewPipeline(gormDB, config.GetLogger()), mock, mockDB
}

func unauthorizedTestSettings(apiURL, authURL string) *models.EtimsSettings {
	expiry := time.Now().UTC().Add(time.Hour)
	return &models.EtimsSettings{
		ID:            1,
		Name:          "etims",
		ServerURL:     apiURL,
		AuthServerURL: authURL,
		WorkstationId: "WS-1",
		AuthUsername:  "operator",
		AuthPassword:  "old-password",
		ClientId:      "client",
		ClientSecret:  "secret",
		AccessToken:   "stale-token",
		TokenExpiry:   &expiry,
	}
}

func TestCall_UnauthorizedRefreshesOnceAndRetries(t *testing.T) {
	var refreshes int
	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "fresh-token", "refresh_token": "r", "expires_in": 3600}`))
	}))
	defer authServer.Close()

	var apiCalls int
	var retryAuth string
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
		w.Header().Set("Content-Type", "application/json")
		if apiCalls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail": "token expired"}`))
			return
		}
		retryAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id": "SL-1"}`))
	}))
	defer apiServer.Close()

	pipeline, mock, mockDB := newPipelineWithMockDB(t)
	defer mockDB.Close()
	mock.ExpectExec("INSERT INTO `request_logs`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `etims_settings`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `request_logs`").WillReturnResult(sqlmock.NewResult(0, 1))

	settings := unauthorizedTestSettings(apiServer.URL, authServer.URL)
	result, err := pipeline.Call(context.Background(), settings, RouteSalesSave, http.MethodPost, map[string]interface{}{"reference_number": "SINV-1"}, models.DoctypeSalesInvoice, "SINV-1")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result == nil || result.Body == nil {
		t.Fatal("expected a classified body after the retry")
	}
	if refreshes != 1 {
		t.Fatalf("expected exactly one token refresh, got %d", refreshes)
	}
	if apiCalls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", apiCalls)
	}
	if retryAuth != "Bearer fresh-token" {
		t.Fatalf("retry must carry the refreshed token, got %q", retryAuth)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestCall_SecondUnauthorizedDoesNotRefreshAgain(t *testing.T) {
	var refreshes int
	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "fresh-token", "refresh_token": "r", "expires_in": 3600}`))
	}))
	defer authServer.Close()

	var apiCalls int
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail": "still unauthorized"}`))
	}))
	defer apiServer.Close()

	pipeline, mock, mockDB := newPipelineWithMockDB(t)
	defer mockDB.Close()
	mock.ExpectExec("INSERT INTO `request_logs`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `etims_settings`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `request_logs`").WillReturnResult(sqlmock.NewResult(0, 1))

	settings := unauthorizedTestSettings(apiServer.URL, authServer.URL)
	_, err := pipeline.Call(context.Background(), settings, RouteSalesSave, http.MethodPost, map[string]interface{}{"reference_number": "SINV-1"}, models.DoctypeSalesInvoice, "SINV-1")
	if err == nil {
		t.Fatal("expected an error when the retry is still unauthorized")
	}
	if KindOf(err) != ErrorKindAuth {
		t.Fatalf("expected auth error kind, got %s", KindOf(err))
	}
	if refreshes != 1 {
		t.Fatalf("a failed retry must not refresh again, got %d refreshes", refreshes)
	}
	if apiCalls != 2 {
		t.Fatalf("expected exactly two calls, got %d", apiCalls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestLastRequestKeyIsPerRoute(t *testing.T) {
	sales := lastRequestKey("etims", RouteSalesSave)
	notices := lastRequestKey("etims", RouteNoticeSearch)
	if sales == notices {
		t.Fatalf("routes must stamp separate keys, both got %s", sales)
	}
	if sales != "etimsLastRequest:etims:"+string(RouteSalesSave) {
		t.Fatalf("unexpected key shape: %s", sales)
	}
}
