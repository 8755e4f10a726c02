package etims

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientDo_PatchMovesIdIntoPath(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id": "42"}`))
	}))
	defer server.Close()

	client := NewClient()
	payload := map[string]interface{}{"id": "42", "name": "Widget"}
	resp, err := client.Do(context.Background(), http.MethodPatch, server.URL+"/products/", nil, payload)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if gotPath != "/products/42/" {
		t.Fatalf("expected id in path /products/42/, got %s", gotPath)
	}
	if _, stillThere := gotBody["id"]; stillThere {
		t.Fatal("id must be consumed out of the body")
	}
	if gotBody["name"] != "Widget" {
		t.Fatalf("body should keep remaining fields, got %v", gotBody)
	}
}

func TestClientDo_PatchSkipsIdAlreadyInPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient()
	for _, endpoint := range []string{"/products/42/", "/products/42"} {
		payload := map[string]interface{}{"id": "42"}
		if _, err := client.Do(context.Background(), http.MethodPatch, server.URL+endpoint, nil, payload); err != nil {
			t.Fatalf("Do(%s): %v", endpoint, err)
		}
		if strings.Count(gotPath, "/42") != 1 {
			t.Fatalf("id segment must not be doubled for %s, got %s", endpoint, gotPath)
		}
	}
}

func TestClientDo_GetPayloadBecomesQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("code")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [], "count": 0}`))
	}))
	defer server.Close()

	client := NewClient()
	payload := map[string]interface{}{"code": "ITM-1"}
	resp, err := client.Do(context.Background(), http.MethodGet, server.URL+"/products/", nil, payload)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotQuery != "ITM-1" {
		t.Fatalf("expected code=ITM-1 query param, got %q", gotQuery)
	}
	body, ok := resp.Body.(map[string]interface{})
	if !ok {
		t.Fatalf("JSON response should decode to a map, got %T", resp.Body)
	}
	if _, ok := body["results"]; !ok {
		t.Fatal("decoded body should carry the results key")
	}
}

func TestDecodeBody(t *testing.T) {
	if got := decodeBody("application/json", []byte(`{"a": 1}`)); got == nil {
		t.Fatal("valid JSON should decode")
	}
	if got := decodeBody("application/json", []byte("not json")); got != nil {
		t.Fatalf("broken JSON should decode to nil, got %v", got)
	}
	if got := decodeBody("text/html; charset=utf-8", []byte("  \n  ")); got != nil {
		t.Fatalf("whitespace-only text should decode to nil, got %v", got)
	}
	if got := decodeBody("text/plain", []byte("server exploded")); got != "server exploded" {
		t.Fatalf("text should come back as a string, got %v", got)
	}
	raw := decodeBody("application/pdf", []byte{0x25, 0x50})
	if _, ok := raw.([]byte); !ok {
		t.Fatalf("binary types should come back raw, got %T", raw)
	}
}
