package etims

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

func TestGenerateStrongPassword(t *testing.T) {
	for i := 0; i < 20; i++ {
		password, err := GenerateStrongPassword(16)
		if err != nil {
			t.Fatalf("GenerateStrongPassword: %v", err)
		}
		if len(password) != 16 {
			t.Fatalf("expected 16 characters, got %d", len(password))
		}
		if !strings.ContainsAny(password, passwordLower) ||
			!strings.ContainsAny(password, passwordUpper) ||
			!strings.ContainsAny(password, passwordDigits) ||
			!strings.ContainsAny(password, passwordSymbols) {
			t.Fatalf("password %q is missing a character class", password)
		}
	}
}

func TestGenerateStrongPassword_ShortLengthFallsBack(t *testing.T) {
	password, err := GenerateStrongPassword(2)
	if err != nil {
		t.Fatalf("GenerateStrongPassword: %v", err)
	}
	if len(password) != generatedPasswordLength {
		t.Fatalf("lengths below 4 should fall back to %d, got %d", generatedPasswordLength, len(password))
	}
}

func TestEnsureToken_ValidTokenSkipsRefresh(t *testing.T) {
	expiry := time.Now().UTC().Add(time.Hour)
	settings := &models.EtimsSettings{
		Name:        "main",
		AccessToken: "cached-token",
		TokenExpiry: &expiry,
	}
	manager := NewTokenManager(nil, logrus.New())

	token, err := manager.EnsureToken(context.Background(), settings)
	if err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if token != "cached-token" {
		t.Fatalf("expected the cached token, got %q", token)
	}
}

func TestHeaders(t *testing.T) {
	expiry := time.Now().UTC().Add(time.Hour)
	settings := &models.EtimsSettings{
		Name:          "main",
		AccessToken:   "cached-token",
		TokenExpiry:   &expiry,
		WorkstationId: "WS-7",
	}
	manager := NewTokenManager(nil, logrus.New())

	headers, err := manager.Headers(context.Background(), settings)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if headers["Authorization"] != "Bearer cached-token" {
		t.Fatalf("unexpected Authorization header %q", headers["Authorization"])
	}
	if headers["Workstation"] != "WS-7" {
		t.Fatalf("unexpected Workstation header %q", headers["Workstation"])
	}
}
