package etims

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// stalePasswordSignature is the body the auth gateway returns when the
// stored password has expired server-side. Seeing it means the password
// must be rotated, not the token refreshed.
const stalePasswordSignature = "could not decode json: Expecting value: line 1 column 1 (char 0)"

const generatedPasswordLength = 16

// TokenManager owns the OAuth2 token lifecycle for each settings record:
// fetch, expiry-driven refresh, and forced password rotation.
type TokenManager struct {
	db     *gorm.DB
	logger *logrus.Logger
	http   *http.Client
}

func NewTokenManager(db *gorm.DB, logger *logrus.Logger) *TokenManager {
	return &TokenManager{
		db:     db,
		logger: logger,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// EnsureToken returns a valid access token, fetching a new one when the
// stored token is missing or expired.
func (t *TokenManager) EnsureToken(ctx context.Context, settings *models.EtimsSettings) (string, error) {
	if !settings.TokenExpired(time.Now().UTC()) {
		return settings.AccessToken, nil
	}
	return t.Refresh(ctx, settings)
}

// Refresh fetches a fresh token pair with the password grant and persists
// it on the settings record.
func (t *TokenManager) Refresh(ctx context.Context, settings *models.EtimsSettings) (string, error) {
	form := url.Values{}
	form.Set("username", settings.AuthUsername)
	form.Set("password", settings.AuthPassword)
	form.Set("grant_type", "password")
	form.Set("client_id", settings.ClientId)
	form.Set("client_secret", settings.ClientSecret)

	endpoint := strings.TrimRight(settings.AuthServerURL, "/") + "/oauth2/token/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", newAuthError("tokenRefresh", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", newAuthError("tokenRefresh", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		config.LogError(t.logger, "etims", "Refresh", "token fetch failed", settings.Name, err)
		return "", newAuthError("tokenRefresh", err)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", newAuthError("tokenRefresh", err)
	}
	if token.AccessToken == "" {
		return "", newAuthError("tokenRefresh", fmt.Errorf("token endpoint returned no access token"))
	}

	expiry := time.Now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second)
	if err := settings.SaveTokens(ctx, t.db, token.AccessToken, token.RefreshToken, expiry); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// Headers builds the auth headers for one remote call, refreshing the
// token if needed.
func (t *TokenManager) Headers(ctx context.Context, settings *models.EtimsSettings) (map[string]string, error) {
	token, err := t.EnsureToken(ctx, settings)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Workstation":   settings.WorkstationId,
	}, nil
}

// ResetAuthPassword rotates the remote account password to a fresh random
// one, persisting it locally only after the gateway accepts it.
func (t *TokenManager) ResetAuthPassword(ctx context.Context, settings *models.EtimsSettings) error {
	token, err := t.EnsureToken(ctx, settings)
	if err != nil {
		return err
	}

	newPassword, err := GenerateStrongPassword(generatedPasswordLength)
	if err != nil {
		return newAuthError("resetAuthPassword", err)
	}

	payload := map[string]string{
		"old_password":  settings.AuthPassword,
		"new_password1": newPassword,
		"new_password2": newPassword,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return newAuthError("resetAuthPassword", err)
	}

	endpoint := strings.TrimRight(settings.AuthServerURL, "/") + "/password_change/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(encoded)))
	if err != nil {
		return newAuthError("resetAuthPassword", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.http.Do(req)
	if err != nil {
		return newAuthError("resetAuthPassword", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("password change returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		config.LogError(t.logger, "etims", "ResetAuthPassword", "password rotation rejected", settings.Name, err)
		return newAuthError("resetAuthPassword", err)
	}

	return settings.SaveAuthPassword(ctx, t.db, newPassword)
}

const (
	passwordLower   = "abcdefghijklmnopqrstuvwxyz"
	passwordUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	passwordDigits  = "0123456789"
	passwordSymbols = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// GenerateStrongPassword draws random characters until the result carries
// at least one lowercase, uppercase, digit and symbol.
func GenerateStrongPassword(length int) (string, error) {
	if length < 4 {
		length = generatedPasswordLength
	}
	charset := passwordLower + passwordUpper + passwordDigits + passwordSymbols
	for {
		chars := make([]byte, length)
		for i := range chars {
			idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
			if err != nil {
				return "", err
			}
			chars[i] = charset[idx.Int64()]
		}
		candidate := string(chars)
		if strings.ContainsAny(candidate, passwordLower) &&
			strings.ContainsAny(candidate, passwordUpper) &&
			strings.ContainsAny(candidate, passwordDigits) &&
			strings.ContainsAny(candidate, passwordSymbols) {
			return candidate, nil
		}
	}
}
