package homegraph

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// AuthConfig configures the remote authentication client.
type AuthConfig struct {
	// Endpoint is the token endpoint URL.
	Endpoint string

	// ClientID identifies this installation to the remote.
	ClientID string

	// Timeout bounds one authentication round trip.
	Timeout time.Duration
}

// AuthManager exchanges a credential for a bearer token and decorates
// outgoing sync requests with it. Safe for concurrent use.
type AuthManager struct {
	config AuthConfig
	client *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewAuthManager creates an authentication client.
func NewAuthManager(config AuthConfig) (*AuthManager, error) {
	if config.Endpoint == "" {
		return nil, newSyncError(ErrorKindNotConnected, "auth endpoint required", nil)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &AuthManager{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

type authRequest struct {
	ClientID   string `json:"client_id"`
	Credential string `json:"credential"`
}

type authResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticate exchanges the credential for a token and caches it.
func (a *AuthManager) Authenticate(ctx context.Context, credential string) error {
	body, err := json.Marshal(authRequest{
		ClientID:   a.config.ClientID,
		Credential: credential,
	})
	if err != nil {
		return newSyncError(ErrorKindAuthFailed, "encode auth request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return newSyncError(ErrorKindAuthFailed, "build auth request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return networkErr("authenticate", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newSyncError(ErrorKindAuthFailed, "credential rejected", nil)
	case resp.StatusCode >= 500:
		return newServerError(resp.StatusCode, "auth server error")
	case resp.StatusCode != http.StatusOK:
		return &SyncError{Kind: ErrorKindAuthFailed, Message: "unexpected auth status", StatusCode: resp.StatusCode}
	}

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return newSyncError(ErrorKindAuthFailed, "decode auth response", err)
	}
	if ar.Token == "" {
		return newSyncError(ErrorKindAuthFailed, "auth response missing token", nil)
	}

	a.mu.Lock()
	a.token = ar.Token
	a.expiresAt = ar.ExpiresAt
	a.mu.Unlock()
	return nil
}

// CurrentToken returns the cached token, or false when absent or expired.
func (a *AuthManager) CurrentToken() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token == "" {
		return "", false
	}
	if !a.expiresAt.IsZero() && !time.Now().Before(a.expiresAt) {
		return "", false
	}
	return a.token, true
}

// Invalidate drops the cached token, forcing re-authentication.
func (a *AuthManager) Invalidate() {
	a.mu.Lock()
	a.token = ""
	a.expiresAt = time.Time{}
	a.mu.Unlock()
}

// Decorate attaches the bearer token and client identity to an outgoing
// request. Returns ErrAuthRequired when no valid token is cached.
func (a *AuthManager) Decorate(req *http.Request) error {
	token, ok := a.CurrentToken()
	if !ok {
		return newSyncError(ErrorKindAuthRequired, "no valid token", nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Client-ID", a.config.ClientID)
	return nil
}
