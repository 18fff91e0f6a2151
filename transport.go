package homegraph

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport moves sync payloads between the local engine and the remote.
type Transport interface {
	// Exchange performs one sync round trip.
	Exchange(ctx context.Context, req *SyncRequest) (*SyncResponse, error)

	// FetchEntity retrieves a single entity by id. Returns (nil, nil) when
	// the remote does not have it.
	FetchEntity(ctx context.Context, id string) (*Entity, error)
}

// HTTPTransportConfig configures the HTTP sync transport.
type HTTPTransportConfig struct {
	// Endpoint is the remote base URL (no trailing path).
	Endpoint string

	// Auth decorates requests with credentials. Optional; without it
	// requests go out bare.
	Auth *AuthManager

	// Timeout bounds one sync round trip.
	Timeout time.Duration

	// Compress enables snappy compression of request and response bodies.
	Compress bool
}

// HTTPTransport is the production Transport over HTTPS.
type HTTPTransport struct {
	config HTTPTransportConfig
	client *http.Client
}

// NewHTTPTransport creates an HTTP sync transport.
func NewHTTPTransport(config HTTPTransportConfig) (*HTTPTransport, error) {
	if config.Endpoint == "" {
		return nil, newSyncError(ErrorKindNotConnected, "sync endpoint required", nil)
	}
	if config.Timeout <= 0 {
		config.Timeout = 45 * time.Second
	}
	return &HTTPTransport{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Exchange implements Transport. A 409 carries a well-formed response body
// with conflict notices and is not an error.
func (t *HTTPTransport) Exchange(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	body, err := EncodeSyncRequest(req, t.config.Compress)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(t.config.Endpoint, "/")+"/api/v1/sync", bytes.NewReader(body))
	if err != nil {
		return nil, networkErr("build sync request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.config.Compress {
		httpReq.Header.Set("Content-Encoding", "snappy")
		httpReq.Header.Set("Accept-Encoding", "snappy")
	}
	if t.config.Auth != nil {
		if err := t.config.Auth.Decorate(httpReq); err != nil {
			return nil, err
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, networkErr("sync exchange", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkErr("read sync response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to decode
	case resp.StatusCode == http.StatusConflict:
		// fall through to decode; conflicts ride in the body
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if t.config.Auth != nil {
			t.config.Auth.Invalidate()
		}
		return nil, &SyncError{Kind: ErrorKindAuthRequired, Message: "sync rejected", StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, newServerError(resp.StatusCode, "sync server error")
	default:
		return nil, &SyncError{Kind: ErrorKindSyncFailed, Message: "unexpected sync status", StatusCode: resp.StatusCode}
	}

	compressed := resp.Header.Get("Content-Encoding") == "snappy"
	return DecodeSyncResponse(data, compressed)
}

// FetchEntity implements Transport.
func (t *HTTPTransport) FetchEntity(ctx context.Context, id string) (*Entity, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(t.config.Endpoint, "/")+"/api/v1/entities/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, networkErr("build fetch request", err)
	}
	if t.config.Auth != nil {
		if err := t.config.Auth.Decorate(httpReq); err != nil {
			return nil, err
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, networkErr("fetch entity", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if t.config.Auth != nil {
			t.config.Auth.Invalidate()
		}
		return nil, &SyncError{Kind: ErrorKindAuthRequired, Message: "fetch rejected", StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, newServerError(resp.StatusCode, "fetch server error")
	case resp.StatusCode != http.StatusOK:
		return nil, &SyncError{Kind: ErrorKindSyncFailed, Message: "unexpected fetch status", StatusCode: resp.StatusCode}
	}

	var e Entity
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		return nil, newSyncError(ErrorKindInvalidData, "decode entity", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
