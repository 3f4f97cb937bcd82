// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth fetches bearer credentials from the external identity
// provider.
//
// The client never caches a token beyond a single use: every connection
// attempt and every send fetches its own fresh token. Short-lived tokens
// then work over long-lived connections without a shared cache to
// invalidate.
package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrUnavailable indicates the identity provider could not issue a token.
// Dispatches failing with this error surface as an authentication failure
// on the in-flight assistant message.
var ErrUnavailable = errors.New("credential provider unavailable")

// =============================================================================
// PROVIDER INTERFACE
// =============================================================================

// CredentialProvider issues bearer tokens on demand.
type CredentialProvider interface {
	// FetchToken returns a fresh bearer token.
	FetchToken(ctx context.Context) (string, error)
}

// =============================================================================
// HTTP PROVIDER
// =============================================================================

const (
	// defaultFetchTimeout bounds a single token fetch.
	defaultFetchTimeout = 10 * time.Second

	// maxTokenResponseSize caps the token endpoint response body.
	// SECURITY: Response size limit prevents memory exhaustion.
	maxTokenResponseSize = 64 * 1024
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// SECURITY: TLS verification required for production.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	Timeout: defaultFetchTimeout,
}

// HTTPProvider fetches tokens from an HTTP token endpoint that responds
// with {"token": "..."}.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProvider creates a provider for the given token endpoint.
func NewHTTPProvider(endpoint string) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		client:   sharedHTTPClient,
	}
}

// FetchToken requests a fresh token. Any transport or decode failure is
// wrapped in ErrUnavailable so callers can classify it with errors.Is.
func (p *HTTPProvider) FetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: invalid token response: %v", ErrUnavailable, err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnavailable)
	}

	return payload.Token, nil
}

// =============================================================================
// STATIC PROVIDER
// =============================================================================

// StaticProvider returns a fixed token. Used in tests and local development
// against backends with auth disabled.
type StaticProvider struct {
	Token string
}

// FetchToken returns the fixed token, or ErrUnavailable if it is empty.
func (p *StaticProvider) FetchToken(ctx context.Context) (string, error) {
	if p.Token == "" {
		return "", ErrUnavailable
	}
	return p.Token, nil
}
