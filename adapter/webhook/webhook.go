// Package webhook delivers upload events as JSON HTTP POSTs.
//
// Each POST carries the event type and request id as headers. When a
// secret is configured the body is signed with HMAC-SHA256 so receivers
// can reject forged deliveries. Network errors, 5xx, 408 and 429 responses
// are retried with exponential backoff; other 4xx responses fail
// immediately.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/ipfs-publish/adapter"
	"github.com/pithecene-io/ipfs-publish/iox"
	"github.com/pithecene-io/ipfs-publish/types"
)

const (
	// DefaultTimeout bounds a single delivery attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is the number of attempts made after the first failure.
	DefaultRetries = 3
)

// Delivery headers.
const (
	HeaderEvent     = "X-IPFS-Publish-Event"
	HeaderSignature = "X-IPFS-Publish-Signature"
	HeaderRequestID = "X-Request-ID"
)

// signaturePrefix names the digest in HeaderSignature values.
const signaturePrefix = "sha256="

// maxErrorBody caps how much of a rejected response is kept in StatusError.
const maxErrorBody = 512

// Config configures the webhook adapter.
type Config struct {
	URL     string
	Headers map[string]string
	// Secret signs each body when non-empty.
	Secret  string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// Adapter posts upload events to a single endpoint.
type Adapter struct {
	config Config
	client *http.Client
}

// New validates cfg and returns an adapter. Timeout defaults to
// DefaultTimeout.
func New(cfg Config) (*Adapter, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("webhook adapter requires a URL")
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish posts event, retrying transient failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.UploadPublishedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	header := a.header(event, body)

	attempts := 1 + a.config.Retries
	err = adapter.Retry(ctx, attempts, a.config.Backoff, func(ctx context.Context) error {
		return a.post(ctx, header, body)
	}, isPermanent)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", event.RequestID, err)
	}
	return nil
}

// header builds the request headers shared by every attempt. Custom
// headers are applied last and may override the defaults.
func (a *Adapter) header(event *adapter.UploadPublishedEvent, body []byte) http.Header {
	h := make(http.Header, 5+len(a.config.Headers))
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", types.UserAgent())
	h.Set(HeaderEvent, event.EventType)
	if event.RequestID != "" {
		h.Set(HeaderRequestID, event.RequestID)
	}
	if a.config.Secret != "" {
		h.Set(HeaderSignature, Sign(a.config.Secret, body))
	}
	for k, v := range a.config.Headers {
		h.Set(k, v)
	}
	return h
}

func (a *Adapter) post(ctx context.Context, header http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

// Sign returns the HeaderSignature value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid HeaderSignature for body.
func Verify(secret string, body []byte, signature string) bool {
	got, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return false
	}
	sum, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sum, mac.Sum(nil))
}

// StatusError reports a non-2xx response. Body holds the start of the
// response body, if any.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// isPermanent reports whether a failed attempt should not be retried.
func isPermanent(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return statusErr.Code >= 400 && statusErr.Code < 500
}

// Close drops idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
