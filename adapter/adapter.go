// Package adapter defines the notification boundary for published uploads.
//
// Adapters deliver an UploadPublishedEvent to a downstream system after the
// client has received its response. Delivery is best-effort: failures are
// reported to the caller for logging and never affect the upload.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/ipfs-publish/types"
)

// EventUploadPublished is the event_type of every UploadPublishedEvent.
const EventUploadPublished = "upload_published"

// DefaultBackoff is the delay before the first retry; each later retry
// doubles it.
const DefaultBackoff = 500 * time.Millisecond

// UploadPublishedEvent is the payload sent when an upload is published.
// EventType is always EventUploadPublished; Timestamp is RFC 3339 UTC.
type UploadPublishedEvent struct {
	EventType   string   `json:"event_type"`
	Version     string   `json:"version"`
	RequestID   string   `json:"request_id"`
	Token       string   `json:"token"`
	RemoteHash  string   `json:"remote_hash"`
	LocalHash   string   `json:"local_hash,omitempty"`
	GatewayURL  string   `json:"gateway_url,omitempty"`
	FieldCount  int      `json:"field_count"`
	FileCount   int      `json:"file_count"`
	TotalBytes  int64    `json:"total_bytes"`
	Timestamp   string   `json:"timestamp"`
	DurationMs  int64    `json:"duration_ms"`
	ArchiveKeys []string `json:"archive_keys,omitempty"`
}

// EventInput carries what the pipeline knows about a published upload.
type EventInput struct {
	RequestID   string
	Token       string
	Fields      []types.UploadField
	Files       []types.UploadFile
	Result      *types.PublishResult
	GatewayHost string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// NewUploadPublishedEvent builds the event for in.
func NewUploadPublishedEvent(in EventInput) *UploadPublishedEvent {
	event := &UploadPublishedEvent{
		EventType:  EventUploadPublished,
		Version:    types.Version,
		RequestID:  in.RequestID,
		Token:      in.Token,
		FieldCount: len(in.Fields),
		FileCount:  len(in.Files),
		TotalBytes: types.TotalSize(in.Files),
		Timestamp:  in.FinishedAt.UTC().Format(time.RFC3339),
		DurationMs: in.FinishedAt.Sub(in.StartedAt).Milliseconds(),
	}
	if in.Result != nil {
		event.RemoteHash = in.Result.RemoteHash
		event.LocalHash = in.Result.LocalHash
		event.GatewayURL = in.Result.GatewayURL(in.GatewayHost)
	}
	return event
}

// Adapter publishes upload events to a downstream system.
type Adapter interface {
	// Publish sends an event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *UploadPublishedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Retry calls fn up to attempts times, sleeping base, 2*base, 4*base...
// between calls. A nil error stops early, as does an error for which
// permanent returns true. permanent may be nil.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error, permanent func(error) bool) error {
	if base <= 0 {
		base = DefaultBackoff
	}

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
