// Package redis delivers upload events through Redis.
//
// By default each event is sent as JSON with PUBLISH. Setting a stream
// switches delivery to XADD so consumers that were offline can catch up
// from the stream.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/ipfs-publish/adapter"
)

const (
	// DefaultChannel is the PUBLISH channel when none is configured.
	DefaultChannel = "ipfs-publish:" + adapter.EventUploadPublished
	// DefaultTimeout bounds a single delivery attempt.
	DefaultTimeout = 5 * time.Second
	// DefaultRetries is the number of attempts made after the first failure.
	DefaultRetries = 3
)

// Stream entry field names.
const (
	FieldEvent     = "event"
	FieldRequestID = "request_id"
	FieldPayload   = "payload"
)

// Config configures the Redis adapter.
type Config struct {
	// URL has the form redis://[:password@]host:port[/db].
	URL string
	// Channel is ignored when Stream is set.
	Channel string
	Stream  string
	// MaxLen approximately trims Stream when positive.
	MaxLen  int64
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// Adapter sends upload events to Redis.
type Adapter struct {
	config Config
	client *goredis.Client
	send   func(ctx context.Context, event *adapter.UploadPublishedEvent, body []byte) error
}

// New validates cfg and connects lazily to Redis.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	switch {
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	case cfg.MaxLen < 0:
		return nil, fmt.Errorf("max_len must be >= 0, got %d", cfg.MaxLen)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Stream == "" && cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}

	a := &Adapter{config: cfg, client: goredis.NewClient(opts)}
	if cfg.Stream != "" {
		a.send = a.xadd
	} else {
		a.send = a.publish
	}
	return a, nil
}

// Target names where events go, for logging.
func (a *Adapter) Target() string {
	if a.config.Stream != "" {
		return "stream " + a.config.Stream
	}
	return "channel " + a.config.Channel
}

// Publish delivers event, retrying until the attempts run out or the
// client is closed.
func (a *Adapter) Publish(ctx context.Context, event *adapter.UploadPublishedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	err = adapter.Retry(ctx, 1+a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.send(ctx, event, body)
	}, isClosed)
	if err != nil {
		return fmt.Errorf("redis %s: %w", a.Target(), err)
	}
	return nil
}

func (a *Adapter) publish(ctx context.Context, _ *adapter.UploadPublishedEvent, body []byte) error {
	return a.client.Publish(ctx, a.config.Channel, body).Err()
}

func (a *Adapter) xadd(ctx context.Context, event *adapter.UploadPublishedEvent, body []byte) error {
	args := &goredis.XAddArgs{
		Stream: a.config.Stream,
		Values: map[string]any{
			FieldEvent:     event.EventType,
			FieldRequestID: event.RequestID,
			FieldPayload:   string(body),
		},
	}
	if a.config.MaxLen > 0 {
		args.MaxLen = a.config.MaxLen
		args.Approx = true
	}
	return a.client.XAdd(ctx, args).Err()
}

func isClosed(err error) bool {
	return errors.Is(err, goredis.ErrClosed)
}

// Close closes the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
