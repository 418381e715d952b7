// Package archive copies the files of a published upload into a lode Store.
//
// Keys follow a Hive-style layout so archives can be listed by day:
//
//	uploads/day=<YYYY-MM-DD>/token=<token>/files/<name>
//
// Archiving runs after the response has been sent; its failures are logged
// and counted but never reach the client.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/ipfs-publish/iox"
	"github.com/pithecene-io/ipfs-publish/log"
	"github.com/pithecene-io/ipfs-publish/metrics"
	"github.com/pithecene-io/ipfs-publish/types"
)

// Backend names accepted by Config.Backend.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Config selects and configures an archive backend.
type Config struct {
	// Backend is one of BackendFS, BackendS3 or BackendMemory.
	Backend string
	// Path is the root directory (fs) or "bucket/prefix" (s3).
	Path string
	// Region, Endpoint and S3PathStyle configure the s3 backend.
	Region      string
	Endpoint    string
	S3PathStyle bool
}

// NewFactory builds the store factory for cfg.
func NewFactory(ctx context.Context, cfg Config) (lode.StoreFactory, error) {
	switch cfg.Backend {
	case BackendFS:
		if cfg.Path == "" {
			return nil, fmt.Errorf("archive path is required for %s backend", BackendFS)
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, wrap("init", cfg.Path, err)
		}
		return lode.NewFSFactory(cfg.Path), nil
	case BackendS3:
		bucket, prefix := ParseS3Path(cfg.Path)
		return NewS3Factory(ctx, S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
	case BackendMemory:
		return lode.NewMemoryFactory(), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q (want %s, %s or %s)",
			cfg.Backend, BackendFS, BackendS3, BackendMemory)
	}
}

// Key returns the store key for a file in an upload.
func Key(day, token, name string) string {
	return fmt.Sprintf("uploads/day=%s/token=%s/files/%s", day, token, name)
}

// Archiver writes uploads to a lazily created Store.
type Archiver struct {
	factory   lode.StoreFactory
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// New creates an Archiver. The store is created on first use.
func New(factory lode.StoreFactory, logger *log.Logger, collector *metrics.Collector) *Archiver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Archiver{
		factory:   factory,
		logger:    logger,
		collector: collector,
		now:       time.Now,
	}
}

// Archive copies files into the store under token and returns the keys
// written, in file order. On failure the keys written so far are returned
// with a *StorageError.
func (a *Archiver) Archive(ctx context.Context, token string, files []types.UploadFile) ([]string, error) {
	keys, err := a.archive(ctx, token, files)
	if err != nil {
		a.collector.IncArchiveFailure()
		a.logger.Warn("archive failed", map[string]any{
			"token":   token,
			"written": len(keys),
			"error":   err.Error(),
		})
		return keys, err
	}

	a.collector.IncArchiveSuccess()
	a.logger.Info("upload archived", map[string]any{
		"token": token,
		"files": len(keys),
	})
	return keys, nil
}

func (a *Archiver) archive(ctx context.Context, token string, files []types.UploadFile) ([]string, error) {
	store, err := a.getOrCreateStore()
	if err != nil {
		return nil, wrap("init", "", err)
	}

	day := a.now().UTC().Format("2006-01-02")
	names := uniqueNames(files)
	keys := make([]string, 0, len(files))

	for i, f := range files {
		key := Key(day, token, names[i])
		if err := put(ctx, store, key, f.StagedPath); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func put(ctx context.Context, store lode.Store, key, staged string) error {
	src, err := os.Open(staged)
	if err != nil {
		return wrap("open", staged, err)
	}
	defer iox.DiscardClose(src)

	return wrap("put", key, store.Put(ctx, key, src))
}

// getOrCreateStore lazily initializes the Store from the factory.
func (a *Archiver) getOrCreateStore() (lode.Store, error) {
	a.storeOnce.Do(func() {
		a.store, a.storeErr = a.factory()
	})
	return a.store, a.storeErr
}

// uniqueNames returns one safe key name per file. A repeated name gets a
// numeric prefix: a.txt, 1-a.txt, 2-a.txt.
func uniqueNames(files []types.UploadFile) []string {
	taken := make(map[string]bool, len(files))
	names := make([]string, len(files))
	for i, f := range files {
		base := safeName(f.OriginalName)
		name := base
		for n := 1; taken[name]; n++ {
			name = fmt.Sprintf("%d-%s", n, base)
		}
		taken[name] = true
		names[i] = name
	}
	return names
}

func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "file"
	}
	return name
}
