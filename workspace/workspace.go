// Package workspace allocates and removes per-upload staging directories.
//
// Every upload gets an exclusive directory <temp root>/uploads/<token>, where
// token is 18 random bytes rendered in the URL-safe base64 alphabet. The
// leaf directory is created with os.Mkdir so that a token collision surfaces
// as EEXIST and is retried with a fresh token rather than silently sharing a
// directory between requests.
package workspace

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/ipfs-publish/log"
	"github.com/pithecene-io/ipfs-publish/metrics"
	"github.com/pithecene-io/ipfs-publish/types"
)

// TokenBytes is the number of random bytes behind a workspace name.
const TokenBytes = 18

// DefaultMaxAttempts bounds token redraws on collision.
const DefaultMaxAttempts = 5

// UploadsDir is the directory under the temp root that holds workspaces.
const UploadsDir = "uploads"

// RetentionMode selects what happens to a workspace after a successful publish.
type RetentionMode string

// Retention modes.
const (
	// RetentionRetain leaves published uploads on disk.
	RetentionRetain RetentionMode = "retain"
	// RetentionDelete removes the workspace as soon as the response is sent.
	RetentionDelete RetentionMode = "delete"
	// RetentionDelay removes the workspace after Config.RetentionDelay.
	RetentionDelay RetentionMode = "delay"
)

// ParseRetentionMode parses a retention mode, defaulting "" to retain.
func ParseRetentionMode(s string) (RetentionMode, error) {
	switch RetentionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", RetentionRetain:
		return RetentionRetain, nil
	case RetentionDelete:
		return RetentionDelete, nil
	case RetentionDelay:
		return RetentionDelay, nil
	default:
		return "", fmt.Errorf("invalid retention mode: %q (must be retain, delete, or delay)", s)
	}
}

// Config configures a Manager.
type Config struct {
	// TempRoot is the base temp directory. Defaults to os.TempDir().
	TempRoot string
	// Retention is the success-path disposal policy.
	Retention RetentionMode
	// RetentionDelay is the wait before removal in delay mode.
	RetentionDelay time.Duration
	// MaxAttempts bounds token redraws on collision (default 5).
	MaxAttempts int
	// Random overrides the secure random source (for testing).
	Random io.Reader
}

// Workspace is a directory exclusively owned by one upload request.
type Workspace struct {
	// Token is the directory name.
	Token string
	// Path is the absolute directory path.
	Path string
}

// Manager allocates and releases workspaces under a shared root.
// Safe for concurrent use.
type Manager struct {
	config    Config
	root      string
	logger    *log.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewManager creates a Manager. It does not touch the filesystem.
func NewManager(cfg Config, logger *log.Logger, collector *metrics.Collector) (*Manager, error) {
	if cfg.TempRoot == "" {
		cfg.TempRoot = os.TempDir()
	}
	if cfg.Retention == "" {
		cfg.Retention = RetentionRetain
	}
	if _, err := ParseRetentionMode(string(cfg.Retention)); err != nil {
		return nil, err
	}
	if cfg.Retention == RetentionDelay && cfg.RetentionDelay <= 0 {
		return nil, errors.New("delay retention requires a positive retention delay")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = log.NewNop()
	}

	root, err := filepath.Abs(filepath.Join(cfg.TempRoot, UploadsDir))
	if err != nil {
		return nil, fmt.Errorf("resolve uploads root: %w", err)
	}

	return &Manager{
		config:    cfg,
		root:      root,
		logger:    logger,
		collector: collector,
		pending:   make(map[string]*time.Timer),
	}, nil
}

// Root returns the directory that holds all workspaces.
func (m *Manager) Root() string {
	return m.root
}

// Allocate creates a fresh workspace directory.
// Returns a types.ErrFilesystem error if the directory cannot be created.
func (m *Manager) Allocate() (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, types.NewFilesystemError("allocate", err)
	}

	var lastErr error
	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		token := NewToken(m.config.Random)
		path := filepath.Join(m.root, token)

		err := os.Mkdir(path, 0o755)
		if err == nil {
			return &Workspace{Token: token, Path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, types.NewFilesystemError("allocate", err)
		}

		lastErr = err
		m.logger.Warn("workspace token collision, redrawing", map[string]any{
			"token":   token,
			"attempt": attempt,
		})
	}

	return nil, types.NewFilesystemError("allocate",
		fmt.Errorf("no free workspace name after %d attempts: %w", m.config.MaxAttempts, lastErr))
}

// Release removes the workspace recursively. Best effort: failures are
// logged and counted, never returned. Calling it more than once is harmless.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil || ws.Path == "" {
		return
	}
	m.cancelPending(ws.Path)

	if !m.owns(ws.Path) {
		m.logger.Error("refusing to remove path outside uploads root", map[string]any{
			"path": ws.Path,
			"root": m.root,
		})
		m.collector.IncReleaseFailure()
		return
	}

	if err := os.RemoveAll(ws.Path); err != nil {
		m.logger.Warn("workspace removal failed", map[string]any{
			"path":  ws.Path,
			"error": err.Error(),
		})
		m.collector.IncReleaseFailure()
		return
	}

	m.logger.Debug("workspace removed", map[string]any{"path": ws.Path})
	m.collector.IncWorkspaceReleased()
}

// Dispose applies the retention policy to a successfully published workspace.
func (m *Manager) Dispose(ws *Workspace) {
	if ws == nil {
		return
	}

	switch m.config.Retention {
	case RetentionDelete:
		m.Release(ws)
	case RetentionDelay:
		m.schedule(ws)
	default:
		m.logger.Debug("workspace retained", map[string]any{"path": ws.Path})
	}
}

// Pending returns the number of scheduled delayed removals.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close stops delayed-removal timers and removes their workspaces now.
// Later Dispose calls in delay mode remove immediately.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	paths := make([]string, 0, len(m.pending))
	for path, timer := range m.pending {
		timer.Stop()
		paths = append(paths, path)
	}
	m.pending = make(map[string]*time.Timer)
	m.mu.Unlock()

	for _, path := range paths {
		m.Release(&Workspace{Token: filepath.Base(path), Path: path})
	}
}

func (m *Manager) schedule(ws *Workspace) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.Release(ws)
		return
	}
	if _, ok := m.pending[ws.Path]; ok {
		m.mu.Unlock()
		return
	}
	m.pending[ws.Path] = time.AfterFunc(m.config.RetentionDelay, func() {
		m.Release(ws)
	})
	m.mu.Unlock()

	m.logger.Debug("workspace removal scheduled", map[string]any{
		"path":  ws.Path,
		"delay": m.config.RetentionDelay.String(),
	})
}

func (m *Manager) cancelPending(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.pending[path]; ok {
		timer.Stop()
		delete(m.pending, path)
	}
}

// owns reports whether path is a direct child of the uploads root.
func (m *Manager) owns(path string) bool {
	clean := filepath.Clean(path)
	return filepath.Dir(clean) == m.root && filepath.Base(clean) != "."
}

// NewToken draws TokenBytes from src (crypto/rand when nil) and encodes them
// with the URL-safe base64 alphabet ('+' becomes '-', '/' becomes '_').
// If src fails, a pseudo-random source fills the bytes instead so that name
// generation itself never fails.
func NewToken(src io.Reader) string {
	if src == nil {
		src = rand.Reader
	}
	b := make([]byte, TokenBytes)
	if _, err := io.ReadFull(src, b); err != nil {
		for i := range b {
			b[i] = byte(mrand.UintN(256))
		}
	}
	return base64.URLEncoding.EncodeToString(b)
}
