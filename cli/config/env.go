package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/ipfs-publish/publisher"
	"github.com/pithecene-io/ipfs-publish/render"
	"github.com/pithecene-io/ipfs-publish/workspace"
)

// Defaults used when neither flags, file nor environment set a value.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 9000
)

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Settings is the resolved service configuration.
type Settings struct {
	Host           string
	Port           int
	TempRoot       string
	Debug          bool
	SiteTitle      string
	GatewayHost    string
	IPFSBin        string
	PublishTimeout time.Duration
	MaxBodyBytes   int64
	Retention      workspace.RetentionMode
	RetentionDelay time.Duration
	Archive        ArchiveConfig
	Notify         NotifyConfig
}

// Addr returns the listen address.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Host:           DefaultHost,
		Port:           DefaultPort,
		TempRoot:       os.TempDir(),
		SiteTitle:      render.DefaultSiteTitle,
		GatewayHost:    render.DefaultGatewayHost,
		IPFSBin:        publisher.DefaultBin,
		PublishTimeout: publisher.DefaultTimeout,
		Retention:      workspace.RetentionRetain,
	}
}

// FromEnv overlays environment variables on the defaults.
//
//	host:  IPFS_PUBLISH_HOST, then HOST
//	port:  IPFS_PUBLISH_PORT, then PORT
//	debug: IPFS_PUBLISH_DEBUG, then DEBUG, or APP_ENV=development
func FromEnv(lookup LookupFunc) (Settings, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	s := Defaults()

	if v := firstEnv(lookup, "IPFS_PUBLISH_HOST", "HOST"); v != "" {
		s.Host = v
	}
	if v := firstEnv(lookup, "IPFS_PUBLISH_PORT", "PORT"); v != "" {
		port, err := ParsePort(v)
		if err != nil {
			return Settings{}, err
		}
		s.Port = port
	}
	if v := firstEnv(lookup, "IPFS_PUBLISH_DEBUG", "DEBUG"); v != "" {
		s.Debug = Truthy(v)
	}
	if v, _ := lookup("APP_ENV"); strings.EqualFold(strings.TrimSpace(v), "development") {
		s.Debug = true
	}
	return s, nil
}

// Apply overlays the non-zero values of a config file.
func (s *Settings) Apply(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.Host != "" {
		s.Host = cfg.Host
	}
	if cfg.Port != 0 {
		if cfg.Port < 0 || cfg.Port > 65535 {
			return fmt.Errorf("invalid port %d in config", cfg.Port)
		}
		s.Port = cfg.Port
	}
	if cfg.TempRoot != "" {
		s.TempRoot = cfg.TempRoot
	}
	if cfg.Debug != nil {
		s.Debug = *cfg.Debug
	}
	if cfg.SiteTitle != "" {
		s.SiteTitle = cfg.SiteTitle
	}
	if cfg.GatewayHost != "" {
		s.GatewayHost = cfg.GatewayHost
	}
	if cfg.IPFSBin != "" {
		s.IPFSBin = cfg.IPFSBin
	}
	if cfg.PublishTimeout != nil {
		if cfg.PublishTimeout.Duration < 0 {
			return fmt.Errorf("publish_timeout must be >= 0, got %s", cfg.PublishTimeout.Duration)
		}
		s.PublishTimeout = cfg.PublishTimeout.Duration
	}
	if cfg.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must be >= 0, got %d", cfg.MaxBodyBytes)
	}
	if cfg.MaxBodyBytes > 0 {
		s.MaxBodyBytes = cfg.MaxBodyBytes
	}
	if cfg.Retention.Mode != "" {
		mode, err := workspace.ParseRetentionMode(cfg.Retention.Mode)
		if err != nil {
			return err
		}
		s.Retention = mode
	}
	if cfg.Retention.Delay.Duration > 0 {
		s.RetentionDelay = cfg.Retention.Delay.Duration
	}
	if cfg.Archive.Backend != "" {
		s.Archive = cfg.Archive
	}
	if cfg.Notify.Type != "" {
		s.Notify = cfg.Notify
	}
	return nil
}

// Resolve builds settings from the environment and an optional config file.
// The file's ${...} references expand against the same lookup. An empty
// path skips the file.
func Resolve(path string, lookup LookupFunc) (Settings, error) {
	s, err := FromEnv(lookup)
	if err != nil {
		return Settings{}, err
	}
	if path == "" {
		return s, nil
	}
	cfg, err := LoadWithEnv(path, lookup)
	if err != nil {
		return Settings{}, err
	}
	if err := s.Apply(cfg); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParsePort parses a TCP port number.
func ParsePort(v string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", v)
	}
	return port, nil
}

// Truthy reports whether v is one of 1, true, yes or on (case-insensitive).
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func firstEnv(lookup LookupFunc, keys ...string) string {
	for _, key := range keys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
