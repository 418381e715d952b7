// Package cmd provides CLI commands for the ipfs-publish binary.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ipfs-publish/cli/config"
	"github.com/pithecene-io/ipfs-publish/workspace"
)

// Exit codes.
const (
	exitServeError  = 1
	exitConfigError = 2
)

// ConfigFlag points at an optional YAML config file.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to an ipfs-publish.yaml config file",
	EnvVars: []string{"IPFS_PUBLISH_CONFIG"},
}

// SettingsFlags returns the flags that override resolved settings.
func SettingsFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{Name: "host", Usage: "Listen host (default 0.0.0.0)"},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (default 9000)"},
		&cli.StringFlag{Name: "temp-root", Usage: "Base directory for upload workspaces"},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		&cli.StringFlag{Name: "site-title", Usage: "Title shown on every page"},
		&cli.StringFlag{Name: "gateway-host", Usage: "Public IPFS gateway host for links"},
		&cli.StringFlag{Name: "ipfs-bin", Usage: "Path to the ipfs executable"},
		&cli.DurationFlag{Name: "publish-timeout", Usage: "Upper bound on one ipfs add (0 disables)"},
		&cli.Int64Flag{Name: "max-body-bytes", Usage: "Request body limit in bytes (0 = unlimited)"},
		&cli.StringFlag{Name: "retention", Usage: "Published workspace policy: retain, delete, delay"},
		&cli.DurationFlag{Name: "retention-delay", Usage: "Removal delay for delay retention"},
		&cli.StringFlag{Name: "archive-backend", Usage: "Archive backend: fs, s3, memory"},
		&cli.StringFlag{Name: "archive-path", Usage: "Archive root directory (fs) or bucket/prefix (s3)"},
		&cli.StringFlag{Name: "notify-type", Usage: "Event notifier: webhook, redis"},
		&cli.StringFlag{Name: "notify-url", Usage: "Webhook endpoint or Redis URL"},
	}
}

// resolveSettings applies defaults, environment, config file and flags,
// in increasing order of precedence.
func resolveSettings(c *cli.Context) (config.Settings, error) {
	s, err := config.Resolve(c.String(ConfigFlag.Name), os.LookupEnv)
	if err != nil {
		return config.Settings{}, err
	}

	if c.IsSet("host") {
		s.Host = c.String("host")
	}
	if c.IsSet("port") {
		port := c.Int("port")
		if port < 0 || port > 65535 {
			return config.Settings{}, fmt.Errorf("invalid port %d", port)
		}
		s.Port = port
	}
	if c.IsSet("temp-root") {
		s.TempRoot = c.String("temp-root")
	}
	if c.IsSet("debug") {
		s.Debug = c.Bool("debug")
	}
	if c.IsSet("site-title") {
		s.SiteTitle = c.String("site-title")
	}
	if c.IsSet("gateway-host") {
		s.GatewayHost = c.String("gateway-host")
	}
	if c.IsSet("ipfs-bin") {
		s.IPFSBin = c.String("ipfs-bin")
	}
	if c.IsSet("publish-timeout") {
		s.PublishTimeout = c.Duration("publish-timeout")
	}
	if c.IsSet("max-body-bytes") {
		s.MaxBodyBytes = c.Int64("max-body-bytes")
	}
	if c.IsSet("retention") {
		mode, err := workspace.ParseRetentionMode(c.String("retention"))
		if err != nil {
			return config.Settings{}, err
		}
		s.Retention = mode
	}
	if c.IsSet("retention-delay") {
		s.RetentionDelay = c.Duration("retention-delay")
	}
	if c.IsSet("archive-backend") {
		s.Archive.Backend = c.String("archive-backend")
	}
	if c.IsSet("archive-path") {
		s.Archive.Path = c.String("archive-path")
	}
	if c.IsSet("notify-type") {
		s.Notify.Type = c.String("notify-type")
	}
	if c.IsSet("notify-url") {
		s.Notify.URL = c.String("notify-url")
	}
	return s, nil
}

// SettingsView is the printable form of config.Settings.
type SettingsView struct {
	Address        string `json:"address" yaml:"address"`
	TempRoot       string `json:"temp_root" yaml:"temp_root"`
	Debug          bool   `json:"debug" yaml:"debug"`
	SiteTitle      string `json:"site_title" yaml:"site_title"`
	GatewayHost    string `json:"gateway_host" yaml:"gateway_host"`
	IPFSBin        string `json:"ipfs_bin" yaml:"ipfs_bin"`
	PublishTimeout string `json:"publish_timeout" yaml:"publish_timeout"`
	MaxBodyBytes   int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
	Retention      string `json:"retention" yaml:"retention"`
	RetentionDelay string `json:"retention_delay,omitempty" yaml:"retention_delay,omitempty"`
	ArchiveBackend string `json:"archive_backend,omitempty" yaml:"archive_backend,omitempty"`
	ArchivePath    string `json:"archive_path,omitempty" yaml:"archive_path,omitempty"`
	NotifyType     string `json:"notify_type,omitempty" yaml:"notify_type,omitempty"`
	NotifyStream   string `json:"notify_stream,omitempty" yaml:"notify_stream,omitempty"`
	NotifySigned   bool   `json:"notify_signed,omitempty" yaml:"notify_signed,omitempty"`
}

// NewSettingsView builds a SettingsView. Notifier URLs, headers and
// secrets are left out because they may carry credentials.
func NewSettingsView(s config.Settings) SettingsView {
	v := SettingsView{
		Address:        s.Addr(),
		TempRoot:       s.TempRoot,
		Debug:          s.Debug,
		SiteTitle:      s.SiteTitle,
		GatewayHost:    s.GatewayHost,
		IPFSBin:        s.IPFSBin,
		PublishTimeout: s.PublishTimeout.String(),
		MaxBodyBytes:   s.MaxBodyBytes,
		Retention:      string(s.Retention),
		ArchiveBackend: s.Archive.Backend,
		ArchivePath:    s.Archive.Path,
		NotifyType:     s.Notify.Type,
		NotifyStream:   s.Notify.Stream,
		NotifySigned:   s.Notify.Secret != "",
	}
	if s.Retention == workspace.RetentionDelay {
		v.RetentionDelay = s.RetentionDelay.String()
	}
	return v
}

func durationOr(d config.Duration, fallback time.Duration) time.Duration {
	if d.Duration > 0 {
		return d.Duration
	}
	return fallback
}
