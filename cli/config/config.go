package config

import (
	"fmt"
	"time"
)

// Config represents an ipfs-publish.yaml configuration file.
// All values are optional. File values override the environment and
// CLI flags always override file values. PublishTimeout is a pointer so
// that an explicit 0s, which disables the bound, differs from an absent key.
type Config struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	TempRoot       string          `yaml:"temp_root"`
	Debug          *bool           `yaml:"debug,omitempty"`
	SiteTitle      string          `yaml:"site_title"`
	GatewayHost    string          `yaml:"gateway_host"`
	IPFSBin        string          `yaml:"ipfs_bin"`
	PublishTimeout *Duration       `yaml:"publish_timeout,omitempty"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	Retention      RetentionConfig `yaml:"retention"`
	Archive        ArchiveConfig   `yaml:"archive"`
	Notify         NotifyConfig    `yaml:"notify"`
}

// RetentionConfig selects what happens to a workspace after a successful publish.
type RetentionConfig struct {
	Mode  string   `yaml:"mode"`
	Delay Duration `yaml:"delay"`
}

// ArchiveConfig holds archive storage settings.
type ArchiveConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// NotifyConfig holds event notifier settings. Secret and Headers apply to
// webhooks; Channel, Stream and MaxLen apply to redis.
type NotifyConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Channel string            `yaml:"channel,omitempty"`
	Stream  string            `yaml:"stream,omitempty"`
	MaxLen  int64             `yaml:"max_len,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
