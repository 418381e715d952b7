package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/ipfs-publish/publisher"
	"github.com/pithecene-io/ipfs-publish/workspace"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `host: 127.0.0.1
port: 8080
temp_root: /var/tmp/ipfs-publish
debug: true
site_title: My Uploads
gateway_host: dweb.link
ipfs_bin: /usr/local/bin/ipfs
publish_timeout: 90s
max_body_bytes: 1048576

retention:
  mode: delay
  delay: 10m

archive:
  backend: s3
  path: my-bucket/ipfs
  region: us-east-1
  endpoint: http://localhost:9000
  s3_path_style: true

notify:
  type: webhook
  url: https://hooks.example.com/ipfs
  secret: hush
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 5
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "host", cfg.Host, "127.0.0.1")
	assertEqual(t, "port", strconv.Itoa(cfg.Port), "8080")
	assertEqual(t, "temp_root", cfg.TempRoot, "/var/tmp/ipfs-publish")
	if cfg.Debug == nil || !*cfg.Debug {
		t.Errorf("debug: got %v, want true", cfg.Debug)
	}
	assertEqual(t, "site_title", cfg.SiteTitle, "My Uploads")
	assertEqual(t, "gateway_host", cfg.GatewayHost, "dweb.link")
	assertEqual(t, "ipfs_bin", cfg.IPFSBin, "/usr/local/bin/ipfs")
	if cfg.PublishTimeout == nil || cfg.PublishTimeout.Duration != 90*time.Second {
		t.Errorf("publish_timeout: got %v, want 90s", cfg.PublishTimeout)
	}
	if cfg.MaxBodyBytes != 1048576 {
		t.Errorf("max_body_bytes: got %d, want 1048576", cfg.MaxBodyBytes)
	}

	assertEqual(t, "retention.mode", cfg.Retention.Mode, "delay")
	if cfg.Retention.Delay.Duration != 10*time.Minute {
		t.Errorf("retention.delay: got %v, want 10m", cfg.Retention.Delay.Duration)
	}

	assertEqual(t, "archive.backend", cfg.Archive.Backend, "s3")
	assertEqual(t, "archive.path", cfg.Archive.Path, "my-bucket/ipfs")
	assertEqual(t, "archive.region", cfg.Archive.Region, "us-east-1")
	assertEqual(t, "archive.endpoint", cfg.Archive.Endpoint, "http://localhost:9000")
	if !cfg.Archive.S3PathStyle {
		t.Error("archive.s3_path_style: got false, want true")
	}

	assertEqual(t, "notify.type", cfg.Notify.Type, "webhook")
	assertEqual(t, "notify.url", cfg.Notify.URL, "https://hooks.example.com/ipfs")
	assertEqual(t, "notify.secret", cfg.Notify.Secret, "hush")
	assertEqual(t, "notify.headers.Authorization", cfg.Notify.Headers["Authorization"], "Bearer token123")
	if cfg.Notify.Timeout.Duration != 10*time.Second {
		t.Errorf("notify.timeout: got %v, want 10s", cfg.Notify.Timeout.Duration)
	}
	if cfg.Notify.Retries == nil || *cfg.Notify.Retries != 5 {
		t.Errorf("notify.retries: got %v, want 5", cfg.Notify.Retries)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/ipfs-publish.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "host: [unterminated\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "host", cfg.Host, "")
	if cfg.Debug != nil {
		t.Errorf("debug: expected nil, got %v", *cfg.Debug)
	}
}

func TestLoad_WhitespaceOnlyConfig(t *testing.T) {
	path := writeTemp(t, "  \n\n  \n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("IPFS_PUBLISH_TEST_BUCKET", "uploads-bucket")

	yaml := `archive:
  backend: s3
  path: ${IPFS_PUBLISH_TEST_BUCKET}/archive
  region: ${IPFS_PUBLISH_TEST_REGION:-eu-west-1}
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "archive.path", cfg.Archive.Path, "uploads-bucket/archive")
	assertEqual(t, "archive.region", cfg.Archive.Region, "eu-west-1")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `host: 127.0.0.1
bogus_key: should_fail
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `archive:
  backend: fs
  path: ./data
  unknown_field: bad
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_NotifyRetriesZero(t *testing.T) {
	yaml := `notify:
  type: redis
  url: redis://localhost:6379
  retries: 0
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Notify.Retries == nil {
		t.Fatal("retries: expected explicit 0, got nil")
	}
	if *cfg.Notify.Retries != 0 {
		t.Errorf("retries: got %d, want 0", *cfg.Notify.Retries)
	}
	assertEqual(t, "notify.channel", cfg.Notify.Channel, "")
}

func TestLoad_NotifyRedisStream(t *testing.T) {
	yaml := `notify:
  type: redis
  url: redis://localhost:6379/0
  stream: ipfs-publish:events
  max_len: 10000
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "notify.stream", cfg.Notify.Stream, "ipfs-publish:events")
	if cfg.Notify.MaxLen != 10000 {
		t.Errorf("notify.max_len: got %d, want 10000", cfg.Notify.MaxLen)
	}
}

func TestLoad_NotifyRetriesOmitted(t *testing.T) {
	yaml := `notify:
  type: webhook
  url: https://example.com
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Notify.Retries != nil {
		t.Errorf("retries: expected nil, got %d", *cfg.Notify.Retries)
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	yaml := `publish_timeout: not-a-duration
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error should mention invalid duration, got: %v", err)
	}
}

func TestDuration_EmptyIsZero(t *testing.T) {
	yaml := `notify:
  type: webhook
  url: https://example.com
  timeout: ""
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Notify.Timeout.Duration != 0 {
		t.Errorf("expected zero duration, got %v", cfg.Notify.Timeout.Duration)
	}
}

func TestDuration_Compound(t *testing.T) {
	path := writeTemp(t, "retention:\n  mode: delay\n  delay: 1h30m\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Retention.Delay.Duration != 90*time.Minute {
		t.Errorf("expected 1h30m, got %v", cfg.Retention.Delay.Duration)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	s, err := FromEnv(envMap(nil))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	assertEqual(t, "host", s.Host, "0.0.0.0")
	assertEqual(t, "addr", s.Addr(), "0.0.0.0:9000")
	assertEqual(t, "ipfs_bin", s.IPFSBin, "ipfs")
	assertEqual(t, "gateway_host", s.GatewayHost, "ipfs.io")
	assertEqual(t, "retention", string(s.Retention), string(workspace.RetentionRetain))
	if s.Debug {
		t.Error("debug: got true, want false")
	}
}

func TestFromEnv_Precedence(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantHost  string
		wantPort  int
		wantDebug bool
	}{
		{
			name:     "generic names",
			env:      map[string]string{"HOST": "10.0.0.1", "PORT": "8081"},
			wantHost: "10.0.0.1",
			wantPort: 8081,
		},
		{
			name: "prefixed names win",
			env: map[string]string{
				"HOST": "10.0.0.1", "IPFS_PUBLISH_HOST": "10.0.0.2",
				"PORT": "8081", "IPFS_PUBLISH_PORT": "8082",
			},
			wantHost: "10.0.0.2",
			wantPort: 8082,
		},
		{
			name:     "empty prefixed falls through",
			env:      map[string]string{"IPFS_PUBLISH_HOST": " ", "HOST": "10.0.0.3"},
			wantHost: "10.0.0.3",
			wantPort: DefaultPort,
		},
		{
			name:      "debug truthy",
			env:       map[string]string{"DEBUG": "yes"},
			wantHost:  DefaultHost,
			wantPort:  DefaultPort,
			wantDebug: true,
		},
		{
			name:      "prefixed debug wins",
			env:       map[string]string{"IPFS_PUBLISH_DEBUG": "off", "DEBUG": "1"},
			wantHost:  DefaultHost,
			wantPort:  DefaultPort,
			wantDebug: false,
		},
		{
			name:      "development env enables debug",
			env:       map[string]string{"APP_ENV": "development", "DEBUG": "0"},
			wantHost:  DefaultHost,
			wantPort:  DefaultPort,
			wantDebug: true,
		},
		{
			name:     "production env",
			env:      map[string]string{"APP_ENV": "production"},
			wantHost: DefaultHost,
			wantPort: DefaultPort,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := FromEnv(envMap(tt.env))
			if err != nil {
				t.Fatalf("FromEnv failed: %v", err)
			}
			assertEqual(t, "host", s.Host, tt.wantHost)
			if s.Port != tt.wantPort {
				t.Errorf("port: got %d, want %d", s.Port, tt.wantPort)
			}
			if s.Debug != tt.wantDebug {
				t.Errorf("debug: got %v, want %v", s.Debug, tt.wantDebug)
			}
		})
	}
}

func TestFromEnv_InvalidPort(t *testing.T) {
	for _, v := range []string{"http", "-1", "70000"} {
		if _, err := FromEnv(envMap(map[string]string{"PORT": v})); err == nil {
			t.Errorf("PORT=%q: expected error", v)
		}
	}
}

func TestResolve_FileOverridesEnv(t *testing.T) {
	path := writeTemp(t, `port: 7000
debug: false
retention:
  mode: delete
`)
	s, err := Resolve(path, envMap(map[string]string{
		"PORT":  "8000",
		"HOST":  "10.1.1.1",
		"DEBUG": "true",
	}))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if s.Port != 7000 {
		t.Errorf("port: got %d, want 7000", s.Port)
	}
	assertEqual(t, "host", s.Host, "10.1.1.1")
	if s.Debug {
		t.Error("debug: file false should override env true")
	}
	assertEqual(t, "retention", string(s.Retention), "delete")
}

func TestResolve_NoFile(t *testing.T) {
	s, err := Resolve("", envMap(map[string]string{"IPFS_PUBLISH_PORT": "9100"}))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if s.Port != 9100 {
		t.Errorf("port: got %d, want 9100", s.Port)
	}
}

func TestResolve_PublishTimeout(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want time.Duration
	}{
		{"absent keeps default", "host: 127.0.0.1\n", publisher.DefaultTimeout},
		{"explicit zero disables", "publish_timeout: 0s\n", 0},
		{"null keeps default", "publish_timeout:\n", publisher.DefaultTimeout},
		{"set", "publish_timeout: 45s\n", 45 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Resolve(writeTemp(t, tt.yaml), envMap(nil))
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if s.PublishTimeout != tt.want {
				t.Errorf("publish timeout: got %v, want %v", s.PublishTimeout, tt.want)
			}
		})
	}
}

func TestResolve_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"retention mode", "retention:\n  mode: forever\n", "invalid retention mode"},
		{"port", "port: 70000\n", "invalid port"},
		{"max body", "max_body_bytes: -1\n", "max_body_bytes"},
		{"publish timeout", "publish_timeout: -5s\n", "publish_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(writeTemp(t, tt.yaml), envMap(nil))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should contain %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "On", " on "} {
		if !Truthy(v) {
			t.Errorf("Truthy(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"", "0", "false", "no", "off", "enabled"} {
		if Truthy(v) {
			t.Errorf("Truthy(%q) = true, want false", v)
		}
	}
}

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ipfs-publish.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
