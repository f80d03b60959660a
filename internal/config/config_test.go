package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "named.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		envValue string
		want     string
	}{
		{"flag takes precedence", "/path/from/flag", "/path/from/env", "/path/from/flag"},
		{"env when no flag", "", "/path/from/env", "/path/from/env"},
		{"empty when neither", "", "", ""},
		{"whitespace flag", "  ", "/path/from/env", "/path/from/env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HYDRANAMED_CONFIG", tt.envValue)
			got := ResolveConfigPath(tt.flag)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Port())
	}
	if !cfg.Recursion() {
		t.Error("expected recursion enabled by default")
	}
	if cfg.AuthNXDomain() {
		t.Error("expected auth_nxdomain disabled by default")
	}
	if cfg.TransferFormat() != "one-answer" {
		t.Errorf("unexpected transfer format %q", cfg.TransferFormat())
	}
	if cfg.QueryACL() != nil || cfg.RecursionACL() != nil || cfg.TransferACL() != nil {
		t.Error("expected absent ACLs")
	}
	if _, ok := cfg.TransfersOut(); ok {
		t.Error("expected transfers_out absent")
	}
	if cfg.CleaningInterval() != 3600 {
		t.Errorf("expected cleaning interval 3600, got %d", cfg.CleaningInterval())
	}
	if cfg.ResolverTasks() != 31 {
		t.Errorf("expected 31 resolver tasks, got %d", cfg.ResolverTasks())
	}
	if _, ok := cfg.VersionText(); ok {
		t.Error("expected version absent")
	}
	listen := cfg.ListenOn()
	if len(listen) != 1 || listen[0].Address != "" || listen[0].Port != DefaultPort {
		t.Errorf("unexpected default listen-on %v", listen)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
options:
  directory: /var/named
  version: "not telling"
  recursion: false
  auth_nxdomain: true
  transfer_format: many-answers
  allow_query: ["10.0.0.0/8", "!10.1.0.0/16"]
  transfers_out: 2
  tcp_clients: 0
  port: 5353
  listen_on:
    - address: 127.0.0.1
    - address: "::1"
      port: 5454
  cleaning_interval: 60

logging:
  level: debug

keys:
  - name: xfer-key
    algorithm: hmac-sha256
    secret: c2VjcmV0

zones:
  - name: example.com
    type: master
    file: example.com.db

views:
  - name: internal
    class: IN
    zones:
      - name: corp.example
        type: slave
        masters: ["192.0.2.1"]
      - name: lab.example
        type: master
        file: lab.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("expected path recorded, got %q", cfg.Path)
	}
	if cfg.Directory() != "/var/named" {
		t.Errorf("unexpected directory %q", cfg.Directory())
	}
	if v, ok := cfg.VersionText(); !ok || v != "not telling" {
		t.Errorf("unexpected version %q %v", v, ok)
	}
	if cfg.Recursion() {
		t.Error("expected recursion disabled")
	}
	if !cfg.AuthNXDomain() {
		t.Error("expected auth_nxdomain enabled")
	}
	if cfg.TransferFormat() != "many-answers" {
		t.Errorf("unexpected transfer format %q", cfg.TransferFormat())
	}
	if len(cfg.QueryACL()) != 2 {
		t.Errorf("expected 2 allow_query elements, got %v", cfg.QueryACL())
	}
	if n, ok := cfg.TransfersOut(); !ok || n != 2 {
		t.Errorf("unexpected transfers_out %d %v", n, ok)
	}
	if n, ok := cfg.TCPClients(); !ok || n != 0 {
		t.Errorf("expected explicit zero tcp_clients, got %d %v", n, ok)
	}
	listen := cfg.ListenOn()
	if len(listen) != 2 || listen[0].Port != 5353 || listen[1].Port != 5454 {
		t.Errorf("unexpected listen-on %v", listen)
	}
	if cfg.CleaningInterval() != 60 {
		t.Errorf("unexpected cleaning interval %d", cfg.CleaningInterval())
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Logging.Level)
	}
	if len(cfg.Keys) != 1 || cfg.Keys[0].Algorithm != "hmac-sha256" {
		t.Errorf("unexpected keys %v", cfg.Keys)
	}
	if len(cfg.FindViews("internal")) != 1 || cfg.FindViews("missing") != nil {
		t.Error("FindViews mismatch")
	}
	if c := cfg.FindViews("internal")[0].ClassName(); c != "IN" {
		t.Errorf("expected default view class IN, got %s", c)
	}
}

func TestZoneStatementsOrder(t *testing.T) {
	cfg, err := Parse([]byte(`
zones:
  - name: a.example
  - name: b.example
views:
  - name: v1
    class: CH
    zones:
      - name: c.example
  - name: v2
    zones:
      - name: d.example
        class: HS
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	type seen struct{ view, zone, class string }
	var got []seen
	for stmt := range cfg.ZoneStatements() {
		got = append(got, seen{stmt.ViewName(), stmt.Zone.Name, stmt.ClassName()})
	}
	want := []seen{
		{"_default", "a.example", "IN"},
		{"_default", "b.example", "IN"},
		{"v1", "c.example", "CH"},
		{"v2", "d.example", "HS"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestZoneStatementsStopsEarly(t *testing.T) {
	cfg, err := Parse([]byte("zones:\n  - name: a.example\n  - name: b.example\n"))
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range cfg.ZoneStatements() {
		n++
		break
	}
	if n != 1 {
		t.Errorf("expected iteration to stop after 1, got %d", n)
	}
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path/to/named.yaml")
	if !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "options:\n  port: [invalid")
	_, err := Load(path)
	if !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "options:\n  recursoin: true\n")
	_, err := Load(path)
	if !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse for misspelled key, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"port out of range", "options:\n  port: 70000\n"},
		{"bad transfer format", "options:\n  transfer_format: some-answers\n"},
		{"unnamed view", "views:\n  - class: IN\n"},
		{"api without port", "api:\n  enabled: true\n"},
		{"negative resolver tasks", "options:\n  resolver_tasks: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HYDRANAMED_PORT", "8053")
	t.Setenv("HYDRANAMED_DIRECTORY", "/custom/zones")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 8053 {
		t.Errorf("expected port 8053, got %d", cfg.Port())
	}
	if cfg.Directory() != "/custom/zones" {
		t.Errorf("expected directory override, got %s", cfg.Directory())
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("expected log level WARN, got %s", cfg.Logging.Level)
	}
}
