package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("server:\n  endpoint: https://example.com/Microsoft-Server-ActiveSync\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/easync.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "easync.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "easync.yaml")
	os.WriteFile(path, []byte("data_dir: ./data\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "easync.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "easync.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "easync.yaml")
	os.WriteFile(path, []byte("server:\n  endpoint: https://example.com/Microsoft-Server-ActiveSync\n  username: alice\n  password: ${EASYNC_TEST_PASSWORD}\n"), 0600)
	os.Setenv("EASYNC_TEST_PASSWORD", "secret123")
	defer os.Unsetenv("EASYNC_TEST_PASSWORD")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.Server.Password, "secret123")
	}
}

func TestLoad_Collections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "easync.yaml")
	os.WriteFile(path, []byte("collections:\n  - class: Email\n    server_id: \"5\"\n  - class: Calendar\n    window_size: 50\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.Collections) != 2 {
		t.Fatalf("got %d collections, want 2", len(cfg.Collections))
	}
	if cfg.Collections[0].WindowSize != 25 {
		t.Errorf("Collections[0].WindowSize = %d, want default 25", cfg.Collections[0].WindowSize)
	}
	if cfg.Collections[1].WindowSize != 50 {
		t.Errorf("Collections[1].WindowSize = %d, want 50", cfg.Collections[1].WindowSize)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.Server.DeviceType != "easync" {
		t.Errorf("Server.DeviceType = %q, want easync", cfg.Server.DeviceType)
	}
	if len(cfg.Collections) != 3 {
		t.Fatalf("got %d default collections, want 3", len(cfg.Collections))
	}
}

func TestValidate_UnknownCollectionClass(t *testing.T) {
	cfg := Default()
	cfg.Collections = []CollectionConfig{{Class: "Tasks", WindowSize: 25}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for unknown collection class")
	}
	if !strings.Contains(err.Error(), "Tasks") {
		t.Errorf("error should mention Tasks, got: %v", err)
	}
}

func TestValidate_WindowSizeOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Collections = []CollectionConfig{{Class: "Email", WindowSize: 1000}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for window_size out of range")
	}
	if !strings.Contains(err.Error(), "window_size") {
		t.Errorf("error should mention window_size, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for invalid log level")
	}
}

func TestServerConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want bool
	}{
		{"all set", ServerConfig{Endpoint: "https://x", Username: "a", Password: "b"}, true},
		{"no endpoint", ServerConfig{Username: "a", Password: "b"}, false},
		{"no username", ServerConfig{Endpoint: "https://x", Password: "b"}, false},
		{"no password", ServerConfig{Endpoint: "https://x", Username: "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}
