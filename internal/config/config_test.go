package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSONOverridesFlagsFields(t *testing.T) {
	cfg := Default()
	cfg.Path = "/var/log/app.log"
	cfg.Port = 9999

	path := writeTempConfig(t, `{"port":4000,"quiet":true,"verbosity":2}`)

	if err := LoadJSON(&cfg, path); err != nil {
		t.Fatalf("LoadJSON returned error: %v", err)
	}

	if cfg.Port != 4000 {
		t.Fatalf("expected port overridden to 4000, got %d", cfg.Port)
	}
	if !cfg.Quiet {
		t.Fatalf("expected quiet to be true")
	}
	if cfg.Verbosity != 2 {
		t.Fatalf("expected verbosity 2, got %d", cfg.Verbosity)
	}
	// Path wasn't present in the JSON, so the flag-populated value survives.
	if cfg.Path != "/var/log/app.log" {
		t.Fatalf("expected path to survive unset json field, got %q", cfg.Path)
	}
}

func TestLoadJSONMissingFile(t *testing.T) {
	cfg := Default()
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := LoadJSON(&cfg, missing); err == nil {
		t.Fatalf("LoadJSON expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Path: "f", Port: 80, PipeCapacity: 1024}, false},
		{"no path", Config{Port: 80, PipeCapacity: 1024}, true},
		{"bad port low", Config{Path: "f", Port: 0, PipeCapacity: 1024}, true},
		{"bad port high", Config{Path: "f", Port: 70000, PipeCapacity: 1024}, true},
		{"bad pipe capacity", Config{Path: "f", Port: 80, PipeCapacity: 0}, true},
	}
	for _, c := range cases {
		err := c.cfg.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
