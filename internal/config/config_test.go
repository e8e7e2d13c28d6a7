package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/eniz1806/ironclad/internal/fault"
	"github.com/eniz1806/ironclad/internal/ioguard"
)

func chdirT(t *testing.T, dir string) {
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	chdirT(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDir != "storage" || cfg.IOMode != "strict" ||
		cfg.DataShards != 4 || cfg.ParityShards != 4 || cfg.LogLevel != "info" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ironclad.yaml")
	yaml := "storage_dir: /data/iron\nio_mode: fast\ndata_shards: 6\nparity_shards: 3\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDir != "/data/iron" || cfg.IOMode != "fast" ||
		cfg.DataShards != 6 || cfg.ParityShards != 3 || cfg.LogLevel != "debug" {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ironclad.yaml")
	if err := os.WriteFile(path, []byte("io_mode: fast\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IOMode != "fast" || cfg.DataShards != 4 {
		t.Errorf("partial override wrong: %+v", cfg)
	}
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, fault.ErrBadInput) {
		t.Errorf("expected ErrBadInput, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirT(t, t.TempDir())
	t.Setenv("IRONCLAD_IO_MODE", "fast")
	t.Setenv("IRONCLAD_DATA_SHARDS", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IOMode != "fast" || cfg.DataShards != 8 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.StorageDir = "" },
		func(c *Config) { c.IOMode = "turbo" },
		func(c *Config) { c.DataShards = 0 },
		func(c *Config) { c.ParityShards = 0 },
		func(c *Config) { c.DataShards, c.ParityShards = 200, 57 },
		func(c *Config) { c.LogLevel = "verbose" },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, fault.ErrBadInput) {
			t.Errorf("case %d: expected ErrBadInput, got %v", i, err)
		}
	}
}

func TestIOOptions(t *testing.T) {
	cfg := Default()
	if got := cfg.IOOptions(); got != ioguard.Strict() {
		t.Errorf("strict mapping wrong: %+v", got)
	}
	cfg.IOMode = "fast"
	if got := cfg.IOOptions(); got != ioguard.Fast() {
		t.Errorf("fast mapping wrong: %+v", got)
	}
}
