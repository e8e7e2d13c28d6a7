package main

import (
	"errors"
	"testing"

	"github.com/eniz1806/ironclad/internal/config"
	"github.com/eniz1806/ironclad/internal/fault"
)

func TestParseArgs_DefaultsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataShards = 6
	cfg.ParityShards = 3

	positional, opts, err := parseArgs(cfg, []string{"input.txt"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if len(positional) != 1 || positional[0] != "input.txt" {
		t.Errorf("positional: %v", positional)
	}
	if opts.dataShards != 6 || opts.parityShards != 3 || opts.dataset != "default" {
		t.Errorf("opts: %+v", opts)
	}
}

func TestParseArgs_FlagsOverride(t *testing.T) {
	cfg := config.Default()
	positional, opts, err := parseArgs(cfg, []string{"3", "text", "--data", "8", "-p", "2", "--dataset", "mine"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if len(positional) != 2 {
		t.Errorf("positional: %v", positional)
	}
	if opts.dataShards != 8 || opts.parityShards != 2 || opts.dataset != "mine" {
		t.Errorf("opts: %+v", opts)
	}
}

func TestParseArgs_Rejections(t *testing.T) {
	cfg := config.Default()
	for _, args := range [][]string{
		{"--data"},
		{"--data", "four"},
		{"--bogus", "x"},
	} {
		if _, _, err := parseArgs(cfg, args); !errors.Is(err, fault.ErrBadInput) {
			t.Errorf("args %v: expected ErrBadInput, got %v", args, err)
		}
	}
}

func TestDatasetPath(t *testing.T) {
	cfg := config.Default()
	cfg.StorageDir = "/srv/iron"

	path, err := datasetPath(cfg, "my-data_set1")
	if err != nil {
		t.Fatalf("datasetPath: %v", err)
	}
	if path != "/srv/iron/my-data_set1" {
		t.Errorf("path: %s", path)
	}

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "sp ace", "dots.dat"} {
		if _, err := datasetPath(cfg, bad); !errors.Is(err, fault.ErrBadInput) {
			t.Errorf("dataset %q: expected ErrBadInput, got %v", bad, err)
		}
	}
}
