package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Dir != dir || cfg.Sink.Kind != "display" || cfg.Video.Width != 192 || !cfg.History.Enabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Exists() {
		t.Fatal("Exists on a missing file")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	cfg := Default()
	cfg.Dir = dir
	cfg.Video.FPS = 15
	cfg.Sensor.Gated = true
	cfg.History.TTL = "2h"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !cfg.Exists() {
		t.Fatal("config file not written")
	}

	got, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if got.Video.FPS != 15 || !got.Sensor.Gated {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	ttl, err := got.HistoryTTL()
	if err != nil || ttl != 2*time.Hour {
		t.Fatalf("HistoryTTL = %v, %v", ttl, err)
	}
}

func TestLoadPartial(t *testing.T) {
	dir := t.TempDir()
	data := "video:\n  width: 64\nsink:\n  kind: log\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Video.Width != 64 || cfg.Video.Height != 192 {
		t.Errorf("video=%+v", cfg.Video)
	}
	if cfg.Sink.Kind != "log" {
		t.Errorf("sink kind=%q", cfg.Sink.Kind)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("video: [\n"), 0644)
	if _, err := LoadFrom(dir); err == nil {
		t.Fatal("expected parse error")
	}

	cfg := Default()
	cfg.History.TTL = "soon"
	if _, err := cfg.HistoryTTL(); err == nil {
		t.Fatal("expected ttl error")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VSISTREAM_CONFIG_DIR", dir)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dir != dir {
		t.Fatalf("dir=%q, want %q", cfg.Dir, dir)
	}
}
