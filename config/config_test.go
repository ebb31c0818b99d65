package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckDirectory_ValidPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	err := CheckDirectory(t.TempDir(), logger)
	if err != nil {
		t.Errorf("Expected no error with valid directory, got: %v", err)
	}
}

func TestCheckDirectory_InvalidPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	err := CheckDirectory("/nonexistent/path/to/renders", logger)
	if err == nil {
		t.Error("Expected error with invalid path, got nil")
	}
	t.Logf("Correctly returned error for invalid path: %v", err)
}

func TestCheckDirectory_File(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if err := CheckDirectory(file, logger); err == nil {
		t.Error("Expected error for a regular file, got nil")
	}
}

func TestLoadRenderConfigDefaults(t *testing.T) {
	for _, key := range []string{"PDF_ENGINE", "RENDER_ASYNC_MODE", "RENDER_MAX_PIXELS", "RENDER_MAX_PARALLEL", "RENDER_DEFAULT_PPI", "PDFIUM_INSTANCE_TIMEOUT_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg := loadRenderConfig()
	want := RenderConfig{
		Engine:          "pdfium",
		AsyncMode:       "auto",
		MaxPixels:       100_000_000,
		MaxParallel:     4,
		DefaultPPI:      72,
		InstanceTimeout: 30 * time.Second,
	}
	if cfg != want {
		t.Errorf("loadRenderConfig() = %+v, want %+v", cfg, want)
	}
}

func TestLoadRenderConfigFromEnv(t *testing.T) {
	t.Setenv("PDF_ENGINE", "mupdf")
	t.Setenv("RENDER_ASYNC_MODE", "deferred")
	t.Setenv("RENDER_MAX_PIXELS", "5000")
	t.Setenv("RENDER_DEFAULT_PPI", "150")
	t.Setenv("PDFIUM_INSTANCE_TIMEOUT_SECONDS", "5")
	t.Setenv("RENDER_MAX_PARALLEL", "not-a-number")

	cfg := loadRenderConfig()
	if cfg.Engine != "mupdf" || cfg.AsyncMode != "deferred" {
		t.Errorf("Unexpected engine settings %+v", cfg)
	}
	if cfg.MaxPixels != 5000 || cfg.DefaultPPI != 150 || cfg.InstanceTimeout != 5*time.Second {
		t.Errorf("Unexpected numeric settings %+v", cfg)
	}
	if cfg.MaxParallel != 4 {
		t.Errorf("Invalid RENDER_MAX_PARALLEL should fall back to 4, got %d", cfg.MaxParallel)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PDFPAGE_TEST_BOOL", "true")
	t.Setenv("PDFPAGE_TEST_FLOAT", "-3")

	if !getEnvBool("PDFPAGE_TEST_BOOL", false) {
		t.Error("getEnvBool should read true")
	}
	if getEnvBool("PDFPAGE_TEST_MISSING", true) != true {
		t.Error("getEnvBool should fall back to the default")
	}
	if getEnvFloat("PDFPAGE_TEST_FLOAT", 72) != 72 {
		t.Error("getEnvFloat should reject non-positive values")
	}
	if getEnvDuration("PDFPAGE_TEST_MISSING", time.Minute) != time.Minute {
		t.Error("getEnvDuration should fall back to the default")
	}
}
