package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeSample creates a file the fake engine opens as its sample document
func writeSample(t *testing.T) string {
	t.Helper()
	t.Setenv("PDF_ENGINE", "fake")
	t.Setenv("LOG_LEVEL", "error")
	path := filepath.Join(t.TempDir(), "sample.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7\n"), 0644); err != nil {
		t.Fatalf("Failed to write sample: %v", err)
	}
	return path
}

func TestInfo(t *testing.T) {
	in := writeSample(t)
	var stdout, stderr bytes.Buffer
	if code := run(t.Context(), []string{"-in", in, "-page", "2", "-info"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	var out struct {
		Document struct {
			PageCount int `json:"pageCount"`
		} `json:"document"`
		Page struct {
			Width  float64 `json:"width"`
			Rotate int     `json:"rotate"`
		} `json:"page"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, stdout.String())
	}
	if out.Document.PageCount != 2 || out.Page.Width != 572 || out.Page.Rotate != 90 {
		t.Errorf("Unexpected info %+v", out)
	}
}

func TestFindAndWords(t *testing.T) {
	in := writeSample(t)
	var stdout, stderr bytes.Buffer
	if code := run(t.Context(), []string{"-in", in, "-find", "World"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	var matches []map[string]float64
	if err := json.Unmarshal(stdout.Bytes(), &matches); err != nil || len(matches) != 1 {
		t.Errorf("Expected one match, got %s (%v)", stdout.String(), err)
	}

	stdout.Reset()
	if code := run(t.Context(), []string{"-in", in, "-words"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"Hello"`) {
		t.Errorf("Expected the words of page 1, got %s", stdout.String())
	}
}

func TestRender(t *testing.T) {
	in := writeSample(t)

	t.Run("Stdout", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if code := run(t.Context(), []string{"-in", in, "-ppi", "36", "-slice", "0,0,0.5,0.5"}, &stdout, &stderr); code != 0 {
			t.Fatalf("exit code %d: %s", code, stderr.String())
		}
		img, err := png.Decode(&stdout)
		if err != nil {
			t.Fatalf("Output is not a PNG: %v", err)
		}
		if size := img.Bounds().Size(); size.X != 153 || size.Y != 198 {
			t.Errorf("Unexpected slice size %v", size)
		}
	})

	t.Run("File async", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "page.jpg")
		var stdout, stderr bytes.Buffer
		args := []string{"-in", in, "-format", "jpeg", "-quality", "80", "-out", out, "-async"}
		if code := run(t.Context(), args, &stdout, &stderr); code != 0 {
			t.Fatalf("exit code %d: %s", code, stderr.String())
		}
		if st, err := os.Stat(out); err != nil || st.Size() == 0 {
			t.Errorf("Expected a JPEG file, got %v", err)
		}
		if stdout.Len() != 0 {
			t.Error("Nothing should be written to stdout for file renders")
		}
	})

	errorCases := []struct {
		name string
		args []string
		msg  string
	}{
		{"quality", []string{"-format", "jpeg", "-quality", "101"}, "'quality' not in 0 - 100 interval"},
		{"format", []string{"-format", "bmp"}, "Unsupported compression method"},
		{"ppi", []string{"-ppi", "0"}, "'PPI' value must be greater then 0"},
		{"page", []string{"-page", "5"}, "Page number out of bounds."},
		{"slice", []string{"-slice", "0,0,1"}, "Slice must be an object"},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(t.Context(), append([]string{"-in", in}, tt.args...), &stdout, &stderr); code != 1 {
				t.Fatalf("Expected exit code 1, got %d", code)
			}
			if !strings.Contains(stderr.String(), tt.msg) {
				t.Errorf("stderr %q does not mention %q", stderr.String(), tt.msg)
			}
		})
	}
}

func TestMissingInput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer
	if code := run(t.Context(), nil, &stdout, &stderr); code != 2 {
		t.Errorf("Expected usage exit code 2, got %d", code)
	}
	if code := run(t.Context(), []string{"-in", filepath.Join(t.TempDir(), "none.pdf"), "-engine", "fake"}, &stdout, &stderr); code != 1 {
		t.Errorf("Expected exit code 1 for a missing file, got %d", code)
	}
	if !strings.Contains(stderr.String(), "fopen error") {
		t.Errorf("Unexpected stderr %q", stderr.String())
	}
}
