package attemptlog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecordWritesSectionsInOrder(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "logs"))
	d.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 8000, time.UTC) }

	r := d.Begin()
	r.Section("LLM Request", []byte(`{"model":"m"}`))
	r.Section("LLM Response", []byte(`{"choices":[]}`))
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if base := filepath.Base(r.Name()); base != "llm_request_20250304_050607_000008_0001.log" {
		t.Errorf("file name = %q", base)
	}

	data, err := os.ReadFile(r.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := string(data)
	req := strings.Index(got, "=== LLM Request ===\n{\"model\":\"m\"}")
	resp := strings.Index(got, "=== LLM Response ===\n{\"choices\":[]}")
	if req < 0 || resp < 0 || req > resp {
		t.Errorf("unexpected log content:\n%s", got)
	}
}

func TestConcurrentRecordsGetDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	d := New(dir)
	fixed := time.Now()
	d.now = func() time.Time { return fixed }

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := d.Begin()
			r.Section("x", nil)
			if err := r.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 20 {
		t.Errorf("got %d log files, want 20", len(entries))
	}
}

func TestUnwritableDirReportsOnClose(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(filepath.Join(blocker, "logs")).Begin()
	r.Section("LLM Request", []byte("ignored"))
	if err := r.Close(); err == nil {
		t.Error("Close should report the directory error")
	}
}
