// Package attemptlog writes one debug file per LLM request attempt.
//
// Each file is named llm_request_<yyyymmdd_hhmmss_micro>_<seq>.log and holds
// titled sections (request, raw response, count audit, errors) in the order
// they were recorded. Files are write-only: nothing in mclokit reads them
// back. Write failures are remembered on the record and surfaced by Close,
// never panicking or blocking translation.
package attemptlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Dir creates attempt records under a directory.
type Dir struct {
	path string
	seq  atomic.Uint64
	now  func() time.Time

	once    sync.Once
	initErr error
}

// New returns a Dir rooted at path. The directory is created lazily on the
// first record.
func New(path string) *Dir {
	return &Dir{path: path, now: time.Now}
}

// Path returns the log directory.
func (d *Dir) Path() string {
	return d.path
}

// Record is a single attempt's log file.
type Record struct {
	mu   sync.Mutex
	name string
	f    *os.File
	err  error
}

// Begin opens a new record. The timestamp plus a per-Dir sequence number
// keeps names unique across concurrent attempts.
func (d *Dir) Begin() *Record {
	d.once.Do(func() {
		d.initErr = os.MkdirAll(d.path, 0o755)
	})
	now := d.now()
	ts := fmt.Sprintf("%s_%06d", now.Format("20060102_150405"), now.Nanosecond()/1000)
	name := filepath.Join(d.path, fmt.Sprintf("llm_request_%s_%04d.log", ts, d.seq.Add(1)))
	r := &Record{name: name}
	if d.initErr != nil {
		r.err = fmt.Errorf("creating log directory: %w", d.initErr)
		return r
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		r.err = err
		return r
	}
	r.f = f
	return r
}

// Name returns the record's file path.
func (r *Record) Name() string {
	return r.name
}

// Section appends a titled block. Errors are kept for Close.
func (r *Record) Section(title string, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil || r.err != nil {
		return
	}
	if _, err := fmt.Fprintf(r.f, "=== %s ===\n%s\n\n", title, body); err != nil {
		r.err = err
	}
}

// Close flushes the record and returns the first error seen while writing.
func (r *Record) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f != nil {
		if err := r.f.Close(); err != nil && r.err == nil {
			r.err = err
		}
		r.f = nil
	}
	if r.err != nil {
		return fmt.Errorf("attempt log %s: %w", r.name, r.err)
	}
	return nil
}
