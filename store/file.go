package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default cache journal file name.
const FileName = "cache.yaml"

// File is a cache persisted as an append-only stream of YAML documents, one
// per Put. Loading replays the stream so the last write for a key wins.
// The journal is compacted on open once it holds more than twice as many
// documents as live entries.
type File struct {
	mu      sync.RWMutex
	path    string
	f       *os.File
	entries map[string]Entry
	records int
	torn    int
	now     func() time.Time
}

// OpenFile loads the journal at path, creating it (and its directory) when
// missing. A partial final record is cut off (see TornRecord); damage
// earlier in the journal is an error.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := &File{
		path:    path,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	if err := c.replay(); err != nil {
		return nil, err
	}
	if c.records > 2*len(c.entries) {
		if err := c.rewrite(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	c.f = f
	return c, nil
}

// Path returns the journal path.
func (c *File) Path() string {
	return c.path
}

func (c *File) replay() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", c.path, err)
	}

	docs := splitDocuments(data)
	for i, d := range docs {
		last := i == len(docs)-1
		var e Entry
		err := yaml.Unmarshal(d.body, &e)
		if err == nil && last && !bytes.HasSuffix(d.body, []byte("\n")) {
			err = errors.New("record not terminated")
		}
		if err != nil {
			if !last {
				return fmt.Errorf("parsing %s (record %d): %w", c.path, c.records+1, err)
			}
			// A write cut short leaves a partial final record.
			if err := os.Truncate(c.path, int64(d.off)); err != nil {
				return fmt.Errorf("truncating %s: %w", c.path, err)
			}
			c.torn = c.records + 1
			return nil
		}
		c.records++
		if e.Fingerprint == "" {
			continue
		}
		c.entries[cacheKey(e.Fingerprint, e.Namespace)] = e
	}
	return nil
}

type document struct {
	off  int
	body []byte
}

// splitDocuments cuts a journal at its "---" lines. Marshaled entries
// never contain an unindented "---" line, so every one marks a record.
func splitDocuments(data []byte) []document {
	var starts []int
	for i := 0; i < len(data); {
		end := bytes.IndexByte(data[i:], '\n')
		next := len(data)
		line := data[i:]
		if end >= 0 {
			line = data[i : i+end]
			next = i + end + 1
		}
		if string(bytes.TrimRight(line, "\r")) == "---" {
			starts = append(starts, i)
		}
		i = next
	}
	if len(starts) == 0 || (starts[0] > 0 && len(bytes.TrimSpace(data[:starts[0]])) > 0) {
		starts = append([]int{0}, starts...)
	}

	docs := make([]document, 0, len(starts))
	for k, off := range starts {
		end := len(data)
		if k+1 < len(starts) {
			end = starts[k+1]
		}
		if len(bytes.TrimSpace(data[off:end])) == 0 {
			continue
		}
		docs = append(docs, document{off: off, body: data[off:end]})
	}
	return docs
}

// TornRecord reports the 1-based number of a partial final record that
// OpenFile cut off the journal, or 0 when the journal was intact.
func (c *File) TornRecord() int {
	return c.torn
}

// PurgeFile empties the journal at path without reading it, so a journal
// that no longer parses can still be reset.
func PurgeFile(path string) error {
	if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncating %s: %w", path, err)
	}
	return nil
}

// rewrite replaces the journal with one document per live entry.
func (c *File) rewrite() error {
	var buf bytes.Buffer
	for _, e := range c.entries {
		if err := appendDoc(&buf, e); err != nil {
			return err
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing %s: %w", c.path, err)
	}
	c.records = len(c.entries)
	return nil
}

func appendDoc(w io.Writer, e Entry) error {
	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	if _, err := io.WriteString(w, "---\n"); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (c *File) Lookup(_ context.Context, namespace, text string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey(Fingerprint(text), namespace)]
	if !ok {
		return "", false, nil
	}
	return e.Translation, true, nil
}

func (c *File) Put(_ context.Context, e Entry) error {
	e = normalize(e, c.now)

	var buf bytes.Buffer
	if err := appendDoc(&buf, e); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return fmt.Errorf("cache %s is closed", c.path)
	}
	if _, err := c.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", c.path, err)
	}
	c.entries[cacheKey(e.Fingerprint, e.Namespace)] = e
	c.records++
	return nil
}

func (c *File) Stats(_ context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return statsOf(c.entries), nil
}

func (c *File) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f != nil {
		if err := c.f.Truncate(0); err != nil {
			return fmt.Errorf("truncating %s: %w", c.path, err)
		}
	}
	c.entries = make(map[string]Entry)
	c.records = 0
	return nil
}

func (c *File) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

var _ Store = (*File)(nil)
