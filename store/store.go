// Package store implements the translation cache used by the batch
// translator. Entries are keyed by an MD5 fingerprint of the original text
// together with the namespace (mod ID) the text belongs to, so the same
// English string may carry different translations in different mods.
//
// Three backends are provided:
//   - Memory  : process-local map, used for tests and cache.backend: memory
//   - File    : append-only YAML journal under the user data directory
//   - Postgres: shared cache in PostgreSQL (pgx pool + golang-migrate)
//
// All backends are safe for concurrent point reads and writes. A write for
// an existing (fingerprint, namespace) pair replaces the previous value.
package store

import (
	"context"
	"crypto/md5"
	"fmt"
	"time"
)

// Entry is a single cached translation.
type Entry struct {
	Fingerprint string    `yaml:"fp" json:"fp"`
	Namespace   string    `yaml:"ns" json:"ns"`
	Key         string    `yaml:"key" json:"key"`
	Original    string    `yaml:"original" json:"original"`
	Translation string    `yaml:"translation" json:"translation"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries  int
	Earliest time.Time // zero when the cache is empty
}

// Store is the cache contract shared by all backends.
type Store interface {
	// Lookup returns the cached translation for text within namespace.
	Lookup(ctx context.Context, namespace, text string) (string, bool, error)
	// Put records a translation. Fingerprint and CreatedAt are filled in
	// when empty.
	Put(ctx context.Context, e Entry) error
	// Stats returns the entry count and the earliest creation time.
	Stats(ctx context.Context) (Stats, error)
	// Purge removes every entry.
	Purge(ctx context.Context) error
	// Close releases the backend's resources.
	Close() error
}

// Fingerprint computes the MD5 hex digest of a source string.
func Fingerprint(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// cacheKey builds the in-memory map key for a (fingerprint, namespace) pair.
func cacheKey(fp, namespace string) string {
	return fp + "\x00" + namespace
}

// normalize fills the derived fields of an entry before it is stored.
func normalize(e Entry, now func() time.Time) Entry {
	if e.Fingerprint == "" {
		e.Fingerprint = Fingerprint(e.Original)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now().UTC()
	}
	return e
}

// String renders stats for display.
func (s Stats) String() string {
	if s.Entries == 0 {
		return "empty"
	}
	return fmt.Sprintf("%d entries (earliest: %s)", s.Entries, s.Earliest.Local().Format(time.DateTime))
}
