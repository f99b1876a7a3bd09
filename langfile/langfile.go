// Package langfile reads and writes Minecraft JSON language files.
//
// A mod ships one flat JSON object per locale under
// assets/<namespace>/lang/<locale>.json:
//
//	{
//	    "item.create.cogwheel": "Cogwheel",
//	    "block.create.shaft": "Shaft"
//	}
//
// Key order is preserved on read and write so regenerated files diff
// cleanly against the originals.
package langfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File is a parsed language file.
type File struct {
	Entries map[string]string
	// Skipped lists keys whose values were not strings.
	Skipped []string
	keys    []string
}

// New returns an empty file.
func New() *File {
	return &File{Entries: make(map[string]string)}
}

// ParseFile reads and parses a language file.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a flat JSON object, keeping key order. Non-string values
// (nested objects from some tooling) are skipped and recorded.
func Parse(data []byte) (*File, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))

	t, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if delim, ok := t.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected {, got %v", t)
	}

	f := New()
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %T", kt)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing value of %q: %w", key, err)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			f.Skipped = append(f.Skipped, key)
			continue
		}
		f.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	return f, nil
}

// Keys returns the keys in file order, followed by keys added with Set.
func (f *File) Keys() []string {
	return f.keys
}

// Len returns the number of entries.
func (f *File) Len() int {
	return len(f.keys)
}

// Get returns the value for key.
func (f *File) Get(key string) (string, bool) {
	v, ok := f.Entries[key]
	return v, ok
}

// Set adds or replaces an entry. New keys are appended.
func (f *File) Set(key, value string) {
	if _, ok := f.Entries[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.Entries[key] = value
}

// Marshal renders the file with 4-space indentation and unescaped
// non-ASCII and markup characters.
func (f *File) Marshal() ([]byte, error) {
	var b bytes.Buffer
	if len(f.keys) == 0 {
		return []byte("{}\n"), nil
	}
	b.WriteString("{\n")
	for i, k := range f.keys {
		key, err := jsonString(k)
		if err != nil {
			return nil, err
		}
		val, err := jsonString(f.Entries[k])
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "    %s: %s", key, val)
		if i < len(f.keys)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	return b.Bytes(), nil
}

// WriteFile writes the file, creating parent directories.
func (f *File) WriteFile(path string) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func jsonString(s string) (string, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ---------------------------------------------------------------------------
// Resource tree layout
// ---------------------------------------------------------------------------

// Path returns root/assets/<namespace>/lang/<locale>.json.
func Path(root, namespace, locale string) string {
	return filepath.Join(root, "assets", namespace, "lang", locale+".json")
}

// Source is one namespace's language file found under a resource root.
type Source struct {
	Namespace string
	Path      string
}

// Find lists the namespaces under root/assets that have a file for
// locale, sorted by namespace. A missing assets directory yields none.
func Find(root, locale string) ([]Source, error) {
	assets := filepath.Join(root, "assets")
	entries, err := os.ReadDir(assets)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", assets, err)
	}

	var sources []Source
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := Path(root, e.Name(), locale)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			sources = append(sources, Source{Namespace: e.Name(), Path: p})
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Namespace < sources[j].Namespace })
	return sources, nil
}

// PackFormat is the resource pack format written to pack.mcmeta.
const PackFormat = 15

// WritePackMeta writes root/pack.mcmeta so the output directory loads as
// a resource pack.
func WritePackMeta(root, description string) error {
	meta := map[string]any{
		"pack": map[string]any{
			"pack_format": PackFormat,
			"description": description,
		},
	}
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(meta); err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(filepath.Join(root, "pack.mcmeta"), b.Bytes(), 0644)
}
