package kv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	yaml "go.yaml.in/yaml/v3"

	logx "alertrelay/pkg/logx"
)

// File is a Source backed by a YAML or JSON document on disk.
//
// The document is read on first use and kept until Reload. A missing file is
// an empty document; a malformed one is logged and treated as empty.
type File struct {
	path string
	log  logx.Logger

	mu     sync.RWMutex
	doc    map[string]any
	loaded bool
}

func NewFile(path string, log logx.Logger) *File {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &File{path: path, log: log}
}

func (f *File) Path() string { return f.path }

func (f *File) Get(_ context.Context, path string) (any, bool) {
	f.mu.RLock()
	loaded := f.loaded
	doc := f.doc
	f.mu.RUnlock()

	if !loaded {
		doc = f.load()
	}
	return Lookup(doc, path)
}

// Reload re-reads the file. The previous document is replaced even when the
// new one fails to parse, so a broken edit falls back to defaults.
func (f *File) Reload() error {
	doc, err := ReadDocument(f.path)
	f.mu.Lock()
	f.doc, f.loaded = doc, true
	f.mu.Unlock()
	return err
}

func (f *File) load() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded {
		return f.doc
	}
	doc, err := ReadDocument(f.path)
	if err != nil {
		f.log.Warn("document unreadable; using empty document", logx.String("path", f.path), logx.Err(err))
	}
	f.doc, f.loaded = doc, true
	return doc
}

// ReadDocument reads and decodes a YAML or JSON document.
// A missing file yields (nil, nil).
func ReadDocument(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses a YAML (or JSON, which is valid YAML) document whose root must
// be a mapping. Keys are normalized to strings at every level.
func Decode(data []byte) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	m, ok := normalize(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document root is %T, want mapping", v)
	}
	return m, nil
}

// normalize ensures all map keys are strings.
func normalize(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalize(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	default:
		return in
	}
}
