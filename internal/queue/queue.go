package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NameTimeLayout is the fixed-width UTC timestamp prefix of queue files.
const NameTimeLayout = "20060102T150405.000000000Z"

// DeadDir is the subdirectory holding records that exceeded their attempt
// budget.
const DeadDir = "dead"

var ErrNotFound = errors.New("queue record not found")

// ParseError reports a queue file that could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Entry is a queue file as listed; it has not been read yet.
type Entry struct {
	Name string
	Path string
}

// Queue is a directory of record files.
type Queue struct {
	dir string
	now func() time.Time
}

type Option func(*Queue)

// WithClock overrides the time source used for new records.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

func New(dir string, opts ...Option) *Queue {
	q := &Queue{dir: dir, now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(q)
		}
	}
	return q
}

func (q *Queue) Dir() string { return q.dir }

// Enqueue writes a new record. CreatedAt is set to now (UTC) and Attempts is
// reset to 0. The returned record is bound to its file.
func (q *Queue) Enqueue(r Record) (Record, error) {
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return r, fmt.Errorf("queue dir: %w", err)
	}
	r.CreatedAt = q.now().UTC()
	r.Attempts = 0
	r.LastAttempt = nil
	if r.Payload == nil {
		r.Payload = map[string]any{}
	}
	if r.Context == nil {
		r.Context = map[string]any{}
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	r.name = r.CreatedAt.Format(NameTimeLayout) + "-" + suffix + ".json"
	if err := q.write(r); err != nil {
		return r, err
	}
	return r, nil
}

// List returns pending record files in creation order. A missing directory is
// an empty queue. Hidden files, temp files and subdirectories are ignored.
func (q *Queue) List() ([]Entry, error) {
	des, err := os.ReadDir(q.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list queue: %w", err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		out = append(out, Entry{Name: name, Path: filepath.Join(q.dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Count is the number of pending record files.
func (q *Queue) Count() (int, error) {
	es, err := q.List()
	return len(es), err
}

// Read decodes one entry. Undecodable files yield a *ParseError.
func (q *Queue) Read(e Entry) (Record, error) {
	b, err := os.ReadFile(e.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%s: %w", e.Name, ErrNotFound)
		}
		return Record{}, fmt.Errorf("read %s: %w", e.Name, err)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, &ParseError{Path: e.Path, Err: err}
	}
	r.name = e.Name
	return r, nil
}

// Delete removes the record's file.
func (q *Queue) Delete(r Record) error {
	if r.name == "" {
		return ErrNotFound
	}
	if err := os.Remove(filepath.Join(q.dir, r.name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", r.name, ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", r.name, err)
	}
	return nil
}

// Rewrite atomically replaces the record's file with r.
func (q *Queue) Rewrite(r Record) error {
	if r.name == "" {
		return ErrNotFound
	}
	return q.write(r)
}

// DeadLetter moves the record, with its latest state, into the dead-letter
// directory. It no longer counts as pending.
func (q *Queue) DeadLetter(r Record) error {
	if r.name == "" {
		return ErrNotFound
	}
	dead := New(filepath.Join(q.dir, DeadDir))
	if err := os.MkdirAll(dead.dir, 0o755); err != nil {
		return fmt.Errorf("dead-letter dir: %w", err)
	}
	if err := dead.write(r); err != nil {
		return err
	}
	return q.Delete(r)
}

func (q *Queue) write(r Record) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.name, err)
	}
	final := filepath.Join(q.dir, r.name)
	tmp := filepath.Join(q.dir, "."+r.name+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", final, err)
	}
	return nil
}
