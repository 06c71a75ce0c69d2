package topics

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// CacheEntry remembers a forum topic created for a chat/title pair.
type CacheEntry struct {
	ChatID   int64     `json:"chat_id"`
	Title    string    `json:"title"`
	ThreadID int       `json:"thread_id"`
	Updated  time.Time `json:"updated"`
}

type cacheFile struct {
	Entries map[string]CacheEntry `json:"entries"`
}

// Cache persists created topic ids so a restart does not create duplicates.
// A nil *Cache is valid and remembers nothing.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]CacheEntry
	loaded  bool
}

func NewCache(path string) *Cache {
	return &Cache{path: path}
}

func cacheKey(chatID int64, title string) string {
	return strings.ToLower(fmt.Sprintf("%d::%s", chatID, strings.TrimSpace(title)))
}

func (c *Cache) Lookup(chatID int64, title string) (int, bool) {
	if c == nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	e, ok := c.entries[cacheKey(chatID, title)]
	if !ok || e.ThreadID == 0 {
		return 0, false
	}
	return e.ThreadID, true
}

func (c *Cache) Store(chatID int64, title string, threadID int) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	c.entries[cacheKey(chatID, title)] = CacheEntry{
		ChatID:   chatID,
		Title:    title,
		ThreadID: threadID,
		Updated:  time.Now().UTC(),
	}
	return c.saveLocked()
}

func (c *Cache) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	c.entries = map[string]CacheEntry{}
	if c.path == "" {
		return
	}
	b, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var f cacheFile
	if err := json.Unmarshal(b, &f); err == nil && f.Entries != nil {
		c.entries = f.Entries
		return
	}
	// Older caches were a flat key -> entry object.
	var flat map[string]CacheEntry
	if err := json.Unmarshal(b, &flat); err == nil {
		c.entries = flat
	}
}

func (c *Cache) saveLocked() error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("topic cache dir: %w", err)
	}
	b, err := json.MarshalIndent(cacheFile{Entries: c.entries}, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("topic cache write: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("topic cache rename: %w", err)
	}
	return nil
}
