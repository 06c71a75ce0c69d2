package kv

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "alertrelay/pkg/logx"
)

const watchDebounce = 250 * time.Millisecond

// Watch calls onChange (debounced) whenever one of files is written, created,
// renamed or removed. It watches the parent directories so editors that
// replace files atomically are handled. Watch blocks until ctx is done.
//
// When fsnotify gets into a bad state the watcher is recreated with a small
// jittered exponential backoff.
func Watch(ctx context.Context, log logx.Logger, onChange func(), files ...string) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	dirs := map[string]struct{}{}
	names := map[string]struct{}{}
	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		dirs[filepath.Dir(f)] = struct{}{}
		names[strings.ToLower(filepath.Base(f))] = struct{}{}
	}
	if len(dirs) == 0 {
		<-ctx.Done()
		return nil
	}

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		return wait
	}
	sleep := func(d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			onChange()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("document watch init failed", logx.Err(err))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}

		added := 0
		for dir := range dirs {
			if err := w.Add(dir); err != nil {
				log.Warn("document watch add failed", logx.Err(err), logx.String("dir", dir))
				continue
			}
			added++
		}
		if added == 0 {
			_ = w.Close()
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		log.Debug("document watcher started", logx.Int("dirs", added))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if _, hit := names[strings.ToLower(filepath.Base(ev.Name))]; !hit {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					log.Debug("document change detected", logx.String("path", ev.Name))
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means events may be lost; reload once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					log.Warn("document watch overflow; forcing reload", logx.Err(err))
					debounce()
					continue
				}
				log.Warn("document watch error", logx.Err(err))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = w.Close()
		wait := nextWait()
		log.Warn("document watcher stopped; restarting", logx.Duration("backoff", wait))
		if !sleep(wait) {
			return nil
		}
	}
}
