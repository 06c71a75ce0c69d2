package policy

import (
	"context"
	"sync"
	"sync/atomic"

	"alertrelay/internal/kv"
	logx "alertrelay/pkg/logx"
)

// Store caches the current Policy and rebuilds it on demand.
//
// Readers always see a complete snapshot: Reload builds a new Policy and swaps
// the pointer, it never mutates the one in use.
type Store struct {
	src kv.Source
	log logx.Logger

	cur     atomic.Pointer[Policy]
	buildMu sync.Mutex
}

func NewStore(src kv.Source, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{src: src, log: log}
}

// Load returns the cached policy, building it on first use.
func (s *Store) Load(ctx context.Context) *Policy {
	if p := s.cur.Load(); p != nil {
		return p
	}
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	if p := s.cur.Load(); p != nil {
		return p
	}
	p := s.build(ctx)
	s.cur.Store(p)
	return p
}

// Reload rebuilds the policy from the source and swaps it in.
func (s *Store) Reload(ctx context.Context) *Policy {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	p := s.build(ctx)
	s.cur.Store(p)
	s.log.Info("notification policy loaded",
		logx.Bool("enabled", p.Enabled),
		logx.String("min_severity", p.MinSeverity.String()),
		logx.Int("site_overrides", len(p.SiteOverrides)),
		logx.Int("webhooks", len(p.Endpoints())),
	)
	return p
}

// Set installs p directly. Intended for callers that build policies
// themselves.
func (s *Store) Set(p *Policy) {
	if p == nil {
		p = Default()
	}
	s.cur.Store(p)
}

func (s *Store) build(ctx context.Context) *Policy {
	if s.src == nil {
		return Default()
	}
	v, ok := s.src.Get(ctx, DocumentKey)
	if !ok {
		s.log.Debug("no notification policy configured; using defaults")
		return Default()
	}
	if _, isMap := kv.AsMap(v); !isMap {
		s.log.Warn("notification policy is not a mapping; using defaults")
		return Default()
	}
	return FromDocument(v)
}
