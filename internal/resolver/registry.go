package resolver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/directory"
)

// Registry keeps one Resolver per session id.
type Registry struct {
	store directory.Reader
	opts  Options

	mu       sync.Mutex
	sessions map[string]*Resolver
}

// NewRegistry builds an empty registry. Every resolver it creates shares
// store and opts.
func NewRegistry(store directory.Reader, opts Options) *Registry {
	return &Registry{store: store, opts: opts, sessions: make(map[string]*Resolver)}
}

// For returns the resolver of sessionID, creating it on first use.
func (g *Registry) For(sessionID string) *Resolver {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.sessions[sessionID]
	if !ok {
		r = New(g.store, g.opts)
		g.sessions[sessionID] = r
	}
	return r
}

// Drop clears and forgets the resolver of sessionID.
func (g *Registry) Drop(sessionID string) {
	g.mu.Lock()
	r, ok := g.sessions[sessionID]
	delete(g.sessions, sessionID)
	g.mu.Unlock()
	if ok {
		r.Clear()
	}
}

// Len reports the number of tracked sessions.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// RefreshTenant restarts resolution for every session bound to companyID, or
// for every session when companyID is zero. It does not wait for results.
func (g *Registry) RefreshTenant(companyID int64) int {
	g.mu.Lock()
	targets := make([]*Resolver, 0, len(g.sessions))
	for _, r := range g.sessions {
		targets = append(targets, r)
	}
	g.mu.Unlock()

	n := 0
	for _, r := range targets {
		if r.restartMatching(func(key access.Key) bool {
			return key.Valid() && (companyID == 0 || key.TenantID == companyID)
		}) {
			n++
		}
	}
	return n
}

// Sweep drops resolvers idle for longer than maxIdle.
func (g *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	g.mu.Lock()
	var stale []*Resolver
	for id, r := range g.sessions {
		if r.LastUsed().Before(cutoff) {
			stale = append(stale, r)
			delete(g.sessions, id)
		}
	}
	g.mu.Unlock()
	for _, r := range stale {
		r.Clear()
	}
	return len(stale)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (g *Registry) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(maxIdle); n > 0 {
				g.opts.logger().Debug("access sessions swept", slog.Int("count", n))
			}
		}
	}
}
