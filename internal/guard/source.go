// Package guard adapts access decisions to HTTP routes and rendered
// components.
package guard

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/access"
)

// Source yields the snapshot of the current session.
type Source interface {
	Snapshot() access.Snapshot
	Wait(ctx context.Context) error
}

// Recorder counts decisions per surface.
type Recorder interface {
	ObserveDecision(surface string, d access.Decision)
}

// Decision surfaces.
const (
	SurfaceRoute     = "route"
	SurfaceComponent = "component"
	SurfaceAPI       = "api"
)

type sourceContextKey struct{}

// ContextWithSource stores the session's snapshot source in ctx.
func ContextWithSource(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, src)
}

// SourceFromContext returns the snapshot source stored in ctx, if any.
func SourceFromContext(ctx context.Context) Source {
	src, _ := ctx.Value(sourceContextKey{}).(Source)
	return src
}

// SnapshotFromContext returns the current snapshot, or an empty one when the
// request carries no source.
func SnapshotFromContext(ctx context.Context) access.Snapshot {
	if src := SourceFromContext(ctx); src != nil {
		return src.Snapshot()
	}
	return access.EmptySnapshot(access.Key{})
}

// Await returns the snapshot in ctx, waiting up to wait for an in-flight
// resolution to finish. The result may still be loading.
func Await(ctx context.Context, wait time.Duration) access.Snapshot {
	src := SourceFromContext(ctx)
	if src == nil {
		return access.EmptySnapshot(access.Key{})
	}
	snap := src.Snapshot()
	if !snap.Loading() || wait <= 0 {
		return snap
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := src.Wait(wctx); err != nil {
		return snap
	}
	return src.Snapshot()
}
