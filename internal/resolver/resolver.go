// Package resolver loads authorization snapshots for one session at a time.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/directory"
)

// Resolution results reported to the Recorder.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultStale     = "stale"
	ResultSignedOut = "signed_out"
)

// ErrSuperseded reports that a resolution was replaced by one for another
// key before it finished.
var ErrSuperseded = errors.New("resolver: superseded by another resolution")

// Recorder receives resolution outcomes.
type Recorder interface {
	ObserveResolution(result string, elapsed time.Duration)
}

// Options configures a Resolver.
type Options struct {
	// AdminRole is the role name that grants the company-admin bypass.
	// Empty means access.DefaultAdminRole.
	AdminRole string
	// Timeout bounds one resolution. Zero means 10s.
	Timeout  time.Duration
	Logger   *slog.Logger
	Recorder Recorder
}

// Resolver owns the snapshot of a single session. Consumers read the current
// snapshot with Snapshot; a new resolution replaces it atomically.
type Resolver struct {
	store directory.Reader
	opts  Options

	current atomic.Pointer[access.Snapshot]
	touched atomic.Int64

	mu      sync.Mutex
	gen     uint64
	pending access.Key
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Resolver whose initial snapshot is empty and not loading.
func New(store directory.Reader, opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.AdminRole == "" {
		opts.AdminRole = access.DefaultAdminRole
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Resolver{store: store, opts: opts}
	empty := access.EmptySnapshot(access.Key{})
	r.current.Store(&empty)
	r.done = closedChan()
	r.touch()
	return r
}

// Snapshot returns the most recently published snapshot.
func (r *Resolver) Snapshot() access.Snapshot {
	r.touch()
	return *r.current.Load()
}

// Key returns the key of the current or in-flight resolution.
func (r *Resolver) Key() access.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Start supersedes any in-flight resolution and begins resolving key. The
// returned channel is closed when this resolution has been published or
// discarded.
func (r *Resolver) Start(key access.Key) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(key, false)
}

// Ensure starts a resolution only when key differs from the current one.
func (r *Resolver) Ensure(key access.Key) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == r.pending && r.gen > 0 {
		return r.done
	}
	return r.startLocked(key, false)
}

// RestartIfCurrent starts resolving next only while expected is still the
// current key. It reports whether it did.
func (r *Resolver) RestartIfCurrent(expected, next access.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != expected {
		return false
	}
	r.startLocked(next, false)
	return true
}

// restartMatching restarts the current key when match accepts it. The check
// and the restart happen under one lock so a concurrent switch is not undone.
func (r *Resolver) restartMatching(match func(access.Key) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !match(r.pending) {
		return false
	}
	r.startLocked(r.pending, false)
	return true
}

// Resolve resolves key and waits for the result. It returns ErrSuperseded
// when a resolution for another key replaced it meanwhile.
func (r *Resolver) Resolve(ctx context.Context, key access.Key) (access.Snapshot, error) {
	done := r.Start(key)
	return r.await(ctx, key, done)
}

// Refresh re-resolves the current key, bypassing cached directory reads.
// Callers invoke it after changing roles, permissions or module flags.
func (r *Resolver) Refresh(ctx context.Context) (access.Snapshot, error) {
	r.mu.Lock()
	key := r.pending
	done := r.startLocked(key, true)
	r.mu.Unlock()
	return r.await(ctx, key, done)
}

// Wait blocks until the current resolution finishes or ctx is done. When the
// resolution is superseded it keeps waiting for the one that replaced it.
func (r *Resolver) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		done := r.done
		r.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
		settled := r.done == done
		r.mu.Unlock()
		if settled {
			return nil
		}
	}
}

// Clear discards the session state, e.g. on sign-out.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.stopLocked()
	r.pending = access.Key{}
	r.done = closedChan()
	empty := access.EmptySnapshot(access.Key{})
	r.current.Store(&empty)
}

// LastUsed reports when the snapshot was last read or resolved.
func (r *Resolver) LastUsed() time.Time {
	return time.Unix(0, r.touched.Load())
}

// await waits for the resolution of key. A restart for the same key is
// followed; a switch to another key ends the wait with ErrSuperseded.
func (r *Resolver) await(ctx context.Context, key access.Key, done <-chan struct{}) (access.Snapshot, error) {
	for {
		select {
		case <-done:
		case <-ctx.Done():
			return r.Snapshot(), ctx.Err()
		}
		r.mu.Lock()
		pending, next := r.pending, r.done
		snap := *r.current.Load()
		r.mu.Unlock()
		if pending != key || snap.Key() != key {
			return access.EmptySnapshot(key), ErrSuperseded
		}
		if next == done || !snap.Loading() {
			r.touch()
			return snap, nil
		}
		done = next
	}
}

func (r *Resolver) startLocked(key access.Key, fresh bool) chan struct{} {
	r.gen++
	gen := r.gen
	r.stopLocked()
	r.pending = key
	r.touch()

	if !key.Valid() {
		empty := access.EmptySnapshot(key)
		r.current.Store(&empty)
		r.done = closedChan()
		r.observe(ResultSignedOut, 0)
		return r.done
	}

	loading := access.LoadingSnapshot(key)
	r.current.Store(&loading)

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	if fresh {
		ctx = directory.WithFreshReads(ctx)
	}
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		defer cancel()
		start := time.Now()
		snap, err := r.load(ctx, key)
		if err != nil {
			snap = access.EmptySnapshot(key)
		}
		if !r.publish(gen, snap) {
			r.observe(ResultStale, time.Since(start))
			return
		}
		if err != nil {
			r.opts.Logger.Error("resolve access snapshot",
				slog.Int64("actor_id", key.ActorID),
				slog.Int64("company_id", key.TenantID),
				slog.Any("error", err))
			r.observe(ResultError, time.Since(start))
			return
		}
		r.observe(ResultOK, time.Since(start))
	}()
	return done
}

func (r *Resolver) stopLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Resolver) publish(gen uint64, snap access.Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return false
	}
	r.current.Store(&snap)
	r.cancel = nil
	return true
}

// load fetches roles, their permissions and the company's modules. Roles and
// permissions run on one branch, modules on another; both must finish.
func (r *Resolver) load(ctx context.Context, key access.Key) (access.Snapshot, error) {
	var (
		roles []directory.Role
		perms []directory.Permission
		mods  []access.Module
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roles, err = r.store.ActiveRoles(gctx, key.ActorID, key.TenantID)
		if err != nil {
			return err
		}
		perms, err = r.store.RolePermissions(gctx, directory.RoleIDs(roles))
		return err
	})
	g.Go(func() error {
		var err error
		mods, err = r.store.EnabledModules(gctx, key.TenantID)
		return err
	})
	if err := g.Wait(); err != nil {
		return access.Snapshot{}, err
	}
	mods = append(mods, access.MandatoryModules()...)
	return access.NewSnapshot(key, access.Grants{
		Roles:       directory.RoleNames(roles),
		Permissions: directory.PermissionCodes(perms),
		Modules:     mods,
	}, r.opts.AdminRole), nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (r *Resolver) observe(result string, elapsed time.Duration) {
	if r.opts.Recorder != nil {
		r.opts.Recorder.ObserveResolution(result, elapsed)
	}
}

func (r *Resolver) touch() {
	r.touched.Store(time.Now().UnixNano())
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
