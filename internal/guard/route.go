package guard

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Default redirect targets.
const (
	DefaultDeniedPath         = "/access/denied"
	DefaultModuleDisabledPath = "/access/module-disabled"
)

// RouteGuard blocks navigation to routes the actor may not reach.
type RouteGuard struct {
	ModuleDisabledPath string
	DeniedPath         string
	// Loading is served when the snapshot is still resolving after Wait.
	Loading  http.Handler
	Wait     time.Duration
	Logger   *slog.Logger
	Recorder Recorder
}

// Require admits the request only when req is satisfied.
func (g RouteGuard) Require(req access.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := access.Evaluate(Await(r.Context(), g.Wait), req)
			if g.Recorder != nil {
				g.Recorder.ObserveDecision(SurfaceRoute, d)
			}
			switch {
			case d.Allowed():
				next.ServeHTTP(w, r)
			case d.Pending():
				g.loading().ServeHTTP(w, r)
			default:
				g.deny(w, r, d)
			}
		})
	}
}

// RequireModule admits the request when m is enabled.
func (g RouteGuard) RequireModule(m access.Module) func(http.Handler) http.Handler {
	return g.Require(access.RequireModule(m))
}

// RequirePermission admits the request when m is enabled and perm is held.
func (g RouteGuard) RequirePermission(m access.Module, perm string) func(http.Handler) http.Handler {
	return g.Require(access.RequirePermission(m, perm))
}

// RequireAnyPermission admits the request when m is enabled and any of perms
// is held.
func (g RouteGuard) RequireAnyPermission(m access.Module, perms ...string) func(http.Handler) http.Handler {
	return g.Require(access.Requirement{Module: m, AnyPermission: perms})
}

func (g RouteGuard) deny(w http.ResponseWriter, r *http.Request, d access.Decision) {
	target := g.DeniedPath
	if target == "" {
		target = DefaultDeniedPath
	}
	if d.Reason == access.ReasonModuleDisabled {
		target = g.ModuleDisabledPath
		if target == "" {
			target = DefaultModuleDisabledPath
		}
	}
	if g.Logger != nil {
		g.Logger.Debug("route denied",
			slog.String("path", r.URL.Path),
			slog.String("reason", string(d.Reason)),
			slog.String("failed", d.Failed))
	}
	if strings.TrimSuffix(r.URL.Path, "/") == strings.TrimSuffix(target, "/") {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: DenialMessage(d)})
	}
	http.Redirect(w, r, RedirectURL(target, r.URL.RequestURI(), d), http.StatusSeeOther)
}

func (g RouteGuard) loading() http.Handler {
	if g.Loading != nil {
		return g.Loading
	}
	return http.HandlerFunc(loadingHandler)
}

func loadingHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Checking access, please retry shortly.\n"))
}

// RedirectURL builds the denial redirect carrying the originating path and the
// decision details as query parameters.
func RedirectURL(target, from string, d access.Decision) string {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if d.Reason != access.ReasonNone {
		q.Set("reason", string(d.Reason))
	}
	if d.Module != "" {
		q.Set("module", string(d.Module))
	}
	if d.Failed != "" {
		q.Set("failed", d.Failed)
	}
	if len(q) == 0 {
		return target
	}
	return target + "?" + q.Encode()
}

// DenialMessage is the user-facing explanation of a denial.
func DenialMessage(d access.Decision) string {
	if d.Reason == access.ReasonModuleDisabled {
		name := string(d.Module)
		if info, ok := d.Module.Info(); ok {
			name = info.Name
		}
		return "The " + name + " module is not enabled for this company."
	}
	return "You do not have access to that page."
}
