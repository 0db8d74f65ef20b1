package accesshttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-access/internal/navigation"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// MountRoutes registers the access API, the denial pages, the home page and
// one guarded page per navigation leaf.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(20, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Get("/", h.handleHome)
	r.Get("/welcome", h.handleWelcome)

	r.Route("/access", func(ar chi.Router) {
		ar.Get("/snapshot", h.handleSnapshot)
		ar.Get("/navigation", h.handleNavigation)
		ar.Get("/modules", h.handleModules)
		ar.Get("/denied", h.handleDenied)
		ar.Get("/module-disabled", h.handleModuleDisabled)
		ar.Post("/signout", h.handleSignOut)
		ar.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/check", h.handleCheck)
			gr.Post("/refresh", h.handleRefresh)
			gr.Post("/company", h.handleSwitchCompany)
		})
		if h.cfg.DevLogin {
			ar.Post("/dev/login", h.handleDevLogin)
		}
	})

	for _, item := range navigation.Leaves(h.cfg.Navigation) {
		r.With(h.cfg.Guard.Require(item.Requirement())).Get(item.Path, h.sectionHandler(item))
	}
}

func rateLimitKey(r *http.Request) (string, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if user := strings.TrimSpace(sess.User()); user != "" {
			return "user:" + user, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
