package accesshttp

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/guard"
	"github.com/odyssey-erp/odyssey-access/internal/navigation"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/view"
)

type welcomePage struct {
	DevLogin bool
}

type denialPage struct {
	Message string
	Module  access.Module
	From    string
}

type sectionPage struct {
	Label  string
	Module access.Module
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	if shared.SignedInFromContext(r.Context()) == nil {
		http.Redirect(w, r, "/welcome", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/home.html", "Home", nil)
}

func (h *Handler) handleWelcome(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/welcome.html", "Welcome", welcomePage{DevLogin: h.cfg.DevLogin})
}

func (h *Handler) handleDenied(w http.ResponseWriter, r *http.Request) {
	d := access.DenyAccess(r.URL.Query().Get("failed"))
	h.render(w, r, http.StatusForbidden, "pages/denied.html", "Access denied", denialPage{
		Message: guard.DenialMessage(d),
		From:    safeFrom(r.URL.Query().Get("from")),
	})
}

func (h *Handler) handleModuleDisabled(w http.ResponseWriter, r *http.Request) {
	m, _ := access.ParseModule(r.URL.Query().Get("module"))
	h.render(w, r, http.StatusForbidden, "pages/module_disabled.html", "Module not enabled", denialPage{
		Message: guard.DenialMessage(access.DenyModule(m)),
		Module:  m,
		From:    safeFrom(r.URL.Query().Get("from")),
	})
}

// sectionHandler renders the landing page of a navigation leaf.
func (h *Handler) sectionHandler(item navigation.Item) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, http.StatusOK, "pages/section.html", item.Label, sectionPage{Label: item.Label, Module: item.Module})
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	var csrfToken string
	var flash *shared.FlashMessage
	if sess != nil {
		if h.cfg.CSRF != nil {
			csrfToken, _ = h.cfg.CSRF.EnsureToken(r.Context(), sess)
		}
		flash = sess.PopFlash()
	}
	snap := guard.Await(r.Context(), h.cfg.Wait)
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Gate:        guard.NewGate(snap, h.cfg.Recorder),
		Navigation:  h.cfg.Filter.Apply(h.cfg.Navigation, snap),
		Data:        data,
	}
	if err := h.cfg.Templates.RenderStatus(w, status, name, viewData); err != nil {
		h.cfg.Logger.Error("render template", slog.String("template", name), slog.Any("error", err))
	}
}

// safeFrom keeps only local paths so the denial page never links offsite.
func safeFrom(raw string) string {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	return raw
}
