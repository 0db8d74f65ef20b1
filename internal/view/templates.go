package view

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/guard"
	"github.com/odyssey-erp/odyssey-access/internal/navigation"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	// Gate backs the can/hasModule template helpers for this request.
	Gate       guard.Gate
	Navigation []navigation.Item
	Data       any
}

// NewEngine parses templates at build-time. Access helpers are bound to a
// deny-all gate here and rebound per request in Render.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"moduleName": func(m access.Module) string {
			if info, ok := m.Info(); ok {
				return info.Name
			}
			return string(m)
		},
	}
	for name, fn := range guard.NewGate(access.EmptySnapshot(access.Key{}), nil).FuncMap() {
		funcMap[name] = fn
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus is Render with an explicit status code.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	tpl, err := e.templates.Clone()
	if err != nil {
		return fmt.Errorf("view: clone templates: %w", err)
	}
	tpl.Funcs(data.Gate.FuncMap())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return tpl.ExecuteTemplate(w, name, data)
}
