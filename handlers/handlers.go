package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ackg/activities"
	"ackg/auth"
	"ackg/config"
	"ackg/gallery"
	"ackg/i18n"
	"ackg/identity"
	"ackg/live"
	"ackg/storage"
	"ackg/web"

	"github.com/gorilla/csrf"
	"github.com/gorilla/sessions"
)

// Server holds the dependencies of the site and the admin console.
type Server struct {
	Config     config.Config
	Activities *activities.Service
	Auth       auth.Authenticator
	Drafts     *gallery.Registry
	Objects    storage.ObjectStore
	Hub        *live.Hub
	Sessions   sessions.Store
	Log        *slog.Logger

	templates    map[string]*template.Template
	loginLimiter *rateLimiter
	resetLimiter *rateLimiter
}

// Deps are the collaborators wired by main.
type Deps struct {
	Activities *activities.Service
	Auth       auth.Authenticator
	Drafts     *gallery.Registry
	Objects    storage.ObjectStore
	Hub        *live.Hub
	Sessions   sessions.Store
	Log        *slog.Logger
}

func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	templates, err := newTemplateCache(web.FS)
	if err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Drafts == nil {
		deps.Drafts = gallery.NewRegistry(gallery.DefaultTTL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = activities.DefaultPageSize
	}
	return &Server{
		Config:       cfg,
		Activities:   deps.Activities,
		Auth:         deps.Auth,
		Drafts:       deps.Drafts,
		Objects:      deps.Objects,
		Hub:          deps.Hub,
		Sessions:     deps.Sessions,
		Log:          deps.Log,
		templates:    templates,
		loginLimiter: newRateLimiter(),
		resetLimiter: newRateLimiter(),
	}, nil
}

var pages = []string{
	"home.html",
	"activities.html",
	"activity.html",
	"courses.html",
	"about.html",
	"legal.html",
	"admin_login.html",
	"admin_denied.html",
	"admin_dashboard.html",
	"admin_edit.html",
}

var templateFuncs = template.FuncMap{
	"formatDate": formatDate,
	"excerpt":    excerpt,
	"paragraphs": paragraphs,
	"inc":        func(i int) int { return i + 1 },
}

// newTemplateCache parses every page together with the layout and the
// shared partials.
func newTemplateCache(fsys fs.FS) (map[string]*template.Template, error) {
	cache := map[string]*template.Template{}
	for _, page := range pages {
		ts, err := template.New(page).Funcs(templateFuncs).ParseFS(fsys,
			"templates/layout.html",
			"templates/admin_partials.html",
			"templates/"+page,
		)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", page, err)
		}
		cache[page] = ts
	}
	return cache, nil
}

// renderTemplate renders name inside the layout. data gets the values every
// page needs: the localizer, the CSRF field and the pending flashes.
func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, lang, name string, status int, data map[string]any) {
	ts, ok := s.templates[name]
	if !ok {
		s.Log.Error("template not found", "name", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	loc := i18n.Localizer{Lang: lang}
	data["L"] = loc
	data["AppName"] = s.Config.AppName
	data["Year"] = time.Now().Year()
	data["csrfField"] = csrf.TemplateField(r)
	data["Flashes"] = auth.Flashes(s.Sessions, w, r)
	if _, ok := data["SwitchFR"]; !ok {
		data["SwitchFR"] = i18n.Switch(r.URL.Path, i18n.French)
		data["SwitchKU"] = i18n.Switch(r.URL.Path, i18n.Kurdish)
	}

	var buf bytes.Buffer
	if err := ts.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.Log.Error("render template", "name", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderFragment renders a single named template without the layout.
func (s *Server) renderFragment(w http.ResponseWriter, r *http.Request, lang, page, block string, data map[string]any) {
	ts, ok := s.templates[page]
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	data["L"] = i18n.Localizer{Lang: lang}
	data["csrfField"] = csrf.TemplateField(r)

	var buf bytes.Buffer
	if err := ts.ExecuteTemplate(&buf, block, data); err != nil {
		s.Log.Error("render fragment", "block", block, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *Server) flash(w http.ResponseWriter, r *http.Request, kind, message string) {
	auth.AddFlash(s.Sessions, w, r, kind, message)
}

// userMessage is the text shown for a failed remote call. Provider and store
// messages are shown as they are.
func userMessage(lang string, err error) string {
	var idErr *identity.Error
	if errors.As(err, &idErr) {
		return idErr.Message
	}
	var storeErr *activities.RemoteError
	if errors.As(err, &storeErr) {
		return storeErr.Message
	}
	switch {
	case errors.Is(err, activities.ErrNotFound):
		return i18n.T(lang, "admin.activity.notFound")
	case errors.Is(err, activities.ErrConflict):
		return i18n.T(lang, "admin.activity.conflict")
	case errors.Is(err, activities.ErrInvalid):
		return i18n.T(lang, "admin.activity.fillAll")
	case errors.Is(err, gallery.ErrCrossBoundary):
		return i18n.T(lang, "admin.images.crossBoundary")
	case errors.Is(err, gallery.ErrAlreadyCommitted):
		return i18n.T(lang, "admin.activity.alreadySubmitted")
	case errors.Is(err, gallery.ErrDraftNotFound), errors.Is(err, gallery.ErrDraftClosed):
		return i18n.T(lang, "admin.activity.formExpired")
	}
	return i18n.T(lang, "admin.remoteError")
}

func formatDate(s string) string {
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t.Format("02.01.2006")
		}
	}
	return s
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

// paragraphs splits text on blank lines.
func paragraphs(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(s, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
