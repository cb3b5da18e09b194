package handlers

import (
	"io/fs"
	"net/http"
	"time"

	"ackg/auth"
	"ackg/storage"
	"ackg/web"

	"github.com/dchest/captcha"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// legacyPages are the unprefixed paths of the old site, redirected to French.
var legacyPages = []string{"accueil", "activites", "cours-de-langues", "a-propos", "mentions-legales"}

// Routes builds the router of the public site and the admin console.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware)

	static, _ := fs.Sub(web.FS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	if b, ok := s.Objects.(*storage.LocalBucket); ok {
		r.Handle(b.MountPath()+"*", b.Handler())
	}

	r.Get("/", s.rootRedirect)
	for _, page := range legacyPages {
		r.Get("/"+page, legacyRedirect)
	}
	r.Get("/activite/{slug}", legacyRedirect)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(CORSMiddleware)
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/activities", s.APIListActivitiesHandler)
		r.Get("/activities/{slug}", s.APIGetActivityHandler)
	})

	r.Route("/{lang}", func(r chi.Router) {
		r.Use(languageMiddleware)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/"+chi.URLParam(r, "lang")+"/accueil", http.StatusFound)
		})
		r.Get("/accueil", s.HomeHandler)
		r.Get("/activites", s.ActivitiesHandler)
		r.Get("/activite/{slug}", s.ActivityHandler)
		r.Get("/cours-de-langues", s.staticPage("courses.html", "nav.courses"))
		r.Get("/a-propos", s.staticPage("about.html", "nav.about"))
		r.Get("/mentions-legales", s.staticPage("legal.html", "legal.title"))
	})

	// Captcha images for the password reset form.
	r.Handle("/captcha/*", captcha.Server(captcha.StdWidth, captcha.StdHeight))

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.csrfProtect)

		r.Post("/login", s.LoginHandler)
		r.Post("/logout", s.LogoutHandler)
		r.Post("/reset", s.ResetHandler)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(s.Auth, http.HandlerFunc(s.loginPage), http.HandlerFunc(s.deniedPage)))
			r.Get("/", s.DashboardHandler)
			r.Get("/live", s.liveHandler)
			r.Post("/password", s.ChangePasswordHandler)

			r.Get("/activities", s.ActivityListHandler)
			r.Post("/activities", s.CreateActivityHandler)
			r.Get("/activities/{id}/edit", s.EditActivityHandler)
			r.Post("/activities/{id}", s.UpdateActivityHandler)
			r.Post("/activities/{id}/delete", s.DeleteActivityHandler)

			r.Post("/drafts/{token}/images", s.StageImagesHandler)
			r.Post("/drafts/{token}/reorder", s.ReorderImageHandler)
			r.Post("/drafts/{token}/remove", s.RemoveImageHandler)
			r.Post("/drafts/{token}/cancel", s.CancelDraftHandler)
			r.Get("/drafts/{token}/pending/{id}", s.PreviewHandler)
		})
	})

	return r
}

func (s *Server) rootRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/"+s.Config.DefaultLang+"/accueil", http.StatusFound)
}

// legacyRedirect sends an unprefixed path to its French page.
func legacyRedirect(w http.ResponseWriter, r *http.Request) {
	target := "/fr" + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		http.NotFound(w, r)
		return
	}
	s.Hub.ServeHTTP(w, r)
}
