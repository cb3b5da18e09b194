package handlers

import (
	"crypto/sha256"
	"net/http"
	"strings"

	"ackg/i18n"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"
)

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' https://unpkg.com; " +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
	"font-src 'self' https://fonts.gstatic.com; " +
	"img-src 'self' data: https:; " +
	"connect-src 'self' ws: wss:; " +
	"frame-ancestors 'self'"

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		// Pages depend on the session; only static assets may be cached.
		if !strings.HasPrefix(r.URL.Path, "/static/") {
			h.Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware opens the read-only JSON API to other origins.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// languageMiddleware serves /{lang}/... for the supported locales only and
// remembers the choice for unprefixed pages.
func languageMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := chi.URLParam(r, "lang")
		if !i18n.IsSupported(lang) {
			http.NotFound(w, r)
			return
		}
		i18n.SetCookie(w, lang)
		next.ServeHTTP(w, r)
	})
}

// csrfProtect guards every unsafe request with a token derived from the
// session key. Without secure cookies the site is served over plain HTTP and
// the TLS-only Referer check is skipped.
func (s *Server) csrfProtect(next http.Handler) http.Handler {
	key := sha256.Sum256([]byte(s.Config.SessionKey + "csrf"))
	protect := csrf.Protect(key[:],
		csrf.Secure(s.Config.SecureCookies),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(s.csrfFailure)),
	)(next)
	if s.Config.SecureCookies {
		return protect
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protect.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

func (s *Server) csrfFailure(w http.ResponseWriter, r *http.Request) {
	s.Log.Warn("csrf check failed", "path", r.URL.Path, "reason", csrf.FailureReason(r))
	http.Error(w, "Forbidden - CSRF token invalid", http.StatusForbidden)
}
