package auth

import (
	"net/http"

	"ackg/activities"
)

// RequireAdmin lets admins through with their session in the request context.
// Visitors who are not signed in get login; signed-in users without the admin
// role get denied.
func RequireAdmin(a Authenticator, login, denied http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := a.Current(r.Context(), w, r)
			ctx := WithSession(r.Context(), s)
			if s.AccessToken != "" {
				ctx = activities.WithAccessToken(ctx, s.AccessToken)
			}
			r = r.WithContext(ctx)
			switch {
			case !s.Authenticated:
				login.ServeHTTP(w, r)
			case !s.Admin:
				denied.ServeHTTP(w, r)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
