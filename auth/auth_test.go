package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"ackg/db"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	db.HashCost = bcrypt.MinCost
}

// browser carries cookies between requests like a single browser context.
type browser struct {
	cookies map[string]*http.Cookie
}

func newBrowser() *browser { return &browser{cookies: make(map[string]*http.Cookie)} }

func (b *browser) request(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	for _, c := range b.cookies {
		r.AddCookie(c)
	}
	return r
}

func (b *browser) keep(w *httptest.ResponseRecorder) {
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
}

func testStore() *sessions.CookieStore {
	return NewStore("test-session-key", false)
}

func TestNewStore(t *testing.T) {
	s := NewStore("k", true)
	assert.True(t, s.Options.HttpOnly)
	assert.True(t, s.Options.Secure)
	assert.Equal(t, http.SameSiteLaxMode, s.Options.SameSite)
	assert.Equal(t, "/", s.Options.Path)
}

func newLocal(t *testing.T) *LocalAuthenticator {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	a, err := NewLocalAuthenticator(conn, testStore())
	require.NoError(t, err)
	return a
}

func TestLocalLogin(t *testing.T) {
	a := newLocal(t)
	ctx := context.Background()
	b := newBrowser()

	w := httptest.NewRecorder()
	_, err := a.Login(ctx, w, b.request(http.MethodPost, "/admin/login"), "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	b.keep(w)
	assert.False(t, a.Current(ctx, httptest.NewRecorder(), b.request(http.MethodGet, "/admin")).Authenticated)

	w = httptest.NewRecorder()
	_, err = a.Login(ctx, w, b.request(http.MethodPost, "/admin/login"), "root", db.DefaultAdminPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	w = httptest.NewRecorder()
	s, err := a.Login(ctx, w, b.request(http.MethodPost, "/admin/login"), db.DefaultAdminUsername, db.DefaultAdminPassword)
	require.NoError(t, err)
	assert.True(t, s.Authenticated)
	assert.True(t, s.Admin)
	b.keep(w)

	cur := a.Current(ctx, httptest.NewRecorder(), b.request(http.MethodGet, "/admin"))
	assert.True(t, cur.Authenticated)
	assert.True(t, cur.Admin)

	w = httptest.NewRecorder()
	require.NoError(t, a.Logout(ctx, w, b.request(http.MethodPost, "/admin/logout")))
	b.keep(w)
	assert.False(t, a.Current(ctx, httptest.NewRecorder(), b.request(http.MethodGet, "/admin")).Authenticated)
}

func TestLocalChangePassword(t *testing.T) {
	a := newLocal(t)
	ctx := context.Background()
	b := newBrowser()

	err := a.ChangePassword(ctx, httptest.NewRecorder(), b.request(http.MethodPost, "/admin/password"), db.DefaultAdminPassword, "next")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	w := httptest.NewRecorder()
	_, err = a.Login(ctx, w, b.request(http.MethodPost, "/admin/login"), "admin", "admin123")
	require.NoError(t, err)
	b.keep(w)

	err = a.ChangePassword(ctx, httptest.NewRecorder(), b.request(http.MethodPost, "/admin/password"), "bad-old", "next-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = a.ChangePassword(ctx, httptest.NewRecorder(), b.request(http.MethodPost, "/admin/password"), "admin123", "")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	require.NoError(t, a.ChangePassword(ctx, httptest.NewRecorder(), b.request(http.MethodPost, "/admin/password"), "admin123", "next-password"))

	_, err = a.Login(ctx, httptest.NewRecorder(), newBrowser().request(http.MethodPost, "/admin/login"), "admin", "admin123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Login(ctx, httptest.NewRecorder(), newBrowser().request(http.MethodPost, "/admin/login"), "admin", "next-password")
	assert.NoError(t, err)
}

func TestLocalRequestResetUnsupported(t *testing.T) {
	a := newLocal(t)
	assert.ErrorIs(t, a.RequestReset(context.Background(), "a@b.c", "/admin"), ErrUnsupported)
}

func TestFlashes(t *testing.T) {
	store := testStore()
	b := newBrowser()

	w := httptest.NewRecorder()
	AddFlash(store, w, b.request(http.MethodPost, "/admin"), FlashSuccess, "Activité enregistrée")
	b.keep(w)

	w = httptest.NewRecorder()
	flashes := Flashes(store, w, b.request(http.MethodGet, "/admin"))
	require.Len(t, flashes, 1)
	assert.Equal(t, Flash{Kind: FlashSuccess, Message: "Activité enregistrée"}, flashes[0])
	b.keep(w)

	assert.Empty(t, Flashes(store, httptest.NewRecorder(), b.request(http.MethodGet, "/admin")))
}

type staticAuth struct {
	Authenticator
	session Session
}

func (s staticAuth) Current(ctx context.Context, w http.ResponseWriter, r *http.Request) Session {
	return s.session
}

func TestRequireAdmin(t *testing.T) {
	named := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()).Authenticated {
				name += "+session"
			}
			w.Write([]byte(name))
		})
	}

	tests := []struct {
		name    string
		session Session
		want    string
	}{
		{"anonymous", Session{}, "login"},
		{"not admin", Session{Authenticated: true, UserID: "u2"}, "denied+session"},
		{"admin", Session{Authenticated: true, Admin: true, UserID: "u1"}, "next+session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := RequireAdmin(staticAuth{session: tt.session}, named("login"), named("denied"))
			w := httptest.NewRecorder()
			gate(named("next")).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}
