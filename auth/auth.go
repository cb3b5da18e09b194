package auth

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"errors"
	"net/http"

	"ackg/config"

	"github.com/gorilla/sessions"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated   = errors.New("not signed in")
	ErrNotAdmin           = errors.New("access denied")
	ErrUnsupported        = errors.New("not supported by this authentication mode")
)

const SessionName = "ackg-session"

var Store *sessions.CookieStore

func InitStore() {
	Store = NewStore(config.AppConfig.SessionKey, config.AppConfig.SecureCookies)
}

// NewStore builds the cookie store. Two 32-byte keys are derived from the
// session key: one signs the cookie, the other encrypts it.
func NewStore(sessionKey string, secure bool) *sessions.CookieStore {
	authKey := sha256.Sum256([]byte(sessionKey + "auth"))
	encKey := sha256.Sum256([]byte(sessionKey + "encryption"))

	store := sessions.NewCookieStore(authKey[:], encKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// Session is what the rest of the site knows about the visitor.
type Session struct {
	Authenticated bool
	Admin         bool
	UserID        string
	Email         string
	AccessToken   string
}

// Authenticator is one authentication stage: the local credential or the
// delegated identity provider.
type Authenticator interface {
	Mode() string
	Login(ctx context.Context, w http.ResponseWriter, r *http.Request, user, password string) (Session, error)
	Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	// Current loads the session of r, refreshing it when needed.
	Current(ctx context.Context, w http.ResponseWriter, r *http.Request) Session
	ChangePassword(ctx context.Context, w http.ResponseWriter, r *http.Request, oldPassword, newPassword string) error
	// RequestReset asks for a password reset email leading back to redirectTo.
	RequestReset(ctx context.Context, email, redirectTo string) error
}

const (
	keyLocal   = "local"
	keyAdmin   = "admin"
	keyUserID  = "uid"
	keyEmail   = "email"
	keyAccess  = "access_token"
	keyRefresh = "refresh_token"
)

func clearSession(store sessions.Store, w http.ResponseWriter, r *http.Request) error {
	session, _ := store.Get(r, SessionName)
	for k := range session.Values {
		delete(session.Values, k)
	}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// Flash is a one-shot notification shown on the next page.
type Flash struct {
	Kind    string
	Message string
}

const (
	FlashSuccess = "success"
	FlashError   = "error"
)

func init() {
	gob.Register(Flash{})
}

const flashSessionName = "ackg-flash"

// AddFlash queues a notification for the next rendered page.
func AddFlash(store sessions.Store, w http.ResponseWriter, r *http.Request, kind, message string) {
	session, _ := store.Get(r, flashSessionName)
	session.AddFlash(Flash{Kind: kind, Message: message})
	session.Save(r, w)
}

// Flashes pops the queued notifications.
func Flashes(store sessions.Store, w http.ResponseWriter, r *http.Request) []Flash {
	session, _ := store.Get(r, flashSessionName)
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil
	}
	session.Save(r, w)
	out := make([]Flash, 0, len(raw))
	for _, f := range raw {
		if flash, ok := f.(Flash); ok {
			out = append(out, flash)
		}
	}
	return out
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored by the admin gate.
func FromContext(ctx context.Context) Session {
	s, _ := ctx.Value(sessionKey{}).(Session)
	return s
}
