package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"ackg/config"
	"ackg/db"
	"ackg/identity"
	"ackg/models"

	"github.com/gorilla/sessions"
)

// RoleChecker answers the admin role query for a user.
type RoleChecker interface {
	HasRole(ctx context.Context, accessToken, userID, role string) (bool, error)
}

// LocalRoles looks roles up in the local user_roles table.
type LocalRoles struct {
	DB *sql.DB
}

func (l LocalRoles) HasRole(ctx context.Context, accessToken, userID, role string) (bool, error) {
	return db.HasRole(l.DB, userID, role)
}

type EventType string

const (
	SignedIn       EventType = "SIGNED_IN"
	SignedOut      EventType = "SIGNED_OUT"
	TokenRefreshed EventType = "TOKEN_REFRESHED"
)

type Event struct {
	Type   EventType
	UserID string
	Email  string
	Admin  bool
}

// DelegatedAuthenticator signs users in through the identity provider and
// keeps their tokens in the session cookie.
type DelegatedAuthenticator struct {
	Client *identity.Client
	Roles  RoleChecker
	Store  sessions.Store
	Log    *slog.Logger

	mu          sync.Mutex
	nextID      int
	subscribers map[int]func(Event)
}

func NewDelegatedAuthenticator(client *identity.Client, roles RoleChecker, store sessions.Store, log *slog.Logger) *DelegatedAuthenticator {
	if log == nil {
		log = slog.Default()
	}
	if roles == nil {
		roles = client
	}
	return &DelegatedAuthenticator{
		Client:      client,
		Roles:       roles,
		Store:       store,
		Log:         log,
		subscribers: make(map[int]func(Event)),
	}
}

func (a *DelegatedAuthenticator) Mode() string { return config.AuthDelegated }

// Subscribe registers fn for session events and returns a function removing it.
func (a *DelegatedAuthenticator) Subscribe(fn func(Event)) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.subscribers[id] = fn
	return func() {
		a.mu.Lock()
		delete(a.subscribers, id)
		a.mu.Unlock()
	}
}

func (a *DelegatedAuthenticator) emit(e Event) {
	a.mu.Lock()
	fns := make([]func(Event), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// isAdmin fails closed: any error means not admin.
func (a *DelegatedAuthenticator) isAdmin(ctx context.Context, token, userID string) bool {
	ok, err := a.Roles.HasRole(ctx, token, userID, models.RoleAdmin)
	if err != nil {
		a.Log.Warn("role check failed", "user", userID, "err", err)
		return false
	}
	return ok
}

func (a *DelegatedAuthenticator) store(w http.ResponseWriter, r *http.Request, s identity.Session, admin bool) error {
	session, _ := a.Store.Get(r, SessionName)
	session.Values[keyAccess] = s.AccessToken
	session.Values[keyRefresh] = s.RefreshToken
	session.Values[keyUserID] = s.User.ID
	session.Values[keyEmail] = s.User.Email
	session.Values[keyAdmin] = admin
	return session.Save(r, w)
}

func (a *DelegatedAuthenticator) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, email, password string) (Session, error) {
	s, err := a.Client.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return Session{}, err
	}
	admin := a.isAdmin(ctx, s.AccessToken, s.User.ID)
	if err := a.store(w, r, s, admin); err != nil {
		return Session{}, err
	}
	a.emit(Event{Type: SignedIn, UserID: s.User.ID, Email: s.User.Email, Admin: admin})
	return Session{Authenticated: true, Admin: admin, UserID: s.User.ID, Email: s.User.Email, AccessToken: s.AccessToken}, nil
}

func (a *DelegatedAuthenticator) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	session, _ := a.Store.Get(r, SessionName)
	token, _ := session.Values[keyAccess].(string)
	userID, _ := session.Values[keyUserID].(string)
	email, _ := session.Values[keyEmail].(string)
	if token != "" {
		if err := a.Client.SignOut(ctx, token); err != nil {
			a.Log.Warn("provider sign out failed", "user", userID, "err", err)
		}
	}
	if err := clearSession(a.Store, w, r); err != nil {
		return err
	}
	if userID != "" {
		a.emit(Event{Type: SignedOut, UserID: userID, Email: email})
	}
	return nil
}

// Current verifies the stored access token and refreshes it once it has
// expired. A failed refresh signs the session out.
func (a *DelegatedAuthenticator) Current(ctx context.Context, w http.ResponseWriter, r *http.Request) Session {
	session, _ := a.Store.Get(r, SessionName)
	token, _ := session.Values[keyAccess].(string)
	if token == "" {
		return Session{}
	}
	userID, _ := session.Values[keyUserID].(string)
	email, _ := session.Values[keyEmail].(string)
	admin, _ := session.Values[keyAdmin].(bool)

	claims, err := a.Client.VerifyToken(ctx, token)
	switch {
	case err == nil:
		if claims.Subject != userID {
			a.signOut(w, r, userID, email)
			return Session{}
		}
		return Session{Authenticated: true, Admin: admin, UserID: userID, Email: email, AccessToken: token}
	case errors.Is(err, identity.ErrTokenExpired):
		refresh, _ := session.Values[keyRefresh].(string)
		s, err := a.Client.Refresh(ctx, refresh)
		if err != nil {
			a.Log.Info("session refresh failed", "user", userID, "err", err)
			a.signOut(w, r, userID, email)
			return Session{}
		}
		admin = a.isAdmin(ctx, s.AccessToken, s.User.ID)
		if err := a.store(w, r, s, admin); err != nil {
			a.Log.Error("save refreshed session", "err", err)
		}
		a.emit(Event{Type: TokenRefreshed, UserID: s.User.ID, Email: s.User.Email, Admin: admin})
		return Session{Authenticated: true, Admin: admin, UserID: s.User.ID, Email: s.User.Email, AccessToken: s.AccessToken}
	case errors.Is(err, identity.ErrTokenInvalid):
		a.signOut(w, r, userID, email)
		return Session{}
	default:
		// Provider unreachable: treat as signed out for this request only.
		a.Log.Warn("session check failed", "user", userID, "err", err)
		return Session{}
	}
}

func (a *DelegatedAuthenticator) signOut(w http.ResponseWriter, r *http.Request, userID, email string) {
	if err := clearSession(a.Store, w, r); err != nil {
		a.Log.Error("clear session", "err", err)
	}
	a.emit(Event{Type: SignedOut, UserID: userID, Email: email})
}

// ChangePassword re-checks the old password with a password grant, then
// updates it with the fresh token.
func (a *DelegatedAuthenticator) ChangePassword(ctx context.Context, w http.ResponseWriter, r *http.Request, oldPassword, newPassword string) error {
	cur := a.Current(ctx, w, r)
	if !cur.Authenticated {
		return ErrNotAuthenticated
	}
	if newPassword == "" {
		return ErrInvalidPassword
	}
	s, err := a.Client.SignIn(ctx, cur.Email, oldPassword)
	if err != nil {
		var e *identity.Error
		if errors.As(err, &e) && e.Status < 500 {
			return ErrInvalidCredentials
		}
		return err
	}
	if _, err := a.Client.UpdatePassword(ctx, s.AccessToken, newPassword); err != nil {
		return err
	}
	return a.store(w, r, s, cur.Admin)
}

func (a *DelegatedAuthenticator) RequestReset(ctx context.Context, email, redirectTo string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidCredentials
	}
	return a.Client.Recover(ctx, email, redirectTo)
}
