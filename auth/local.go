package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"ackg/config"
	"ackg/db"

	"github.com/gorilla/sessions"
)

// LocalAuthenticator checks a single username/password pair whose bcrypt
// hashes live in the local database. There is no lockout or expiry.
type LocalAuthenticator struct {
	DB    *sql.DB
	Store sessions.Store
}

func NewLocalAuthenticator(conn *sql.DB, store sessions.Store) (*LocalAuthenticator, error) {
	if _, err := db.SeedAdmin(conn); err != nil {
		return nil, err
	}
	return &LocalAuthenticator{DB: conn, Store: store}, nil
}

func (a *LocalAuthenticator) Mode() string { return config.AuthLocal }

func (a *LocalAuthenticator) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, user, password string) (Session, error) {
	userHash, passHash, err := db.LoadCredential(a.DB)
	if err != nil {
		return Session{}, err
	}
	// Both hashes are always compared so timing does not reveal which input was wrong.
	userOK := db.CheckPasswordHash(strings.TrimSpace(user), userHash)
	passOK := db.CheckPasswordHash(password, passHash)
	if !userOK || !passOK {
		return Session{}, ErrInvalidCredentials
	}

	session, _ := a.Store.Get(r, SessionName)
	session.Values[keyLocal] = true
	session.Values[keyEmail] = strings.TrimSpace(user)
	if err := session.Save(r, w); err != nil {
		return Session{}, err
	}
	return a.sessionFrom(session), nil
}

func (a *LocalAuthenticator) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return clearSession(a.Store, w, r)
}

func (a *LocalAuthenticator) Current(ctx context.Context, w http.ResponseWriter, r *http.Request) Session {
	session, _ := a.Store.Get(r, SessionName)
	return a.sessionFrom(session)
}

// A local admin is always authorized.
func (a *LocalAuthenticator) sessionFrom(session *sessions.Session) Session {
	if ok, _ := session.Values[keyLocal].(bool); !ok {
		return Session{}
	}
	email, _ := session.Values[keyEmail].(string)
	return Session{Authenticated: true, Admin: true, UserID: "local", Email: email}
}

func (a *LocalAuthenticator) ChangePassword(ctx context.Context, w http.ResponseWriter, r *http.Request, oldPassword, newPassword string) error {
	if !a.Current(ctx, w, r).Authenticated {
		return ErrNotAuthenticated
	}
	if newPassword == "" {
		return ErrInvalidPassword
	}
	_, passHash, err := db.LoadCredential(a.DB)
	if err != nil {
		return err
	}
	if !db.CheckPasswordHash(oldPassword, passHash) {
		return ErrInvalidCredentials
	}
	if err := db.SetCredential(a.DB, "", newPassword); err != nil {
		if errors.Is(err, db.ErrNoCredential) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

func (a *LocalAuthenticator) RequestReset(ctx context.Context, email, redirectTo string) error {
	return ErrUnsupported
}

// ErrInvalidPassword rejects an empty new password.
var ErrInvalidPassword = errors.New("password cannot be empty")
