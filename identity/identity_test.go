package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ExpiresAt: jwt.NewNumericDate(exp)},
		Email:            sub + "@ackg.ch",
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

type fakeProvider struct {
	t        *testing.T
	password string
	recovers []string
	admins   map[string]bool
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != "anon" {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "No API key found in request"})
		return
	}
	var body map[string]string
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	write := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	session := func(user string) map[string]any {
		return map[string]any{
			"access_token":  signToken(p.t, user, time.Now().Add(time.Hour)),
			"refresh_token": "refresh-" + user,
			"expires_in":    3600,
			"user":          map[string]string{"id": user, "email": user + "@ackg.ch"},
		}
	}

	switch {
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		if body["password"] != p.password {
			write(http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		write(http.StatusOK, session("u1"))
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		if body["refresh_token"] != "refresh-u1" {
			write(http.StatusBadRequest, map[string]string{"error_description": "Invalid Refresh Token"})
			return
		}
		write(http.StatusOK, session("u1"))
	case r.URL.Path == "/auth/v1/signup":
		write(http.StatusOK, map[string]any{"user": map[string]string{"id": "u2", "email": body["email"]}})
	case r.URL.Path == "/auth/v1/logout":
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/auth/v1/recover":
		p.recovers = append(p.recovers, body["email"]+"|"+r.URL.Query().Get("redirect_to"))
		write(http.StatusOK, map[string]any{})
	case r.URL.Path == "/auth/v1/user" && r.Method == http.MethodPut:
		if len(body["password"]) < 6 {
			write(http.StatusUnprocessableEntity, map[string]string{"msg": "Password should be at least 6 characters"})
			return
		}
		p.password = body["password"]
		write(http.StatusOK, map[string]string{"id": "u1", "email": "u1@ackg.ch"})
	case r.URL.Path == "/auth/v1/user":
		if r.Header.Get("Authorization") == "Bearer anon" {
			write(http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
			return
		}
		write(http.StatusOK, map[string]string{"id": "u1", "email": "u1@ackg.ch"})
	case r.URL.Path == "/rest/v1/rpc/has_role":
		write(http.StatusOK, p.admins[body["_user_id"]] && body["_role"] == "admin")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newClient(t *testing.T) (*Client, *fakeProvider) {
	t.Helper()
	p := &fakeProvider{t: t, password: "correct", admins: map[string]bool{"u1": true}}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "anon", testSecret), p
}

func TestSignIn(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	s, err := c.SignIn(ctx, "u1@ackg.ch", "correct")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.User.ID)
	assert.Equal(t, "refresh-u1", s.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.Expiry(), time.Minute)

	_, err = c.SignIn(ctx, "u1@ackg.ch", "wrong")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "Invalid login credentials", e.Message)
	assert.True(t, IsProviderError(err))
}

func TestRefreshSignOutSignUp(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	s, err := c.Refresh(ctx, "refresh-u1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.AccessToken)

	_, err = c.Refresh(ctx, "stale")
	assert.EqualError(t, err, "Invalid Refresh Token")

	require.NoError(t, c.SignOut(ctx, s.AccessToken))

	u, err := c.SignUp(ctx, "new@ackg.ch", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u2", u.ID)
	assert.Equal(t, "new@ackg.ch", u.Email)
}

func TestRecoverAndUpdatePassword(t *testing.T) {
	c, p := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Recover(ctx, "u1@ackg.ch", "https://ackg.ch/admin"))
	assert.Equal(t, []string{"u1@ackg.ch|https://ackg.ch/admin"}, p.recovers)

	_, err := c.UpdatePassword(ctx, "tok", "123")
	assert.EqualError(t, err, "Password should be at least 6 characters")

	_, err = c.UpdatePassword(ctx, "tok", "new-password")
	require.NoError(t, err)
	assert.Equal(t, "new-password", p.password)
}

func TestHasRole(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	ok, err := c.HasRole(ctx, "tok", "u1", "admin")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasRole(ctx, "tok", "u9", "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyToken(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	claims, err := c.VerifyToken(ctx, signToken(t, "u1", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "u1@ackg.ch", claims.Email)

	_, err = c.VerifyToken(ctx, signToken(t, "u1", time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = c.VerifyToken(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	forged, err := other.SignedString([]byte("another-secret"))
	require.NoError(t, err)
	_, err = c.VerifyToken(ctx, forged)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenWithoutSecret(t *testing.T) {
	c, _ := newClient(t)
	c.JWTSecret = ""
	ctx := context.Background()

	claims, err := c.VerifyToken(ctx, signToken(t, "u1", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)

	_, err = c.VerifyToken(ctx, signToken(t, "u1", time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrTokenExpired)
}
