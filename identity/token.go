package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("access token expired")
	ErrTokenInvalid = errors.New("access token invalid")
)

// Claims are the parts of an access token the site relies on.
type Claims struct {
	Subject string
	Email   string
	Expiry  time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// VerifyToken checks an HS256 access token against the configured secret.
// Without a secret the token is checked by asking the provider for its user,
// and an expiry is read from the unverified claims.
func (c *Client) VerifyToken(ctx context.Context, token string) (Claims, error) {
	if c.JWTSecret == "" {
		return c.verifyRemote(ctx, token)
	}

	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return []byte(c.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrTokenExpired
	}
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if parsed.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return Claims{Subject: parsed.Subject, Email: parsed.Email, Expiry: parsed.ExpiresAt.Time}, nil
}

func (c *Client) verifyRemote(ctx context.Context, token string) (Claims, error) {
	var parsed accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &parsed); err == nil && parsed.ExpiresAt != nil {
		if !parsed.ExpiresAt.Time.After(c.now()) {
			return Claims{}, ErrTokenExpired
		}
	}

	u, err := c.User(ctx, token)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Status == 401 {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, err
	}
	claims := Claims{Subject: u.ID, Email: u.Email}
	if parsed.ExpiresAt != nil {
		claims.Expiry = parsed.ExpiresAt.Time
	}
	return claims, nil
}

func (c *Client) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
