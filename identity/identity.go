// Package identity is a client for the hosted identity service (GoTrue REST
// dialect) and its role lookup RPC.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Error is a failure reported by the provider. Message is shown to the user
// as is.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the token pair returned by a password or refresh grant.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Expiry returns when the access token stops being valid.
func (s Session) Expiry() time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
}

type Client struct {
	BaseURL   string
	AnonKey   string
	JWTSecret string
	HTTP      *http.Client
	Now       func() time.Time
}

func NewClient(baseURL, anonKey, jwtSecret string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		AnonKey:   anonKey,
		JWTSecret: jwtSecret,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Now:       time.Now,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if token == "" {
		token = c.AnonKey
	}
	req.Header.Set("apikey", c.AnonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Msg              string `json:"msg"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
		Error            string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(data, &body) == nil {
		for _, m := range []string{body.Msg, body.ErrorDescription, body.Message, body.Error} {
			if m != "" {
				msg = m
				break
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn exchanges email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"password"}}, "",
		credentials{Email: email, Password: password}, &s)
	return s, err
}

// SignUp registers a new account. The provider may require email
// confirmation before the account can sign in.
func (c *Client) SignUp(ctx context.Context, email, password string) (User, error) {
	var out struct {
		User
		Nested *User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, "", credentials{Email: email, Password: password}, &out); err != nil {
		return User{}, err
	}
	if out.Nested != nil {
		return *out.Nested, nil
	}
	return out.User, nil
}

// Refresh trades a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"refresh_token"}}, "",
		map[string]string{"refresh_token": refreshToken}, &s)
	return s, err
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, nil)
}

// Recover sends a password reset email whose link leads to redirectTo.
func (c *Client) Recover(ctx context.Context, email, redirectTo string) error {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/recover", q, "", map[string]string{"email": email}, nil)
}

// UpdatePassword sets a new password for the user owning accessToken.
func (c *Client) UpdatePassword(ctx context.Context, accessToken, password string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodPut, "/auth/v1/user", nil, accessToken, map[string]string{"password": password}, &u)
	return u, err
}

// User returns the account behind accessToken.
func (c *Client) User(ctx context.Context, accessToken string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &u)
	return u, err
}

// HasRole calls the has_role RPC of the record store.
func (c *Client) HasRole(ctx context.Context, accessToken, userID, role string) (bool, error) {
	var ok bool
	err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/has_role", nil, accessToken,
		map[string]string{"_user_id": userID, "_role": role}, &ok)
	return ok, err
}

// IsProviderError reports whether err came from the provider rather than the
// network.
func IsProviderError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
