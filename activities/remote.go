package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ackg/models"

	"github.com/google/uuid"
)

// RemoteStore reads and writes the hosted activities table through its REST
// interface (PostgREST query dialect).
type RemoteStore struct {
	BaseURL string
	APIKey  string
	Table   string
	Client  *http.Client
}

func NewRemoteStore(baseURL, apiKey string) *RemoteStore {
	return &RemoteStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Table:   "activities",
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// RemoteError carries the message returned by the record store.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("record store: %s (status %d)", e.Message, e.Status)
}

func (s *RemoteStore) do(ctx context.Context, method string, query url.Values, body any, out any) error {
	u := s.BaseURL + "/rest/v1/" + s.Table
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
	bearer := s.APIKey
	if tok := accessToken(ctx); tok != "" {
		bearer = tok
	}
	req.Header.Set("apikey", s.APIKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Message string `json:"message"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return &RemoteError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *RemoteStore) List(ctx context.Context) ([]models.Activity, error) {
	var list []models.Activity
	q := url.Values{"select": {"*"}, "order": {"created_at.desc"}}
	if err := s.do(ctx, http.MethodGet, q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *RemoteStore) one(ctx context.Context, column, value string) (models.Activity, error) {
	var list []models.Activity
	q := url.Values{"select": {"*"}, column: {"eq." + value}, "limit": {"1"}}
	if err := s.do(ctx, http.MethodGet, q, nil, &list); err != nil {
		return models.Activity{}, err
	}
	if len(list) == 0 {
		return models.Activity{}, ErrNotFound
	}
	return list[0], nil
}

func (s *RemoteStore) Get(ctx context.Context, id string) (models.Activity, error) {
	return s.one(ctx, "id", id)
}

func (s *RemoteStore) GetBySlug(ctx context.Context, slug string) (models.Activity, error) {
	a, err := s.one(ctx, "slug", slug)
	if errors.Is(err, ErrNotFound) {
		return s.one(ctx, "id", slug)
	}
	return a, err
}

type activityRow struct {
	ID        string    `json:"id,omitempty"`
	Slug      string    `json:"slug,omitempty"`
	Title     *string   `json:"title,omitempty"`
	Date      *string   `json:"date,omitempty"`
	Location  *string   `json:"location,omitempty"`
	Content   *string   `json:"content,omitempty"`
	Images    *[]string `json:"images,omitempty"`
	Image     *string   `json:"image,omitempty"`
	Revision  int       `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *RemoteStore) Create(ctx context.Context, f Fields) (models.Activity, error) {
	images := append([]string{}, f.Images...)
	row := activityRow{
		ID:        uuid.NewString(),
		Slug:      NewSlug(f.Title),
		Title:     &f.Title,
		Date:      &f.Date,
		Location:  &f.Location,
		Content:   &f.Content,
		Images:    &images,
		Revision:  1,
		UpdatedAt: time.Now().UTC(),
	}
	var out []models.Activity
	if err := s.do(ctx, http.MethodPost, nil, row, &out); err != nil {
		return models.Activity{}, err
	}
	if len(out) == 0 {
		return models.Activity{}, fmt.Errorf("record store: empty insert response")
	}
	return out[0], nil
}

// Update patches the row guarded by its current revision, so a concurrent
// writer makes the request match no row.
func (s *RemoteStore) Update(ctx context.Context, id string, p Patch) (models.Activity, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return models.Activity{}, err
	}
	if p.Revision != 0 && p.Revision != cur.Revision {
		return models.Activity{}, ErrConflict
	}

	row := activityRow{
		Title:     p.Title,
		Date:      p.Date,
		Location:  p.Location,
		Content:   p.Content,
		Images:    p.Images,
		Revision:  cur.Revision + 1,
		UpdatedAt: time.Now().UTC(),
	}
	if p.Images != nil {
		cleared := ""
		row.Image = &cleared
	}
	q := url.Values{"id": {"eq." + id}, "revision": {"eq." + strconv.Itoa(cur.Revision)}}
	var out []models.Activity
	if err := s.do(ctx, http.MethodPatch, q, row, &out); err != nil {
		return models.Activity{}, err
	}
	if len(out) == 0 {
		return models.Activity{}, ErrConflict
	}
	return out[0], nil
}

func (s *RemoteStore) Delete(ctx context.Context, id string) (models.Activity, error) {
	var out []models.Activity
	if err := s.do(ctx, http.MethodDelete, url.Values{"id": {"eq." + id}}, nil, &out); err != nil {
		return models.Activity{}, err
	}
	if len(out) == 0 {
		return models.Activity{}, ErrNotFound
	}
	return out[0], nil
}
