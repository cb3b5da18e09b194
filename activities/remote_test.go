package activities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"ackg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable mimics the subset of the PostgREST dialect used by RemoteStore.
type fakeTable struct {
	mu         sync.Mutex
	rows       []models.Activity
	lastBearer string
}

func eqValue(r *http.Request, column string) (string, bool) {
	v := r.URL.Query().Get(column)
	if v == "" {
		return "", false
	}
	return strings.TrimPrefix(v, "eq."), true
}

func (f *fakeTable) match(r *http.Request, a models.Activity) bool {
	if v, ok := eqValue(r, "id"); ok && a.ID != v {
		return false
	}
	if v, ok := eqValue(r, "slug"); ok && a.Slug != v {
		return false
	}
	if v, ok := eqValue(r, "revision"); ok && strconv.Itoa(a.Revision) != v {
		return false
	}
	return true
}

func (f *fakeTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBearer = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if r.Header.Get("apikey") != "anon" {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid API key"}`))
		return
	}
	if r.URL.Path != "/rest/v1/activities" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	out := []models.Activity{}
	switch r.Method {
	case http.MethodGet:
		// rows are kept newest first
		for _, a := range f.rows {
			if f.match(r, a) {
				out = append(out, a)
			}
		}
	case http.MethodPost:
		var a models.Activity
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if a.Title == "boom" {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"message":"duplicate key value violates unique constraint"}`))
			return
		}
		a.CreatedAt = time.Now().UTC()
		f.rows = append([]models.Activity{a}, f.rows...)
		out = append(out, a)
	case http.MethodPatch:
		var patch map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for i, a := range f.rows {
			if !f.match(r, a) {
				continue
			}
			b, _ := json.Marshal(a)
			var merged map[string]json.RawMessage
			json.Unmarshal(b, &merged)
			for k, v := range patch {
				merged[k] = v
			}
			b, _ = json.Marshal(merged)
			var next models.Activity
			json.Unmarshal(b, &next)
			f.rows[i] = next
			out = append(out, next)
		}
	case http.MethodDelete:
		kept := f.rows[:0]
		for _, a := range f.rows {
			if f.match(r, a) {
				out = append(out, a)
				continue
			}
			kept = append(kept, a)
		}
		f.rows = kept
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func newRemoteStore(t *testing.T) (*RemoteStore, *fakeTable) {
	t.Helper()
	table := &fakeTable{}
	srv := httptest.NewServer(table)
	t.Cleanup(srv.Close)
	return NewRemoteStore(srv.URL, "anon"), table
}

func TestRemoteCreateListGet(t *testing.T) {
	s, table := newRemoteStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, nowruz())
	require.NoError(t, err)
	assert.Regexp(t, `^fete-du-nowruz-[a-z0-9]{6}$`, a.Slug)
	assert.Equal(t, []string{}, a.Images)
	assert.Equal(t, "anon", table.lastBearer)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Fête du Nowruz", list[0].Title)
	assert.Equal(t, "Genève", list[0].Location)

	got, err := s.GetBySlug(ctx, a.Slug)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	got, err = s.GetBySlug(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Slug, got.Slug)

	_, err = s.GetBySlug(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteUsesAccessToken(t *testing.T) {
	s, table := newRemoteStore(t)
	ctx := WithAccessToken(context.Background(), "user-jwt")

	_, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-jwt", table.lastBearer)
}

func TestRemoteUpdate(t *testing.T) {
	s, _ := newRemoteStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, nowruz())
	require.NoError(t, err)

	content := "Venez très nombreux"
	got, err := s.Update(ctx, a.ID, Patch{Content: &content, Revision: a.Revision})
	require.NoError(t, err)
	assert.Equal(t, content, got.Content)
	assert.Equal(t, a.Title, got.Title)
	assert.Equal(t, 2, got.Revision)

	_, err = s.Update(ctx, a.ID, Patch{Content: &content, Revision: a.Revision})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.Update(ctx, "missing", Patch{Content: &content})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteDelete(t *testing.T) {
	s, _ := newRemoteStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, nowruz())
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, deleted.ID)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Delete(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteErrorMessage(t *testing.T) {
	s, _ := newRemoteStore(t)
	f := nowruz()
	f.Title = "boom"
	_, err := s.Create(context.Background(), f)
	require.Error(t, err)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusConflict, re.Status)
	assert.Equal(t, "duplicate key value violates unique constraint", re.Message)

	bad := NewRemoteStore(s.BaseURL, "wrong")
	_, err = bad.List(context.Background())
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Invalid API key", re.Message)
}

func TestRemoteImagesReplaceLegacyImage(t *testing.T) {
	s, table := newRemoteStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, nowruz())
	require.NoError(t, err)
	table.mu.Lock()
	table.rows[0].Image = "legacy.png"
	table.mu.Unlock()

	loc := "Lausanne"
	got, err := s.Update(ctx, a.ID, Patch{Location: &loc})
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy.png"}, got.Gallery())

	images := []string{"u1"}
	got, err = s.Update(ctx, a.ID, Patch{Images: &images})
	require.NoError(t, err)
	assert.Empty(t, got.Image)
	assert.Equal(t, []string{"u1"}, got.Gallery())

	got, err = s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Image)
}
