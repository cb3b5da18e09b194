package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicURLAndPathFromURL(t *testing.T) {
	u := PublicURL("https://x.example.co/", "activity-images", "activities/a.jpg")
	assert.Equal(t, "https://x.example.co/storage/v1/object/public/activity-images/activities/a.jpg", u)

	p, ok := PathFromURL("activity-images", u)
	require.True(t, ok)
	assert.Equal(t, "activities/a.jpg", p)

	p, ok = PathFromURL("activity-images", u+"?t=123")
	require.True(t, ok)
	assert.Equal(t, "activities/a.jpg", p)

	_, ok = PathFromURL("activity-images", "data:image/png;base64,AAAA")
	assert.False(t, ok)
	_, ok = PathFromURL("activity-images", "https://x.example.co/storage/v1/object/public/activity-images/")
	assert.False(t, ok)
}

func TestObjectPath(t *testing.T) {
	p1 := ObjectPath("Photo.JPG")
	p2 := ObjectPath("Photo.JPG")
	assert.True(t, strings.HasPrefix(p1, "activities/"))
	assert.True(t, strings.HasSuffix(p1, ".jpg"))
	assert.NotEqual(t, p1, p2)
}

func TestCleanPath(t *testing.T) {
	_, ok := cleanPath("../etc/passwd")
	assert.False(t, ok)
	p, ok := cleanPath("/activities/x.png")
	assert.True(t, ok)
	assert.Equal(t, "activities/x.png", p)
}

func TestLocalBucket(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalBucket(dir, "imgs", "http://localhost:8080")
	require.NoError(t, err)
	ctx := context.Background()

	u, err := b.Upload(ctx, "activities/one.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/storage/v1/object/public/imgs/activities/one.png", u)

	data, err := os.ReadFile(filepath.Join(dir, "imgs", "activities", "one.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/storage/v1/object/public/imgs/activities/one.png")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "png-bytes", string(body))

	// Same path twice is refused.
	_, err = b.Upload(ctx, "activities/one.png", "image/png", strings.NewReader("again"))
	assert.Error(t, err)

	p, ok := b.PathFromURL(u)
	require.True(t, ok)
	require.NoError(t, b.Delete(ctx, p, "activities/missing.png"))

	_, err = os.Stat(filepath.Join(dir, "imgs", "activities", "one.png"))
	assert.True(t, os.IsNotExist(err))

	resp, err = http.Get(srv.URL + "/storage/v1/object/public/imgs/activities/one.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLocalBucketRejectsEscapingPaths(t *testing.T) {
	b, err := NewLocalBucket(t.TempDir(), "imgs", "http://localhost")
	require.NoError(t, err)
	_, err = b.Upload(context.Background(), "../../escape.png", "image/png", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestRemoteBucket(t *testing.T) {
	var uploaded, deleted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/storage/v1/object/imgs/"):
			if strings.HasSuffix(r.URL.Path, "fail.png") {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"message":"The resource already exists"}`))
				return
			}
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			uploaded = append(uploaded, strings.TrimPrefix(r.URL.Path, "/storage/v1/object/imgs/"))
			w.Write([]byte(`{"Key":"imgs/x"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/storage/v1/object/imgs":
			var body struct {
				Prefixes []string `json:"prefixes"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			deleted = append(deleted, body.Prefixes...)
			w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := NewRemoteBucket(srv.URL, "imgs", "service-key")
	ctx := context.Background()

	u, err := b.Upload(ctx, "activities/a.png", "image/png", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/imgs/activities/a.png", u)
	assert.Equal(t, []string{"activities/a.png"}, uploaded)

	_, err = b.Upload(ctx, "activities/fail.png", "image/png", strings.NewReader("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "The resource already exists")

	require.NoError(t, b.Delete(ctx, "activities/a.png", "activities/b.png"))
	assert.Equal(t, []string{"activities/a.png", "activities/b.png"}, deleted)

	require.NoError(t, b.Delete(ctx))
}
