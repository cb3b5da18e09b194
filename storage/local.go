package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalBucket keeps objects on disk under Dir/Bucket. The main site serves
// them at the same URL shape as the hosted storage.
type LocalBucket struct {
	Dir     string
	Bucket  string
	BaseURL string
}

func NewLocalBucket(dir, bucket, baseURL string) (*LocalBucket, error) {
	root := filepath.Join(dir, bucket)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket directory '%s': %w", root, err)
	}
	return &LocalBucket{Dir: dir, Bucket: bucket, BaseURL: baseURL}, nil
}

func (b *LocalBucket) root() string { return filepath.Join(b.Dir, b.Bucket) }

func (b *LocalBucket) Upload(ctx context.Context, objectPath, contentType string, body io.Reader) (string, error) {
	p, ok := cleanPath(objectPath)
	if !ok {
		return "", fmt.Errorf("invalid object path %q", objectPath)
	}
	target := filepath.Join(b.root(), filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create object %s: %w", p, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(target)
		return "", fmt.Errorf("write object %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return b.PublicURL(p), nil
}

// Delete removes each object; missing objects are skipped.
func (b *LocalBucket) Delete(ctx context.Context, objectPaths ...string) error {
	var errs []error
	for _, op := range objectPaths {
		p, ok := cleanPath(op)
		if !ok {
			errs = append(errs, fmt.Errorf("invalid object path %q", op))
			continue
		}
		err := os.Remove(filepath.Join(b.root(), filepath.FromSlash(p)))
		if err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("delete object %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (b *LocalBucket) PublicURL(objectPath string) string {
	return PublicURL(b.BaseURL, b.Bucket, objectPath)
}

func (b *LocalBucket) PathFromURL(rawURL string) (string, bool) {
	return PathFromURL(b.Bucket, rawURL)
}

// Handler serves the bucket at /storage/v1/object/public/{bucket}/.
func (b *LocalBucket) Handler() http.Handler {
	prefix := publicPrefix + b.Bucket + "/"
	fs := http.FileServer(http.Dir(b.root()))
	return http.StripPrefix(prefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	}))
}

// MountPath is the route prefix Handler expects.
func (b *LocalBucket) MountPath() string {
	return publicPrefix + b.Bucket + "/"
}
