// Package storage addresses the object storage holding activity images.
//
// Objects live in a bucket and are exposed under
// {base}/storage/v1/object/public/{bucket}/{path}; the bucket-relative path of
// a stored URL is recovered by locating the bucket name in it.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore uploads and deletes bucket objects.
type ObjectStore interface {
	// Upload stores body at the bucket-relative path and returns its public URL.
	Upload(ctx context.Context, objectPath, contentType string, body io.Reader) (string, error)
	// Delete removes the objects at the given bucket-relative paths.
	Delete(ctx context.Context, objectPaths ...string) error
	// PublicURL returns the public URL of a bucket-relative path.
	PublicURL(objectPath string) string
	// PathFromURL extracts the bucket-relative path from a public URL.
	PathFromURL(rawURL string) (string, bool)
}

const publicPrefix = "/storage/v1/object/public/"

// PublicURL joins base, bucket and path into the public object URL.
func PublicURL(base, bucket, objectPath string) string {
	return strings.TrimRight(base, "/") + publicPrefix + bucket + "/" + strings.TrimLeft(objectPath, "/")
}

// PathFromURL pattern-matches "/{bucket}/" in rawURL and returns what follows
// it, without query string or fragment.
func PathFromURL(bucket, rawURL string) (string, bool) {
	marker := "/" + bucket + "/"
	i := strings.Index(rawURL, marker)
	if i < 0 {
		return "", false
	}
	p := rawURL[i+len(marker):]
	if j := strings.IndexAny(p, "?#"); j >= 0 {
		p = p[:j]
	}
	if p == "" {
		return "", false
	}
	return p, true
}

// ObjectPath returns a fresh object path for an uploaded activity image.
func ObjectPath(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 8 {
		ext = ""
	}
	return "activities/" + uuid.NewString() + ext
}

// cleanPath rejects paths that escape the bucket.
func cleanPath(objectPath string) (string, bool) {
	p := path.Clean("/" + objectPath)
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." || strings.HasPrefix(p, "..") {
		return "", false
	}
	return p, true
}
