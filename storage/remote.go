package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RemoteBucket talks to the hosted storage REST API.
type RemoteBucket struct {
	BaseURL string
	Bucket  string
	APIKey  string
	Client  *http.Client
}

func NewRemoteBucket(baseURL, bucket, apiKey string) *RemoteBucket {
	return &RemoteBucket{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bucket:  bucket,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *RemoteBucket) objectURL(objectPath string) string {
	segs := strings.Split(objectPath, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return b.BaseURL + "/storage/v1/object/" + url.PathEscape(b.Bucket) + "/" + strings.Join(segs, "/")
}

func (b *RemoteBucket) authorize(req *http.Request) {
	req.Header.Set("apikey", b.APIKey)
	req.Header.Set("Authorization", "Bearer "+b.APIKey)
}

func (b *RemoteBucket) Upload(ctx context.Context, objectPath, contentType string, body io.Reader) (string, error) {
	p, ok := cleanPath(objectPath)
	if !ok {
		return "", fmt.Errorf("invalid object path %q", objectPath)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.objectURL(p), body)
	if err != nil {
		return "", err
	}
	b.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	req.Header.Set("Cache-Control", "max-age=3600")

	resp, err := b.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload %s: %w", p, readError(resp))
	}
	return b.PublicURL(p), nil
}

func (b *RemoteBucket) Delete(ctx context.Context, objectPaths ...string) error {
	if len(objectPaths) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string][]string{"prefixes": objectPaths})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		b.BaseURL+"/storage/v1/object/"+url.PathEscape(b.Bucket), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	b.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("delete objects: %w", readError(resp))
	}
	return nil
}

func (b *RemoteBucket) PublicURL(objectPath string) string {
	return PublicURL(b.BaseURL, b.Bucket, objectPath)
}

func (b *RemoteBucket) PathFromURL(rawURL string) (string, bool) {
	return PathFromURL(b.Bucket, rawURL)
}

func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return fmt.Errorf("storage: %s (status %d)", body.Message, resp.StatusCode)
		}
		if body.Error != "" {
			return fmt.Errorf("storage: %s (status %d)", body.Error, resp.StatusCode)
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return fmt.Errorf("storage: status %d", resp.StatusCode)
}
