// Package activities manages the association's activity records.
package activities

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"ackg/models"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrNotFound = errors.New("activity not found")
	// ErrConflict is returned when an update carries a stale revision.
	ErrConflict = errors.New("activity was modified by someone else")
	ErrInvalid  = errors.New("invalid activity")
)

// Store persists activities. Implementations are safe for concurrent use.
type Store interface {
	// List returns every activity, newest first.
	List(ctx context.Context) ([]models.Activity, error)
	Get(ctx context.Context, id string) (models.Activity, error)
	// GetBySlug matches the stored slug, or the record id as an alias.
	GetBySlug(ctx context.Context, slug string) (models.Activity, error)
	Create(ctx context.Context, f Fields) (models.Activity, error)
	Update(ctx context.Context, id string, p Patch) (models.Activity, error)
	// Delete removes the record and returns it as it was.
	Delete(ctx context.Context, id string) (models.Activity, error)
}

// Fields are the user-editable fields of a new activity.
type Fields struct {
	Title    string
	Date     string
	Location string
	Content  string
	Images   []string
}

// Patch holds the fields to change; nil fields are left untouched. A non-zero
// Revision must match the stored one.
type Patch struct {
	Title    *string
	Date     *string
	Location *string
	Content  *string
	Images   *[]string
	Revision int
}

// Apply merges p into a copy of a.
func (p Patch) Apply(a models.Activity) models.Activity {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.Location != nil {
		a.Location = *p.Location
	}
	if p.Content != nil {
		a.Content = *p.Content
	}
	if p.Images != nil {
		// The list replaces the legacy single image as well.
		a.Images = append([]string(nil), (*p.Images)...)
		a.Image = ""
	}
	return a
}

// FieldError lists the missing required fields.
type FieldError struct {
	Missing []string
}

func (e *FieldError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

func (e *FieldError) Unwrap() error { return ErrInvalid }

// Validate checks that every required field is filled in.
func Validate(f Fields) error {
	var missing []string
	for _, c := range []struct{ name, v string }{
		{"title", f.Title},
		{"date", f.Date},
		{"location", f.Location},
		{"content", f.Content},
	} {
		if strings.TrimSpace(c.v) == "" {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return &FieldError{Missing: missing}
	}
	return nil
}

// ValidatePatch checks that a patch does not blank a required field.
func ValidatePatch(p Patch) error {
	var missing []string
	for _, c := range []struct {
		name string
		v    *string
	}{
		{"title", p.Title},
		{"date", p.Date},
		{"location", p.Location},
		{"content", p.Content},
	} {
		if c.v != nil && strings.TrimSpace(*c.v) == "" {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return &FieldError{Missing: missing}
	}
	return nil
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases title, strips diacritics and collapses every run of
// characters outside [a-z0-9] into a single hyphen.
func Slugify(title string) string {
	s, _, err := transform.String(stripMarks, strings.ToLower(title))
	if err != nil {
		s = strings.ToLower(title)
	}

	var b strings.Builder
	hyphen := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

const (
	slugSuffixLen = 6
	slugAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
	fallbackSlug  = "activite"
)

// NewSlug returns slugify(title) followed by a random suffix.
func NewSlug(title string) string {
	base := Slugify(title)
	if base == "" {
		base = fallbackSlug
	}
	return base + "-" + randomSuffix()
}

func randomSuffix() string {
	b := make([]byte, slugSuffixLen)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	for i := range b {
		b[i] = slugAlphabet[int(b[i])%len(slugAlphabet)]
	}
	return string(b)
}

type tokenKey struct{}

// WithAccessToken attaches the signed-in user's token; remote stores send it
// in place of the anonymous key.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func accessToken(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}
