// Package gallery stages the images of an activity form until it is saved.
//
// A Draft mirrors one open add or edit form. Images already stored stay
// "kept"; new files stay "pending" in memory with a preview. Nothing reaches
// object storage before Commit, and removed stored images are only deleted
// after the record has been saved.
package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"ackg/storage"

	"github.com/google/uuid"
)

var (
	// ErrCrossBoundary is returned when a move would swap a stored image with
	// a pending one.
	ErrCrossBoundary    = errors.New("stored and new images cannot be swapped")
	ErrIndexOutOfRange  = errors.New("image index out of range")
	ErrDraftNotFound    = errors.New("draft not found")
	ErrAlreadyCommitted = errors.New("draft already submitted")
	ErrDraftClosed      = errors.New("draft is closed")
)

// AllowedTypes are the accepted image content types.
var AllowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// File is an image selected in the form.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Pending is a staged file not yet uploaded.
type Pending struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
}

// UploadFailure reports a file that could not be staged or uploaded.
type UploadFailure struct {
	Name string
	Err  error
}

func (f UploadFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Name, f.Err)
}

type state int

const (
	open state = iota
	committing
	committed
	cancelled
)

// Draft is the image state of one open add or edit form.
type Draft struct {
	Token      string
	Owner      string
	ActivityID string

	mu       sync.Mutex
	original []string
	kept     []string
	pending  []*Pending
	deferred []string
	state    state
	touched  time.Time
}

// Item is one entry of the combined view, kept images first.
type Item struct {
	Index   int
	URL     string
	Name    string
	Pending bool
}

// Items returns the combined view. Pending entries point to their preview.
func (d *Draft) Items() []Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	items := make([]Item, 0, len(d.kept)+len(d.pending))
	for _, u := range d.kept {
		items = append(items, Item{Index: len(items), URL: u})
	}
	for _, p := range d.pending {
		items = append(items, Item{Index: len(items), URL: PreviewPath(d.Token, p.ID), Name: p.Name, Pending: true})
	}
	return items
}

// PreviewPath is the admin URL serving a pending image preview.
func PreviewPath(token, id string) string {
	return "/admin/drafts/" + token + "/pending/" + id
}

// Deferred returns the stored images marked for deletion on save.
func (d *Draft) Deferred() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.deferred)
}

// KeptCount is the number of stored images still in the gallery.
func (d *Draft) KeptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.kept)
}

// PendingCount is the number of staged images not yet uploaded.
func (d *Draft) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Draft) writable() error {
	switch d.state {
	case open:
		d.touched = time.Now()
		return nil
	case committing, committed:
		return ErrAlreadyCommitted
	default:
		return ErrDraftClosed
	}
}

// Stage adds files to the pending list. Files that are not supported images
// are reported and skipped.
func (d *Draft) Stage(files []File) ([]*Pending, []UploadFailure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return nil, nil, err
	}

	var staged []*Pending
	var rejected []UploadFailure
	for _, f := range files {
		ct := detectType(f)
		if _, ok := AllowedTypes[ct]; !ok {
			rejected = append(rejected, UploadFailure{Name: f.Name, Err: fmt.Errorf("unsupported type %s", ct)})
			continue
		}
		p := &Pending{ID: uuid.NewString(), Name: f.Name, ContentType: ct, Data: f.Data}
		d.pending = append(d.pending, p)
		staged = append(staged, p)
	}
	return staged, rejected, nil
}

// detectType trusts the bytes over the declared type.
func detectType(f File) string {
	ct := http.DetectContentType(f.Data)
	if ct == "application/octet-stream" {
		ct = f.ContentType
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// Reorder swaps the entry at index with its neighbour in direction (-1 or +1).
func (d *Draft) Reorder(index, direction int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}
	if direction != -1 && direction != 1 {
		return fmt.Errorf("invalid direction %d", direction)
	}
	n := len(d.kept) + len(d.pending)
	j := index + direction
	if index < 0 || index >= n || j < 0 || j >= n {
		return ErrIndexOutOfRange
	}
	k := len(d.kept)
	if (index < k) != (j < k) {
		return ErrCrossBoundary
	}
	if index < k {
		d.kept[index], d.kept[j] = d.kept[j], d.kept[index]
		return nil
	}
	d.pending[index-k], d.pending[j-k] = d.pending[j-k], d.pending[index-k]
	return nil
}

// Remove drops the entry at index. A stored image of the original record is
// queued for deletion on save; a pending image is released at once.
func (d *Draft) Remove(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}
	k := len(d.kept)
	if index < 0 || index >= k+len(d.pending) {
		return ErrIndexOutOfRange
	}
	if index < k {
		u := d.kept[index]
		d.kept = slices.Delete(d.kept, index, index+1)
		if slices.Contains(d.original, u) && !slices.Contains(d.deferred, u) {
			d.deferred = append(d.deferred, u)
		}
		return nil
	}
	d.pending[index-k].Data = nil
	d.pending = slices.Delete(d.pending, index-k, index-k+1)
	return nil
}

// Preview returns a staged file by id.
func (d *Draft) Preview(id string) (*Pending, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pending {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// CommitResult describes a save. Failures lists the files that could not be
// uploaded; the record was saved without them. DeleteErr reports storage
// cleanup that did not go through, after a save or after a failed one.
type CommitResult struct {
	Images    []string
	Failures  []UploadFailure
	Deleted   []string
	DeleteErr error
}

// SaveFunc persists the final ordered image list.
type SaveFunc func(ctx context.Context, images []string) error

// InUseFunc returns the subset of urls still referenced by some record.
type InUseFunc func(ctx context.Context, urls []string) ([]string, error)

// Commit uploads pending files, saves the final list, and only then deletes
// the images removed during the edit. When save fails the new uploads are
// deleted again and the draft stays open.
func (d *Draft) Commit(ctx context.Context, objects storage.ObjectStore, save SaveFunc) (CommitResult, error) {
	return d.CommitWith(ctx, objects, save, nil)
}

// CommitWith is Commit where removed images that inUse still reports as
// referenced after the save are kept in storage. If inUse fails, every
// removed image is kept.
func (d *Draft) CommitWith(ctx context.Context, objects storage.ObjectStore, save SaveFunc, inUse InUseFunc) (CommitResult, error) {
	d.mu.Lock()
	if err := d.writable(); err != nil {
		d.mu.Unlock()
		return CommitResult{}, err
	}
	d.state = committing
	kept := slices.Clone(d.kept)
	pending := slices.Clone(d.pending)
	deferred := slices.Clone(d.deferred)
	d.mu.Unlock()

	var res CommitResult
	var uploadedPaths []string
	uploaded := make([]string, 0, len(pending))
	for _, p := range pending {
		objectPath := storage.ObjectPath(p.Name)
		if ext, ok := AllowedTypes[p.ContentType]; ok && !strings.HasSuffix(objectPath, ext) {
			objectPath = strings.TrimSuffix(objectPath, extOf(objectPath)) + ext
		}
		u, err := objects.Upload(ctx, objectPath, p.ContentType, bytes.NewReader(p.Data))
		if err != nil {
			res.Failures = append(res.Failures, UploadFailure{Name: p.Name, Err: err})
			continue
		}
		uploaded = append(uploaded, u)
		uploadedPaths = append(uploadedPaths, objectPath)
	}
	res.Images = append(append([]string{}, kept...), uploaded...)

	if err := save(ctx, res.Images); err != nil {
		if len(uploadedPaths) > 0 {
			// Orphans are harmless but waste space; report them.
			res.DeleteErr = objects.Delete(context.WithoutCancel(ctx), uploadedPaths...)
		}
		d.mu.Lock()
		d.state = open
		d.mu.Unlock()
		return res, err
	}

	if inUse != nil && len(deferred) > 0 {
		shared, err := inUse(ctx, deferred)
		if err != nil {
			res.DeleteErr = err
			deferred = nil
		} else {
			var unused []string
			for _, u := range deferred {
				if !slices.Contains(shared, u) {
					unused = append(unused, u)
				}
			}
			deferred = unused
		}
	}

	var paths []string
	for _, u := range deferred {
		if p, ok := objects.PathFromURL(u); ok {
			paths = append(paths, p)
		}
	}
	if len(paths) > 0 {
		if err := objects.Delete(ctx, paths...); err != nil {
			res.DeleteErr = err
		} else {
			res.Deleted = paths
		}
	}

	d.mu.Lock()
	d.state = committed
	d.kept = slices.Clone(res.Images)
	for _, p := range d.pending {
		p.Data = nil
	}
	d.pending = nil
	d.deferred = nil
	d.mu.Unlock()
	return res, nil
}

// Cancel discards previews and deferred deletions without touching storage.
func (d *Draft) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pending {
		p.Data = nil
	}
	d.pending = nil
	d.deferred = nil
	if d.state == open {
		d.state = cancelled
	}
}

func extOf(p string) string {
	i := strings.LastIndexByte(p, '.')
	if i < 0 || strings.ContainsRune(p[i:], '/') {
		return ""
	}
	return p[i:]
}
