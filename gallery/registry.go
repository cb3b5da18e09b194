package gallery

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an untouched draft is kept.
const DefaultTTL = 2 * time.Hour

// Registry holds the open drafts of every admin session.
type Registry struct {
	TTL time.Duration
	Now func() time.Time

	mu     sync.Mutex
	drafts map[string]*Draft
}

// NewRegistry returns an empty registry; a non-positive ttl means DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{TTL: ttl, Now: time.Now, drafts: make(map[string]*Draft)}
}

func (reg *Registry) now() time.Time {
	if reg.Now == nil {
		return time.Now()
	}
	return reg.Now()
}

// Open starts a draft for owner. activityID is empty for a new activity;
// images are the stored images of the record being edited.
func (reg *Registry) Open(owner, activityID string, images []string) *Draft {
	d := &Draft{
		Token:      uuid.NewString(),
		Owner:      owner,
		ActivityID: activityID,
		original:   slices.Clone(images),
		kept:       slices.Clone(images),
		touched:    reg.now(),
	}
	reg.mu.Lock()
	reg.drafts[d.Token] = d
	reg.mu.Unlock()
	return d
}

// Get returns the draft token belongs to, provided owner opened it and it has
// not expired.
func (reg *Registry) Get(token, owner string) (*Draft, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	d, ok := reg.drafts[token]
	if !ok || d.Owner != owner {
		return nil, ErrDraftNotFound
	}
	d.mu.Lock()
	expired := reg.now().Sub(d.touched) > reg.TTL
	if !expired {
		d.touched = reg.now()
	}
	d.mu.Unlock()
	if expired {
		delete(reg.drafts, token)
		d.Cancel()
		return nil, ErrDraftNotFound
	}
	return d, nil
}

// Close cancels and forgets a draft.
func (reg *Registry) Close(token string) {
	reg.mu.Lock()
	d, ok := reg.drafts[token]
	delete(reg.drafts, token)
	reg.mu.Unlock()
	if ok {
		d.Cancel()
	}
}

// Sweep drops expired drafts and returns how many were removed.
func (reg *Registry) Sweep() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	n := 0
	now := reg.now()
	for token, d := range reg.drafts {
		d.mu.Lock()
		expired := now.Sub(d.touched) > reg.TTL
		d.mu.Unlock()
		if expired {
			delete(reg.drafts, token)
			d.Cancel()
			n++
		}
	}
	return n
}

// Len is the number of open drafts.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.drafts)
}
