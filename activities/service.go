package activities

import (
	"context"
	"log/slog"
	"slices"

	"ackg/models"
	"ackg/storage"
)

// Service validates writes before they reach the store and releases the
// stored images of deleted activities.
type Service struct {
	Store   Store
	Objects storage.ObjectStore
	Log     *slog.Logger
}

func NewService(store Store, objects storage.ObjectStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Store: store, Objects: objects, Log: log}
}

func (s *Service) List(ctx context.Context) ([]models.Activity, error) {
	return s.Store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (models.Activity, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (models.Activity, error) {
	return s.Store.GetBySlug(ctx, slug)
}

// Recent returns at most n activities, newest first.
func (s *Service) Recent(ctx context.Context, n int) ([]models.Activity, error) {
	list, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) > n {
		list = list[:n]
	}
	return list, nil
}

func (s *Service) Create(ctx context.Context, f Fields) (models.Activity, error) {
	if err := Validate(f); err != nil {
		return models.Activity{}, err
	}
	a, err := s.Store.Create(ctx, f)
	if err != nil {
		return models.Activity{}, err
	}
	s.Log.Info("activity created", "id", a.ID, "slug", a.Slug)
	return a, nil
}

func (s *Service) Update(ctx context.Context, id string, p Patch) (models.Activity, error) {
	if err := ValidatePatch(p); err != nil {
		return models.Activity{}, err
	}
	a, err := s.Store.Update(ctx, id, p)
	if err != nil {
		return models.Activity{}, err
	}
	s.Log.Info("activity updated", "id", a.ID, "revision", a.Revision)
	return a, nil
}

// InUse returns the subset of urls that some activity still displays.
func (s *Service) InUse(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	list, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	shown := make(map[string]bool)
	for _, a := range list {
		for _, u := range a.Gallery() {
			shown[u] = true
		}
	}
	var out []string
	for _, u := range urls {
		if shown[u] {
			out = append(out, u)
		}
	}
	return out, nil
}

// DeleteResult describes a deletion. ReleaseErr is set when some image
// objects could not be deleted; the record is gone regardless.
type DeleteResult struct {
	Activity   models.Activity
	Released   []string
	ReleaseErr error
}

// Delete removes the activity, then deletes every image it referenced that no
// remaining activity uses.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	a, err := s.Store.Delete(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	res := DeleteResult{Activity: a}
	s.Log.Info("activity deleted", "id", a.ID)

	images := a.Gallery()
	if len(images) == 0 || s.Objects == nil {
		return res, nil
	}
	shared, err := s.InUse(ctx, images)
	if err != nil {
		// Without the remaining list a shared image could be lost; keep them all.
		res.ReleaseErr = err
		s.Log.Warn("images of deleted activity kept", "id", a.ID, "err", err)
		return res, nil
	}

	var paths []string
	for _, u := range images {
		if slices.Contains(shared, u) {
			continue
		}
		if p, ok := s.Objects.PathFromURL(u); ok {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return res, nil
	}
	if err := s.Objects.Delete(ctx, paths...); err != nil {
		res.ReleaseErr = err
		s.Log.Error("release activity images", "id", a.ID, "err", err)
		return res, nil
	}
	res.Released = paths
	return res, nil
}
