package activities

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ackg/models"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps activities in the local sqlite database. Images are
// stored as a JSON array.
type SQLiteStore struct {
	DB *sql.DB
}

func NewSQLiteStore(conn *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: conn}
}

const activityColumns = "id, slug, title, date, location, content, images, image, revision, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (models.Activity, error) {
	var a models.Activity
	var images string
	err := row.Scan(&a.ID, &a.Slug, &a.Title, &a.Date, &a.Location, &a.Content,
		&images, &a.Image, &a.Revision, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Activity{}, err
	}
	if err := json.Unmarshal([]byte(images), &a.Images); err != nil {
		return models.Activity{}, fmt.Errorf("decode images of %s: %w", a.ID, err)
	}
	return a, nil
}

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	b, err := json.Marshal(images)
	return string(b), err
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.Activity, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT "+activityColumns+" FROM activities ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var list []models.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.Activity, error) {
	a, err := scanActivity(s.DB.QueryRowContext(ctx, "SELECT "+activityColumns+" FROM activities WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Activity{}, ErrNotFound
	}
	return a, err
}

func (s *SQLiteStore) GetBySlug(ctx context.Context, slug string) (models.Activity, error) {
	a, err := scanActivity(s.DB.QueryRowContext(ctx,
		"SELECT "+activityColumns+" FROM activities WHERE slug = ? OR id = ? ORDER BY slug = ? DESC LIMIT 1", slug, slug, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Activity{}, ErrNotFound
	}
	return a, err
}

func (s *SQLiteStore) Create(ctx context.Context, f Fields) (models.Activity, error) {
	images, err := encodeImages(f.Images)
	if err != nil {
		return models.Activity{}, err
	}
	now := time.Now().UTC()
	a := models.Activity{
		ID:        uuid.NewString(),
		Title:     f.Title,
		Date:      f.Date,
		Location:  f.Location,
		Content:   f.Content,
		Images:    append([]string{}, f.Images...),
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// A random suffix collision is unlikely; retry a few times on the unique
	// index rather than checking first.
	for attempt := 0; ; attempt++ {
		a.Slug = NewSlug(f.Title)
		_, err = s.DB.ExecContext(ctx,
			"INSERT INTO activities ("+activityColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?)",
			a.ID, a.Slug, a.Title, a.Date, a.Location, a.Content, images, a.Revision, a.CreatedAt, a.UpdatedAt)
		if err == nil {
			return a, nil
		}
		var sqliteErr sqlite3.Error
		if attempt < 3 && errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			continue
		}
		return models.Activity{}, fmt.Errorf("create activity: %w", err)
	}
}

func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch) (models.Activity, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Activity{}, err
	}
	defer tx.Rollback()

	cur, err := scanActivity(tx.QueryRowContext(ctx, "SELECT "+activityColumns+" FROM activities WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Activity{}, ErrNotFound
	}
	if err != nil {
		return models.Activity{}, err
	}
	if p.Revision != 0 && p.Revision != cur.Revision {
		return models.Activity{}, ErrConflict
	}

	next := p.Apply(cur)
	next.Revision = cur.Revision + 1
	next.UpdatedAt = time.Now().UTC()
	images, err := encodeImages(next.Images)
	if err != nil {
		return models.Activity{}, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE activities SET title = ?, date = ?, location = ?, content = ?, images = ?, image = ?, revision = ?, updated_at = ? WHERE id = ? AND revision = ?",
		next.Title, next.Date, next.Location, next.Content, images, next.Image, next.Revision, next.UpdatedAt, id, cur.Revision)
	if err != nil {
		return models.Activity{}, fmt.Errorf("update activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Activity{}, err
	}
	return next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (models.Activity, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Activity{}, err
	}
	defer tx.Rollback()

	a, err := scanActivity(tx.QueryRowContext(ctx, "SELECT "+activityColumns+" FROM activities WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Activity{}, ErrNotFound
	}
	if err != nil {
		return models.Activity{}, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM activities WHERE id = ?", id); err != nil {
		return models.Activity{}, fmt.Errorf("delete activity: %w", err)
	}
	return a, tx.Commit()
}
