package models

import "time"

// Activity is a published event/post of the association. Images keep the
// order chosen in the admin console.
type Activity struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	Location  string    `json:"location"`
	Content   string    `json:"content"`
	Images    []string  `json:"images"`
	Image     string    `json:"image,omitempty"` // legacy single image
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Gallery returns the images to display, falling back to the legacy field.
func (a Activity) Gallery() []string {
	if len(a.Images) > 0 {
		return a.Images
	}
	if a.Image != "" {
		return []string{a.Image}
	}
	return nil
}

// Cover is the first gallery image, or "".
func (a Activity) Cover() string {
	if g := a.Gallery(); len(g) > 0 {
		return g[0]
	}
	return ""
}

type AdminCredential struct {
	ID           int       `json:"id"`
	UsernameHash string    `json:"-"`
	PasswordHash string    `json:"-"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UserRole struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

const RoleAdmin = "admin"
