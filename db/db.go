package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
)

// HashCost is the bcrypt cost; tests lower it to bcrypt.MinCost.
var HashCost = 12

const schema = `
CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	slug TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	date TEXT NOT NULL,
	location TEXT NOT NULL,
	content TEXT NOT NULL,
	images TEXT NOT NULL DEFAULT '[]',
	image TEXT NOT NULL DEFAULT '',
	revision INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activities_created ON activities(created_at);

CREATE TABLE IF NOT EXISTS admin_credentials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username_hash TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	PRIMARY KEY (user_id, role)
);
`

// Open opens the sqlite database and creates the schema.
func Open(dataSourceName string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows a single writer; an in-memory database also needs a single
	// connection to stay the same database.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return conn, nil
}

// SeedAdmin stores hashes of the default admin credential when none exists.
// It reports whether a credential was created.
func SeedAdmin(conn *sql.DB) (bool, error) {
	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM admin_credentials").Scan(&count); err != nil {
		return false, fmt.Errorf("check admin credential: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	userHash, err := HashPassword(DefaultAdminUsername)
	if err != nil {
		return false, err
	}
	passHash, err := HashPassword(DefaultAdminPassword)
	if err != nil {
		return false, err
	}
	if _, err := conn.Exec("INSERT INTO admin_credentials (username_hash, password_hash) VALUES (?, ?)", userHash, passHash); err != nil {
		return false, fmt.Errorf("create default admin: %w", err)
	}
	slog.Warn("default admin credential created, change it after first login", "username", DefaultAdminUsername)
	return true, nil
}

// ErrNoCredential is returned when the credential table is empty.
var ErrNoCredential = errors.New("no admin credential")

// LoadCredential returns the stored username and password hashes.
func LoadCredential(conn *sql.DB) (usernameHash, passwordHash string, err error) {
	err = conn.QueryRow("SELECT username_hash, password_hash FROM admin_credentials ORDER BY id LIMIT 1").
		Scan(&usernameHash, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNoCredential
	}
	return usernameHash, passwordHash, err
}

// SetCredential overwrites the admin credential with the given plain values.
// An empty username keeps the stored username hash.
func SetCredential(conn *sql.DB, username, password string) error {
	passHash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if username == "" {
		res, err := conn.Exec("UPDATE admin_credentials SET password_hash = ?, updated_at = CURRENT_TIMESTAMP", passHash)
		if err != nil {
			return fmt.Errorf("update admin password: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNoCredential
		}
		return nil
	}

	userHash, err := HashPassword(username)
	if err != nil {
		return err
	}
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM admin_credentials"); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO admin_credentials (username_hash, password_hash) VALUES (?, ?)", userHash, passHash); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// HasRole reports whether userID holds role in the local role table.
func HasRole(conn *sql.DB, userID, role string) (bool, error) {
	var n int
	err := conn.QueryRow("SELECT COUNT(*) FROM user_roles WHERE user_id = ? AND role = ?", userID, role).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GrantRole adds role to userID; granting twice is a no-op.
func GrantRole(conn *sql.DB, userID, role string) error {
	_, err := conn.Exec("INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)", userID, role)
	return err
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
