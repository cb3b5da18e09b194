package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	HashCost = bcrypt.MinCost
}

func TestOpen(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "test_ackg.db"))
	require.NoError(t, err)
	defer conn.Close()

	for _, table := range []string{"activities", "admin_credentials", "user_roles"} {
		var count int
		err := conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
		assert.NoError(t, err, "could not query %s table", table)
	}
}

func TestSeedAdmin(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	created, err := SeedAdmin(conn)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = SeedAdmin(conn)
	require.NoError(t, err)
	assert.False(t, created, "second seed must keep the existing credential")

	userHash, passHash, err := LoadCredential(conn)
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash(DefaultAdminUsername, userHash))
	assert.True(t, CheckPasswordHash(DefaultAdminPassword, passHash))
	assert.NotContains(t, userHash, DefaultAdminUsername)
}

func TestSetCredential(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	assert.ErrorIs(t, SetCredential(conn, "", "whatever"), ErrNoCredential)

	_, err = SeedAdmin(conn)
	require.NoError(t, err)

	require.NoError(t, SetCredential(conn, "", "new-secret"))
	userHash, passHash, err := LoadCredential(conn)
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash(DefaultAdminUsername, userHash))
	assert.True(t, CheckPasswordHash("new-secret", passHash))

	require.NoError(t, SetCredential(conn, "president", "other-secret"))
	userHash, passHash, err = LoadCredential(conn)
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("president", userHash))
	assert.True(t, CheckPasswordHash("other-secret", passHash))
}

func TestLoadCredentialEmpty(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = LoadCredential(conn)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestRoles(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	ok, err := HasRole(conn, "u1", "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, GrantRole(conn, "u1", "admin"))
	require.NoError(t, GrantRole(conn, "u1", "admin"))

	ok, err = HasRole(conn, "u1", "admin")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasRole(conn, "u2", "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("mypassword")
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("mypassword", hash))
	assert.False(t, CheckPasswordHash("wrongpassword", hash))
}
