package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"DB_HOST", "DB_PORT", "API_PORT", "SESSION_EXPIRE_HOURS",
		"PRESENCE_STALE_MINUTES", "BACKUP_ENABLED", "JWT_SECRET", "ADMIN_PASSWORD_HASH",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, 12, cfg.SessionExpireHours)
	assert.Equal(t, 5, cfg.PresenceStaleMinutes)
	assert.False(t, cfg.BackupEnabled)
	// No JWT_SECRET in the environment means a random one is generated.
	assert.NotEmpty(t, cfg.JWTSecret)
	// No built-in admin credential.
	assert.Empty(t, cfg.AdminPasswordHash)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("API_PORT", "9090")
	t.Setenv("ADMIN_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("JWT_SECRET", "configured-secret")
	t.Setenv("BACKUP_ENABLED", "true")
	t.Setenv("PRESENCE_STALE_MINUTES", "not-a-number")

	cfg := Load()

	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.Equal(t, 5433, cfg.DBPort)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "$2a$10$abcdefghijklmnopqrstuv", cfg.AdminPasswordHash)
	assert.Equal(t, "configured-secret", cfg.JWTSecret)
	assert.True(t, cfg.BackupEnabled)
	// Malformed numbers fall back to the default.
	assert.Equal(t, 5, cfg.PresenceStaleMinutes)
}
