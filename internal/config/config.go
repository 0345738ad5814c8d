package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (optional, used for admin session revocation)
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Admin access
	AdminPasswordHash  string // bcrypt digest, required
	AdminTOTPSecret    string // optional second factor for admin login
	JWTSecret          string
	SessionExpireHours int

	// API
	APIPort int

	// Presence tracking
	PresenceStaleMinutes int

	// Backups
	BackupEnabled   bool
	BackupDir       string
	BackupHour      int // hour of day (0-23) the daily dump runs
	BackupRetention int // days to keep dumps
	FTPEnabled      bool
	FTPHost         string
	FTPPort         int
	FTPUsername     string
	FTPPassword     string
	FTPPath         string
}

// generateSecureSecret generates a cryptographically secure random secret
func generateSecureSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a hostname-based value if crypto/rand fails
		return hex.EncodeToString([]byte(os.Getenv("HOSTNAME") + string(rune(length))))
	}
	return hex.EncodeToString(bytes)
}

func Load() *Config {
	// JWT Secret - generate random if not provided
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateSecureSecret(32) // 64 character hex string
		log.Println("WARNING: JWT_SECRET not set - generated random secret. Admin sessions will not persist across restarts.")
	}

	// Admin password digest - no default. The server refuses to start without it
	// (see cmd/server); a hardcoded fallback would defeat the gate entirely.
	adminHash := os.Getenv("ADMIN_PASSWORD_HASH")
	if adminHash == "" {
		log.Println("WARNING: ADMIN_PASSWORD_HASH not set - admin operations will be unavailable!")
	}

	// Database password - warn if using default
	dbPassword := getEnv("DB_PASSWORD", "")
	if dbPassword == "" {
		log.Println("WARNING: DB_PASSWORD not set - this is insecure for production!")
		dbPassword = "changeme"
	}

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "pharmagest"),
		DBPassword: dbPassword,
		DBName:     getEnv("DB_NAME", "pharmagest_licenses"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		// Admin access
		AdminPasswordHash:  adminHash,
		AdminTOTPSecret:    getEnv("ADMIN_TOTP_SECRET", ""),
		JWTSecret:          jwtSecret,
		SessionExpireHours: getEnvInt("SESSION_EXPIRE_HOURS", 12),

		// API
		APIPort: getEnvInt("API_PORT", 8080),

		// Presence
		PresenceStaleMinutes: getEnvInt("PRESENCE_STALE_MINUTES", 5),

		// Backups
		BackupEnabled:   getEnvBool("BACKUP_ENABLED", false),
		BackupDir:       getEnv("BACKUP_DIR", "/var/backups/pharmagest-license"),
		BackupHour:      getEnvInt("BACKUP_HOUR", 2),
		BackupRetention: getEnvInt("BACKUP_RETENTION_DAYS", 14),
		FTPEnabled:      getEnvBool("BACKUP_FTP_ENABLED", false),
		FTPHost:         getEnv("BACKUP_FTP_HOST", ""),
		FTPPort:         getEnvInt("BACKUP_FTP_PORT", 21),
		FTPUsername:     getEnv("BACKUP_FTP_USER", ""),
		FTPPassword:     getEnv("BACKUP_FTP_PASSWORD", ""),
		FTPPath:         getEnv("BACKUP_FTP_PATH", "/"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
