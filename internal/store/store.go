// Package store is the durable record layer for licenses, checks, admin
// actions, and active clients. All per-license mutations are atomic: counter
// bumps use SQL expressions and multi-row effects run inside one transaction.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/pharmagest/license-server/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound means no license matches the given id or key.
	ErrNotFound = errors.New("license not found")
	// ErrDuplicateKey means a license with the same license_id or license_key
	// already exists.
	ErrDuplicateKey = errors.New("duplicate license id or key")
)

// LicenseStore wraps the gorm handle. Injected into services so tests can run
// against their own database.
type LicenseStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *LicenseStore {
	return &LicenseStore{db: db}
}

// Transaction runs fn against a store bound to one database transaction.
// Lifecycle operations use it so the mutation and its audit row commit
// together or not at all.
func (s *LicenseStore) Transaction(fn func(tx *LicenseStore) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

// GetByKey looks a license up by its secret key.
func (s *LicenseStore) GetByKey(key string) (*models.License, error) {
	var lic models.License
	if err := s.db.Where("license_key = ?", key).First(&lic).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license by key: %w", err)
	}
	return &lic, nil
}

// GetByID looks a license up by its public license id.
func (s *LicenseStore) GetByID(licenseID string) (*models.License, error) {
	var lic models.License
	if err := s.db.Where("license_id = ?", licenseID).First(&lic).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license by id: %w", err)
	}
	return &lic, nil
}

// Insert stores a new license. Fails with ErrDuplicateKey when either unique
// column collides.
func (s *LicenseStore) Insert(lic *models.License) error {
	if err := s.db.Create(lic).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// Update applies partial fields to one license, keyed by license_id.
func (s *LicenseStore) Update(licenseID string, fields map[string]interface{}) error {
	res := s.db.Model(&models.License{}).Where("license_id = ?", licenseID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update license: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapExpiry sets a new expiry only while the stored value still matches the
// one the caller read. Returns false when a concurrent writer got there first,
// so renewals stack instead of overwriting each other.
func (s *LicenseStore) SwapExpiry(licenseID string, oldExpiry, newExpiry time.Time) (bool, error) {
	res := s.db.Model(&models.License{}).
		Where("license_id = ? AND expiry_date = ?", licenseID, oldExpiry).
		Update("expiry_date", newExpiry)
	if res.Error != nil {
		return false, fmt.Errorf("swap expiry: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// List returns all licenses, newest first.
func (s *LicenseStore) List() ([]models.License, error) {
	var licenses []models.License
	if err := s.db.Order("created_at DESC").Find(&licenses).Error; err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return licenses, nil
}

// Count returns the number of issued licenses.
func (s *LicenseStore) Count() (int64, error) {
	var n int64
	if err := s.db.Model(&models.License{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count licenses: %w", err)
	}
	return n, nil
}

// MetadataPatch carries client-reported fields merged into a license on every
// check. Empty values never overwrite stored ones (COALESCE semantics, as the
// desktop client omits fields it cannot read).
type MetadataPatch struct {
	MACAddress        string
	ComputerName      string
	IPAddress         string
	OSVersion         string
	AppVersion        string
	UserAgent         string
	SystemFingerprint string
}

// ApplyCheck performs the unconditional side effects of one validation attempt
// in a single transaction: metadata merge, total_checks increment, last_check
// and last_seen stamps, plus the immutable check row. Concurrent calls against
// the same license never lose an increment because the bump is a SQL
// expression, not a read-modify-write.
func (s *LicenseStore) ApplyCheck(licenseID string, patch MetadataPatch, check *models.LicenseCheck) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := check.CheckTime
		res := tx.Model(&models.License{}).Where("license_id = ?", licenseID).Updates(map[string]interface{}{
			"total_checks":  gorm.Expr("total_checks + 1"),
			"last_check":    now,
			"last_seen":     now,
			"mac_address":   gorm.Expr("COALESCE(NULLIF(?, ''), mac_address)", patch.MACAddress),
			"computer_name": gorm.Expr("COALESCE(NULLIF(?, ''), computer_name)", patch.ComputerName),
			"ip_address":    gorm.Expr("COALESCE(NULLIF(?, ''), ip_address)", patch.IPAddress),
			"os_version":    gorm.Expr("COALESCE(NULLIF(?, ''), os_version)", patch.OSVersion),
			"app_version":   gorm.Expr("COALESCE(NULLIF(?, ''), app_version)", patch.AppVersion),
			"user_agent":    gorm.Expr("COALESCE(NULLIF(?, ''), user_agent)", patch.UserAgent),
			"system_fingerprint": gorm.Expr("COALESCE(NULLIF(?, ''), system_fingerprint)", patch.SystemFingerprint),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(check).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("apply check: %w", err)
	}
	return nil
}

// InsertAction appends an admin action row.
func (s *LicenseStore) InsertAction(action *models.AdminAction) error {
	if err := s.db.Create(action).Error; err != nil {
		return fmt.Errorf("insert admin action: %w", err)
	}
	return nil
}

// ListChecks returns the most recent checks for a license, newest first.
func (s *LicenseStore) ListChecks(licenseID string, limit int) ([]models.LicenseCheck, error) {
	if limit <= 0 {
		limit = 100
	}
	var checks []models.LicenseCheck
	err := s.db.Where("license_id = ?", licenseID).
		Order("check_time DESC").Limit(limit).Find(&checks).Error
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	return checks, nil
}

// ListActions returns all admin actions for a license, newest first.
func (s *LicenseStore) ListActions(licenseID string) ([]models.AdminAction, error) {
	var actions []models.AdminAction
	err := s.db.Where("license_id = ?", licenseID).
		Order("action_time DESC").Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

// CountChecks returns how many check rows exist for a license.
func (s *LicenseStore) CountChecks(licenseID string) (int64, error) {
	var n int64
	err := s.db.Model(&models.LicenseCheck{}).Where("license_id = ?", licenseID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count checks: %w", err)
	}
	return n, nil
}

// UpsertClient records the latest installation seen for a license, one row per
// license.
func (s *LicenseStore) UpsertClient(client *models.ActiveClient) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "license_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"client_name", "last_seen", "ip_address", "mac_address",
			"computer_name", "app_version", "is_online", "session_start",
		}),
	}).Create(client).Error
	if err != nil {
		return fmt.Errorf("upsert active client: %w", err)
	}
	return nil
}

// TouchClient refreshes presence for a license without replacing identity
// fields the validate payload does not carry.
func (s *LicenseStore) TouchClient(licenseID, ip string, seen time.Time) error {
	err := s.db.Model(&models.ActiveClient{}).Where("license_id = ?", licenseID).
		Updates(map[string]interface{}{
			"last_seen":  seen,
			"ip_address": gorm.Expr("COALESCE(NULLIF(?, ''), ip_address)", ip),
			"is_online":  true,
		}).Error
	if err != nil {
		return fmt.Errorf("touch active client: %w", err)
	}
	return nil
}

// ListOnlineClients returns clients currently marked online, newest first.
func (s *LicenseStore) ListOnlineClients() ([]models.ActiveClient, error) {
	var clients []models.ActiveClient
	err := s.db.Where("is_online = ?", true).Order("last_seen DESC").Find(&clients).Error
	if err != nil {
		return nil, fmt.Errorf("list online clients: %w", err)
	}
	return clients, nil
}

// CountOnlineClients returns how many clients are currently marked online.
func (s *LicenseStore) CountOnlineClients() (int64, error) {
	var n int64
	err := s.db.Model(&models.ActiveClient{}).Where("is_online = ?", true).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count online clients: %w", err)
	}
	return n, nil
}

// MarkClientOffline force-closes the session for one license.
func (s *LicenseStore) MarkClientOffline(licenseID string, at time.Time) error {
	res := s.db.Model(&models.ActiveClient{}).Where("license_id = ?", licenseID).
		Updates(map[string]interface{}{"is_online": false, "session_end": at})
	if res.Error != nil {
		return fmt.Errorf("mark client offline: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepStaleClients marks every client offline whose last_seen predates the
// cutoff. Returns how many rows changed.
func (s *LicenseStore) SweepStaleClients(cutoff time.Time) (int64, error) {
	res := s.db.Model(&models.ActiveClient{}).
		Where("is_online = ? AND last_seen < ?", true, cutoff).
		Updates(map[string]interface{}{"is_online": false, "session_end": cutoff})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep stale clients: %w", res.Error)
	}
	return res.RowsAffected, nil
}
