package services

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pharmagest/license-server/internal/models"
	"github.com/pharmagest/license-server/internal/store"
)

const (
	licenseIDPrefix = "PHG"
	// licenseKeyBytes gives a 256-bit key, rendered as 64 hex characters.
	licenseKeyBytes = 32

	defaultBlockReason = "Non-payment"
)

// LifecycleService performs the admin mutations: issue, block, unblock, renew.
// Every successful mutation commits together with its audit row.
type LifecycleService struct {
	store *store.LicenseStore
	now   func() time.Time
}

func NewLifecycleService(st *store.LicenseStore) *LifecycleService {
	return &LifecycleService{store: st, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (s *LifecycleService) SetClock(now func() time.Time) {
	s.now = now
}

// Issue mints a new license. Not idempotent: every call produces a fresh
// credential, so callers must not retry blindly.
func (s *LifecycleService) Issue(clientName, clientEmail string, durationDays, maxUsers int, adminUser string) (*models.License, error) {
	if durationDays <= 0 {
		return nil, fmt.Errorf("%w: duration_days must be positive", ErrValidation)
	}
	if maxUsers < 1 {
		return nil, fmt.Errorf("%w: max_users must be at least 1", ErrValidation)
	}

	now := s.now()
	lic := &models.License{
		ClientName:  clientName,
		ClientEmail: clientEmail,
		IssueDate:   now,
		ExpiryDate:  now.AddDate(0, 0, durationDays),
		MaxUsers:    maxUsers,
		CreatedAt:   now,
	}

	// Collisions are astronomically unlikely but the unique indexes make them
	// harmless: regenerate and try again.
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		lic.LicenseID = newLicenseID(now)
		lic.LicenseKey, err = newLicenseKey()
		if err != nil {
			return nil, err
		}

		err = s.store.Transaction(func(tx *store.LicenseStore) error {
			if err := tx.Insert(lic); err != nil {
				return err
			}
			details, _ := json.Marshal(map[string]interface{}{
				"client_name":   clientName,
				"client_email":  clientEmail,
				"duration_days": durationDays,
				"max_users":     maxUsers,
				"expiry_date":   lic.ExpiryDate,
			})
			return tx.InsertAction(&models.AdminAction{
				ActionType: models.ActionCreate,
				LicenseID:  lic.LicenseID,
				AdminUser:  adminUser,
				Details:    string(details),
				ActionTime: now,
			})
		})
		if errors.Is(err, store.ErrDuplicateKey) {
			lic.ID = 0
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}
	return lic, nil
}

// Block marks a license as administratively blocked. Idempotent: blocking an
// already-blocked license overwrites the reason.
func (s *LifecycleService) Block(licenseID, reason, adminUser string) error {
	if reason == "" {
		reason = defaultBlockReason
	}
	now := s.now()

	return s.store.Transaction(func(tx *store.LicenseStore) error {
		if err := tx.Update(licenseID, map[string]interface{}{
			"is_blocked":   true,
			"block_reason": reason,
		}); err != nil {
			return err
		}
		details, _ := json.Marshal(map[string]string{"reason": reason})
		return tx.InsertAction(&models.AdminAction{
			ActionType: models.ActionBlock,
			LicenseID:  licenseID,
			AdminUser:  adminUser,
			Details:    string(details),
			ActionTime: now,
		})
	})
}

// Unblock lifts an administrative block.
func (s *LifecycleService) Unblock(licenseID, adminUser string) error {
	now := s.now()

	return s.store.Transaction(func(tx *store.LicenseStore) error {
		if err := tx.Update(licenseID, map[string]interface{}{
			"is_blocked":   false,
			"block_reason": "",
		}); err != nil {
			return err
		}
		return tx.InsertAction(&models.AdminAction{
			ActionType: models.ActionUnblock,
			LicenseID:  licenseID,
			AdminUser:  adminUser,
			Details:    "{}",
			ActionTime: now,
		})
	})
}

// Renew extends the current expiry by extraDays (zero or negative shortens it).
// A blocked license is also unblocked, as its own action, so the audit trail
// shows both mutations. The expiry write is a compare-and-set keyed on the
// value just read: under read-committed isolation two concurrent renewals would
// otherwise both read the same old expiry and one extension would be lost.
// The loser re-reads and stacks on top of the winner.
func (s *LifecycleService) Renew(licenseID string, extraDays int, adminUser string) (time.Time, error) {
	now := s.now()

	for attempt := 0; attempt < 5; attempt++ {
		lic, err := s.store.GetByID(licenseID)
		if err != nil {
			return time.Time{}, err
		}
		newExpiry := lic.ExpiryDate.AddDate(0, 0, extraDays)

		var swapped bool
		err = s.store.Transaction(func(tx *store.LicenseStore) error {
			swapped, err = tx.SwapExpiry(licenseID, lic.ExpiryDate, newExpiry)
			if err != nil || !swapped {
				return err
			}
			details, _ := json.Marshal(map[string]interface{}{
				"extra_days": extraDays,
				"old_expiry": lic.ExpiryDate,
				"new_expiry": newExpiry,
			})
			if err := tx.InsertAction(&models.AdminAction{
				ActionType: models.ActionRenew,
				LicenseID:  licenseID,
				AdminUser:  adminUser,
				Details:    string(details),
				ActionTime: now,
			}); err != nil {
				return err
			}

			if !lic.IsBlocked {
				return nil
			}
			if err := tx.Update(licenseID, map[string]interface{}{
				"is_blocked":   false,
				"block_reason": "",
			}); err != nil {
				return err
			}
			return tx.InsertAction(&models.AdminAction{
				ActionType: models.ActionUnblock,
				LicenseID:  licenseID,
				AdminUser:  adminUser,
				Details:    `{"trigger":"renew"}`,
				ActionTime: now,
			})
		})
		if err != nil {
			return time.Time{}, err
		}
		if swapped {
			return newExpiry, nil
		}
	}
	return time.Time{}, errors.New("renew license: too many concurrent expiry updates")
}

// ForceLogout closes the presence session for a license.
func (s *LifecycleService) ForceLogout(licenseID string) error {
	return s.store.MarkClientOffline(licenseID, s.now())
}

// newLicenseID builds ids like PHG-20240115-3FA9C210.
func newLicenseID(now time.Time) string {
	u := uuid.New()
	suffix := strings.ToUpper(hex.EncodeToString(u[:4]))
	return fmt.Sprintf("%s-%s-%s", licenseIDPrefix, now.Format("20060102"), suffix)
}

// newLicenseKey returns a fresh 256-bit opaque key as hex.
func newLicenseKey() (string, error) {
	buf := make([]byte, licenseKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
