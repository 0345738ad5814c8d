package services

import (
	"github.com/pharmagest/license-server/internal/models"
	"github.com/pharmagest/license-server/internal/store"
)

// LicenseHistory bundles a license with its full audit trail.
type LicenseHistory struct {
	License *models.License       `json:"license"`
	Checks  []models.LicenseCheck `json:"check_history"`
	Actions []models.AdminAction  `json:"admin_actions"`
}

// AuditService reads the append-only history tables.
type AuditService struct {
	store *store.LicenseStore
}

func NewAuditService(st *store.LicenseStore) *AuditService {
	return &AuditService{store: st}
}

// ListChecks returns the most recent validation checks, newest first.
func (s *AuditService) ListChecks(licenseID string, limit int) ([]models.LicenseCheck, error) {
	return s.store.ListChecks(licenseID, limit)
}

// ListActions returns every admin action for a license, newest first.
func (s *AuditService) ListActions(licenseID string) ([]models.AdminAction, error) {
	return s.store.ListActions(licenseID)
}

// History returns the license record plus its checks and admin actions.
func (s *AuditService) History(licenseID string, checkLimit int) (*LicenseHistory, error) {
	lic, err := s.store.GetByID(licenseID)
	if err != nil {
		return nil, err
	}
	checks, err := s.store.ListChecks(licenseID, checkLimit)
	if err != nil {
		return nil, err
	}
	actions, err := s.store.ListActions(licenseID)
	if err != nil {
		return nil, err
	}
	return &LicenseHistory{License: lic, Checks: checks, Actions: actions}, nil
}
