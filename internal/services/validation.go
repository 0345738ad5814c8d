package services

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/pharmagest/license-server/internal/models"
	"github.com/pharmagest/license-server/internal/store"
)

// ClientMetadata carries the optional fields the desktop client reports on
// every check.
type ClientMetadata struct {
	MACAddress   string
	ComputerName string
	IPAddress    string
	OSVersion    string
	AppVersion   string
	UserAgent    string
}

// VerdictResult is the outcome of one validation call.
type VerdictResult struct {
	Valid         bool
	Code          string
	Message       string
	LicenseID     string
	ClientName    string
	ExpiryDate    *time.Time
	DaysRemaining int
	MaxUsers      int
	BlockReason   string
	MACAddress    string
	ComputerName  string
	IPAddress     string
	Timestamp     time.Time
}

// RegisterResult is the outcome of one registration call.
type RegisterResult struct {
	Success    bool
	Code       string
	Message    string
	LicenseID  string
	ClientName string
	Timestamp  time.Time
}

// ValidationService decides license verdicts and applies the per-check side
// effects. The clock is injected so expiry behavior is testable.
type ValidationService struct {
	store *store.LicenseStore
	now   func() time.Time
}

func NewValidationService(st *store.LicenseStore) *ValidationService {
	return &ValidationService{store: st, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (s *ValidationService) SetClock(now func() time.Time) {
	s.now = now
}

// Validate evaluates one license check. Order is fixed: unknown key, admin
// block, expiry, valid. For every known key the side effects (metadata merge,
// counter bump, check row) are applied in one transaction regardless of the
// verdict. Unknown keys leave no trace and are never auto-provisioned.
func (s *ValidationService) Validate(licenseKey, systemFingerprint string, meta ClientMetadata) VerdictResult {
	now := s.now()

	lic, err := s.store.GetByKey(licenseKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return VerdictResult{
				Valid:     false,
				Code:      models.CodeLicenseNotFound,
				Message:   "License key not found",
				Timestamp: now,
			}
		}
		log.Printf("Validate: store lookup failed: %v", err)
		return serverError(now)
	}

	result := VerdictResult{
		LicenseID:  lic.LicenseID,
		ClientName: lic.ClientName,
		Timestamp:  now,
	}

	expiry := lic.ExpiryDate
	switch {
	case lic.IsBlocked:
		result.Code = models.CodeAdminBlocked
		result.Message = "License blocked: " + blockReason(lic)
		result.BlockReason = blockReason(lic)
	case now.After(expiry):
		result.Code = models.CodeLicenseExpired
		result.Message = "License expired"
		result.ExpiryDate = &expiry
	default:
		result.Valid = true
		result.Code = models.CodeLicenseValid
		result.Message = "License valid"
		result.ExpiryDate = &expiry
		result.DaysRemaining = lic.DaysRemaining(now)
		result.MaxUsers = lic.MaxUsers
	}

	check := &models.LicenseCheck{
		LicenseID:         lic.LicenseID,
		CheckTime:         now,
		ClientIP:          meta.IPAddress,
		MACAddress:        meta.MACAddress,
		SystemFingerprint: systemFingerprint,
		ComputerName:      meta.ComputerName,
		WasValid:          result.Valid,
		ResponseCode:      result.Code,
		UserAgent:         meta.UserAgent,
	}
	patch := store.MetadataPatch{
		MACAddress:        meta.MACAddress,
		ComputerName:      meta.ComputerName,
		IPAddress:         meta.IPAddress,
		OSVersion:         meta.OSVersion,
		AppVersion:        meta.AppVersion,
		UserAgent:         meta.UserAgent,
		SystemFingerprint: systemFingerprint,
	}
	if err := s.store.ApplyCheck(lic.LicenseID, patch, check); err != nil {
		log.Printf("Validate: recording check for %s failed: %v", lic.LicenseID, err)
		return serverError(now)
	}

	// Presence is advisory; a failed touch must not flip the verdict.
	if err := s.store.TouchClient(lic.LicenseID, meta.IPAddress, now); err != nil {
		log.Printf("Validate: presence update for %s failed: %v", lic.LicenseID, err)
	}

	// Echo stored client metadata back for confirmation.
	if result.Valid {
		merged, err := s.store.GetByID(lic.LicenseID)
		if err == nil {
			result.MACAddress = merged.MACAddress
			result.ComputerName = merged.ComputerName
			result.IPAddress = merged.IPAddress
		}
	}

	return result
}

// Register binds client identity and system info to an already-issued key and
// opens a presence session. Unknown keys are rejected; issuance stays an
// operator-only operation.
func (s *ValidationService) Register(licenseKey, clientName, clientEmail, systemFingerprint string, meta ClientMetadata) RegisterResult {
	now := s.now()

	lic, err := s.store.GetByKey(licenseKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RegisterResult{
				Success:   false,
				Code:      models.CodeLicenseNotFound,
				Message:   "License key not found - contact your vendor for a license",
				Timestamp: now,
			}
		}
		log.Printf("Register: store lookup failed: %v", err)
		return RegisterResult{Success: false, Code: models.CodeServerError, Message: "Internal server error", Timestamp: now}
	}

	details, _ := json.Marshal(map[string]string{
		"action":      "registration",
		"client_name": clientName,
		"email":       clientEmail,
	})
	check := &models.LicenseCheck{
		LicenseID:         lic.LicenseID,
		CheckTime:         now,
		ClientIP:          meta.IPAddress,
		MACAddress:        meta.MACAddress,
		SystemFingerprint: systemFingerprint,
		ComputerName:      meta.ComputerName,
		WasValid:          true,
		ResponseCode:      models.CodeRegistered,
		UserAgent:         meta.UserAgent,
		Details:           string(details),
	}
	patch := store.MetadataPatch{
		MACAddress:        meta.MACAddress,
		ComputerName:      meta.ComputerName,
		IPAddress:         meta.IPAddress,
		OSVersion:         meta.OSVersion,
		AppVersion:        meta.AppVersion,
		UserAgent:         meta.UserAgent,
		SystemFingerprint: systemFingerprint,
	}
	if err := s.store.ApplyCheck(lic.LicenseID, patch, check); err != nil {
		log.Printf("Register: recording registration for %s failed: %v", lic.LicenseID, err)
		return RegisterResult{Success: false, Code: models.CodeServerError, Message: "Internal server error", Timestamp: now}
	}

	client := &models.ActiveClient{
		LicenseID:    lic.LicenseID,
		ClientName:   clientName,
		LastSeen:     now,
		IPAddress:    meta.IPAddress,
		MACAddress:   meta.MACAddress,
		ComputerName: meta.ComputerName,
		AppVersion:   meta.AppVersion,
		IsOnline:     true,
		SessionStart: &now,
	}
	if err := s.store.UpsertClient(client); err != nil {
		log.Printf("Register: presence upsert for %s failed: %v", lic.LicenseID, err)
	}

	return RegisterResult{
		Success:    true,
		Code:       models.CodeRegistered,
		Message:    "Installation registered successfully",
		LicenseID:  lic.LicenseID,
		ClientName: clientName,
		Timestamp:  now,
	}
}

func serverError(now time.Time) VerdictResult {
	return VerdictResult{
		Valid:     false,
		Code:      models.CodeServerError,
		Message:   "Internal server error",
		Timestamp: now,
	}
}

func blockReason(lic *models.License) string {
	if lic.BlockReason == "" {
		return "Not specified"
	}
	return lic.BlockReason
}
