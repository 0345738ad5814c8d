package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pharmagest/license-server/internal/services"
	"github.com/pharmagest/license-server/internal/store"
)

// ClientInfo is the optional system block reported by the desktop client.
type ClientInfo struct {
	MACAddress   string `json:"mac_address"`
	ComputerName string `json:"computer_name"`
	IPAddress    string `json:"ip_address"`
	OSVersion    string `json:"os_version"`
	AppVersion   string `json:"app_version"`
	UserAgent    string `json:"user_agent"`
}

// ValidateRequest is the poll payload sent on every startup/heartbeat.
type ValidateRequest struct {
	LicenseKey        string      `json:"license_key"`
	SystemFingerprint string      `json:"system_fingerprint"`
	ClientInfo        *ClientInfo `json:"client_info"`
}

// RegisterRequest binds client identity to an issued key on first activation.
type RegisterRequest struct {
	LicenseKey        string      `json:"license_key"`
	ClientName        string      `json:"client_name"`
	ClientEmail       string      `json:"client_email"`
	SystemFingerprint string      `json:"system_fingerprint"`
	ClientInfo        *ClientInfo `json:"client_info"`
}

// LicenseHandler serves the client-facing validation surface.
type LicenseHandler struct {
	validation *services.ValidationService
	store      *store.LicenseStore
}

func NewLicenseHandler(validation *services.ValidationService, st *store.LicenseStore) *LicenseHandler {
	return &LicenseHandler{validation: validation, store: st}
}

// Validate evaluates one license check. Always answers 200 with a verdict
// code; the desktop client switches on the code, not the HTTP status.
func (h *LicenseHandler) Validate(c *fiber.Ctx) error {
	var req ValidateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if req.LicenseKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "license_key is required",
		})
	}

	meta := toMetadata(req.ClientInfo)
	if meta.IPAddress == "" {
		meta.IPAddress = c.IP()
	}
	if meta.UserAgent == "" {
		meta.UserAgent = c.Get("User-Agent")
	}

	result := h.validation.Validate(req.LicenseKey, req.SystemFingerprint, meta)

	resp := fiber.Map{
		"valid":     result.Valid,
		"code":      result.Code,
		"message":   result.Message,
		"timestamp": result.Timestamp,
	}
	if result.LicenseID != "" {
		resp["license_id"] = result.LicenseID
		resp["client_name"] = result.ClientName
	}
	if result.ExpiryDate != nil {
		resp["expiry_date"] = result.ExpiryDate
	}
	if result.BlockReason != "" {
		resp["block_reason"] = result.BlockReason
	}
	if result.Valid {
		resp["days_remaining"] = result.DaysRemaining
		resp["max_users"] = result.MaxUsers
		resp["mac_address"] = result.MACAddress
		resp["computer_name"] = result.ComputerName
		resp["ip_address"] = result.IPAddress
	}
	return c.JSON(resp)
}

// Register records client identity and system info against an issued key.
func (h *LicenseHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if req.LicenseKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "license_key is required",
		})
	}

	meta := toMetadata(req.ClientInfo)
	if meta.IPAddress == "" {
		meta.IPAddress = c.IP()
	}
	if meta.UserAgent == "" {
		meta.UserAgent = c.Get("User-Agent")
	}

	result := h.validation.Register(req.LicenseKey, req.ClientName, req.ClientEmail, req.SystemFingerprint, meta)

	return c.JSON(fiber.Map{
		"success":     result.Success,
		"code":        result.Code,
		"message":     result.Message,
		"license_id":  result.LicenseID,
		"client_name": result.ClientName,
		"timestamp":   result.Timestamp,
	})
}

// Health reports service liveness plus basic counts for the admin dashboard.
func (h *LicenseHandler) Health(c *fiber.Ctx) error {
	licenseCount, err := h.store.Count()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
		})
	}
	onlineClients, _ := h.store.CountOnlineClients()

	return c.JSON(fiber.Map{
		"status":         "healthy",
		"service":        "pharmagest-license-server",
		"license_count":  licenseCount,
		"online_clients": onlineClients,
	})
}

func toMetadata(info *ClientInfo) services.ClientMetadata {
	if info == nil {
		return services.ClientMetadata{}
	}
	return services.ClientMetadata{
		MACAddress:   info.MACAddress,
		ComputerName: info.ComputerName,
		IPAddress:    info.IPAddress,
		OSVersion:    info.OSVersion,
		AppVersion:   info.AppVersion,
		UserAgent:    info.UserAgent,
	}
}
