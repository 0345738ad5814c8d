package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pharmagest/license-server/internal/auth"
	"github.com/pharmagest/license-server/internal/database"
	"github.com/pharmagest/license-server/internal/middleware"
	"github.com/pharmagest/license-server/internal/models"
	"github.com/pharmagest/license-server/internal/services"
	"github.com/pharmagest/license-server/internal/store"
	"github.com/redis/go-redis/v9"
)

// AdminHandler serves the operator surface: sessions, issuance, lifecycle
// mutations, listings, and history.
type AdminHandler struct {
	lifecycle *services.LifecycleService
	audit     *services.AuditService
	store     *store.LicenseStore
	gate      *auth.Gate
	rdb       *redis.Client
}

func NewAdminHandler(lifecycle *services.LifecycleService, audit *services.AuditService, st *store.LicenseStore, gate *auth.Gate, rdb *redis.Client) *AdminHandler {
	return &AdminHandler{
		lifecycle: lifecycle,
		audit:     audit,
		store:     st,
		gate:      gate,
		rdb:       rdb,
	}
}

type loginRequest struct {
	Password string `json:"password"`
	OTPCode  string `json:"otp_code"`
}

// Login exchanges the admin password (plus TOTP code when configured) for a
// session token.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	token, expiresAt, err := h.gate.Login(req.Password, req.OTPCode)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"message": "Admin access denied",
		})
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"token":      token,
		"expires_at": expiresAt,
	})
}

// Logout revokes the current session token for its remaining lifetime.
func (h *AdminHandler) Logout(c *fiber.Ctx) error {
	token, ok := c.Locals("sessionToken").(string)
	if !ok || token == "" {
		// Password-header callers have no session to revoke.
		return c.JSON(fiber.Map{
			"success": true,
			"message": "No session to revoke",
		})
	}

	remaining, err := h.gate.VerifySession(token)
	if err == nil {
		if err := database.BlacklistToken(h.rdb, token, remaining); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": "Failed to revoke session",
			})
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out",
	})
}

type createLicenseRequest struct {
	ClientName   string `json:"client_name"`
	ClientEmail  string `json:"client_email"`
	DurationDays int    `json:"duration_days"`
	MaxUsers     int    `json:"max_users"`
}

// CreateLicense issues a new license and returns the credential exactly once.
func (h *AdminHandler) CreateLicense(c *fiber.Ctx) error {
	var req createLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	lic, err := h.lifecycle.Issue(req.ClientName, req.ClientEmail, req.DurationDays, req.MaxUsers, middleware.GetAdminUser(c))
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		return serverErrorResponse(c)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"license_id":  lic.LicenseID,
		"license_key": lic.LicenseKey,
		"expiry_date": lic.ExpiryDate,
	})
}

// licenseView is a listing row with the computed fields the admin panel shows.
type licenseView struct {
	models.License
	Status        models.LicenseStatus `json:"status"`
	DaysRemaining int                  `json:"days_remaining"`
	IsOnlineNow   bool                 `json:"is_online_now"`
}

// ListLicenses returns every license with computed status and presence.
func (h *AdminHandler) ListLicenses(c *fiber.Ctx) error {
	licenses, err := h.store.List()
	if err != nil {
		return serverErrorResponse(c)
	}

	online := map[string]bool{}
	if clients, err := h.store.ListOnlineClients(); err == nil {
		for _, cl := range clients {
			online[cl.LicenseID] = true
		}
	}

	now := time.Now()
	views := make([]licenseView, 0, len(licenses))
	for _, lic := range licenses {
		views = append(views, licenseView{
			License:       lic,
			Status:        lic.Status(now),
			DaysRemaining: lic.DaysRemaining(now),
			IsOnlineNow:   online[lic.LicenseID],
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"count":    len(views),
		"licenses": views,
	})
}

type blockRequest struct {
	LicenseID string `json:"license_id"`
	Reason    string `json:"reason"`
}

// BlockLicense sets the administrative block. Idempotent.
func (h *AdminHandler) BlockLicense(c *fiber.Ctx) error {
	var req blockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if err := h.lifecycle.Block(req.LicenseID, req.Reason, middleware.GetAdminUser(c)); err != nil {
		return lifecycleErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "License " + req.LicenseID + " blocked",
	})
}

type unblockRequest struct {
	LicenseID string `json:"license_id"`
}

// UnblockLicense lifts the administrative block.
func (h *AdminHandler) UnblockLicense(c *fiber.Ctx) error {
	var req unblockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if err := h.lifecycle.Unblock(req.LicenseID, middleware.GetAdminUser(c)); err != nil {
		return lifecycleErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "License " + req.LicenseID + " unblocked",
	})
}

type renewRequest struct {
	LicenseID string `json:"license_id"`
	ExtraDays int    `json:"extra_days"`
}

// RenewLicense extends (or shortens) the expiry and lifts any block.
func (h *AdminHandler) RenewLicense(c *fiber.Ctx) error {
	var req renewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	newExpiry, err := h.lifecycle.Renew(req.LicenseID, req.ExtraDays, middleware.GetAdminUser(c))
	if err != nil {
		return lifecycleErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"license_id":      req.LicenseID,
		"new_expiry_date": newExpiry,
	})
}

// LicenseHistory returns the license record with its checks and admin actions.
func (h *AdminHandler) LicenseHistory(c *fiber.Ctx) error {
	licenseID := c.Params("id")
	limit := c.QueryInt("limit", 100)

	history, err := h.audit.History(licenseID, limit)
	if err != nil {
		return lifecycleErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"license":       history.License,
		"check_history": history.Checks,
		"admin_actions": history.Actions,
		"check_count":   len(history.Checks),
	})
}

// ActiveClients lists installations currently marked online.
func (h *AdminHandler) ActiveClients(c *fiber.Ctx) error {
	clients, err := h.store.ListOnlineClients()
	if err != nil {
		return serverErrorResponse(c)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"online_count": len(clients),
		"clients":      clients,
	})
}

type forceLogoutRequest struct {
	LicenseID string `json:"license_id"`
}

// ForceLogout closes the presence session of one client.
func (h *AdminHandler) ForceLogout(c *fiber.Ctx) error {
	var req forceLogoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if err := h.lifecycle.ForceLogout(req.LicenseID); err != nil {
		return lifecycleErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Client " + req.LicenseID + " disconnected",
	})
}

func lifecycleErrorResponse(c *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "License not found",
		})
	}
	if errors.Is(err, services.ErrValidation) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	return serverErrorResponse(c)
}

func serverErrorResponse(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": "Internal server error",
	})
}
