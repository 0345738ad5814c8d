package models

import (
	"time"
)

// LicenseStatus is the computed state shown in admin listings.
type LicenseStatus string

const (
	StatusActive  LicenseStatus = "active"
	StatusBlocked LicenseStatus = "blocked"
	StatusExpired LicenseStatus = "expired"
)

// Verdict codes returned by the validation endpoint.
const (
	CodeLicenseValid    = "LICENSE_VALID"
	CodeLicenseNotFound = "LICENSE_NOT_FOUND"
	CodeAdminBlocked    = "ADMIN_BLOCKED"
	CodeLicenseExpired  = "LICENSE_EXPIRED"
	CodeServerError     = "SERVER_ERROR"
	CodeRegistered      = "REGISTERED"
)

// License represents one issued credential.
type License struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	LicenseID         string     `gorm:"size:40;uniqueIndex;not null" json:"license_id"`
	LicenseKey        string     `gorm:"size:64;uniqueIndex;not null" json:"license_key"`
	ClientName        string     `gorm:"size:100;not null" json:"client_name"`
	ClientEmail       string     `gorm:"size:255;not null" json:"client_email"`
	SystemFingerprint string     `gorm:"size:128" json:"system_fingerprint"`
	MACAddress        string     `gorm:"column:mac_address;size:50" json:"mac_address"`
	IPAddress         string     `gorm:"column:ip_address;size:50" json:"ip_address"`
	ComputerName      string     `gorm:"size:100" json:"computer_name"`
	OSVersion         string     `gorm:"column:os_version;size:100" json:"os_version"`
	AppVersion        string     `gorm:"size:20" json:"app_version"`
	UserAgent         string     `gorm:"size:255" json:"user_agent"`
	IssueDate         time.Time  `gorm:"not null" json:"issue_date"`
	ExpiryDate        time.Time  `gorm:"not null;index" json:"expiry_date"`
	MaxUsers          int        `gorm:"default:1" json:"max_users"`
	IsBlocked         bool       `gorm:"default:false;index" json:"is_blocked"`
	BlockReason       string     `gorm:"size:255" json:"block_reason"`
	TotalChecks       int64      `gorm:"default:0" json:"total_checks"`
	LastCheck         *time.Time `json:"last_check"`
	LastSeen          *time.Time `json:"last_seen"`
	Notes             string     `gorm:"type:text" json:"notes"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
}

func (License) TableName() string {
	return "licenses"
}

// Status computes the admin-facing state. A block wins over expiry.
func (l *License) Status(now time.Time) LicenseStatus {
	if l.IsBlocked {
		return StatusBlocked
	}
	if now.After(l.ExpiryDate) {
		return StatusExpired
	}
	return StatusActive
}

// DaysRemaining returns whole days until expiry, never negative.
func (l *License) DaysRemaining(now time.Time) int {
	remaining := l.ExpiryDate.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Hours() / 24)
}

// LicenseCheck records one validation attempt. Rows are never updated.
type LicenseCheck struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	LicenseID         string    `gorm:"size:40;not null;index" json:"license_id"`
	CheckTime         time.Time `gorm:"not null;index" json:"check_time"`
	ClientIP          string    `gorm:"column:client_ip;size:50" json:"client_ip"`
	MACAddress        string    `gorm:"column:mac_address;size:50" json:"mac_address"`
	SystemFingerprint string    `gorm:"size:128" json:"system_fingerprint"`
	ComputerName      string    `gorm:"size:100" json:"computer_name"`
	WasValid          bool      `json:"was_valid"`
	ResponseCode      string    `gorm:"size:30" json:"response_code"`
	UserAgent         string    `gorm:"size:255" json:"user_agent"`
	Details           string    `gorm:"type:text" json:"details"`
}

func (LicenseCheck) TableName() string {
	return "license_checks"
}

// AdminActionType identifies an administrative mutation.
type AdminActionType string

const (
	ActionCreate  AdminActionType = "CREATE"
	ActionBlock   AdminActionType = "BLOCK"
	ActionUnblock AdminActionType = "UNBLOCK"
	ActionRenew   AdminActionType = "RENEW"
)

// AdminAction records one successful administrative mutation. Rows are never
// updated.
type AdminAction struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ActionType AdminActionType `gorm:"size:20;not null;index" json:"action_type"`
	LicenseID  string          `gorm:"size:40;index" json:"license_id"`
	AdminUser  string          `gorm:"size:100" json:"admin_user"`
	Details    string          `gorm:"type:text" json:"details"`
	ActionTime time.Time       `gorm:"not null;index" json:"action_time"`
}

func (AdminAction) TableName() string {
	return "admin_actions"
}

// ActiveClient tracks the most recent installation seen for a license. One row
// per license, upserted on every validate/register call.
type ActiveClient struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	LicenseID    string     `gorm:"size:40;uniqueIndex;not null" json:"license_id"`
	ClientName   string     `gorm:"size:100" json:"client_name"`
	LastSeen     time.Time  `gorm:"index" json:"last_seen"`
	IPAddress    string     `gorm:"column:ip_address;size:50" json:"ip_address"`
	MACAddress   string     `gorm:"column:mac_address;size:50" json:"mac_address"`
	ComputerName string     `gorm:"size:100" json:"computer_name"`
	AppVersion   string     `gorm:"size:20" json:"app_version"`
	IsOnline     bool       `gorm:"default:false;index" json:"is_online"`
	SessionStart *time.Time `json:"session_start"`
	SessionEnd   *time.Time `json:"session_end"`
}

func (ActiveClient) TableName() string {
	return "active_clients"
}
