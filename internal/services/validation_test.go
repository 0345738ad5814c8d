package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pharmagest/license-server/internal/models"
	"github.com/pharmagest/license-server/internal/store"
	"github.com/pharmagest/license-server/internal/testutil"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newValidationFixture(t *testing.T) (*gorm.DB, *store.LicenseStore, *ValidationService) {
	t.Helper()
	db := testutil.NewDB(t)
	st := store.New(db)
	svc := NewValidationService(st)
	return db, st, svc
}

func issueAt(t *testing.T, st *store.LicenseStore, at time.Time, durationDays int) *models.License {
	t.Helper()
	svc := NewLifecycleService(st)
	svc.SetClock(fixedClock(at))
	lic, err := svc.Issue("Pharmacie du Parc", "parc@example.fr", durationDays, 2, "admin")
	require.NoError(t, err)
	return lic
}

func TestValidateUnknownKeyLeavesNoTrace(t *testing.T) {
	db, _, svc := newValidationFixture(t)

	result := svc.Validate("0000000000000000", "fp-1", ClientMetadata{IPAddress: "10.0.0.1"})

	assert.False(t, result.Valid)
	assert.Equal(t, models.CodeLicenseNotFound, result.Code)
	assert.Empty(t, result.LicenseID)

	var licenses, checks int64
	require.NoError(t, db.Model(&models.License{}).Count(&licenses).Error)
	require.NoError(t, db.Model(&models.LicenseCheck{}).Count(&checks).Error)
	assert.Zero(t, licenses, "unknown keys must never be auto-provisioned")
	assert.Zero(t, checks)
}

func TestValidateVerdicts(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	_, st, svc := newValidationFixture(t)
	lic := issueAt(t, st, t0, 30)

	t.Run("valid within term", func(t *testing.T) {
		svc.SetClock(fixedClock(t0.AddDate(0, 0, 10)))
		result := svc.Validate(lic.LicenseKey, "fp-1", ClientMetadata{})

		assert.True(t, result.Valid)
		assert.Equal(t, models.CodeLicenseValid, result.Code)
		assert.Equal(t, lic.LicenseID, result.LicenseID)
		assert.Equal(t, 20, result.DaysRemaining)
		assert.Equal(t, 2, result.MaxUsers)
	})

	t.Run("expired after term", func(t *testing.T) {
		svc.SetClock(fixedClock(t0.AddDate(0, 0, 40)))
		result := svc.Validate(lic.LicenseKey, "fp-1", ClientMetadata{})

		assert.False(t, result.Valid)
		assert.Equal(t, models.CodeLicenseExpired, result.Code)
		require.NotNil(t, result.ExpiryDate)
	})

	t.Run("block wins over expiry", func(t *testing.T) {
		lifecycle := NewLifecycleService(st)
		require.NoError(t, lifecycle.Block(lic.LicenseID, "Impayé facture 2024-113", "admin"))

		svc.SetClock(fixedClock(t0.AddDate(0, 0, 40)))
		result := svc.Validate(lic.LicenseKey, "fp-1", ClientMetadata{})

		assert.False(t, result.Valid)
		assert.Equal(t, models.CodeAdminBlocked, result.Code)
		assert.Contains(t, result.Message, "Impayé facture 2024-113")
		assert.Equal(t, "Impayé facture 2024-113", result.BlockReason)
	})
}

func TestValidateRecordsEveryKnownKeyCheck(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	_, st, svc := newValidationFixture(t)
	lic := issueAt(t, st, t0, 30)

	lifecycle := NewLifecycleService(st)
	require.NoError(t, lifecycle.Block(lic.LicenseID, "", "admin"))

	// Denied verdicts still merge metadata and count the attempt.
	svc.SetClock(fixedClock(t0.Add(time.Hour)))
	result := svc.Validate(lic.LicenseKey, "fp-9", ClientMetadata{
		MACAddress:   "AA:BB:CC:00:11:22",
		ComputerName: "POSTE-02",
	})
	assert.Equal(t, models.CodeAdminBlocked, result.Code)
	assert.Contains(t, result.Message, "Non-payment")

	got, err := st.GetByID(lic.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalChecks)
	assert.Equal(t, "AA:BB:CC:00:11:22", got.MACAddress)
	assert.Equal(t, "fp-9", got.SystemFingerprint)

	checks, err := st.ListChecks(lic.LicenseID, 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].WasValid)
	assert.Equal(t, models.CodeAdminBlocked, checks[0].ResponseCode)
}

func TestValidateEchoesMergedMetadata(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	_, st, svc := newValidationFixture(t)
	lic := issueAt(t, st, t0, 30)

	svc.SetClock(fixedClock(t0.Add(time.Hour)))
	svc.Validate(lic.LicenseKey, "fp-1", ClientMetadata{
		MACAddress:   "AA:BB:CC:00:11:22",
		ComputerName: "POSTE-01",
		IPAddress:    "10.0.0.5",
	})

	// Second check omits everything; the echo must come from stored state.
	result := svc.Validate(lic.LicenseKey, "", ClientMetadata{})
	assert.True(t, result.Valid)
	assert.Equal(t, "AA:BB:CC:00:11:22", result.MACAddress)
	assert.Equal(t, "POSTE-01", result.ComputerName)
	assert.Equal(t, "10.0.0.5", result.IPAddress)
}

func TestValidateConcurrentChecksLoseNoIncrement(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	_, st, svc := newValidationFixture(t)
	lic := issueAt(t, st, t0, 30)
	svc.SetClock(fixedClock(t0.Add(time.Hour)))

	const n = 25
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			result := svc.Validate(lic.LicenseKey, fmt.Sprintf("fp-%d", i), ClientMetadata{})
			assert.Equal(t, models.CodeLicenseValid, result.Code)
		}(i)
	}
	wg.Wait()

	got, err := st.GetByID(lic.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.TotalChecks)

	count, err := st.CountChecks(lic.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)
}

func TestStoreFailureYieldsServerError(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("lookup failure", func(t *testing.T) {
		db, st, svc := newValidationFixture(t)
		lic := issueAt(t, st, t0, 30)
		svc.SetClock(fixedClock(t0.Add(time.Hour)))

		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())

		result := svc.Validate(lic.LicenseKey, "fp-1", ClientMetadata{})
		assert.False(t, result.Valid)
		assert.Equal(t, models.CodeServerError, result.Code)
		assert.Equal(t, "Internal server error", result.Message)

		reg := svc.Register(lic.LicenseKey, "Pharmacie X", "x@example.fr", "fp-1", ClientMetadata{})
		assert.False(t, reg.Success)
		assert.Equal(t, models.CodeServerError, reg.Code)
		assert.Equal(t, "Internal server error", reg.Message)
	})

	t.Run("check write failure", func(t *testing.T) {
		db, st, svc := newValidationFixture(t)
		lic := issueAt(t, st, t0, 30)
		svc.SetClock(fixedClock(t0.Add(time.Hour)))

		// The lookup still works, so the failure hits the side-effect
		// transaction instead.
		require.NoError(t, db.Migrator().DropTable(&models.LicenseCheck{}))

		result := svc.Validate(lic.LicenseKey, "fp-1", ClientMetadata{})
		assert.False(t, result.Valid)
		assert.Equal(t, models.CodeServerError, result.Code)
		assert.Equal(t, "Internal server error", result.Message)
	})
}

func TestRegisterUnknownKeyRejected(t *testing.T) {
	db, _, svc := newValidationFixture(t)

	result := svc.Register("0000000000000000", "Pharmacie X", "x@example.fr", "fp-1", ClientMetadata{})

	assert.False(t, result.Success)
	assert.Equal(t, models.CodeLicenseNotFound, result.Code)
	assert.Contains(t, result.Message, "contact your vendor")

	var licenses int64
	require.NoError(t, db.Model(&models.License{}).Count(&licenses).Error)
	assert.Zero(t, licenses)
}

func TestRegisterOpensPresenceSession(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	_, st, svc := newValidationFixture(t)
	lic := issueAt(t, st, t0, 30)
	svc.SetClock(fixedClock(t0.Add(time.Hour)))

	result := svc.Register(lic.LicenseKey, "Pharmacie du Parc", "parc@example.fr", "fp-1", ClientMetadata{
		IPAddress:  "10.0.0.5",
		AppVersion: "2.4.1",
	})

	require.True(t, result.Success)
	assert.Equal(t, models.CodeRegistered, result.Code)
	assert.Equal(t, lic.LicenseID, result.LicenseID)

	clients, err := st.ListOnlineClients()
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, lic.LicenseID, clients[0].LicenseID)
	assert.Equal(t, "2.4.1", clients[0].AppVersion)
	require.NotNil(t, clients[0].SessionStart)

	checks, err := st.ListChecks(lic.LicenseID, 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, models.CodeRegistered, checks[0].ResponseCode)
	assert.Contains(t, checks[0].Details, "registration")
}
