package services

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmagest/license-server/internal/models"
	"github.com/pharmagest/license-server/internal/store"
	"github.com/pharmagest/license-server/internal/testutil"
)

func newLifecycleFixture(t *testing.T) (*store.LicenseStore, *LifecycleService) {
	t.Helper()
	st := store.New(testutil.NewDB(t))
	return st, NewLifecycleService(st)
}

func TestIssueRejectsBadInput(t *testing.T) {
	_, svc := newLifecycleFixture(t)

	_, err := svc.Issue("Pharmacie X", "x@example.fr", 0, 1, "admin")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Issue("Pharmacie X", "x@example.fr", -30, 1, "admin")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Issue("Pharmacie X", "x@example.fr", 30, 0, "admin")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIssueMintsCredentialAndAudit(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	st, svc := newLifecycleFixture(t)
	svc.SetClock(fixedClock(t0))

	lic, err := svc.Issue("Pharmacie du Parc", "parc@example.fr", 365, 5, "admin")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^PHG-20240115-[0-9A-F]{8}$`), lic.LicenseID)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), lic.LicenseKey)
	assert.Equal(t, t0.AddDate(0, 0, 365), lic.ExpiryDate)
	assert.Equal(t, 5, lic.MaxUsers)
	assert.False(t, lic.IsBlocked)

	// The credential is retrievable by both identifiers.
	byKey, err := st.GetByKey(lic.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, lic.LicenseID, byKey.LicenseID)

	actions, err := st.ListActions(lic.LicenseID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionCreate, actions[0].ActionType)
	assert.Equal(t, "admin", actions[0].AdminUser)
	assert.Contains(t, actions[0].Details, "duration_days")
}

func TestIssueCredentialsAreUnique(t *testing.T) {
	_, svc := newLifecycleFixture(t)

	ids := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		lic, err := svc.Issue("Pharmacie X", "x@example.fr", 30, 1, "admin")
		require.NoError(t, err)
		_, dup := ids[lic.LicenseID]
		require.False(t, dup, "duplicate license id %s", lic.LicenseID)
		ids[lic.LicenseID] = struct{}{}
	}
}

func TestLicenseKeyGenerationNeverCollides(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		key, err := newLicenseKey()
		require.NoError(t, err)
		require.Len(t, key, 64)
		_, dup := seen[key]
		require.False(t, dup, "duplicate license key after %d generations", i)
		seen[key] = struct{}{}
	}
}

func TestBlockAndUnblock(t *testing.T) {
	st, svc := newLifecycleFixture(t)
	lic, err := svc.Issue("Pharmacie X", "x@example.fr", 30, 1, "admin")
	require.NoError(t, err)

	require.NoError(t, svc.Block(lic.LicenseID, "", "admin"))
	got, err := st.GetByID(lic.LicenseID)
	require.NoError(t, err)
	assert.True(t, got.IsBlocked)
	assert.Equal(t, "Non-payment", got.BlockReason)

	// Blocking again overwrites the reason.
	require.NoError(t, svc.Block(lic.LicenseID, "Contrat résilié", "admin"))
	got, err = st.GetByID(lic.LicenseID)
	require.NoError(t, err)
	assert.True(t, got.IsBlocked)
	assert.Equal(t, "Contrat résilié", got.BlockReason)

	require.NoError(t, svc.Unblock(lic.LicenseID, "admin"))
	got, err = st.GetByID(lic.LicenseID)
	require.NoError(t, err)
	assert.False(t, got.IsBlocked)
	assert.Empty(t, got.BlockReason)

	actions, err := st.ListActions(lic.LicenseID)
	require.NoError(t, err)
	require.Len(t, actions, 4)

	assert.ErrorIs(t, svc.Block("PHG-19700101-00000000", "x", "admin"), store.ErrNotFound)
}

func TestRenewExtendsFromCurrentExpiry(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	st, svc := newLifecycleFixture(t)
	svc.SetClock(fixedClock(t0))

	lic, err := svc.Issue("Pharmacie X", "x@example.fr", 30, 1, "admin")
	require.NoError(t, err)

	newExpiry, err := svc.Renew(lic.LicenseID, 60, "admin")
	require.NoError(t, err)
	assert.Equal(t, lic.ExpiryDate.AddDate(0, 0, 60), newExpiry)

	got, err := st.GetByID(lic.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, newExpiry, got.ExpiryDate.UTC())

	_, err = svc.Renew("PHG-19700101-00000000", 60, "admin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentRenewalsStack(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	st, svc := newLifecycleFixture(t)
	svc.SetClock(fixedClock(t0))

	lic, err := svc.Issue("Pharmacie X", "x@example.fr", 30, 1, "admin")
	require.NoError(t, err)

	// Both renewals read the same starting expiry; neither extension may be
	// lost, whatever the interleaving.
	const n = 2
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Renew(lic.LicenseID, 60, "admin")
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	got, err := st.GetByID(lic.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, lic.ExpiryDate.AddDate(0, 0, n*60), got.ExpiryDate.UTC())

	actions, err := st.ListActions(lic.LicenseID)
	require.NoError(t, err)
	renews := 0
	for _, a := range actions {
		if a.ActionType == models.ActionRenew {
			renews++
		}
	}
	assert.Equal(t, n, renews)
}

func TestRenewUnblocksWithSeparateAuditEntry(t *testing.T) {
	st, svc := newLifecycleFixture(t)
	lic, err := svc.Issue("Pharmacie X", "x@example.fr", 30, 1, "admin")
	require.NoError(t, err)
	require.NoError(t, svc.Block(lic.LicenseID, "Non-payment", "admin"))

	_, err = svc.Renew(lic.LicenseID, 90, "admin")
	require.NoError(t, err)

	got, err := st.GetByID(lic.LicenseID)
	require.NoError(t, err)
	assert.False(t, got.IsBlocked)
	assert.Empty(t, got.BlockReason)

	actions, err := st.ListActions(lic.LicenseID)
	require.NoError(t, err)
	// CREATE, BLOCK, then RENEW and its UNBLOCK.
	require.Len(t, actions, 4)
	types := map[models.AdminActionType]int{}
	for _, a := range actions {
		types[a.ActionType]++
	}
	assert.Equal(t, 1, types[models.ActionRenew])
	assert.Equal(t, 1, types[models.ActionUnblock])
}

func TestForceLogout(t *testing.T) {
	st, svc := newLifecycleFixture(t)
	lic, err := svc.Issue("Pharmacie X", "x@example.fr", 30, 1, "admin")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ForceLogout(lic.LicenseID), store.ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, st.UpsertClient(&models.ActiveClient{
		LicenseID: lic.LicenseID, LastSeen: now, IsOnline: true, SessionStart: &now,
	}))
	require.NoError(t, svc.ForceLogout(lic.LicenseID))

	n, err := st.CountOnlineClients()
	require.NoError(t, err)
	assert.Zero(t, n)
}
