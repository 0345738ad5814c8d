package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmagest/license-server/internal/models"
	"github.com/pharmagest/license-server/internal/store"
	"github.com/pharmagest/license-server/internal/testutil"
)

func TestPresenceSweep(t *testing.T) {
	st := store.New(testutil.NewDB(t))
	lic := issueAt(t, st, time.Now().UTC(), 30)

	require.NoError(t, st.UpsertClient(&models.ActiveClient{
		LicenseID: lic.LicenseID,
		LastSeen:  time.Now().Add(-10 * time.Minute),
		IsOnline:  true,
	}))

	sweeper := NewPresenceSweeperService(st, 5)
	sweeper.sweep()

	n, err := st.CountOnlineClients()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPresenceSweeperStartStop(t *testing.T) {
	st := store.New(testutil.NewDB(t))
	sweeper := NewPresenceSweeperService(st, 5)

	sweeper.Start()
	sweeper.Start() // second start is a no-op
	sweeper.Stop()
	sweeper.Stop() // second stop is a no-op
}
