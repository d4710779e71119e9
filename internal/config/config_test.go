package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAreValid(t *testing.T) {
	t.Setenv("STORE_MODE", "")
	t.Setenv("SAVE_FREQUENCY", "")
	cfg := Load()
	require.Equal(t, StoreModeJSON, cfg.StoreMode)
	require.Equal(t, 5, cfg.SaveFrequency)
	require.Equal(t, 5*time.Second, cfg.ClientTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadReadsTypedValues(t *testing.T) {
	t.Setenv("MIN_LOGIN_BONUS", "7")
	t.Setenv("MAX_LOGIN_BONUS", "9")
	t.Setenv("SAVE_FREQUENCY", "2")
	t.Setenv("ALLOW_SIMULTANEOUS_LOGINS", "true")
	t.Setenv("CLIENT_TIMEOUT", "250ms")
	t.Setenv("STORE_MODE", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://localhost/trade")

	cfg := Load()
	require.Equal(t, int64(7), cfg.MinLoginBonus)
	require.Equal(t, int64(9), cfg.MaxLoginBonus)
	require.Equal(t, 2, cfg.SaveFrequency)
	require.True(t, cfg.AllowSimultaneousLogins)
	require.Equal(t, 250*time.Millisecond, cfg.ClientTimeout)
	require.Equal(t, StoreModePostgres, cfg.StoreMode)
	require.NoError(t, cfg.Validate())
}

func TestLoadFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SAVE_FREQUENCY", "often")
	t.Setenv("CLIENT_TIMEOUT", "soon")
	cfg := Load()
	require.Equal(t, 5, cfg.SaveFrequency)
	require.Equal(t, 5*time.Second, cfg.ClientTimeout)
}

func TestAdminAddrCanBeDisabled(t *testing.T) {
	t.Setenv("ADMIN_ADDR", "")
	cfg := Load()
	require.Empty(t, cfg.AdminAddr)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	base := Load()

	cfg := base
	cfg.SaveFrequency = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.MinLoginBonus, cfg.MaxLoginBonus = 50, 10
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.StoreMode = StoreModePostgres
	cfg.DatabaseURL = ""
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.StoreMode = "sqlite"
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.ClientTimeout = 0
	require.Error(t, cfg.Validate())
}

func TestValidateClientIgnoresServerSettings(t *testing.T) {
	t.Setenv("STORE_MODE", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SAVE_FREQUENCY", "0")
	cfg := Load()
	require.Error(t, cfg.Validate())
	require.NoError(t, cfg.ValidateClient())

	cfg.ClientTimeout = 0
	require.Error(t, cfg.ValidateClient())

	cfg = Load()
	cfg.ServerAddr = ""
	require.Error(t, cfg.ValidateClient())
}
