package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "linear", cfg.Category)
	assert.Equal(t, "UNIFIED", cfg.AccountType)
	assert.Equal(t, "5000", cfg.RecvWindow)
	assert.Equal(t, 5, cfg.Leverage)
	assert.True(t, cfg.RiskPct.Equal(decimal.RequireFromString("5.0")))
	assert.Equal(t, 180, cfg.EntryExpirationMin)
	assert.True(t, cfg.EntryTooFarPct.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, cfg.InitialSLPct.Equal(decimal.RequireFromString("19.0")))
	assert.Len(t, cfg.TPSplits, 4)
	assert.Len(t, cfg.DCAQtyMults, 3)
	assert.True(t, cfg.MoveSLToBEOnTP1)
	assert.False(t, cfg.TrailActivateOnTP)
	assert.Equal(t, 3, cfg.TrailAfterTPIndex)
	assert.Equal(t, 15, cfg.PollSeconds)
	assert.Equal(t, "state.json", cfg.StateFile)
}

func TestLoadRequiresCredentialsOutsideDryRun(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	t.Setenv("TP_SPLITS", "50, 25, 25")
	t.Setenv("DCA_QTY_MULTS", "1.5,2.25")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.TPSplits, 3)
	assert.True(t, cfg.TPSplits[0].Equal(decimal.RequireFromString("50")))
	require.Len(t, cfg.DCAQtyMults, 2)
	assert.True(t, cfg.DCAQtyMults[1].Equal(decimal.RequireFromString("2.25")))
}

func TestBaseURLSelection(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "https://api.bybit.com", cfg.BaseURL())
	assert.Equal(t, "wss://stream.bybit.com/v5/private", cfg.PrivateWSURL())

	cfg.Testnet = true
	assert.Equal(t, "https://api-testnet.bybit.com", cfg.BaseURL())
	assert.Equal(t, "wss://stream-testnet.bybit.com/v5/private", cfg.PrivateWSURL())
}

func TestNormalizeSplits(t *testing.T) {
	d := decimal.RequireFromString

	t.Run("rescales to 100", func(t *testing.T) {
		out := NormalizeSplits([]decimal.Decimal{d("10"), d("10")})
		require.Len(t, out, 2)
		assert.True(t, out[0].Equal(d("50")), "got %s", out[0])
		assert.True(t, out[1].Equal(d("50")))
	})

	t.Run("already 100 untouched", func(t *testing.T) {
		in := []decimal.Decimal{d("30"), d("30"), d("30"), d("10")}
		out := NormalizeSplits(in)
		assert.Equal(t, in, out)
	})

	t.Run("non-positive entries preserved", func(t *testing.T) {
		out := NormalizeSplits([]decimal.Decimal{d("40"), d("0"), d("40")})
		assert.True(t, out[1].IsZero())
		assert.True(t, out[0].Equal(d("50")))
	})
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			DryRun:             true,
			Leverage:           5,
			RiskPct:            decimal.RequireFromString("5"),
			PollSeconds:        15,
			EntryExpirationMin: 180,
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Leverage = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RiskPct = decimal.Zero
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PollSeconds = -1
	assert.Error(t, cfg.Validate())
}
