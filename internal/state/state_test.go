package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_trader/internal/core"
)

func sampleState() *GlobalState {
	st := New()
	st.LastSignalID = "42"
	sl := decimal.RequireFromString("58000")
	st.OpenTrades["BTCUSDT-1756000000-abcd1234"] = &core.Trade{
		TradeID:    "BTCUSDT-1756000000-abcd1234",
		Symbol:     "BTCUSDT",
		OrderSide:  core.SideBuy,
		Trigger:    decimal.RequireFromString("60000"),
		EntryPrice: decimal.RequireFromString("60000"),
		BaseQty:    decimal.RequireFromString("0.004"),
		SLPrice:    &sl,
		TPPrices:   []decimal.Decimal{decimal.RequireFromString("61000")},
		TPSplits:   []decimal.Decimal{decimal.RequireFromString("100")},
		TPOrderIDs: map[string]string{"1": "order-2"},
		TP1OrderID: "order-2",
		Status:     core.StatusOpen,
		PlacedTs:   1756000000,
		FilledTs:   1756000100,
	}
	st.DailyCounts["2026-08-24"] = 3
	st.SeenFingerprints = []string{"fp-1", "fp-2"}
	return st
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)
	ctx := context.Background()

	want := sampleState()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, want.LastSignalID, got.LastSignalID)
	assert.Equal(t, want.DailyCounts, got.DailyCounts)
	assert.Equal(t, want.SeenFingerprints, got.SeenFingerprints)
	require.Contains(t, got.OpenTrades, "BTCUSDT-1756000000-abcd1234")
	tr := got.OpenTrades["BTCUSDT-1756000000-abcd1234"]
	assert.Equal(t, core.StatusOpen, tr.Status)
	assert.True(t, tr.EntryPrice.Equal(decimal.RequireFromString("60000")))
	require.NotNil(t, tr.SLPrice)
	assert.True(t, tr.SLPrice.Equal(decimal.RequireFromString("58000")))
	assert.Equal(t, "order-2", tr.TPOrderIDs["1"])
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, st.OpenTrades)
	assert.NotNil(t, st.DailyCounts)
	assert.Empty(t, st.OpenTrades)
}

func TestFileStoreLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestFileStoreLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state.json"))
	require.NoError(t, store.Save(context.Background(), sampleState()))

	_, err := os.Stat(filepath.Join(dir, "state.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestMemoryStoreReturnsIndependentCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleState()))

	a, err := store.Load(ctx)
	require.NoError(t, err)
	a.LastSignalID = "mutated"

	b, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42", b.LastSignalID)
}

func TestDailyCounts(t *testing.T) {
	st := New()
	day := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, 0, st.DailyCount(day))
	st.IncrDaily(day)
	st.IncrDaily(day)
	assert.Equal(t, 2, st.DailyCount(day))

	// Counts roll over at the UTC day boundary.
	next := day.Add(2 * time.Minute)
	assert.Equal(t, 0, st.DailyCount(next))
}

func TestActiveTradesIgnoresTerminal(t *testing.T) {
	st := New()
	st.OpenTrades["a"] = &core.Trade{TradeID: "a", Status: core.StatusPending}
	st.OpenTrades["b"] = &core.Trade{TradeID: "b", Status: core.StatusOpen}
	st.OpenTrades["c"] = &core.Trade{TradeID: "c", Status: core.StatusClosed}
	st.OpenTrades["d"] = &core.Trade{TradeID: "d", Status: core.StatusExpired}

	assert.Equal(t, 2, st.ActiveTrades())
}

func TestFingerprintRingIsBounded(t *testing.T) {
	st := New()
	for i := 0; i < maxFingerprints+100; i++ {
		st.RememberFingerprint(fmt.Sprintf("fp-%d", i))
	}

	assert.Len(t, st.SeenFingerprints, maxFingerprints)
	assert.False(t, st.HasFingerprint("fp-0"), "oldest entries should be evicted")
	assert.True(t, st.HasFingerprint(fmt.Sprintf("fp-%d", maxFingerprints+99)))
}
