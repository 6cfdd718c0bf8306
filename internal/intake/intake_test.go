package intake

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

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/logging"
	"signal_trader/internal/state"
)

type stubSource struct {
	messages []Message
	polled   []string
}

func (s *stubSource) Poll(ctx context.Context, afterID string) ([]Message, error) {
	s.polled = append(s.polled, afterID)
	var out []Message
	for _, m := range s.messages {
		if m.ID > afterID {
			out = append(out, m)
		}
	}
	return out, nil
}

func testCfg() *config.Config {
	return &config.Config{
		MaxConcurrentTrades: 2,
		MaxTradesPerDay:     3,
		SignalMaxLagSec:     300,
	}
}

func msg(id, symbol, fp string, ts time.Time) Message {
	return Message{
		ID: id,
		Ts: ts,
		Signal: core.Signal{
			Symbol:      symbol,
			Side:        "buy",
			Trigger:     decimal.RequireFromString("60000"),
			Fingerprint: fp,
		},
	}
}

func newAdapter(src Source, cfg *config.Config, st *state.GlobalState, now time.Time) *Adapter {
	a := NewAdapter(src, cfg, st, logging.NewNop())
	a.SetClock(func() time.Time { return now })
	return a
}

func TestPollAcceptsFreshSignals(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	src := &stubSource{messages: []Message{
		msg("1", "BTCUSDT", "fp-1", now),
		msg("2", "ETHUSDT", "fp-2", now),
	}}
	st := state.New()
	a := newAdapter(src, testCfg(), st, now)

	signals, err := a.Poll(context.Background())
	require.NoError(t, err)

	assert.Len(t, signals, 2)
	assert.Equal(t, "2", st.LastSignalID)
	assert.True(t, st.HasFingerprint("fp-1"))
	assert.True(t, st.HasFingerprint("fp-2"))
}

func TestPollDeduplicatesByFingerprint(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	src := &stubSource{messages: []Message{
		msg("1", "BTCUSDT", "fp-same", now),
		msg("2", "BTCUSDT", "fp-same", now),
	}}
	a := newAdapter(src, testCfg(), state.New(), now)

	signals, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestPollDropsStaleSignals(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	src := &stubSource{messages: []Message{
		msg("1", "BTCUSDT", "fp-old", now.Add(-10*time.Minute)),
		msg("2", "ETHUSDT", "fp-new", now.Add(-time.Minute)),
	}}
	st := state.New()
	a := newAdapter(src, testCfg(), st, now)

	signals, err := a.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, signals, 1)
	assert.Equal(t, "ETHUSDT", signals[0].Symbol)
	// The marker still advanced past the stale message.
	assert.Equal(t, "2", st.LastSignalID)
}

func TestPollEnforcesConcurrentCap(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	st := state.New()
	st.OpenTrades["a"] = &core.Trade{TradeID: "a", Status: core.StatusOpen}
	st.OpenTrades["b"] = &core.Trade{TradeID: "b", Status: core.StatusPending}

	src := &stubSource{messages: []Message{msg("1", "BTCUSDT", "fp-1", now)}}
	a := newAdapter(src, testCfg(), st, now)

	signals, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestPollDailyCapHoldsWithinOneBatch(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cfg := testCfg()
	cfg.MaxTradesPerDay = 1

	// Two fresh signals arrive in the same poll; the engine has not admitted
	// either yet, so the cap must count batch acceptances too.
	src := &stubSource{messages: []Message{
		msg("1", "BTCUSDT", "fp-1", now),
		msg("2", "ETHUSDT", "fp-2", now),
	}}
	st := state.New()
	a := newAdapter(src, cfg, st, now)

	signals, err := a.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, signals, 1)
	assert.Equal(t, "BTCUSDT", signals[0].Symbol)
	assert.Equal(t, "2", st.LastSignalID)
}

func TestPollConcurrentCapHoldsWithinOneBatch(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cfg := testCfg()
	cfg.MaxConcurrentTrades = 1

	src := &stubSource{messages: []Message{
		msg("1", "BTCUSDT", "fp-1", now),
		msg("2", "ETHUSDT", "fp-2", now),
	}}
	a := newAdapter(src, cfg, state.New(), now)

	signals, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestPollEnforcesDailyCap(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	st := state.New()
	for i := 0; i < 3; i++ {
		st.IncrDaily(now)
	}

	src := &stubSource{messages: []Message{msg("1", "BTCUSDT", "fp-1", now)}}
	a := newAdapter(src, testCfg(), st, now)

	signals, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestPollDropsUnparseable(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	src := &stubSource{messages: []Message{
		{ID: "1", Ts: now},
		msg("2", "BTCUSDT", "fp-1", now),
	}}
	a := newAdapter(src, testCfg(), state.New(), now)

	signals, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestFileSourceReadsAfterMarker(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "signals.jsonl")

	lines := ""
	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		lines += fmt.Sprintf(`{"ts":%d,"symbol":"%s","side":"buy","trigger":"60000"}`+"\n", now.Unix()+int64(i), sym)
	}
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o600))

	src := NewFileSource(path)

	all, err := src.Poll(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "BTCUSDT", all[0].Signal.Symbol)
	assert.Equal(t, "1", all[0].ID)
	assert.NotEmpty(t, all[0].Signal.Fingerprint, "fingerprint derived from raw line")

	rest, err := src.Poll(context.Background(), "2")
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "SOLUSDT", rest[0].Signal.Symbol)
}

func TestFileSourceMissingFileIsEmptyFeed(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.jsonl"))
	msgs, err := src.Poll(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFileSourceSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")
	content := "not json\n" + `{"ts":1756000000,"symbol":"BTCUSDT","side":"buy","trigger":"60000"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	msgs, err := NewFileSource(path).Poll(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].Signal.Symbol)
	assert.Equal(t, "BTCUSDT", msgs[1].Signal.Symbol)
}
