package backtest

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmarchuk/gridbot/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleConfig() config.BacktestConfig {
	return config.BacktestConfig{
		Trades:         500,
		WinRate:        0.6,
		ProfitPercent:  1.0,
		LossPercent:    1.0,
		InitialCapital: 10_000,
		Seed:           42,
	}
}

func TestSamplerDeterministicUnderSeed(t *testing.T) {
	a, err := NewSampler(sampleConfig(), testLogger()).Run()
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := NewSampler(sampleConfig(), testLogger()).Run()
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if a.Wins != b.Wins || a.Losses != b.Losses {
		t.Fatalf("outcome mismatch: %d/%d vs %d/%d", a.Wins, a.Losses, b.Wins, b.Losses)
	}
	if a.FinalCapital != b.FinalCapital {
		t.Fatalf("final capital mismatch: %g vs %g", a.FinalCapital, b.FinalCapital)
	}
	if a.MaxDrawdownPct != b.MaxDrawdownPct {
		t.Fatalf("drawdown mismatch: %g vs %g", a.MaxDrawdownPct, b.MaxDrawdownPct)
	}
}

func TestSamplerAccounting(t *testing.T) {
	cfg := sampleConfig()
	res, err := NewSampler(cfg, testLogger()).Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Wins+res.Losses != cfg.Trades {
		t.Fatalf("wins %d + losses %d != trades %d", res.Wins, res.Losses, cfg.Trades)
	}
	if got := float64(res.Wins) / float64(cfg.Trades); res.WinRate != got {
		t.Fatalf("win rate %g, want %g", res.WinRate, got)
	}

	// Recompound from the recorded win/loss counts. Order matters for
	// drawdown but not for the final capital with symmetric multipliers.
	want := cfg.InitialCapital *
		math.Pow(1+cfg.ProfitPercent/100, float64(res.Wins)) *
		math.Pow(1-cfg.LossPercent/100, float64(res.Losses))
	if diff := math.Abs(res.FinalCapital - want); diff > 1e-6 {
		t.Fatalf("final capital %g, want %g", res.FinalCapital, want)
	}

	if res.PeakCapital < cfg.InitialCapital {
		t.Fatalf("peak %g below initial %g", res.PeakCapital, cfg.InitialCapital)
	}
	if res.MaxDrawdownPct < 0 || res.MaxDrawdownPct > 100 {
		t.Fatalf("drawdown %g out of range", res.MaxDrawdownPct)
	}
}

func TestSamplerCertainOutcomes(t *testing.T) {
	cfg := sampleConfig()
	cfg.Trades = 10

	cfg.WinRate = 1.0
	res, err := NewSampler(cfg, testLogger()).Run()
	if err != nil {
		t.Fatalf("all-win run: %v", err)
	}
	if res.Losses != 0 || res.BestStreak != 10 || res.MaxDrawdownPct != 0 {
		t.Fatalf("all-win: losses=%d best=%d dd=%g", res.Losses, res.BestStreak, res.MaxDrawdownPct)
	}

	cfg.WinRate = 0.0
	res, err = NewSampler(cfg, testLogger()).Run()
	if err != nil {
		t.Fatalf("all-loss run: %v", err)
	}
	if res.Wins != 0 || res.WorstStreak != 10 {
		t.Fatalf("all-loss: wins=%d worst=%d", res.Wins, res.WorstStreak)
	}
	if res.FinalCapital >= cfg.InitialCapital {
		t.Fatalf("all-loss capital did not shrink: %g", res.FinalCapital)
	}
}

func TestSamplerRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.BacktestConfig)
	}{
		{"zero trades", func(c *config.BacktestConfig) { c.Trades = 0 }},
		{"negative win rate", func(c *config.BacktestConfig) { c.WinRate = -0.1 }},
		{"win rate above one", func(c *config.BacktestConfig) { c.WinRate = 1.5 }},
		{"zero capital", func(c *config.BacktestConfig) { c.InitialCapital = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := sampleConfig()
			tc.mutate(&cfg)
			if _, err := NewSampler(cfg, testLogger()).Run(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestWriteReportRoundTrip(t *testing.T) {
	res, err := NewSampler(sampleConfig(), testLogger()).Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	path := filepath.Join(t.TempDir(), "reports", "backtest.json")
	if err := WriteReport(res, path); err != nil {
		t.Fatalf("write report: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var got Result
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if got.FinalCapital != res.FinalCapital || got.Seed != res.Seed {
		t.Fatalf("report mismatch: %+v vs %+v", got, res)
	}
}
