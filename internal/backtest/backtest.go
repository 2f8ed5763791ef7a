// Package backtest implements a probabilistic trade sampler. It draws a
// configured number of win/loss outcomes from a seeded RNG and compounds
// them over the starting capital. It is a statistics illustration of the
// configured win-rate and profit/loss percentages; it does not replay
// price history through the live engines.
package backtest

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/dmarchuk/gridbot/internal/config"
)

// Result summarises one sampler run.
type Result struct {
	Trades         int       `json:"trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	WinRate        float64   `json:"win_rate"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`
	ReturnPercent  float64   `json:"return_percent"`
	PeakCapital    float64   `json:"peak_capital"`
	MaxDrawdownPct float64   `json:"max_drawdown_percent"`
	BestStreak     int       `json:"best_streak"`
	WorstStreak    int       `json:"worst_streak"`
	Seed           int64     `json:"seed"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Sampler draws trade outcomes according to the configured win rate.
type Sampler struct {
	cfg    config.BacktestConfig
	logger *slog.Logger
}

// NewSampler creates a Sampler. A zero cfg.Seed is replaced with the
// current time so repeated unseeded runs differ.
func NewSampler(cfg config.BacktestConfig, logger *slog.Logger) *Sampler {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Sampler{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "backtest")),
	}
}

// Run samples cfg.Trades outcomes and returns the compounded result.
func (s *Sampler) Run() (Result, error) {
	cfg := s.cfg
	if cfg.Trades <= 0 {
		return Result{}, fmt.Errorf("backtest: trades must be positive, got %d", cfg.Trades)
	}
	if cfg.WinRate < 0 || cfg.WinRate > 1 {
		return Result{}, fmt.Errorf("backtest: win_rate must be in [0,1], got %g", cfg.WinRate)
	}
	if cfg.InitialCapital <= 0 {
		return Result{}, fmt.Errorf("backtest: initial_capital must be positive, got %g", cfg.InitialCapital)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	capital := cfg.InitialCapital
	peak := capital
	maxDrawdown := 0.0

	wins, losses := 0, 0
	streak := 0 // >0 winning, <0 losing
	best, worst := 0, 0

	for i := 0; i < cfg.Trades; i++ {
		if rng.Float64() < cfg.WinRate {
			capital *= 1 + cfg.ProfitPercent/100
			wins++
			if streak < 0 {
				streak = 0
			}
			streak++
			if streak > best {
				best = streak
			}
		} else {
			capital *= 1 - cfg.LossPercent/100
			losses++
			if streak > 0 {
				streak = 0
			}
			streak--
			if -streak > worst {
				worst = -streak
			}
		}

		if capital > peak {
			peak = capital
		}
		if peak > 0 {
			if dd := (peak - capital) / peak * 100; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	res := Result{
		Trades:         cfg.Trades,
		Wins:           wins,
		Losses:         losses,
		WinRate:        float64(wins) / float64(cfg.Trades),
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   capital,
		ReturnPercent:  (capital - cfg.InitialCapital) / cfg.InitialCapital * 100,
		PeakCapital:    peak,
		MaxDrawdownPct: maxDrawdown,
		BestStreak:     best,
		WorstStreak:    worst,
		Seed:           cfg.Seed,
		GeneratedAt:    time.Now().UTC(),
	}

	s.logger.Info("sampler run complete",
		slog.Int("trades", res.Trades),
		slog.Int("wins", res.Wins),
		slog.Int("losses", res.Losses),
		slog.Float64("final_capital", res.FinalCapital),
		slog.Float64("return_percent", res.ReturnPercent),
		slog.Float64("max_drawdown_percent", res.MaxDrawdownPct),
	)

	return res, nil
}
