// Package keeper periodically harvests strategy rewards, releases accrued
// fees to the treasury and refreshes the protocol gauges.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dough/native/hub"
	"dough/observability/metrics"
)

// Report summarises one pass.
type Report struct {
	Harvested  int
	Failures   int
	Released   string
	HarvestErr error
	ReleaseErr error
}

// Keeper drives the maintenance loop.
type Keeper struct {
	hub      *hub.Hub
	caller   common.Address
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.ProtocolMetrics
}

// New constructs a keeper that acts as caller every interval.
func New(h *hub.Hub, caller common.Address, interval time.Duration) *Keeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Keeper{
		hub:      h,
		caller:   caller,
		interval: interval,
		logger:   slog.Default().With(slog.String("component", "keeper")),
		metrics:  metrics.Protocol(),
	}
}

func (k *Keeper) SetLogger(logger *slog.Logger) {
	if logger != nil {
		k.logger = logger
	}
}

// Run executes a pass every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.RunOnce(ctx)
		}
	}
}

// RunOnce harvests, releases fees and refreshes gauges. Harvest failures do
// not prevent the fee release.
func (k *Keeper) RunOnce(ctx context.Context) *Report {
	report := new(Report)
	result, err := k.hub.Harvest(ctx, k.caller)
	k.metrics.ObserveKeeperRun("harvest", err)
	if err != nil {
		report.HarvestErr = err
		k.logger.Warn("keeper harvest failed", slog.String("error", err.Error()))
	} else {
		report.Failures = len(result.Report.Failures)
		for _, d := range result.Distributions {
			report.Harvested++
			k.metrics.AddHarvested(d.Router, d.Proceeds)
		}
	}

	released, err := k.hub.ContributeToTreasury(ctx)
	k.metrics.ObserveKeeperRun("contribute", err)
	if err != nil {
		report.ReleaseErr = err
		k.logger.Warn("keeper fee release failed", slog.String("error", err.Error()))
	} else {
		report.Released = released.Proceeds.String()
	}

	if err := k.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		k.logger.Warn("keeper gauge refresh failed", slog.String("error", err.Error()))
	}
	k.logger.Debug("keeper pass complete",
		slog.Int("distributions", report.Harvested),
		slog.Int("strategy_failures", report.Failures),
		slog.String("released", report.Released))
	return report
}

func (k *Keeper) refresh(ctx context.Context) error {
	stats, err := k.hub.ProtocolStats(ctx)
	if err != nil {
		return err
	}
	k.metrics.SetBalances(stats.TVL, stats.Minted, stats.FeesAccrued, stats.Treasury, stats.PendingRewards)
	data, err := k.hub.StrategyData(ctx)
	if err != nil {
		return err
	}
	for _, s := range data {
		k.metrics.SetStrategyAssets(s.ID, s.TotalAssets)
	}
	return nil
}
