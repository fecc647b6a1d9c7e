package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ProtocolMetrics exports the protocol's balance sheet as gauges, refreshed
// by the keeper after each pass.
type ProtocolMetrics struct {
	tvl            prometheus.Gauge
	claimSupply    prometheus.Gauge
	feesAccrued    prometheus.Gauge
	treasury       prometheus.Gauge
	pendingRewards prometheus.Gauge
	strategyAssets *prometheus.GaugeVec
	keeperRuns     *prometheus.CounterVec
	harvested      *prometheus.CounterVec
}

var (
	protocolOnce     sync.Once
	protocolRegistry *ProtocolMetrics
)

func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			tvl: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dough_tvl",
				Help: "Live base-asset backing held by the vault and strategies, in base units.",
			}),
			claimSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dough_claim_supply",
				Help: "Outstanding claim tokens.",
			}),
			feesAccrued: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dough_fees_accrued",
				Help: "Mint fees owed to the treasury and not yet released.",
			}),
			treasury: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dough_treasury",
				Help: "Treasury position: base asset held plus accrued fees.",
			}),
			pendingRewards: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dough_pending_rewards",
				Help: "Rewards claimable by the strategies at the last refresh.",
			}),
			strategyAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dough_strategy_assets",
				Help: "Base-asset value reported by each strategy.",
			}, []string{"strategy"}),
			keeperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dough_keeper_runs_total",
				Help: "Keeper passes segmented by task and outcome.",
			}, []string{"task", "outcome"}),
			harvested: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dough_harvested_total",
				Help: "Reward proceeds distributed by the treasury, in base units.",
			}, []string{"router"}),
		}
		prometheus.MustRegister(
			protocolRegistry.tvl,
			protocolRegistry.claimSupply,
			protocolRegistry.feesAccrued,
			protocolRegistry.treasury,
			protocolRegistry.pendingRewards,
			protocolRegistry.strategyAssets,
			protocolRegistry.keeperRuns,
			protocolRegistry.harvested,
		)
	})
	return protocolRegistry
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func (m *ProtocolMetrics) SetBalances(tvl, claims, fees, treasury, pending *big.Int) {
	if m == nil {
		return
	}
	m.tvl.Set(toFloat(tvl))
	m.claimSupply.Set(toFloat(claims))
	m.feesAccrued.Set(toFloat(fees))
	m.treasury.Set(toFloat(treasury))
	m.pendingRewards.Set(toFloat(pending))
}

func (m *ProtocolMetrics) SetStrategyAssets(id string, amount *big.Int) {
	if m == nil {
		return
	}
	if id == "" {
		id = "unknown"
	}
	m.strategyAssets.WithLabelValues(id).Set(toFloat(amount))
}

func (m *ProtocolMetrics) ObserveKeeperRun(task string, err error) {
	if m == nil {
		return
	}
	if task == "" {
		task = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.keeperRuns.WithLabelValues(task, outcome).Inc()
}

func (m *ProtocolMetrics) AddHarvested(router string, proceeds *big.Int) {
	if m == nil || proceeds == nil || proceeds.Sign() <= 0 {
		return
	}
	if router == "" {
		router = "none"
	}
	m.harvested.WithLabelValues(router).Add(toFloat(proceeds))
}
