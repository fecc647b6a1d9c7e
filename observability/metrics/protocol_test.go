package metrics

import (
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProtocolGauges(t *testing.T) {
	m := Protocol()
	m.SetBalances(big.NewInt(10_000), big.NewInt(9_900), big.NewInt(100), big.NewInt(100), big.NewInt(0))
	m.SetStrategyAssets("aave", big.NewInt(10_000))

	if got := testutil.ToFloat64(m.tvl); got != 10_000 {
		t.Fatalf("tvl gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.claimSupply); got != 9_900 {
		t.Fatalf("claim gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.strategyAssets.WithLabelValues("aave")); got != 10_000 {
		t.Fatalf("strategy gauge = %v", got)
	}
}

func TestKeeperCounters(t *testing.T) {
	m := Protocol()
	before := testutil.ToFloat64(m.keeperRuns.WithLabelValues("harvest", "error"))
	m.ObserveKeeperRun("harvest", errors.New("boom"))
	m.ObserveKeeperRun("harvest", nil)
	if got := testutil.ToFloat64(m.keeperRuns.WithLabelValues("harvest", "error")); got != before+1 {
		t.Fatalf("error runs = %v, want %v", got, before+1)
	}

	m.AddHarvested("uniswap", big.NewInt(997))
	m.AddHarvested("uniswap", big.NewInt(0))
	if got := testutil.ToFloat64(m.harvested.WithLabelValues("uniswap")); got != 997 {
		t.Fatalf("harvested = %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var m *ProtocolMetrics
	m.SetBalances(nil, nil, nil, nil, nil)
	m.ObserveKeeperRun("harvest", nil)
	m.AddHarvested("x", big.NewInt(1))
}
