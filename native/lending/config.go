package lending

import "fmt"

// Config captures the runtime configuration of a lending venue.
type Config struct {
	Name             string `yaml:"name"`
	ReserveFactorBps uint64 `yaml:"reserve_factor_bps"`
	BaseRateBps      uint64 `yaml:"base_rate_bps"`
	Slope1Bps        uint64 `yaml:"slope1_bps"`
	Slope2Bps        uint64 `yaml:"slope2_bps"`
	KinkBps          uint64 `yaml:"kink_bps"`
}

// DefaultConfig mirrors the parameters of a typical stablecoin reserve.
func DefaultConfig() Config {
	return Config{
		Name:             "aave",
		ReserveFactorBps: 1_000,
		BaseRateBps:      0,
		Slope1Bps:        400,
		Slope2Bps:        6_000,
		KinkBps:          8_000,
	}
}

// Validate checks every ratio is expressed within basis-point bounds.
func (c Config) Validate() error {
	if c.ReserveFactorBps > 10_000 {
		return fmt.Errorf("lending: reserve factor %d exceeds 10000", c.ReserveFactorBps)
	}
	if c.KinkBps > 10_000 {
		return fmt.Errorf("lending: kink %d exceeds 10000", c.KinkBps)
	}
	return nil
}

// Model builds the interest model described by the config.
func (c Config) Model() *InterestModel {
	return NewInterestModelBps(c.BaseRateBps, c.Slope1Bps, c.Slope2Bps, c.KinkBps)
}
