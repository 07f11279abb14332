package deal

import "fmt"

// LevelSingleton marks listings whose brand+model+year has never had a peer.
const LevelSingleton = "singleton"

// cohortKey groups comparable listings. All levels share brand+model+year and
// the condition scale; only the mileage bin width varies between levels.
type cohortKey struct {
	brand     string
	model     string
	year      int
	condition float64
	kmBin     int
}

// cohortLevel is one entry of the narrow-to-broad fallback hierarchy.
type cohortLevel struct {
	Name string
	// Width selects the mileage bin width for this level.
	Width func(Config) int
	// MinSize returns the group size required to trust this level's ranking
	// for an item whose best-known brand+model+year population is bestPop.
	MinSize func(cfg Config, bestPop int) int
}

// cohortLevels returns the fallback hierarchy, narrowest mileage bin first.
// The terminal level accepts any group size so resolution never fails.
func cohortLevels() []cohortLevel {
	trusted := func(cfg Config, bestPop int) int {
		n := cfg.MinGroupSize
		// A rare brand+model+year can never reach the global minimum; demand
		// at most what has ever been observed for it.
		if bestPop < n {
			n = bestPop
		}
		if n < 1 {
			n = 1
		}
		return n
	}
	terminal := func(Config, int) int { return 1 }

	return []cohortLevel{
		{Name: "brand_model_year_cond_km_small", Width: func(c Config) int { return c.KmBinSmall }, MinSize: trusted},
		{Name: "brand_model_year_cond_km_large", Width: func(c Config) int { return c.KmBinLarge }, MinSize: trusted},
		{Name: "brand_model_year_cond_km_xlarge", Width: func(c Config) int { return c.KmBinXLarge }, MinSize: terminal},
	}
}

// Config controls one scoring run.
type Config struct {
	// Version is stamped on every score, history row and aggregate the run
	// produces.
	Version string
	// MinGroupSize is the global cohort size required to trust a percentile
	// ranking before falling back to a broader cohort.
	MinGroupSize int
	// Mileage bucket widths in km, narrow to broad.
	KmBinSmall  int
	KmBinLarge  int
	KmBinXLarge int
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = "percentile_v2"
	}
	if c.MinGroupSize <= 0 {
		c.MinGroupSize = 25
	}
	if c.KmBinSmall <= 0 {
		c.KmBinSmall = 10_000
	}
	if c.KmBinLarge <= 0 {
		c.KmBinLarge = 25_000
	}
	if c.KmBinXLarge <= 0 {
		c.KmBinXLarge = 50_000
	}
	return c
}

func (c Config) validate() error {
	if !(c.KmBinSmall <= c.KmBinLarge && c.KmBinLarge <= c.KmBinXLarge) {
		return fmt.Errorf("mileage bin widths must be ordered narrow to broad: %d/%d/%d",
			c.KmBinSmall, c.KmBinLarge, c.KmBinXLarge)
	}
	return nil
}
