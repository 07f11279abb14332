package deal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jargoneur/carwatch/internal/store"
	"github.com/jargoneur/carwatch/pkg/listing"
	"github.com/sirupsen/logrus"
)

// Engine computes deal scores for all eligible listings.
//
// A score answers "how cheap is this listing relative to comparable listings
// in the current snapshot": 100 = cheapest in its cohort, 0 = most expensive.
// Cohorts fall back narrow to broad when too small to trust, secondary
// attributes perturb the result through weighted overlays, and listings with
// no known peer ever are forced to a perfect score.
type Engine struct {
	store store.Store
	cfg   Config
	log   *logrus.Logger
}

// NewEngine creates a scoring engine.
func NewEngine(s store.Store, cfg Config, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{store: s, cfg: cfg.withDefaults(), log: log}
}

// item is one eligible listing plus its derived cohort fields. State is
// scoped to a single run; nothing survives between runs.
type item struct {
	id    int64
	brand string
	model string
	year  int
	km    int
	price float64

	condition    float64
	fuel         string
	transmission string
	color        string
	variant      string
	accident     bool

	resolved     bool
	levelName    string
	levelIdx     int
	groupSize    int
	percentile   float64
	primaryScore float64
	score        float64
	singleton    bool
}

// Run executes one full scoring pass and persists the results. It returns the
// number of listings scored. An empty snapshot is a successful zero-count run
// with no writes.
func (e *Engine) Run(ctx context.Context) (int, error) {
	if err := e.cfg.validate(); err != nil {
		return 0, err
	}

	rows, err := e.store.ListEligibleListings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if len(rows) == 0 {
		e.log.Info("scoring: no eligible listings, nothing to do")
		return 0, nil
	}

	items := e.normalize(rows)
	bestPop := e.bestKnownPopulations(ctx, items)

	e.resolve(items, bestPop)
	e.blend(items)
	e.applySingletons(items, bestPop)

	run := e.buildRun(items)
	if err := e.store.SaveScoreRun(ctx, run); err != nil {
		return 0, fmt.Errorf("persist score run: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"listings": len(items),
		"version":  e.cfg.Version,
	}).Info("scoring: run complete")
	return len(items), nil
}

// normalize derives cohort fields from raw listings. Pure per-row transform.
func (e *Engine) normalize(rows []listing.Listing) []*item {
	items := make([]*item, 0, len(rows))
	for i := range rows {
		l := &rows[i]
		if !l.Eligible() {
			continue
		}
		items = append(items, &item{
			id:           l.ID,
			brand:        l.Brand,
			model:        l.Model,
			year:         *l.Year,
			km:           *l.MileageKM,
			price:        *l.PriceEUR,
			condition:    conditionValue(l.Condition),
			fuel:         normalizeText(l.FuelType),
			transmission: normalizeText(l.Transmission),
			color:        normalizeText(l.Color),
			variant:      normalizeText(l.Variant),
			accident:     l.Accident != nil && *l.Accident,
		})
	}
	return items
}

// bestKnownPopulations returns, per brand+model+year, the larger of the
// current snapshot count and the best all-time daily aggregate count. The
// resolver's trust thresholds and the singleton rule share this one source of
// truth. A missing or unreadable aggregate table degrades to current counts.
func (e *Engine) bestKnownPopulations(ctx context.Context, items []*item) map[store.GroupKey]int {
	pops := make(map[store.GroupKey]int)
	for _, it := range items {
		pops[store.GroupKey{Brand: it.brand, Model: it.model, Year: it.year}]++
	}

	hist, err := e.store.BestAggregateCounts(ctx)
	if err != nil {
		e.log.WithError(err).Warn("scoring: aggregate history unavailable, using current counts only")
		return pops
	}
	for k, n := range hist {
		if n > pops[k] {
			pops[k] = n
		}
	}
	return pops
}

// resolve walks the fallback hierarchy narrow to broad and finalizes every
// item at the first level whose cohort it can trust. The terminal level
// accepts singletons, so no item is left unresolved.
func (e *Engine) resolve(items []*item, bestPop map[store.GroupKey]int) {
	for idx, level := range cohortLevels() {
		remaining := 0
		for _, it := range items {
			if !it.resolved {
				remaining++
			}
		}
		if remaining == 0 {
			break
		}

		width := level.Width(e.cfg)
		groups := make(map[cohortKey][]*item)
		for _, it := range items {
			key := cohortKey{
				brand:     it.brand,
				model:     it.model,
				year:      it.year,
				condition: it.condition,
				kmBin:     kmBin(it.km, width),
			}
			groups[key] = append(groups[key], it)
		}

		for key, group := range groups {
			prices := make([]float64, len(group))
			for i, it := range group {
				prices[i] = it.price
			}
			pcts := percentileScores(prices)

			pop := bestPop[store.GroupKey{Brand: key.brand, Model: key.model, Year: key.year}]
			need := level.MinSize(e.cfg, pop)

			for i, it := range group {
				if it.resolved || len(group) < need {
					continue
				}
				it.resolved = true
				it.levelName = level.Name
				it.levelIdx = idx
				it.groupSize = len(group)
				it.percentile = pcts[i]
				it.primaryScore = (1 - pcts[i]) * 100
			}
		}
	}
}

// blend folds overlay percentiles into each item's score. Cohorts are rebuilt
// per level over all items, exactly as the resolver groups them, so an item
// that fell back to a broader level blends against every peer sharing its
// cohort key there, not just the peers that resolved at the same level. Only
// items resolved at the level being blended get their score assigned.
func (e *Engine) blend(items []*item) {
	for idx, level := range cohortLevels() {
		width := level.Width(e.cfg)
		groups := make(map[cohortKey][]*item)
		for _, it := range items {
			key := cohortKey{
				brand:     it.brand,
				model:     it.model,
				year:      it.year,
				condition: it.condition,
				kmBin:     kmBin(it.km, width),
			}
			groups[key] = append(groups[key], it)
		}

		for _, group := range groups {
			assigned := false
			for _, it := range group {
				if it.levelIdx == idx {
					assigned = true
					break
				}
			}
			if !assigned {
				continue
			}
			scores := blendOverlays(group)
			for i, it := range group {
				if it.levelIdx == idx {
					it.score = scores[i]
				}
			}
		}
	}
}

// applySingletons forces a perfect score on items whose brand+model+year has
// at most one known listing ever. Runs after blending and overrides it.
func (e *Engine) applySingletons(items []*item, bestPop map[store.GroupKey]int) {
	for _, it := range items {
		if bestPop[store.GroupKey{Brand: it.brand, Model: it.model, Year: it.year}] <= 1 {
			it.singleton = true
			it.score = 100
			it.levelName = LevelSingleton
			it.groupSize = 1
		}
	}
}

// buildRun clamps and rounds final scores and assembles the transactional
// write: live updates, history rows and today's aggregates.
func (e *Engine) buildRun(items []*item) *store.ScoreRun {
	now := time.Now().UTC()
	run := &store.ScoreRun{
		Version:    e.cfg.Version,
		ComputedAt: now,
		Updates:    make([]store.ScoreUpdate, 0, len(items)),
	}

	for _, it := range items {
		score := math.Round(clamp(it.score, 0, 100)*10) / 10
		groupSize := it.groupSize
		u := store.ScoreUpdate{
			ListingID: it.id,
			Score:     score,
			Level:     it.levelName,
			GroupSize: &groupSize,
		}
		if !it.singleton {
			pct := math.Round(it.percentile*10_000) / 10_000
			u.PricePercentile = &pct
		}
		run.Updates = append(run.Updates, u)
	}

	run.Stats = e.buildStats(items, now)
	return run
}

// buildStats computes today's aggregate snapshot per brand+model+year from
// the full eligible dataset.
func (e *Engine) buildStats(items []*item, now time.Time) []store.ModelYearStat {
	groups := make(map[store.GroupKey][]*item)
	for _, it := range items {
		k := store.GroupKey{Brand: it.brand, Model: it.model, Year: it.year}
		groups[k] = append(groups[k], it)
	}

	keys := make([]store.GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].Brand != keys[b].Brand {
			return keys[a].Brand < keys[b].Brand
		}
		if keys[a].Model != keys[b].Model {
			return keys[a].Model < keys[b].Model
		}
		return keys[a].Year < keys[b].Year
	})

	date := now.Format("2006-01-02")
	stats := make([]store.ModelYearStat, 0, len(keys))
	for _, k := range keys {
		group := groups[k]
		prices := make([]float64, len(group))
		mileages := make([]float64, len(group))
		for i, it := range group {
			prices[i] = it.price
			mileages[i] = float64(it.km)
		}
		stats = append(stats, store.ModelYearStat{
			SnapshotDate:  date,
			Brand:         k.Brand,
			Model:         k.Model,
			Year:          k.Year,
			Count:         len(group),
			AvgPrice:      mean(prices),
			MedianPrice:   median(prices),
			AvgMileage:    mean(mileages),
			MedianMileage: median(mileages),
			UpdatedAt:     now,
		})
	}
	return stats
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := make([]float64, len(vs))
	copy(sorted, vs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
