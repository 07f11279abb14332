package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jargoneur/carwatch/pkg/listing"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "carwatch_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func testListing(url string) listing.Listing {
	return listing.Listing{
		Source:    "demo",
		URL:       url,
		Title:     strPtr("BMW 320d Touring"),
		Brand:     "BMW",
		Model:     "3er",
		Year:      intPtr(2018),
		MileageKM: intPtr(89_000),
		PriceEUR:  floatPtr(21_900),
	}
}

func TestUpsertInsertThenUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l := testListing("https://example.com/1")
	res, err := s.UpsertListing(ctx, &l)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res != UpsertInserted {
		t.Errorf("first upsert: got %s, want inserted", res)
	}
	if l.ID == 0 {
		t.Fatal("insert must assign an id")
	}

	l2 := testListing("https://example.com/1")
	l2.PriceEUR = floatPtr(19_900)
	res, err = s.UpsertListing(ctx, &l2)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res != UpsertUpdated {
		t.Errorf("second upsert: got %s, want updated", res)
	}
	if l2.ID != l.ID {
		t.Errorf("update must keep the id: got %d, want %d", l2.ID, l.ID)
	}

	got, err := s.ListListings(ctx, ListOpts{Brand: "BMW"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("listings: got %d, want 1", len(got))
	}
	if got[0].PriceEUR == nil || *got[0].PriceEUR != 19_900 {
		t.Errorf("price after update: got %v, want 19900", got[0].PriceEUR)
	}

	// Insert + price change = two price-history rows.
	var n int
	if err := s.db.Get(&n, "SELECT COUNT(*) FROM listing_price_history WHERE listing_id = ?", l.ID); err != nil {
		t.Fatalf("count price history: %v", err)
	}
	if n != 2 {
		t.Errorf("price history rows: got %d, want 2", n)
	}
}

func TestUpsertRequiresURLAndBrandModel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l := testListing("")
	if _, err := s.UpsertListing(ctx, &l); err == nil {
		t.Error("expected error for missing url")
	}

	l = testListing("https://example.com/x")
	l.Brand = ""
	if _, err := s.UpsertListing(ctx, &l); err == nil {
		t.Error("expected error for missing brand")
	}
}

func TestPriceChangeResetsAlerted(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l := testListing("https://example.com/1")
	if _, err := s.UpsertListing(ctx, &l); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.MarkAlerted(ctx, l.ID); err != nil {
		t.Fatalf("mark alerted: %v", err)
	}

	// Same price: alerted stays set.
	same := testListing("https://example.com/1")
	if _, err := s.UpsertListing(ctx, &same); err != nil {
		t.Fatalf("upsert same: %v", err)
	}
	got, _ := s.ListListings(ctx, ListOpts{})
	if !got[0].Alerted {
		t.Error("unchanged price must keep the alerted flag")
	}

	// New price: alerted clears, deal can fire again.
	cheaper := testListing("https://example.com/1")
	cheaper.PriceEUR = floatPtr(18_000)
	if _, err := s.UpsertListing(ctx, &cheaper); err != nil {
		t.Fatalf("upsert cheaper: %v", err)
	}
	got, _ = s.ListListings(ctx, ListOpts{})
	if got[0].Alerted {
		t.Error("price change must clear the alerted flag")
	}
}

func TestListEligibleListingsFiltersIncompleteRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	complete := testListing("https://example.com/complete")
	if _, err := s.UpsertListing(ctx, &complete); err != nil {
		t.Fatalf("insert complete: %v", err)
	}

	noYear := testListing("https://example.com/no-year")
	noYear.Year = nil
	if _, err := s.UpsertListing(ctx, &noYear); err != nil {
		t.Fatalf("insert no-year: %v", err)
	}

	noPrice := testListing("https://example.com/no-price")
	noPrice.PriceEUR = nil
	if _, err := s.UpsertListing(ctx, &noPrice); err != nil {
		t.Fatalf("insert no-price: %v", err)
	}

	got, err := s.ListEligibleListings(ctx)
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("eligible listings: got %d, want 1", len(got))
	}
	if got[0].URL != "https://example.com/complete" {
		t.Errorf("eligible listing: got %s", got[0].URL)
	}
}

func scoreRunFor(id int64, score float64) *ScoreRun {
	groupSize := 3
	pct := 0.5
	return &ScoreRun{
		Version:    "percentile_v2",
		ComputedAt: time.Now().UTC(),
		Updates: []ScoreUpdate{{
			ListingID:       id,
			Score:           score,
			Level:           "brand_model_year_cond_km_small",
			GroupSize:       &groupSize,
			PricePercentile: &pct,
		}},
		Stats: []ModelYearStat{{
			SnapshotDate:  time.Now().UTC().Format("2006-01-02"),
			Brand:         "BMW",
			Model:         "3er",
			Year:          2018,
			Count:         3,
			AvgPrice:      20_000,
			MedianPrice:   19_000,
			AvgMileage:    90_000,
			MedianMileage: 85_000,
		}},
	}
}

func TestSaveScoreRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l := testListing("https://example.com/1")
	if _, err := s.UpsertListing(ctx, &l); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.SaveScoreRun(ctx, scoreRunFor(l.ID, 72.5)); err != nil {
		t.Fatalf("save run: %v", err)
	}

	got, _ := s.ListListings(ctx, ListOpts{HasScore: true})
	if len(got) != 1 {
		t.Fatalf("scored listings: got %d, want 1", len(got))
	}
	r := got[0]
	if r.Score == nil || *r.Score != 72.5 {
		t.Errorf("score: got %v, want 72.5", r.Score)
	}
	if r.ScoreVersion == nil || *r.ScoreVersion != "percentile_v2" {
		t.Errorf("score version: got %v", r.ScoreVersion)
	}
	if r.ScoreLevel == nil || *r.ScoreLevel != "brand_model_year_cond_km_small" {
		t.Errorf("score level: got %v", r.ScoreLevel)
	}
	if r.ScoreGroupSize == nil || *r.ScoreGroupSize != 3 {
		t.Errorf("group size: got %v", r.ScoreGroupSize)
	}
	if r.ScorePricePercentile == nil || *r.ScorePricePercentile != 0.5 {
		t.Errorf("percentile: got %v", r.ScorePricePercentile)
	}
}

func TestScoreHistoryGrowsPerRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l := testListing("https://example.com/1")
	if _, err := s.UpsertListing(ctx, &l); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.SaveScoreRun(ctx, scoreRunFor(l.ID, 50)); err != nil {
			t.Fatalf("save run %d: %v", i, err)
		}
	}

	n, err := s.CountScoreHistory(ctx, l.ID)
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	if n != 2 {
		t.Errorf("history rows: got %d, want 2", n)
	}
}

func TestStatsUpsertIdempotentPerDate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l := testListing("https://example.com/1")
	if _, err := s.UpsertListing(ctx, &l); err != nil {
		t.Fatalf("insert: %v", err)
	}

	run := scoreRunFor(l.ID, 50)
	if err := s.SaveScoreRun(ctx, run); err != nil {
		t.Fatalf("first save: %v", err)
	}
	run.Stats[0].AvgPrice = 21_000
	if err := s.SaveScoreRun(ctx, run); err != nil {
		t.Fatalf("second save: %v", err)
	}

	stats, err := s.ListStats(ctx, StatsOpts{Brand: "BMW"})
	if err != nil {
		t.Fatalf("list stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("stats rows: got %d, want 1 (same-day upsert)", len(stats))
	}
	if stats[0].AvgPrice != 21_000 {
		t.Errorf("avg price after re-run: got %v, want 21000", stats[0].AvgPrice)
	}
}

func TestBestAggregateCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, row := range []struct {
		date string
		n    int
	}{
		{"2026-08-29", 3},
		{"2026-08-30", 7},
		{"2026-08-31", 5},
	} {
		run := &ScoreRun{
			Version:    "percentile_v2",
			ComputedAt: now,
			Stats: []ModelYearStat{{
				SnapshotDate: row.date, Brand: "BMW", Model: "3er", Year: 2018, Count: row.n,
			}},
		}
		if err := s.SaveScoreRun(ctx, run); err != nil {
			t.Fatalf("save stats %s: %v", row.date, err)
		}
	}

	counts, err := s.BestAggregateCounts(ctx)
	if err != nil {
		t.Fatalf("best counts: %v", err)
	}
	key := GroupKey{Brand: "BMW", Model: "3er", Year: 2018}
	if counts[key] != 7 {
		t.Errorf("best count: got %d, want 7", counts[key])
	}
}

func TestListUnalertedDeals(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	hot := testListing("https://example.com/hot")
	cold := testListing("https://example.com/cold")
	if _, err := s.UpsertListing(ctx, &hot); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertListing(ctx, &cold); err != nil {
		t.Fatal(err)
	}

	run := scoreRunFor(hot.ID, 95)
	run.Updates = append(run.Updates, scoreRunFor(cold.ID, 40).Updates...)
	if err := s.SaveScoreRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	deals, err := s.ListUnalertedDeals(ctx, 90, 10)
	if err != nil {
		t.Fatalf("list deals: %v", err)
	}
	if len(deals) != 1 || deals[0].ID != hot.ID {
		t.Fatalf("deals: got %v, want only the hot listing", deals)
	}

	if err := s.MarkAlerted(ctx, hot.ID); err != nil {
		t.Fatalf("mark alerted: %v", err)
	}
	deals, err = s.ListUnalertedDeals(ctx, 90, 10)
	if err != nil {
		t.Fatalf("list deals after alert: %v", err)
	}
	if len(deals) != 0 {
		t.Errorf("alerted deal must not be listed again, got %d", len(deals))
	}
}
