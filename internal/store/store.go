package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jargoneur/carwatch/pkg/listing"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// GroupKey identifies a brand+model+year cohort.
type GroupKey struct {
	Brand string
	Model string
	Year  int
}

// ScoreUpdate carries one listing's freshly computed score fields.
type ScoreUpdate struct {
	ListingID       int64
	Score           float64
	Level           string
	GroupSize       *int
	PricePercentile *float64
}

// ModelYearStat is one daily aggregate row for a brand+model+year cohort.
type ModelYearStat struct {
	SnapshotDate  string    `db:"snapshot_date" json:"snapshot_date"`
	Brand         string    `db:"brand" json:"brand"`
	Model         string    `db:"model" json:"model"`
	Year          int       `db:"year" json:"year"`
	Count         int       `db:"n" json:"n"`
	AvgPrice      float64   `db:"avg_price" json:"avg_price"`
	MedianPrice   float64   `db:"median_price" json:"median_price"`
	AvgMileage    float64   `db:"avg_mileage" json:"avg_mileage"`
	MedianMileage float64   `db:"median_mileage" json:"median_mileage"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ScoreRun is the complete output of one scoring pass, persisted atomically.
type ScoreRun struct {
	Version    string
	ComputedAt time.Time
	Updates    []ScoreUpdate
	Stats      []ModelYearStat
}

// UpsertResult reports what an upsert did.
type UpsertResult string

const (
	UpsertInserted UpsertResult = "inserted"
	UpsertUpdated  UpsertResult = "updated"
)

// ListOpts controls listing queries.
type ListOpts struct {
	Brand      string
	Model      string
	Query      string
	YearMin    int
	YearMax    int
	MinScore   float64
	HasScore   bool
	ActiveOnly bool
	Sort       string
	Limit      int
	Offset     int
}

// StatsOpts controls aggregate queries.
type StatsOpts struct {
	Brand string
	Model string
	Year  int
	Date  string
	Limit int
}

// Store is the persistence interface.
type Store interface {
	UpsertListing(ctx context.Context, l *listing.Listing) (UpsertResult, error)
	UpsertListings(ctx context.Context, ls []listing.Listing) (inserted, updated int, err error)
	ListListings(ctx context.Context, opts ListOpts) ([]listing.Listing, error)
	ListEligibleListings(ctx context.Context) ([]listing.Listing, error)

	BestAggregateCounts(ctx context.Context) (map[GroupKey]int, error)
	SaveScoreRun(ctx context.Context, run *ScoreRun) error
	CountScoreHistory(ctx context.Context, listingID int64) (int, error)
	ListStats(ctx context.Context, opts StatsOpts) ([]ModelYearStat, error)

	ListUnalertedDeals(ctx context.Context, minScore float64, limit int) ([]listing.Listing, error)
	MarkAlerted(ctx context.Context, listingID int64) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertListing inserts or updates a listing keyed by URL. A price-history row
// is appended on insert and whenever price or mileage changed; a price change
// also clears the alerted flag so the deal can fire again.
func (s *SQLiteStore) UpsertListing(ctx context.Context, l *listing.Listing) (UpsertResult, error) {
	l.Brand = strings.TrimSpace(l.Brand)
	l.Model = strings.TrimSpace(l.Model)
	if l.URL == "" {
		return "", fmt.Errorf("upsert listing: url is required")
	}
	if l.Brand == "" || l.Model == "" {
		return "", fmt.Errorf("upsert listing %s: brand and model are required", l.URL)
	}
	if l.Source == "" {
		l.Source = "unknown"
	}

	now := time.Now().UTC()

	var prev struct {
		ID        int64    `db:"id"`
		PriceEUR  *float64 `db:"price_eur"`
		MileageKM *int     `db:"mileage_km"`
	}
	err := s.db.GetContext(ctx, &prev,
		"SELECT id, price_eur, mileage_km FROM listings WHERE url = ?", l.URL)
	if err != nil && !isNoRows(err) {
		return "", fmt.Errorf("lookup listing %s: %w", l.URL, err)
	}

	if isNoRows(err) {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO listings (
				source, external_id, url, title, brand, model, variant,
				year, mileage_km, price_eur, fuel_type, transmission, color,
				accident, condition, is_active, first_seen_at, last_seen_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`, l.Source, l.ExternalID, l.URL, l.Title, l.Brand, l.Model, l.Variant,
			l.Year, l.MileageKM, l.PriceEUR, l.FuelType, l.Transmission, l.Color,
			l.Accident, l.Condition, now, now)
		if err != nil {
			return "", fmt.Errorf("insert listing %s: %w", l.URL, err)
		}
		l.ID, _ = res.LastInsertId()

		if err := s.addPriceHistory(ctx, l.ID, l.PriceEUR, l.MileageKM, now); err != nil {
			return "", err
		}
		return UpsertInserted, nil
	}

	l.ID = prev.ID
	priceChanged := l.PriceEUR != nil && (prev.PriceEUR == nil || *prev.PriceEUR != *l.PriceEUR)
	mileageChanged := l.MileageKM != nil && (prev.MileageKM == nil || *prev.MileageKM != *l.MileageKM)

	query := `
		UPDATE listings SET
			source = ?, external_id = ?, title = ?, brand = ?, model = ?,
			variant = ?, year = ?, mileage_km = ?, price_eur = ?,
			fuel_type = ?, transmission = ?, color = ?, accident = ?,
			condition = ?, is_active = 1, last_seen_at = ?`
	args := []any{
		l.Source, l.ExternalID, l.Title, l.Brand, l.Model,
		l.Variant, l.Year, l.MileageKM, l.PriceEUR,
		l.FuelType, l.Transmission, l.Color, l.Accident,
		l.Condition, now,
	}
	if priceChanged {
		query += ", alerted = 0"
	}
	query += " WHERE id = ?"
	args = append(args, l.ID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("update listing %s: %w", l.URL, err)
	}

	if priceChanged || mileageChanged {
		if err := s.addPriceHistory(ctx, l.ID, l.PriceEUR, l.MileageKM, now); err != nil {
			return "", err
		}
	}
	return UpsertUpdated, nil
}

func (s *SQLiteStore) UpsertListings(ctx context.Context, ls []listing.Listing) (int, int, error) {
	inserted, updated := 0, 0
	for i := range ls {
		res, err := s.UpsertListing(ctx, &ls[i])
		if err != nil {
			return inserted, updated, err
		}
		if res == UpsertInserted {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}

func (s *SQLiteStore) addPriceHistory(ctx context.Context, id int64, price *float64, mileage *int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listing_price_history (listing_id, price_eur, mileage_km, recorded_at)
		VALUES (?, ?, ?, ?)
	`, id, price, mileage, at)
	if err != nil {
		return fmt.Errorf("add price history %d: %w", id, err)
	}
	return nil
}

// ListEligibleListings returns the active listings that carry every field the
// scoring engine needs. Rows missing any required field are excluded here and
// never reach the engine.
func (s *SQLiteStore) ListEligibleListings(ctx context.Context) ([]listing.Listing, error) {
	var ls []listing.Listing
	err := s.db.SelectContext(ctx, &ls, `
		SELECT * FROM listings
		WHERE is_active = 1
		  AND brand IS NOT NULL AND brand != ''
		  AND model IS NOT NULL AND model != ''
		  AND year IS NOT NULL
		  AND mileage_km IS NOT NULL
		  AND price_eur IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list eligible listings: %w", err)
	}
	return ls, nil
}

// sortMap whitelists sort keys exposed through the API and CLI.
var sortMap = map[string]string{
	"score_desc": "score DESC NULLS LAST, price_eur ASC",
	"score_asc":  "score ASC NULLS LAST, price_eur ASC",
	"price_asc":  "price_eur ASC NULLS LAST, score DESC",
	"price_desc": "price_eur DESC NULLS LAST, score DESC",
	"km_asc":     "mileage_km ASC NULLS LAST, score DESC",
	"km_desc":    "mileage_km DESC NULLS LAST, score DESC",
	"year_desc":  "year DESC NULLS LAST, score DESC",
	"year_asc":   "year ASC NULLS LAST, score DESC",
	"seen_desc":  "last_seen_at DESC",
}

func (s *SQLiteStore) ListListings(ctx context.Context, opts ListOpts) ([]listing.Listing, error) {
	query := "SELECT * FROM listings WHERE 1=1"
	var args []any

	if opts.ActiveOnly {
		query += " AND is_active = 1"
	}
	if opts.Brand != "" {
		query += " AND brand = ?"
		args = append(args, opts.Brand)
	}
	if opts.Model != "" {
		query += " AND model = ?"
		args = append(args, opts.Model)
	}
	if opts.Query != "" {
		query += " AND (brand LIKE ? OR model LIKE ? OR title LIKE ? OR variant LIKE ?)"
		like := "%" + opts.Query + "%"
		args = append(args, like, like, like, like)
	}
	if opts.YearMin > 0 {
		query += " AND year >= ?"
		args = append(args, opts.YearMin)
	}
	if opts.YearMax > 0 {
		query += " AND year <= ?"
		args = append(args, opts.YearMax)
	}
	if opts.HasScore {
		query += " AND score IS NOT NULL"
	}
	if opts.MinScore > 0 {
		query += " AND score >= ?"
		args = append(args, opts.MinScore)
	}

	order, ok := sortMap[opts.Sort]
	if !ok {
		order = sortMap["score_desc"]
	}
	query += " ORDER BY " + order

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	var ls []listing.Listing
	if err := s.db.SelectContext(ctx, &ls, query, args...); err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return ls, nil
}

// BestAggregateCounts returns, per brand+model+year, the largest cohort size
// ever recorded in the daily aggregates. Missing history is not an error; an
// empty map is a valid answer for a fresh database.
func (s *SQLiteStore) BestAggregateCounts(ctx context.Context) (map[GroupKey]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT brand, model, year, MAX(n) AS best FROM model_year_stats GROUP BY brand, model, year")
	if err != nil {
		return nil, fmt.Errorf("best aggregate counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[GroupKey]int)
	for rows.Next() {
		var k GroupKey
		var best int
		if err := rows.Scan(&k.Brand, &k.Model, &k.Year, &best); err != nil {
			return nil, err
		}
		counts[k] = best
	}
	return counts, rows.Err()
}

// SaveScoreRun persists one scoring pass in a single transaction: live score
// fields are overwritten, one immutable history row is appended per listing,
// and daily aggregates are upserted by (snapshot_date, brand, model, year).
func (s *SQLiteStore) SaveScoreRun(ctx context.Context, run *ScoreRun) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin score run: %w", err)
	}
	defer tx.Rollback()

	for _, u := range run.Updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE listings SET
				score = ?,
				score_version = ?,
				score_level = ?,
				score_group_size = ?,
				score_price_percentile = ?,
				score_computed_at = ?
			WHERE id = ?
		`, u.Score, run.Version, u.Level, u.GroupSize, u.PricePercentile, run.ComputedAt, u.ListingID)
		if err != nil {
			return fmt.Errorf("update score %d: %w", u.ListingID, err)
		}

		details, _ := json.Marshal(map[string]any{
			"level":            u.Level,
			"group_size":       u.GroupSize,
			"price_percentile": u.PricePercentile,
		})
		_, err = tx.ExecContext(ctx, `
			INSERT INTO listing_score_history (listing_id, score, score_version, computed_at, details)
			VALUES (?, ?, ?, ?, ?)
		`, u.ListingID, u.Score, run.Version, run.ComputedAt, string(details))
		if err != nil {
			return fmt.Errorf("append score history %d: %w", u.ListingID, err)
		}
	}

	for _, st := range run.Stats {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO model_year_stats (
				snapshot_date, brand, model, year,
				n, avg_price, median_price, avg_mileage, median_mileage, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(snapshot_date, brand, model, year) DO UPDATE SET
				n = excluded.n,
				avg_price = excluded.avg_price,
				median_price = excluded.median_price,
				avg_mileage = excluded.avg_mileage,
				median_mileage = excluded.median_mileage,
				updated_at = excluded.updated_at
		`, st.SnapshotDate, st.Brand, st.Model, st.Year,
			st.Count, st.AvgPrice, st.MedianPrice, st.AvgMileage, st.MedianMileage, run.ComputedAt)
		if err != nil {
			return fmt.Errorf("upsert stats %s/%s/%d: %w", st.Brand, st.Model, st.Year, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit score run: %w", err)
	}
	return nil
}

// CountScoreHistory returns the number of audit rows for a listing.
func (s *SQLiteStore) CountScoreHistory(ctx context.Context, listingID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM listing_score_history WHERE listing_id = ?", listingID)
	if err != nil {
		return 0, fmt.Errorf("count score history %d: %w", listingID, err)
	}
	return n, nil
}

func (s *SQLiteStore) ListStats(ctx context.Context, opts StatsOpts) ([]ModelYearStat, error) {
	query := "SELECT * FROM model_year_stats WHERE 1=1"
	var args []any

	if opts.Date != "" {
		query += " AND snapshot_date = ?"
		args = append(args, opts.Date)
	}
	if opts.Brand != "" {
		query += " AND brand = ?"
		args = append(args, opts.Brand)
	}
	if opts.Model != "" {
		query += " AND model = ?"
		args = append(args, opts.Model)
	}
	if opts.Year > 0 {
		query += " AND year = ?"
		args = append(args, opts.Year)
	}

	query += " ORDER BY snapshot_date DESC, brand, model, year"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var stats []ModelYearStat
	if err := s.db.SelectContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) ListUnalertedDeals(ctx context.Context, minScore float64, limit int) ([]listing.Listing, error) {
	if limit <= 0 {
		limit = 20
	}
	var ls []listing.Listing
	err := s.db.SelectContext(ctx, &ls, `
		SELECT * FROM listings
		WHERE is_active = 1 AND alerted = 0 AND score IS NOT NULL AND score >= ?
		ORDER BY score DESC
		LIMIT ?
	`, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("list unalerted deals: %w", err)
	}
	return ls, nil
}

func (s *SQLiteStore) MarkAlerted(ctx context.Context, listingID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE listings SET alerted = 1 WHERE id = ?", listingID)
	if err != nil {
		return fmt.Errorf("mark alerted %d: %w", listingID, err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
