package listing

import "time"

// Listing is the standardized data model for a vehicle offer.
//
// Comparison attributes (brand, model, year, mileage, price) drive deal
// scoring; a listing missing any of them keeps a nil score. Secondary
// attributes are free text as delivered by the ingest side and are only
// normalized inside the scoring engine.
type Listing struct {
	ID         int64   `json:"id" db:"id"`
	Source     string  `json:"source" db:"source"`
	ExternalID *string `json:"external_id,omitempty" db:"external_id"`
	URL        string  `json:"url" db:"url"`
	Title      *string `json:"title,omitempty" db:"title"`

	Brand     string   `json:"brand" db:"brand"`
	Model     string   `json:"model" db:"model"`
	Variant   *string  `json:"variant,omitempty" db:"variant"`
	Year      *int     `json:"year,omitempty" db:"year"`
	MileageKM *int     `json:"mileage_km,omitempty" db:"mileage_km"`
	PriceEUR  *float64 `json:"price_eur,omitempty" db:"price_eur"`

	FuelType     *string `json:"fuel_type,omitempty" db:"fuel_type"`
	Transmission *string `json:"transmission,omitempty" db:"transmission"`
	Color        *string `json:"color,omitempty" db:"color"`
	Accident     *bool   `json:"accident,omitempty" db:"accident"`
	Condition    *string `json:"condition,omitempty" db:"condition"`

	Score                *float64   `json:"score,omitempty" db:"score"`
	ScoreVersion         *string    `json:"score_version,omitempty" db:"score_version"`
	ScoreLevel           *string    `json:"score_level,omitempty" db:"score_level"`
	ScoreGroupSize       *int       `json:"score_group_size,omitempty" db:"score_group_size"`
	ScorePricePercentile *float64   `json:"score_price_percentile,omitempty" db:"score_price_percentile"`
	ScoreComputedAt      *time.Time `json:"score_computed_at,omitempty" db:"score_computed_at"`

	IsActive    bool      `json:"is_active" db:"is_active"`
	Alerted     bool      `json:"alerted" db:"alerted"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// Eligible reports whether the listing carries every field required for
// scoring. The store filters on the same condition in SQL; this exists for
// callers that hold listings in memory.
func (l *Listing) Eligible() bool {
	return l.IsActive &&
		l.Brand != "" && l.Model != "" &&
		l.Year != nil && l.MileageKM != nil && l.PriceEUR != nil
}
