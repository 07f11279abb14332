package store

const schema = `
CREATE TABLE IF NOT EXISTS listings (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    source       TEXT NOT NULL DEFAULT 'unknown',
    external_id  TEXT,
    url          TEXT NOT NULL UNIQUE,
    title        TEXT,
    brand        TEXT NOT NULL,
    model        TEXT NOT NULL,
    variant      TEXT,
    year         INTEGER,
    mileage_km   INTEGER,
    price_eur    REAL,
    fuel_type    TEXT,
    transmission TEXT,
    color        TEXT,
    accident     INTEGER,
    condition    TEXT,

    score                  REAL,
    score_version          TEXT,
    score_level            TEXT,
    score_group_size       INTEGER,
    score_price_percentile REAL,
    score_computed_at      DATETIME,

    is_active     INTEGER NOT NULL DEFAULT 1,
    alerted       INTEGER NOT NULL DEFAULT 0,
    first_seen_at DATETIME NOT NULL,
    last_seen_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_brand_model_year ON listings(brand, model, year);
CREATE INDEX IF NOT EXISTS idx_listings_score ON listings(score);
CREATE INDEX IF NOT EXISTS idx_listings_active ON listings(is_active);
CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen_at);

CREATE TABLE IF NOT EXISTS listing_price_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    listing_id  INTEGER NOT NULL REFERENCES listings(id),
    price_eur   REAL,
    mileage_km  INTEGER,
    recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_listing ON listing_price_history(listing_id);

CREATE TABLE IF NOT EXISTS listing_score_history (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    listing_id    INTEGER NOT NULL REFERENCES listings(id),
    score         REAL NOT NULL,
    score_version TEXT NOT NULL,
    computed_at   DATETIME NOT NULL,
    details       TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_score_history_listing ON listing_score_history(listing_id);

CREATE TABLE IF NOT EXISTS model_year_stats (
    snapshot_date  TEXT NOT NULL,
    brand          TEXT NOT NULL,
    model          TEXT NOT NULL,
    year           INTEGER NOT NULL,
    n              INTEGER NOT NULL,
    avg_price      REAL,
    median_price   REAL,
    avg_mileage    REAL,
    median_mileage REAL,
    updated_at     DATETIME NOT NULL,
    PRIMARY KEY (snapshot_date, brand, model, year)
);

CREATE INDEX IF NOT EXISTS idx_stats_group ON model_year_stats(brand, model, year);
`
