package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/jargoneur/carwatch/internal/config"
	"github.com/jargoneur/carwatch/internal/scheduler"
	"github.com/jargoneur/carwatch/internal/store"
	"github.com/jargoneur/carwatch/pkg/alert"
	"github.com/jargoneur/carwatch/pkg/deal"
	"github.com/jargoneur/carwatch/pkg/listing"
	"github.com/jargoneur/carwatch/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

func scoringConfig(cfg *config.Config) deal.Config {
	return deal.Config{
		Version:      cfg.Scoring.Version,
		MinGroupSize: cfg.Scoring.MinGroupSize,
		KmBinSmall:   cfg.Scoring.KmBinSmall,
		KmBinLarge:   cfg.Scoring.KmBinLarge,
		KmBinXLarge:  cfg.Scoring.KmBinXLarge,
	}
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runImport(file string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	var listings []listing.Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}

	inserted, updated, err := db.UpsertListings(context.Background(), listings)
	if err != nil {
		return fmt.Errorf("import listings: %w", err)
	}

	fmt.Fprintf(os.Stderr, "import: inserted=%d updated=%d from %s\n", inserted, updated, file)
	return nil
}

func runScore(version string, minGroup int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	dc := scoringConfig(cfg)
	if version != "" {
		dc.Version = version
	}
	if minGroup > 0 {
		dc.MinGroupSize = minGroup
	}

	engine := deal.NewEngine(db, dc, newLogger())
	scored, err := engine.Run(context.Background())
	if err != nil {
		return fmt.Errorf("score listings: %w", err)
	}

	fmt.Fprintf(os.Stderr, "score: updated %d listings\n", scored)
	return nil
}

func runTop(jsonOutput bool, brand string, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	listings, err := db.ListListings(context.Background(), store.ListOpts{
		Brand:      brand,
		HasScore:   true,
		ActiveOnly: true,
		Sort:       "score_desc",
		Limit:      limit,
	})
	if err != nil {
		return fmt.Errorf("list listings: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	}

	if len(listings) == 0 {
		fmt.Println("no scored listings found (try: carwatch import && carwatch score)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tBRAND\tMODEL\tYEAR\tKM\tPRICE\tURL")
	for _, l := range listings {
		fmt.Fprintf(w, "%.1f\t%s\t%s\t%s\t%s\t%s\t%s\n",
			deref(l.Score), l.Brand, l.Model,
			intCol(l.Year), intCol(l.MileageKM), priceCol(l.PriceEUR), l.URL)
	}
	return w.Flush()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	log := newLogger()
	engine := deal.NewEngine(db, scoringConfig(cfg), log)

	srv := server.New(db, engine, port, log)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	log := newLogger()
	engine := deal.NewEngine(db, scoringConfig(cfg), log)
	alertMgr := buildAlertManager(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(db, engine, alertMgr,
		cfg.Scoring.ParseInterval(), cfg.Alerts.MinScore, log)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("scheduler error")
		}
	}()

	srv := server.New(db, engine, port, log)
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
	}()

	return srv.ListenAndServe()
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func intCol(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func priceCol(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *v)
}
