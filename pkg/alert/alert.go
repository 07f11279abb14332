package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/jargoneur/carwatch/pkg/listing"
)

// Notification describes one hot deal sent to alert destinations.
type Notification struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	URL     string          `json:"url"`
	Score   float64         `json:"score"`
	Listing listing.Listing `json:"listing"`
}

// NewDealNotification builds a notification for a scored listing.
func NewDealNotification(l listing.Listing) *Notification {
	title := fmt.Sprintf("%s %s", l.Brand, l.Model)
	if l.Title != nil && *l.Title != "" {
		title = *l.Title
	}

	body := ""
	if l.PriceEUR != nil {
		body += fmt.Sprintf("%.0f EUR", *l.PriceEUR)
	}
	if l.Year != nil {
		body += fmt.Sprintf(" | %d", *l.Year)
	}
	if l.MileageKM != nil {
		body += fmt.Sprintf(" | %d km", *l.MileageKM)
	}

	score := 0.0
	if l.Score != nil {
		score = *l.Score
	}

	return &Notification{
		Title:   title,
		Body:    body,
		URL:     l.URL,
		Score:   score,
		Listing: l,
	}
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
