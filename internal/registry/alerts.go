package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vesaa/healdash/internal/feed"
	"github.com/vesaa/healdash/internal/models"
)

// DefaultAlertCap bounds the alert feed.
const DefaultAlertCap = 100

// Alerts is the capped, most-recent-first feed of user-facing alerts.
type Alerts struct {
	mu     sync.Mutex
	alerts []models.Alert // newest first
	cap    int
	pub    feed.Publisher
}

// NewAlerts returns an empty feed keeping at most capacity alerts.
func NewAlerts(capacity int, pub feed.Publisher) *Alerts {
	if capacity < 1 {
		capacity = DefaultAlertCap
	}
	if pub == nil {
		pub = feed.Discard
	}
	return &Alerts{cap: capacity, pub: pub}
}

// Push adds an alert and returns it.
func (a *Alerts) Push(typ models.AlertType, title, message string) models.Alert {
	al := models.Alert{
		ID:        uuid.NewString(),
		Type:      typ,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	a.mu.Lock()
	a.alerts = append([]models.Alert{al}, a.alerts...)
	if len(a.alerts) > a.cap {
		a.alerts = a.alerts[:a.cap]
	}
	a.mu.Unlock()
	a.pub.Publish(feed.KindAlert, al)
	return al
}

// List returns a copy of the feed, newest first.
func (a *Alerts) List() []models.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Alert{}, a.alerts...)
}

// Dismiss removes one alert and reports whether it existed.
func (a *Alerts) Dismiss(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, al := range a.alerts {
		if al.ID == id {
			a.alerts = append(a.alerts[:i], a.alerts[i+1:]...)
			return true
		}
	}
	return false
}
