package alert

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"safevision/internal/metrics"
	"safevision/pkg/log"
)

const (
	DefaultDedupWindow = 300 * time.Second
	DefaultCapacity    = 100
)

// Subscriber receives every alert the dispatcher retains.
type Subscriber interface {
	HandleAlert(ctx context.Context, a Alert) error
}

type SubscriberFunc func(ctx context.Context, a Alert) error

func (f SubscriberFunc) HandleAlert(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// Dispatcher deduplicates alerts, keeps the most recent ones in a ring and
// forwards them to subscribers.
type Dispatcher struct {
	mu          sync.Mutex
	window      time.Duration
	ring        []Alert
	head        int
	size        int
	lastRaised  map[dedupKey]time.Time
	subscribers []Subscriber
	now         func() time.Time
	logger      *logrus.Entry
}

func NewDispatcher(window time.Duration, capacity int) *Dispatcher {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Dispatcher{
		window:     window,
		ring:       make([]Alert, capacity),
		lastRaised: make(map[dedupKey]time.Time),
		now:        time.Now,
		logger:     log.ComponentLogger("alert"),
	}
}

func (d *Dispatcher) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, s)
}

// Raise stamps a, drops it if an alert with the same type, severity and source
// was retained within the dedup window, and otherwise stores and forwards it.
// It reports whether the alert was retained.
func (d *Dispatcher) Raise(a Alert) bool {
	d.mu.Lock()
	if a.Timestamp.IsZero() {
		a.Timestamp = d.now()
	}
	if a.Source == "" {
		a.Source = SourceSystem
	}
	if a.ID == "" {
		a.ID = newID(a.Type, a.Timestamp)
	}

	key := a.key()
	if last, ok := d.lastRaised[key]; ok && a.Timestamp.Sub(last) < d.window {
		d.mu.Unlock()
		metrics.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity), "suppressed").Inc()
		d.logger.WithFields(logrus.Fields{
			"type":     a.Type,
			"severity": a.Severity,
			"source":   a.Source,
		}).Debug("alert suppressed")
		return false
	}
	d.lastRaised[key] = a.Timestamp
	if len(d.lastRaised) > 4*len(d.ring) {
		d.pruneLocked(a.Timestamp)
	}

	d.ring[d.head] = a
	d.head = (d.head + 1) % len(d.ring)
	if d.size < len(d.ring) {
		d.size++
	}
	subscribers := make([]Subscriber, len(d.subscribers))
	copy(subscribers, d.subscribers)
	d.mu.Unlock()

	metrics.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity), "dispatched").Inc()
	d.logger.WithFields(logrus.Fields{
		"id":       a.ID,
		"severity": a.Severity,
		"source":   a.Source,
	}).Warnf("alert: %s", a.Message)

	for _, s := range subscribers {
		d.notify(s, a)
	}
	return true
}

func (d *Dispatcher) notify(s Subscriber, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("id", a.ID).Errorf("alert subscriber panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.HandleAlert(ctx, a); err != nil {
		d.logger.WithError(err).WithField("id", a.ID).Error("alert subscriber failed")
	}
}

// GetRecent returns up to limit alerts, newest first. A limit of zero or less
// returns every retained alert.
func (d *Dispatcher) GetRecent(limit int) []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > d.size {
		limit = d.size
	}
	out := make([]Alert, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (d.head - i + len(d.ring)) % len(d.ring)
		out = append(out, d.ring[idx])
	}
	return out
}

// pruneLocked forgets dedup keys whose window has already passed.
func (d *Dispatcher) pruneLocked(now time.Time) {
	for k, t := range d.lastRaised {
		if now.Sub(t) >= d.window {
			delete(d.lastRaised, k)
		}
	}
}
