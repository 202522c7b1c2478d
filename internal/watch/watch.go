// Package watch polls sensors and turns detection timestamps into on/off
// state.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jmerrifield20/hnap/internal/sensor"
)

// Config holds watcher configuration.
type Config struct {
	// Interval between polls.
	Interval time.Duration
	// Timeout is how long a sensor stays on after its latest trigger.
	Timeout time.Duration
	// Rate and Burst bound device calls.
	Rate  rate.Limit
	Burst int
}

// TriggerSource reports when a sensor last fired.
type TriggerSource interface {
	LatestTrigger(ctx context.Context) (time.Time, error)
}

// EventKind classifies an Event.
type EventKind string

const (
	EventTriggered EventKind = "triggered"
	EventOn        EventKind = "on"
	EventOff       EventKind = "off"
)

// Event is a sensor state change.
type Event struct {
	ID      uuid.UUID `json:"id"`
	Sensor  string    `json:"sensor"`
	Kind    EventKind `json:"kind"`
	Trigger time.Time `json:"trigger"`
	At      time.Time `json:"at"`
}

// Snapshot is the externally visible state of a watched sensor.
type Snapshot struct {
	Sensor      string    `json:"sensor"`
	On          bool      `json:"on"`
	LastTrigger time.Time `json:"last_trigger,omitzero"`
	LastPoll    time.Time `json:"last_poll,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	Polls       int       `json:"polls"`
	Failures    int       `json:"failures"`
}

// EventFunc receives events.
type EventFunc func(Event)

// MetricsRecordFunc is an optional callback for recording poll results.
type MetricsRecordFunc func(sensor string, success bool)

// StateRecordFunc is an optional callback for publishing on/off state.
type StateRecordFunc func(sensor string, on bool)

// Watcher polls one sensor.
type Watcher struct {
	name    string
	source  TriggerSource
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
	logger  *zap.Logger

	onEvent   EventFunc
	onMetrics MetricsRecordFunc
	onState   StateRecordFunc

	mu    sync.Mutex
	state Snapshot
}

// New creates a Watcher named name. A nil logger discards output.
func New(name string, source TriggerSource, cfg Config, logger *zap.Logger) *Watcher {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 35 * time.Second
	}
	if cfg.Rate == 0 {
		cfg.Rate = rate.Limit(1)
	}
	if cfg.Burst == 0 {
		cfg.Burst = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		name:    name,
		source:  source,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		now:     time.Now,
		logger:  logger,
		state:   Snapshot{Sensor: name},
	}
}

// Name returns the sensor name.
func (w *Watcher) Name() string { return w.name }

// SetEventHandler configures the event callback.
func (w *Watcher) SetEventHandler(fn EventFunc) {
	w.onEvent = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (w *Watcher) SetMetricsRecord(fn MetricsRecordFunc) {
	w.onMetrics = fn
}

// SetStateRecord configures the state publishing callback.
func (w *Watcher) SetStateRecord(fn StateRecordFunc) {
	w.onState = fn
}

// Snapshot returns the current state.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Run polls until ctx is done. Poll failures are logged and never stop the
// loop.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("watch: poll failed", zap.String("sensor", w.name), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll performs one cycle and returns the source error, if any.
func (w *Watcher) Poll(ctx context.Context) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	trigger, err := w.source.LatestTrigger(ctx)
	if errors.Is(err, sensor.ErrNoDetection) {
		trigger, err = time.Time{}, nil
	}
	now := w.now()
	if w.onMetrics != nil {
		w.onMetrics(w.name, err == nil)
	}

	w.mu.Lock()
	w.state.Polls++
	w.state.LastPoll = now
	if err != nil {
		w.state.Failures++
		w.state.LastError = err.Error()
		w.mu.Unlock()
		return err
	}
	w.state.LastError = ""

	var events []Event
	if !trigger.IsZero() && trigger.After(w.state.LastTrigger) {
		w.state.LastTrigger = trigger
		events = append(events, w.event(EventTriggered, trigger, now))
	}
	on := !w.state.LastTrigger.IsZero() && now.Sub(w.state.LastTrigger) <= w.cfg.Timeout
	changed := on != w.state.On
	w.state.On = on
	if changed {
		kind := EventOff
		if on {
			kind = EventOn
		}
		events = append(events, w.event(kind, w.state.LastTrigger, now))
	}
	w.mu.Unlock()

	if changed && w.onState != nil {
		w.onState(w.name, on)
	}
	for _, ev := range events {
		w.logger.Info("watch: event",
			zap.String("sensor", ev.Sensor),
			zap.String("kind", string(ev.Kind)),
			zap.Time("trigger", ev.Trigger),
		)
		if w.onEvent != nil {
			w.onEvent(ev)
		}
	}
	return nil
}

func (w *Watcher) event(kind EventKind, trigger, at time.Time) Event {
	return Event{ID: uuid.New(), Sensor: w.name, Kind: kind, Trigger: trigger, At: at}
}

// Group runs several watchers and serves their snapshots.
type Group struct {
	watchers []*Watcher
}

// NewGroup creates a Group.
func NewGroup(watchers ...*Watcher) *Group {
	return &Group{watchers: watchers}
}

// Run runs every watcher until ctx is done.
func (g *Group) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range g.watchers {
		wg.Add(1)
		go func(w *Watcher) {
			defer wg.Done()
			w.Run(ctx) //nolint:errcheck
		}(w)
	}
	wg.Wait()
}

// Snapshots returns the state of every watcher in registration order.
func (g *Group) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(g.watchers))
	for _, w := range g.watchers {
		out = append(out, w.Snapshot())
	}
	return out
}

// Snapshot returns the state of the watcher called name.
func (g *Group) Snapshot(name string) (Snapshot, bool) {
	for _, w := range g.watchers {
		if w.name == name {
			return w.Snapshot(), true
		}
	}
	return Snapshot{}, false
}
