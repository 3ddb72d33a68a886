// Package analytics emits named product events to an analytics sink.
//
// Tracking is fire-and-forget: Track must not block the caller and never
// reports failures back to it.
package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event names emitted by the ownership claim flow.
const (
	EventGitHubVerificationFailed  = "GitHub Verification Failed"
	EventGitHubVerificationSuccess = "GitHub Verification Success"
)

// Tracker records a named event with a flat property bag.
type Tracker interface {
	Track(ctx context.Context, event string, props map[string]any)
}

// Event is a tracked event.
type Event struct {
	Name       string
	Properties map[string]any
	Time       time.Time
}

// Nop discards every event.
type Nop struct{}

func (Nop) Track(context.Context, string, map[string]any) {}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Track(_ context.Context, event string, props map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: event, Properties: copyProps(props), Time: time.Now()})
}

// Events returns a copy of the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// LogTracker writes events to a zap logger.
type LogTracker struct {
	logger *zap.Logger
}

func NewLogTracker(logger *zap.Logger) *LogTracker {
	return &LogTracker{logger: logger}
}

func (l *LogTracker) Track(_ context.Context, event string, props map[string]any) {
	l.logger.Info("analytics event", zap.String("event", event), zap.Any("properties", props))
}

// Multi fans events out to several trackers.
type Multi []Tracker

func (m Multi) Track(ctx context.Context, event string, props map[string]any) {
	for _, t := range m {
		t.Track(ctx, event, props)
	}
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
