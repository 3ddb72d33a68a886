package analytics

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/git-pkgs/comfyregistry/client"
)

const (
	DefaultEndpoint  = "https://api.mixpanel.com/track"
	defaultQueueSize = 256
	sendTimeout      = 10 * time.Second
)

// Sink posts events to a Mixpanel-compatible /track endpoint from a single
// background goroutine. Events are queued; when the queue is full they are
// dropped and counted.
type Sink struct {
	endpoint string
	token    string
	client   *client.Client
	logger   *zap.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithQueueSize sets how many events may be waiting to be sent.
func WithQueueSize(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.queue = make(chan Event, n)
		}
	}
}

// WithEndpoint overrides the track endpoint.
func WithEndpoint(endpoint string) SinkOption {
	return func(s *Sink) {
		if endpoint != "" {
			s.endpoint = endpoint
		}
	}
}

// NewSink starts a sink authenticating with the given project token.
func NewSink(token string, c *client.Client, logger *zap.Logger, opts ...SinkOption) *Sink {
	if c == nil {
		c = client.NewClient(client.WithMaxRetries(1))
	}
	s := &Sink{
		endpoint: DefaultEndpoint,
		token:    token,
		client:   c,
		logger:   logger,
		queue:    make(chan Event, defaultQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Track queues an event. It never blocks.
func (s *Sink) Track(_ context.Context, event string, props map[string]any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}

	select {
	case s.queue <- Event{Name: event, Properties: copyProps(props), Time: time.Now()}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full
// or the sink was closed.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Failed returns how many events could not be delivered.
func (s *Sink) Failed() int64 { return s.failed.Load() }

// Close stops accepting events and waits for queued ones to be sent, or for
// ctx to be done.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type trackPayload struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.send(ev)
	}
}

func (s *Sink) send(ev Event) {
	props := copyProps(ev.Properties)
	props["token"] = s.token
	props["time"] = ev.Time.UnixMilli()
	props["$insert_id"] = uuid.NewString()

	// The request outlives the HTTP request that produced the event.
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	payload := []trackPayload{{Event: ev.Name, Properties: props}}
	if err := s.client.SendJSON(ctx, http.MethodPost, s.endpoint, payload, nil); err != nil {
		s.failed.Add(1)
		s.logger.Warn("analytics event not delivered", zap.String("event", ev.Name), zap.Error(err))
	}
}
