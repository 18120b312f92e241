package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/sentryflect/event"
)

// DefaultEndpoint is the collector endpoint used when nothing else
// configures one (spec §6 api.endpoint).
const DefaultEndpoint = "http://127.0.0.1:8000/api/v1/telemetry/"

// ResolveEndpoint implements spec §6's precedence for api.endpoint:
// explicit config value > CYLESTIO_API_ENDPOINT > CYLESTIO_TELEMETRY_ENDPOINT
// > DefaultEndpoint.
func ResolveEndpoint(configured string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv("CYLESTIO_API_ENDPOINT"); v != "" {
		return v
	}
	if v := os.Getenv("CYLESTIO_TELEMETRY_ENDPOINT"); v != "" {
		return v
	}
	return DefaultEndpoint
}

// CollectorConfig configures the HTTP collector sink (spec §6 api.*).
type CollectorConfig struct {
	Endpoint   string
	HTTPMethod string // "POST" (default) or "PUT"
	Timeout    time.Duration
	AuthToken  string

	// QueueSize bounds the background worker's queue; overflow drops the
	// newest event and logs a local WARN rather than blocking the caller
	// (spec §5 "bounded-queue implementations must drop-newest").
	QueueSize int
	// RequestsPerSecond bounds outbound POST/PUT pacing.
	RequestsPerSecond float64
}

func (c CollectorConfig) withDefaults() CollectorConfig {
	c.Endpoint = ResolveEndpoint(c.Endpoint)
	if c.HTTPMethod == "" {
		c.HTTPMethod = http.MethodPost
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 20
	}
	return c
}

// CollectorSink POSTs (or PUTs) each event to a remote collector in the
// background, bounded by a semaphore and paced by a rate limiter
// (spec §4.5 Collector sink, §5 suspension points). Failures are
// recorded at WARN and never propagate to the caller.
type CollectorSink struct {
	cfg     CollectorConfig
	client  *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	queue   chan event.Event
	done    chan struct{}
}

// NewCollectorSink constructs a CollectorSink and starts its background
// worker. Call Close to drain and stop it.
func NewCollectorSink(cfg CollectorConfig) *CollectorSink {
	cfg = cfg.withDefaults()
	s := &CollectorSink{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		sem:     semaphore.NewWeighted(8),
		queue:   make(chan event.Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Accept enqueues ev for background delivery. Under overflow the event
// is dropped and a local WARN is logged; the caller is never blocked.
func (s *CollectorSink) Accept(ev event.Event) {
	select {
	case s.queue <- ev:
	default:
		slog.Warn("sink: collector queue full, dropping event", "name", ev.EventType)
	}
}

func (s *CollectorSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.deliver(ev)
	}
}

func (s *CollectorSink) deliver(ev event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		slog.Warn("sink: collector rate limiter wait failed", "error", err)
		return
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		slog.Warn("sink: collector concurrency acquire failed", "error", err)
		return
	}
	defer s.sem.Release(1)

	body, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("sink: collector marshal failed", "error", err, "name", ev.EventType)
		return
	}

	req, err := http.NewRequestWithContext(ctx, s.cfg.HTTPMethod, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		slog.Warn("sink: collector request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Warn("sink: collector request failed", "error", err, "endpoint", s.cfg.Endpoint)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("sink: collector returned non-2xx", "status", resp.StatusCode, "endpoint", s.cfg.Endpoint)
	}
}

// Close stops accepting new events and blocks until the worker has
// delivered (or given up on) everything already queued.
func (s *CollectorSink) Close() {
	close(s.queue)
	<-s.done
}
