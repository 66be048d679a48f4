package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cyberpulse/cyberpulse/agent/internal/config"
	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	// EventsPath is appended to the server endpoint for batch delivery.
	EventsPath = "/api/v1/events"

	// BatchIDHeader carries the batch ID so the server can recognise retries.
	BatchIDHeader = "X-Batch-ID"
)

// Shipper batches collected events and posts them to cyberpulse-server.
// Add and Ship never block: pending events and queued batches are both
// bounded, and the oldest data is evicted first. Run must be called in a
// goroutine to cut batches every ShipInterval and deliver them.
type Shipper struct {
	cfg    config.AgentConfig
	url    string
	client *http.Client
	buf    chan *ingest.Batch

	mu         sync.Mutex
	pending    []types.Event
	maxPending int

	newBackoff func() *backoff // injectable for tests
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) (*Shipper, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("shipper: build http client: %w", err)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.ShipInterval <= 0 {
		cfg.ShipInterval = config.DefaultShipInterval
	}
	return &Shipper{
		cfg:        cfg,
		url:        strings.TrimRight(cfg.ServerEndpoint, "/") + EventsPath,
		client:     client,
		buf:        make(chan *ingest.Batch, cfg.BufferSize),
		maxPending: cfg.BufferSize * cfg.BatchSize,
		newBackoff: newBackoff,
	}, nil
}

// Add queues events for the next flush. Once more than BufferSize*BatchSize
// events are pending the oldest are dropped.
func (s *Shipper) Add(events []types.Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, events...)
	if over := len(s.pending) - s.maxPending; over > 0 {
		s.pending = append(s.pending[:0:0], s.pending[over:]...)
		slog.Warn("shipper: pending events over limit, dropped oldest",
			"dropped", over, "limit", s.maxPending)
	}
}

// Flush cuts the pending events into batches of at most BatchSize and ships
// them. Events without a timestamp are dropped. It returns the number of
// batches shipped.
func (s *Shipper) Flush() int {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var shipped, dropped int
	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(pending))
		b := ingest.NewBatch(pending[start:end])
		dropped += b.Dropped
		if len(b.Events) == 0 {
			continue
		}
		s.Ship(b)
		shipped++
	}
	if dropped > 0 {
		slog.Warn("shipper: dropped events without timestamp", "count", dropped)
	}
	return shipped
}

// Ship enqueues a batch. If the buffer is full the oldest batch is evicted
// to make room.
func (s *Shipper) Ship(b *ingest.Batch) {
	select {
	case s.buf <- b:
	default:
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest batch",
				"batch_id", old.ID, "events", len(old.Events), "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- b
	}
}

// Run flushes pending events every ShipInterval and delivers queued batches
// until ctx is cancelled. Failed deliveries are retried with truncated
// exponential backoff; the batch keeps its ID across retries.
func (s *Shipper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ShipInterval)
	defer ticker.Stop()
	bo := s.newBackoff()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush()
		case b := <-s.buf:
			if !s.deliver(ctx, b, bo) {
				return
			}
		}
	}
}

// deliver posts b until the server accepts or permanently rejects it.
// It returns false if ctx ended first.
func (s *Shipper) deliver(ctx context.Context, b *ingest.Batch, bo *backoff) bool {
	body, err := json.Marshal(struct {
		Events []types.Event `json:"events"`
	}{b.Events})
	if err != nil {
		slog.Error("shipper: encode batch, discarding", "batch_id", b.ID, "err", err)
		return true
	}

	for {
		err := s.post(ctx, b.ID, body)
		if err == nil {
			bo.reset()
			slog.Debug("shipper: batch delivered", "batch_id", b.ID, "events", len(b.Events))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if isPermanentError(err) {
			bo.reset()
			slog.Error("shipper: permanent send error, discarding batch",
				"batch_id", b.ID, "events", len(b.Events), "err", err)
			return true
		}

		wait := bo.next()
		slog.Warn("shipper: send failed, will retry",
			"endpoint", s.url,
			"batch_id", b.ID,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// statusError is a non-2xx response from the server.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.code, e.body)
}

func (s *Shipper) post(ctx context.Context, batchID string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(BatchIDHeader, batchID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
}

// isPermanentError reports whether err means the batch itself was refused
// and must not be retried: any 4xx except 429 Too Many Requests.
func isPermanentError(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{initial: backoffInitial, max: backoffMax, current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25% jitter.
	d += time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
