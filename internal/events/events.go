// Package events implements C9: a single-subscriber, append-only,
// at-least-once event channel per submission, with a bounded buffer
// and backpressure accounting. Grounded on the teacher's
// handler.StreamMetrics / streamWithDisconnectDetection (partial-stream
// disconnect billing), generalized from token/byte accounting to a
// structured progress-event buffer.
package events

import (
	"sync"
	"time"

	"github.com/strategyai/leadforge/internal/metrics"
)

// Kind enumerates the event shapes from §4.9.
type Kind string

const (
	KindEnrichmentStarted Kind = "enrichment_started"
	KindLayer1Complete    Kind = "layer1_complete"
	KindLayer2Complete    Kind = "layer2_complete"
	KindLayer3Complete    Kind = "layer3_complete"
	KindStageStarted      Kind = "stage_started"
	KindStageComplete     Kind = "stage_complete"
	KindPipelineComplete  Kind = "pipeline_complete"
	KindError             Kind = "error"
)

// Event is one message on a submission's stream. Seq is strictly
// increasing within a submission (§5 ordering guarantees); clients
// dedupe by (Kind, Seq) since delivery is at-least-once.
type Event struct {
	Seq       uint64         `json:"seq"`
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// bufferSize bounds memory per in-flight submission; once full, new
// events evict the oldest buffered-but-undelivered event rather than
// blocking the orchestrator, and DroppedCount increments.
const bufferSize = 256

// Stream is the append-only per-submission channel. Exactly one
// subscriber may drain it at a time; a second concurrent subscriber
// would race on Drain, which this type does not guard against by design
// (§4.9: "single-subscriber").
type Stream struct {
	mu           sync.Mutex
	buf          []Event
	seq          uint64
	dropped      uint64
	closed       bool
	notifyCh     chan struct{}
	submissionID string
	metrics      *metrics.Metrics
}

// NewStream creates an empty stream ready to accept events, identified
// by submissionID for drop accounting. m may be nil in tests that
// don't care about instrumentation.
func NewStream(submissionID string, m *metrics.Metrics) *Stream {
	return &Stream{notifyCh: make(chan struct{}, 1), submissionID: submissionID, metrics: m}
}

// Publish appends an event, assigning it the next sequence number.
// When the bounded buffer is full, the oldest unread event is dropped
// and DroppedCount is incremented — publishing never blocks the
// orchestrator on a slow or absent subscriber.
func (s *Stream) Publish(kind Kind, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.seq++
	ev := Event{Seq: s.seq, Kind: kind, Payload: payload, EmittedAt: time.Now()}

	if len(s.buf) >= bufferSize {
		s.buf = s.buf[1:]
		s.dropped++
		if s.metrics != nil {
			s.metrics.EventsDroppedTotal.WithLabelValues(s.submissionID).Inc()
		}
	}
	s.buf = append(s.buf, ev)

	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Close marks the stream terminal. Further Publish calls are no-ops.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notifyCh)
}

// DroppedCount reports how many buffered events were evicted under
// backpressure before a subscriber could read them.
func (s *Stream) DroppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// drain removes and returns every event buffered since the last drain,
// and reports whether the stream is closed with nothing left to send.
func (s *Stream) drain() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	return out, s.closed
}

// Drain exposes drain to callers outside the package: tests asserting
// on published events, and any transport other than WriteSSE.
func (s *Stream) Drain() ([]Event, bool) {
	return s.drain()
}
