package httpapi

import (
	"sync"
	"time"

	"github.com/strategyai/leadforge/internal/events"
)

// streamRegistry maps an opaque id (enrichment session id, or
// submission id) to the in-flight events.Stream an async run is
// publishing to, so a later GET .../stream/{id} request — which
// arrives on a different connection than the POST that started the
// run — can find and drain it. Grounded on the shape of the teacher's
// provider.Registry: a mutex-guarded map, nothing fancier.
type streamRegistry struct {
	mu      sync.Mutex
	streams map[string]*events.Stream
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{streams: make(map[string]*events.Stream)}
}

func (r *streamRegistry) register(id string, s *events.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = s
}

func (r *streamRegistry) get(id string) (*events.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	return s, ok
}

// forget drops the registry entry for id. Called a grace period after
// the producing run finishes, so a client that was slow to open the SSE
// connection still has a window to catch the tail of the stream.
func (r *streamRegistry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// forgetAfter schedules forget without blocking the caller.
func (r *streamRegistry) forgetAfter(id string, d time.Duration) {
	time.AfterFunc(d, func() { r.forget(id) })
}

// registryForgetGrace is how long a finished stream stays registered
// for a late-connecting subscriber before being evicted.
const registryForgetGrace = 2 * time.Minute
