package gateway

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Hub knows every running session of the process. It relays WALLOPS and DIE
// between them and holds the current configuration.
type Hub struct {
	mu       sync.Mutex
	config   *Config
	reload   func() (*Config, error)
	sessions map[*Session]struct{}

	started time.Time

	dieOnce sync.Once
	dying   chan struct{}
}

// NewHub creates a hub. reload re-reads the configuration for REHASH. It may
// be nil, in which case rehashing keeps the current configuration.
func NewHub(config *Config, reload func() (*Config, error)) *Hub {
	return &Hub{
		config:   config,
		reload:   reload,
		sessions: map[*Session]struct{}{},
		started:  time.Now(),
		dying:    make(chan struct{}),
	}
}

// Config returns the current configuration. Treat it as read only.
func (h *Hub) Config() *Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.config
}

// Rehash re-reads the configuration. On failure the old one stays.
func (h *Hub) Rehash() error {
	if h.reload == nil {
		return nil
	}

	config, err := h.reload()
	if err != nil {
		return errors.Wrap(err, "unable to reload configuration")
	}

	h.mu.Lock()
	h.config = config
	h.mu.Unlock()
	return nil
}

// Started is when the hub was created. STATS u counts uptime from here.
func (h *Hub) Started() time.Time {
	return h.started
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

func (h *Hub) all() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	var sessions []*Session
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count is the number of running sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Wallops sends a WALLOPS to every session.
func (h *Hub) Wallops(from, text string) {
	for _, s := range h.all() {
		s := s
		s.enqueue(func() { s.receiveWallops(from, text) })
	}
}

// Die ends every session and signals Dying.
func (h *Hub) Die(from, reason string) {
	h.Shutdown("Shutdown requested by " + from + ": " + reason)
	h.dieOnce.Do(func() { close(h.dying) })
}

// Dying is closed once an operator used DIE.
func (h *Hub) Dying() <-chan struct{} {
	return h.dying
}

// Shutdown ends every session with the given reason.
func (h *Hub) Shutdown(reason string) {
	for _, s := range h.all() {
		s.Shutdown(reason)
	}
}
