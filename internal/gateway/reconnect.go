package gateway

import (
	"time"

	"github.com/horgh/minbif/internal/metrics"
)

// Reconnect delays. Each failure doubles the delay up to the maximum.
const (
	reconnectMinDelay = 15 * time.Second
	reconnectMaxDelay = 15 * time.Minute
)

// reconnect is a pending reconnection of an account.
type reconnect struct {
	delay time.Duration
	task  *Task
}

// nextReconnectDelay is the delay after one that failed.
func nextReconnectDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return reconnectMinDelay
	}
	d *= 2
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}

// scheduleReconnect connects the account again later.
func (s *Session) scheduleReconnect(id string) {
	r := s.reconnects[id]
	if r == nil {
		r = &reconnect{}
		s.reconnects[id] = r
	}
	r.task.Cancel()
	r.delay = nextReconnectDelay(r.delay)
	metrics.Reconnects.Inc()

	name := id
	if srv := s.accountServers[id]; srv != nil {
		name = srv.name
	}
	s.notice("Reconnecting to " + name + " in " + r.delay.String())
	s.log.Infof("Reconnecting account %s in %s", id, r.delay)

	r.task = s.after(r.delay, func() {
		r.task = nil
		if err := s.im.Connect(id); err != nil {
			s.notice("Unable to reconnect to " + name + ": " + err.Error())
			s.scheduleReconnect(id)
		}
	})
}

// cancelReconnect forgets a pending reconnection and its backoff.
func (s *Session) cancelReconnect(id string) {
	r := s.reconnects[id]
	if r == nil {
		return
	}
	r.task.Cancel()
	delete(s.reconnects, id)
}
