// Package debug provides an optional, env-var-gated background logger
// of hub state: session count and upstream link status, on an interval.
package debug

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/drake/portal/hub"
)

// Enabled returns true if debug mode is active (PORTAL_DEBUG=1).
func Enabled() bool { return os.Getenv("PORTAL_DEBUG") == "1" }

// Monitor periodically logs a hub.Stats snapshot. It asks the hub for
// that snapshot over h.Stats, the same request/response channel the
// hub's own goroutine answers every other query on, so a running
// Monitor never reaches into hub state directly.
type Monitor struct {
	hub      *hub.Hub
	interval time.Duration
	ctx      context.Context
	logger   *log.Logger
}

// NewMonitor creates a new monitor for the given hub.
// If debug mode is not enabled, returns nil.
func NewMonitor(ctx context.Context, h *hub.Hub) *Monitor {
	if !Enabled() {
		return nil
	}

	return &Monitor{
		hub:      h,
		interval: 5 * time.Second,
		ctx:      ctx,
		logger:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

// Start begins the monitoring loop in a goroutine. A nil *Monitor is a
// no-op, so callers can construct and Start unconditionally.
func (m *Monitor) Start() {
	if m == nil {
		return
	}
	go m.run()
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Println("[DEBUG] Monitor started")

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Println("[DEBUG] Monitor stopped")
			return
		case <-ticker.C:
			m.logStats()
		}
	}
}

func (m *Monitor) logStats() {
	stats, ok := m.hub.Stats(m.ctx)
	if !ok {
		return
	}
	m.logger.Printf("[DEBUG] sessions=%d link_up=%t", stats.Sessions, stats.LinkUp)
}
