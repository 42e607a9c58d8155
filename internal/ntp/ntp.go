// Package ntp runs a periodic clock-skew advisory check against a pool of
// NTP servers. It is purely informational: nothing in Discovery or Raft
// blocks on it, and an unreachable pool never escalates past a logged
// warning.
package ntp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// Phase is the advisory's own health state machine, mirroring the
// teacher's phase-enum-with-String()-and-Transition() convention.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseHealthy
	PhaseUnhealthyOffset
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseHealthy:
		return "healthy"
	case PhaseUnhealthyOffset:
		return "unhealthy_offset"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// transitions enumerates the phase changes this checker is allowed to make.
// Every phase can move to every other phase as the next poll's outcome
// dictates; the table exists so a future addition of a disallowed
// transition is an explicit decision, not an oversight.
var transitions = map[Phase]map[Phase]bool{
	PhaseUnknown:         {PhaseHealthy: true, PhaseUnhealthyOffset: true, PhaseError: true},
	PhaseHealthy:         {PhaseHealthy: true, PhaseUnhealthyOffset: true, PhaseError: true},
	PhaseUnhealthyOffset: {PhaseHealthy: true, PhaseUnhealthyOffset: true, PhaseError: true},
	PhaseError:           {PhaseHealthy: true, PhaseUnhealthyOffset: true, PhaseError: true},
}

func (p Phase) transition(to Phase) bool {
	return transitions[p][to]
}

const (
	// DefaultInterval is how often the pool is polled.
	DefaultInterval = 60 * time.Second
	// DefaultThreshold is the offset magnitude beyond which the advisory
	// reports PhaseUnhealthyOffset.
	DefaultThreshold = 500 * time.Millisecond
	// DefaultServer is the pool queried each tick.
	DefaultServer = "pool.ntp.org"
)

// Checker periodically queries an NTP server and tracks the resulting
// advisory phase. It never blocks any caller on network I/O; Offset/Phase
// reflect the last completed poll.
type Checker struct {
	server    string
	interval  time.Duration
	threshold time.Duration
	log       *slog.Logger
	query     func(server string) (*ntp.Response, error)

	mu     sync.RWMutex
	phase  Phase
	offset time.Duration
	err    error

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Checker.
type Option func(*Checker)

func WithServer(server string) Option     { return func(c *Checker) { c.server = server } }
func WithInterval(d time.Duration) Option { return func(c *Checker) { c.interval = d } }
func WithThreshold(d time.Duration) Option {
	return func(c *Checker) { c.threshold = d }
}

// withQueryFunc overrides the NTP query implementation; used by tests to
// avoid real network I/O.
func withQueryFunc(f func(string) (*ntp.Response, error)) Option {
	return func(c *Checker) { c.query = f }
}

// Start launches the periodic poll loop and returns immediately; the first
// poll happens before the first tick so Phase/Offset are meaningful right
// away.
func Start(opts ...Option) *Checker {
	c := &Checker{
		server:    DefaultServer,
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
		phase:     PhaseUnknown,
		log:       slog.With("component", "ntp"),
		done:      make(chan struct{}),
		query:     ntp.Query,
	}
	for _, opt := range opts {
		opt(c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.loop(ctx)
	return c
}

// Stop ends the poll loop.
func (c *Checker) Stop() {
	c.cancel()
	<-c.done
}

// Phase returns the current advisory phase.
func (c *Checker) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Offset returns the last measured clock offset (server minus local: the
// amount to add to local time to get the server's time).
func (c *Checker) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Err returns the error from the last poll, or nil if it succeeded.
func (c *Checker) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Checker) loop(ctx context.Context) {
	defer close(c.done)
	c.poll()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *Checker) poll() {
	resp, err := c.query(c.server)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.transitionLocked(PhaseError)
		c.err = err
		c.log.Warn("ntp: poll failed", "server", c.server, "err", err)
		return
	}

	c.err = nil
	c.offset = resp.ClockOffset
	if abs(resp.ClockOffset) > c.threshold {
		c.transitionLocked(PhaseUnhealthyOffset)
		c.log.Warn("ntp: clock offset exceeds threshold", "offset", resp.ClockOffset, "threshold", c.threshold)
		return
	}
	c.transitionLocked(PhaseHealthy)
}

func (c *Checker) transitionLocked(to Phase) {
	if !c.phase.transition(to) {
		c.log.Error("ntp: invalid phase transition", "from", c.phase, "to", to)
		return
	}
	c.phase = to
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
