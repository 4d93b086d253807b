// Package pool keeps a bounded queue of idle backing-store connections
// and closes the ones left unused for too long.
package pool

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/apperr"
	"tablebook/internal/metrics"
)

var (
	ErrClosed    = errors.New("pool: closed")
	ErrExhausted = errors.New("pool: open connection limit reached")
)

// Dialer opens a new physical connection.
type Dialer[C io.Closer] func(ctx context.Context) (C, error)

// Config holds pool tuning.
type Config struct {
	// Name labels the pool in logs and metrics.
	Name string
	// IdleCapacity caps the idle queue; releases beyond it close the connection.
	IdleCapacity int
	// MaxOpen caps open connections (idle + in use). Zero means unbounded.
	MaxOpen int
	// IdleTimeout is how long a connection may sit unused before eviction.
	IdleTimeout time.Duration
	// EvictInterval is the eviction sweep period. Zero disables the sweep.
	EvictInterval time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Name:          "store",
		IdleCapacity:  8,
		IdleTimeout:   300 * time.Second,
		EvictInterval: 60 * time.Second,
	}
}

type idleConn[C io.Closer] struct {
	conn     C
	lastUsed time.Time
}

// Resource is a checked-out connection. Release it exactly once.
type Resource[C io.Closer] struct {
	conn     C
	lastUsed time.Time
	done     bool
}

// Conn returns the underlying connection.
func (r *Resource[C]) Conn() C {
	return r.conn
}

// LastUsed is the time the resource was handed out.
func (r *Resource[C]) LastUsed() time.Time {
	return r.lastUsed
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Idle   int
	InUse  int
	Opened int64
	Closed int64
}

// Pool hands out connections from a bounded idle queue and dials new
// ones whenever the queue is empty.
type Pool[C io.Closer] struct {
	cfg    Config
	dial   Dialer[C]
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	idle   []idleConn[C]
	inUse  int
	opened int64
	closed int64
	shut   bool

	stopCh chan struct{}
	done   chan struct{}
}

// New creates a pool and starts its eviction loop when EvictInterval > 0.
func New[C io.Closer](cfg Config, dial Dialer[C], logger zerolog.Logger) *Pool[C] {
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	if cfg.IdleCapacity < 0 {
		cfg.IdleCapacity = 0
	}
	p := &Pool[C]{
		cfg:    cfg,
		dial:   dial,
		logger: logger.With().Str("component", "pool").Str("pool", cfg.Name).Logger(),
		now:    time.Now,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.EvictInterval > 0 {
		go p.evictLoop(cfg.EvictInterval)
	} else {
		close(p.done)
	}
	return p
}

// Acquire returns an idle connection or dials a new one.
func (p *Pool[C]) Acquire(ctx context.Context) (*Resource[C], error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindResourceUnavailable, err, "acquire cancelled")
	}

	p.mu.Lock()
	if p.shut {
		p.mu.Unlock()
		return nil, apperr.Wrap(apperr.KindResourceUnavailable, ErrClosed, "pool is shut down")
	}
	now := p.now()
	if n := len(p.idle); n > 0 {
		ic := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.reportLocked()
		p.mu.Unlock()
		return &Resource[C]{conn: ic.conn, lastUsed: now}, nil
	}
	// Idle is empty here, but count it anyway: MaxOpen bounds every open connection.
	if p.cfg.MaxOpen > 0 && p.inUse+len(p.idle) >= p.cfg.MaxOpen {
		p.mu.Unlock()
		return nil, apperr.Wrap(apperr.KindResourceUnavailable, ErrExhausted, "no free connection")
	}
	// Reserve the slot before dialing so MaxOpen holds across concurrent dials.
	p.inUse++
	p.mu.Unlock()

	conn, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.reportLocked()
		p.mu.Unlock()
		metrics.IncPoolDialError(p.cfg.Name)
		p.logger.Error().Err(err).Msg("failed to open connection")
		return nil, apperr.Wrap(apperr.KindResourceUnavailable, err, "cannot open connection")
	}

	p.mu.Lock()
	p.opened++
	p.reportLocked()
	p.mu.Unlock()
	return &Resource[C]{conn: conn, lastUsed: now}, nil
}

// Release returns the connection to the idle queue, or closes it when
// the queue is full or the pool is shut down. A second release of the
// same handle is ignored.
func (p *Pool[C]) Release(res *Resource[C]) {
	if res == nil {
		return
	}
	p.mu.Lock()
	if res.done {
		p.mu.Unlock()
		return
	}
	res.done = true
	p.inUse--

	if p.shut || len(p.idle) >= p.cfg.IdleCapacity {
		reason := "overflow"
		if p.shut {
			reason = "shutdown"
		}
		p.closed++
		p.reportLocked()
		p.mu.Unlock()
		p.closeConn(res.conn, reason)
		return
	}

	p.idle = append(p.idle, idleConn[C]{conn: res.conn, lastUsed: p.now()})
	p.reportLocked()
	p.mu.Unlock()
}

// Discard closes a connection known to be broken instead of requeueing it.
func (p *Pool[C]) Discard(res *Resource[C]) {
	if res == nil {
		return
	}
	p.mu.Lock()
	if res.done {
		p.mu.Unlock()
		return
	}
	res.done = true
	p.inUse--
	p.closed++
	p.reportLocked()
	p.mu.Unlock()
	p.closeConn(res.conn, "discard")
}

// With acquires a connection, runs fn and releases it.
func (p *Pool[C]) With(ctx context.Context, fn func(C) error) error {
	res, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(res)
	return fn(res.Conn())
}

// EvictIdle closes idle connections unused for longer than IdleTimeout
// and returns how many were closed. Checked-out connections are never touched.
func (p *Pool[C]) EvictIdle() int {
	p.mu.Lock()
	if p.shut || p.cfg.IdleTimeout <= 0 {
		p.mu.Unlock()
		return 0
	}
	cutoff := p.now().Add(-p.cfg.IdleTimeout)
	drained := p.idle
	p.idle = make([]idleConn[C], 0, len(drained))
	var stale []C
	for _, ic := range drained {
		if ic.lastUsed.Before(cutoff) {
			stale = append(stale, ic.conn)
			continue
		}
		p.idle = append(p.idle, ic)
	}
	p.closed += int64(len(stale))
	p.reportLocked()
	p.mu.Unlock()

	for _, c := range stale {
		p.closeConn(c, "idle")
	}
	if len(stale) > 0 {
		p.logger.Debug().Int("evicted", len(stale)).Msg("evicted idle connections")
	}
	return len(stale)
}

// Shutdown stops the eviction loop and closes every idle connection.
// Connections still checked out are closed when released.
func (p *Pool[C]) Shutdown() {
	p.mu.Lock()
	if p.shut {
		p.mu.Unlock()
		return
	}
	p.shut = true
	idle := p.idle
	p.idle = nil
	p.closed += int64(len(idle))
	p.reportLocked()
	p.mu.Unlock()

	close(p.stopCh)
	<-p.done

	for _, ic := range idle {
		p.closeConn(ic.conn, "shutdown")
	}
	p.logger.Info().Int("closed", len(idle)).Msg("pool shut down")
}

// Stats returns current counters.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), InUse: p.inUse, Opened: p.opened, Closed: p.closed}
}

func (p *Pool[C]) evictLoop(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.EvictIdle()
		}
	}
}

func (p *Pool[C]) closeConn(c C, reason string) {
	metrics.IncPoolClosed(p.cfg.Name, reason)
	if err := c.Close(); err != nil {
		p.logger.Warn().Err(err).Str("reason", reason).Msg("failed to close connection")
	}
}

// reportLocked must be called with p.mu held.
func (p *Pool[C]) reportLocked() {
	metrics.SetPoolSize(p.cfg.Name, len(p.idle), p.inUse)
}
