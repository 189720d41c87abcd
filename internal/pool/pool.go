// Package pool implements a fixed-capacity set of connection.Connection
// values per PLC endpoint, lent out for the duration of one exchange
// and replaced lazily when broken.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/bifrost-industrial/cip-gateway/internal/connection"
	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// Config configures a Pool.
type Config struct {
	Capacity           int
	ConnectionOptions  connection.Options
	ForwardOpenParams  connection.ForwardOpenParams
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// DefaultConfig returns the Pool defaults: capacity 2, per spec.md
// §4.3, plus the connection layer's own defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:           2,
		ConnectionOptions:  connection.DefaultOptions(),
		ForwardOpenParams:  connection.DefaultForwardOpenParams(),
		BreakerMaxFailures: 3,
		BreakerOpenTimeout: 10 * time.Second,
	}
}

// Pool lends connection.Connection values for an Endpoint. Capacity is
// enforced by a buffered channel used as a FIFO semaphore: Go's
// runtime services blocked channel receivers in arrival order, which
// is exactly the first-waiter-first-served fairness spec.md §4.3
// requires.
type Pool struct {
	logger   *zap.Logger
	endpoint connection.Endpoint
	cfg      Config
	breaker  *gobreaker.CircuitBreaker

	tokens chan struct{}

	mu      sync.Mutex
	idle    []*connection.Connection
	numConn int
	closed  bool
}

// New creates a Pool for endpoint. No connections are dialed until the
// first Acquire.
func New(logger *zap.Logger, endpoint connection.Endpoint, cfg Config) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	tokens := make(chan struct{}, cfg.Capacity)
	for i := 0; i < cfg.Capacity; i++ {
		tokens <- struct{}{}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "pool-" + endpoint.String(),
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
	})

	return &Pool{
		logger:   logger,
		endpoint: endpoint,
		cfg:      cfg,
		breaker:  breaker,
		tokens:   tokens,
	}
}

// Lease is a borrowed connection plus the bookkeeping needed to return
// it to the pool correctly.
type Lease struct {
	Conn   *connection.Connection
	pool   *Pool
	broken bool
}

// MarkBroken flags the lease so Release discards the underlying
// connection instead of returning it to idle.
func (l *Lease) MarkBroken() {
	l.broken = true
}

// Acquire returns an idle, opened connection, lazily constructing one
// if a slot is empty, or blocks until one is available or ctx's
// deadline expires. A connection found in state Broken is discarded
// and replaced before being returned.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, plcerr.New(plcerr.KindPoolClosed, "pool.Acquire", "pool is draining or closed")
	}

	select {
	case <-p.tokens:
	case <-ctx.Done():
		return nil, plcerr.New(plcerr.KindPoolTimeout, "pool.Acquire", "deadline expired waiting for a connection slot")
	}

	conn, err := p.takeOrConstruct(ctx)
	if err != nil {
		p.tokens <- struct{}{} // give the slot back; acquisition never happened
		return nil, err
	}
	return &Lease{Conn: conn, pool: p}, nil
}

func (p *Pool) takeOrConstruct(ctx context.Context) (*connection.Connection, error) {
	for {
		p.mu.Lock()
		var c *connection.Connection
		if len(p.idle) > 0 {
			c = p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
		}
		p.mu.Unlock()

		if c == nil {
			return p.construct(ctx)
		}
		if c.State() == connection.StateBroken {
			p.discard(c)
			continue
		}
		return c, nil
	}
}

func (p *Pool) construct(ctx context.Context) (*connection.Connection, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		c := connection.New(p.logger, p.endpoint, p.cfg.ConnectionOptions)
		if err := c.Open(ctx); err != nil {
			return nil, err
		}
		if err := c.Connect(ctx, p.cfg.ForwardOpenParams); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.numConn++
	p.mu.Unlock()
	return result.(*connection.Connection), nil
}

func (p *Pool) discard(c *connection.Connection) {
	go func() {
		_ = c.Close(context.Background())
	}()
	p.mu.Lock()
	p.numConn--
	p.mu.Unlock()
}

// Release returns a lease's connection to idle, or closes and
// discards it if the caller marked it Broken (or the pool observed it
// Broken on its own).
func (p *Pool) Release(lease *Lease) {
	if lease == nil || lease.pool != p {
		return
	}
	broken := lease.broken || lease.Conn.State() == connection.StateBroken

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if broken || closed {
		p.discard(lease.Conn)
	} else {
		p.mu.Lock()
		p.idle = append(p.idle, lease.Conn)
		p.mu.Unlock()
	}
	p.tokens <- struct{}{}
}

// Drain closes every connection and rejects subsequent Acquire calls
// with KindPoolClosed.
func (p *Pool) Drain(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		_ = c.Close(ctx)
	}
}
