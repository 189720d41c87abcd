// Package session implements the orchestrator that couples a logical,
// externally-visible session id to a leased connection per operation,
// a background heartbeat, and accumulated diagnostics, per spec.md
// §4.4.
package session

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bifrost-industrial/cip-gateway/internal/cip"
	"github.com/bifrost-industrial/cip-gateway/internal/connection"
	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
	"github.com/bifrost-industrial/cip-gateway/internal/pool"
)

// Config controls heartbeat cadence, reconnection policy, and the pool
// settings new per-endpoint pools are constructed with.
type Config struct {
	HeartbeatInterval         time.Duration
	HeartbeatPattern          []byte
	HeartbeatFailureThreshold int
	ReconnectRetries          int
	ReconnectBackoffBase      time.Duration
	ReconnectBackoffCap       time.Duration
	OperationTimeout          time.Duration
	PoolConfig                pool.Config
}

// DefaultConfig mirrors the defaults named in spec.md §4.4: a 1s
// heartbeat, 3 consecutive failures before reconnecting, 5 reconnect
// attempts with backoff from 200ms doubling to a 3.2s cap, and a 5s
// operation deadline.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:         1000 * time.Millisecond,
		HeartbeatPattern:          []byte{0xBE, 0xEF},
		HeartbeatFailureThreshold: 3,
		ReconnectRetries:          5,
		ReconnectBackoffBase:      200 * time.Millisecond,
		ReconnectBackoffCap:       3200 * time.Millisecond,
		OperationTimeout:          5 * time.Second,
		PoolConfig:                pool.DefaultConfig(),
	}
}

// Diagnostics is the externally-visible state of a Session, per
// spec.md §3's Session data model.
type Diagnostics struct {
	LastActivity time.Time
	LastStatus   cip.Status
	PatternHex   string
}

// Session is a logical identity visible to external callers. All
// exported accessors are safe for concurrent use; dispatch is
// serialized internally so concurrent operation calls on the same
// Session are ordered FIFO, per spec.md §4.4.
type Session struct {
	ID       string
	Endpoint connection.Endpoint

	orch *Orchestrator

	dispatchMu sync.Mutex // serializes operation dispatch, FIFO via mutex queueing

	diagMu sync.RWMutex
	diag   Diagnostics

	cancel context.CancelFunc

	closedMu sync.Mutex
	closed   bool
}

// Diagnostics returns a snapshot of the session's last known status.
func (s *Session) Diagnostics() Diagnostics {
	s.diagMu.RLock()
	defer s.diagMu.RUnlock()
	return s.diag
}

func (s *Session) setDiagnostics(status cip.Status) {
	s.diagMu.Lock()
	s.diag.LastActivity = time.Now()
	s.diag.LastStatus = status
	s.diagMu.Unlock()
}

func (s *Session) isClosed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closed
}

// Orchestrator owns the session table and the per-endpoint connection
// pools sessions lease from. Per spec.md §5's "shared state" note, the
// session table and the pool table are each guarded by their own
// coarse lock; code that must hold both locks together always takes
// sessionsMu before poolsMu.
type Orchestrator struct {
	logger *zap.Logger
	cfg    Config

	poolsMu sync.Mutex
	pools   map[string]*pool.Pool

	sessionsMu sync.Mutex
	sessions   map[string]*Session
}

// NewOrchestrator constructs an Orchestrator with no sessions or pools
// yet open; pools are created lazily per endpoint on first use.
func NewOrchestrator(logger *zap.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		logger:   logger,
		cfg:      cfg,
		pools:    make(map[string]*pool.Pool),
		sessions: make(map[string]*Session),
	}
}

func (o *Orchestrator) poolFor(endpoint connection.Endpoint) *pool.Pool {
	key := endpoint.WithDefaultPort().String()
	o.poolsMu.Lock()
	defer o.poolsMu.Unlock()
	p, ok := o.pools[key]
	if !ok {
		p = pool.New(o.logger, endpoint, o.cfg.PoolConfig)
		o.pools[key] = p
	}
	return p
}

// CreateSession allocates a session id, ensures the endpoint's pool
// exists, acquires a connection long enough to verify it reaches
// Connected, starts the heartbeat task, and returns the new Session.
// The connection is immediately released back to the pool — a Session
// does not pin a dedicated connection, it leases one per operation.
func (o *Orchestrator) CreateSession(ctx context.Context, endpoint connection.Endpoint) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	p := o.poolFor(endpoint)
	lease, err := p.Acquire(ctx)
	if err != nil {
		return nil, plcerr.Wrap(plcerr.KindTransport, "session.CreateSession", "failed to establish initial connection", err)
	}
	connected := lease.Conn.State() == connection.StateConnected
	p.Release(lease)
	if !connected {
		return nil, plcerr.New(plcerr.KindTransport, "session.CreateSession", "connection did not reach Connected")
	}

	heartbeatCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:       id,
		Endpoint: endpoint,
		orch:     o,
		cancel:   cancel,
		diag:     Diagnostics{LastActivity: time.Now(), PatternHex: hex.EncodeToString(o.cfg.HeartbeatPattern)},
	}

	o.sessionsMu.Lock()
	o.sessions[id] = sess
	o.sessionsMu.Unlock()

	go o.heartbeatLoop(heartbeatCtx, sess)

	return sess, nil
}

// Lookup returns the session with the given id, or KindUnknownSession
// if it does not exist.
func (o *Orchestrator) Lookup(id string) (*Session, error) {
	o.sessionsMu.Lock()
	sess, ok := o.sessions[id]
	o.sessionsMu.Unlock()
	if !ok {
		return nil, plcerr.New(plcerr.KindUnknownSession, "session.Lookup", "no session with that id")
	}
	return sess, nil
}

// Dispatch acquires the session's connection (transparently replacing
// it if broken, via the pool), issues one CIP exchange, records
// last_status/last_activity, and releases the connection. Dispatch is
// serialized per session by Session.dispatchMu: concurrent callers on
// the same session queue in FIFO order on that mutex.
func (o *Orchestrator) Dispatch(ctx context.Context, sess *Session, service uint8, path cip.Path, payload []byte) (cip.Status, []byte, error) {
	if sess.isClosed() {
		return cip.Status{}, nil, plcerr.New(plcerr.KindSessionClosed, "session.Dispatch", "session is closed")
	}

	sess.dispatchMu.Lock()
	defer sess.dispatchMu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.OperationTimeout)
		defer cancel()
	}

	p := o.poolFor(sess.Endpoint)
	lease, err := p.Acquire(ctx)
	if err != nil {
		return cip.Status{}, nil, err
	}

	status, data, err := lease.Conn.RequestUnit(ctx, service, path, payload)
	if err != nil {
		lease.MarkBroken()
		p.Release(lease)
		return cip.Status{}, nil, err
	}
	p.Release(lease)

	sess.setDiagnostics(status)
	return status, data, nil
}

// Ping issues the heartbeat probe synchronously, independent of the
// automatic periodic heartbeat, per the SUPPLEMENTED FEATURES Ping
// entry.
func (o *Orchestrator) Ping(ctx context.Context, sess *Session) error {
	if sess.isClosed() {
		return plcerr.New(plcerr.KindSessionClosed, "session.Ping", "session is closed")
	}
	p := o.poolFor(sess.Endpoint)
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	err = lease.Conn.Heartbeat(o.cfg.HeartbeatPattern)
	if err != nil {
		lease.MarkBroken()
	}
	p.Release(lease)
	return err
}

// Close cancels the heartbeat (cooperative — the task observes
// cancellation at the start of its next wait) and removes the session
// from the table. Idempotent. A Session holds no connection of its
// own, so Close closes no connection; pooled connections stay in the
// endpoint's pool.
func (o *Orchestrator) Close(sess *Session) {
	sess.closedMu.Lock()
	if sess.closed {
		sess.closedMu.Unlock()
		return
	}
	sess.closed = true
	sess.closedMu.Unlock()

	sess.cancel()

	o.sessionsMu.Lock()
	delete(o.sessions, sess.ID)
	o.sessionsMu.Unlock()
}

// heartbeatLoop holds the *Session it was started for and exits
// silently once ctx is cancelled or the session is marked closed. It
// does not look the session up in the orchestrator's table.
func (o *Orchestrator) heartbeatLoop(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if sess.isClosed() {
			return
		}

		if err := o.heartbeatOnce(ctx, sess); err != nil {
			consecutiveFailures++
			o.logger.Warn("heartbeat failed", zap.String("session", sess.ID), zap.Int("consecutive_failures", consecutiveFailures), zap.Error(err))
			if consecutiveFailures >= o.cfg.HeartbeatFailureThreshold {
				if !o.reestablish(ctx, sess) {
					o.logger.Warn("reconnection exhausted, closing session", zap.String("session", sess.ID))
					o.Close(sess)
					return
				}
				consecutiveFailures = 0
			}
		} else {
			consecutiveFailures = 0
		}
	}
}

func (o *Orchestrator) heartbeatOnce(ctx context.Context, sess *Session) error {
	p := o.poolFor(sess.Endpoint)
	hbCtx, cancel := context.WithTimeout(ctx, o.cfg.OperationTimeout)
	defer cancel()
	lease, err := p.Acquire(hbCtx)
	if err != nil {
		return err
	}
	err = lease.Conn.Heartbeat(o.cfg.HeartbeatPattern)
	if err != nil {
		lease.MarkBroken()
	}
	p.Release(lease)
	return err
}

// reestablish attempts up to ReconnectRetries acquire-then-release
// round trips with exponential backoff (200ms doubling to a 3.2s cap,
// per spec.md §4.4), proving the pool can hand back a Connected lease
// again. Returns false once every attempt has failed.
func (o *Orchestrator) reestablish(ctx context.Context, sess *Session) bool {
	backoff := o.cfg.ReconnectBackoffBase
	for attempt := 0; attempt < o.cfg.ReconnectRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
			backoff *= 2
			if backoff > o.cfg.ReconnectBackoffCap {
				backoff = o.cfg.ReconnectBackoffCap
			}
		}

		p := o.poolFor(sess.Endpoint)
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.OperationTimeout)
		lease, err := p.Acquire(attemptCtx)
		cancel()
		if err != nil {
			continue
		}
		ok := lease.Conn.State() == connection.StateConnected
		p.Release(lease)
		if ok {
			return true
		}
	}
	return false
}
