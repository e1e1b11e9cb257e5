/*
Copyright 2024 WebSQL, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/websql/websql"
	"github.com/websql/websql/lib/defaults"
)

// DialFunc establishes one authenticated connection. Tests inject
// fakes here.
type DialFunc func(ctx context.Context, cfg ClientConfig) (Conn, error)

// PoolConfig configures the shared connection pool.
type PoolConfig struct {
	// Client holds the system account and server address the pool
	// dials with.
	Client ClientConfig
	// MaxConnections bounds the number of live pooled connections.
	MaxConnections int
	// DialFn defaults to Dial.
	DialFn DialFunc
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *PoolConfig) CheckAndSetDefaults() error {
	if c.Client.Host == "" {
		return trace.BadParameter("missing database host")
	}
	if c.Client.User == "" {
		return trace.BadParameter("missing system database user")
	}
	if c.Client.Port == 0 {
		c.Client.Port = defaults.MySQLPort
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaults.PoolMaxConnections
	}
	if c.DialFn == nil {
		c.DialFn = Dial
	}
	return nil
}

// Pool is a bounded pool of connections authenticated as the system
// account. Acquire blocks while the pool is at capacity. Reconfigure
// swaps the target server at runtime: connections leased before the
// swap stay usable until released, new acquisitions dial with the new
// parameters.
type Pool struct {
	mu     sync.Mutex
	cfg    PoolConfig
	gen    int
	sem    *semaphore.Weighted
	idle   []Conn
	closed bool
	log    *log.Entry
}

// NewPool returns an empty pool. Connections are dialed lazily on
// Acquire.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Pool{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxConnections)),
		log: log.WithFields(log.Fields{
			websql.Component: websql.ComponentPool,
		}),
	}, nil
}

// PooledConn is a connection leased from the pool. The holder must
// call Release (or Broker.Release for impersonated leases) exactly
// once on every exit path.
type PooledConn struct {
	Conn

	pool         *Pool
	sem          *semaphore.Weighted
	gen          int
	released     atomic.Bool
	broken       bool
	impersonated bool
}

// MarkBroken flags the connection so Release closes it instead of
// returning it to the idle list.
func (pc *PooledConn) MarkBroken() {
	pc.broken = true
}

// Acquire leases a connection, dialing a fresh one when the idle list
// is empty. It blocks while the pool is at capacity until a lease is
// released or ctx is canceled.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, trace.ConnectionProblem(nil, "connection pool is closed")
		}
		sem, gen, cfg := p.sem, p.gen, p.cfg
		p.mu.Unlock()

		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, trace.Wrap(err)
		}

		p.mu.Lock()
		if p.closed || p.gen != gen {
			// Reconfigured or closed while waiting: this permit
			// belongs to a retired generation, start over.
			p.mu.Unlock()
			sem.Release(1)
			continue
		}
		var conn Conn
		if n := len(p.idle); n > 0 {
			conn = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		p.mu.Unlock()

		if conn == nil {
			var err error
			conn, err = cfg.DialFn(ctx, cfg.Client)
			if err != nil {
				sem.Release(1)
				if trace.IsAccessDenied(err) {
					// The server rejected the system account. That
					// is a configuration problem, not the caller's
					// credentials, so it must not surface as an
					// authentication failure.
					return nil, trace.ConnectionProblem(err, "database server rejected the system account %q", cfg.Client.User)
				}
				return nil, trace.ConnectionProblem(err, "failed to connect to %v", cfg.Client.Addr())
			}
		}
		return &PooledConn{Conn: conn, pool: p, sem: sem, gen: gen}, nil
	}
}

// Release returns the lease to the pool. Stale (pre-reconfigure) and
// broken connections are closed instead of pooled. Releasing twice is
// a no-op.
func (p *Pool) Release(pc *PooledConn) {
	if pc == nil || !pc.released.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	stale := pc.gen != p.gen || p.closed
	if !stale && !pc.broken {
		p.idle = append(p.idle, pc.Conn)
	}
	p.mu.Unlock()

	if stale || pc.broken {
		if err := pc.Conn.Close(); err != nil {
			p.log.Debugf("Failed to close retired connection: %v.", err)
		}
	}
	pc.sem.Release(1)
}

// Reconfigure points the pool at new connection parameters. Idle
// connections are closed immediately; leased connections are closed
// as they come back. Callers waiting in Acquire retry against the new
// generation.
func (p *Pool) Reconfigure(cfg PoolConfig) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return trace.ConnectionProblem(nil, "connection pool is closed")
	}
	idle := p.idle
	p.idle = nil
	p.cfg = cfg
	p.gen++
	p.sem = semaphore.NewWeighted(int64(cfg.MaxConnections))
	p.mu.Unlock()

	p.log.Infof("Reconfigured pool: %v, max connections %v.", cfg.Client.Addr(), cfg.MaxConnections)
	closeAll(idle, p.log)
	return nil
}

// ClientConfig returns the connection parameters of the current
// generation. The broker uses it to restore the system identity on
// release.
func (p *Pool) ClientConfig() ClientConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Client
}

// Close shuts the pool down. Outstanding leases are closed on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	closeAll(idle, p.log)
	return nil
}

// stale reports whether the lease belongs to a retired generation.
func (p *Pool) stale(pc *PooledConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pc.gen != p.gen || p.closed
}

func closeAll(conns []Conn, log *log.Entry) {
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Debugf("Failed to close idle connection: %v.", err)
		}
	}
}
