// Package router sends each SQL statement to the primary or the replica.
//
// Writes go to the primary, reads to the replica. When the replica cannot be
// reached it is marked unavailable and reads run on the primary until
// ProbeReplicaHealth succeeds again. Each role holds at most one connection,
// opened on first use and reused afterwards, and leased to one scope at a
// time.
package router

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// Router is shared by every request in the process.
type Router struct {
	primary *slot
	replica *slot

	replicaAvailable atomic.Bool

	logger       logr.Logger
	queryTimeout time.Duration
	probeTimeout time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used for fallback and probe events.
func WithLogger(logger logr.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithQueryTimeout bounds every scope run through Do. Zero disables it.
func WithQueryTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.queryTimeout = d
	}
}

// WithProbeTimeout bounds each replica health probe. Zero disables it.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.probeTimeout = d
	}
}

// New creates a Router. No connection is opened until first use.
func New(primary, replica Opener, opts ...Option) *Router {
	r := &Router{
		primary: newSlot(RolePrimary, primary),
		replica: newSlot(RoleReplica, replica),
		logger:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.replicaAvailable.Store(true)
	return r
}

// Resolve returns the role a request would be sent to, before any fallback.
func (r *Router) Resolve(statement string, forcePrimary bool) Role {
	if forcePrimary {
		return RolePrimary
	}
	if statement != "" && Classify(statement) == Write {
		return RolePrimary
	}
	if !r.replicaAvailable.Load() {
		return RolePrimary
	}
	return RoleReplica
}

// Acquire leases the connection for statement and returns it along with the
// role that served it. An empty statement is treated as a read. Replica
// failures are absorbed by switching to the primary; primary failures are
// returned as a *ConnectionError.
//
// The caller owns the connection until it calls release, and nobody else can
// use that role in the meantime. Do and DoPrimary handle this for you.
func (r *Router) Acquire(ctx context.Context, statement string, forcePrimary bool) (conn Conn, role Role, release func(), err error) {
	// 1. Writes, forced scopes and a replica marked down all go to primary
	if r.Resolve(statement, forcePrimary) == RolePrimary {
		conn, release, err = r.primary.lease(ctx)
		return conn, RolePrimary, release, err
	}

	// 2. Try the replica
	conn, release, err = r.replica.lease(ctx)
	if err == nil {
		return conn, RoleReplica, release, nil
	}

	// A caller that gave up while waiting is not the replica's fault.
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		return nil, RoleReplica, nil, err
	}

	// 3. Replica could not be opened: mark it down and use primary instead.
	// The replica lease is already released, so we never hold both.
	r.markReplicaDown(err)
	conn, release, err = r.primary.lease(ctx)
	return conn, RolePrimary, release, err
}

// Do runs fn with the connection chosen for statement. If fn fails on the
// replica, the replica is marked unavailable and fn is run once more on the
// primary. The connection is leased to fn alone and must not be used after
// fn returns. fn must not call back into the router for the same role, it
// would wait on its own lease.
func (r *Router) Do(ctx context.Context, statement string, fn func(context.Context, Conn) error) error {
	return r.do(ctx, statement, false, fn)
}

// DoPrimary runs fn on the primary regardless of what it executes.
func (r *Router) DoPrimary(ctx context.Context, fn func(context.Context, Conn) error) error {
	return r.do(ctx, "", true, fn)
}

func (r *Router) do(ctx context.Context, statement string, forcePrimary bool, fn func(context.Context, Conn) error) error {
	opCtx, cancel := r.withTimeout(ctx, r.queryTimeout)
	defer cancel()

	// 1. Lease a connection and run the scope on it
	conn, role, release, err := r.Acquire(opCtx, statement, forcePrimary)
	if err != nil {
		return err
	}
	err = fn(opCtx, conn)
	release()

	// 2. Only a replica failure earns a second try; primary errors are final
	if err == nil || role != RoleReplica || !isReplicaFault(ctx, err) {
		return err
	}

	r.markReplicaDown(err)

	// 3. Replay once on primary, with a fresh timeout
	retryCtx, retryCancel := r.withTimeout(ctx, r.queryTimeout)
	defer retryCancel()

	primary, releasePrimary, err := r.primary.lease(retryCtx)
	if err != nil {
		return err
	}
	defer releasePrimary()

	return fn(retryCtx, primary)
}

// ProbeReplicaHealth runs a trivial query against the replica itself, never
// the primary. It is the only way a replica marked unavailable comes back.
func (r *Router) ProbeReplicaHealth(ctx context.Context) bool {
	ctx, cancel := r.withTimeout(ctx, r.probeTimeout)
	defer cancel()

	wasAvailable := r.replicaAvailable.Load()

	// 1. Lease the replica (opening it if needed) and ping it with SELECT 1
	conn, release, err := r.replica.lease(ctx)
	var connErr *ConnectionError
	if err != nil && !errors.As(err, &connErr) {
		// Timed out waiting behind a busy scope, not a replica failure
		r.logger.V(1).Info("replica probe skipped, connection busy", "error", err.Error())
		return wasAvailable
	}
	if err == nil {
		var one int
		if err = conn.GetContext(ctx, &one, "SELECT 1"); err != nil {
			// Broken handle: drop it so the next lease dials again
			r.replica.discard(conn)
		}
		release()
	}

	// 2. Failure: route reads to primary until a later probe succeeds
	if err != nil {
		r.replicaAvailable.Store(false)
		if wasAvailable {
			r.logger.Info("replica probe failed, reads moved to primary", "error", err.Error())
		} else {
			r.logger.V(1).Info("replica still unavailable", "error", err.Error())
		}
		return false
	}

	// 3. Success: reads go back to the replica
	r.replicaAvailable.Store(true)
	if !wasAvailable {
		r.logger.Info("replica probe succeeded, reads back on replica")
	}
	return true
}

// ReplicaAvailable reports whether reads are currently sent to the replica.
func (r *Router) ReplicaAvailable() bool {
	return r.replicaAvailable.Load()
}

// WatchReplica probes the replica every interval until ctx is done.
func (r *Router) WatchReplica(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ProbeReplicaHealth(ctx)
		}
	}
}

// Close closes both held connections, waiting for any scope still using them.
func (r *Router) Close() error {
	return errors.Join(r.primary.close(), r.replica.close())
}

func (r *Router) markReplicaDown(cause error) {
	if r.replicaAvailable.Swap(false) {
		r.logger.Info("replica unavailable, falling back to primary", "error", cause.Error())
	}
}

func (r *Router) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// isReplicaFault reports whether err should be blamed on the replica. A
// cancelled caller and an empty result are not replica faults.
func isReplicaFault(callerCtx context.Context, err error) bool {
	if callerCtx.Err() != nil {
		return false
	}
	return !errors.Is(err, sql.ErrNoRows)
}
