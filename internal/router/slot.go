package router

import (
	"context"
	"database/sql"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Conn is the handle a caller receives for the duration of one scope.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	PingContext(ctx context.Context) error

	// IsClosed reports whether the underlying socket is gone.
	IsClosed() bool
	Close() error
}

// Opener dials a new connection for one role.
type Opener func(ctx context.Context) (Conn, error)

type slotState int

const (
	slotClosed slotState = iota
	slotOpen
)

// slot owns the single connection of one role.
//
// mu guards the state and the check-then-open in get. use is a one-token
// semaphore held for the whole time a caller works with the connection: a
// PostgreSQL socket runs one statement at a time, and an open transaction
// must not see statements from other requests.
type slot struct {
	mu    sync.Mutex
	role  Role
	open  Opener
	state slotState
	conn  Conn

	use chan struct{}
}

func newSlot(role Role, open Opener) *slot {
	return &slot{role: role, open: open, use: make(chan struct{}, 1)}
}

// lease waits for exclusive use of the connection, opening it if needed.
// The returned release func must be called once the caller is done; calling
// it more than once is harmless.
func (s *slot) lease(ctx context.Context) (Conn, func(), error) {
	// 1. Wait our turn, or give up with the caller
	select {
	case s.use <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	release := sync.OnceFunc(func() { <-s.use })

	// 2. Open (or reuse) the connection while holding the lease
	conn, err := s.get(ctx)
	if err != nil {
		release()
		return nil, nil, err
	}
	return conn, release, nil
}

// get returns the held connection, opening a new one when none is held or
// the held one has been closed underneath us. Callers go through lease.
func (s *slot) get(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Reuse the held connection if its socket is still up
	if s.state == slotOpen {
		if !s.conn.IsClosed() {
			return s.conn, nil
		}
		s.resetLocked()
	}

	// 2. Dial a new one
	conn, err := s.open(ctx)
	if err != nil {
		return nil, &ConnectionError{Role: s.role, Err: err}
	}
	s.conn = conn
	s.state = slotOpen
	return conn, nil
}

// discard closes conn if it is still the one held by the slot.
func (s *slot) discard(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == slotOpen && s.conn == conn {
		s.resetLocked()
	}
}

// close waits for the current lease holder, then closes the connection.
func (s *slot) close() error {
	s.use <- struct{}{}
	defer func() { <-s.use }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != slotOpen {
		return nil
	}
	conn := s.conn
	s.conn = nil
	s.state = slotClosed
	return conn.Close()
}

func (s *slot) resetLocked() {
	_ = s.conn.Close()
	s.conn = nil
	s.state = slotClosed
}
