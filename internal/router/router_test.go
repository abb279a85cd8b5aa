package router

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn implements Conn for testing.
type fakeConn struct {
	role    Role
	getErr  error
	closed  atomic.Bool
	queries atomic.Int32
}

var _ Conn = (*fakeConn)(nil)

func (c *fakeConn) ExecContext(_ context.Context, _ string, _ ...any) (sql.Result, error) {
	c.queries.Add(1)
	return nil, c.getErr
}

func (c *fakeConn) GetContext(_ context.Context, dest any, _ string, _ ...any) error {
	c.queries.Add(1)
	if c.getErr != nil {
		return c.getErr
	}
	if n, ok := dest.(*int); ok {
		*n = 1
	}
	return nil
}

func (c *fakeConn) SelectContext(_ context.Context, _ any, _ string, _ ...any) error {
	c.queries.Add(1)
	return c.getErr
}

func (c *fakeConn) BeginTxx(_ context.Context, _ *sql.TxOptions) (*sqlx.Tx, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) PingContext(_ context.Context) error {
	return c.getErr
}

func (c *fakeConn) IsClosed() bool {
	return c.closed.Load()
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeOpener hands out fakeConns and counts dials.
type fakeOpener struct {
	role Role

	mu      sync.Mutex
	openErr error
	getErr  error
	last    *fakeConn

	opens atomic.Int32
}

func newFakeOpener(role Role) *fakeOpener {
	return &fakeOpener{role: role}
}

func (o *fakeOpener) setOpenErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErr = err
}

func (o *fakeOpener) setGetErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.getErr = err
}

func (o *fakeOpener) lastConn() *fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *fakeOpener) open(_ context.Context) (Conn, error) {
	o.opens.Add(1)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.openErr != nil {
		return nil, o.openErr
	}
	o.last = &fakeConn{role: o.role, getErr: o.getErr}
	return o.last, nil
}

func newTestRouter(t *testing.T) (*Router, *fakeOpener, *fakeOpener) {
	t.Helper()

	primary := newFakeOpener(RolePrimary)
	replica := newFakeOpener(RoleReplica)
	r := New(primary.open, replica.open)
	t.Cleanup(func() { _ = r.Close() })

	return r, primary, replica
}

// acquire leases a connection and hands the lease straight back.
func acquire(t *testing.T, r *Router, statement string, forcePrimary bool) (Conn, Role, error) {
	t.Helper()

	conn, role, release, err := r.Acquire(context.Background(), statement, forcePrimary)
	if release != nil {
		release()
	}
	return conn, role, err
}

func connRole(t *testing.T, conn Conn) Role {
	t.Helper()

	fc, ok := conn.(*fakeConn)
	require.True(t, ok)
	return fc.role
}

func TestNewOpensNothing(t *testing.T) {
	r, primary, replica := newTestRouter(t)

	require.True(t, r.ReplicaAvailable())
	require.Zero(t, primary.opens.Load())
	require.Zero(t, replica.opens.Load())
}

func TestAcquireRouting(t *testing.T) {
	t.Run("read goes to replica without touching primary", func(t *testing.T) {
		r, primary, replica := newTestRouter(t)

		conn, role, err := acquire(t, r, "SELECT * FROM temas", false)
		require.NoError(t, err)
		require.Equal(t, RoleReplica, role)
		require.Equal(t, RoleReplica, connRole(t, conn))
		require.Zero(t, primary.opens.Load())
		require.Equal(t, int32(1), replica.opens.Load())
	})

	t.Run("omitted statement is a read", func(t *testing.T) {
		r, _, _ := newTestRouter(t)

		_, role, err := acquire(t, r, "", false)
		require.NoError(t, err)
		require.Equal(t, RoleReplica, role)
	})

	t.Run("write goes to primary", func(t *testing.T) {
		r, _, replica := newTestRouter(t)

		_, role, err := acquire(t, r, "INSERT INTO contenidos (id_contenido) VALUES ($1)", false)
		require.NoError(t, err)
		require.Equal(t, RolePrimary, role)
		require.Zero(t, replica.opens.Load())
	})

	t.Run("write goes to primary while replica is down", func(t *testing.T) {
		r, _, replica := newTestRouter(t)
		replica.setOpenErr(errors.New("refused"))
		require.False(t, r.ProbeReplicaHealth(context.Background()))

		_, role, err := acquire(t, r, "UPDATE contenidos SET titulo=$1", false)
		require.NoError(t, err)
		require.Equal(t, RolePrimary, role)
	})

	t.Run("force primary wins over select", func(t *testing.T) {
		r, _, replica := newTestRouter(t)

		conn, role, err := acquire(t, r, "SELECT 1", true)
		require.NoError(t, err)
		require.Equal(t, RolePrimary, role)
		require.Equal(t, RolePrimary, connRole(t, conn))
		require.Zero(t, replica.opens.Load())
	})
}

func TestAcquireReusesHandle(t *testing.T) {
	r, primary, replica := newTestRouter(t)

	first, _, err := acquire(t, r, "SELECT 1", false)
	require.NoError(t, err)
	second, _, err := acquire(t, r, "SELECT 2", false)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, int32(1), replica.opens.Load())

	w1, _, err := acquire(t, r, "DELETE FROM temas", false)
	require.NoError(t, err)
	w2, _, err := acquire(t, r, "", true)
	require.NoError(t, err)
	require.Same(t, w1, w2)
	require.Equal(t, int32(1), primary.opens.Load())
}

func TestAcquireReplacesClosedHandle(t *testing.T) {
	r, _, replica := newTestRouter(t)

	first, _, err := acquire(t, r, "SELECT 1", false)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, _, err := acquire(t, r, "SELECT 1", false)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, int32(2), replica.opens.Load())
}

func TestAcquireConcurrentOpensOnce(t *testing.T) {
	r, primary, replica := newTestRouter(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statement := "SELECT 1"
			if i%2 == 0 {
				statement = "INSERT INTO t VALUES (1)"
			}
			_, _, release, err := r.Acquire(context.Background(), statement, false)
			if assert.NoError(t, err) {
				release()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), primary.opens.Load())
	require.Equal(t, int32(1), replica.opens.Load())
}

func TestAcquireReplicaOpenFailure(t *testing.T) {
	r, primary, replica := newTestRouter(t)
	replica.setOpenErr(errors.New("connection refused"))

	conn, role, err := acquire(t, r, "SELECT 1", false)
	require.NoError(t, err)
	require.Equal(t, RolePrimary, role)
	require.Equal(t, RolePrimary, connRole(t, conn))
	require.False(t, r.ReplicaAvailable())

	// Further reads skip the replica entirely.
	_, role, err = acquire(t, r, "SELECT 2", false)
	require.NoError(t, err)
	require.Equal(t, RolePrimary, role)
	require.Equal(t, int32(1), replica.opens.Load())
	require.Equal(t, int32(1), primary.opens.Load())
}

func TestAcquirePrimaryFailurePropagates(t *testing.T) {
	cause := errors.New("password authentication failed")

	t.Run("write", func(t *testing.T) {
		r, primary, _ := newTestRouter(t)
		primary.setOpenErr(cause)

		_, _, err := acquire(t, r, "INSERT INTO t VALUES (1)", false)
		require.ErrorIs(t, err, cause)

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		require.Equal(t, RolePrimary, connErr.Role)
	})

	t.Run("read after replica fallback", func(t *testing.T) {
		r, primary, replica := newTestRouter(t)
		primary.setOpenErr(cause)
		replica.setOpenErr(errors.New("replica down"))

		_, _, err := acquire(t, r, "SELECT 1", false)

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		require.Equal(t, RolePrimary, connErr.Role)
		require.ErrorIs(t, err, cause)
	})
}

func TestDoFallsBackOnReplicaFailure(t *testing.T) {
	r, primary, _ := newTestRouter(t)

	var calls []Role
	err := r.Do(context.Background(), "SELECT * FROM temas", func(_ context.Context, conn Conn) error {
		role := connRole(t, conn)
		calls = append(calls, role)
		if role == RoleReplica {
			return errors.New("server closed the connection unexpectedly")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []Role{RoleReplica, RolePrimary}, calls)
	require.False(t, r.ReplicaAvailable())
	require.Equal(t, int32(1), primary.opens.Load())
}

func TestDoPropagatesPrimaryErrorAfterFallback(t *testing.T) {
	r, _, _ := newTestRouter(t)
	primaryErr := errors.New("primary failed too")

	calls := 0
	err := r.Do(context.Background(), "SELECT 1", func(_ context.Context, conn Conn) error {
		calls++
		if connRole(t, conn) == RoleReplica {
			return errors.New("replica failed")
		}
		return primaryErr
	})
	require.ErrorIs(t, err, primaryErr)
	require.Equal(t, 2, calls)
}

func TestDoNeverRetriesPrimaryFailure(t *testing.T) {
	r, _, replica := newTestRouter(t)
	boom := errors.New("duplicate key")

	calls := 0
	err := r.Do(context.Background(), "INSERT INTO t VALUES (1)", func(_ context.Context, _ Conn) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
	require.True(t, r.ReplicaAvailable())
	require.Zero(t, replica.opens.Load())

	calls = 0
	err = r.DoPrimary(context.Background(), func(_ context.Context, _ Conn) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestDoNoRowsIsNotAReplicaFault(t *testing.T) {
	r, _, _ := newTestRouter(t)

	calls := 0
	err := r.Do(context.Background(), "SELECT 1", func(_ context.Context, _ Conn) error {
		calls++
		return sql.ErrNoRows
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.Equal(t, 1, calls)
	require.True(t, r.ReplicaAvailable())
}

func TestDoCancelledCallerIsNotAReplicaFault(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Do(ctx, "SELECT 1", func(ctx context.Context, _ Conn) error {
		calls++
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
	require.True(t, r.ReplicaAvailable())
}

func TestDoQueryTimeout(t *testing.T) {
	primary := newFakeOpener(RolePrimary)
	replica := newFakeOpener(RoleReplica)
	r := New(primary.open, replica.open, WithQueryTimeout(20*time.Millisecond))
	defer r.Close()

	var roles []Role
	err := r.Do(context.Background(), "SELECT pg_sleep(1)", func(ctx context.Context, conn Conn) error {
		role := connRole(t, conn)
		roles = append(roles, role)
		if role == RoleReplica {
			<-ctx.Done()
			return ctx.Err()
		}
		_, hasDeadline := ctx.Deadline()
		require.True(t, hasDeadline)
		require.NoError(t, ctx.Err())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []Role{RoleReplica, RolePrimary}, roles)
	require.False(t, r.ReplicaAvailable())
}

func TestProbeReplicaHealth(t *testing.T) {
	t.Run("success keeps replica available", func(t *testing.T) {
		r, primary, replica := newTestRouter(t)

		require.True(t, r.ProbeReplicaHealth(context.Background()))
		require.True(t, r.ReplicaAvailable())
		require.Equal(t, int32(1), replica.lastConn().queries.Load())
		require.Zero(t, primary.opens.Load())
	})

	t.Run("query failure discards the handle", func(t *testing.T) {
		r, _, replica := newTestRouter(t)
		replica.setGetErr(errors.New("recovery in progress"))

		require.False(t, r.ProbeReplicaHealth(context.Background()))
		require.False(t, r.ReplicaAvailable())
		require.True(t, replica.lastConn().IsClosed())

		replica.setGetErr(nil)
		require.True(t, r.ProbeReplicaHealth(context.Background()))
		require.Equal(t, int32(2), replica.opens.Load())
	})

	t.Run("success resets the flag after a use failure", func(t *testing.T) {
		r, _, _ := newTestRouter(t)

		err := r.Do(context.Background(), "SELECT 1", func(_ context.Context, conn Conn) error {
			if connRole(t, conn) == RoleReplica {
				return errors.New("broken pipe")
			}
			return nil
		})
		require.NoError(t, err)
		require.False(t, r.ReplicaAvailable())

		require.True(t, r.ProbeReplicaHealth(context.Background()))
		require.True(t, r.ReplicaAvailable())

		_, role, err := acquire(t, r, "SELECT 1", false)
		require.NoError(t, err)
		require.Equal(t, RoleReplica, role)
	})
}

func TestReplicaOutageScenario(t *testing.T) {
	r, _, replica := newTestRouter(t)

	require.Equal(t, Read, Classify("  select * from temas"))
	require.Equal(t, Write, Classify("INSERT INTO contenidos (id_contenido, titulo) VALUES (%s, %s)"))
	require.Equal(t, Write, Classify("UPDATE contenidos SET titulo=%s WHERE id_contenido=%s"))

	replica.setOpenErr(errors.New("no route to host"))
	for i := 0; i < 3; i++ {
		require.False(t, r.ProbeReplicaHealth(context.Background()))

		_, role, err := acquire(t, r, "  select * from temas", false)
		require.NoError(t, err)
		require.Equal(t, RolePrimary, role)
	}
	require.Equal(t, int32(3), replica.opens.Load())

	replica.setOpenErr(nil)
	require.True(t, r.ProbeReplicaHealth(context.Background()))

	_, role, err := acquire(t, r, "  select * from temas", false)
	require.NoError(t, err)
	require.Equal(t, RoleReplica, role)
}

func TestWatchReplica(t *testing.T) {
	r, _, replica := newTestRouter(t)
	replica.setOpenErr(errors.New("down"))
	require.False(t, r.ProbeReplicaHealth(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.WatchReplica(ctx, 5*time.Millisecond)
	}()

	replica.setOpenErr(nil)
	require.Eventually(t, r.ReplicaAvailable, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchReplica did not return after cancel")
	}
}

func TestResolve(t *testing.T) {
	r, _, _ := newTestRouter(t)

	require.Equal(t, RoleReplica, r.Resolve("SELECT 1", false))
	require.Equal(t, RoleReplica, r.Resolve("", false))
	require.Equal(t, RolePrimary, r.Resolve("TRUNCATE t", false))
	require.Equal(t, RolePrimary, r.Resolve("SELECT 1", true))

	r.markReplicaDown(errors.New("down"))
	require.Equal(t, RolePrimary, r.Resolve("SELECT 1", false))
}

func TestCloseClosesHandles(t *testing.T) {
	r, primary, replica := newTestRouter(t)

	_, _, err := acquire(t, r, "SELECT 1", false)
	require.NoError(t, err)
	_, _, err = acquire(t, r, "", true)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.True(t, primary.lastConn().IsClosed())
	require.True(t, replica.lastConn().IsClosed())

	// A closed router reopens lazily.
	_, _, err = acquire(t, r, "SELECT 1", false)
	require.NoError(t, err)
	require.Equal(t, int32(2), replica.opens.Load())
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("timeout")
	err := &ConnectionError{Role: RoleReplica, Err: cause}

	require.Equal(t, "connecting to replica: timeout", err.Error())
	require.ErrorIs(t, err, cause)
}

func TestAcquireHoldsLeaseUntilRelease(t *testing.T) {
	r, _, replica := newTestRouter(t)

	conn, role, release, err := r.Acquire(context.Background(), "SELECT 1", false)
	require.NoError(t, err)
	require.Equal(t, RoleReplica, role)

	// A second reader has to wait; giving up is not a replica failure.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, _, err = r.Acquire(ctx, "SELECT 1", false)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, r.ReplicaAvailable())

	release()
	release() // twice is harmless

	again, role, err := acquire(t, r, "SELECT 1", false)
	require.NoError(t, err)
	require.Equal(t, RoleReplica, role)
	require.Same(t, conn, again)
	require.Equal(t, int32(1), replica.opens.Load())
}

func TestConcurrentScopesNeverShareConn(t *testing.T) {
	r, _, _ := newTestRouter(t)

	// Mirrors pgconn: a second statement while one is in flight fails.
	inUse := map[Role]*atomic.Int32{RolePrimary: {}, RoleReplica: {}}
	var overlaps atomic.Int32
	scope := func(ctx context.Context, conn Conn) error {
		busy := inUse[conn.(*fakeConn).role]
		if busy.Add(1) > 1 {
			busy.Add(-1)
			overlaps.Add(1)
			return errors.New("conn busy")
		}
		defer busy.Add(-1)

		time.Sleep(time.Millisecond)
		var one int
		return conn.GetContext(ctx, &one, "SELECT 1")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 3 {
			case 0:
				err = r.DoPrimary(context.Background(), scope)
			case 1:
				err = r.Do(context.Background(), "INSERT INTO temas VALUES ($1)", scope)
			default:
				err = r.Do(context.Background(), "SELECT * FROM temas", scope)
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Zero(t, overlaps.Load())
	require.True(t, r.ReplicaAvailable())
}

func TestProbeBehindBusyScopeKeepsFlag(t *testing.T) {
	primary := newFakeOpener(RolePrimary)
	replica := newFakeOpener(RoleReplica)
	r := New(primary.open, replica.open, WithProbeTimeout(20*time.Millisecond))
	defer r.Close()

	_, _, release, err := r.Acquire(context.Background(), "SELECT pg_sleep(10)", false)
	require.NoError(t, err)

	require.True(t, r.ProbeReplicaHealth(context.Background()))
	require.True(t, r.ReplicaAvailable())
	require.Zero(t, replica.lastConn().queries.Load())

	release()
	require.True(t, r.ProbeReplicaHealth(context.Background()))
	require.Equal(t, int32(1), replica.lastConn().queries.Load())
}

func TestCloseWaitsForScope(t *testing.T) {
	r, _, replica := newTestRouter(t)

	started := make(chan struct{})
	finish := make(chan struct{})
	go func() {
		_ = r.Do(context.Background(), "SELECT 1", func(context.Context, Conn) error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	closed := make(chan error, 1)
	go func() { closed <- r.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a scope was using the connection")
	case <-time.After(20 * time.Millisecond):
	}
	require.False(t, replica.lastConn().IsClosed())

	close(finish)
	require.NoError(t, <-closed)
	require.True(t, replica.lastConn().IsClosed())
}
