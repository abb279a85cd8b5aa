package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/01moynul/edu-content-api/internal/router"
)

// Params describes how to reach one PostgreSQL endpoint.
type Params struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN renders the params as a keyword/value connection string.
func (p Params) DSN() string {
	pairs := []string{
		"host=" + quote(p.Host),
		fmt.Sprintf("port=%d", p.Port),
		"dbname=" + quote(p.Name),
		"user=" + quote(p.User),
		"password=" + quote(p.Password),
	}
	if p.SSLMode != "" {
		pairs = append(pairs, "sslmode="+quote(p.SSLMode))
	}
	return strings.Join(pairs, " ")
}

// Redacted is the DSN without the password, safe to log.
func (p Params) Redacted() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.User(p.User),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   "/" + p.Name,
	}
	return u.String()
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Conn is one pinned connection together with the pool that owns it.
type Conn struct {
	*sqlx.Conn
	db *sqlx.DB
}

// Open dials a single persistent connection.
func Open(ctx context.Context, dsn string, connectTimeout time.Duration) (*Conn, error) {
	// 1. Open a pool that never holds more than the one connection we pin.
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}

	// 2. Ping to verify the server is reachable.
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// 3. Pin the connection.
	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return Wrap(db, conn), nil
}

// Wrap pairs an already pinned connection with its pool.
func Wrap(db *sqlx.DB, conn *sqlx.Conn) *Conn {
	return &Conn{Conn: conn, db: db}
}

// IsClosed reports whether the connection is released or its socket is gone.
func (c *Conn) IsClosed() bool {
	closed := false
	err := c.Conn.Raw(func(driverConn any) error {
		if pc, ok := driverConn.(*stdlib.Conn); ok {
			closed = pc.Conn().IsClosed()
		}
		return nil
	})
	return err != nil || closed
}

// Close releases the pinned connection and closes its pool.
func (c *Conn) Close() error {
	connErr := c.Conn.Close()
	dbErr := c.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

// NewOpener adapts Open to the router.
func NewOpener(dsn string, connectTimeout time.Duration) router.Opener {
	return func(ctx context.Context) (router.Conn, error) {
		conn, err := Open(ctx, dsn, connectTimeout)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
