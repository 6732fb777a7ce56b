package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/useraccounts/apiserver/config"
)

const (
	driverName         = "postgres"
	applicationName    = "accountserver"
	defaultPingTimeout = 5 * time.Second
	connMaxIdleTime    = 2 * time.Minute
	connMaxLifetime    = 30 * time.Minute
	maxIdleConns       = 5
	maxOpenConns       = 25
)

// Pinger is the connection round-trip the health gate needs. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DSN builds the lib/pq connection URL for the configured database.
func DSN(cfg config.Config) string {
	d := cfg.Database
	params := url.Values{}
	params.Set("sslmode", "disable")
	if d.UseSSL {
		params.Set("sslmode", "require")
	}
	params.Set("connect_timeout", strconv.Itoa(int(defaultPingTimeout/time.Second)))
	params.Set("application_name", applicationName)

	return (&url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.DBName,
		RawQuery: params.Encode(),
	}).String()
}

// Open returns a pooled handle that has answered one ping.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	conn, err := sql.Open(driverName, DSN(cfg))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetConnMaxIdleTime(connMaxIdleTime)
	conn.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres at %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}
	return conn, nil
}

// Healthy reports whether a round-trip to the database succeeds within timeout.
// Every call probes the connection afresh.
func Healthy(ctx context.Context, p Pinger, timeout time.Duration) bool {
	if p == nil {
		return false
	}
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.PingContext(ctx) == nil
}
