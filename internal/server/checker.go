package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kebairia/mariabak/internal/config"
	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
)

// Checker runs the pre-backup health probes against the MariaDB server:
// reachability, target-database access, and binary-logging state. It is
// also the SQL side of log-mode capture (listing and flushing binlogs).
type Checker struct {
	db  *sql.DB
	log logger.Logger
}

// BinaryLog is one entry from SHOW BINARY LOGS.
type BinaryLog struct {
	Name string
	Size int64
}

// Connect opens a connection pool to the server and verifies it with a
// ping. An unreachable server is terminal; there are no retries.
func Connect(ctx context.Context, cfg config.DatabaseConfig, username, password string, log logger.Logger) (*Checker, error) {
	dsnCfg := mysql.NewConfig()
	dsnCfg.User = username
	dsnCfg.Passwd = password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	dsnCfg.Timeout = 10 * time.Second

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("%w: open connection to %s: %v", errs.ErrServerUnreachable, dsnCfg.Addr, err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", errs.ErrServerUnreachable, dsnCfg.Addr, err)
	}

	return &Checker{db: db, log: log}, nil
}

// Close releases the connection pool.
func (c *Checker) Close() error {
	return c.db.Close()
}

// CheckAccess verifies the target database exists and the backup user
// can see it.
func (c *Checker) CheckAccess(ctx context.Context, target string) error {
	var count int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?", target,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("%w: query schemata for %q: %v", errs.ErrDatabaseAccess, target, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: database %q not found or not visible", errs.ErrDatabaseAccess, target)
	}
	return nil
}

// CheckBinaryLogging verifies the server writes a binary log. Log-mode
// capture is impossible without it.
func (c *Checker) CheckBinaryLogging(ctx context.Context) error {
	var enabled int
	if err := c.db.QueryRowContext(ctx, "SELECT @@log_bin").Scan(&enabled); err != nil {
		return fmt.Errorf("%w: query @@log_bin: %v", errs.ErrDatabaseAccess, err)
	}
	if enabled == 0 {
		return fmt.Errorf("%w", errs.ErrBinlogDisabled)
	}
	return nil
}

// BinaryLogs lists the server's binary logs. An empty list reports
// errs.ErrNoBinlogs.
func (c *Checker) BinaryLogs(ctx context.Context) ([]BinaryLog, error) {
	rows, err := c.db.QueryContext(ctx, "SHOW BINARY LOGS")
	if err != nil {
		return nil, fmt.Errorf("%w: show binary logs: %v", errs.ErrDatabaseAccess, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("show binary logs columns: %w", err)
	}

	var logs []BinaryLog
	for rows.Next() {
		var entry BinaryLog
		// MariaDB returns (Log_name, File_size); newer MySQL adds an
		// Encrypted column.
		scan := []any{&entry.Name, &entry.Size}
		if len(cols) > 2 {
			var extra sql.RawBytes
			scan = append(scan, &extra)
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("scan binary log row: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate binary logs: %w", err)
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("%w", errs.ErrNoBinlogs)
	}
	return logs, nil
}

// FlushBinaryLogs rotates the active binary log so the capture below it
// copies only closed files.
func (c *Checker) FlushBinaryLogs(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "FLUSH BINARY LOGS"); err != nil {
		return fmt.Errorf("%w: flush binary logs: %v", errs.ErrDatabaseAccess, err)
	}
	return nil
}
