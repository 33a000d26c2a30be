package sink

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"OpenMCP-ChainManager/internal/events"
)

// MySQLConfig 描述事件日志库的连接参数。
type MySQLConfig struct {
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

const insertEventSQL = `INSERT INTO chain_events (id, name, emitted_at, payload) VALUES (?, ?, ?, ?)`

// MySQLSink appends envelopes to the chain_events journal table. The table
// is created by the migrations in deploy/migrations.
type MySQLSink struct {
	db *sql.DB
}

// NewMySQLSink 打开数据库并执行事件日志表迁移。
func NewMySQLSink(ctx context.Context, cfg MySQLConfig) (*MySQLSink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, fmt.Errorf("MySQL DSN 无效: %w", err)
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(4)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	s, err := newMySQLSink(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newMySQLSink(ctx context.Context, db *sql.DB) (*MySQLSink, error) {
	if err := migrate(ctx, db, nil); err != nil {
		return nil, err
	}
	return &MySQLSink{db: db}, nil
}

// Name implements Sink.
func (s *MySQLSink) Name() string { return "mysql" }

// Publish implements Sink. Re-delivery of an already journalled envelope is
// not an error.
func (s *MySQLSink) Publish(ctx context.Context, env events.Envelope) error {
	_, err := s.db.ExecContext(ctx, insertEventSQL, env.ID, env.Name, env.EmittedAt.UnixMilli(), string(env.Payload))
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return fmt.Errorf("写入 chain_events 失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接。
func (s *MySQLSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
