// Package localstore 是客户端的持久化缓存：自习室、座位、预订人的本地副本，
// 外加一条待同步操作队列和当前会话。它只是缓存，权威状态始终在服务端，
// 唯一的例外是还停留在待同步队列里的预订
package localstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/config"

	_ "modernc.org/sqlite"
)

type Store struct {
	cfg *config.Config
	db  *sql.DB
}

func Open(cfg *config.Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Agent.StorePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	// SQLite 的写操作串行执行，限制单连接可以避免 database is locked
	db.SetMaxOpenConns(1)

	s := &Store{cfg: cfg, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS libraries (
			remote_id INTEGER PRIMARY KEY,
			manager_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			capacity INTEGER NOT NULL,
			quote TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			booked_seats_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT '',
			last_synced TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS seats (
			library_id INTEGER NOT NULL,
			seat_number INTEGER NOT NULL,
			remote_id INTEGER NOT NULL DEFAULT 0,
			shifts TEXT NOT NULL DEFAULT '[]',
			last_synced TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (library_id, seat_number)
		)`,
		`CREATE TABLE IF NOT EXISTS students (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote_id INTEGER NOT NULL DEFAULT 0,
			library_id INTEGER NOT NULL,
			seat_number INTEGER NOT NULL,
			shift_name TEXT NOT NULL,
			name TEXT NOT NULL,
			date_of_join TEXT NOT NULL,
			contact TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			operation_id TEXT NOT NULL DEFAULT '',
			last_synced TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS pending_operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE TABLE IF NOT EXISTS session (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// ClearAll 清空所有本地数据，登出或凭证过期时的会话拆除走这里
func (s *Store) ClearAll() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, table := range []string{"libraries", "seats", "students", "pending_operations", "session"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(s.cfg.Database.QueryTimeout)*time.Second)
}

func (s *Store) txCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(s.cfg.Database.TransactionTimeout)*time.Second)
}
