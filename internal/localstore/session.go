package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

var ErrNoSession = errors.New("本地没有已保存的会话")

// SaveSession 持久化登录凭证，网关重启后可以直接恢复会话
func (s *Store) SaveSession(token string, manager *domain.Manager) error {
	data, err := json.Marshal(manager)
	if err != nil {
		return err
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO session (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`
	if _, err := tx.ExecContext(ctx, query, "token", token); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, "manager", string(data)); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) GetSession() (string, *domain.Manager, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	var token string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session WHERE key = 'token'`).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrNoSession
		}
		return "", nil, err
	}

	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM session WHERE key = 'manager'`).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrNoSession
		}
		return "", nil, err
	}

	manager := &domain.Manager{}
	if err := json.Unmarshal([]byte(raw), manager); err != nil {
		return "", nil, err
	}

	return token, manager, nil
}
