package localstore

import (
	"encoding/json"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// AddPendingOperation 把一次变更请求追加到待同步队列，这是一次纯本地写入，
// 永远不会碰网络
func (s *Store) AddPendingOperation(method, path string, payload json.RawMessage) (int64, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `
		INSERT INTO pending_operations (method, path, payload, created_at)
		VALUES (?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query, method, path, string(payload), time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

// GetPendingOperations 返回所有待重放的操作，严格按入队顺序
func (s *Store) GetPendingOperations() ([]*domain.PendingOperation, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `
		SELECT id, method, path, payload, created_at, retry_count, status
		FROM pending_operations
		WHERE status = 'pending'
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := make([]*domain.PendingOperation, 0)
	for rows.Next() {
		op := &domain.PendingOperation{}
		var payload, createdAt string
		if err := rows.Scan(&op.ID, &op.Method, &op.Path, &payload, &createdAt, &op.RetryCount, &op.Status); err != nil {
			return nil, err
		}
		op.Payload = json.RawMessage(payload)
		op.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ops, nil
}

func (s *Store) MarkOperationCompleted(id int64) error {
	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx, `UPDATE pending_operations SET status = 'completed' WHERE id = ?`, id)
	return err
}

// MarkOperationFailed 把操作标记为永久失败，之后的 drain 不会再碰它
func (s *Store) MarkOperationFailed(id int64) error {
	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx, `UPDATE pending_operations SET status = 'failed' WHERE id = ?`, id)
	return err
}

// IncrementOperationRetry 累加重试次数并返回新值，状态仍保持 pending
func (s *Store) IncrementOperationRetry(id int64) (int, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	var count int
	query := `
		UPDATE pending_operations SET retry_count = retry_count + 1
		WHERE id = ?
		RETURNING retry_count
	`
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (s *Store) CountOperations(status domain.OperationStatus) (int, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations WHERE status = ?`, string(status)).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}
