package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/sysu-ecnc-dev/seat-manager/internal/localstore"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
)

// Enqueue 把一次变更请求追加到待同步队列。
// 入队只写本地存储，即使随后进程被杀掉，操作也会在下次启动时被重放
func (s *Syncer) Enqueue(method, path string, payload json.RawMessage) error {
	id, err := s.store.AddPendingOperation(method, path, payload)
	if err != nil {
		return err
	}

	slog.Info("操作已入队等待同步",
		slog.Int64("id", id),
		slog.String("method", method),
		slog.String("path", path),
	)
	return nil
}

// Sync 重放待同步队列并在之后做一次全量对账。
// 同一时刻只允许一轮同步，并发触发的调用直接返回。
// 重放严格按入队顺序进行：遇到网络错误就停下来，
// 跳过去重放后面的操作会破坏它们之间的因果关系
func (s *Syncer) Sync(ctx context.Context) error {
	if !s.drainMu.TryLock() {
		return nil
	}
	defer s.drainMu.Unlock()

	s.syncing.Store(true)
	defer s.syncing.Store(false)

	token, manager, err := s.store.GetSession()
	if err != nil {
		if errors.Is(err, localstore.ErrNoSession) {
			return nil
		}
		return err
	}

	ops, err := s.store.GetPendingOperations()
	if err != nil {
		return err
	}

replay:
	for _, op := range ops {
		err := s.remote.Replay(ctx, token, op)
		switch {
		case err == nil:
			if err := s.store.MarkOperationCompleted(op.ID); err != nil {
				return err
			}
			slog.Info("操作同步成功", slog.Int64("id", op.ID), slog.String("path", op.Path))

		case errors.Is(err, remote.ErrUnauthorized):
			if tdErr := s.TeardownSession(); tdErr != nil {
				return tdErr
			}
			return err

		case remote.Retryable(err):
			s.MarkOffline()
			count, incErr := s.store.IncrementOperationRetry(op.ID)
			if incErr != nil {
				return incErr
			}
			if count >= s.config.Agent.MaxRetries {
				// 重试次数用尽，标记为永久失败并提醒管理员人工处理
				if err := s.store.MarkOperationFailed(op.ID); err != nil {
					return err
				}
				slog.Error("操作重试次数已用尽，标记为失败",
					slog.Int64("id", op.ID),
					slog.String("path", op.Path),
					slog.Int("retryCount", count),
				)
				s.publishSyncFailureAlert(manager, op, count)
				continue
			}
			slog.Warn("网络错误，暂停本轮重放",
				slog.Int64("id", op.ID),
				slog.Int("retryCount", count),
			)
			break replay

		default:
			// 服务端明确拒绝了这个操作，重试不会有不同结果
			if markErr := s.store.MarkOperationFailed(op.ID); markErr != nil {
				return markErr
			}
			slog.Error("操作被远端拒绝，标记为失败",
				slog.Int64("id", op.ID),
				slog.String("path", op.Path),
				slog.String("error", err.Error()),
			)
			s.publishSyncFailureAlert(manager, op, op.RetryCount)
		}
	}

	// 即使本轮只重放了一部分也要做一次全量对账。
	// 对账时又断网的话留给下一轮，不算同步失败
	if err := s.Reconcile(ctx); err != nil && !remote.Retryable(err) {
		return err
	}
	return nil
}
