package syncer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
)

// FetchWithFallback 是读路径的统一入口：在线时先和服务端对账再读本地缓存，
// 网络失败就退回纯本地读取并把状态标记为离线。
// 返回值 fromCache 表示这次读取没有经过服务端
func (s *Syncer) FetchWithFallback(ctx context.Context) (fromCache bool, err error) {
	if !s.Online() {
		return true, nil
	}

	if err := s.Reconcile(ctx); err != nil {
		if remote.Retryable(err) {
			slog.Warn("对账失败，使用本地缓存", slog.String("error", err.Error()))
			return true, nil
		}
		return false, err
	}

	return false, nil
}

// SeatGrid 返回某个自习室的完整座位数据，离线时来自本地缓存
func (s *Syncer) SeatGrid(ctx context.Context, managerID int64) (*domain.Library, []*domain.Seat, bool, error) {
	fromCache, err := s.FetchWithFallback(ctx)
	if err != nil {
		return nil, nil, false, err
	}

	library, err := s.store.GetLibrary(managerID)
	if err != nil {
		return nil, nil, fromCache, err
	}
	seats, err := s.store.GetSeats(library.ID)
	if err != nil {
		return nil, nil, fromCache, err
	}

	return library, seats, fromCache, nil
}

// Library 返回管理员的自习室及汇总数据，离线时来自本地缓存
func (s *Syncer) Library(ctx context.Context, managerID int64) (*domain.Library, bool, error) {
	fromCache, err := s.FetchWithFallback(ctx)
	if err != nil {
		return nil, false, err
	}

	library, err := s.store.GetLibrary(managerID)
	if err != nil {
		return nil, fromCache, err
	}

	return library, fromCache, nil
}

var ErrSeatNotCached = errors.New("本地缓存中没有这个座位")

// ApplyOptimistic 对本地缓存中的座位应用一次乐观更新，
// 返回的 rollback 会把座位恢复到更新前的快照。
// 在线请求被服务端明确拒绝时调用 rollback，排队等待重放时则不调用
func (s *Syncer) ApplyOptimistic(libraryID int64, seatNumber int, patch func(*domain.Seat) error) (*domain.Seat, func() error, error) {
	seat, err := s.store.GetSeat(libraryID, seatNumber)
	if err != nil {
		return nil, nil, ErrSeatNotCached
	}

	snapshot := seat.Clone()
	if err := patch(seat); err != nil {
		return nil, nil, err
	}
	if err := s.store.SaveSeat(seat); err != nil {
		return nil, nil, err
	}

	rollback := func() error {
		return s.store.SaveSeat(snapshot)
	}
	return seat, rollback, nil
}
