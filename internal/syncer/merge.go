package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/localstore"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
)

// Reconcile 拉取服务端的座位数据并与本地缓存合并。
// 合并永远不会丢弃尚未同步的本地变更，详见 MergeSeats
func (s *Syncer) Reconcile(ctx context.Context) error {
	token, manager, err := s.store.GetSession()
	if err != nil {
		if errors.Is(err, localstore.ErrNoSession) {
			return nil
		}
		return err
	}

	library, err := s.store.GetLibrary(manager.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// 本地还没有自习室缓存，先问服务端
			library, err = s.remote.GetMyLibrary(ctx, token)
			if err != nil {
				if remote.Retryable(err) {
					s.MarkOffline()
				}
				return err
			}
			if err := s.store.SaveLibrary(library); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	grid, err := s.remote.GetSeatGrid(ctx, token, library.ID)
	if err != nil {
		switch {
		case errors.Is(err, remote.ErrUnauthorized):
			if tdErr := s.TeardownSession(); tdErr != nil {
				return tdErr
			}
		case remote.Retryable(err):
			s.MarkOffline()
		}
		return err
	}
	s.markOnline()

	local, err := s.store.GetSeats(library.ID)
	if err != nil {
		return err
	}
	pending, err := s.store.GetPendingOperations()
	if err != nil {
		return err
	}

	merged, anomalies := MergeSeats(grid.Seats, local, pending)
	for _, a := range anomalies {
		slog.Warn("合并异常", slog.String("detail", a))
	}

	if err := s.store.ReplaceSeats(library.ID, merged); err != nil {
		return err
	}

	grid.Library.BookedSeatsCount = domain.CountFullyBookedSeats(merged)
	return s.store.SaveLibrary(grid.Library)
}

type slotKey struct {
	seatNumber int
	shiftName  string
}

// MergeSeats 以服务端数据为底，把尚未同步的本地变更保留下来：
//   - 幂等令牌还挂在待同步队列里的本地预订是离线期间的乐观写入，
//     服务端还不知道它，对应班次在服务端仍为空时必须保留，
//     否则刷新会让已预订的座位"消失"；令牌已不在队列里的预订视为已同步，
//     一律以服务端为准
//   - 队列里还挂着删除或修改操作的班次整体以本地形态为准，
//     直接采用服务端数据会让已删除的预订复活，
//     也会丢掉删除后重新预订、预订后又修改这类复合序列的最新状态
//   - 本地存在但服务端响应里没有的座位原样保留，不能悄悄丢掉
//
// 服务端与本地未同步的乐观预订冲突时以服务端为准；
// 冲突和保留下来的异常座位都会以描述文本返回，由调用方记录
func MergeSeats(server, local []*domain.Seat, pending []*domain.PendingOperation) ([]*domain.Seat, []string) {
	localBySeat := make(map[int]*domain.Seat, len(local))
	for _, seat := range local {
		localBySeat[seat.SeatNumber] = seat
	}
	overrides := pendingSlotOverrides(pending)
	pendingOps := pendingOperationIDs(pending)

	merged := make([]*domain.Seat, 0, len(server))
	anomalies := make([]string, 0)
	serverSeen := make(map[int]bool, len(server))

	for _, serverSeat := range server {
		serverSeen[serverSeat.SeatNumber] = true
		seat := serverSeat.Clone()
		localSeat := localBySeat[seat.SeatNumber]

		for i := range seat.Shifts {
			slot := &seat.Shifts[i]
			key := slotKey{seatNumber: seat.SeatNumber, shiftName: slot.Name}

			var localSlot *domain.ShiftSlot
			if localSeat != nil {
				if idx := localSeat.FindShift(slot.Name); idx >= 0 {
					localSlot = &localSeat.Shifts[idx]
				}
			}

			if method, ok := overrides[key]; ok {
				// 队列里还挂着针对这个班次的删除或修改时，本地形态就是
				// 用户的最新意图：删除后重新预订、预订后修改资料，
				// 后续状态都已经反映在本地缓存里，必须整体采用
				if localSlot != nil {
					slot.Occupant = localSlot.Occupant
				} else if method == http.MethodDelete {
					slot.Occupant = domain.NoOccupant()
				}
				continue
			}

			operationID := ""
			if localSlot != nil {
				operationID = localSlot.Occupant.OperationID()
			}
			if operationID == "" || !pendingOps[operationID] {
				continue
			}

			// 本地有一条尚未同步的乐观预订
			if !slot.Occupant.IsBooked() {
				slot.Occupant = localSlot.Occupant
				continue
			}

			anomalies = append(anomalies, fmt.Sprintf(
				"座位 %d 班次 %s：本地乐观预订与服务端记录冲突，以服务端为准",
				seat.SeatNumber, slot.Name,
			))
		}

		merged = append(merged, seat)
	}

	// 服务端响应里缺失的本地座位原样保留
	for _, localSeat := range local {
		if serverSeen[localSeat.SeatNumber] {
			continue
		}
		merged = append(merged, localSeat.Clone())
		anomalies = append(anomalies, fmt.Sprintf(
			"座位 %d 在服务端响应中缺失，保留本地数据", localSeat.SeatNumber,
		))
	}

	return merged, anomalies
}

// pendingSlotOverrides 找出队列中仍在等待重放的删除和修改操作所指向的班次。
// 预订操作不在这里处理，它们通过幂等令牌在占用者上留下了标记
func pendingSlotOverrides(pending []*domain.PendingOperation) map[slotKey]string {
	overrides := make(map[slotKey]string)
	for _, op := range pending {
		if op.Method != http.MethodPut && op.Method != http.MethodDelete {
			continue
		}
		// 路径形如 /seats/{libraryId}/{seatNumber}/book/{shiftName}
		parts := strings.Split(strings.Trim(op.Path, "/"), "/")
		if len(parts) != 5 || parts[0] != "seats" || parts[3] != "book" {
			continue
		}
		seatNumber, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		overrides[slotKey{seatNumber: seatNumber, shiftName: parts[4]}] = op.Method
	}
	return overrides
}

// pendingOperationIDs 收集队列中预订操作携带的幂等令牌，
// 只有令牌还在队列里的乐观预订才算 "尚未同步"
func pendingOperationIDs(pending []*domain.PendingOperation) map[string]bool {
	ids := make(map[string]bool)
	for _, op := range pending {
		if op.Method != http.MethodPost || len(op.Payload) == 0 {
			continue
		}
		var payload struct {
			OperationID string `json:"operationId"`
		}
		if err := json.Unmarshal(op.Payload, &payload); err != nil || payload.OperationID == "" {
			continue
		}
		ids[payload.OperationID] = true
	}
	return ids
}
