package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/projection"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
	"github.com/sysu-ecnc-dev/seat-manager/internal/syncer"
)

var (
	errShiftNotFound      = errors.New("座位上不存在这个班次")
	errShiftAlreadyBooked = errors.New("该班次已被预订")
	errShiftNotBooked     = errors.New("该班次尚未被预订")
)

func (h *Handler) GetSeatGrid(w http.ResponseWriter, r *http.Request) {
	manager := r.Context().Value(ManagerCtx).(*domain.Manager)

	library, seats, fromCache, err := h.syncer.SeatGrid(r.Context(), manager.ID)
	if err != nil {
		switch {
		case errors.Is(err, remote.ErrUnauthorized):
			h.stabilizer.Reset()
			h.message(w, r, http.StatusUnauthorized, "会话已失效，请重新登录")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	snapshot := h.stabilizer.Present(&projection.Snapshot{
		Library:   library,
		Seats:     seats,
		FromCache: fromCache,
	})

	h.writeJSON(w, r, http.StatusOK, snapshot)
}

func (h *Handler) BookSeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name" validate:"required"`
		DateOfJoin  string `json:"dateofJoin" validate:"required"`
		Contact     string `json:"contact" validate:"required"`
		Email       string `json:"email" validate:"omitempty,email"`
		ShiftName   string `json:"shiftName" validate:"required"`
		OperationID string `json:"operationId"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	library := r.Context().Value(LibraryCtx).(*domain.Library)

	seatNumber, err := strconv.Atoi(chi.URLParam(r, "seatNumber"))
	if err != nil {
		h.message(w, r, http.StatusBadRequest, "座位号无效")
		return
	}

	// 幂等令牌在网关生成，同一次预订不管重试多少次都带同一个令牌
	if req.OperationID == "" {
		req.OperationID = uuid.NewString()
	}

	student := &domain.Student{
		LibraryID:   library.ID,
		Name:        req.Name,
		DateOfJoin:  req.DateOfJoin,
		Contact:     req.Contact,
		Email:       req.Email,
		SeatNumber:  seatNumber,
		ShiftName:   req.ShiftName,
		OperationID: req.OperationID,
	}

	// 先应用乐观更新，之后无论走在线请求还是排队，界面立刻能看到结果
	seat, rollback, err := h.syncer.ApplyOptimistic(library.ID, seatNumber, func(seat *domain.Seat) error {
		idx := seat.FindShift(req.ShiftName)
		if idx < 0 {
			return errShiftNotFound
		}
		if seat.Shifts[idx].Occupant.IsBooked() {
			return errShiftAlreadyBooked
		}
		seat.Shifts[idx].Occupant = domain.OccupantOf(student)
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, syncer.ErrSeatNotCached):
			h.message(w, r, http.StatusNotFound, "座位不存在")
		case errors.Is(err, errShiftNotFound), errors.Is(err, errShiftAlreadyBooked):
			h.message(w, r, http.StatusBadRequest, err.Error())
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	payload := &remote.BookingRequest{
		Name:        req.Name,
		DateOfJoin:  req.DateOfJoin,
		Contact:     req.Contact,
		Email:       req.Email,
		ShiftName:   req.ShiftName,
		OperationID: req.OperationID,
	}

	if h.syncer.Online() {
		token := r.Context().Value(TokenCtx).(string)

		confirmed, err := h.remote.BookSeat(r.Context(), token, library.ID, seatNumber, payload)
		switch {
		case err == nil:
			if confirmed == nil {
				confirmed = student.Public()
			}
			if err := h.confirmSlot(library.ID, seatNumber, req.ShiftName, confirmed); err != nil {
				h.internalServerError(w, r, err)
				return
			}
			h.writeJSON(w, r, http.StatusOK, map[string]any{
				"message": "预订成功",
				"student": confirmed,
			})
			return
		case errors.Is(err, remote.ErrUnauthorized):
			h.teardown(w, r)
			return
		case !remote.Retryable(err):
			// 服务端明确拒绝，撤销乐观更新
			if rbErr := rollback(); rbErr != nil {
				h.internalServerError(w, r, rbErr)
				return
			}
			h.remoteError(w, r, err)
			return
		default:
			h.syncer.MarkOffline()
		}
	}

	// 离线受理：乐观更新保留，操作进入待同步队列
	data, err := json.Marshal(payload)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}
	path := fmt.Sprintf("/seats/%d/%d/book", library.ID, seatNumber)
	if err := h.syncer.Enqueue(http.MethodPost, path, data); err != nil {
		h.internalServerError(w, r, err)
		return
	}
	if err := h.store.SaveStudent(student); err != nil {
		h.logInternalServerError(r, err)
	}

	h.offlineAccepted(w, r, seat)
}

func (h *Handler) UpdateStudentInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name" validate:"required"`
		DateOfJoin string `json:"dateofJoin" validate:"required"`
		Contact    string `json:"contact" validate:"required"`
		Email      string `json:"email" validate:"omitempty,email"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	library := r.Context().Value(LibraryCtx).(*domain.Library)

	seatNumber, err := strconv.Atoi(chi.URLParam(r, "seatNumber"))
	if err != nil {
		h.message(w, r, http.StatusBadRequest, "座位号无效")
		return
	}
	shiftName := chi.URLParam(r, "shiftName")

	seat, rollback, err := h.syncer.ApplyOptimistic(library.ID, seatNumber, func(seat *domain.Seat) error {
		idx := seat.FindShift(shiftName)
		if idx < 0 {
			return errShiftNotFound
		}
		slot := &seat.Shifts[idx]
		if !slot.Occupant.IsBooked() {
			return errShiftNotBooked
		}

		// 保留学生 ID 和幂等令牌，只改资料字段
		updated := &domain.Student{
			LibraryID:  library.ID,
			Name:       req.Name,
			DateOfJoin: req.DateOfJoin,
			Contact:    req.Contact,
			Email:      req.Email,
			SeatNumber: seatNumber,
			ShiftName:  shiftName,
		}
		if current, ok := slot.Occupant.Student(); ok {
			updated.ID = current.ID
			updated.OperationID = current.OperationID
		} else if id, ok := slot.Occupant.StudentID(); ok {
			updated.ID = id
		}
		slot.Occupant = domain.OccupantOf(updated)
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, syncer.ErrSeatNotCached):
			h.message(w, r, http.StatusNotFound, "座位不存在")
		case errors.Is(err, errShiftNotFound):
			h.message(w, r, http.StatusNotFound, err.Error())
		case errors.Is(err, errShiftNotBooked):
			h.message(w, r, http.StatusBadRequest, err.Error())
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	payload := &remote.BookingRequest{
		Name:       req.Name,
		DateOfJoin: req.DateOfJoin,
		Contact:    req.Contact,
		Email:      req.Email,
	}

	if h.syncer.Online() {
		token := r.Context().Value(TokenCtx).(string)

		confirmed, err := h.remote.UpdateStudentInfo(r.Context(), token, library.ID, seatNumber, shiftName, payload)
		switch {
		case err == nil:
			if confirmed != nil {
				if err := h.confirmSlot(library.ID, seatNumber, shiftName, confirmed); err != nil {
					h.internalServerError(w, r, err)
					return
				}
			}
			h.writeJSON(w, r, http.StatusOK, map[string]any{
				"message": "预订人信息已更新",
				"student": confirmed,
			})
			return
		case errors.Is(err, remote.ErrUnauthorized):
			h.teardown(w, r)
			return
		case !remote.Retryable(err):
			if rbErr := rollback(); rbErr != nil {
				h.internalServerError(w, r, rbErr)
				return
			}
			h.remoteError(w, r, err)
			return
		default:
			h.syncer.MarkOffline()
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}
	path := fmt.Sprintf("/seats/%d/%d/book/%s", library.ID, seatNumber, shiftName)
	if err := h.syncer.Enqueue(http.MethodPut, path, data); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.offlineAccepted(w, r, seat)
}

func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	library := r.Context().Value(LibraryCtx).(*domain.Library)

	seatNumber, err := strconv.Atoi(chi.URLParam(r, "seatNumber"))
	if err != nil {
		h.message(w, r, http.StatusBadRequest, "座位号无效")
		return
	}
	shiftName := chi.URLParam(r, "shiftName")

	seat, rollback, err := h.syncer.ApplyOptimistic(library.ID, seatNumber, func(seat *domain.Seat) error {
		idx := seat.FindShift(shiftName)
		if idx < 0 {
			return errShiftNotFound
		}
		if !seat.Shifts[idx].Occupant.IsBooked() {
			return errShiftNotBooked
		}
		seat.Shifts[idx].Occupant = domain.NoOccupant()
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, syncer.ErrSeatNotCached):
			h.message(w, r, http.StatusNotFound, "座位不存在")
		case errors.Is(err, errShiftNotFound):
			h.message(w, r, http.StatusNotFound, err.Error())
		case errors.Is(err, errShiftNotBooked):
			h.message(w, r, http.StatusBadRequest, err.Error())
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	if err := h.store.DeleteStudentBySlot(library.ID, seatNumber, shiftName); err != nil {
		h.logInternalServerError(r, err)
	}

	if h.syncer.Online() {
		token := r.Context().Value(TokenCtx).(string)

		err := h.remote.DeleteBooking(r.Context(), token, library.ID, seatNumber, shiftName)
		switch {
		case err == nil:
			h.writeJSON(w, r, http.StatusOK, map[string]any{"message": "预订已删除"})
			return
		case errors.Is(err, remote.ErrUnauthorized):
			h.teardown(w, r)
			return
		case !remote.Retryable(err):
			if rbErr := rollback(); rbErr != nil {
				h.internalServerError(w, r, rbErr)
				return
			}
			h.remoteError(w, r, err)
			return
		default:
			h.syncer.MarkOffline()
		}
	}

	path := fmt.Sprintf("/seats/%d/%d/book/%s", library.ID, seatNumber, shiftName)
	if err := h.syncer.Enqueue(http.MethodDelete, path, nil); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.offlineAccepted(w, r, seat)
}

// confirmSlot 用服务端确认的学生记录替换本地的乐观占用，
// 确认过的记录不再携带幂等令牌，后续对账不会把它当成未同步的预订
func (h *Handler) confirmSlot(libraryID int64, seatNumber int, shiftName string, confirmed *domain.Student) error {
	seat, err := h.store.GetSeat(libraryID, seatNumber)
	if err != nil {
		return err
	}
	idx := seat.FindShift(shiftName)
	if idx < 0 {
		return errShiftNotFound
	}
	seat.Shifts[idx].Occupant = domain.OccupantOf(confirmed)
	return h.store.SaveSeat(seat)
}

// offlineAccepted 返回 202，告知界面操作已被本地受理、等待同步
func (h *Handler) offlineAccepted(w http.ResponseWriter, r *http.Request, seat *domain.Seat) {
	h.writeJSON(w, r, http.StatusAccepted, map[string]any{
		"offline": true,
		"message": "当前处于离线状态，操作已记录，网络恢复后自动同步",
		"seat":    seat,
	})
}
