package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/repository"
)

func (h *Handler) GetSeatGrid(w http.ResponseWriter, r *http.Request) {
	library := r.Context().Value(LibraryCtx).(*domain.Library)

	seats, err := h.repository.GetSeatsByLibraryID(library.ID)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"library": library,
		"seats":   seats,
	})
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

	// 幂等保护：同一个幂等令牌只会产生一条预订，
	// 重放的请求直接返回已有的处理结果，避免断网重试造成重复预订
	if req.OperationID != "" {
		processed, err := h.operationProcessed(r.Context(), req.OperationID)
		if err != nil {
			h.internalServerError(w, r, err)
			return
		}
		if processed {
			existing, err := h.repository.GetStudentByOperationID(req.OperationID)
			switch {
			case err == nil:
				// 重放请求返回已有的预订结果，和首次预订的响应形态一致
				h.writeJSON(w, r, http.StatusOK, map[string]any{
					"message":   "该操作此前已处理",
					"studentId": existing.ID,
					"student":   existing.Public(),
				})
				return
			case !errors.Is(err, sql.ErrNoRows):
				h.internalServerError(w, r, err)
				return
			}
			// redis 里残留的令牌在库里找不到记录，按新预订处理
		}
	}

	student := &domain.Student{
		Name:        req.Name,
		DateOfJoin:  req.DateOfJoin,
		Contact:     req.Contact,
		Email:       req.Email,
		OperationID: req.OperationID,
	}

	if err := h.repository.CreateBooking(library.ID, seatNumber, req.ShiftName, student); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.message(w, r, http.StatusNotFound, "座位不存在")
		case errors.Is(err, repository.ErrShiftNotFound):
			h.message(w, r, http.StatusBadRequest, "座位上不存在这个班次")
		case errors.Is(err, repository.ErrShiftAlreadyBooked):
			h.message(w, r, http.StatusBadRequest, "该班次已被预订")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	// 记录幂等令牌的快路径缓存，失败不影响预订结果
	if req.OperationID != "" {
		h.rememberOperation(r.Context(), req.OperationID)
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"message":   "预订成功",
		"studentId": student.ID,
		"student":   student.Public(),
	})
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

	student := &domain.Student{
		Name:       req.Name,
		DateOfJoin: req.DateOfJoin,
		Contact:    req.Contact,
		Email:      req.Email,
	}

	if err := h.repository.UpdateBookedStudent(library.ID, seatNumber, shiftName, student); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.message(w, r, http.StatusNotFound, "座位不存在")
		case errors.Is(err, repository.ErrShiftNotFound):
			h.message(w, r, http.StatusNotFound, "座位上不存在这个班次")
		case errors.Is(err, repository.ErrShiftNotBooked):
			h.message(w, r, http.StatusBadRequest, "该班次尚未被预订")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"message": "预订人信息已更新",
		"student": student.Public(),
	})
}

func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	library := r.Context().Value(LibraryCtx).(*domain.Library)

	seatNumber, err := strconv.Atoi(chi.URLParam(r, "seatNumber"))
	if err != nil {
		h.message(w, r, http.StatusBadRequest, "座位号无效")
		return
	}
	shiftName := chi.URLParam(r, "shiftName")

	if err := h.repository.DeleteBooking(library.ID, seatNumber, shiftName); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.message(w, r, http.StatusNotFound, "座位不存在")
		case errors.Is(err, repository.ErrShiftNotFound):
			h.message(w, r, http.StatusNotFound, "座位上不存在这个班次")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{"message": "预订已删除"})
}

// operationProcessed 先查 redis 快路径，再以数据库为准判断幂等令牌是否已处理
func (h *Handler) operationProcessed(ctx context.Context, operationID string) (bool, error) {
	redisCtx, cancel := context.WithTimeout(ctx, time.Duration(h.config.Redis.ConnectTimeout)*time.Second)
	defer cancel()

	if h.redisClient != nil {
		exists, err := h.redisClient.Exists(redisCtx, fmt.Sprintf("op_%s", operationID)).Result()
		if err == nil && exists > 0 {
			return true, nil
		}
		// redis 不可用时退回数据库判断
	}

	if _, err := h.repository.GetStudentByOperationID(operationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (h *Handler) rememberOperation(ctx context.Context, operationID string) {
	if h.redisClient == nil {
		return
	}

	redisCtx, cancel := context.WithTimeout(ctx, time.Duration(h.config.Redis.ConnectTimeout)*time.Second)
	defer cancel()

	expiration := time.Duration(h.config.Redis.OperationExpiration) * time.Second
	if err := h.redisClient.Set(redisCtx, fmt.Sprintf("op_%s", operationID), 1, expiration).Err(); err != nil {
		// 快路径缓存失败只记日志，数据库的唯一约束仍然兜底
		slog.Warn("无法缓存幂等令牌", "operationId", operationID, "error", err)
	}
}
