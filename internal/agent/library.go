package agent

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
	"github.com/sysu-ecnc-dev/seat-manager/internal/utils"
)

func (h *Handler) GetMyLibrary(w http.ResponseWriter, r *http.Request) {
	manager := r.Context().Value(ManagerCtx).(*domain.Manager)

	library, fromCache, err := h.syncer.Library(r.Context(), manager.ID)
	if err != nil {
		switch {
		case errors.Is(err, remote.ErrUnauthorized):
			h.stabilizer.Reset()
			h.message(w, r, http.StatusUnauthorized, "会话已失效，请重新登录")
		case errors.Is(err, sql.ErrNoRows):
			h.message(w, r, http.StatusNotFound, "当前账户还没有注册自习室")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"library":   library,
		"fromCache": fromCache,
	})
}

// RegisterLibrary 注册自习室必须在线完成：座位和班次的结构由服务端生成，
// 没有服务端分配的 ID，后续的预订操作无从指向
func (h *Handler) RegisterLibrary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string                 `json:"name" validate:"required"`
		Capacity int                    `json:"capacity" validate:"required,gt=0"`
		Quote    string                 `json:"quote"`
		Location string                 `json:"location"`
		Shifts   []domain.ShiftTemplate `json:"shifts" validate:"required,min=1,dive"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := utils.ValidateShiftTemplates(req.Shifts); err != nil {
		h.badRequest(w, r, err)
		return
	}

	if !h.syncer.Online() {
		h.message(w, r, http.StatusServiceUnavailable, "离线状态下无法注册自习室")
		return
	}

	token := r.Context().Value(TokenCtx).(string)

	libraryID, err := h.remote.RegisterLibrary(r.Context(), token, &remote.RegisterLibraryRequest{
		Name:     req.Name,
		Capacity: req.Capacity,
		Quote:    req.Quote,
		Location: req.Location,
		Shifts:   req.Shifts,
	})
	if err != nil {
		switch {
		case remote.Retryable(err):
			h.syncer.MarkOffline()
			h.message(w, r, http.StatusServiceUnavailable, "离线状态下无法注册自习室")
		case errors.Is(err, remote.ErrUnauthorized):
			h.teardown(w, r)
		default:
			h.remoteError(w, r, err)
		}
		return
	}

	// 立刻拉一次全量数据，让新自习室的座位进入本地缓存
	if err := h.syncer.Reconcile(r.Context()); err != nil {
		h.logInternalServerError(r, err)
	}

	h.writeJSON(w, r, http.StatusCreated, map[string]any{
		"message":   "自习室注册成功",
		"libraryId": libraryID,
	})
}

// teardown 清理失效会话并返回 401
func (h *Handler) teardown(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.TeardownSession(); err != nil {
		h.internalServerError(w, r, err)
		return
	}
	h.stabilizer.Reset()
	h.message(w, r, http.StatusUnauthorized, "会话已失效，请重新登录")
}
