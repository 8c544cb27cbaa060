package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/utils"
)

func (h *Handler) GetMyLibrary(w http.ResponseWriter, r *http.Request) {
	manager := r.Context().Value(ManagerCtx).(*domain.Manager)

	library, err := h.repository.GetLibraryByManagerID(manager.ID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.message(w, r, http.StatusNotFound, "当前账户还没有注册自习室")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{"library": library})
}

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

	manager := r.Context().Value(ManagerCtx).(*domain.Manager)

	// 每个管理员至多注册一个自习室
	if _, err := h.repository.GetLibraryByManagerID(manager.ID); err == nil {
		h.message(w, r, http.StatusBadRequest, "当前账户已经注册过自习室")
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		h.internalServerError(w, r, err)
		return
	}

	library := &domain.Library{
		ManagerID: manager.ID,
		Name:      req.Name,
		Capacity:  req.Capacity,
		Quote:     req.Quote,
		Location:  req.Location,
	}

	if err := h.repository.CreateLibraryWithSeats(library, req.Shifts); err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.ConstraintName == "libraries_manager_id_key":
			h.message(w, r, http.StatusBadRequest, "当前账户已经注册过自习室")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.writeJSON(w, r, http.StatusCreated, map[string]any{
		"message":   "自习室注册成功",
		"libraryId": library.ID,
	})
}
