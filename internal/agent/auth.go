package agent

import (
	"errors"
	"net/http"

	"github.com/sysu-ecnc-dev/seat-manager/internal/localstore"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
)

// Signup 直接代理给后端，注册必须在线完成
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name" validate:"required"`
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	resp, err := h.remote.Signup(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if remote.Retryable(err) {
			h.syncer.MarkOffline()
			h.message(w, r, http.StatusServiceUnavailable, "离线状态下无法注册账户")
			return
		}
		h.remoteError(w, r, err)
		return
	}

	if err := h.saveSession(resp); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

// Login 登录必须在线完成，成功后把会话落盘，之后的请求离线也能继续
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	resp, err := h.remote.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if remote.Retryable(err) {
			h.syncer.MarkOffline()
			h.message(w, r, http.StatusServiceUnavailable, "离线状态下无法登录")
			return
		}
		h.remoteError(w, r, err)
		return
	}

	if err := h.saveSession(resp); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.TeardownSession(); err != nil {
		h.internalServerError(w, r, err)
		return
	}
	h.stabilizer.Reset()

	h.message(w, r, http.StatusOK, "已退出登录")
}

// saveSession 持久化新会话。换了账户登录时旧账户的缓存和队列全部作废，
// 同一账户重新登录只刷新令牌，离线期间攒下的待同步操作不受影响
func (h *Handler) saveSession(resp *remote.AuthResponse) error {
	_, current, err := h.store.GetSession()
	switch {
	case err == nil && current.ID != resp.Manager.ID:
		if err := h.store.ClearAll(); err != nil {
			return err
		}
		h.stabilizer.Reset()
	case err != nil && !errors.Is(err, localstore.ErrNoSession):
		return err
	}

	return h.store.SaveSession(resp.Token, resp.Manager)
}
