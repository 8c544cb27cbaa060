package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
)

func statusError(err error) (*remote.StatusError, bool) {
	statusErr := &remote.StatusError{}
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}

func (h *Handler) logInternalServerError(r *http.Request, err error) {
	slog.Error("网关内部错误", "method", r.Method, "path", r.URL.Path, "error", err)
}

func (h *Handler) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logInternalServerError(r, err)
	}
}

func (h *Handler) message(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.writeJSON(w, r, status, map[string]string{"message": msg})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		h.message(w, r, http.StatusBadRequest, err.Error())
		return
	}

	h.message(w, r, http.StatusBadRequest, validationErrors[0].Translate(h.translator))
}

func (h *Handler) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	h.logInternalServerError(r, err)
	h.message(w, r, http.StatusInternalServerError, "网关内部错误")
}

// remoteError 把远端调用的失败翻译成对界面的响应。
// 网络错误不会走到这里，调用方在那之前就已经转入离线流程
func (h *Handler) remoteError(w http.ResponseWriter, r *http.Request, err error) {
	if statusErr, ok := statusError(err); ok {
		h.message(w, r, statusErr.Code, statusErr.Message)
		return
	}
	h.internalServerError(w, r, err)
}
