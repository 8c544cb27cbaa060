package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/localstore"
)

type ContextKey string

var (
	ManagerCtx ContextKey = "manager"
	TokenCtx   ContextKey = "token"
	LibraryCtx ContextKey = "library"
)

type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

func (rw *ResponseWriter) WriteHeader(statusCode int) {
	rw.StatusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (h *Handler) logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &ResponseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		duration := time.Since(start)
		slog.Info("已处理请求", "status", rw.StatusCode, "ip", r.RemoteAddr, "method", r.Method, "path", r.URL.Path, "duration", duration)
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.internalServerError(w, r, fmt.Errorf("panic: %v", err))
				stackTrace := string(debug.Stack())
				fmt.Print(stackTrace) // 这里如果用 slog 的话会很乱
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// session 从本地存储恢复登录会话。
// 令牌的签名由后端校验，这里只在本地检查有没有过期，
// 过期的会话连同它的缓存一起清掉，要求重新登录
func (h *Handler) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, manager, err := h.store.GetSession()
		if err != nil {
			switch {
			case errors.Is(err, localstore.ErrNoSession):
				h.message(w, r, http.StatusUnauthorized, "用户未登录")
			default:
				h.internalServerError(w, r, err)
			}
			return
		}

		claims := &jwt.RegisteredClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			h.message(w, r, http.StatusUnauthorized, "无效的令牌")
			return
		}
		if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
			if err := h.syncer.TeardownSession(); err != nil {
				h.internalServerError(w, r, err)
				return
			}
			h.stabilizer.Reset()
			h.message(w, r, http.StatusUnauthorized, "会话已过期，请重新登录")
			return
		}

		ctx := r.Context()
		ctx = context.WithValue(ctx, TokenCtx, token)
		ctx = context.WithValue(ctx, ManagerCtx, manager)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// libraryAccess 校验路径中的自习室，依据是本地缓存而不是服务端，
// 这样离线时的访问控制行为和在线时一致
func (h *Handler) libraryAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		libraryIDParam := chi.URLParam(r, "libraryId")
		libraryID, err := strconv.ParseInt(libraryIDParam, 10, 64)
		if err != nil {
			h.message(w, r, http.StatusBadRequest, "自习室ID无效")
			return
		}

		manager := r.Context().Value(ManagerCtx).(*domain.Manager)

		library, err := h.store.GetLibrary(manager.ID)
		if errors.Is(err, sql.ErrNoRows) {
			// 缓存还是空的，先做一次对账再查
			if rcErr := h.syncer.Reconcile(r.Context()); rcErr != nil {
				h.logInternalServerError(r, rcErr)
			}
			library, err = h.store.GetLibrary(manager.ID)
		}
		if err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows):
				h.message(w, r, http.StatusNotFound, "自习室不存在")
			default:
				h.internalServerError(w, r, err)
			}
			return
		}

		if library.ID != libraryID {
			h.message(w, r, http.StatusForbidden, "这个自习室不属于当前账户")
			return
		}

		ctx := context.WithValue(r.Context(), LibraryCtx, library)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
