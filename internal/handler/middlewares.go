package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
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

func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 从 Authorization 头中获取 token
		authHeader := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			h.message(w, r, http.StatusUnauthorized, "用户未登录")
			return
		}

		// 验证 token
		claims := &AuthClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(h.config.JWT.Secret), nil
		})
		if err != nil {
			h.message(w, r, http.StatusUnauthorized, "无效的令牌")
			return
		}

		sub, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			h.message(w, r, http.StatusUnauthorized, "无效的令牌")
			return
		}

		manager, err := h.repository.GetManagerByID(sub)
		if err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows):
				h.message(w, r, http.StatusUnauthorized, "账户不存在")
			default:
				h.internalServerError(w, r, err)
			}
			return
		}

		// 将管理员信息附在 context 中
		ctx := r.Context()
		ctx = context.WithValue(ctx, SubCtxKey, sub)
		ctx = context.WithValue(ctx, ManagerCtx, manager)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// libraryAccess 校验路径中的自习室是否属于当前管理员，不属于时返回 403
func (h *Handler) libraryAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		libraryIDParam := chi.URLParam(r, "libraryId")
		libraryID, err := strconv.ParseInt(libraryIDParam, 10, 64)
		if err != nil {
			h.message(w, r, http.StatusBadRequest, "自习室ID无效")
			return
		}

		library, err := h.repository.GetLibraryByID(libraryID)
		if err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows):
				h.message(w, r, http.StatusNotFound, "自习室不存在")
			default:
				h.internalServerError(w, r, err)
			}
			return
		}

		manager := r.Context().Value(ManagerCtx).(*domain.Manager)
		if library.ManagerID != manager.ID {
			h.message(w, r, http.StatusForbidden, "这个自习室不属于当前账户")
			return
		}

		ctx := context.WithValue(r.Context(), LibraryCtx, library)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
