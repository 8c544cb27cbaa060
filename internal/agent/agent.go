// Package agent 实现跑在管理员本机的离线网关。
// 它对外提供和后端一致的接口，在线时代理请求并顺手刷新本地缓存，
// 离线时先应用乐观更新、把变更排进待同步队列，等网络恢复后按序重放
package agent

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/sysu-ecnc-dev/seat-manager/internal/config"
	"github.com/sysu-ecnc-dev/seat-manager/internal/localstore"
	"github.com/sysu-ecnc-dev/seat-manager/internal/projection"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
	"github.com/sysu-ecnc-dev/seat-manager/internal/syncer"
)

type Handler struct {
	validate   *validator.Validate
	config     *config.Config
	store      *localstore.Store
	remote     *remote.Client
	syncer     *syncer.Syncer
	stabilizer *projection.Stabilizer
	translator ut.Translator

	Mux *chi.Mux
}

func NewHandler(cfg *config.Config, store *localstore.Store, client *remote.Client, sync *syncer.Syncer) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:   validate,
		config:     cfg,
		store:      store,
		remote:     client,
		syncer:     sync,
		stabilizer: projection.NewStabilizer(time.Duration(cfg.Agent.SnapshotGrace) * time.Second),
		translator: trans,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	h.Mux.Get("/healthz", h.Healthz)

	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	// 以下接口需要本地保存的会话
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.session)

		r.Get("/status", h.GetStatus)
		r.Post("/sync", h.TriggerSync)

		r.Route("/library", func(r chi.Router) {
			r.Get("/me", h.GetMyLibrary)
			r.Post("/registerlibrary", h.RegisterLibrary)
		})

		r.Route("/seats/{libraryId}", func(r chi.Router) {
			r.Use(h.libraryAccess)
			r.Get("/", h.GetSeatGrid)
			r.Route("/{seatNumber}", func(r chi.Router) {
				r.Post("/book", h.BookSeat)
				r.Put("/book/{shiftName}", h.UpdateStudentInfo)
				r.Delete("/book/{shiftName}", h.DeleteBooking)
			})
		})
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus 返回网关的同步状态，界面用它渲染在线标识和角标
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncer.Status()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, status)
}

// TriggerSync 手动触发一轮同步，已有同步在进行时直接返回当前状态
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.Sync(r.Context()); err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			h.stabilizer.Reset()
			h.message(w, r, http.StatusUnauthorized, "会话已失效，请重新登录")
			return
		}
		h.internalServerError(w, r, err)
		return
	}

	status, err := h.syncer.Status()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, status)
}
