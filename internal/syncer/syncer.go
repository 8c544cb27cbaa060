package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/seat-manager/internal/config"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/localstore"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
)

// Syncer 负责网关的全部同步工作：待同步队列的重放、
// 本地缓存与服务端数据的合并以及连通性的探测与标记。
// 同一时刻最多只有一轮同步在进行，重复触发会被合并
type Syncer struct {
	config       *config.Config
	store        *localstore.Store
	remote       *remote.Client
	alertChannel *amqp.Channel // 为 nil 时不发送同步失败提醒

	online  atomic.Bool
	syncing atomic.Bool
	drainMu sync.Mutex
}

func NewSyncer(cfg *config.Config, store *localstore.Store, client *remote.Client, alertChannel *amqp.Channel) *Syncer {
	s := &Syncer{
		config:       cfg,
		store:        store,
		remote:       client,
		alertChannel: alertChannel,
	}
	// 启动时先按在线处理，第一次请求或探测会立刻修正
	s.online.Store(true)
	return s
}

type Status struct {
	Online  bool `json:"online"`
	Syncing bool `json:"syncing"`
	Pending int  `json:"pending"`
	Failed  int  `json:"failed"`
}

func (s *Syncer) Online() bool {
	return s.online.Load()
}

// MarkOffline 在任何一次请求碰到网络错误时调用，读路径据此直接走本地缓存
func (s *Syncer) MarkOffline() {
	if s.online.Swap(false) {
		slog.Warn("远端服务不可达，切换到离线模式")
	}
}

func (s *Syncer) markOnline() bool {
	return !s.online.Swap(true)
}

func (s *Syncer) Status() (*Status, error) {
	pending, err := s.store.CountOperations(domain.OperationPending)
	if err != nil {
		return nil, err
	}
	failed, err := s.store.CountOperations(domain.OperationFailed)
	if err != nil {
		return nil, err
	}

	return &Status{
		Online:  s.online.Load(),
		Syncing: s.syncing.Load(),
		Pending: pending,
		Failed:  failed,
	}, nil
}

// RunConnectivityMonitor 周期性探测后端，从离线恢复到在线时自动触发一轮同步。
// 阻塞运行直到 ctx 结束
func (s *Syncer) RunConnectivityMonitor(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.config.Remote.ProbeInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.remote.Probe(ctx); err != nil {
				s.MarkOffline()
				continue
			}
			if s.markOnline() {
				slog.Info("远端服务已恢复，开始同步")
				if err := s.Sync(ctx); err != nil {
					slog.Error("自动同步失败", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// TeardownSession 清空本地会话和全部缓存数据。
// 服务端返回 401 时必须调用，过期会话下的缓存不再可信
func (s *Syncer) TeardownSession() error {
	slog.Warn("会话已失效，清空本地缓存")
	return s.store.ClearAll()
}
