package syncer

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/sysu-ecnc-dev/seat-manager/internal/config"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/localstore"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
)

func newTestSyncer(t *testing.T, baseURL string) (*Syncer, *localstore.Store) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Agent.StorePath = filepath.Join(t.TempDir(), "agent.db")
	cfg.Agent.MaxRetries = 3
	cfg.Database.ConnectTimeout = 5
	cfg.Database.QueryTimeout = 5
	cfg.Database.TransactionTimeout = 10
	cfg.Remote.BaseURL = baseURL
	cfg.Remote.RequestTimeout = 5
	cfg.Remote.ProbeTimeout = 1
	cfg.Remote.ProbeInterval = 1

	store, err := localstore.Open(cfg)
	if err != nil {
		t.Fatalf("无法打开本地存储: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.SaveSession("test-token", &domain.Manager{ID: 1, Name: "王老师", Email: "wang@example.com"}); err != nil {
		t.Fatalf("无法保存会话: %v", err)
	}

	return NewSyncer(cfg, store, remote.NewClient(cfg), nil), store
}

func TestSyncReplaysInOrder(t *testing.T) {
	backend := newTestBackend([]string{"上午"}, 2)
	defer backend.Close()

	sync, store := newTestSyncer(t, backend.URL())

	// 离线期间：先预订 1 号座位，再取消，再预订 2 号座位
	if err := sync.Enqueue(http.MethodPost, bookPath(1), bookPayload("张三", "上午", "op-1")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	if err := sync.Enqueue(http.MethodDelete, "/seats/1/1/book/上午", nil); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	if err := sync.Enqueue(http.MethodPost, bookPath(2), bookPayload("李四", "上午", "op-2")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	if err := sync.Sync(context.Background()); err != nil {
		t.Fatalf("同步失败: %v", err)
	}

	// 重放顺序必须和入队顺序一致，否则取消会先于预订到达
	log := backend.requestLog()
	var mutations []string
	for _, entry := range log {
		if entry != "GET /library/me" && entry != "GET /seats/1/" {
			mutations = append(mutations, entry)
		}
	}
	want := []string{
		"POST /seats/1/1/book",
		"DELETE /seats/1/1/book/上午",
		"POST /seats/1/2/book",
	}
	if len(mutations) != len(want) {
		t.Fatalf("期望 %d 次变更请求, got %v", len(want), mutations)
	}
	for i := range want {
		if mutations[i] != want[i] {
			t.Errorf("第 %d 次请求期望 %s, got %s", i, want[i], mutations[i])
		}
	}

	// 最终状态：1 号空闲，2 号被李四占用
	if _, booked := backend.occupant(1, "上午"); booked {
		t.Errorf("1 号座位应为空闲")
	}
	if st, _ := backend.occupant(2, "上午"); st == nil || st.Name != "李四" {
		t.Errorf("2 号座位应被李四占用: %+v", st)
	}

	pending, _ := store.CountOperations(domain.OperationPending)
	if pending != 0 {
		t.Errorf("同步后不应有待同步操作, got %d", pending)
	}
}

func TestSyncReplayIsIdempotent(t *testing.T) {
	backend := newTestBackend([]string{"上午"}, 1)
	defer backend.Close()

	sync, store := newTestSyncer(t, backend.URL())

	// 第一次请求已经到达服务端，但响应丢失了，于是操作留在队列里被重放
	if err := sync.Enqueue(http.MethodPost, bookPath(1), bookPayload("张三", "上午", "op-1")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	if err := sync.Sync(context.Background()); err != nil {
		t.Fatalf("同步失败: %v", err)
	}

	firstStudent, _ := backend.occupant(1, "上午")
	if firstStudent == nil {
		t.Fatalf("预订没有生效")
	}

	// 同一个幂等令牌再次入队重放
	if err := sync.Enqueue(http.MethodPost, bookPath(1), bookPayload("张三", "上午", "op-1")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	if err := sync.Sync(context.Background()); err != nil {
		t.Fatalf("同步失败: %v", err)
	}

	secondStudent, _ := backend.occupant(1, "上午")
	if secondStudent == nil || secondStudent.ID != firstStudent.ID {
		t.Errorf("重放不应产生第二条预订: %+v vs %+v", firstStudent, secondStudent)
	}
	pending, _ := store.CountOperations(domain.OperationPending)
	if pending != 0 {
		t.Errorf("重放的操作应被标记为完成, got %d pending", pending)
	}
}

func TestSyncStopsOnNetworkFailure(t *testing.T) {
	backend := newTestBackend([]string{"上午"}, 1)
	sync, store := newTestSyncer(t, backend.URL())
	backend.Close() // 让所有请求都连接失败

	if err := sync.Enqueue(http.MethodPost, bookPath(1), bookPayload("张三", "上午", "op-1")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	if err := sync.Enqueue(http.MethodDelete, "/seats/1/1/book/上午", nil); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	if err := sync.Sync(context.Background()); err != nil {
		t.Fatalf("网络失败不应让同步返回错误: %v", err)
	}

	if sync.Online() {
		t.Errorf("网络失败后应标记为离线")
	}

	// 两个操作都还在队列里，队头的重试次数加一，后面的原样不动
	ops, err := store.GetPendingOperations()
	if err != nil {
		t.Fatalf("读取队列失败: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("期望 2 条待同步操作, got %d", len(ops))
	}
	if ops[0].RetryCount != 1 {
		t.Errorf("队头操作的重试次数应为 1, got %d", ops[0].RetryCount)
	}
	if ops[1].RetryCount != 0 {
		t.Errorf("队头失败后不应碰后面的操作, got retryCount=%d", ops[1].RetryCount)
	}
}

func TestSyncReconcilesAfterPartialDrain(t *testing.T) {
	backend := newTestBackend([]string{"上午"}, 1)
	defer backend.Close()
	sync, store := newTestSyncer(t, backend.URL())

	if err := sync.Enqueue(http.MethodPost, bookPath(1), bookPayload("张三", "上午", "op-1")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	// 变更请求被网络错误打断，读取仍然可达
	backend.setFailMutations(true)

	if err := sync.Sync(context.Background()); err != nil {
		t.Fatalf("部分重放不应让同步返回错误: %v", err)
	}

	// 操作留在队列里等下一轮
	ops, err := store.GetPendingOperations()
	if err != nil {
		t.Fatalf("读取队列失败: %v", err)
	}
	if len(ops) != 1 || ops[0].RetryCount != 1 {
		t.Fatalf("队头操作应保留并计一次重试: %+v", ops)
	}

	// 重放被打断也要完成对账，服务端的座位数据已进入本地缓存
	seats, err := store.GetSeats(1)
	if err != nil {
		t.Fatalf("读取本地座位失败: %v", err)
	}
	if len(seats) != 1 {
		t.Errorf("部分重放后仍应完成对账, got %d 个座位", len(seats))
	}
}

func TestSyncRetryExhaustion(t *testing.T) {
	backend := newTestBackend([]string{"上午"}, 1)
	sync, store := newTestSyncer(t, backend.URL())
	backend.Close()

	if err := sync.Enqueue(http.MethodPost, bookPath(1), bookPayload("张三", "上午", "op-1")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	// 每轮同步给队头一次重试机会，重试次数达到上限后标记为永久失败
	for i := 0; i < 3; i++ {
		if err := sync.Sync(context.Background()); err != nil {
			t.Fatalf("第 %d 轮同步出错: %v", i+1, err)
		}
	}

	pending, _ := store.CountOperations(domain.OperationPending)
	failed, _ := store.CountOperations(domain.OperationFailed)
	if pending != 0 || failed != 1 {
		t.Errorf("重试用尽后应标记为失败: pending=%d failed=%d", pending, failed)
	}
}

func TestSyncMarksTerminalFailureAndContinues(t *testing.T) {
	backend := newTestBackend([]string{"上午"}, 2)
	defer backend.Close()

	sync, store := newTestSyncer(t, backend.URL())

	// 占住 1 号座位，使队列里的预订被服务端拒绝
	backend.mu.Lock()
	backend.seats[1].Shifts[0].Occupant = domain.OccupantRef(999)
	backend.mu.Unlock()

	if err := sync.Enqueue(http.MethodPost, bookPath(1), bookPayload("张三", "上午", "op-1")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	if err := sync.Enqueue(http.MethodPost, bookPath(2), bookPayload("李四", "上午", "op-2")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	if err := sync.Sync(context.Background()); err != nil {
		t.Fatalf("同步失败: %v", err)
	}

	// 被拒绝的操作不重试，后面的操作照常重放
	failed, _ := store.CountOperations(domain.OperationFailed)
	if failed != 1 {
		t.Errorf("被拒绝的操作应标记为失败, got %d", failed)
	}
	if st, _ := backend.occupant(2, "上午"); st == nil || st.Name != "李四" {
		t.Errorf("后续操作应照常重放: %+v", st)
	}
}

func TestSyncTearsDownSessionOnUnauthorized(t *testing.T) {
	backend := newTestBackend([]string{"上午"}, 1)
	defer backend.Close()

	sync, store := newTestSyncer(t, backend.URL())
	backend.setUnauthorized(true)

	if err := sync.Enqueue(http.MethodPost, bookPath(1), bookPayload("张三", "上午", "op-1")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	err := sync.Sync(context.Background())
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("期望 ErrUnauthorized, got %v", err)
	}

	if _, _, err := store.GetSession(); !errors.Is(err, localstore.ErrNoSession) {
		t.Errorf("401 后应清空本地会话, got %v", err)
	}
}

func TestReconcileKeepsOptimisticBooking(t *testing.T) {
	backend := newTestBackend([]string{"上午", "下午"}, 1)
	defer backend.Close()

	sync, store := newTestSyncer(t, backend.URL())

	// 先做一次全量拉取，建立本地缓存
	if err := sync.Reconcile(context.Background()); err != nil {
		t.Fatalf("对账失败: %v", err)
	}

	// 模拟离线预订：乐观更新落在本地，操作挂在队列里
	student := &domain.Student{Name: "张三", DateOfJoin: "2026-03-01", Contact: "123", OperationID: "op-1"}
	_, _, err := sync.ApplyOptimistic(1, 1, func(seat *domain.Seat) error {
		seat.Shifts[0].Occupant = domain.OccupantOf(student)
		return nil
	})
	if err != nil {
		t.Fatalf("乐观更新失败: %v", err)
	}
	if _, err := store.AddPendingOperation(http.MethodPost, bookPath(1), bookPayload("张三", "上午", "op-1")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	// 再次对账：服务端那边这个班次还是空的，本地的乐观预订必须保留
	if err := sync.Reconcile(context.Background()); err != nil {
		t.Fatalf("对账失败: %v", err)
	}

	seat, err := store.GetSeat(1, 1)
	if err != nil {
		t.Fatalf("读取座位失败: %v", err)
	}
	if seat.Shifts[0].Occupant.OperationID() != "op-1" {
		t.Errorf("对账不应丢弃尚未同步的乐观预订: %+v", seat.Shifts[0].Occupant)
	}
}

func TestFetchWithFallbackWhenOffline(t *testing.T) {
	backend := newTestBackend([]string{"上午"}, 1)
	sync, _ := newTestSyncer(t, backend.URL())

	if err := sync.Reconcile(context.Background()); err != nil {
		t.Fatalf("对账失败: %v", err)
	}

	backend.Close()

	// 网络断开后读路径退回本地缓存
	library, seats, fromCache, err := sync.SeatGrid(context.Background(), 1)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if !fromCache {
		t.Errorf("断网后应标记为缓存读取")
	}
	if library.ID != 1 || len(seats) != 1 {
		t.Errorf("缓存数据不完整: %+v, %d 个座位", library, len(seats))
	}
	if sync.Online() {
		t.Errorf("断网后应标记为离线")
	}
}
