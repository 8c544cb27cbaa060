package localstore

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/sysu-ecnc-dev/seat-manager/internal/config"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := &config.Config{}
	cfg.Agent.StorePath = filepath.Join(t.TempDir(), "agent.db")
	cfg.Database.ConnectTimeout = 5
	cfg.Database.QueryTimeout = 5
	cfg.Database.TransactionTimeout = 10

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("无法打开本地存储: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestLibraryRoundTrip(t *testing.T) {
	store := newTestStore(t)

	lib := &domain.Library{ID: 3, ManagerID: 7, Name: "东区自习室", Capacity: 20, Location: "3 号楼"}
	if err := store.SaveLibrary(lib); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	// 再存一次应该覆盖而不是报错
	lib.BookedSeatsCount = 5
	if err := store.SaveLibrary(lib); err != nil {
		t.Fatalf("重复保存失败: %v", err)
	}

	got, err := store.GetLibrary(7)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if got.ID != 3 || got.Name != "东区自习室" || got.BookedSeatsCount != 5 {
		t.Errorf("读取结果不符: %+v", got)
	}
}

func TestSeatsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveLibrary(&domain.Library{ID: 1, ManagerID: 1, Name: "自习室", Capacity: 2}); err != nil {
		t.Fatalf("保存自习室失败: %v", err)
	}

	seats := []*domain.Seat{
		{LibraryID: 1, SeatNumber: 1, Shifts: []domain.ShiftSlot{
			{Name: "上午", StartTime: "08:00", EndTime: "12:00", Occupant: domain.OccupantOf(&domain.Student{ID: 9, Name: "张三", DateOfJoin: "2026-01-01", Contact: "123"})},
		}},
		{LibraryID: 1, SeatNumber: 2, Shifts: []domain.ShiftSlot{
			{Name: "上午", StartTime: "08:00", EndTime: "12:00"},
		}},
	}
	if err := store.ReplaceSeats(1, seats); err != nil {
		t.Fatalf("写入座位失败: %v", err)
	}

	got, err := store.GetSeats(1)
	if err != nil {
		t.Fatalf("读取座位失败: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("期望 2 个座位, got %d", len(got))
	}
	if st, ok := got[0].Shifts[0].Occupant.Student(); !ok || st.Name != "张三" {
		t.Errorf("占用信息丢失: %+v", got[0].Shifts[0].Occupant)
	}

	// 全量替换后 bookedSeatsCount 应重算：1 号座位唯一的班次被占用，算全预订
	lib, err := store.GetLibrary(1)
	if err != nil {
		t.Fatalf("读取自习室失败: %v", err)
	}
	if lib.BookedSeatsCount != 1 {
		t.Errorf("期望 bookedSeatsCount 为 1, got %d", lib.BookedSeatsCount)
	}

	seat, err := store.GetSeat(1, 2)
	if err != nil {
		t.Fatalf("按座位号读取失败: %v", err)
	}
	seat.Shifts[0].Occupant = domain.OccupantRef(5)
	if err := store.SaveSeat(seat); err != nil {
		t.Fatalf("更新座位失败: %v", err)
	}

	lib, _ = store.GetLibrary(1)
	if lib.BookedSeatsCount != 2 {
		t.Errorf("更新单个座位后应重算汇总, got %d", lib.BookedSeatsCount)
	}
}

func TestPendingOperationQueue(t *testing.T) {
	store := newTestStore(t)

	payload, _ := json.Marshal(map[string]string{"shiftName": "上午"})
	first, err := store.AddPendingOperation(http.MethodPost, "/seats/1/1/book", payload)
	if err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	second, err := store.AddPendingOperation(http.MethodDelete, "/seats/1/2/book/上午", nil)
	if err != nil {
		t.Fatalf("入队失败: %v", err)
	}

	ops, err := store.GetPendingOperations()
	if err != nil {
		t.Fatalf("读取队列失败: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("期望 2 条待同步操作, got %d", len(ops))
	}
	// 必须按入队顺序返回
	if ops[0].ID != first || ops[1].ID != second {
		t.Errorf("队列顺序错乱: %d, %d", ops[0].ID, ops[1].ID)
	}
	if ops[0].Method != http.MethodPost || string(ops[0].Payload) != string(payload) {
		t.Errorf("操作内容不符: %+v", ops[0])
	}

	// 重试计数
	for want := 1; want <= 3; want++ {
		count, err := store.IncrementOperationRetry(first)
		if err != nil {
			t.Fatalf("累加重试失败: %v", err)
		}
		if count != want {
			t.Errorf("期望重试次数 %d, got %d", want, count)
		}
	}

	if err := store.MarkOperationFailed(first); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}
	if err := store.MarkOperationCompleted(second); err != nil {
		t.Fatalf("标记完成出错: %v", err)
	}

	ops, _ = store.GetPendingOperations()
	if len(ops) != 0 {
		t.Errorf("失败和完成的操作不应再出现在待同步列表中, got %d", len(ops))
	}

	failed, _ := store.CountOperations(domain.OperationFailed)
	pending, _ := store.CountOperations(domain.OperationPending)
	if failed != 1 || pending != 0 {
		t.Errorf("状态计数不符: failed=%d pending=%d", failed, pending)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if _, _, err := store.GetSession(); err != ErrNoSession {
		t.Fatalf("期望 ErrNoSession, got %v", err)
	}

	manager := &domain.Manager{ID: 1, Name: "王老师", Email: "wang@example.com"}
	if err := store.SaveSession("token-1", manager); err != nil {
		t.Fatalf("保存会话失败: %v", err)
	}

	token, got, err := store.GetSession()
	if err != nil {
		t.Fatalf("读取会话失败: %v", err)
	}
	if token != "token-1" || got.Email != "wang@example.com" {
		t.Errorf("会话内容不符: %s %+v", token, got)
	}

	// 覆盖已有会话
	if err := store.SaveSession("token-2", manager); err != nil {
		t.Fatalf("覆盖会话失败: %v", err)
	}
	token, _, _ = store.GetSession()
	if token != "token-2" {
		t.Errorf("会话未被覆盖: %s", token)
	}

	if err := store.ClearAll(); err != nil {
		t.Fatalf("清空失败: %v", err)
	}
	if _, _, err := store.GetSession(); err != ErrNoSession {
		t.Errorf("清空后仍能读到会话: %v", err)
	}
}
