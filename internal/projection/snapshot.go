// Package projection 维护提供给界面的座位数据快照。
// 刷新途中可能出现短暂的空响应或残缺响应，
// 保护窗口内这类会让座位列表变少的读取结果会被压住，避免界面闪烁。
package projection

import (
	"sync"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// Snapshot 是一次读取的完整结果，FromCache 表示数据没有经过服务端确认
type Snapshot struct {
	Library   *domain.Library `json:"library"`
	Seats     []*domain.Seat  `json:"seats"`
	FromCache bool            `json:"fromCache"`
	TakenAt   time.Time       `json:"takenAt"`
}

type Stabilizer struct {
	grace time.Duration

	mu       sync.Mutex
	lastGood *Snapshot

	now func() time.Time // 测试时替换
}

func NewStabilizer(grace time.Duration) *Stabilizer {
	return &Stabilizer{
		grace: grace,
		now:   time.Now,
	}
}

// Present 决定这一次对外呈现哪个快照：
//   - 座位数没有变少的读取结果立即呈现，并成为新的基准
//   - 座位数变少的读取结果在基准快照的保护窗口内会被压住，继续呈现基准
//   - 保护窗口过后任何结果都正常呈现并成为基准
//
// 这只是界面的防闪烁手段，不参与数据正确性
func (s *Stabilizer) Present(next *Snapshot) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	next.TakenAt = s.now()

	if s.lastGood != nil &&
		len(next.Seats) < len(s.lastGood.Seats) &&
		next.TakenAt.Sub(s.lastGood.TakenAt) < s.grace {
		return s.lastGood
	}

	s.lastGood = next
	return next
}

// Reset 丢弃基准快照，登出或清空缓存后调用
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGood = nil
}
