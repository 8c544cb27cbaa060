package domain

import (
	"time"
)

// Student 是一条预订记录，在某个座位的某个班次被预订时创建，
// 预订被释放时随之删除。
// OperationID 是客户端生成的幂等令牌，服务端对其做存在即唯一的约束，
// 用于识别重放的预订请求；服务端向外返回座位数据时会剥离这个字段，
// 因此本地缓存中带有 OperationID 的预订就是尚未被服务端确认的乐观预订
type Student struct {
	ID          int64     `json:"id,omitempty"`
	LibraryID   int64     `json:"libraryId,omitempty"`
	Name        string    `json:"name"`
	DateOfJoin  string    `json:"dateofJoin"`
	Contact     string    `json:"contact"`
	Email       string    `json:"email,omitempty"`
	SeatNumber  int       `json:"seatNumber,omitempty"`
	ShiftName   string    `json:"shiftName,omitempty"`
	OperationID string    `json:"operationId,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// Public 返回一份剥离了幂等令牌的拷贝，用于服务端向外返回预订人信息
func (s *Student) Public() *Student {
	cp := *s
	cp.OperationID = ""
	return &cp
}
