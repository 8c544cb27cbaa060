package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Seat struct {
	ID         int64       `json:"id,omitempty"`
	LibraryID  int64       `json:"libraryId"`
	SeatNumber int         `json:"seatNumber"`
	Shifts     []ShiftSlot `json:"shifts"`
}

// ShiftSlot 是某个座位上的一个班次时段，同一个座位内班次名称唯一。
// 对外的 JSON 字段名沿用 studentId，但它实际上可能是三种形态之一，见 Occupant
type ShiftSlot struct {
	Name      string   `json:"name"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	Occupant  Occupant `json:"studentId"`
}

// FindShift 按名称查找班次时段，找不到时返回 -1
func (s *Seat) FindShift(name string) int {
	for i := range s.Shifts {
		if s.Shifts[i].Name == name {
			return i
		}
	}
	return -1
}

// FullyBooked 表示这个座位的所有班次都已被预订。
// 只预订了部分班次的座位属于 "部分预订"，不计入已预订座位数
func (s *Seat) FullyBooked() bool {
	if len(s.Shifts) == 0 {
		return false
	}
	for i := range s.Shifts {
		if !s.Shifts[i].Occupant.IsBooked() {
			return false
		}
	}
	return true
}

// Clone 返回座位的深拷贝，乐观更新前用它保存回滚快照
func (s *Seat) Clone() *Seat {
	cp := *s
	cp.Shifts = make([]ShiftSlot, len(s.Shifts))
	copy(cp.Shifts, s.Shifts)
	for i := range cp.Shifts {
		if st, ok := cp.Shifts[i].Occupant.Student(); ok {
			stCopy := *st
			cp.Shifts[i].Occupant = OccupantOf(&stCopy)
		}
	}
	return &cp
}

// CountFullyBookedSeats 计算 bookedSeatsCount：仅统计所有班次都被占用的座位。
// 这个口径同时用于本地合并后的重算和仪表盘的汇总卡片，不能改动
func CountFullyBookedSeats(seats []*Seat) int {
	count := 0
	for _, seat := range seats {
		if seat.FullyBooked() {
			count++
		}
	}
	return count
}

type occupantKind int

const (
	occupantNone occupantKind = iota
	occupantRef
	occupantResolved
)

// Occupant 表示班次时段的占用状态，在线路格式中对应 studentId 字段的三种形态：
// null（空闲）、数字（仅引用学生 ID）、对象（已填充的学生记录）
type Occupant struct {
	kind    occupantKind
	id      int64
	student *Student
}

func NoOccupant() Occupant {
	return Occupant{kind: occupantNone}
}

func OccupantRef(id int64) Occupant {
	return Occupant{kind: occupantRef, id: id}
}

func OccupantOf(student *Student) Occupant {
	if student == nil {
		return NoOccupant()
	}
	return Occupant{kind: occupantResolved, student: student}
}

func (o Occupant) IsBooked() bool {
	return o.kind != occupantNone
}

// StudentID 返回被引用或已填充学生的 ID
func (o Occupant) StudentID() (int64, bool) {
	switch o.kind {
	case occupantRef:
		return o.id, true
	case occupantResolved:
		return o.student.ID, true
	default:
		return 0, false
	}
}

// Student 仅在已填充形态下返回学生记录
func (o Occupant) Student() (*Student, bool) {
	if o.kind != occupantResolved {
		return nil, false
	}
	return o.student, true
}

// OperationID 返回本地乐观预订携带的幂等令牌。
// 服务端返回的数据不会带这个字段，所以非空就意味着这条预订尚未同步
func (o Occupant) OperationID() string {
	if o.kind != occupantResolved {
		return ""
	}
	return o.student.OperationID
}

func (o Occupant) MarshalJSON() ([]byte, error) {
	switch o.kind {
	case occupantRef:
		return json.Marshal(o.id)
	case occupantResolved:
		return json.Marshal(o.student)
	default:
		return []byte("null"), nil
	}
}

func (o *Occupant) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = NoOccupant()
		return nil
	}

	switch data[0] {
	case '{':
		student := &Student{}
		if err := json.Unmarshal(data, student); err != nil {
			return err
		}
		*o = OccupantOf(student)
		return nil
	case '"':
		// 引用形态也可能以字符串形式出现
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		var id int64
		if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
			return fmt.Errorf("无法解析占用者引用: %s", s)
		}
		*o = OccupantRef(id)
		return nil
	default:
		var id int64
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*o = OccupantRef(id)
		return nil
	}
}
