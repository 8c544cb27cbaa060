package localstore

import (
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// SaveStudent 保存一条预订人记录的本地副本。
// 离线乐观预订时记录会带着幂等令牌，等待重放后由对账覆盖
func (s *Store) SaveStudent(st *domain.Student) error {
	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `
		INSERT INTO students (remote_id, library_id, seat_number, shift_name, name, date_of_join, contact, email, operation_id, last_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	params := []any{
		st.ID,
		st.LibraryID,
		st.SeatNumber,
		st.ShiftName,
		st.Name,
		st.DateOfJoin,
		st.Contact,
		st.Email,
		st.OperationID,
		time.Now().Format(time.RFC3339),
	}

	_, err := s.db.ExecContext(ctx, query, params...)
	return err
}

// DeleteStudentBySlot 删除某个座位班次对应的预订人副本，释放预订时的附带动作
func (s *Store) DeleteStudentBySlot(libraryID int64, seatNumber int, shiftName string) error {
	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `DELETE FROM students WHERE library_id = ? AND seat_number = ? AND shift_name = ?`
	_, err := s.db.ExecContext(ctx, query, libraryID, seatNumber, shiftName)
	return err
}
