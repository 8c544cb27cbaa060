package repository

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// GetStudentByOperationID 按幂等令牌查找已处理过的预订，
// 这是识别重放请求的权威判据（redis 只是快路径）
func (r *Repository) GetStudentByOperationID(operationID string) (*domain.Student, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT id, library_id, name, date_of_join, contact, email, seat_number, shift_name, created_at
		FROM students
		WHERE operation_id = $1
	`

	st := &domain.Student{OperationID: operationID}
	dst := []any{&st.ID, &st.LibraryID, &st.Name, &st.DateOfJoin, &st.Contact, &st.Email, &st.SeatNumber, &st.ShiftName, &st.CreatedAt}
	if err := r.dbpool.QueryRowContext(ctx, query, operationID).Scan(dst...); err != nil {
		return nil, err
	}

	return st, nil
}
