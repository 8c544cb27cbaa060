package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// GetSeatsByLibraryID 返回某个自习室的所有座位（按座位号升序），
// 班次时段上已预订的学生会被填充为完整记录（且不带幂等令牌）
func (r *Repository) GetSeatsByLibraryID(libraryID int64) ([]*domain.Seat, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT
			s.id,
			s.seat_number,
			sl.name,
			sl.start_time,
			sl.end_time,
			st.id,
			st.name,
			st.date_of_join,
			st.contact,
			st.email
		FROM seats s
		LEFT JOIN shift_slots sl ON sl.seat_id = s.id
		LEFT JOIN students st ON st.id = sl.student_id
		WHERE s.library_id = $1
		ORDER BY s.seat_number, sl.id
	`

	rows, err := r.dbpool.QueryContext(ctx, query, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seats := make([]*domain.Seat, 0)
	var current *domain.Seat

	for rows.Next() {
		var row struct {
			SeatID     int64
			SeatNumber int

			SlotName  sql.NullString
			StartTime sql.NullString
			EndTime   sql.NullString

			StudentID      sql.NullInt64
			StudentName    sql.NullString
			StudentJoin    sql.NullString
			StudentContact sql.NullString
			StudentEmail   sql.NullString
		}

		dst := []any{
			&row.SeatID,
			&row.SeatNumber,
			&row.SlotName,
			&row.StartTime,
			&row.EndTime,
			&row.StudentID,
			&row.StudentName,
			&row.StudentJoin,
			&row.StudentContact,
			&row.StudentEmail,
		}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}

		if current == nil || current.ID != row.SeatID {
			current = &domain.Seat{
				ID:         row.SeatID,
				LibraryID:  libraryID,
				SeatNumber: row.SeatNumber,
				Shifts:     make([]domain.ShiftSlot, 0),
			}
			seats = append(seats, current)
		}

		// 座位上没有任何班次时跳过班次解析
		if !row.SlotName.Valid {
			continue
		}

		occupant := domain.NoOccupant()
		if row.StudentID.Valid {
			occupant = domain.OccupantOf(&domain.Student{
				ID:         row.StudentID.Int64,
				Name:       row.StudentName.String,
				DateOfJoin: row.StudentJoin.String,
				Contact:    row.StudentContact.String,
				Email:      row.StudentEmail.String,
			})
		}

		current.Shifts = append(current.Shifts, domain.ShiftSlot{
			Name:      row.SlotName.String,
			StartTime: row.StartTime.String,
			EndTime:   row.EndTime.String,
			Occupant:  occupant,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return seats, nil
}

// GetSeat 返回某个座位及其班次占用情况，座位不存在时返回 sql.ErrNoRows
func (r *Repository) GetSeat(libraryID int64, seatNumber int) (*domain.Seat, error) {
	seats, err := r.GetSeatsByLibraryID(libraryID)
	if err != nil {
		return nil, err
	}

	for _, seat := range seats {
		if seat.SeatNumber == seatNumber {
			return seat, nil
		}
	}

	return nil, sql.ErrNoRows
}

// CreateBooking 在一个事务中创建学生记录并把它挂到对应的班次时段上。
// 座位不存在返回 sql.ErrNoRows；班次不存在返回 ErrShiftNotFound；
// 班次已被占用返回 ErrShiftAlreadyBooked
func (r *Repository) CreateBooking(libraryID int64, seatNumber int, shiftName string, st *domain.Student) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var seatID int64
	query := `SELECT id FROM seats WHERE library_id = $1 AND seat_number = $2`
	if err := tx.QueryRowContext(ctx, query, libraryID, seatNumber).Scan(&seatID); err != nil {
		return err
	}

	var slotID int64
	var studentID sql.NullInt64
	query = `
		SELECT id, student_id FROM shift_slots
		WHERE seat_id = $1 AND name = $2
		FOR UPDATE
	`
	if err := tx.QueryRowContext(ctx, query, seatID, shiftName).Scan(&slotID, &studentID); err != nil {
		if err == sql.ErrNoRows {
			return ErrShiftNotFound
		}
		return err
	}

	if studentID.Valid {
		return ErrShiftAlreadyBooked
	}

	var operationID any
	if st.OperationID != "" {
		operationID = st.OperationID
	}

	query = `
		INSERT INTO students (library_id, name, date_of_join, contact, email, seat_number, shift_name, operation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	params := []any{libraryID, st.Name, st.DateOfJoin, st.Contact, st.Email, seatNumber, shiftName, operationID}
	if err := tx.QueryRowContext(ctx, query, params...).Scan(&st.ID, &st.CreatedAt); err != nil {
		return err
	}
	st.LibraryID = libraryID
	st.SeatNumber = seatNumber
	st.ShiftName = shiftName

	query = `UPDATE shift_slots SET student_id = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, query, st.ID, slotID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

// UpdateBookedStudent 更新已预订班次上的学生信息。
// 班次未被预订时返回 ErrShiftNotBooked
func (r *Repository) UpdateBookedStudent(libraryID int64, seatNumber int, shiftName string, st *domain.Student) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	studentID, _, err := r.lockSlot(ctx, tx, libraryID, seatNumber, shiftName)
	if err != nil {
		return err
	}
	if !studentID.Valid {
		return ErrShiftNotBooked
	}

	query := `
		UPDATE students
		SET name = $1, date_of_join = $2, contact = $3, email = $4
		WHERE id = $5
		RETURNING id
	`
	params := []any{st.Name, st.DateOfJoin, st.Contact, st.Email, studentID.Int64}
	if err := tx.QueryRowContext(ctx, query, params...).Scan(&st.ID); err != nil {
		return err
	}
	st.LibraryID = libraryID
	st.SeatNumber = seatNumber
	st.ShiftName = shiftName

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

// DeleteBooking 清空班次时段上的预订，并删除对应的学生记录
func (r *Repository) DeleteBooking(libraryID int64, seatNumber int, shiftName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	studentID, slotID, err := r.lockSlot(ctx, tx, libraryID, seatNumber, shiftName)
	if err != nil {
		return err
	}

	query := `UPDATE shift_slots SET student_id = NULL WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, slotID); err != nil {
		return err
	}

	if studentID.Valid {
		query = `DELETE FROM students WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, studentID.Int64); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

// lockSlot 锁定某个座位上的班次时段，返回占用者与时段 ID。
// 座位不存在返回 sql.ErrNoRows，班次不存在返回 ErrShiftNotFound
func (r *Repository) lockSlot(ctx context.Context, tx *sql.Tx, libraryID int64, seatNumber int, shiftName string) (sql.NullInt64, int64, error) {
	var seatID int64
	query := `SELECT id FROM seats WHERE library_id = $1 AND seat_number = $2`
	if err := tx.QueryRowContext(ctx, query, libraryID, seatNumber).Scan(&seatID); err != nil {
		return sql.NullInt64{}, 0, err
	}

	var slotID int64
	var studentID sql.NullInt64
	query = `
		SELECT id, student_id FROM shift_slots
		WHERE seat_id = $1 AND name = $2
		FOR UPDATE
	`
	if err := tx.QueryRowContext(ctx, query, seatID, shiftName).Scan(&slotID, &studentID); err != nil {
		if err == sql.ErrNoRows {
			return sql.NullInt64{}, 0, ErrShiftNotFound
		}
		return sql.NullInt64{}, 0, err
	}

	return studentID, slotID, nil
}
