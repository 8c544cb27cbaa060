package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// GetSeats 返回某个自习室缓存的所有座位，按座位号升序
func (s *Store) GetSeats(libraryID int64) ([]*domain.Seat, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `
		SELECT remote_id, seat_number, shifts
		FROM seats
		WHERE library_id = ?
		ORDER BY seat_number
	`

	rows, err := s.db.QueryContext(ctx, query, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seats := make([]*domain.Seat, 0)
	for rows.Next() {
		seat := &domain.Seat{LibraryID: libraryID}
		var shiftsJSON string
		if err := rows.Scan(&seat.ID, &seat.SeatNumber, &shiftsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(shiftsJSON), &seat.Shifts); err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return seats, nil
}

func (s *Store) GetSeat(libraryID int64, seatNumber int) (*domain.Seat, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `
		SELECT remote_id, shifts
		FROM seats
		WHERE library_id = ? AND seat_number = ?
	`

	seat := &domain.Seat{LibraryID: libraryID, SeatNumber: seatNumber}
	var shiftsJSON string
	if err := s.db.QueryRowContext(ctx, query, libraryID, seatNumber).Scan(&seat.ID, &shiftsJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(shiftsJSON), &seat.Shifts); err != nil {
		return nil, err
	}

	return seat, nil
}

// SaveSeat 写回单个座位并重算自习室的已预订座位数
func (s *Store) SaveSeat(seat *domain.Seat) error {
	ctx, cancel := s.txCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := upsertSeat(ctx, tx, seat); err != nil {
		return err
	}
	if err := s.recountBooked(ctx, tx, seat.LibraryID); err != nil {
		return err
	}

	return tx.Commit()
}

// ReplaceSeats 用合并结果原子地替换某个自习室的整套座位缓存，
// 并重算 bookedSeatsCount
func (s *Store) ReplaceSeats(libraryID int64, seats []*domain.Seat) error {
	ctx, cancel := s.txCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seats WHERE library_id = ?`, libraryID); err != nil {
		return err
	}

	for _, seat := range seats {
		seat.LibraryID = libraryID
		if err := upsertSeat(ctx, tx, seat); err != nil {
			return err
		}
	}

	if err := s.recountBooked(ctx, tx, libraryID); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertSeat(ctx context.Context, tx *sql.Tx, seat *domain.Seat) error {
	shiftsJSON, err := json.Marshal(seat.Shifts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO seats (library_id, seat_number, remote_id, shifts, last_synced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (library_id, seat_number) DO UPDATE SET
			remote_id = excluded.remote_id,
			shifts = excluded.shifts,
			last_synced = excluded.last_synced
	`
	params := []any{seat.LibraryID, seat.SeatNumber, seat.ID, string(shiftsJSON), time.Now().Format(time.RFC3339)}

	_, err = tx.ExecContext(ctx, query, params...)
	return err
}

// recountBooked 按 "所有班次都被占用" 的口径重算已预订座位数并写回
func (s *Store) recountBooked(ctx context.Context, tx *sql.Tx, libraryID int64) error {
	rows, err := tx.QueryContext(ctx, `SELECT shifts FROM seats WHERE library_id = ?`, libraryID)
	if err != nil {
		return err
	}
	defer rows.Close()

	seats := make([]*domain.Seat, 0)
	for rows.Next() {
		var shiftsJSON string
		if err := rows.Scan(&shiftsJSON); err != nil {
			return err
		}
		seat := &domain.Seat{}
		if err := json.Unmarshal([]byte(shiftsJSON), &seat.Shifts); err != nil {
			return err
		}
		seats = append(seats, seat)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	count := domain.CountFullyBookedSeats(seats)
	_, err = tx.ExecContext(ctx, `UPDATE libraries SET booked_seats_count = ? WHERE remote_id = ?`, count, libraryID)
	return err
}
