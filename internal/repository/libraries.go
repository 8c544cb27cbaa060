package repository

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// CreateLibraryWithSeats 在一个事务中创建自习室，并按容量生成座位，
// 每个座位按班次模板的顺序生成对应的班次时段
func (r *Repository) CreateLibraryWithSeats(lib *domain.Library, shifts []domain.ShiftTemplate) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO libraries (manager_id, name, capacity, quote, location)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	params := []any{lib.ManagerID, lib.Name, lib.Capacity, lib.Quote, lib.Location}
	if err := tx.QueryRowContext(ctx, query, params...).Scan(&lib.ID, &lib.CreatedAt); err != nil {
		return err
	}

	for seatNumber := 1; seatNumber <= lib.Capacity; seatNumber++ {
		var seatID int64
		query = `
			INSERT INTO seats (library_id, seat_number)
			VALUES ($1, $2)
			RETURNING id
		`
		if err := tx.QueryRowContext(ctx, query, lib.ID, seatNumber).Scan(&seatID); err != nil {
			return err
		}

		for _, shift := range shifts {
			query = `
				INSERT INTO shift_slots (seat_id, name, start_time, end_time)
				VALUES ($1, $2, $3, $4)
			`
			if _, err := tx.ExecContext(ctx, query, seatID, shift.Name, shift.StartTime, shift.EndTime); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetLibraryByManagerID(managerID int64) (*domain.Library, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT id, manager_id, name, capacity, quote, location, created_at
		FROM libraries
		WHERE manager_id = $1
	`

	lib := &domain.Library{}
	dst := []any{&lib.ID, &lib.ManagerID, &lib.Name, &lib.Capacity, &lib.Quote, &lib.Location, &lib.CreatedAt}
	if err := r.dbpool.QueryRowContext(ctx, query, managerID).Scan(dst...); err != nil {
		return nil, err
	}

	count, err := r.countFullyBookedSeats(ctx, lib.ID)
	if err != nil {
		return nil, err
	}
	lib.BookedSeatsCount = count

	return lib, nil
}

func (r *Repository) GetLibraryByID(id int64) (*domain.Library, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT id, manager_id, name, capacity, quote, location, created_at
		FROM libraries
		WHERE id = $1
	`

	lib := &domain.Library{}
	dst := []any{&lib.ID, &lib.ManagerID, &lib.Name, &lib.Capacity, &lib.Quote, &lib.Location, &lib.CreatedAt}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(dst...); err != nil {
		return nil, err
	}

	count, err := r.countFullyBookedSeats(ctx, lib.ID)
	if err != nil {
		return nil, err
	}
	lib.BookedSeatsCount = count

	return lib, nil
}

// countFullyBookedSeats 只统计所有班次都被占用的座位，
// 这个口径必须和客户端合并后的重算保持一致
func (r *Repository) countFullyBookedSeats(ctx context.Context, libraryID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM seats s
		WHERE s.library_id = $1
		AND EXISTS (
			SELECT 1 FROM shift_slots sl WHERE sl.seat_id = s.id
		)
		AND NOT EXISTS (
			SELECT 1 FROM shift_slots sl WHERE sl.seat_id = s.id AND sl.student_id IS NULL
		)
	`

	var count int
	if err := r.dbpool.QueryRowContext(ctx, query, libraryID).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}
