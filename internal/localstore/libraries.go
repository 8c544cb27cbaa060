package localstore

import (
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

func (s *Store) SaveLibrary(lib *domain.Library) error {
	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `
		INSERT INTO libraries (remote_id, manager_id, name, capacity, quote, location, booked_seats_count, created_at, last_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (remote_id) DO UPDATE SET
			manager_id = excluded.manager_id,
			name = excluded.name,
			capacity = excluded.capacity,
			quote = excluded.quote,
			location = excluded.location,
			booked_seats_count = excluded.booked_seats_count,
			created_at = excluded.created_at,
			last_synced = excluded.last_synced
	`
	params := []any{
		lib.ID,
		lib.ManagerID,
		lib.Name,
		lib.Capacity,
		lib.Quote,
		lib.Location,
		lib.BookedSeatsCount,
		lib.CreatedAt.Format(time.RFC3339),
		time.Now().Format(time.RFC3339),
	}

	_, err := s.db.ExecContext(ctx, query, params...)
	return err
}

// GetLibrary 返回某个管理员缓存的自习室，没有时返回 sql.ErrNoRows
func (s *Store) GetLibrary(managerID int64) (*domain.Library, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `
		SELECT remote_id, manager_id, name, capacity, quote, location, booked_seats_count, created_at
		FROM libraries
		WHERE manager_id = ?
	`

	lib := &domain.Library{}
	var createdAt string
	dst := []any{&lib.ID, &lib.ManagerID, &lib.Name, &lib.Capacity, &lib.Quote, &lib.Location, &lib.BookedSeatsCount, &createdAt}
	if err := s.db.QueryRowContext(ctx, query, managerID).Scan(dst...); err != nil {
		return nil, err
	}
	lib.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return lib, nil
}
