package repository

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

func (r *Repository) CreateManager(m *domain.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		INSERT INTO managers (name, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	if err := r.dbpool.QueryRowContext(ctx, query, m.Name, m.Email, m.PasswordHash).Scan(&m.ID, &m.CreatedAt); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetManagerByEmail(email string) (*domain.Manager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT id, name, email, password_hash, created_at
		FROM managers
		WHERE email = $1
	`

	m := &domain.Manager{}
	if err := r.dbpool.QueryRowContext(ctx, query, email).Scan(&m.ID, &m.Name, &m.Email, &m.PasswordHash, &m.CreatedAt); err != nil {
		return nil, err
	}

	return m, nil
}

func (r *Repository) GetManagerByID(id int64) (*domain.Manager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT id, name, email, password_hash, created_at
		FROM managers
		WHERE id = $1
	`

	m := &domain.Manager{}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.Name, &m.Email, &m.PasswordHash, &m.CreatedAt); err != nil {
		return nil, err
	}

	return m, nil
}
