package repository

import (
	"database/sql"
	"errors"

	"github.com/sysu-ecnc-dev/seat-manager/internal/config"
)

var (
	ErrShiftNotFound      = errors.New("座位上不存在这个班次")
	ErrShiftAlreadyBooked = errors.New("该班次已被预订")
	ErrShiftNotBooked     = errors.New("该班次尚未被预订")
)

type Repository struct {
	cfg    *config.Config
	dbpool *sql.DB
}

func NewRepository(cfg *config.Config, dbpool *sql.DB) *Repository {
	return &Repository{
		cfg:    cfg,
		dbpool: dbpool,
	}
}
