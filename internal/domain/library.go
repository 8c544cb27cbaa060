package domain

import (
	"time"
)

// ShiftTemplate 是在注册自习室时定义的班次模板，
// 每个座位在创建时都会按模板生成一份对应的班次时段
type ShiftTemplate struct {
	Name      string `json:"name" validate:"required"`
	StartTime string `json:"startTime" validate:"required"`
	EndTime   string `json:"endTime" validate:"required"`
}

type Library struct {
	ID               int64     `json:"id"`
	ManagerID        int64     `json:"managerId"`
	Name             string    `json:"name"`
	Capacity         int       `json:"capacity"`
	Quote            string    `json:"quote,omitempty"`
	Location         string    `json:"location,omitempty"`
	BookedSeatsCount int       `json:"bookedSeatsCount"`
	CreatedAt        time.Time `json:"createdAt"`
}
