package utils

import (
	"fmt"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// ValidateShiftTemplates 校验注册自习室时提交的班次模板：
// 时间必须是 HH:MM 格式，结束时间不能早于开始时间，名称在模板内唯一
func ValidateShiftTemplates(shifts []domain.ShiftTemplate) error {
	seen := make(map[string]bool, len(shifts))

	for i, shift := range shifts {
		startTime, err := time.Parse("15:04", shift.StartTime)
		if err != nil {
			return fmt.Errorf("班次 %d 的开始时间格式错误", i+1)
		}
		endTime, err := time.Parse("15:04", shift.EndTime)
		if err != nil {
			return fmt.Errorf("班次 %d 的结束时间格式错误", i+1)
		}
		if endTime.Before(startTime) {
			return fmt.Errorf("班次 %d 的结束时间不能早于开始时间", i+1)
		}

		if seen[shift.Name] {
			return fmt.Errorf("班次名称 %s 重复", shift.Name)
		}
		seen[shift.Name] = true
	}

	return nil
}
