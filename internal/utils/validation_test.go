package utils

import (
	"testing"

	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

func TestValidateShiftTemplates(t *testing.T) {
	valid := []domain.ShiftTemplate{
		{Name: "上午", StartTime: "08:00", EndTime: "12:00"},
		{Name: "下午", StartTime: "13:00", EndTime: "18:00"},
	}
	if err := ValidateShiftTemplates(valid); err != nil {
		t.Errorf("合法模板不应报错: %v", err)
	}

	badTime := []domain.ShiftTemplate{{Name: "上午", StartTime: "8点", EndTime: "12:00"}}
	if err := ValidateShiftTemplates(badTime); err == nil {
		t.Errorf("非法时间格式应报错")
	}

	reversed := []domain.ShiftTemplate{{Name: "上午", StartTime: "12:00", EndTime: "08:00"}}
	if err := ValidateShiftTemplates(reversed); err == nil {
		t.Errorf("结束时间早于开始时间应报错")
	}

	duplicated := []domain.ShiftTemplate{
		{Name: "上午", StartTime: "08:00", EndTime: "12:00"},
		{Name: "上午", StartTime: "13:00", EndTime: "18:00"},
	}
	if err := ValidateShiftTemplates(duplicated); err == nil {
		t.Errorf("重复的班次名称应报错")
	}
}

func TestGenerateHandleFromChineseName(t *testing.T) {
	handle := GenerateHandleFromChineseName("张伟")
	if handle == "" {
		t.Fatalf("拼音转写不应为空")
	}
	for _, r := range handle {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			t.Errorf("转写结果应只含小写字母和数字: %q", handle)
			break
		}
	}
}
