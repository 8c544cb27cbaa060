package utils

import (
	"fmt"
	"math/rand"

	"github.com/mozillazg/go-pinyin"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var commonSurnames = []string{
	"王", "李", "张", "刘", "陈", "杨", "赵", "黄", "周", "吴",
	"徐", "孙", "胡", "朱", "高", "林", "何", "郭", "马", "罗",
}
var commonNameCharacters = []string{
	"伟", "强", "芳", "敏", "静", "丽", "刚", "杰", "娟", "勇",
	"艳", "涛", "明", "军", "磊", "洋", "霞", "飞", "玲", "超",
	"华", "平", "辉", "梅", "鑫", "龙", "鹏", "玉", "斌", "欣",
}

func GenerateRandomChineseName() string {
	surname := commonSurnames[rand.Intn(len(commonSurnames))]
	nameLength := rand.Intn(2) + 1
	name := ""

	for i := 0; i < nameLength; i++ {
		name += commonNameCharacters[rand.Intn(len(commonNameCharacters))]
	}
	return surname + name
}

var digits = "0123456789"

// GenerateHandleFromChineseName 根据中文姓名的拼音生成一个带随机数字后缀的标识，
// 用于生成测试邮箱
func GenerateHandleFromChineseName(chineseName string) string {
	pinyinArray := pinyin.LazyConvert(chineseName, nil)
	handle := ""

	for _, py := range pinyinArray {
		length := rand.Intn(len(py)) + 1
		handle += py[:length]
	}

	digitsLength := rand.Intn(3) + 1
	for i := 0; i < digitsLength; i++ {
		handle += string(digits[rand.Intn(len(digits))])
	}

	return handle
}

// GenerateRandomContact 生成一个 11 位的随机手机号
func GenerateRandomContact() string {
	contact := "1"
	for i := 0; i < 10; i++ {
		contact += string(digits[rand.Intn(len(digits))])
	}
	return contact
}

func GenerateRandomManager(password string, emailDomainName string) (*domain.Manager, error) {
	fullName := GenerateRandomChineseName()
	handle := GenerateHandleFromChineseName(fullName)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	manager := &domain.Manager{
		Name:         fullName,
		Email:        handle + "@" + emailDomainName,
		PasswordHash: string(passwordHash),
	}

	return manager, nil
}

func GenerateRandomStudent(dateOfJoin string, emailDomainName string) *domain.Student {
	fullName := GenerateRandomChineseName()
	handle := GenerateHandleFromChineseName(fullName)

	return &domain.Student{
		Name:       fullName,
		DateOfJoin: dateOfJoin,
		Contact:    GenerateRandomContact(),
		Email:      handle + "@" + emailDomainName,
	}
}

// GenerateRandomShiftTemplates 生成 1~4 个互不重叠的班次模板
func GenerateRandomShiftTemplates() []domain.ShiftTemplate {
	shiftsNum := rand.Intn(4) + 1
	hourPerShift := 24 / shiftsNum

	shifts := make([]domain.ShiftTemplate, shiftsNum)
	for i := range shifts {
		startHour := i * hourPerShift
		endHour := startHour + rand.Intn(hourPerShift-1) + 1

		shifts[i] = domain.ShiftTemplate{
			Name:      fmt.Sprintf("班次%d", i+1),
			StartTime: fmt.Sprintf("%02d:00", startHour),
			EndTime:   fmt.Sprintf("%02d:00", endHour),
		}
	}

	return shifts
}
