package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/config"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
	"github.com/sysu-ecnc-dev/seat-manager/internal/repository"
	"github.com/sysu-ecnc-dev/seat-manager/internal/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var op int
	var n int
	var libraryID int64

	flag.IntVar(&op, "op", 0, "要执行的操作 (1: 插入随机管理员, 2: 为管理员注册随机自习室, 3: 随机填充预订)")
	flag.IntVar(&n, "n", 5, "要插入的记录数量")
	flag.Int64Var(&libraryID, "library-id", 0, "随机填充预订的自习室 ID")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// 读取配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 创建数据库连接池
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("无法创建数据库连接池", "error", err)
		return
	}
	defer dbpool.Close()

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open 只是创建数据库连接池对象，并不会立即连接到数据库，因此需要显式地 ping 一下
	if err := dbpool.PingContext(ctx); err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}

	// 创建 repository
	repo := repository.NewRepository(cfg, dbpool)

	// 执行操作
	switch op {
	case 0:
		slog.Error("未指定操作")
	case 1:
		if n <= 0 {
			slog.Error("请输入合法的管理员数量")
		} else {
			cnt := n
			for i := 0; i < n; i++ {
				manager, err := utils.GenerateRandomManager(cfg.Seed.ManagerPassword, cfg.Seed.EmailDomain)
				if err != nil {
					slog.Error("无法生成随机管理员", slog.String("error", err.Error()))
					continue
				}

				if err := repo.CreateManager(manager); err != nil {
					slog.Error("无法插入管理员", slog.String("error", err.Error()))
					continue
				}

				cnt--
			}

			slog.Info("插入管理员成功", slog.Int("count", n-cnt))
		}
	case 2:
		if n <= 0 {
			slog.Error("请输入合法的自习室数量")
		} else {
			cnt := n
			for i := 0; i < n; i++ {
				manager, err := utils.GenerateRandomManager(cfg.Seed.ManagerPassword, cfg.Seed.EmailDomain)
				if err != nil {
					slog.Error("无法生成随机管理员", slog.String("error", err.Error()))
					continue
				}
				if err := repo.CreateManager(manager); err != nil {
					slog.Error("无法插入管理员", slog.String("error", err.Error()))
					continue
				}

				lib := randomLibrary(manager.ID)
				if err := repo.CreateLibraryWithSeats(lib, utils.GenerateRandomShiftTemplates()); err != nil {
					slog.Error("无法注册自习室", slog.String("error", err.Error()))
					continue
				}

				cnt--
			}

			slog.Info("注册自习室成功", slog.Int("count", n-cnt))
		}
	case 3:
		if libraryID <= 0 {
			slog.Error("请通过 -library-id 指定自习室")
			return
		}
		if n <= 0 {
			slog.Error("请输入合法的预订数量")
			return
		}

		library, err := repo.GetLibraryByID(libraryID)
		if err != nil {
			slog.Error("无法获取自习室", slog.String("error", err.Error()))
			return
		}

		seats, err := repo.GetSeatsByLibraryID(library.ID)
		if err != nil {
			slog.Error("无法获取座位", slog.String("error", err.Error()))
			return
		}
		if len(seats) == 0 {
			slog.Error("自习室没有座位")
			return
		}

		cnt := n
		for i := 0; i < n; i++ {
			seat := seats[rand.Intn(len(seats))]
			if len(seat.Shifts) == 0 {
				continue
			}
			shift := seat.Shifts[rand.Intn(len(seat.Shifts))]

			student := utils.GenerateRandomStudent(time.Now().Format("2006-01-02"), cfg.Seed.EmailDomain)
			if err := repo.CreateBooking(library.ID, seat.SeatNumber, shift.Name, student); err != nil {
				// 随机挑中的班次可能已被占用，跳过即可
				continue
			}

			cnt--
		}

		slog.Info("填充预订成功", slog.Int("count", n-cnt))
	default:
		slog.Error("不支持的操作", slog.Int("op", op))
	}
}

func randomLibrary(managerID int64) *domain.Library {
	return &domain.Library{
		ManagerID: managerID,
		Name:      fmt.Sprintf("%s自习室", utils.GenerateRandomChineseName()),
		Capacity:  rand.Intn(50) + 10,
		Quote:     "静以修身，俭以养德",
		Location:  fmt.Sprintf("%d 号楼 %d 层", rand.Intn(10)+1, rand.Intn(6)+1),
	}
}
