package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/seat-manager/internal/agent"
	"github.com/sysu-ecnc-dev/seat-manager/internal/config"
	"github.com/sysu-ecnc-dev/seat-manager/internal/localstore"
	"github.com/sysu-ecnc-dev/seat-manager/internal/remote"
	"github.com/sysu-ecnc-dev/seat-manager/internal/syncer"
)

func main() {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * 加载配置
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法加载配置文件", "error", err)
		return
	}

	/**********************************************
	 * 打开本地存储
	 **********************************************/
	store, err := localstore.Open(cfg)
	if err != nil {
		logger.Error("无法打开本地存储", "error", err, "path", cfg.Agent.StorePath)
		return
	}
	defer store.Close()

	/**********************************************
	 * 连接 rabbitmq（可选）
	 **********************************************/
	// 同步失败提醒依赖消息队列，没配置 DSN 时网关照常工作，只是不发提醒
	var alertChannel *amqp.Channel
	if cfg.RabbitMQ.DSN != "" {
		conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
		if err != nil {
			logger.Error("无法连接到 rabbitmq", "error", err)
			return
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			logger.Error("无法建立通道", "error", err)
			return
		}
		defer ch.Close()

		_, err = ch.QueueDeclare(
			"alert_queue",
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			logger.Error("无法声明队列", "error", err)
			return
		}
		alertChannel = ch
	}

	/**********************************************
	 * 创建远端客户端和同步器
	 **********************************************/
	client := remote.NewClient(cfg)
	sync := syncer.NewSyncer(cfg, store, client, alertChannel)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go sync.RunConnectivityMonitor(monitorCtx)

	// 启动时先跑一轮同步，把上次离线期间攒下的操作尽快重放出去
	go func() {
		if err := sync.Sync(monitorCtx); err != nil {
			logger.Error("启动同步失败", "error", err)
		}
	}()

	/**********************************************
	 * 创建 handler
	 **********************************************/
	handler, err := agent.NewHandler(cfg, store, client, sync)
	if err != nil {
		logger.Error("无法创建 handler", "error", err)
		return
	}
	handler.RegisterRoutes()

	/**********************************************
	 * 启动 HTTP 服务器
	 **********************************************/
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Agent.Port),
		Handler:      handler.Mux,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("正在启动网关...", "port", cfg.Agent.Port, "backend", cfg.Remote.BaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("无法启动网关", slog.String("error", err.Error()))
			return
		}
	}()

	<-quit
	logger.Info("正在关闭网关...")
	stopMonitor()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("关闭网关失败", slog.String("error", err.Error()))
	}
	logger.Info("网关已成功关闭")
}
