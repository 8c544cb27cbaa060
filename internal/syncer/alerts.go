package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// publishSyncFailureAlert 在操作被标记为永久失败后向消息队列投递一封提醒邮件。
// 提醒只是尽力而为，投递失败不影响同步流程本身
func (s *Syncer) publishSyncFailureAlert(manager *domain.Manager, op *domain.PendingOperation, retryCount int) {
	if s.alertChannel == nil || manager == nil || manager.Email == "" {
		return
	}

	mailMessage := domain.MailMessage{
		Type: "sync_failed",
		To:   manager.Email,
		Data: domain.SyncFailureMailData{
			ManagerName: manager.Name,
			Method:      op.Method,
			Path:        op.Path,
			RetryCount:  retryCount,
			FailedAt:    time.Now().Format(time.RFC3339),
		},
	}

	emailData, err := json.Marshal(mailMessage)
	if err != nil {
		slog.Error("无法序列化提醒邮件", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.config.RabbitMQ.PublishTimeout)*time.Second)
	defer cancel()

	if err := s.alertChannel.PublishWithContext(
		ctx,
		"",
		"alert_queue",
		true,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        emailData,
		},
	); err != nil {
		slog.Error("无法投递提醒邮件", slog.String("error", err.Error()))
	}
}
