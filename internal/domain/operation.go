package domain

import (
	"encoding/json"
	"time"
)

type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// PendingOperation 是离线期间（或网络瞬断时）记录下来的一次待重放的变更请求。
// 记录只由队列管理器改动，重放严格按入队顺序进行
type PendingOperation struct {
	ID         int64           `json:"id"`
	Method     string          `json:"method"`
	Path       string          `json:"path"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
	Status     OperationStatus `json:"status"`
}
