package remote

import (
	"errors"
	"fmt"
)

// ErrNetwork 表示请求根本没有到达服务端（连接失败、超时等）。
// 这类错误可以安全重试，队列重放只在遇到它时停下来等待网络恢复
var ErrNetwork = errors.New("无法连接到远端服务")

// ErrUnauthorized 表示服务端拒绝了当前会话的凭证，
// 继续重放只会得到同样的结果，应当清理会话并要求重新登录
var ErrUnauthorized = errors.New("会话凭证已失效")

// StatusError 携带服务端返回的非 2xx 状态码和提示信息。
// 请求已经被服务端受理并明确拒绝，重试不会改变结果
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("远端返回 %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("远端返回 %d", e.Code)
}

// Retryable 判断一次失败是否值得原样重试。
// 只有没到达服务端的失败才算，服务端明确拒绝的请求重试没有意义
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
