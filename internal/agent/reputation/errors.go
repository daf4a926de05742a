package reputation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	ErrTimeout     = errors.New("请求超时")
	ErrConnection  = errors.New("连接失败")
	ErrTransport   = errors.New("传输错误")
	ErrStatus      = errors.New("非预期的 HTTP 状态")
	ErrBadResponse = errors.New("响应格式错误")
)

// Kind 返回用于日志和指标的失败类别，nil 返回 "ok"。
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrStatus):
		return "status"
	case errors.Is(err, ErrBadResponse):
		return "response"
	default:
		return "transport"
	}
}

// classifyNetErr 把 net/http 返回的错误归入 ErrTimeout / ErrConnection / ErrTransport。
// 上层 ctx 被取消时保留 context.Canceled，便于调用方区分“关机”与“网络故障”。
func classifyNetErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w：%w", ErrTimeout, err)
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return fmt.Errorf("%w：%w", ErrConnection, err)
	}
	return fmt.Errorf("%w：%w", ErrTransport, err)
}
