package notify

import (
	"context"
)

// Notifier 定义告警通知接口。
//
// 系统无人值守运行，任务级失败唯一的可见出口就是这里：
// 队列错误回调、注册中心查询失败等都会汇聚到 Notifier。
type Notifier interface {
	// Error 上报一条错误消息。
	//
	// 参数:
	//   ctx: 上下文
	//   message: 错误描述（包含来源 / 车辆等定位信息）
	//   err: 原始错误（可为 nil）
	Error(ctx context.Context, message string, err error)
}

// Nop 空实现，未配置通知渠道时使用。
type Nop struct{}

func (Nop) Error(ctx context.Context, message string, err error) {}

// Multi 把同一条告警扇出到多个渠道。
type Multi []Notifier

func (m Multi) Error(ctx context.Context, message string, err error) {
	for _, n := range m {
		n.Error(ctx, message, err)
	}
}
