package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// ErrorHandler 错误处理回调函数。
//
// 任务的失败在队列边界被拦截：回调只负责上报（日志 / 告警），
// 错误绝不会传播给 Submit 或 WaitIdle 的调用方，也不会影响兄弟任务。
type ErrorHandler func(err error, job Job)

// Queue 提供进程内的任务队列与固定 worker 池。
//
// 与普通 worker 池不同的两点约定：
//  1. Submit 永不阻塞：积压任务保存在无界 backlog 中，正在执行的任务
//     可以安全地继续 Submit 新任务（分页链、详情扇出都依赖这一点）。
//  2. WaitIdle 是不动点语义：只有当 backlog 为空且没有任务在执行时才返回，
//     执行中任务新提交的任务会延长等待。
type Queue struct {
	logger       *slog.Logger
	workers      int
	errorHandler ErrorHandler

	mu          sync.Mutex
	backlog     []Job
	outstanding int           // 排队中 + 执行中的任务数
	idle        chan struct{} // outstanding 归零时关闭
	closed      bool

	wake chan struct{}
	wg   sync.WaitGroup

	// 指标统计
	stats queueStats
}

// queueStats 队列内部统计信息（使用 atomic 类型）。
type queueStats struct {
	TotalSubmitted atomic.Int64 // 总提交任务数
	TotalProcessed atomic.Int64 // 总处理完成数
	TotalSucceeded atomic.Int64 // 成功任务数
	TotalFailed    atomic.Int64 // 失败任务数
	TotalPanics    atomic.Int64 // Panic 次数
}

// Stats 队列统计信息快照（普通值类型，可安全拷贝）。
type Stats struct {
	TotalSubmitted int64 // 总提交任务数
	TotalProcessed int64 // 总处理完成数
	TotalSucceeded int64 // 成功任务数
	TotalFailed    int64 // 失败任务数
	TotalPanics    int64 // Panic 次数
}

// New 创建一个新的任务队列。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1），即并发上限
//
// 返回值:
//   - *Queue: 队列实例
func New(logger *slog.Logger, workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	idle := make(chan struct{})
	close(idle) // 初始即空闲
	return &Queue{
		logger:  logger,
		workers: workers,
		idle:    idle,
		wake:    make(chan struct{}, 1),
	}
}

// SetErrorHandler 设置错误处理回调函数。
func (q *Queue) SetErrorHandler(handler ErrorHandler) {
	q.errorHandler = handler
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// worker 单个 worker 的执行逻辑。
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.backlog) > 0 {
			job := q.backlog[0]
			q.backlog = q.backlog[1:]
			q.mu.Unlock()
			q.executeJob(ctx, job, id)
			q.taskDone()
			continue
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			q.logger.Debug("worker exit on closed queue", slog.Int("worker_id", id))
			return
		}
		select {
		case <-ctx.Done():
			q.logger.Debug("worker stopped", slog.Int("worker_id", id))
			return
		case <-q.wake:
		}
	}
}

// executeJob 执行单个任务，带 panic 恢复和错误处理。
func (q *Queue) executeJob(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.TotalPanics.Add(1)
			q.stats.TotalFailed.Add(1)
			q.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			if q.errorHandler != nil {
				q.errorHandler(fmt.Errorf("job panic: %v", r), job)
			}
		}
	}()

	err := job(ctx)
	q.stats.TotalProcessed.Add(1)

	if err != nil {
		q.stats.TotalFailed.Add(1)
		q.logger.Warn("job failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))

		if q.errorHandler != nil {
			q.errorHandler(err, job)
		}
	} else {
		q.stats.TotalSucceeded.Add(1)
	}
}

// taskDone 在任务结束（无论成败）后递减计数，归零时广播空闲。
func (q *Queue) taskDone() {
	q.mu.Lock()
	q.outstanding--
	if q.outstanding == 0 {
		close(q.idle)
	}
	q.mu.Unlock()
}

// Submit 将任务放入队列。
//
// backlog 无界，调用方（包括正在执行的任务）永不阻塞；
// 队列关闭后提交的任务被拒绝并返回 false。
func (q *Queue) Submit(job Job) bool {
	if job == nil {
		return false
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("queue is closed, reject job")
		return false
	}
	if q.outstanding == 0 {
		q.idle = make(chan struct{})
	}
	q.outstanding++
	q.backlog = append(q.backlog, job)
	q.mu.Unlock()

	q.stats.TotalSubmitted.Add(1)

	// 唤醒一个睡眠中的 worker；已醒着的 worker 会自行扫空 backlog
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// WaitIdle 阻塞直到队列中没有排队或执行中的任务。
//
// 这是不动点检测而不是快照计数：空闲信号触发后会重新检查，
// 执行中任务递归提交的任务同样会被等到。
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.outstanding == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
			// 重新检查：空闲与新提交之间存在竞争窗口
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown 优雅关闭队列：
//  1. 标记为已关闭（拒绝新任务）
//  2. 唤醒全部 worker
//  3. 等待所有 worker 完成当前任务
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.logger.Info("queue shutdown initiated, waiting for workers to finish")
	close(q.wake)
	q.wg.Wait()
	q.logger.Info("queue shutdown completed")
}

// GetStats 获取队列统计信息的快照。
func (q *Queue) GetStats() Stats {
	return Stats{
		TotalSubmitted: q.stats.TotalSubmitted.Load(),
		TotalProcessed: q.stats.TotalProcessed.Load(),
		TotalSucceeded: q.stats.TotalSucceeded.Load(),
		TotalFailed:    q.stats.TotalFailed.Load(),
		TotalPanics:    q.stats.TotalPanics.Load(),
	}
}

// Len 返回当前排队中（未开始执行）的任务数量。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Outstanding 返回排队中 + 执行中的任务总数。
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// IsClosed 返回队列是否已关闭。
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// String 返回队列的状态描述。
func (q *Queue) String() string {
	stats := q.GetStats()
	return fmt.Sprintf("Queue[workers=%d, outstanding=%d, closed=%v, submitted=%d, processed=%d, succeeded=%d, failed=%d, panics=%d]",
		q.workers,
		q.Outstanding(),
		q.IsClosed(),
		stats.TotalSubmitted,
		stats.TotalProcessed,
		stats.TotalSucceeded,
		stats.TotalFailed,
		stats.TotalPanics,
	)
}
