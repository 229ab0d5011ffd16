package queue

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"housingworkshop/internal/pkg/metrics"
)

var (
	// ErrClosed 队列已关闭，不再接受任务。
	ErrClosed = errors.New("queue closed")
	// ErrFull 队列已满。
	ErrFull = errors.New("queue full")
)

// Job 是一个后台任务。Name 只用于日志。
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool 是固定大小的后台 worker 池，用于请求之外的异步工作（如发送邮件）。
//
// 入队不阻塞：队列满时直接返回 ErrFull，由调用方决定是否降级。
type Pool struct {
	logger     *slog.Logger
	workers    int
	jobTimeout time.Duration
	jobs       chan Job

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	stopRun context.CancelFunc

	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 是队列计数的快照。
type Stats struct {
	Pending   int   `json:"pending"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Panics    int64 `json:"panics"`
}

// NewPool 创建 worker 池。workers 与 capacity 至少为 1；jobTimeout<=0 表示不限时。
func NewPool(logger *slog.Logger, workers, capacity int, jobTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:     logger,
		workers:    workers,
		jobTimeout: jobTimeout,
		jobs:       make(chan Job, capacity),
	}
}

// Start 启动 worker。ctx 取消时正在执行的任务收到取消信号，但队列中剩余任务仍会在 Shutdown 时执行完。
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.stopRun = cancel
	context.AfterFunc(ctx, cancel)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(ctx, id, job)
	}
}

func (p *Pool) run(ctx context.Context, workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			metrics.QueueJobsTotal.WithLabelValues("panic").Inc()
			p.logger.Error("job panic recovered",
				slog.String("job", job.Name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	if err := job.Run(ctx); err != nil {
		p.failed.Add(1)
		metrics.QueueJobsTotal.WithLabelValues("failed").Inc()
		p.logger.Warn("job failed",
			slog.String("job", job.Name),
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		return
	}
	p.succeeded.Add(1)
	metrics.QueueJobsTotal.WithLabelValues("succeeded").Inc()
}

// Submit 非阻塞入队。
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run func")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		p.dropped.Add(1)
		metrics.QueueJobsTotal.WithLabelValues("dropped").Inc()
		p.logger.Warn("queue full, drop job",
			slog.String("job", job.Name),
			slog.Int("capacity", cap(p.jobs)))
		return ErrFull
	}
}

// Shutdown 停止接收新任务并等待队列排空；ctx 到期时取消仍在执行的任务并返回 ctx.Err()。
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("queue drained")
		return nil
	case <-ctx.Done():
		if p.stopRun != nil {
			p.stopRun()
		}
		p.logger.Error("queue shutdown timeout", slog.Int("pending", len(p.jobs)))
		return ctx.Err()
	}
}

// Stats 返回计数快照。
func (p *Pool) Stats() Stats {
	return Stats{
		Pending:   len(p.jobs),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Panics:    p.panics.Load(),
	}
}
