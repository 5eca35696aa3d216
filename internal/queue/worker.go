package queue

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler 任务处理函数
type Handler func(ctx context.Context, payload json.RawMessage) error

// Worker 轮询队列并分发任务
// 处理函数的错误只记录日志，永远不会回抛到队列：
// 通知/升级失败是按次审计的，不应该让一个报警的故障拖住其他报警
type Worker struct {
	queue    *Queue
	handlers map[string]Handler
	logger   *zap.Logger

	pollInterval time.Duration
	concurrency  int
	batchSize    int64

	now func() time.Time
}

// NewWorker 创建 worker
func NewWorker(queue *Queue, pollInterval time.Duration, concurrency int, batchSize int64, logger *zap.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if batchSize <= 0 {
		batchSize = 16
	}
	return &Worker{
		queue:        queue,
		handlers:     make(map[string]Handler),
		logger:       logger,
		pollInterval: pollInterval,
		concurrency:  concurrency,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// Register 注册任务处理函数
func (w *Worker) Register(name string, handler Handler) {
	w.handlers[name] = handler
}

// Start 启动轮询循环（阻塞直到 ctx 取消）
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Job worker started",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("concurrency", w.concurrency),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// 立即执行一轮
	w.drainOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Job worker stopped")
			return nil
		case <-ticker.C:
			w.drainOnce(ctx)
		}
	}
}

// drainOnce 取一批到期任务并发分发
func (w *Worker) drainOnce(ctx context.Context) {
	jobs, err := w.queue.Due(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Error("Failed to fetch due jobs",
			zap.Error(err),
		)
		return
	}
	if len(jobs) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			w.dispatch(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

// maxRequeues panic 后最多重投一次，处理函数确定性崩溃时不无限循环
const maxRequeues = 1

// dispatch 执行单个任务
// ZREM 认领后信封只在内存里，处理协程 panic 时放回队列兜底
func (w *Worker) dispatch(ctx context.Context, job Job) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		w.logger.Error("Job handler panicked",
			zap.String("job_id", job.ID),
			zap.String("job_name", job.Name),
			zap.Any("panic", r),
		)
		if job.Attempts >= maxRequeues {
			w.logger.Error("Job dropped after repeated panics",
				zap.String("job_id", job.ID),
				zap.String("job_name", job.Name),
			)
			return
		}
		job.Attempts++
		if err := w.queue.Requeue(ctx, job); err != nil {
			w.logger.Error("Failed to requeue job after panic",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}()

	handler, ok := w.handlers[job.Name]
	if !ok {
		w.logger.Warn("No handler registered for job",
			zap.String("job_id", job.ID),
			zap.String("job_name", job.Name),
		)
		return
	}

	if err := handler(ctx, job.Payload); err != nil {
		w.logger.Error("Job handler failed",
			zap.String("job_id", job.ID),
			zap.String("job_name", job.Name),
			zap.Error(err),
		)
	}
}
