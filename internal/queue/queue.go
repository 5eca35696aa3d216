package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job 延迟任务信封
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueued_at"`
	Attempts   int             `json:"attempts,omitempty"`
}

// Queue Redis 有序集合实现的延迟任务队列
// score = 到期时间（Unix 秒），member = 任务信封 JSON
// 每个信封带唯一 id，相同任务重复入队不会互相覆盖
type Queue struct {
	redisClient *redis.Client
	key         string
	logger      *zap.Logger
}

// NewQueue 创建队列
func NewQueue(redisClient *redis.Client, key string, logger *zap.Logger) *Queue {
	return &Queue{
		redisClient: redisClient,
		key:         key,
		logger:      logger,
	}
}

// Enqueue 入队（delay=0 表示立即到期）
func (q *Queue) Enqueue(ctx context.Context, name string, payload interface{}, delay time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := time.Now()
	job := Job{
		ID:         uuid.New().String(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: now.Unix(),
	}

	member, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	due := now.Add(delay).Unix()
	if err := q.redisClient.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(due),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Debug("Job enqueued",
		zap.String("job_id", job.ID),
		zap.String("job_name", name),
		zap.Duration("delay", delay),
	)

	return nil
}

// Requeue 把已认领的任务放回队列（立即到期）
// worker 在处理协程崩溃时调用，避免认领后丢任务
func (q *Queue) Requeue(ctx context.Context, job Job) error {
	member, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.redisClient.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	return nil
}

// Due 取出已到期的任务
// 认领通过 ZREM 完成：只有删除成功（返回 1）的调用方拥有该任务，
// 多个并发 worker 不会重复执行同一个信封
// 进程在认领和执行之间整个崩溃会丢掉信封；协程 panic 由 worker 重投兜底
func (q *Queue) Due(ctx context.Context, now time.Time, limit int64) ([]Job, error) {
	members, err := q.redisClient.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return []Job{}, nil
		}
		return nil, fmt.Errorf("failed to read due jobs: %w", err)
	}

	jobs := []Job{}
	for _, member := range members {
		removed, err := q.redisClient.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}
		if removed == 0 {
			// 被别的 worker 抢走了
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logger.Error("Failed to unmarshal job, dropping",
				zap.Error(err),
			)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}
