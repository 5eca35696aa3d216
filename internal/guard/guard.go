package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"alarm-broker/internal/config"
	"alarm-broker/internal/errs"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// rateWindowSeconds 限流计数键的过期时间（窗口 60s + 安全余量）
const rateWindowSeconds = 70

// Guard 触发入口守卫：幂等去重 + 限流
// 两个共享可变资源都由 Redis 的原子原语保护：
// 幂等预留用 SETNX+TTL，限流计数用 INCR+EXPIRE
type Guard struct {
	redisClient *redis.Client
	logger      *zap.Logger

	bucketSeconds  int
	reservationTTL time.Duration
	limitPerMinute int

	now func() time.Time
}

// New 创建守卫
func New(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *Guard {
	return &Guard{
		redisClient:    redisClient,
		logger:         logger,
		bucketSeconds:  cfg.Trigger.BucketSeconds,
		reservationTTL: time.Duration(cfg.Trigger.ReservationTTL) * time.Second,
		limitPerMinute: cfg.Trigger.RateLimitPerMinute,
		now:            time.Now,
	}
}

// bucket 当前幂等时间桶
func (g *Guard) bucket() int64 {
	return g.now().Unix() / int64(g.bucketSeconds)
}

// minuteBucket 当前限流分钟桶
func (g *Guard) minuteBucket() int64 {
	return g.now().Unix() / 60
}

// idempotencyKey 幂等键：对 (token, bucket) 做单向哈希，不存原始 token
func idempotencyKey(token string, bucket int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", token, bucket)))
	return "idemp:" + hex.EncodeToString(sum[:])
}

// rateLimitKey 限流键：同样只存 token 哈希
func rateLimitKey(token string, bucket int64) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("rl:%s:%d", hex.EncodeToString(sum[:]), bucket)
}

// HashTokenForLogging 日志安全的 token 摘要（前 16 位十六进制）
func HashTokenForLogging(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

// CheckDuplicate 检查当前桶内是否已有预留
// 返回已预留的报警 id；Redis 里的脏值（非 UUID）会被清掉
func (g *Guard) CheckDuplicate(ctx context.Context, token string) (string, bool, error) {
	key := idempotencyKey(token, g.bucket())

	val, err := g.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to check idempotency: %w", err)
	}

	if _, parseErr := uuid.Parse(val); parseErr != nil {
		g.redisClient.Del(ctx, key)
		return "", false, nil
	}

	return val, true, nil
}

// Reserve 在当前桶内预留一个报警 id
// winner=true 表示本次请求抢到了预留（首个请求）；false 表示拿到的是别人的预留
func (g *Guard) Reserve(ctx context.Context, token string) (string, bool, error) {
	key := idempotencyKey(token, g.bucket())

	// 最多重试 3 次处理竞态
	for attempt := 0; attempt < 3; attempt++ {
		reservedID := uuid.New().String()
		ok, err := g.redisClient.SetNX(ctx, key, reservedID, g.reservationTTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if ok {
			return reservedID, true, nil
		}

		existing, err := g.redisClient.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				// 预留刚好过期/被删，重试
				continue
			}
			return "", false, fmt.Errorf("failed to read existing reservation: %w", err)
		}
		if _, parseErr := uuid.Parse(existing); parseErr == nil {
			return existing, false, nil
		}
		// 脏值，清掉重试
		g.redisClient.Del(ctx, key)
	}

	return "", false, fmt.Errorf("idempotency reservation failed after retries")
}

// Release 回滚当前桶的预留（后续校验失败时调用，避免阻塞同桶内的合法重试）
func (g *Guard) Release(ctx context.Context, token string) error {
	key := idempotencyKey(token, g.bucket())
	if err := g.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// AllowRate 限流计数
// 幂等检查在前，重复请求不会走到这里，所以重试不消耗配额
func (g *Guard) AllowRate(ctx context.Context, token string) error {
	key := rateLimitKey(token, g.minuteBucket())

	count, err := g.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if count == 1 {
		if err := g.redisClient.Expire(ctx, key, rateWindowSeconds*time.Second).Err(); err != nil {
			g.logger.Warn("Failed to set rate counter expiry",
				zap.String("token_hash", HashTokenForLogging(token)),
				zap.Error(err),
			)
		}
	}

	if count > int64(g.limitPerMinute) {
		return fmt.Errorf("%w: %d requests per minute", errs.ErrRateLimitExceeded, g.limitPerMinute)
	}

	return nil
}
