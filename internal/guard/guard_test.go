package guard

import (
	"context"
	"testing"
	"time"

	"alarm-broker/internal/config"
	"alarm-broker/internal/errs"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupGuard(t *testing.T) (*miniredis.Miniredis, *Guard) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{}
	cfg.Trigger.BucketSeconds = 10
	cfg.Trigger.ReservationTTL = 30
	cfg.Trigger.RateLimitPerMinute = 10

	return mr, New(cfg, client, zap.NewNop())
}

func TestReserveAndCheckDuplicate(t *testing.T) {
	_, g := setupGuard(t)
	ctx := context.Background()

	// 固定时间，保证都落在同一个桶里
	base := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return base }

	id, winner, err := g.Reserve(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, winner)
	assert.NotEmpty(t, id)

	// 同桶内的重复请求拿到同一个 id
	existing, dup, err := g.CheckDuplicate(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, id, existing)

	// 再次预留：输掉竞争，拿到已有 id
	id2, winner2, err := g.Reserve(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, winner2)
	assert.Equal(t, id, id2)
}

func TestCheckDuplicate_NewBucket(t *testing.T) {
	_, g := setupGuard(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return base }

	_, winner, err := g.Reserve(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, winner)

	// 跨桶：新桶里没有预留
	g.now = func() time.Time { return base.Add(10 * time.Second) }

	_, dup, err := g.CheckDuplicate(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRelease(t *testing.T) {
	_, g := setupGuard(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return base }

	id1, _, err := g.Reserve(ctx, "tok-1")
	require.NoError(t, err)

	require.NoError(t, g.Release(ctx, "tok-1"))

	// 回滚后同桶内可以重新预留
	id2, winner, err := g.Reserve(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, winner)
	assert.NotEqual(t, id1, id2)
}

func TestCheckDuplicate_GarbageValue(t *testing.T) {
	mr, g := setupGuard(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return base }

	// 往幂等键里塞一个非 UUID 的脏值
	key := idempotencyKey("tok-1", base.Unix()/10)
	require.NoError(t, mr.Set(key, "not-a-uuid"))

	_, dup, err := g.CheckDuplicate(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, dup)

	// 脏值已被清掉
	assert.False(t, mr.Exists(key))
}

func TestAllowRate(t *testing.T) {
	_, g := setupGuard(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		require.NoError(t, g.AllowRate(ctx, "tok-1"))
	}

	// 第 11 次被拒
	err := g.AllowRate(ctx, "tok-1")
	assert.ErrorIs(t, err, errs.ErrRateLimitExceeded)

	// 别的设备不受影响
	assert.NoError(t, g.AllowRate(ctx, "tok-2"))
}

func TestAllowRate_NewMinute(t *testing.T) {
	_, g := setupGuard(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		require.NoError(t, g.AllowRate(ctx, "tok-1"))
	}
	assert.ErrorIs(t, g.AllowRate(ctx, "tok-1"), errs.ErrRateLimitExceeded)

	// 下一分钟配额重置
	g.now = func() time.Time { return base.Add(time.Minute) }
	assert.NoError(t, g.AllowRate(ctx, "tok-1"))
}

func TestReservationExpiry(t *testing.T) {
	mr, g := setupGuard(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return base }

	_, winner, err := g.Reserve(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, winner)

	// TTL 过期后预留消失
	mr.FastForward(31 * time.Second)

	_, dup, err := g.CheckDuplicate(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestHashTokenForLogging(t *testing.T) {
	h := HashTokenForLogging("secret-token")
	assert.Len(t, h, 16)
	assert.NotContains(t, h, "secret")
	assert.Equal(t, h, HashTokenForLogging("secret-token"))
}
