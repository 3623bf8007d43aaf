package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseUserLockIfMatch 仅当锁值匹配 request_id 时才删除，避免误删新请求锁。
const luaReleaseUserLockIfMatch = `
local lockKey = KEYS[1]
local requestID = ARGV[1]
if redis.call('GET', lockKey) == requestID then
  return redis.call('DEL', lockKey)
end
return 0
`

// AcquireUserLock 给 (场次, 商品, 规格, 用户) 占位，锁值是 request_id。
// 返回 false 表示该用户已经在这个条目上占过位（限购拦截）。
func AcquireUserLock(ctx context.Context, rdb *rd.Client, windowID, productID uint, variantID string, userID int64, requestID string, ttl time.Duration) (bool, error) {
	lockKey := UserPurchaseLockKey(windowID, productID, variantID, userID)
	return rdb.SetNX(ctx, lockKey, requestID, ttl).Result()
}

// ReleaseUserLockIfMatch 安全释放用户占位锁，失败路径回滚时用。
func ReleaseUserLockIfMatch(ctx context.Context, rdb *rd.Client, windowID, productID uint, variantID string, userID int64, requestID string) error {
	lockKey := UserPurchaseLockKey(windowID, productID, variantID, userID)
	_, err := rdb.Eval(ctx, luaReleaseUserLockIfMatch, []string{lockKey}, requestID).Int()
	return err
}
