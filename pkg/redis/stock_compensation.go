package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseStockOnce 通过 SETNX 锁保证「同一请求只回补一次」，
// 回补量钳制在 cap 以内。
const luaReleaseStockOnce = `
local lockKey = KEYS[1]
local stockKey = KEYS[2]
local quantity = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local ttlSec = tonumber(ARGV[3])

if redis.call('SETNX', lockKey, '1') == 1 then
  redis.call('EXPIRE', lockKey, ttlSec)
  local current = tonumber(redis.call('GET', stockKey) or '0')
  local target = current + quantity
  if target > cap then
    target = cap
  end
  redis.call('SET', stockKey, target)
  return 1
end
return 0
`

// ReleaseStockOnce 幂等回补配额：
// - 首次回补返回 true
// - 同一 request_id 的重复回补返回 false（不会重复加配额）
func ReleaseStockOnce(ctx context.Context, rdb *rd.Client, requestID, stockKey string, quantity, cap int64) (bool, error) {
	lockKey := ReleaseLockKey(requestID)
	const lockTTLSeconds = int64((7 * 24 * time.Hour) / time.Second)

	n, err := rdb.Eval(ctx, luaReleaseStockOnce, []string{lockKey, stockKey}, quantity, cap, lockTTLSeconds).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
