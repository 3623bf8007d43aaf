package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReserveStock：Redis 内原子「读剩余 → 判断 ≥ 扣减量 → DECRBY」
// KEYS[1]=配额key，ARGV[1]=扣减数量；返回扣减后的剩余值，不足则返回
// -(当前剩余+1)，调用方据此还原实际剩余，整单失败不做部分扣减。
const luaReserveStock = `
local key = KEYS[1]
local decr = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', key) or '0')
if current >= decr then
  return redis.call('DECRBY', key, decr)
else
  return -(current + 1)
end
`

// luaReleaseStock：回补配额并钳制在 cap（= 条目总配额）以内，
// 保证 sold 不会被重复取消打到负数。
const luaReleaseStock = `
local key = KEYS[1]
local incr = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
local target = current + incr
if target > cap then
  target = cap
end
redis.call('SET', key, target)
return target
`

// ReserveEntryStock 原子扣减条目剩余配额。
// ok=false 表示剩余不足，此时 remaining 为当前实际剩余（未被修改）。
func ReserveEntryStock(ctx context.Context, rdb *rd.Client, key string, quantity int64) (remaining int64, ok bool, err error) {
	res, err := rdb.Eval(ctx, luaReserveStock, []string{key}, quantity).Int64()
	if err != nil {
		return 0, false, err
	}
	if res < 0 {
		return -res - 1, false, nil
	}
	return res, true, nil
}

// ReleaseEntryStock 回补配额，结果钳制在 cap；返回回补后的剩余值。
func ReleaseEntryStock(ctx context.Context, rdb *rd.Client, key string, quantity, cap int64) (int64, error) {
	return rdb.Eval(ctx, luaReleaseStock, []string{key}, quantity, cap).Int64()
}

// PreloadEntryStock 把 DB 侧剩余配额预热到 Redis（覆盖写，管理端动作）。
func PreloadEntryStock(ctx context.Context, rdb *rd.Client, key string, remaining int64, ttl time.Duration) error {
	return rdb.Set(ctx, key, remaining, ttl).Err()
}

// EnsureEntryStock 仅当键不存在时写入剩余配额，供购买路径兜底，
// 避免未预热的条目直接按 0 库存拒单。
func EnsureEntryStock(ctx context.Context, rdb *rd.Client, key string, remaining int64, ttl time.Duration) error {
	return rdb.SetNX(ctx, key, remaining, ttl).Err()
}
