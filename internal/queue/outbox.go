package queue

import (
	"context"
	"strconv"

	rd "github.com/redis/go-redis/v9"
)

// AppendOrderEvent 把下单事件原子写入 Redis Stream outbox，
// 由 Relay 异步转发到 Kafka。API 路径只依赖 Redis 一种外部件，
// Kafka 抖动不影响抢购主链路。
func AppendOrderEvent(ctx context.Context, rdb *rd.Client, stream string, msg OrderMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"request_id": msg.RequestID,
			"window_id":  strconv.FormatUint(uint64(msg.WindowID), 10),
			"product_id": strconv.FormatUint(uint64(msg.ProductID), 10),
			"variant_id": msg.VariantID,
			"user_id":    strconv.FormatInt(msg.UserID, 10),
			"quantity":   strconv.Itoa(msg.Quantity),
			"unit_price": strconv.FormatInt(msg.UnitPrice, 10),
			"amount":     strconv.FormatInt(msg.Amount, 10),
		},
	}).Err()
}
