package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"flash_mall/internal/model"
	redisx "flash_mall/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// requestStateTTL 查询缓存的保留时长，和订单查询的实际时效匹配即可。
const requestStateTTL = 24 * time.Hour

// Consumer 消费下单事件，落订单并推进 order_request 状态。
// 幂等依赖 orders.request_id 的唯一索引：重复消息当作成功。
type Consumer struct {
	r   *kafka.Reader
	db  *gorm.DB
	rdb *rd.Client
	log *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, db *gorm.DB, rdb *rd.Client, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		db:  db,
		rdb: rdb,
		log: log,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		var msg OrderMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			c.log.Error("consumer unmarshal", zap.Error(err))
			continue
		}
		if err := msg.Validate(); err != nil {
			c.log.Error("consumer drop invalid message",
				zap.String("request_id", msg.RequestID), zap.Error(err))
			continue
		}

		if err := c.createOrder(ctx, msg); err != nil {
			c.log.Error("consumer create order",
				zap.String("request_id", msg.RequestID), zap.Error(err))
		}
	}
}

func (c *Consumer) createOrder(ctx context.Context, msg OrderMessage) error {
	order := &model.Order{
		RequestID: msg.RequestID,
		OrderNo:   "FS" + strings.ReplaceAll(msg.RequestID, "-", "")[:16],
		UserID:    msg.UserID,
		WindowID:  msg.WindowID,
		ProductID: msg.ProductID,
		VariantID: msg.VariantID,
		Quantity:  msg.Quantity,
		UnitPrice: msg.UnitPrice,
		Amount:    msg.Amount,
		Status:    model.OrderPending,
	}

	if err := c.db.Create(order).Error; err != nil {
		// 幂等：重复消息导致 UNIQUE 冲突，直接当作成功
		if !errorsLikeUnique(err) {
			return err
		}
		if ferr := c.db.Where("request_id = ?", msg.RequestID).First(order).Error; ferr != nil {
			if errors.Is(ferr, gorm.ErrRecordNotFound) {
				// 唯一冲突却查不到订单，留给下一轮重试
				return ferr
			}
			return ferr
		}
	}

	if err := c.db.Model(&model.OrderRequest{}).
		Where("request_id = ? AND status = ?", msg.RequestID, model.OrderRequestPending).
		Updates(map[string]any{
			"status":   model.OrderRequestSuccess,
			"order_no": order.OrderNo,
		}).Error; err != nil {
		return err
	}

	// 查询缓存尽力写，失败不影响订单一致性。
	if err := redisx.PutRequestState(ctx, c.rdb, msg.RequestID,
		redisx.RequestSuccess, order.OrderNo, "", requestStateTTL); err != nil {
		c.log.Warn("consumer put request state",
			zap.String("request_id", msg.RequestID), zap.Error(err))
	}
	return nil
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
