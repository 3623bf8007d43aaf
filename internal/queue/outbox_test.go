package queue

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"flash_mall/internal/model"
	redisx "flash_mall/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRedis(t *testing.T) *rd.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.OrderRequest{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

// outbox 写入的字段必须能被 relay 的解析端原样还原。
func TestAppendOrderEvent_RoundTrip(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	const stream = "test:order_events"

	msg := validMsg()
	require.NoError(t, AppendOrderEvent(ctx, rdb, stream, msg))

	entries, err := rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	parsed, err := parseOrderEvent(entries[0].Values)
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)
}

func TestAppendOrderEvent_RejectsInvalid(t *testing.T) {
	rdb := newTestRedis(t)
	m := validMsg()
	m.RequestID = ""
	assert.Error(t, AppendOrderEvent(context.Background(), rdb, "s", m))
}

func TestConsumerCreateOrder_Idempotent(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	ctx := context.Background()

	msg := validMsg()
	require.NoError(t, db.Create(&model.OrderRequest{
		RequestID: msg.RequestID,
		UserID:    msg.UserID,
		WindowID:  msg.WindowID,
		ProductID: msg.ProductID,
		VariantID: msg.VariantID,
		Quantity:  msg.Quantity,
		UnitPrice: msg.UnitPrice,
		Amount:    msg.Amount,
		Status:    model.OrderRequestPending,
	}).Error)

	c := &Consumer{db: db, rdb: rdb, log: zap.NewNop()}

	// 重复消息（Kafka at-least-once）只落一单
	require.NoError(t, c.createOrder(ctx, msg))
	require.NoError(t, c.createOrder(ctx, msg))

	var count int64
	require.NoError(t, db.Model(&model.Order{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var order model.Order
	require.NoError(t, db.Where("request_id = ?", msg.RequestID).First(&order).Error)
	assert.Equal(t, msg.UnitPrice, order.UnitPrice)
	assert.Equal(t, msg.Amount, order.Amount)
	assert.True(t, strings.HasPrefix(order.OrderNo, "FS"))

	var req model.OrderRequest
	require.NoError(t, db.Where("request_id = ?", msg.RequestID).First(&req).Error)
	assert.Equal(t, model.OrderRequestSuccess, req.Status)
	assert.Equal(t, order.OrderNo, req.OrderNo)

	state, found, err := redisx.GetRequestState(ctx, rdb, msg.RequestID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, redisx.RequestSuccess, state.Status)
	assert.Equal(t, order.OrderNo, state.OrderNo)
}
