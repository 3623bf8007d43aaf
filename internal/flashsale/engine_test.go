package flashsale

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"flash_mall/internal/model"
	redisx "flash_mall/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestEngine(t *testing.T) (*Engine, *gorm.DB, *rd.Client) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.FlashSaleWindow{},
		&model.FlashSaleEntry{},
	))
	// 单连接串行化 SQLite 写入，并发测试才不会撞 database is locked
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewEngine(db, rdb, nil, time.UTC, time.Hour), db, rdb
}

func seedWindow(t *testing.T, db *gorm.DB, start, end time.Time, stock, sold int64) model.FlashSaleWindow {
	t.Helper()
	w := model.FlashSaleWindow{
		Name:      "限时秒杀",
		StartTime: start,
		EndTime:   end,
		TimeSlot:  "09:00-12:00",
		Entries: []model.FlashSaleEntry{{
			ProductID:      1,
			VariantID:      "std",
			FlashSalePrice: 4990,
			OriginalPrice:  9990,
			Stock:          stock,
			Sold:           sold,
		}},
	}
	require.NoError(t, db.Create(&w).Error)
	return w
}

func entryOf(t *testing.T, db *gorm.DB, id uint) model.FlashSaleEntry {
	t.Helper()
	var e model.FlashSaleEntry
	require.NoError(t, db.First(&e, id).Error)
	return e
}

func TestReserve_Success(t *testing.T) {
	engine, db, rdb := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), 10, 0)

	res, err := engine.Reserve(ctx, w.ID, 1, "std", 3, now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Remaining)
	assert.Equal(t, int64(4990), res.UnitPrice)

	assert.Equal(t, int64(3), entryOf(t, db, w.Entries[0].ID).Sold)

	key := redisx.EntryStockKey(w.ID, 1, "std")
	val, err := rdb.Get(ctx, key).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), val)
}

func TestReserve_NoPartialReservation(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), 2, 0)

	_, err := engine.Reserve(ctx, w.ID, 1, "std", 5, now)
	remaining, ok := IsInsufficientStock(err)
	require.True(t, ok, "want InsufficientStockError, got %v", err)
	assert.Equal(t, int64(2), remaining)

	// 整单失败：sold 不动，剩余配额原样
	assert.Equal(t, int64(0), entryOf(t, db, w.Entries[0].ID).Sold)

	res, err := engine.Reserve(ctx, w.ID, 1, "std", 2, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestReserve_WindowNotActive(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(time.Hour), now.Add(2*time.Hour), 10, 0)

	// 未开始
	_, err := engine.Reserve(ctx, w.ID, 1, "std", 1, now)
	assert.ErrorIs(t, err, ErrWindowNotActive)

	// 刚结束（UI 认为还在的竞态）：end 时刻即不可买
	_, err = engine.Reserve(ctx, w.ID, 1, "std", 1, w.EndTime)
	assert.ErrorIs(t, err, ErrWindowNotActive)

	// sold 没被碰
	assert.Equal(t, int64(0), entryOf(t, db, w.Entries[0].ID).Sold)
}

func TestReserve_NotFound(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), 10, 0)

	_, err := engine.Reserve(ctx, w.ID+100, 1, "std", 1, now)
	assert.ErrorIs(t, err, ErrWindowNotFound)

	_, err = engine.Reserve(ctx, w.ID, 1, "no-such-variant", 1, now)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestReserve_InvalidQuantity(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), 10, 0)

	_, err := engine.Reserve(context.Background(), w.ID, 1, "std", 0, now)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReserve_InvalidWindowRejected(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	// start == end 的脏场次（绕过创建校验直接写库模拟管理端故障）
	w := seedWindow(t, db, now, now.Add(time.Hour), 10, 0)
	require.NoError(t, db.Model(&model.FlashSaleWindow{}).
		Where("id = ?", w.ID).Update("end_time", w.StartTime).Error)

	_, err := engine.Reserve(context.Background(), w.ID, 1, "std", 1, now)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

// 场景：09:00–11:00 场次，配额 20 已售 18，10:00 依次请求 3 / 2 / 1。
func TestReserve_EndToEndScenario(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 10, 11, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, start, end, 20, 18)

	_, err := engine.Reserve(ctx, w.ID, 1, "std", 3, now)
	remaining, ok := IsInsufficientStock(err)
	require.True(t, ok)
	assert.Equal(t, int64(2), remaining)

	res, err := engine.Reserve(ctx, w.ID, 1, "std", 2, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Remaining)

	// 时间窗还在，但配额已尽
	_, err = engine.Reserve(ctx, w.ID, 1, "std", 1, now)
	remaining, ok = IsInsufficientStock(err)
	require.True(t, ok)
	assert.Equal(t, int64(0), remaining)

	assert.Equal(t, int64(20), entryOf(t, db, w.Entries[0].ID).Sold)
}

func TestRelease_ClampsSoldAtZero(t *testing.T) {
	engine, db, rdb := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), 10, 2)

	// 超量释放：sold 钳到 0，Redis 剩余钳到总配额
	remaining, err := engine.Release(ctx, w.ID, 1, "std", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(10), remaining)
	assert.Equal(t, int64(0), entryOf(t, db, w.Entries[0].ID).Sold)

	key := redisx.EntryStockKey(w.ID, 1, "std")
	val, err := rdb.Get(ctx, key).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(10), val)
}

func TestReleaseOnce_IdempotentAgainstDuplicateCancel(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), 10, 0)

	_, err := engine.Reserve(ctx, w.ID, 1, "std", 2, now)
	require.NoError(t, err)

	released, err := engine.ReleaseOnce(ctx, "req-1", w.ID, 1, "std", 2)
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, int64(0), entryOf(t, db, w.Entries[0].ID).Sold)

	// 重复取消同一请求：no-op，不产生负向调整
	released, err = engine.ReleaseOnce(ctx, "req-1", w.ID, 1, "std", 2)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, int64(0), entryOf(t, db, w.Entries[0].ID).Sold)

	remaining, err := engine.Remaining(ctx, w.ID, 1, "std")
	require.NoError(t, err)
	assert.Equal(t, int64(10), remaining)
}

func TestSoldOutThenReleaseReactivates(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), 1, 0)

	_, err := engine.Reserve(ctx, w.ID, 1, "std", 1, now)
	require.NoError(t, err)

	e := entryOf(t, db, w.Entries[0].ID)
	assert.Equal(t, EntrySoldOut, DeriveEntryState(w, e, now))

	released, err := engine.ReleaseOnce(ctx, "cancel-1", w.ID, 1, "std", 1)
	require.NoError(t, err)
	require.True(t, released)

	e = entryOf(t, db, w.Entries[0].ID)
	assert.Equal(t, EntryActive, DeriveEntryState(w, e, now))

	// 释放后可再次预占
	res, err := engine.Reserve(ctx, w.ID, 1, "std", 1, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Remaining)
}

// 两个并发请求抢最后一件，重复多轮：必须恰有一个成功，sold 永不超过 stock。
func TestReserve_ConcurrentLastUnit(t *testing.T) {
	engine, db, rdb := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), 1, 0)
	entryID := w.Entries[0].ID
	key := redisx.EntryStockKey(w.ID, 1, "std")

	const rounds = 200
	for i := 0; i < rounds; i++ {
		// 回到"剩最后一件"的初始态
		require.NoError(t, db.Model(&model.FlashSaleEntry{}).
			Where("id = ?", entryID).Update("sold", 0).Error)
		require.NoError(t, rdb.Set(ctx, key, 1, time.Hour).Err())

		var wg sync.WaitGroup
		outcomes := make([]error, 2)
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				_, outcomes[idx] = engine.Reserve(ctx, w.ID, 1, "std", 1, now)
			}(g)
		}
		wg.Wait()

		successes := 0
		for _, err := range outcomes {
			if err == nil {
				successes++
				continue
			}
			remaining, ok := IsInsufficientStock(err)
			require.True(t, ok, "round %d unexpected error: %v", i, err)
			assert.Equal(t, int64(0), remaining)
		}
		require.Equal(t, 1, successes, "round %d", i)

		e := entryOf(t, db, entryID)
		require.LessOrEqual(t, e.Sold, e.Stock, "round %d oversold", i)
	}
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	const stockN = 60
	const attempts = 120
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), stockN, 0)

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = engine.Reserve(ctx, w.ID, 1, "std", 1, now)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			_, ok := IsInsufficientStock(err)
			require.True(t, ok, "unexpected error: %v", err)
		}
	}
	assert.Equal(t, stockN, successes)

	e := entryOf(t, db, w.Entries[0].ID)
	assert.Equal(t, int64(stockN), e.Sold)

	remaining, err := engine.Remaining(ctx, w.ID, 1, "std")
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

func TestPreloadAndRemaining(t *testing.T) {
	engine, db, rdb := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := seedWindow(t, db, now.Add(-time.Hour), now.Add(time.Hour), 15, 5)

	n, err := engine.Preload(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	val, err := rdb.Get(ctx, redisx.EntryStockKey(w.ID, 1, "std")).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(10), val)

	// 键缺失时 Remaining 退回 DB 口径
	require.NoError(t, rdb.Del(ctx, redisx.EntryStockKey(w.ID, 1, "std")).Err())
	remaining, err := engine.Remaining(ctx, w.ID, 1, "std")
	require.NoError(t, err)
	assert.Equal(t, int64(10), remaining)

	_, err = engine.Preload(ctx, w.ID+9)
	assert.ErrorIs(t, err, ErrWindowNotFound)
}
