package flashsale

import (
	"context"
	"errors"
	"time"

	"flash_mall/internal/model"
	redisx "flash_mall/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine 负责秒杀配额的预占与释放。
// 实时扣减的权威计数在 Redis（多进程部署下靠 Lua 原子判断扣减，
// 不能用进程内锁）；DB 的 sold 列用条件更新做第二道闸，同时是持久记录。
type Engine struct {
	db  *gorm.DB
	rdb *rd.Client
	log *zap.Logger

	loc      *time.Location
	stockTTL time.Duration
}

// NewEngine 创建引擎。loc 是日界线时区（分桶用），stockTTL 是配额键过期时间。
func NewEngine(db *gorm.DB, rdb *rd.Client, log *zap.Logger, loc *time.Location, stockTTL time.Duration) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{db: db, rdb: rdb, log: log, loc: loc, stockTTL: stockTTL}
}

// Location 返回引擎使用的日界线时区。
func (e *Engine) Location() *time.Location { return e.loc }

// ReserveResult 预占成功的返回值。UnitPrice 是此刻锁定的秒杀单价，
// 订单按它计价，后续管理端改价不回溯。
type ReserveResult struct {
	Remaining int64
	UnitPrice int64
	Entry     model.FlashSaleEntry
}

// Reserve 原子预占：场次活跃校验在预占时刻重算（不信 UI 端的旧快照），
// 然后对条目剩余配额做「判断 ≥ quantity → 扣减」的单原子步。
// 两个并发请求抢最后一件时恰有一个成功；配额不足时整单失败，不做部分预占。
func (e *Engine) Reserve(ctx context.Context, windowID, productID uint, variantID string, quantity int64, now time.Time) (ReserveResult, error) {
	if quantity < 1 {
		return ReserveResult{}, ErrInvalidQuantity
	}

	window, entry, err := e.findEntry(windowID, productID, variantID)
	if err != nil {
		return ReserveResult{}, err
	}
	if err := ValidateWindow(window); err != nil {
		e.log.Warn("reserve hit invalid window", zap.Uint("window_id", windowID), zap.Error(err))
		return ReserveResult{}, err
	}
	if now.Before(window.StartTime) || !now.Before(window.EndTime) {
		return ReserveResult{}, ErrWindowNotActive
	}

	// 兜底写入剩余配额键（只在键不存在时生效），未预热的场次也能正确扣减。
	key := redisx.EntryStockKey(windowID, productID, variantID)
	if err := redisx.EnsureEntryStock(ctx, e.rdb, key, entry.Remaining(), e.stockTTL); err != nil {
		return ReserveResult{}, err
	}

	remaining, ok, err := redisx.ReserveEntryStock(ctx, e.rdb, key, quantity)
	if err != nil {
		return ReserveResult{}, err
	}
	if !ok {
		return ReserveResult{}, &InsufficientStockError{Remaining: remaining}
	}

	// DB 侧条件更新推进 sold；sold + q > stock 时拒绝（RowsAffected=0），
	// 与 Redis 不一致说明配额键被污染，回补后按不足处理。
	res := e.db.Model(&model.FlashSaleEntry{}).
		Where("id = ? AND sold + ? <= stock", entry.ID, quantity).
		UpdateColumn("sold", gorm.Expr("sold + ?", quantity))
	if res.Error != nil {
		if _, rerr := redisx.ReleaseEntryStock(ctx, e.rdb, key, quantity, entry.Stock); rerr != nil {
			e.log.Error("rollback entry stock after db failure",
				zap.Uint("window_id", windowID), zap.String("key", key), zap.Error(rerr))
		}
		return ReserveResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		actual, rerr := redisx.ReleaseEntryStock(ctx, e.rdb, key, quantity, entry.Stock)
		if rerr != nil {
			e.log.Error("rollback entry stock after guard rejection",
				zap.Uint("window_id", windowID), zap.String("key", key), zap.Error(rerr))
			actual = 0
		}
		e.log.Warn("redis stock ahead of db guard, compensated",
			zap.Uint("window_id", windowID), zap.Uint("product_id", productID),
			zap.String("variant_id", variantID))
		return ReserveResult{}, &InsufficientStockError{Remaining: actual}
	}

	return ReserveResult{Remaining: remaining, UnitPrice: entry.FlashSalePrice, Entry: entry}, nil
}

// Release 释放配额（订单取消/退款路径）：sold 减 quantity、下钳 0，
// Redis 剩余值回补、上钳总配额。重复取消的幂等由调用方配合
// redisx.ReleaseStockOnce 的 request 级锁保证。
func (e *Engine) Release(ctx context.Context, windowID, productID uint, variantID string, quantity int64) (int64, error) {
	if quantity < 1 {
		return 0, ErrInvalidQuantity
	}

	_, entry, err := e.findEntry(windowID, productID, variantID)
	if err != nil {
		return 0, err
	}

	// 键缺失时先按 DB 口径落底，回补才不会从 0 起算。
	key := redisx.EntryStockKey(windowID, productID, variantID)
	if err := redisx.EnsureEntryStock(ctx, e.rdb, key, entry.Remaining(), e.stockTTL); err != nil {
		return 0, err
	}

	res := e.db.Model(&model.FlashSaleEntry{}).
		Where("id = ?", entry.ID).
		UpdateColumn("sold", gorm.Expr("CASE WHEN sold >= ? THEN sold - ? ELSE 0 END", quantity, quantity))
	if res.Error != nil {
		return 0, res.Error
	}

	return redisx.ReleaseEntryStock(ctx, e.rdb, key, quantity, entry.Stock)
}

// ReleaseOnce 幂等释放：同一 request_id 的重复取消只回补一次，
// 第二次调用是 no-op 而不是负向调整。released=false 表示此前已回补过。
func (e *Engine) ReleaseOnce(ctx context.Context, requestID string, windowID, productID uint, variantID string, quantity int64) (released bool, err error) {
	if quantity < 1 {
		return false, ErrInvalidQuantity
	}

	_, entry, err := e.findEntry(windowID, productID, variantID)
	if err != nil {
		return false, err
	}

	key := redisx.EntryStockKey(windowID, productID, variantID)
	if err := redisx.EnsureEntryStock(ctx, e.rdb, key, entry.Remaining(), e.stockTTL); err != nil {
		return false, err
	}
	released, err = redisx.ReleaseStockOnce(ctx, e.rdb, requestID, key, quantity, entry.Stock)
	if err != nil || !released {
		return released, err
	}

	res := e.db.Model(&model.FlashSaleEntry{}).
		Where("id = ?", entry.ID).
		UpdateColumn("sold", gorm.Expr("CASE WHEN sold >= ? THEN sold - ? ELSE 0 END", quantity, quantity))
	return true, res.Error
}

// Preload 把场次全部条目的剩余配额预热到 Redis（管理端动作，覆盖写）。
func (e *Engine) Preload(ctx context.Context, windowID uint) (int, error) {
	var window model.FlashSaleWindow
	if err := e.db.Preload("Entries").First(&window, windowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrWindowNotFound
		}
		return 0, err
	}
	if err := ValidateWindow(window); err != nil {
		return 0, err
	}

	for _, entry := range window.Entries {
		key := redisx.EntryStockKey(window.ID, entry.ProductID, entry.VariantID)
		if err := redisx.PreloadEntryStock(ctx, e.rdb, key, entry.Remaining(), e.stockTTL); err != nil {
			return 0, err
		}
	}
	return len(window.Entries), nil
}

// Remaining 查询条目当前剩余配额（Redis 实时值；键缺失时退回 DB 口径）。
func (e *Engine) Remaining(ctx context.Context, windowID, productID uint, variantID string) (int64, error) {
	key := redisx.EntryStockKey(windowID, productID, variantID)
	val, err := e.rdb.Get(ctx, key).Int64()
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, rd.Nil) {
		return 0, err
	}

	_, entry, ferr := e.findEntry(windowID, productID, variantID)
	if ferr != nil {
		return 0, ferr
	}
	return entry.Remaining(), nil
}

// findEntry 定位场次与其中的 (商品, 规格) 条目。
func (e *Engine) findEntry(windowID, productID uint, variantID string) (model.FlashSaleWindow, model.FlashSaleEntry, error) {
	var window model.FlashSaleWindow
	if err := e.db.Preload("Entries").First(&window, windowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.FlashSaleWindow{}, model.FlashSaleEntry{}, ErrWindowNotFound
		}
		return model.FlashSaleWindow{}, model.FlashSaleEntry{}, err
	}
	for _, entry := range window.Entries {
		if entry.ProductID == productID && entry.VariantID == variantID {
			return window, entry, nil
		}
	}
	return model.FlashSaleWindow{}, model.FlashSaleEntry{}, ErrEntryNotFound
}
