package flashsale

import (
	"errors"
	"fmt"
)

// 预占/分桶的错误分类。"已售罄"和"活动已结束"必须可区分，
// 前端要据此展示不同文案，不能都落到一个笼统失败提示。
var (
	// ErrWindowNotFound 场次不存在。
	ErrWindowNotFound = errors.New("flash sale window not found")
	// ErrEntryNotFound 场次内找不到对应 (商品, 规格) 条目。
	ErrEntryNotFound = errors.New("flash sale entry not found")
	// ErrWindowNotActive 预占时刻场次不在活跃时间段内（含"UI 以为还在、其实刚结束"的竞态）。
	ErrWindowNotActive = errors.New("flash sale window not active")
	// ErrInvalidWindow 场次数据不合法（start ≥ end、负配额等），属管理端数据完整性故障。
	ErrInvalidWindow = errors.New("invalid flash sale window")
	// ErrInvalidQuantity 数量必须 ≥ 1。
	ErrInvalidQuantity = errors.New("quantity must be >= 1")
)

// InsufficientStockError 剩余配额不足。带上实际剩余量，
// 调用方可以引导用户改买更少的数量。
type InsufficientStockError struct {
	Remaining int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient flash sale stock: remaining=%d", e.Remaining)
}

// IsInsufficientStock 判断 err 是否为配额不足，并返回实际剩余量。
func IsInsufficientStock(err error) (int64, bool) {
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return ise.Remaining, true
	}
	return 0, false
}
