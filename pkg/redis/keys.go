package redis

import "fmt"

// EntryStockKey 统一约定秒杀条目剩余配额的键名，按 (场次, 商品, 规格) 维度。
func EntryStockKey(windowID, productID uint, variantID string) string {
	return fmt.Sprintf("flash_mall:stock:%d:%d:%s", windowID, productID, variantID)
}

// ReleaseLockKey 标记某个 request_id 是否已做过配额回补。
func ReleaseLockKey(requestID string) string {
	return fmt.Sprintf("flash_mall:stock:released:%s", requestID)
}

// RequestStatusKey 存储 request_id 的异步状态（pending/success/failed/cancelled）。
func RequestStatusKey(requestID string) string {
	return fmt.Sprintf("flash_mall:request:status:%s", requestID)
}

// UserPurchaseLockKey 标记某用户在某秒杀条目上的"已占位/已下单"状态。
func UserPurchaseLockKey(windowID, productID uint, variantID string, userID int64) string {
	return fmt.Sprintf("flash_mall:purchase:lock:%d:%d:%s:%d", windowID, productID, variantID, userID)
}
