package queue

import "fmt"

// OrderMessage 是写入 Kafka 的订单创建事件。UnitPrice 是预占时刻
// 锁定的秒杀单价，消费端按它落单，不再反查当前价。
type OrderMessage struct {
	RequestID string `json:"request_id"`
	WindowID  uint   `json:"window_id"`
	ProductID uint   `json:"product_id"`
	VariantID string `json:"variant_id"`
	UserID    int64  `json:"user_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"` // 分
	Amount    int64  `json:"amount"`     // 分
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m OrderMessage) Validate() error {
	if m.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if m.WindowID == 0 {
		return fmt.Errorf("window_id is required")
	}
	if m.ProductID == 0 {
		return fmt.Errorf("product_id is required")
	}
	if m.VariantID == "" {
		return fmt.Errorf("variant_id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	if m.UnitPrice < 0 {
		return fmt.Errorf("unit_price must be >= 0")
	}
	if m.Amount < 0 {
		return fmt.Errorf("amount must be >= 0")
	}
	if m.Amount != m.UnitPrice*int64(m.Quantity) {
		return fmt.Errorf("amount %d != unit_price %d * quantity %d", m.Amount, m.UnitPrice, m.Quantity)
	}
	return nil
}
