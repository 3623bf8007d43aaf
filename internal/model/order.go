package model

import (
	"time"

	"gorm.io/gorm"
)

// 订单状态：0 待支付 1 已支付 2 已取消
const (
	OrderPending   = 0
	OrderPaid      = 1
	OrderCancelled = 2
)

// Order 秒杀订单。Amount 在预占时刻按 FlashSalePrice 锁定，
// 后续管理端改价不回溯已成订单。
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderNo   string `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	UserID    int64  `gorm:"not null;index" json:"user_id"`
	WindowID  uint   `gorm:"not null;index" json:"window_id"`
	ProductID uint   `gorm:"not null;index" json:"product_id"`
	VariantID string `gorm:"size:64;not null" json:"variant_id"`
	Quantity  int    `gorm:"not null;default:1" json:"quantity"`
	UnitPrice int64  `gorm:"not null" json:"unit_price"` // 预占时锁定的秒杀单价，单位分
	Amount    int64  `gorm:"not null" json:"amount"`     // UnitPrice * Quantity
	Status    int    `gorm:"not null;default:0" json:"status"`
	RequestID string `gorm:"size:64;uniqueIndex;not null" json:"request_id"`
}

func (Order) TableName() string { return "orders" }
