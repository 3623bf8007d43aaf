package model

import (
	"time"

	"gorm.io/gorm"
)

// TimeSlots 是一天内固定的六个时段标签，只用于分组展示，
// 不参与 start/end 的推导。
var TimeSlots = []string{
	"00:00-09:00",
	"09:00-12:00",
	"12:00-15:00",
	"15:00-18:00",
	"18:00-21:00",
	"21:00-00:00",
}

// ValidTimeSlot 校验时段标签是否为六个固定值之一。
func ValidTimeSlot(slot string) bool {
	for _, s := range TimeSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// FlashSaleWindow 秒杀场次：一段时间窗口 + 一批参与的 (商品, 规格) 条目。
// 场次没有显式"已结束"状态，活跃与否始终用 now 和 Start/End 现算。
type FlashSaleWindow struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name        string `gorm:"size:128;not null" json:"name"`
	Description string `gorm:"size:512" json:"description"`

	StartTime time.Time `gorm:"not null;index" json:"start_time"`
	EndTime   time.Time `gorm:"not null;index" json:"end_time"`
	TimeSlot  string    `gorm:"size:16;not null" json:"time_slot"`

	Entries []FlashSaleEntry `gorm:"foreignKey:WindowID" json:"entries,omitempty"`
}

func (FlashSaleWindow) TableName() string { return "flash_sale_windows" }

// FlashSaleEntry 场次内的单个秒杀条目：指向具体 (商品, 规格)，
// 带独立的配额 Stock 与已售 Sold。配额与 ProductVariant.Stock 互不影响。
type FlashSaleEntry struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	WindowID  uint   `gorm:"not null;index;uniqueIndex:idx_window_product_variant" json:"window_id"`
	ProductID uint   `gorm:"not null;uniqueIndex:idx_window_product_variant" json:"product_id"`
	VariantID string `gorm:"size:64;not null;uniqueIndex:idx_window_product_variant" json:"variant_id"`

	// 单位：分。OriginalPrice 是建场时对规格价格的快照，只用于展示。
	FlashSalePrice int64 `gorm:"not null" json:"flash_sale_price"`
	OriginalPrice  int64 `gorm:"not null;default:0" json:"original_price"`

	// 不变量：0 ≤ Sold ≤ Stock。Sold 只通过预占/释放两条路径变化。
	Stock int64 `gorm:"not null;default:0" json:"stock"`
	Sold  int64 `gorm:"not null;default:0" json:"sold"`
}

func (FlashSaleEntry) TableName() string { return "flash_sale_entries" }

// Remaining 剩余可抢数量，低于 0 的脏数据钳到 0。
func (e FlashSaleEntry) Remaining() int64 {
	r := e.Stock - e.Sold
	if r < 0 {
		return 0
	}
	return r
}

// DiscountPercent 折扣百分比，OriginalPrice 缺失时返回 0（展示兜底，非核心不变量）。
func (e FlashSaleEntry) DiscountPercent() int64 {
	if e.OriginalPrice <= 0 || e.FlashSalePrice >= e.OriginalPrice {
		return 0
	}
	return (e.OriginalPrice - e.FlashSalePrice) * 100 / e.OriginalPrice
}
