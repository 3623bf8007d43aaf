package model

import (
	"time"

	"gorm.io/gorm"
)

// ProductStatus 商品生命周期状态。
type ProductStatus string

const (
	ProductAvailable   ProductStatus = "available"
	ProductUnavailable ProductStatus = "unavailable" // 已下架：无论库存多少都不可购买
)

// DefaultVariantID 历史单规格商品没有 variants，折算为默认规格时使用的编码。
const DefaultVariantID = "DEFAULT"

// Product 商品聚合根：状态 + 规格列表（历史数据可能只有扁平 Stock 字段）。
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// ProductCode 是对外稳定标识，ID 是内部主键。
	ProductCode string        `gorm:"size:64;uniqueIndex;not null" json:"product_code"`
	Name        string        `gorm:"size:128;not null" json:"name"`
	Status      ProductStatus `gorm:"size:16;not null;default:available" json:"status"`

	// Stock 是历史单规格商品的扁平库存字段；有 Variants 时以 Variants 为准。
	Stock int64 `gorm:"not null;default:0" json:"stock"`

	Variants []ProductVariant `gorm:"foreignKey:ProductID" json:"variants,omitempty"`
}

func (Product) TableName() string { return "products" }

// ProductVariant 商品规格（SKU）：价格与库存的最小售卖单元。
type ProductVariant struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProductID uint   `gorm:"not null;index;uniqueIndex:idx_product_variant" json:"product_id"`
	VariantID string `gorm:"size:64;not null;uniqueIndex:idx_product_variant" json:"variant_id"`

	// 单位：分。OriginalPrice 仅用于展示折扣，0 表示缺失。
	Price         int64 `gorm:"not null" json:"price"`
	OriginalPrice int64 `gorm:"not null;default:0" json:"original_price"`

	// Stock 是普通（非秒杀）销售的权威库存，只被订单履约/取消与后台补货修改；
	// 秒杀引擎只动窗口内的独立配额，不碰这里。
	Stock int64 `gorm:"not null;default:0" json:"stock"`
}

func (ProductVariant) TableName() string { return "product_variants" }
