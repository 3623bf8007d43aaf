// Package stock 是纯函数的库存状态分类器：把数字库存和商品状态
// 统一映射为展示/下单两侧共用的状态结论，列表页、详情页、购物车
// 必须走同一套口径，避免各处阈值漂移。
package stock

import (
	"fmt"

	"flash_mall/internal/model"
)

// Status 库存分类结果的状态枚举。
type Status string

const (
	StatusInStock      Status = "in_stock"
	StatusLowStock     Status = "low_stock"
	StatusOutOfStock   Status = "out_of_stock"
	StatusDiscontinued Status = "discontinued"
)

// Urgency 低库存的紧迫级别。
type Urgency string

const (
	UrgencyNone     Urgency = ""
	UrgencyLow      Urgency = "low"
	UrgencyCritical Urgency = "critical"
)

// 库存阈值：≤3 进入紧急提示，≤10 进入低库存提示。
const (
	CriticalStockThreshold = 3
	LowStockThreshold      = 10
)

// Classification 是分类器的完整输出，所有展示面共用。
type Classification struct {
	Status       Status  `json:"status"`
	Message      string  `json:"message"`
	Badge        string  `json:"severity_badge"`
	Urgency      Urgency `json:"urgency,omitempty"`
	CanOrder     bool    `json:"can_order"`
	TotalStock   int64   `json:"total_stock"`
	VariantStock int64   `json:"variant_stock"`
}

// Classify 按商品状态 + 当前库存给出分类。selectedVariantID 为空或
// 匹配不到任何规格时退回聚合口径（取各规格库存的最大值做乐观展示）。
// 纯函数：不访问外部状态，相同输入恒得相同输出，并且永不 panic，
// 缺失/脏的库存字段一律按 0 处理。
func Classify(p model.Product, selectedVariantID string) Classification {
	variants := sellableVariants(p)

	var total int64
	for _, v := range variants {
		total += nonNegative(v.Stock)
	}

	current := currentStock(variants, selectedVariantID, total)

	out := Classification{
		TotalStock:   total,
		VariantStock: current,
	}

	// 下架判定优先于一切库存数字。
	if p.Status == model.ProductUnavailable {
		out.Status = StatusDiscontinued
		out.Message = "商品已下架"
		out.Badge = "default"
		out.CanOrder = false
		return out
	}

	switch {
	case current == 0:
		out.Status = StatusOutOfStock
		out.Message = "已售罄"
		out.Badge = "error"
	case current <= CriticalStockThreshold:
		out.Status = StatusLowStock
		out.Urgency = UrgencyCritical
		out.Message = fmt.Sprintf("仅剩 %d 件，欲购从速", current)
		out.Badge = "warning"
		out.CanOrder = true
	case current <= LowStockThreshold:
		out.Status = StatusLowStock
		out.Urgency = UrgencyLow
		out.Message = "库存紧张"
		out.Badge = "warning"
		out.CanOrder = true
	default:
		out.Status = StatusInStock
		out.Message = "现货充足"
		out.Badge = "success"
		out.CanOrder = true
	}
	return out
}

// sellableVariants 把"历史扁平库存"折算成单规格列表，后续逻辑
// 统一按规格序列处理，不再到处判断字段有无。
func sellableVariants(p model.Product) []model.ProductVariant {
	if len(p.Variants) > 0 {
		return p.Variants
	}
	return []model.ProductVariant{{
		ProductID: p.ID,
		VariantID: model.DefaultVariantID,
		Stock:     nonNegative(p.Stock),
	}}
}

// currentStock 选中规格取其库存；未选中时取各规格最大值（乐观展示）。
func currentStock(variants []model.ProductVariant, selectedVariantID string, total int64) int64 {
	if selectedVariantID != "" {
		for _, v := range variants {
			if v.VariantID == selectedVariantID {
				return nonNegative(v.Stock)
			}
		}
		// 选了不存在的规格：按未选处理，不报错。
	}
	if len(variants) == 0 {
		return total
	}
	var max int64
	for _, v := range variants {
		if s := nonNegative(v.Stock); s > max {
			max = s
		}
	}
	return max
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
