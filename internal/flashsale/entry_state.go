package flashsale

import (
	"time"

	"flash_mall/internal/model"
)

// EntryState 单个秒杀条目的派生状态（只读推导，不落库）。
type EntryState string

const (
	// EntryPending 活动未开始。
	EntryPending EntryState = "pending"
	// EntryActive 时间窗内且还有剩余配额。
	EntryActive EntryState = "active"
	// EntrySoldOut 配额抢完；若后续有释放且时间未到 end，会回到 active。
	EntrySoldOut EntryState = "sold_out"
	// EntryEnded 时间到 end 即终态，剩多少配额都不再可买。
	EntryEnded EntryState = "ended"
)

// DeriveEntryState 由时间 + 剩余配额推导条目状态。
// ended 优先于 sold_out：过了 end 一律 ended。
func DeriveEntryState(w model.FlashSaleWindow, e model.FlashSaleEntry, now time.Time) EntryState {
	if !now.Before(w.EndTime) {
		return EntryEnded
	}
	if now.Before(w.StartTime) {
		return EntryPending
	}
	if e.Remaining() == 0 {
		return EntrySoldOut
	}
	return EntryActive
}
