// Package flashsale 实现秒杀核心：场次按时间分桶 + 条目配额的原子预占/释放。
package flashsale

import (
	"fmt"
	"sort"
	"time"

	"flash_mall/internal/model"

	"go.uber.org/zap"
)

// Buckets 首页三个展示分组。完全过期或后天以后的场次不进任何分组。
type Buckets struct {
	Active        []model.FlashSaleWindow `json:"active"`
	UpcomingToday []model.FlashSaleWindow `json:"upcoming_today"`
	Tomorrow      []model.FlashSaleWindow `json:"tomorrow"`
}

// ClassifyWindows 按 now 把场次分到 active / 今日即将开始 / 明日 三个桶。
// 活跃判定是半开区间 [start, end)。"今天/明天"的日界线用显式传入的
// loc 计算，绝不依赖服务器本地时区。
//
// 纯读操作，每次查询现算；单个脏场次跳过并记日志，不拖垮整批分类。
func ClassifyWindows(windows []model.FlashSaleWindow, now time.Time, loc *time.Location, log *zap.Logger) Buckets {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}

	var out Buckets
	for _, w := range windows {
		if err := ValidateWindow(w); err != nil {
			log.Warn("skip invalid flash sale window",
				zap.Uint("window_id", w.ID),
				zap.Error(err))
			continue
		}

		switch {
		case !now.Before(w.EndTime):
			// 已结束，不展示。
		case !now.Before(w.StartTime):
			out.Active = append(out.Active, w)
		case sameDay(w.StartTime, now, loc):
			out.UpcomingToday = append(out.UpcomingToday, w)
		case sameDay(w.StartTime, now.AddDate(0, 0, 1), loc):
			out.Tomorrow = append(out.Tomorrow, w)
		}
	}

	sortByStart(out.Active)
	sortByStart(out.UpcomingToday)
	sortByStart(out.Tomorrow)
	return out
}

// ValidateWindow 防御性校验管理端写入的场次数据。
func ValidateWindow(w model.FlashSaleWindow) error {
	if !w.StartTime.Before(w.EndTime) {
		return fmt.Errorf("%w: start_time %s >= end_time %s",
			ErrInvalidWindow, w.StartTime.Format(time.RFC3339), w.EndTime.Format(time.RFC3339))
	}
	for _, e := range w.Entries {
		if e.Stock < 0 {
			return fmt.Errorf("%w: entry %d has negative stock %d", ErrInvalidWindow, e.ID, e.Stock)
		}
		if e.Sold < 0 || e.Sold > e.Stock {
			return fmt.Errorf("%w: entry %d sold %d out of range [0, %d]", ErrInvalidWindow, e.ID, e.Sold, e.Stock)
		}
		if e.FlashSalePrice < 0 {
			return fmt.Errorf("%w: entry %d has negative price %d", ErrInvalidWindow, e.ID, e.FlashSalePrice)
		}
	}
	return nil
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func sortByStart(ws []model.FlashSaleWindow) {
	sort.Slice(ws, func(i, j int) bool {
		return ws[i].StartTime.Before(ws[j].StartTime)
	})
}
