package flashsale

import (
	"testing"
	"time"

	"flash_mall/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(id uint, start, end time.Time) model.FlashSaleWindow {
	return model.FlashSaleWindow{ID: id, Name: "w", StartTime: start, EndTime: end, TimeSlot: "09:00-12:00"}
}

func TestClassifyWindows_Buckets(t *testing.T) {
	// 固定一个参考时刻，避免跨日界线的偶发漂移
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	active := window(1, now.Add(-time.Hour), now.Add(time.Hour))
	upcoming := window(2, now.Add(2*time.Hour), now.Add(3*time.Hour))
	tomorrow := window(3, now.AddDate(0, 0, 1), now.AddDate(0, 0, 1).Add(time.Hour))
	ended := window(4, now.Add(-2*time.Hour), now.Add(-time.Minute))
	farFuture := window(5, now.AddDate(0, 0, 3), now.AddDate(0, 0, 3).Add(time.Hour))

	got := ClassifyWindows([]model.FlashSaleWindow{farFuture, ended, tomorrow, upcoming, active}, now, time.UTC, nil)

	require.Len(t, got.Active, 1)
	assert.Equal(t, uint(1), got.Active[0].ID)
	require.Len(t, got.UpcomingToday, 1)
	assert.Equal(t, uint(2), got.UpcomingToday[0].ID)
	require.Len(t, got.Tomorrow, 1)
	assert.Equal(t, uint(3), got.Tomorrow[0].ID)
}

func TestClassifyWindows_HalfOpenInterval(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	// start == now 算活跃
	startingNow := window(1, now, now.Add(time.Hour))
	// end == now 算结束
	endingNow := window(2, now.Add(-time.Hour), now)

	got := ClassifyWindows([]model.FlashSaleWindow{startingNow, endingNow}, now, time.UTC, nil)
	require.Len(t, got.Active, 1)
	assert.Equal(t, uint(1), got.Active[0].ID)
	assert.Empty(t, got.UpcomingToday)
	assert.Empty(t, got.Tomorrow)
}

func TestClassifyWindows_OrderedByStartTime(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	later := window(1, now.Add(5*time.Hour), now.Add(6*time.Hour))
	sooner := window(2, now.Add(2*time.Hour), now.Add(3*time.Hour))
	middle := window(3, now.Add(4*time.Hour), now.Add(5*time.Hour))

	got := ClassifyWindows([]model.FlashSaleWindow{later, sooner, middle}, now, time.UTC, nil)
	require.Len(t, got.UpcomingToday, 3)
	assert.Equal(t, []uint{2, 3, 1}, []uint{
		got.UpcomingToday[0].ID, got.UpcomingToday[1].ID, got.UpcomingToday[2].ID,
	})
}

func TestClassifyWindows_SkipsInvalidWindowWithoutFailingBatch(t *testing.T) {
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	invalid := window(1, now.Add(time.Hour), now.Add(time.Hour)) // start == end
	negStock := window(2, now.Add(-time.Hour), now.Add(time.Hour))
	negStock.Entries = []model.FlashSaleEntry{{ID: 9, Stock: -1}}
	valid := window(3, now.Add(-time.Hour), now.Add(time.Hour))

	got := ClassifyWindows([]model.FlashSaleWindow{invalid, negStock, valid}, now, time.UTC, nil)
	require.Len(t, got.Active, 1)
	assert.Equal(t, uint(3), got.Active[0].ID)
	assert.Empty(t, got.UpcomingToday)
	assert.Empty(t, got.Tomorrow)
}

func TestClassifyWindows_DayBoundaryUsesConfiguredZone(t *testing.T) {
	// UTC 的 6/10 22:00 在东八区已经是 6/11 06:00。
	cst := time.FixedZone("UTC+8", 8*3600)
	now := time.Date(2025, 6, 10, 22, 0, 0, 0, time.UTC)

	// 东八区 6/11 08:00 开始：按东八区是"今天"，按 UTC 是"明天"。
	w := window(1, time.Date(2025, 6, 11, 8, 0, 0, 0, cst), time.Date(2025, 6, 11, 9, 0, 0, 0, cst))

	inCST := ClassifyWindows([]model.FlashSaleWindow{w}, now, cst, nil)
	require.Len(t, inCST.UpcomingToday, 1)
	assert.Empty(t, inCST.Tomorrow)

	inUTC := ClassifyWindows([]model.FlashSaleWindow{w}, now, time.UTC, nil)
	assert.Empty(t, inUTC.UpcomingToday)
	require.Len(t, inUTC.Tomorrow, 1)
}

func TestValidateWindow(t *testing.T) {
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	ok := window(1, now, now.Add(time.Hour))
	ok.Entries = []model.FlashSaleEntry{{Stock: 10, Sold: 3, FlashSalePrice: 100}}
	assert.NoError(t, ValidateWindow(ok))

	soldOverStock := window(2, now, now.Add(time.Hour))
	soldOverStock.Entries = []model.FlashSaleEntry{{Stock: 5, Sold: 6}}
	assert.ErrorIs(t, ValidateWindow(soldOverStock), ErrInvalidWindow)

	negPrice := window(3, now, now.Add(time.Hour))
	negPrice.Entries = []model.FlashSaleEntry{{Stock: 5, FlashSalePrice: -1}}
	assert.ErrorIs(t, ValidateWindow(negPrice), ErrInvalidWindow)
}

func TestDeriveEntryState(t *testing.T) {
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	w := window(1, now.Add(-time.Hour), now.Add(time.Hour))

	assert.Equal(t, EntryPending, DeriveEntryState(w, model.FlashSaleEntry{Stock: 5}, now.Add(-2*time.Hour)))
	assert.Equal(t, EntryActive, DeriveEntryState(w, model.FlashSaleEntry{Stock: 5, Sold: 4}, now))
	assert.Equal(t, EntrySoldOut, DeriveEntryState(w, model.FlashSaleEntry{Stock: 5, Sold: 5}, now))
	// ended 优先于 sold_out
	assert.Equal(t, EntryEnded, DeriveEntryState(w, model.FlashSaleEntry{Stock: 5, Sold: 5}, now.Add(2*time.Hour)))
	assert.Equal(t, EntryEnded, DeriveEntryState(w, model.FlashSaleEntry{Stock: 5}, w.EndTime))
}
