package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"flash_mall/internal/config"
	"flash_mall/internal/flashsale"
	"flash_mall/internal/metrics"
	"flash_mall/internal/model"
	"flash_mall/internal/queue"
	redisx "flash_mall/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// requestStateTTL 查询缓存保留时长。
const requestStateTTL = 24 * time.Hour

// entryView 首页条目视图：带剩余量、派生状态与折扣百分比。
type entryView struct {
	ProductID       uint                 `json:"product_id"`
	VariantID       string               `json:"variant_id"`
	FlashSalePrice  int64                `json:"flash_sale_price"`
	OriginalPrice   int64                `json:"original_price"`
	DiscountPercent int64                `json:"discount_percent"`
	Stock           int64                `json:"stock"`
	Sold            int64                `json:"sold"`
	Remaining       int64                `json:"remaining"`
	State           flashsale.EntryState `json:"state"`
}

type windowView struct {
	ID          uint        `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     time.Time   `json:"end_time"`
	TimeSlot    string      `json:"time_slot"`
	Entries     []entryView `json:"entries"`
}

// homeFeed 首页三分组：进行中 / 今日即将开始 / 明日预告。
// 分桶每次现算，短缓存只许用于展示，购买校验永远走预占时刻判定。
func homeFeed(db *gorm.DB, engine *flashsale.Engine, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		var windows []model.FlashSaleWindow
		if err := db.Preload("Entries").Where("end_time > ?", now).Find(&windows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		buckets := flashsale.ClassifyWindows(windows, now, engine.Location(), log)
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"active":         toViews(buckets.Active, now),
			"upcoming_today": toViews(buckets.UpcomingToday, now),
			"tomorrow":       toViews(buckets.Tomorrow, now),
		}})
	}
}

func toViews(windows []model.FlashSaleWindow, now time.Time) []windowView {
	out := make([]windowView, 0, len(windows))
	for _, w := range windows {
		wv := windowView{
			ID:          w.ID,
			Name:        w.Name,
			Description: w.Description,
			StartTime:   w.StartTime,
			EndTime:     w.EndTime,
			TimeSlot:    w.TimeSlot,
			Entries:     make([]entryView, 0, len(w.Entries)),
		}
		for _, e := range w.Entries {
			wv.Entries = append(wv.Entries, entryView{
				ProductID:       e.ProductID,
				VariantID:       e.VariantID,
				FlashSalePrice:  e.FlashSalePrice,
				OriginalPrice:   e.OriginalPrice,
				DiscountPercent: e.DiscountPercent(),
				Stock:           e.Stock,
				Sold:            e.Sold,
				Remaining:       e.Remaining(),
				State:           flashsale.DeriveEntryState(w, e, now),
			})
		}
		out = append(out, wv)
	}
	return out
}

// createWindow 创建秒杀场次（管理端动作，含时间窗与时段标签校验）。
// 条目的 OriginalPrice 在这里对规格价格做快照。
func createWindow(db *gorm.DB, log *zap.Logger, adminToken string) gin.HandlerFunc {
	type entryReq struct {
		ProductID      uint   `json:"product_id" binding:"required,min=1"`
		VariantID      string `json:"variant_id" binding:"required"`
		FlashSalePrice int64  `json:"flash_sale_price" binding:"min=0"`
		Stock          int64  `json:"stock" binding:"min=0"`
	}
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}

		var req struct {
			Name        string     `json:"name" binding:"required"`
			Description string     `json:"description"`
			StartTime   string     `json:"start_time" binding:"required"`
			EndTime     string     `json:"end_time" binding:"required"`
			TimeSlot    string     `json:"time_slot" binding:"required"`
			Products    []entryReq `json:"products" binding:"required,min=1,dive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "start_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(start) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 start_time"})
			return
		}
		if !model.ValidTimeSlot(req.TimeSlot) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "time_slot 必须是固定六个时段之一"})
			return
		}

		w := &model.FlashSaleWindow{
			Name:        req.Name,
			Description: req.Description,
			StartTime:   start,
			EndTime:     end,
			TimeSlot:    req.TimeSlot,
		}
		for _, er := range req.Products {
			var variant model.ProductVariant
			err := db.Where("product_id = ? AND variant_id = ?", er.ProductID, er.VariantID).
				First(&variant).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商品规格不存在"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
				return
			}
			// 秒杀价不低于现价只告警不拒绝，定价责任在管理端。
			if er.FlashSalePrice >= variant.Price {
				log.Warn("flash sale price not lower than variant price",
					zap.Uint("product_id", er.ProductID),
					zap.String("variant_id", er.VariantID),
					zap.Int64("flash_sale_price", er.FlashSalePrice),
					zap.Int64("variant_price", variant.Price))
			}
			w.Entries = append(w.Entries, model.FlashSaleEntry{
				ProductID:      er.ProductID,
				VariantID:      er.VariantID,
				FlashSalePrice: er.FlashSalePrice,
				OriginalPrice:  variant.Price,
				Stock:          er.Stock,
			})
		}
		if err := db.Create(w).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": w})
	}
}

// preloadWindow 将场次全部条目的剩余配额预热到 Redis，供高并发扣减。
// 该接口要求简单管理员 token，避免被任意调用重置配额。
func preloadWindow(engine *flashsale.Engine, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}

		idStr := c.Param("window_id")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "场次ID无效"})
			return
		}

		n, err := engine.Preload(c.Request.Context(), uint(id))
		if err != nil {
			switch {
			case errors.Is(err, flashsale.ErrWindowNotFound):
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "秒杀场次不存在"})
			case errors.Is(err, flashsale.ErrInvalidWindow):
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "场次数据异常: " + err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功", "data": gin.H{"entries": n}})
	}
}

// entryStock 查询条目实时剩余配额。
func entryStock(engine *flashsale.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		windowID, err1 := strconv.ParseUint(c.Param("window_id"), 10, 32)
		productID, err2 := strconv.ParseUint(c.Param("product_id"), 10, 32)
		variantID := c.Param("variant_id")
		if err1 != nil || err2 != nil || variantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "参数无效"})
			return
		}

		remaining, err := engine.Remaining(c.Request.Context(), uint(windowID), uint(productID), variantID)
		if err != nil {
			switch {
			case errors.Is(err, flashsale.ErrWindowNotFound), errors.Is(err, flashsale.ErrEntryNotFound):
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "秒杀条目不存在"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"remaining": remaining}})
	}
}

// buy 是秒杀下单入口。
// 关键流程：
// 1. 参数校验（数量上限来自配置）
// 2. 快速限购检查（DB pending/success + Redis 用户占位锁）
// 3. 引擎原子预占（活跃校验在预占时刻重算 + Lua 扣减配额）
// 4. 写 order_requests(pending)，金额按预占价锁定
// 5. 事件入 Redis Stream outbox，Relay 转 Kafka 异步建单
// 所有失败路径都做幂等配额回补并释放用户锁。
func buy(db *gorm.DB, rdb *rd.Client, engine *flashsale.Engine, log *zap.Logger, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			WindowID  uint   `json:"window_id" binding:"required,min=1"`
			ProductID uint   `json:"product_id" binding:"required,min=1"`
			VariantID string `json:"variant_id" binding:"required"`
			UserID    int64  `json:"user_id" binding:"required,min=1"`
			Quantity  int64  `json:"quantity" binding:"omitempty,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.Quantity <= 0 {
			req.Quantity = 1
		}
		if req.Quantity > int64(cfg.BuyMaxQuantity) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "超出单次限购数量"})
			return
		}

		ctx := c.Request.Context()

		// 2. 应用层快速检查（一人一次 + 排队中的请求）
		var existReq model.OrderRequest
		err := db.Where("user_id = ? AND window_id = ? AND product_id = ? AND variant_id = ? AND status IN ?",
			req.UserID, req.WindowID, req.ProductID, req.VariantID,
			[]model.OrderRequestStatus{model.OrderRequestPending, model.OrderRequestSuccess}).
			Limit(1).
			First(&existReq).Error
		if err == nil {
			metrics.ReserveTotal.WithLabelValues(metrics.ReserveLimited).Inc()
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "该秒杀商品已抢购过"})
			return
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		// 生成 request_id 作为整条链路的追踪与幂等主键。
		requestID := uuid.New().String()

		locked, err := redisx.AcquireUserLock(ctx, rdb, req.WindowID, req.ProductID, req.VariantID,
			req.UserID, requestID, cfg.StockCacheTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if !locked {
			metrics.ReserveTotal.WithLabelValues(metrics.ReserveLimited).Inc()
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "该秒杀商品已抢购过"})
			return
		}
		releaseUserLock := func() {
			if err := redisx.ReleaseUserLockIfMatch(ctx, rdb, req.WindowID, req.ProductID,
				req.VariantID, req.UserID, requestID); err != nil {
				log.Warn("release user lock", zap.String("request_id", requestID), zap.Error(err))
			}
		}

		// 3. 引擎原子预占
		result, err := engine.Reserve(ctx, req.WindowID, req.ProductID, req.VariantID, req.Quantity, time.Now())
		if err != nil {
			releaseUserLock()
			writeReserveError(c, err)
			return
		}

		// 4. 落请求状态（pending），金额按预占价锁定
		amount := result.UnitPrice * req.Quantity
		orderReq := &model.OrderRequest{
			RequestID: requestID,
			UserID:    req.UserID,
			WindowID:  req.WindowID,
			ProductID: req.ProductID,
			VariantID: req.VariantID,
			Quantity:  int(req.Quantity),
			UnitPrice: result.UnitPrice,
			Amount:    amount,
			Status:    model.OrderRequestPending,
		}
		stockKey := redisx.EntryStockKey(req.WindowID, req.ProductID, req.VariantID)
		if err := db.Create(orderReq).Error; err != nil {
			// 写状态失败时，立刻做一次幂等配额回补，避免"扣了配额却无请求状态"。
			if _, rerr := engine.ReleaseOnce(ctx, requestID, req.WindowID, req.ProductID,
				req.VariantID, req.Quantity); rerr != nil {
				log.Error("compensate after request create failure",
					zap.String("request_id", requestID), zap.String("key", stockKey), zap.Error(rerr))
			}
			releaseUserLock()
			metrics.ReserveTotal.WithLabelValues(metrics.ReserveError).Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "create request failed: " + err.Error()})
			return
		}

		// 5. 事件入 outbox，由 Relay 转 Kafka 异步写订单
		msg := queue.OrderMessage{
			RequestID: requestID,
			WindowID:  req.WindowID,
			ProductID: req.ProductID,
			VariantID: req.VariantID,
			UserID:    req.UserID,
			Quantity:  int(req.Quantity),
			UnitPrice: result.UnitPrice,
			Amount:    amount,
		}
		if err := queue.AppendOrderEvent(ctx, rdb, cfg.OrderEventStream, msg); err != nil {
			// 入流失败：状态改 failed + 幂等回补配额。
			_ = db.Model(&model.OrderRequest{}).
				Where("request_id = ?", requestID).
				Updates(map[string]any{
					"status":    model.OrderRequestFailed,
					"error_msg": "enqueue_failed",
				}).Error
			if _, rerr := engine.ReleaseOnce(ctx, requestID, req.WindowID, req.ProductID,
				req.VariantID, req.Quantity); rerr != nil {
				log.Error("compensate after enqueue failure",
					zap.String("request_id", requestID), zap.Error(rerr))
			}
			releaseUserLock()
			metrics.ReserveTotal.WithLabelValues(metrics.ReserveError).Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "enqueue failed: " + err.Error()})
			return
		}

		// 查询缓存尽力写，失败不影响主链路。
		if err := redisx.PutRequestState(ctx, rdb, requestID,
			redisx.RequestPending, "", "", requestStateTTL); err != nil {
			log.Warn("put request state", zap.String("request_id", requestID), zap.Error(err))
		}

		metrics.ReserveTotal.WithLabelValues(metrics.ReserveOK).Inc()
		// 这里不直接返回订单号，因为落单是异步的。
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"request_id": requestID,
				"status":     "pending",
				"remaining":  result.Remaining,
				"unit_price": result.UnitPrice,
				"amount":     amount,
			},
		})
	}
}

// writeReserveError 把引擎错误映射为可区分的用户语义：
// "已售罄"和"活动已结束"必须是不同的 reason，前端展示不同文案。
func writeReserveError(c *gin.Context, err error) {
	if remaining, ok := flashsale.IsInsufficientStock(err); ok {
		metrics.ReserveTotal.WithLabelValues(metrics.ReserveSoldOut).Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"code":      400,
			"msg":       "已售罄",
			"reason":    "sold_out",
			"remaining": remaining,
		})
		return
	}
	switch {
	case errors.Is(err, flashsale.ErrWindowNotActive):
		metrics.ReserveTotal.WithLabelValues(metrics.ReserveNotActive).Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"code":   400,
			"msg":    "不在秒杀时间段内",
			"reason": "window_not_active",
		})
	case errors.Is(err, flashsale.ErrWindowNotFound):
		metrics.ReserveTotal.WithLabelValues(metrics.ReserveNotFound).Inc()
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "秒杀场次不存在"})
	case errors.Is(err, flashsale.ErrEntryNotFound):
		metrics.ReserveTotal.WithLabelValues(metrics.ReserveNotFound).Inc()
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "秒杀商品不存在"})
	case errors.Is(err, flashsale.ErrInvalidWindow):
		metrics.ReserveTotal.WithLabelValues(metrics.ReserveError).Inc()
		c.JSON(http.StatusConflict, gin.H{"code": 409, "msg": "场次数据异常，请联系管理员"})
	case errors.Is(err, flashsale.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "数量必须 ≥ 1"})
	default:
		metrics.ReserveTotal.WithLabelValues(metrics.ReserveError).Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
	}
}

// cancel 取消已预占的请求，配额幂等回补（同一 request_id 只回补一次）。
func cancel(db *gorm.DB, rdb *rd.Client, engine *flashsale.Engine, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			RequestID string `json:"request_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		ctx := c.Request.Context()

		var orderReq model.OrderRequest
		if err := db.Where("request_id = ?", req.RequestID).First(&orderReq).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "request_id 不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if orderReq.Status == model.OrderRequestCancelled {
			// 重复取消是 no-op，不是错误。
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"request_id": req.RequestID,
				"status":     "cancelled",
				"released":   false,
			}})
			return
		}

		released, err := engine.ReleaseOnce(ctx, req.RequestID, orderReq.WindowID,
			orderReq.ProductID, orderReq.VariantID, int64(orderReq.Quantity))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if released {
			metrics.ReleaseTotal.Inc()
		}

		if err := db.Model(&model.OrderRequest{}).
			Where("request_id = ?", req.RequestID).
			Update("status", model.OrderRequestCancelled).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		// 已落的订单同步置为取消（可能还没被消费出来，忽略未命中）。
		_ = db.Model(&model.Order{}).
			Where("request_id = ?", req.RequestID).
			Update("status", model.OrderCancelled).Error

		if err := redisx.PutRequestState(ctx, rdb, req.RequestID,
			redisx.RequestCancelled, orderReq.OrderNo, "user_cancelled", requestStateTTL); err != nil {
			log.Warn("put request state", zap.String("request_id", req.RequestID), zap.Error(err))
		}

		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"request_id": req.RequestID,
			"status":     "cancelled",
			"released":   released,
		}})
	}
}

// getResult 根据 request_id 查询订单异步处理状态。
// 先查 Redis 缓存，未命中再回 DB 行。
func getResult(db *gorm.DB, rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.Param("request_id")
		if reqID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "request_id 必填"})
			return
		}

		if state, found, err := redisx.GetRequestState(c.Request.Context(), rdb, reqID); err == nil && found {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"status":     state.Status,
				"order_no":   state.OrderNo,
				"request_id": state.RequestID,
				"reason":     state.Reason,
			}})
			return
		}

		var req model.OrderRequest
		err := db.Where("request_id = ?", reqID).First(&req).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "request_id 不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		// 将内部状态映射为前端可读语义。
		switch req.Status {
		case model.OrderRequestPending:
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"status":     "pending",
				"request_id": req.RequestID,
			}})
		case model.OrderRequestSuccess:
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"status":     "created",
				"order_no":   req.OrderNo,
				"request_id": req.RequestID,
			}})
		case model.OrderRequestFailed:
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"status":     "failed",
				"request_id": req.RequestID,
				"reason":     req.ErrorMsg,
			}})
		case model.OrderRequestCancelled:
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"status":     "cancelled",
				"request_id": req.RequestID,
			}})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "unknown request status"})
		}
	}
}
