package router

import (
	"errors"
	"net/http"
	"strconv"

	"flash_mall/internal/config"
	"flash_mall/internal/flashsale"
	"flash_mall/internal/middleware"
	"flash_mall/internal/model"
	"flash_mall/internal/stock"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, engine *flashsale.Engine, log *zap.Logger, cfg config.AppConfig) {
	r.Use(middleware.Metrics())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Products
	r.GET("/api/products", listProducts(db))
	r.POST("/api/products", createProduct(db, cfg.AdminToken))
	r.GET("/api/products/:product_id/stock_status", stockStatus(db))

	// Flash sale
	r.GET("/api/flash_sale/home", homeFeed(db, engine, log))
	r.POST("/api/flash_sale/windows", createWindow(db, log, cfg.AdminToken))
	r.POST("/api/flash_sale/preload/:window_id", preloadWindow(engine, cfg.AdminToken))
	r.GET("/api/flash_sale/stock/:window_id/:product_id/:variant_id", entryStock(engine))
	r.POST("/api/flash_sale/buy",
		middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow),
		buy(db, rdb, engine, log, cfg))
	r.POST("/api/flash_sale/cancel", cancel(db, rdb, engine, log))
	r.GET("/api/flash_sale/result/:request_id", getResult(db, rdb))
}

// listProducts 查询商品列表（带规格）。
func listProducts(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.Product
		if err := db.Preload("Variants").Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createProduct 创建商品（可带规格，管理端动作）。
func createProduct(db *gorm.DB, adminToken string) gin.HandlerFunc {
	type variantReq struct {
		VariantID     string `json:"variant_id" binding:"required"`
		Price         int64  `json:"price" binding:"required,min=0"`
		OriginalPrice int64  `json:"original_price" binding:"omitempty,min=0"`
		Stock         int64  `json:"stock" binding:"omitempty,min=0"`
	}
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}

		var req struct {
			ProductCode string       `json:"product_code" binding:"required"`
			Name        string       `json:"name" binding:"required"`
			Status      string       `json:"status" binding:"omitempty,oneof=available unavailable"`
			Stock       int64        `json:"stock" binding:"omitempty,min=0"`
			Variants    []variantReq `json:"variants" binding:"omitempty,dive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		status := model.ProductStatus(req.Status)
		if status == "" {
			status = model.ProductAvailable
		}
		p := &model.Product{
			ProductCode: req.ProductCode,
			Name:        req.Name,
			Status:      status,
			Stock:       req.Stock,
		}
		for _, v := range req.Variants {
			p.Variants = append(p.Variants, model.ProductVariant{
				VariantID:     v.VariantID,
				Price:         v.Price,
				OriginalPrice: v.OriginalPrice,
				Stock:         v.Stock,
			})
		}
		if err := db.Create(p).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": p})
	}
}

// stockStatus 返回统一口径的库存分类，列表/详情/购物车共用。
// variant_id 通过 query 传入，缺省时按聚合口径。
func stockStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		idStr := c.Param("product_id")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商品ID无效"})
			return
		}

		var p model.Product
		if err := db.Preload("Variants").First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商品不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		cls := stock.Classify(p, c.Query("variant_id"))
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": cls})
	}
}
