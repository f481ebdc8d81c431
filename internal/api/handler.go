package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
	actorKey        = "actor"
)

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders   *service.OrderService
	reversal *service.ReversalService
	stock    *service.StockService
	recipes  *service.RecipeResolver
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	reversal *service.ReversalService,
	stock *service.StockService,
	recipes *service.RecipeResolver,
) *Handler {
	return &Handler{
		orders:   orders,
		reversal: reversal,
		stock:    stock,
		recipes:  recipes,
		checks:   make(map[string]Pinger),
		logger:   util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency for /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// legacy path used by the till
	router.POST("/api/orders/:id/void", requireActor(), h.voidOrder)

	v1 := router.Group("/api/v1", requireActor())
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/pay", h.payOrder)
		v1.POST("/orders/:id/void", h.voidOrder)
		v1.POST("/orders/:id/refund", h.refundOrder)

		v1.POST("/ingredients", requireRole(models.RoleAdmin), h.createIngredient)
		v1.GET("/ingredients/low-stock", h.lowStock)
		v1.GET("/ingredients/:id", h.getIngredient)
		v1.GET("/ingredients/:id/movements", h.listMovements)
		v1.GET("/ingredients/:id/recipes", h.ingredientRecipes)
		v1.POST("/ingredients/:id/movements", requireRole(models.RoleAdmin), h.recordMovement)
		v1.GET("/ingredients/:id/reconcile", requireRole(models.RoleAdmin), h.reconcile)

		v1.GET("/products/:id/recipe", h.getRecipe)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles checkout
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderInput

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := h.orders.CreateOrder(c.Request.Context(), &req, actorFrom(c))
	if err != nil {
		h.writeError(c, "Failed to create order", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		if res.Order.PaymentStatus == models.PaymentStatusFailed {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Checkout already failed for this idempotency key",
				"order": res.Order,
			})
			return
		}
		status = http.StatusOK
	}

	c.JSON(status, gin.H{
		"order": res.Order,
		"items": res.Items,
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to load order", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

type payRequest struct {
	PaymentMethod string `json:"payment_method"`
}

func (h *Handler) payOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.MarkPaid(c.Request.Context(), orderID, req.PaymentMethod)
	if err != nil {
		h.writeError(c, "Failed to record payment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type voidRequest struct {
	VoidReason string `json:"void_reason"`
}

// voidOrder handles POST /orders/:id/void
func (h *Handler) voidOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	var req voidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.reversal.VoidOrder(c.Request.Context(), orderID, req.VoidReason, actorFrom(c))
	if err != nil {
		h.writeError(c, "Failed to void order", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Order voided successfully",
		"order":   order,
	})
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) refundOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.reversal.RefundOrder(c.Request.Context(), orderID, req.Amount, actorFrom(c))
	if err != nil {
		h.writeError(c, "Failed to refund order", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Refund recorded",
		"order":   order,
	})
}

type createIngredientRequest struct {
	Name         string          `json:"name" binding:"required"`
	Unit         string          `json:"unit" binding:"required"`
	MinStock     decimal.Decimal `json:"min_stock"`
	CostPerUnit  decimal.Decimal `json:"cost_per_unit"`
	InitialStock decimal.Decimal `json:"initial_stock"`
}

func (h *Handler) createIngredient(c *gin.Context) {
	var req createIngredientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ing, err := h.stock.CreateIngredient(c.Request.Context(), &models.Ingredient{
		Name:        req.Name,
		Unit:        req.Unit,
		MinStock:    req.MinStock,
		CostPerUnit: req.CostPerUnit,
	}, req.InitialStock, actorFrom(c).ID)
	if err != nil {
		h.writeError(c, "Failed to create ingredient", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ingredient": ing})
}

func (h *Handler) getIngredient(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ing, err := h.stock.GetIngredient(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to load ingredient", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ingredient": ing})
}

func (h *Handler) lowStock(c *gin.Context) {
	ings, err := h.stock.LowStock(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to load low stock", err)
		return
	}
	if ings == nil {
		ings = []models.Ingredient{}
	}
	c.JSON(http.StatusOK, gin.H{"ingredients": ings})
}

func (h *Handler) listMovements(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	mvs, err := h.stock.ListMovements(c.Request.Context(), id, limit)
	if err != nil {
		h.writeError(c, "Failed to load movements", err)
		return
	}
	if mvs == nil {
		mvs = []models.StockMovement{}
	}
	c.JSON(http.StatusOK, gin.H{"movements": mvs})
}

func (h *Handler) recordMovement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.MovementInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	req.IngredientID = id
	req.CreatedBy = actorFrom(c).ID

	mv, err := h.stock.Adjust(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "Failed to record movement", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"movement": mv})
}

func (h *Handler) reconcile(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	report, err := h.stock.Reconcile(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to reconcile ingredient", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) getRecipe(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	lines, err := h.recipes.Resolve(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to load recipe", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "ingredients": lines})
}

// ingredientRecipes lists the products whose recipes consume an ingredient
func (h *Handler) ingredientRecipes(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.stock.GetIngredient(ctx, id); err != nil {
		h.writeError(c, "Failed to get ingredient", err)
		return
	}
	rows, err := h.recipes.ForIngredient(ctx, id)
	if err != nil {
		h.writeError(c, "Failed to load recipes", err)
		return
	}
	if rows == nil {
		rows = []models.Recipe{}
	}
	c.JSON(http.StatusOK, gin.H{"ingredient_id": id, "recipes": rows})
}

// statusFor maps service errors to HTTP status codes. An expired void window
// is reported as a bad request; other authorization failures are 403.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrPartialFailure):
		return http.StatusInternalServerError
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrVoidWindowExpired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrAlreadyInTerminalState):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInsufficientStock):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError reports client errors with details. Server errors are logged
// and answered with the summary only.
func (h *Handler) writeError(c *gin.Context, summary string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(summary,
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": summary})
		return
	}
	c.JSON(status, gin.H{
		"error":   summary,
		"details": err.Error(),
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// requireActor reads the caller identity set by the upstream gateway
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := models.Actor{
			ID:   c.GetHeader(headerActorID),
			Role: c.GetHeader(headerActorRole),
		}
		if actor.ID == "" || actor.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
