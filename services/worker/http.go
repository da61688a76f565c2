package worker

import (
	"context"
	"net/http"

	"license-accrual/pkg/db/pagination"
	"license-accrual/pkg/errutil"
	"license-accrual/services/ledger"
	"license-accrual/services/license"
	"license-accrual/services/order"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// Licenses is the license surface the admin routes need.
type Licenses interface {
	Get(ctx context.Context, id string) (*license.License, error)
	Earnings(ctx context.Context, licenseID string) ([]*license.DailyEarning, error)
	SetPausePotential(ctx context.Context, id string, paused bool) error
}

// Orders is the order surface the admin routes need.
type Orders interface {
	SubmitTransaction(ctx context.Context, orderID, txHash string) error
	AuditTrail(ctx context.Context, orderID string) ([]*order.AuditLog, error)
}

// Ledger is the read side of the ledger the admin routes need.
type Ledger interface {
	EntriesPage(ctx context.Context, userID string, page pagination.Pagination) ([]*ledger.LedgerEntry, *pagination.PageInfo, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	VerifyChain(ctx context.Context, userID string) (string, error)
}

type Handler struct {
	admin    *Admin
	licenses Licenses
	orders   Orders
	ledger   Ledger
}

type HandlerParams struct {
	fx.In
	Admin    *Admin
	Licenses *license.Service
	Orders   *order.Service
	Ledger   *ledger.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{admin: p.Admin, licenses: p.Licenses, orders: p.Orders, ledger: p.Ledger}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/admin")

	g.GET("/queues", h.listQueues)
	g.GET("/queues/:queue", h.getQueue)
	g.POST("/queues/:queue/pause", h.pauseQueue)
	g.POST("/queues/:queue/resume", h.resumeQueue)
	g.POST("/queues/:queue/cleanup", h.cleanupQueue)

	g.POST("/earnings/run", h.runEarnings)
	g.POST("/orders/:id/transaction", h.submitTransaction)
	g.POST("/orders/:id/validate", h.validateOrder)
	g.GET("/orders/:id/audit", h.orderAudit)

	g.GET("/licenses/:id", h.getLicense)
	g.POST("/licenses/:id/pause", h.pauseLicense)
	g.POST("/licenses/:id/unpause", h.unpauseLicense)

	g.GET("/users/:user_id/ledger", h.listLedger)
	g.GET("/users/:user_id/ledger/verify", h.verifyLedger)
}

func registerRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}

func (h *Handler) listQueues(c *gin.Context) {
	stats, err := h.admin.AllStats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": stats})
}

func (h *Handler) getQueue(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context(), c.Param("queue"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) pauseQueue(c *gin.Context) {
	h.queueAction(c, h.admin.Pause)
}

func (h *Handler) resumeQueue(c *gin.Context) {
	h.queueAction(c, h.admin.Resume)
}

func (h *Handler) queueAction(c *gin.Context, fn func(context.Context, string) error) {
	ctx := c.Request.Context()
	queue := c.Param("queue")
	if err := fn(ctx, queue); err != nil {
		_ = c.Error(err)
		return
	}
	stats, err := h.admin.Stats(ctx, queue)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) cleanupQueue(c *gin.Context) {
	res, err := h.admin.Cleanup(c.Request.Context(), c.Param("queue"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) runEarnings(c *gin.Context) {
	info, err := h.admin.TriggerEarningsCycle(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue})
}

func (h *Handler) validateOrder(c *gin.Context) {
	if err := h.admin.TriggerValidation(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": c.Param("id")})
}

type submitTransactionRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

func (h *Handler) submitTransaction(c *gin.Context) {
	var req submitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("tx_hash is required", err))
		return
	}
	id := c.Param("id")
	if err := h.orders.SubmitTransaction(c.Request.Context(), id, req.TxHash); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": id, "status": order.StatusPaid})
}

func (h *Handler) orderAudit(c *gin.Context) {
	logs, err := h.orders.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(errutil.Internal("failed to load audit trail", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": logs})
}

func (h *Handler) getLicense(c *gin.Context) {
	ctx := c.Request.Context()
	lic, err := h.licenses.Get(ctx, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	earnings, err := h.licenses.Earnings(ctx, lic.ID)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to load earnings", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": lic, "earnings": earnings})
}

func (h *Handler) pauseLicense(c *gin.Context) {
	h.setPause(c, true)
}

func (h *Handler) unpauseLicense(c *gin.Context) {
	h.setPause(c, false)
}

func (h *Handler) setPause(c *gin.Context, paused bool) {
	id := c.Param("id")
	if err := h.licenses.SetPausePotential(c.Request.Context(), id, paused); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"license_id": id, "pause_potential": paused})
}

func (h *Handler) listLedger(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	ctx := c.Request.Context()
	userID := c.Param("user_id")

	entries, info, err := h.ledger.EntriesPage(ctx, userID, page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	balance, err := h.ledger.Balance(ctx, userID)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to compute balance", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "page_info": info, "balance": balance})
}

func (h *Handler) verifyLedger(c *gin.Context) {
	broken, err := h.ledger.VerifyChain(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		_ = c.Error(errutil.Internal("failed to verify ledger", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"intact": broken == "", "first_broken_entry": broken})
}
