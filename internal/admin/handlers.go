package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rupeeflow/walletengine/internal/settlement"
	"github.com/rupeeflow/walletengine/internal/validation"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

// Handler provides HTTP endpoints for administrative actions.
type Handler struct {
	service *Service
}

// NewHandler creates a new admin handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up admin routes. The caller is expected to guard the
// group with the admin secret middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/adjust", h.Adjust)
	r.POST("/transactions/:id/refund", h.Refund)
	r.GET("/audits", h.ListAudits)
}

// AdjustRequest is the manual balance correction payload.
type AdjustRequest struct {
	ActorID string `json:"actorId" binding:"required"`
	OwnerID string `json:"ownerId" binding:"required"`
	Kind    string `json:"kind" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

// Adjust handles POST /admin/adjust
func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "actorId, ownerId, kind, amount and reason are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidOwner("ownerId", req.OwnerID),
		validation.OneOf("kind", req.Kind, AdjustCredit, AdjustDebit),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("reason", req.Reason, 500),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	audit, err := h.service.Adjust(c.Request.Context(),
		req.ActorID, req.OwnerID, req.Kind, req.Amount, req.Reason)
	if err != nil {
		status := http.StatusInternalServerError
		code := "adjustment_failed"
		switch {
		case errors.Is(err, ErrInvalidAdjustmentKind):
			status = http.StatusBadRequest
			code = "invalid_kind"
		case errors.Is(err, wallet.ErrWalletNotFound):
			status = http.StatusNotFound
			code = "wallet_not_found"
		case errors.Is(err, wallet.ErrInvalidAmount):
			status = http.StatusBadRequest
			code = "invalid_amount"
		case errors.Is(err, wallet.ErrInsufficientFunds):
			status = http.StatusUnprocessableEntity
			code = "insufficient_funds"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit": audit})
}

// RefundRequest is the operator refund payload.
type RefundRequest struct {
	ActorID string `json:"actorId" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

// Refund handles POST /admin/transactions/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "actorId and reason are required",
		})
		return
	}

	tx, err := h.service.RefundTransaction(c.Request.Context(),
		req.ActorID, c.Param("id"), req.Reason)
	if err != nil {
		status := http.StatusInternalServerError
		code := "refund_failed"
		switch {
		case errors.Is(err, settlement.ErrTransactionNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, settlement.ErrAlreadyRefunded):
			status = http.StatusConflict
			code = "already_refunded"
		case errors.Is(err, settlement.ErrNotRefundable):
			status = http.StatusConflict
			code = "not_refundable"
		case errors.Is(err, wallet.ErrInsufficientFunds):
			status = http.StatusUnprocessableEntity
			code = "insufficient_funds"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ListAudits handles GET /admin/audits
func (h *Handler) ListAudits(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	audits, err := h.service.ListAudits(c.Request.Context(), c.Query("ownerId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"audits": audits,
		"count":  len(audits),
	})
}
