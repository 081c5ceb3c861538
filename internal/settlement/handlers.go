package settlement

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rupeeflow/walletengine/internal/gateway"
	"github.com/rupeeflow/walletengine/internal/validation"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

// Handler provides HTTP endpoints for settlements.
type Handler struct {
	service *Service
}

// NewHandler creates a new settlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/settlements", h.Submit)
	r.GET("/settlements/:id", h.Get)
	r.GET("/wallets/:ownerId/transactions", h.History)
}

// RegisterCallbackRoutes sets up the vendor callback endpoint.
func (h *Handler) RegisterCallbackRoutes(r *gin.RouterGroup) {
	r.POST("/gateway/callback", h.Callback)
}

// Submit handles POST /v1/settlements
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "ownerId, kind, and amount are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidOwner("ownerId", req.OwnerID),
		validation.ValidAmount("amount", req.Amount),
		validation.OneOf("kind", req.Kind, KindRecharge, KindBillPayment, KindPayout, KindTopup, KindLoanDisbursal),
		validation.MaxLength("target", req.Target, 128),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tx, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "settlement_failed"
		switch {
		case errors.Is(err, ErrInvalidKind), errors.Is(err, ErrInvalidAmount), errors.Is(err, wallet.ErrInvalidAmount):
			status = http.StatusBadRequest
			code = "invalid_request"
		case errors.Is(err, ErrInsufficientBalance):
			status = http.StatusUnprocessableEntity
			code = "insufficient_balance"
		case errors.Is(err, wallet.ErrInsufficientFunds):
			status = http.StatusUnprocessableEntity
			code = "insufficient_funds"
		case errors.Is(err, wallet.ErrWalletNotFound):
			status = http.StatusNotFound
			code = "wallet_not_found"
		case errors.Is(err, gateway.ErrUnavailable):
			status = http.StatusBadGateway
			code = "gateway_unavailable"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

// Get handles GET /v1/settlements/:id
func (h *Handler) Get(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// History handles GET /v1/wallets/:ownerId/transactions
func (h *Handler) History(c *gin.Context) {
	ownerID := c.Param("ownerId")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	transactions, err := h.service.History(c.Request.Context(), ownerID, c.Query("kind"), limit)
	if err != nil {
		if errors.Is(err, ErrInvalidKind) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// CallbackRequest is the payload vendors POST when an asynchronous
// settlement reaches a terminal status.
type CallbackRequest struct {
	Reference string `json:"reference" binding:"required"`
	Status    string `json:"status" binding:"required"`
	Message   string `json:"message"`
}

// Callback handles POST /v1/gateway/callback
func (h *Handler) Callback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reference and status are required",
		})
		return
	}

	if req.Status != gateway.StatusSuccess && req.Status != gateway.StatusFailed && req.Status != gateway.StatusPending {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "status must be SUCCESS, FAILED, or PENDING",
		})
		return
	}

	tx, err := h.service.HandleCallback(c.Request.Context(), req.Reference, req.Status, req.Message)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "unknown_reference",
				"message": "No transaction matches this reference",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}
