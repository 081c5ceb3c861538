package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for wallet reads.
type Handler struct {
	service *Service
}

// NewHandler creates a new wallet handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:ownerId/balance", h.GetBalance)
	r.GET("/wallets/:ownerId/ledger", h.GetLedger)
	r.POST("/wallets", h.CreateWallet)
}

// CreateWallet handles POST /v1/wallets
func (h *Handler) CreateWallet(c *gin.Context) {
	var req struct {
		OwnerID string `json:"ownerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "ownerId is required",
		})
		return
	}

	acct, err := h.service.CreateForOwner(c.Request.Context(), req.OwnerID)
	if err != nil {
		if errors.Is(err, ErrWalletExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "wallet_exists",
				"message": "A wallet already exists for this owner",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"wallet": acct})
}

// GetBalance handles GET /v1/wallets/:ownerId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	ownerID := c.Param("ownerId")

	acct, err := h.service.GetBalance(c.Request.Context(), ownerID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Wallet not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": acct})
}

// GetLedger handles GET /v1/wallets/:ownerId/ledger
func (h *Handler) GetLedger(c *gin.Context) {
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

	entries, err := h.service.Ledger(c.Request.Context(), ownerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
