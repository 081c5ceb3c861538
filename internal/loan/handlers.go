package loan

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rupeeflow/walletengine/internal/validation"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

// Handler provides HTTP endpoints for loans.
type Handler struct {
	service *Service
}

// NewHandler creates a new loan handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up loan routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/loans", h.Apply)
	r.POST("/loans/:id/repay", h.Repay)
	r.GET("/loans/:id", h.Get)
	r.GET("/wallets/:ownerId/loans", h.History)
}

// ApplyRequest is the loan application payload.
type ApplyRequest struct {
	OwnerID string `json:"ownerId" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

// Apply handles POST /v1/loans
func (h *Handler) Apply(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "ownerId and amount are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidOwner("ownerId", req.OwnerID),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	loan, err := h.service.Apply(c.Request.Context(), req.OwnerID, req.Amount)
	if err != nil {
		status := http.StatusInternalServerError
		code := "loan_failed"
		switch {
		case errors.Is(err, ErrLoanLimitExceeded):
			status = http.StatusUnprocessableEntity
			code = "limit_exceeded"
		case errors.Is(err, ErrActiveLoanExists):
			status = http.StatusConflict
			code = "active_loan_exists"
		case errors.Is(err, wallet.ErrInvalidAmount):
			status = http.StatusBadRequest
			code = "invalid_amount"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"loan": loan})
}

// Repay handles POST /v1/loans/:id/repay
func (h *Handler) Repay(c *gin.Context) {
	loan, err := h.service.Repay(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		code := "repayment_failed"
		switch {
		case errors.Is(err, ErrLoanNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrLoanNotOutstanding):
			status = http.StatusConflict
			code = "not_outstanding"
		case errors.Is(err, wallet.ErrInsufficientFunds):
			status = http.StatusUnprocessableEntity
			code = "insufficient_funds"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"loan": loan})
}

// Get handles GET /v1/loans/:id
func (h *Handler) Get(c *gin.Context) {
	loan, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrLoanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Loan not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"loan": loan})
}

// History handles GET /v1/wallets/:ownerId/loans
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

	loans, err := h.service.History(c.Request.Context(), ownerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"loans": loans,
		"count": len(loans),
	})
}
