package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/toolforge/toolforge-be/internal/api/dto"
	creditdomain "github.com/toolforge/toolforge-be/internal/credit/domain"
)

// GetCreditBalance handles GET /api/v1/organizations/:org_id/credits
func (h *CreditHandler) GetCreditBalance(c *gin.Context) {
	orgID := c.Param("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "org_id is required",
		})
		return
	}

	balance, err := h.credits.GetBalance(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, creditdomain.ErrBalanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Credit balance not found",
			})
			return
		}

		h.logger.Error("Failed to get credit balance",
			slog.String("organization_id", orgID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get credit balance",
		})
		return
	}

	c.JSON(http.StatusOK, balanceResponse(balance))
}

// ListCreditTransactions handles GET /api/v1/organizations/:org_id/credits/transactions
func (h *CreditHandler) ListCreditTransactions(c *gin.Context) {
	orgID := c.Param("org_id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	transactions, err := h.credits.ListTransactions(c.Request.Context(), orgID, limit)
	if err != nil {
		if errors.Is(err, creditdomain.ErrBalanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Credit balance not found",
			})
			return
		}

		h.logger.Error("Failed to list credit transactions",
			slog.String("organization_id", orgID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list credit transactions",
		})
		return
	}

	response := make([]dto.CreditTransactionDTO, len(transactions))
	for i, txn := range transactions {
		response[i] = dto.CreditTransactionDTO{
			ID:          txn.ID,
			Type:        txn.Type,
			Amount:      txn.Amount,
			ToolSlug:    txn.ToolSlug,
			JobID:       txn.JobID,
			Description: txn.Description,
			CreatedAt:   txn.CreatedAt,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": response,
	})
}

// GrantCredits handles POST /internal/credits/grant. Granting is an upsert:
// a new organization gets a fresh balance, an existing one gets its included
// allotment and period replaced without touching consumption.
func (h *CreditHandler) GrantCredits(c *gin.Context) {
	var req dto.GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	balance, err := h.credits.Grant(c.Request.Context(), req.OrganizationID, req.IncludedCredits, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		var validationErr *creditdomain.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": validationErr.Error(),
			})
			return
		}

		h.logger.Error("Failed to grant credits",
			slog.String("organization_id", req.OrganizationID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to grant credits",
		})
		return
	}

	h.logger.Info("Credits granted",
		slog.String("organization_id", req.OrganizationID),
		slog.Int64("included_credits", req.IncludedCredits),
	)

	c.JSON(http.StatusOK, balanceResponse(balance))
}

// ResetCredits handles POST /internal/credits/reset, the billing-period
// rollover: consumption zeroes out, the period window moves forward.
func (h *CreditHandler) ResetCredits(c *gin.Context) {
	var req dto.ResetCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	balance, err := h.credits.Reset(c.Request.Context(), req.OrganizationID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		if errors.Is(err, creditdomain.ErrBalanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Credit balance not found",
			})
			return
		}

		var validationErr *creditdomain.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": validationErr.Error(),
			})
			return
		}

		h.logger.Error("Failed to reset credits",
			slog.String("organization_id", req.OrganizationID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to reset credits",
		})
		return
	}

	h.logger.Info("Credit period reset",
		slog.String("organization_id", req.OrganizationID),
	)

	c.JSON(http.StatusOK, balanceResponse(balance))
}

func balanceResponse(balance *creditdomain.CreditBalance) dto.CreditBalanceResponse {
	return dto.CreditBalanceResponse{
		OrganizationID:  balance.OrganizationID,
		IncludedCredits: balance.Included,
		UsedCredits:     balance.Used,
		OverageCredits:  balance.Overage,
		Purchased:       balance.PurchasedCredits,
		Remaining:       balance.Remaining(),
		PeriodStart:     balance.PeriodStart,
		PeriodEnd:       balance.PeriodEnd,
	}
}
