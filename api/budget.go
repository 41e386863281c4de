package api

import (
	"net/http"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/service/budget"
	"github.com/gin-gonic/gin"
)

type BudgetHandler struct {
	ledger budget.LedgerUseCase
}

type evaluateRequest struct {
	GuestID             string       `json:"guestId"`
	TierID              string       `json:"tierId"`
	Amount              domain.Money `json:"amount"`
	Description         string       `json:"description"`
	BookingID           string       `json:"bookingId"`
	IsSyntheticFallback bool         `json:"isSyntheticFallback"`
}

type perkRequest struct {
	GuestID             string            `json:"guestId"`
	TierID              string            `json:"tierId"`
	BaseCost            domain.Money      `json:"baseCost"`
	Commission          commissionRequest `json:"commission"`
	Description         string            `json:"description"`
	BookingID           string            `json:"bookingId"`
	IsSyntheticFallback bool              `json:"isSyntheticFallback"`
}

type resolveRequest struct {
	Approve  bool   `json:"approve"`
	Reviewer string `json:"reviewer"`
}

type allowanceRequest struct {
	EventID           string       `json:"eventId"`
	PerGuestAllowance domain.Money `json:"perGuestAllowance"`
	GuestCount        int          `json:"guestCount"`
}

type decisionResponse struct {
	RequestID     string       `json:"requestId"`
	Status        string       `json:"status"`
	ConsumedSoFar domain.Money `json:"consumedSoFar"`
}

type perkDecisionResponse struct {
	decisionResponse
	Price priceResponse `json:"price"`
}

type spendRequestResponse struct {
	ID                  string       `json:"id"`
	TierID              string       `json:"tierId"`
	GuestID             string       `json:"guestId"`
	Amount              domain.Money `json:"amount"`
	Status              string       `json:"status"`
	ReviewedBy          string       `json:"reviewedBy,omitempty"`
	IsSyntheticFallback bool         `json:"isSyntheticFallback"`
}

type poolResponse struct {
	TierID              string       `json:"tierId"`
	EventID             string       `json:"eventId"`
	PerGuestAllowance   domain.Money `json:"perGuestAllowance"`
	GuestCount          int          `json:"guestCount"`
	Capacity            domain.Money `json:"capacity"`
	ApprovedConsumption domain.Money `json:"approvedConsumption"`
	Remaining           domain.Money `json:"remaining"`
}

func NewBudgetHandler(ledger budget.LedgerUseCase) *BudgetHandler {
	return &BudgetHandler{ledger: ledger}
}

func (h *BudgetHandler) Register(router *gin.RouterGroup) {
	router.POST("/evaluate", h.evaluate)
	router.POST("/perk", h.perk)
	router.POST("/requests/:id/resolve", h.resolve)
	router.GET("/pools/:tierId", h.pool)
	router.PUT("/pools/:tierId", h.setAllowance)
}

func (h *BudgetHandler) evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	decision, err := h.ledger.Evaluate(c.Request.Context(), budget.EvaluateInput{
		GuestID:     req.GuestID,
		TierID:      req.TierID,
		Amount:      req.Amount,
		Description: req.Description,
		BookingID:   req.BookingID,
		Synthetic:   req.IsSyntheticFallback,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDecisionResponse(decision))
}

func (h *BudgetHandler) perk(c *gin.Context) {
	var req perkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	decision, err := h.ledger.EvaluatePerk(c.Request.Context(), budget.PerkInput{
		GuestID:     req.GuestID,
		TierID:      req.TierID,
		BaseCost:    req.BaseCost,
		Commission:  req.Commission.rule(),
		Description: req.Description,
		BookingID:   req.BookingID,
		Synthetic:   req.IsSyntheticFallback,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, perkDecisionResponse{
		decisionResponse: toDecisionResponse(decision.BudgetDecision),
		Price: priceResponse{
			SupplierBaseCost:  decision.Price.Base,
			Commission:        decision.Price.Commission,
			ClientFacingPrice: decision.Price.Price,
		},
	})
}

func (h *BudgetHandler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resolved, err := h.ledger.Resolve(c.Request.Context(), c.Param("id"), req.Approve, req.Reviewer)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, spendRequestResponse{
		ID:                  resolved.ID,
		TierID:              resolved.TierID,
		GuestID:             resolved.GuestID,
		Amount:              resolved.Amount,
		Status:              string(resolved.Status),
		ReviewedBy:          resolved.ReviewedBy,
		IsSyntheticFallback: resolved.SyntheticFallback,
	})
}

func (h *BudgetHandler) pool(c *gin.Context) {
	pool, err := h.ledger.Pool(c.Request.Context(), c.Param("tierId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPoolResponse(pool))
}

func (h *BudgetHandler) setAllowance(c *gin.Context) {
	var req allowanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pool, err := h.ledger.SetAllowance(c.Request.Context(), budget.AllowanceInput{
		TierID:            c.Param("tierId"),
		EventID:           req.EventID,
		PerGuestAllowance: req.PerGuestAllowance,
		GuestCount:        req.GuestCount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPoolResponse(pool))
}

func toDecisionResponse(d domain.BudgetDecision) decisionResponse {
	return decisionResponse{RequestID: d.RequestID, Status: string(d.Status), ConsumedSoFar: d.ConsumedSoFar}
}

func toPoolResponse(p domain.BudgetPool) poolResponse {
	return poolResponse{
		TierID:              p.TierID,
		EventID:             p.EventID,
		PerGuestAllowance:   p.PerGuestAllowance,
		GuestCount:          p.GuestCount,
		Capacity:            p.Capacity(),
		ApprovedConsumption: p.ApprovedConsumption,
		Remaining:           p.Remaining(),
	}
}
