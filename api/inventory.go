package api

import (
	"net/http"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/service/inventory"
	"github.com/gin-gonic/gin"
)

type InventoryHandler struct {
	ledger inventory.LedgerUseCase
}

type confirmRequest struct {
	BookingID string `json:"bookingId"`
	Delta     int    `json:"delta"`
}

type alertResponse struct {
	BookingID           string  `json:"bookingId"`
	Label               string  `json:"label"`
	UnitType            string  `json:"unitType"`
	UnitsBlocked        int     `json:"unitsBlocked"`
	UnitsConfirmed      int     `json:"unitsConfirmed"`
	UtilizationPct      float64 `json:"utilizationPct"`
	Severity            string  `json:"severity"`
	IsSyntheticFallback bool    `json:"isSyntheticFallback"`
	Message             string  `json:"message"`
}

type inventoryRecordResponse struct {
	BookingID      string  `json:"bookingId"`
	EventID        string  `json:"eventId"`
	UnitType       string  `json:"unitType"`
	UnitsBlocked   int     `json:"unitsBlocked"`
	UnitsConfirmed int     `json:"unitsConfirmed"`
	Nights         int     `json:"nights,omitempty"`
	UtilizationPct float64 `json:"utilizationPct"`
}

func NewInventoryHandler(ledger inventory.LedgerUseCase) *InventoryHandler {
	return &InventoryHandler{ledger: ledger}
}

func (h *InventoryHandler) Register(router *gin.RouterGroup) {
	router.GET("/status", h.status)
	router.POST("/confirm", h.confirm)
}

func (h *InventoryHandler) status(c *gin.Context) {
	alerts, err := h.ledger.Status(c.Request.Context(), c.Query("eventId"))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		resp = append(resp, alertResponse{
			BookingID:           a.BookingID,
			Label:               a.Label,
			UnitType:            string(a.UnitType),
			UnitsBlocked:        a.UnitsBlocked,
			UnitsConfirmed:      a.UnitsConfirmed,
			UtilizationPct:      a.UtilizationPct,
			Severity:            string(a.Severity),
			IsSyntheticFallback: a.Synthetic,
			Message:             a.Message,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *InventoryHandler) confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.ledger.RecordConfirmation(c.Request.Context(), req.BookingID, req.Delta)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInventoryRecordResponse(rec))
}

func toInventoryRecordResponse(rec domain.InventoryRecord) inventoryRecordResponse {
	return inventoryRecordResponse{
		BookingID:      rec.BookingID,
		EventID:        rec.EventID,
		UnitType:       string(rec.UnitType),
		UnitsBlocked:   rec.UnitsBlocked,
		UnitsConfirmed: rec.UnitsConfirmed,
		Nights:         rec.Nights,
		UtilizationPct: rec.UtilizationPct(),
	}
}
