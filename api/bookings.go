package api

import (
	"net/http"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/service/bookings"
	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	service bookings.BookingUseCase
}

func NewBookingHandler(service bookings.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.DELETE("/:id", h.cancel)
}

func (h *BookingHandler) list(c *gin.Context) {
	list, err := h.service.ListByEvent(c.Request.Context(), c.Query("eventId"), domain.ProductLine(c.Query("product")))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]bookingResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toBookingResponse(&list[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BookingHandler) get(c *gin.Context) {
	booking, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	booking, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(booking))
}
