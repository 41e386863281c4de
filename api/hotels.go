package api

import (
	"net/http"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/service/hotels"
	"github.com/gin-gonic/gin"
)

type HotelHandler struct {
	service hotels.HotelUseCase
}

type hotelCriteriaRequest struct {
	PropertyID string `json:"propertyId"`
	CheckIn    date   `json:"checkIn"`
	CheckOut   date   `json:"checkOut"`
	Rooms      int    `json:"rooms"`
	Adults     int    `json:"adults"`
}

func (r hotelCriteriaRequest) criteria() domain.HotelCriteria {
	return domain.HotelCriteria{
		PropertyID: r.PropertyID,
		CheckIn:    r.CheckIn.Time,
		CheckOut:   r.CheckOut.Time,
		Rooms:      r.Rooms,
		Adults:     r.Adults,
	}
}

type hotelSearchRequest struct {
	EventID  string               `json:"eventId"`
	Criteria hotelCriteriaRequest `json:"criteria"`
}

type guestRequest struct {
	LeadName string `json:"leadName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Notes    string `json:"notes"`
}

type hotelBookRequest struct {
	EventID    string               `json:"eventId"`
	Label      string               `json:"label"`
	Criteria   hotelCriteriaRequest `json:"criteria"`
	TraceID    string               `json:"traceId"`
	OfferRef   string               `json:"offerRef"`
	Guest      guestRequest         `json:"guest"`
	Commission commissionRequest    `json:"commission"`
}

type roomOfferResponse struct {
	OfferRef  string       `json:"offerRef"`
	RoomType  string       `json:"roomType"`
	RateCode  string       `json:"rateCode"`
	BaseTotal domain.Money `json:"baseTotal"`
	Currency  string       `json:"currency"`
}

type hotelSearchResponse struct {
	TraceID string              `json:"traceId"`
	Offers  []roomOfferResponse `json:"offers"`
}

type hotelBookResponse struct {
	ConfirmationRef   string          `json:"confirmationRef"`
	ClientFacingPrice domain.Money    `json:"clientFacingPrice"`
	Price             priceResponse   `json:"price"`
	Booking           bookingResponse `json:"booking"`
}

func NewHotelHandler(service hotels.HotelUseCase) *HotelHandler {
	return &HotelHandler{service: service}
}

func (h *HotelHandler) Register(router *gin.RouterGroup) {
	router.POST("/hotel/search", h.search)
	router.POST("/hotel", h.book)
}

func (h *HotelHandler) search(c *gin.Context) {
	var req hotelSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.service.Search(c.Request.Context(), req.EventID, req.Criteria.criteria())
	if err != nil {
		writeError(c, err)
		return
	}

	offers := make([]roomOfferResponse, 0, len(result.Offers))
	for _, o := range result.Offers {
		offers = append(offers, roomOfferResponse{
			OfferRef:  o.OfferRef,
			RoomType:  o.RoomType,
			RateCode:  o.RateCode,
			BaseTotal: o.BaseTotal,
			Currency:  o.Currency,
		})
	}
	c.JSON(http.StatusOK, hotelSearchResponse{TraceID: result.Session.TraceID, Offers: offers})
}

func (h *HotelHandler) book(c *gin.Context) {
	var req hotelBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.service.Book(c.Request.Context(), hotels.BookInput{
		EventID:  req.EventID,
		Label:    req.Label,
		Criteria: req.Criteria.criteria(),
		TraceID:  req.TraceID,
		OfferRef: req.OfferRef,
		Guest: domain.GuestInfo{
			LeadName: req.Guest.LeadName,
			Email:    req.Guest.Email,
			Phone:    req.Guest.Phone,
			Notes:    req.Guest.Notes,
		},
		Commission: req.Commission.rule(),
	})
	if err != nil {
		var booking *domain.CommittedBooking
		if result != nil {
			booking = result.Booking
		}
		writePipelineError(c, err, booking)
		return
	}

	b := result.Booking
	c.JSON(http.StatusCreated, hotelBookResponse{
		ConfirmationRef:   b.ExternalReference,
		ClientFacingPrice: b.ClientFacingPrice,
		Price: priceResponse{
			SupplierBaseCost:  result.Price.Base,
			Commission:        result.Price.Commission,
			ClientFacingPrice: result.Price.Price,
			Currency:          b.Currency,
		},
		Booking: toBookingResponse(b),
	})
}
