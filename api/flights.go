package api

import (
	"net/http"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/service/flights"
	"github.com/gin-gonic/gin"
)

type FlightHandler struct {
	service flights.FlightUseCase
}

type flightCriteriaRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	DepartDate  date   `json:"departDate"`
	ReturnDate  date   `json:"returnDate"`
	Adults      int    `json:"adults"`
	Children    int    `json:"children"`
	Infants     int    `json:"infants"`
	CabinClass  string `json:"cabinClass"`
}

func (r flightCriteriaRequest) criteria() domain.FlightCriteria {
	return domain.FlightCriteria{
		Origin:      r.Origin,
		Destination: r.Destination,
		DepartDate:  r.DepartDate.Time,
		ReturnDate:  r.ReturnDate.Time,
		Adults:      r.Adults,
		Children:    r.Children,
		Infants:     r.Infants,
		CabinClass:  r.CabinClass,
	}
}

type passengerRequest struct {
	Title       string `json:"title"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth date   `json:"dateOfBirth"`
	Type        string `json:"type"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Passport    string `json:"passport"`
}

type flightSearchRequest struct {
	EventID  string                `json:"eventId"`
	Criteria flightCriteriaRequest `json:"criteria"`
}

type flightBookRequest struct {
	EventID    string                `json:"eventId"`
	Label      string                `json:"label"`
	Criteria   flightCriteriaRequest `json:"criteria"`
	TraceID    string                `json:"traceId"`
	OfferRef   string                `json:"offerRef"`
	Passengers []passengerRequest    `json:"passengers"`
	Commission commissionRequest     `json:"commission"`
}

type flightOfferResponse struct {
	OfferRef     string       `json:"offerRef"`
	Carrier      string       `json:"carrier"`
	FlightNumber string       `json:"flightNumber"`
	DepartAt     string       `json:"departAt"`
	ArriveAt     string       `json:"arriveAt"`
	BaseFare     domain.Money `json:"baseFare"`
	Currency     string       `json:"currency"`
	RequiresHold bool         `json:"requiresHold"`
	Synthetic    bool         `json:"synthetic"`
}

type flightSearchResponse struct {
	TraceID             string                `json:"traceId"`
	IsSyntheticFallback bool                  `json:"isSyntheticFallback"`
	Offers              []flightOfferResponse `json:"offers"`
}

type flightBookResponse struct {
	Reference           string          `json:"reference"`
	IsSyntheticFallback bool            `json:"isSyntheticFallback"`
	ClientFacingPrice   domain.Money    `json:"clientFacingPrice"`
	Price               priceResponse   `json:"price"`
	Booking             bookingResponse `json:"booking"`
}

func NewFlightHandler(service flights.FlightUseCase) *FlightHandler {
	return &FlightHandler{service: service}
}

func (h *FlightHandler) Register(router *gin.RouterGroup) {
	router.POST("/flight/search", h.search)
	router.POST("/flight", h.book)
}

func (h *FlightHandler) search(c *gin.Context) {
	var req flightSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.service.Search(c.Request.Context(), req.EventID, req.Criteria.criteria())
	if err != nil {
		writeError(c, err)
		return
	}

	offers := make([]flightOfferResponse, 0, len(result.Offers))
	for _, o := range result.Offers {
		offers = append(offers, flightOfferResponse{
			OfferRef:     o.OfferRef,
			Carrier:      o.Carrier,
			FlightNumber: o.FlightNumber,
			DepartAt:     formatTime(o.DepartAt),
			ArriveAt:     formatTime(o.ArriveAt),
			BaseFare:     o.BaseFare,
			Currency:     o.Currency,
			RequiresHold: o.RequiresHold,
			Synthetic:    o.Synthetic,
		})
	}
	c.JSON(http.StatusOK, flightSearchResponse{
		TraceID:             result.Session.TraceID,
		IsSyntheticFallback: result.Session.SyntheticFallback,
		Offers:              offers,
	})
}

func (h *FlightHandler) book(c *gin.Context) {
	var req flightBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	passengers := make([]domain.Passenger, 0, len(req.Passengers))
	for _, p := range req.Passengers {
		passengers = append(passengers, domain.Passenger{
			Title:       p.Title,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			DateOfBirth: p.DateOfBirth.Time,
			Type:        p.Type,
			Email:       p.Email,
			Phone:       p.Phone,
			Passport:    p.Passport,
		})
	}

	result, err := h.service.Book(c.Request.Context(), flights.BookInput{
		EventID:    req.EventID,
		Label:      req.Label,
		Criteria:   req.Criteria.criteria(),
		TraceID:    req.TraceID,
		OfferRef:   req.OfferRef,
		Passengers: passengers,
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
	c.JSON(http.StatusCreated, flightBookResponse{
		Reference:           b.ExternalReference,
		IsSyntheticFallback: b.SyntheticFallback,
		ClientFacingPrice:   b.ClientFacingPrice,
		Price: priceResponse{
			SupplierBaseCost:  result.Price.Base,
			Commission:        result.Price.Commission,
			ClientFacingPrice: result.Price.Price,
			Currency:          b.Currency,
		},
		Booking: toBookingResponse(b),
	})
}
