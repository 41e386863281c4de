package domain

import (
	"strings"
	"time"
)

type FlightCriteria struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartDate  time.Time `json:"depart_date"`
	ReturnDate  time.Time `json:"return_date,omitempty"`
	Adults      int       `json:"adults"`
	Children    int       `json:"children"`
	Infants     int       `json:"infants"`
	CabinClass  string    `json:"cabin_class,omitempty"`
}

// Seats is the number of seats the criteria consume. Infants travel on a lap.
func (c FlightCriteria) Seats() int {
	return c.Adults + c.Children
}

type FlightOffer struct {
	TraceID      string    `json:"trace_id"`
	OfferRef     string    `json:"offer_ref"`
	Carrier      string    `json:"carrier"`
	FlightNumber string    `json:"flight_number"`
	DepartAt     time.Time `json:"depart_at"`
	ArriveAt     time.Time `json:"arrive_at"`
	BaseFare     Money     `json:"base_fare"`
	Currency     string    `json:"currency"`
	// RequiresHold is the provider flag deciding the settlement model.
	RequiresHold bool `json:"requires_hold"`
	Synthetic    bool `json:"synthetic"`
}

type PricedOffer struct {
	TraceID  string `json:"trace_id"`
	OfferRef string `json:"offer_ref"`
	BaseFare Money  `json:"base_fare"`
	Currency string `json:"currency"`
	// FareKey is the provider's binding price token for the confirmed fare.
	FareKey string `json:"fare_key"`
}

type Passenger struct {
	Title       string    `json:"title"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Type        string    `json:"type"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Passport    string    `json:"passport,omitempty"`
}

type FlightHold struct {
	PNR     string `json:"pnr"`
	HoldRef string `json:"hold_ref"`
}

type FlightTicket struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Issued reports whether the provider status means a ticket exists. An empty
// status is taken as issued.
func (t FlightTicket) Issued() bool {
	switch strings.ToLower(strings.TrimSpace(t.Status)) {
	case "", "issued", "ticketed", "confirmed", "mock_issued":
		return true
	}
	return false
}
