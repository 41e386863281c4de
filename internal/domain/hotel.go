package domain

import "time"

type HotelCriteria struct {
	PropertyID string    `json:"property_id"`
	CheckIn    time.Time `json:"check_in"`
	CheckOut   time.Time `json:"check_out"`
	Rooms      int       `json:"rooms"`
	Adults     int       `json:"adults"`
}

// Nights counts calendar dates between check-in and check-out. Each end is
// read as a date in its own offset, so clock times and DST shifts never
// change the count.
func (c HotelCriteria) Nights() int {
	in, out := calendarDate(c.CheckIn), calendarDate(c.CheckOut)
	if !out.After(in) {
		return 0
	}
	return int(out.Sub(in) / (24 * time.Hour))
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type RoomOffer struct {
	TraceID   string `json:"trace_id"`
	OfferRef  string `json:"offer_ref"`
	RoomType  string `json:"room_type"`
	RateCode  string `json:"rate_code"`
	BaseTotal Money  `json:"base_total"`
	Currency  string `json:"currency"`
}

type RateLock struct {
	LockedOfferRef string    `json:"locked_offer_ref"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type GuestInfo struct {
	LeadName string `json:"lead_name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type HotelConfirmation struct {
	ConfirmationRef string `json:"confirmation_ref"`
}
