package domain

import "time"

type ProductLine string

const (
	ProductFlight ProductLine = "flight"
	ProductHotel  ProductLine = "hotel"
)

// SettlementModel is resolved once when an offer is selected. The flight
// pipeline dispatches on it instead of re-reading provider flags.
type SettlementModel interface {
	settlement() string
}

// DirectIssue offers are ticketed straight from the quoted fare.
type DirectIssue struct{}

// HoldThenIssue offers need a PNR before a ticket can be issued.
type HoldThenIssue struct{}

// MockIssue is used for synthetic offers; no provider call is ever made.
type MockIssue struct{}

func (DirectIssue) settlement() string   { return "direct_issue" }
func (HoldThenIssue) settlement() string { return "hold_then_issue" }
func (MockIssue) settlement() string     { return "mock_issue" }

// SettlementName returns the stable name of a settlement model, or "" for nil.
func SettlementName(m SettlementModel) string {
	if m == nil {
		return ""
	}
	return m.settlement()
}

// BookingSession is the immutable context threaded through one pipeline.
// Every With* method returns a copy.
type BookingSession struct {
	EventID           string
	BookingID         string
	ProductLine       ProductLine
	TraceID           string
	SelectedOfferRef  string
	Settlement        SettlementModel
	SyntheticFallback bool
	StartedAt         time.Time
}

func (s BookingSession) WithOffer(ref string, model SettlementModel) BookingSession {
	s.SelectedOfferRef = ref
	s.Settlement = model
	return s
}

// CheckTrace reports ErrTraceMismatch when traceID does not belong to this session.
func (s BookingSession) CheckTrace(traceID string) error {
	if s.TraceID == "" || traceID != s.TraceID {
		return ErrTraceMismatch
	}
	return nil
}

// IdempotencyKey identifies one attempt of one step of this booking.
func (s BookingSession) IdempotencyKey(step string) string {
	return s.BookingID + ":" + step
}
