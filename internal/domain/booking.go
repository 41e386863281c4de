package domain

import "time"

type BookingStatus string

const (
	BookingStatusIssued    BookingStatus = "issued"
	BookingStatusCommitted BookingStatus = "committed"
	BookingStatusFailed    BookingStatus = "failed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// PendingReference marks a booking the provider has not issued a reference for.
const PendingReference = "PENDING"

type PipelineState string

const (
	StateSearching     PipelineState = "searching"
	StateQuoted        PipelineState = "quoted"
	StateDirectIssuing PipelineState = "direct_issuing"
	StateHolding       PipelineState = "holding"
	StateIssuing       PipelineState = "issuing"
	StateIssued        PipelineState = "issued"
	StateCommitting    PipelineState = "committing"
	StateCommitted     PipelineState = "committed"
	StateFailed        PipelineState = "failed"
)

type CommittedBooking struct {
	ID                string
	EventID           string
	ProductLine       ProductLine
	Status            BookingStatus
	TraceID           string
	OfferRef          string
	Settlement        string
	ExternalReference string
	HoldReference     string
	SupplierBaseCost  Money
	Commission        CommissionRule
	ClientFacingPrice Money
	Currency          string
	SyntheticFallback bool
	UnitsRequested    int
	// FailedState is the pipeline state the failure happened in; empty on success.
	FailedState   PipelineState
	FailureReason string
	// NeedsReconciliation is set when a commit or issue call timed out and the
	// provider may have completed it server-side.
	NeedsReconciliation bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (b CommittedBooking) Failed() bool {
	return b.Status == BookingStatusFailed
}
