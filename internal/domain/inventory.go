package domain

import "time"

type UnitType string

const (
	UnitSeats UnitType = "seats"
	UnitRooms UnitType = "rooms"
)

type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type InventoryRecord struct {
	BookingID      string
	EventID        string
	Label          string
	UnitType       UnitType
	UnitsBlocked   int
	UnitsConfirmed int
	// Nights is kept alongside room blocks and never multiplied into the units.
	Nights    int
	Synthetic bool
	// Released is set when the booking behind the block is cancelled.
	Released  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UtilizationPct is confirmed over blocked as a percentage.
func (r InventoryRecord) UtilizationPct() float64 {
	if r.UnitsBlocked <= 0 {
		return 0
	}
	return float64(r.UnitsConfirmed) * 100 / float64(r.UnitsBlocked)
}

func (r InventoryRecord) Remaining() int {
	return r.UnitsBlocked - r.UnitsConfirmed
}

type AlertRow struct {
	BookingID      string   `json:"booking_id"`
	Label          string   `json:"label"`
	UnitType       UnitType `json:"unit_type"`
	UnitsBlocked   int      `json:"units_blocked"`
	UnitsConfirmed int      `json:"units_confirmed"`
	UtilizationPct float64  `json:"utilization_pct"`
	Severity       Severity `json:"severity"`
	Synthetic      bool     `json:"synthetic"`
	Message        string   `json:"message"`
}

// InventoryBlock is what a committed booking reserves on the ledger.
type InventoryBlock struct {
	BookingID string
	EventID   string
	Label     string
	UnitType  UnitType
	Units     int
	Nights    int
	Synthetic bool
}
