package inventory

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/eventbooking/internal/clock"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/kafka"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memRepo держит записи в памяти вместо Postgres
type memRepo struct {
	mu      sync.Mutex
	records map[string]domain.InventoryRecord
	applied map[string]bool
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]domain.InventoryRecord), applied: make(map[string]bool)}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memRepo) Create(ctx context.Context, rec *domain.InventoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.BookingID]; ok {
		return domain.ErrInventoryExists
	}
	r.records[rec.BookingID] = *rec
	return nil
}

func (r *memRepo) Get(ctx context.Context, bookingID string) (domain.InventoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[bookingID]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrInventoryNotFound
	}
	return rec, nil
}

func (r *memRepo) GetForUpdate(ctx context.Context, bookingID string) (domain.InventoryRecord, error) {
	return r.Get(ctx, bookingID)
}

func (r *memRepo) SetConfirmed(ctx context.Context, bookingID string, confirmed int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[bookingID]
	if !ok {
		return domain.ErrInventoryNotFound
	}
	rec.UnitsConfirmed = confirmed
	rec.UpdatedAt = at
	r.records[bookingID] = rec
	return nil
}

func (r *memRepo) MarkConfirmationApplied(ctx context.Context, confirmationID, bookingID string, delta int, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[confirmationID] {
		return false, nil
	}
	r.applied[confirmationID] = true
	return true, nil
}

func (r *memRepo) Release(ctx context.Context, bookingID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[bookingID]
	if !ok {
		return domain.ErrInventoryNotFound
	}
	rec.Released = true
	rec.UpdatedAt = at
	r.records[bookingID] = rec
	return nil
}

func (r *memRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.InventoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.InventoryRecord
	for _, rec := range r.records {
		if rec.EventID == eventID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingID < out[j].BookingID })
	return out, nil
}

func (r *memRepo) ListEventIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, rec := range r.records {
		if !seen[rec.EventID] {
			seen[rec.EventID] = true
			out = append(out, rec.EventID)
		}
	}
	sort.Strings(out)
	return out, nil
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func newTestLedger(t *testing.T, opts ...LedgerOption) (*Ledger, *memRepo, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	repo := newMemRepo()
	opts = append([]LedgerOption{WithClock(clock.NewFixed(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)))}, opts...)
	return NewLedger(repo, logger, opts...), repo, hook
}

func seatBlock(id string, units int) domain.InventoryBlock {
	return domain.InventoryBlock{
		BookingID: id,
		EventID:   "evt-1",
		Label:     "Flight " + id,
		UnitType:  domain.UnitSeats,
		Units:     units,
	}
}

func TestThresholds_Classify(t *testing.T) {
	th := DefaultThresholds
	tests := []struct {
		confirmed int
		blocked   int
		want      domain.Severity
	}{
		{0, 100, domain.SeverityOK},
		{69, 100, domain.SeverityOK},
		{70, 100, domain.SeverityWarning},
		{89, 100, domain.SeverityWarning},
		{90, 100, domain.SeverityCritical},
		{100, 100, domain.SeverityCritical},
		{7, 10, domain.SeverityWarning},
		{2, 3, domain.SeverityOK},
		{0, 0, domain.SeverityOK},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Classify(tt.confirmed, tt.blocked), "%d/%d", tt.confirmed, tt.blocked)
	}
}

func TestLedger_RegisterBlock(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.RegisterBlock(ctx, seatBlock("bk-1", 10))
	require.NoError(t, err)
	assert.Equal(t, 10, rec.UnitsBlocked)
	assert.Equal(t, 0, rec.UnitsConfirmed)

	stored, err := repo.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, rec.UnitsBlocked, stored.UnitsBlocked)

	_, err = ledger.RegisterBlock(ctx, seatBlock("bk-1", 10))
	assert.ErrorIs(t, err, domain.ErrInventoryExists)
}

func TestLedger_RegisterBlock_Validation(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	cases := map[string]domain.InventoryBlock{
		"zero units":       seatBlock("bk-1", 0),
		"missing event":    {BookingID: "bk-2", UnitType: domain.UnitSeats, Units: 2},
		"rooms no nights":  {BookingID: "bk-3", EventID: "evt-1", UnitType: domain.UnitRooms, Units: 2},
		"seats with night": {BookingID: "bk-4", EventID: "evt-1", UnitType: domain.UnitSeats, Units: 2, Nights: 1},
		"unknown unit":     {BookingID: "bk-5", EventID: "evt-1", UnitType: "tables", Units: 2},
	}
	for name, block := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ledger.RegisterBlock(ctx, block)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestLedger_RoomBlockKeepsNightsSeparate(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	rec, err := ledger.RegisterBlock(context.Background(), domain.InventoryBlock{
		BookingID: "bk-h", EventID: "evt-1", UnitType: domain.UnitRooms, Units: 4, Nights: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, rec.UnitsBlocked)
	assert.Equal(t, 3, rec.Nights)
}

// Второе подтверждение превышает блок и должно быть отклонено
func TestLedger_RecordConfirmation_OverConfirmRejected(t *testing.T) {
	ledger, repo, hook := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.RegisterBlock(ctx, seatBlock("bk-1", 10))
	require.NoError(t, err)

	rec, err := ledger.RecordConfirmation(ctx, "bk-1", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.UnitsConfirmed)

	_, err = ledger.RecordConfirmation(ctx, "bk-1", 5)
	require.ErrorIs(t, err, domain.ErrReconciliationConflict)

	stored, err := repo.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, 7, stored.UnitsConfirmed)
	assert.InDelta(t, 70.0, stored.UtilizationPct(), 0.001)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "Over-confirmation rejected" {
			warned = true
		}
	}
	assert.True(t, warned)

	alerts, err := ledger.Status(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, 3, 10-alerts[0].UnitsConfirmed)
}

func TestLedger_RecordConfirmation_ExactFill(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.RegisterBlock(ctx, seatBlock("bk-1", 4))
	require.NoError(t, err)

	rec, err := ledger.RecordConfirmation(ctx, "bk-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Remaining())

	alerts, err := ledger.Status(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "fully consumed")
}

func TestLedger_RecordConfirmation_Errors(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.RecordConfirmation(ctx, "bk-1", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ledger.RecordConfirmation(ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrInventoryNotFound)
}

func TestLedger_RecordConfirmation_Concurrent(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.RegisterBlock(ctx, seatBlock("bk-1", 10))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.RecordConfirmation(ctx, "bk-1", 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else {
				assert.ErrorIs(t, err, domain.ErrReconciliationConflict)
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 15, conflicts)
	stored, err := repo.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, 10, stored.UnitsConfirmed)
}

// Тест: повторная доставка того же сообщения не подтверждает юниты дважды
func TestLedger_ApplyConfirmation_RedeliveryCountedOnce(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.RegisterBlock(ctx, seatBlock("bk-1", 10))
	require.NoError(t, err)

	rec, err := ledger.ApplyConfirmation(ctx, "msg-1", "bk-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.UnitsConfirmed)

	rec, err = ledger.ApplyConfirmation(ctx, "msg-1", "bk-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.UnitsConfirmed)

	_, err = ledger.ApplyConfirmation(ctx, "msg-2", "bk-1", 3)
	require.NoError(t, err)

	stored, err := repo.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, 6, stored.UnitsConfirmed)
}

func TestLedger_ReleaseBlock_LeavesStatusFeed(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	for _, id := range []string{"bk-1", "bk-2"} {
		_, err := ledger.RegisterBlock(ctx, seatBlock(id, 10))
		require.NoError(t, err)
		_, err = ledger.RecordConfirmation(ctx, id, 9)
		require.NoError(t, err)
	}

	require.NoError(t, ledger.ReleaseBlock(ctx, "bk-1"))
	assert.ErrorIs(t, ledger.ReleaseBlock(ctx, "missing"), domain.ErrInventoryNotFound)
	assert.ErrorIs(t, ledger.ReleaseBlock(ctx, ""), domain.ErrValidation)

	alerts, err := ledger.Status(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "bk-2", alerts[0].BookingID)

	stored, err := repo.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.True(t, stored.Released)
	assert.Equal(t, 9, stored.UnitsConfirmed)
}

func TestLedger_Status_OmitsHealthyRows(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()
	for id, units := range map[string]int{"bk-a": 10, "bk-b": 10, "bk-c": 10} {
		_, err := ledger.RegisterBlock(ctx, seatBlock(id, units))
		require.NoError(t, err)
	}
	_, err := ledger.RecordConfirmation(ctx, "bk-a", 2)
	require.NoError(t, err)
	_, err = ledger.RecordConfirmation(ctx, "bk-b", 8)
	require.NoError(t, err)
	_, err = ledger.RecordConfirmation(ctx, "bk-c", 9)
	require.NoError(t, err)

	alerts, err := ledger.Status(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "bk-b", alerts[0].BookingID)
	assert.Equal(t, domain.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "bk-c", alerts[1].BookingID)
	assert.Equal(t, domain.SeverityCritical, alerts[1].Severity)

	empty, err := ledger.Status(ctx, "evt-none")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestLedger_Status_SyntheticFlagged(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()
	block := seatBlock("bk-s", 2)
	block.Synthetic = true
	_, err := ledger.RegisterBlock(ctx, block)
	require.NoError(t, err)
	_, err = ledger.RecordConfirmation(ctx, "bk-s", 2)
	require.NoError(t, err)

	alerts, err := ledger.Status(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Synthetic)
	assert.Contains(t, alerts[0].Message, "synthetic")
}

func TestLedger_WithThresholds(t *testing.T) {
	ledger, _, _ := newTestLedger(t, WithThresholds(Thresholds{WarningPct: 50, CriticalPct: 80}))
	assert.Equal(t, domain.SeverityWarning, ledger.thresholds.Classify(5, 10))

	ignored, _, _ := newTestLedger(t, WithThresholds(Thresholds{WarningPct: 90, CriticalPct: 80}))
	assert.Equal(t, DefaultThresholds, ignored.thresholds)
}

func TestLedger_Sweep_PublishesAlerts(t *testing.T) {
	producer := &MockProducer{}
	ledger, _, _ := newTestLedger(t, WithAlerts(producer, "inventory.alerts"))
	ctx := context.Background()

	_, err := ledger.RegisterBlock(ctx, seatBlock("bk-1", 10))
	require.NoError(t, err)
	other := seatBlock("bk-2", 10)
	other.EventID = "evt-2"
	_, err = ledger.RegisterBlock(ctx, other)
	require.NoError(t, err)
	_, err = ledger.RecordConfirmation(ctx, "bk-1", 9)
	require.NoError(t, err)

	producer.On("Publish", mock.Anything, "inventory.alerts", "evt-1", mock.MatchedBy(func(e kafka.InventoryAlertEvent) bool {
		return e.Alert.BookingID == "bk-1" && e.Alert.Severity == domain.SeverityCritical && e.Type == kafka.EventInventoryAlert
	})).Return(nil).Once()

	n, err := ledger.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	producer.AssertExpectations(t)
}
