package membill_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gymops/membill/pkg/membill"
	"github.com/gymops/membill/storage/memory"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// clockAt pins the engine clock to a fixed instant.
func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestEngine(t *testing.T, storage membill.Storage, now time.Time) *membill.Engine {
	t.Helper()
	engine, err := membill.NewEngine(storage, membill.Config{Clock: clockAt(now)})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func monthlyContract(id string, start, end time.Time) *membill.Contract {
	return &membill.Contract{
		ID:        id,
		MemberID:  "member-" + id,
		TenantID:  "gym-1",
		StartDate: start,
		EndDate:   end,
		Cadence:   membill.CadenceMonthly,
		Status:    membill.ContractActive,
	}
}

func TestNewEngine_NilStorage(t *testing.T) {
	_, err := membill.NewEngine(nil, membill.Config{})
	if !errors.Is(err, membill.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestCreateInitialCycle_Unpaid(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	engine := newTestEngine(t, storage, date(2025, 1, 1))

	contract := monthlyContract("contract-1", date(2025, 1, 1), date(2025, 12, 31))
	cycle, err := engine.CreateInitialCycle(ctx, contract, false)
	if err != nil {
		t.Fatalf("CreateInitialCycle failed: %v", err)
	}

	if !cycle.CycleStart.Equal(date(2025, 1, 1)) {
		t.Errorf("start: got %v", cycle.CycleStart)
	}
	if !cycle.CycleEnd.Equal(date(2025, 1, 31)) {
		t.Errorf("end: got %v", cycle.CycleEnd)
	}
	if !cycle.DueDate.Equal(date(2025, 1, 1)) {
		t.Errorf("due date: got %v", cycle.DueDate)
	}
	if cycle.Status != membill.CycleUnpaid {
		t.Errorf("status: got %q, want unpaid", cycle.Status)
	}
	if cycle.LastPaymentDate != nil {
		t.Errorf("last payment date: got %v, want nil", cycle.LastPaymentDate)
	}
	if cycle.MemberID != contract.MemberID {
		t.Errorf("member id: got %q, want %q", cycle.MemberID, contract.MemberID)
	}
}

func TestCreateInitialCycle_PaidAtCreation(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	now := time.Date(2025, 1, 1, 14, 30, 0, 0, time.UTC)
	engine := newTestEngine(t, storage, now)

	contract := monthlyContract("contract-1", date(2025, 1, 1), date(2025, 12, 31))
	cycle, err := engine.CreateInitialCycle(ctx, contract, true)
	if err != nil {
		t.Fatalf("CreateInitialCycle failed: %v", err)
	}

	if cycle.Status != membill.CyclePaid {
		t.Errorf("status: got %q, want paid", cycle.Status)
	}
	if cycle.LastPaymentDate == nil || !cycle.LastPaymentDate.Equal(date(2025, 1, 1)) {
		t.Errorf("last payment date: got %v, want 2025-01-01", cycle.LastPaymentDate)
	}
}

func TestCreateInitialCycle_Cadences(t *testing.T) {
	tests := []struct {
		cadence membill.Cadence
		wantEnd time.Time
	}{
		{membill.CadenceMonthly, date(2025, 1, 31)},
		{membill.CadenceQuarterly, date(2025, 3, 31)},
		{membill.CadenceYearly, date(2025, 12, 31)},
	}

	for _, tt := range tests {
		t.Run(string(tt.cadence), func(t *testing.T) {
			storage := memory.New()
			engine := newTestEngine(t, storage, date(2025, 1, 1))

			contract := monthlyContract("contract-1", date(2025, 1, 1), date(2026, 12, 31))
			contract.Cadence = tt.cadence

			cycle, err := engine.CreateInitialCycle(context.Background(), contract, false)
			if err != nil {
				t.Fatalf("CreateInitialCycle failed: %v", err)
			}
			if !cycle.CycleEnd.Equal(tt.wantEnd) {
				t.Errorf("end: got %v, want %v", cycle.CycleEnd, tt.wantEnd)
			}
		})
	}
}

func TestCreateInitialCycle_CustomCadence(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	engine := newTestEngine(t, storage, date(2025, 1, 1))

	// Custom cadence: no recurrence rule, the single cycle covers the
	// whole contract span.
	contract := monthlyContract("contract-1", date(2025, 1, 1), date(2025, 5, 20))
	contract.Cadence = membill.CadenceCustom

	cycle, err := engine.CreateInitialCycle(ctx, contract, false)
	if err != nil {
		t.Fatalf("CreateInitialCycle failed: %v", err)
	}
	if !cycle.CycleEnd.Equal(date(2025, 5, 20)) {
		t.Errorf("end: got %v, want contract end date", cycle.CycleEnd)
	}
}

func TestCreateInitialCycle_Duplicate(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	engine := newTestEngine(t, storage, date(2025, 1, 1))

	contract := monthlyContract("contract-1", date(2025, 1, 1), date(2025, 12, 31))
	if _, err := engine.CreateInitialCycle(ctx, contract, false); err != nil {
		t.Fatalf("first CreateInitialCycle failed: %v", err)
	}

	_, err := engine.CreateInitialCycle(ctx, contract, false)
	if !errors.Is(err, membill.ErrCycleExists) {
		t.Fatalf("expected ErrCycleExists, got %v", err)
	}
	if got := len(storage.Cycles("contract-1")); got != 1 {
		t.Fatalf("expected 1 cycle, got %d", got)
	}
}

func TestCreateInitialCycle_Validation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, memory.New(), date(2025, 1, 1))

	inverted := monthlyContract("contract-1", date(2025, 6, 1), date(2025, 1, 1))
	if _, err := engine.CreateInitialCycle(ctx, inverted, false); !errors.Is(err, membill.ErrInvalidContract) {
		t.Errorf("inverted dates: expected ErrInvalidContract, got %v", err)
	}

	badCadence := monthlyContract("contract-2", date(2025, 1, 1), date(2025, 12, 31))
	badCadence.Cadence = membill.Cadence("weekly")
	if _, err := engine.CreateInitialCycle(ctx, badCadence, false); !errors.Is(err, membill.ErrInvalidCadence) {
		t.Errorf("bad cadence: expected ErrInvalidCadence, got %v", err)
	}

	noID := monthlyContract("", date(2025, 1, 1), date(2025, 12, 31))
	if _, err := engine.CreateInitialCycle(ctx, noID, false); !errors.Is(err, membill.ErrInvalidContract) {
		t.Errorf("missing id: expected ErrInvalidContract, got %v", err)
	}

	paused := monthlyContract("contract-3", date(2025, 1, 1), date(2025, 12, 31))
	paused.Status = membill.ContractPaused
	if _, err := engine.CreateInitialCycle(ctx, paused, false); !errors.Is(err, membill.ErrInvalidContract) {
		t.Errorf("paused contract: expected ErrInvalidContract, got %v", err)
	}

	if _, err := engine.CreateInitialCycle(ctx, nil, false); !errors.Is(err, membill.ErrInvalidContract) {
		t.Errorf("nil contract: expected ErrInvalidContract, got %v", err)
	}
}

func TestCreateInitialCycle_MonthEndStart(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, memory.New(), date(2024, 1, 31))

	contract := monthlyContract("contract-1", date(2024, 1, 31), date(2024, 12, 31))
	cycle, err := engine.CreateInitialCycle(ctx, contract, false)
	if err != nil {
		t.Fatalf("CreateInitialCycle failed: %v", err)
	}
	if !cycle.CycleEnd.Equal(date(2024, 2, 28)) {
		t.Errorf("end: got %v, want 2024-02-28", cycle.CycleEnd)
	}
}
