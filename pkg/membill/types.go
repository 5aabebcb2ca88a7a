package membill

import (
	"fmt"
	"time"
)

// Cadence defines the recurrence period of a membership plan
type Cadence string

const (
	// CadenceMonthly bills every calendar month
	CadenceMonthly Cadence = "monthly"
	// CadenceQuarterly bills every three calendar months
	CadenceQuarterly Cadence = "quarterly"
	// CadenceYearly bills every twelve calendar months
	CadenceYearly Cadence = "yearly"
	// CadenceCustom has no auto-progression rule. Custom contracts get a
	// single cycle spanning the whole contract and are excluded from the
	// daily sweep.
	CadenceCustom Cadence = "custom"
)

// Valid reports whether the cadence is one of the known values.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceMonthly, CadenceQuarterly, CadenceYearly, CadenceCustom:
		return true
	}
	return false
}

// Recurring reports whether the cadence has a defined progression rule.
func (c Cadence) Recurring() bool {
	switch c {
	case CadenceMonthly, CadenceQuarterly, CadenceYearly:
		return true
	}
	return false
}

// ContractStatus defines the lifecycle state of a contract
type ContractStatus string

const (
	// ContractActive is the normal billing state
	ContractActive ContractStatus = "active"
	// ContractPaused is set externally; paused contracts are never
	// progressed or expired by the sweep
	ContractPaused ContractStatus = "paused"
	// ContractExpired is set by the sweep once system time passes the
	// contract end date
	ContractExpired ContractStatus = "expired"
)

// CycleStatus defines the payment state of a billing cycle
type CycleStatus string

const (
	// CycleUnpaid is the initial state of a sweep-created cycle
	CycleUnpaid CycleStatus = "unpaid"
	// CyclePaid is set when a payment is applied (external event)
	CyclePaid CycleStatus = "paid"
	// CycleOverdue is set by the sweep when an unpaid cycle's end date
	// has passed; only an external payment resolves it
	CycleOverdue CycleStatus = "overdue"
)

// Contract represents a member's commitment to a recurring plan.
// StartDate and EndDate are calendar dates carried as midnight-UTC times;
// EndDate is inclusive.
type Contract struct {
	ID        string
	MemberID  string
	TenantID  string
	StartDate time.Time
	EndDate   time.Time
	Cadence   Cadence
	Status    ContractStatus
	UpdatedAt time.Time
}

// Validate checks the structural invariants of a contract.
func (c *Contract) Validate() error {
	if c.ID == "" || c.MemberID == "" {
		return fmt.Errorf("%w: missing contract or member identifier", ErrInvalidContract)
	}
	if !c.Cadence.Valid() {
		return ErrInvalidCadence
	}
	if StartOfDayUTC(c.EndDate).Before(StartOfDayUTC(c.StartDate)) {
		return fmt.Errorf("%w: end date %s before start date %s",
			ErrInvalidContract, c.EndDate.Format(dateLayout), c.StartDate.Format(dateLayout))
	}
	return nil
}

// BillingCycle is one billing period within a contract. CycleEnd is
// inclusive (the day before the next cycle's start). The pair
// (ContractID, CycleStart) is the idempotency key for cycle creation.
type BillingCycle struct {
	MemberID        string
	ContractID      string
	CycleStart      time.Time
	CycleEnd        time.Time
	DueDate         time.Time
	Status          CycleStatus
	LastPaymentDate *time.Time
	UpdatedAt       time.Time
}

// Key returns a stable string key for this cycle, unique per contract and
// cycle start date.
func (b BillingCycle) Key() string {
	return b.ContractID + ":" + b.CycleStart.UTC().Format(dateLayout)
}

// CycleWithContract is a billing cycle joined with its owning contract,
// as returned by the sweep's progression query.
type CycleWithContract struct {
	Cycle    BillingCycle
	Contract Contract
}

// SweepResult summarizes one daily sweep invocation.
type SweepResult struct {
	// Processed is the number of cycles examined in the progression phase
	Processed int `json:"processed"`
	// Created is the number of successor cycles actually inserted
	Created int `json:"created"`
}

// Config holds engine configuration
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking sweep and cycle operations (default: NoopMetrics)
	Metrics Metrics

	// Clock returns the current time; overridable for tests (default: time.Now)
	Clock func() time.Time

	// SweepConcurrency bounds the fan-out of the progression phase.
	// Per-contract successor creation is independent, so rows can be
	// processed in parallel (default: 8).
	SweepConcurrency int
}

const dateLayout = "2006-01-02"

// StartOfDayUTC truncates a time to its calendar date at midnight UTC.
// All dates handled by the engine are normalized through this.
func StartOfDayUTC(t time.Time) time.Time {
	tt := t.UTC()
	return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, time.UTC)
}
