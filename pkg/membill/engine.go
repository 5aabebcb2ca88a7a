package membill

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultSweepConcurrency = 8

// Engine orchestrates billing-cycle creation and forward progression.
// It is stateless between invocations; all shared mutable state lives
// behind the Storage interface.
type Engine struct {
	storage Storage
	config  Config
}

// NewEngine creates a new billing engine with the given storage and configuration
func NewEngine(storage Storage, config Config) (*Engine, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.SweepConcurrency <= 0 {
		config.SweepConcurrency = defaultSweepConcurrency
	}

	return &Engine{
		storage: storage,
		config:  config,
	}, nil
}

// CreateInitialCycle creates the first billing cycle for a freshly created,
// never-before-billed contract. paidAtCreation marks the cycle paid when the
// first payment was already collected out-of-band during onboarding.
//
// Must be called at most once per contract; the uniqueness constraint on
// (ContractID, CycleStart) is the backstop, surfaced as ErrCycleExists.
func (e *Engine) CreateInitialCycle(ctx context.Context, contract *Contract, paidAtCreation bool) (*BillingCycle, error) {
	if contract == nil {
		return nil, ErrInvalidContract
	}
	if err := contract.Validate(); err != nil {
		return nil, err
	}
	if contract.Status != ContractActive {
		return nil, fmt.Errorf("%w: status %q, want active", ErrInvalidContract, contract.Status)
	}

	start := StartOfDayUTC(contract.StartDate)
	var end time.Time
	if contract.Cadence == CadenceCustom {
		// No recurrence rule: one cycle spanning the whole contract.
		end = StartOfDayUTC(contract.EndDate)
	} else {
		var err error
		end, _, err = CycleBounds(start, contract.Cadence)
		if err != nil {
			return nil, err
		}
	}

	now := e.config.Clock().UTC()
	cycle := &BillingCycle{
		MemberID:   contract.MemberID,
		ContractID: contract.ID,
		CycleStart: start,
		CycleEnd:   end,
		DueDate:    start,
		Status:     CycleUnpaid,
		UpdatedAt:  now,
	}
	if paidAtCreation {
		paidOn := StartOfDayUTC(now)
		cycle.Status = CyclePaid
		cycle.LastPaymentDate = &paidOn
	}

	inserted, err := e.storage.InsertCycle(ctx, cycle)
	if err != nil {
		return nil, fmt.Errorf("insert initial cycle %s: %w", cycle.Key(), err)
	}
	if !inserted {
		return nil, ErrCycleExists
	}

	e.config.Logger.Info("initial billing cycle created",
		Field{"contract_id", contract.ID},
		Field{"cycle_start", start.Format(dateLayout)},
		Field{"cycle_end", end.Format(dateLayout)},
		Field{"status", string(cycle.Status)},
	)
	e.config.Metrics.RecordCycleCreated(contract.Cadence, true)

	return cycle, nil
}

// RunDailySweep advances all contracts' billing state for the given day.
// Three ordered phases, each independently idempotent:
//
//  1. expire active contracts whose end date has passed
//  2. mark unpaid cycles whose end date has passed as overdue
//  3. insert the successor cycle for every expiring cycle of a still-active
//     contract, via uniqueness-keyed insert-or-ignore
//
// Re-running the sweep with the same day is a no-op beyond what already
// committed, so the external scheduler may retry the whole invocation on
// failure. Concurrent duplicate invocations lose gracefully on the insert
// conflict instead of double-billing.
func (e *Engine) RunDailySweep(ctx context.Context, today time.Time) (SweepResult, error) {
	day := StartOfDayUTC(today)
	begun := time.Now()

	result, err := e.sweep(ctx, day)

	e.config.Metrics.RecordSweep(time.Since(begun), result, err)
	if err != nil {
		e.config.Logger.Error("daily sweep failed",
			Field{"today", day.Format(dateLayout)},
			Field{"error", err.Error()},
		)
		return SweepResult{}, err
	}

	e.config.Logger.Info("daily sweep complete",
		Field{"today", day.Format(dateLayout)},
		Field{"processed", result.Processed},
		Field{"created", result.Created},
	)
	return result, nil
}

func (e *Engine) sweep(ctx context.Context, day time.Time) (SweepResult, error) {
	// Phase 1: expire contracts past their end date.
	expired, err := e.storage.ExpireContracts(ctx, day)
	if err != nil {
		return SweepResult{}, fmt.Errorf("expire contracts: %w", err)
	}
	e.config.Metrics.RecordContractsExpired(expired)
	if expired > 0 {
		e.config.Logger.Info("contracts expired", Field{"count", expired})
	}

	// Phase 2: mark lapsed unpaid cycles overdue.
	overdue, err := e.storage.MarkOverdueCycles(ctx, day)
	if err != nil {
		return SweepResult{}, fmt.Errorf("mark overdue cycles: %w", err)
	}
	e.config.Metrics.RecordCyclesMarkedOverdue(overdue)
	if overdue > 0 {
		e.config.Logger.Info("cycles marked overdue", Field{"count", overdue})
	}

	// Phase 3: progress cycles. Runs after phase 1 so just-expired
	// contracts are excluded by the active filter.
	rows, err := e.storage.ListExpiringCycles(ctx, day)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expiring cycles: %w", err)
	}

	var created atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.SweepConcurrency)

	for _, row := range rows {
		g.Go(func() error {
			next := e.successor(row)
			if next == nil {
				return nil
			}
			inserted, err := e.storage.InsertCycle(gctx, next)
			if err != nil {
				return fmt.Errorf("insert cycle %s: %w", next.Key(), err)
			}
			if inserted {
				created.Add(1)
				e.config.Metrics.RecordCycleCreated(row.Contract.Cadence, false)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}

	return SweepResult{
		Processed: len(rows),
		Created:   int(created.Load()),
	}, nil
}

// successor builds the next cycle for an expiring one, or nil when the
// contract must not progress: re-checked non-active status (races with
// phase 1), custom cadence, or a next start falling after the contract's
// end date (the contract has no more cycles to run and will be expired on
// a later sweep).
func (e *Engine) successor(row CycleWithContract) *BillingCycle {
	contract := row.Contract
	if contract.Status != ContractActive || !contract.Cadence.Recurring() {
		return nil
	}

	_, nextStart, err := CycleBounds(row.Cycle.CycleStart, contract.Cadence)
	if err != nil {
		return nil
	}
	if nextStart.After(StartOfDayUTC(contract.EndDate)) {
		return nil
	}

	nextEnd, _, err := CycleBounds(nextStart, contract.Cadence)
	if err != nil {
		return nil
	}

	return &BillingCycle{
		MemberID:   row.Cycle.MemberID,
		ContractID: contract.ID,
		CycleStart: nextStart,
		CycleEnd:   nextEnd,
		DueDate:    nextStart,
		Status:     CycleUnpaid,
		UpdatedAt:  e.config.Clock().UTC(),
	}
}
