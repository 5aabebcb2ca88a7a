package membill

import (
	"context"
	"time"
)

// Storage defines the persistence boundary for the billing engine.
// All methods use concrete types from this package to avoid import cycles.
//
// The engine never takes an explicit lock: InsertCycle's uniqueness key on
// (ContractID, CycleStart) is the sole concurrency-safety mechanism, and
// the two bulk updates are unconditional and safe to re-run.
type Storage interface {
	// GetContract retrieves a contract by identifier.
	// Returns ErrContractNotFound when the contract does not exist.
	GetContract(ctx context.Context, contractID string) (*Contract, error)

	// CreateContract persists a new contract.
	CreateContract(ctx context.Context, contract *Contract) error

	// InsertCycle inserts a billing cycle, ignoring the insert when a cycle
	// with the same (ContractID, CycleStart) already exists. Returns true
	// only when a new row was actually written; a conflict is (false, nil),
	// never an error.
	InsertCycle(ctx context.Context, cycle *BillingCycle) (bool, error)

	// ExpireContracts transitions every active contract whose end date is
	// before today to expired. Returns the number of contracts updated.
	ExpireContracts(ctx context.Context, today time.Time) (int64, error)

	// MarkOverdueCycles transitions every unpaid cycle whose end date is
	// before today to overdue. Returns the number of cycles updated.
	MarkOverdueCycles(ctx context.Context, today time.Time) (int64, error)

	// ListExpiringCycles returns every cycle whose end date is on or before
	// today, joined with its owning contract, for contracts that are still
	// active and have a recurring cadence. Custom-cadence contracts are
	// excluded here rather than mis-progressed.
	ListExpiringCycles(ctx context.Context, today time.Time) ([]CycleWithContract, error)

	// MarkCyclePaid applies an external payment event to the cycle keyed by
	// (contractID, cycleStart): status becomes paid and the last payment
	// date is recorded. Returns ErrCycleNotFound when no such cycle exists.
	MarkCyclePaid(ctx context.Context, contractID string, cycleStart, paidAt time.Time) error
}

// TimeSource defines an interface for getting time from the storage engine.
// Using storage-engine time instead of application server time keeps the
// daily cutoff consistent when multiple sweep triggers run on skewed hosts.
type TimeSource interface {
	// Now returns the current time from the storage engine.
	// Returns an error if the storage engine doesn't support time queries.
	Now(ctx context.Context) (time.Time, error)
}
