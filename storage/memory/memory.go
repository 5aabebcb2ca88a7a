// Package memory provides an in-memory implementation of the membill.Storage
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gymops/membill/pkg/membill"
)

// Storage implements membill.Storage using in-memory maps
type Storage struct {
	mu        sync.RWMutex
	contracts map[string]*membill.Contract
	cycles    map[string]*membill.BillingCycle
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		contracts: make(map[string]*membill.Contract),
		cycles:    make(map[string]*membill.BillingCycle),
	}
}

// GetContract implements membill.Storage
func (s *Storage) GetContract(ctx context.Context, contractID string) (*membill.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contract, ok := s.contracts[contractID]
	if !ok {
		return nil, membill.ErrContractNotFound
	}

	// Return a copy to prevent external mutations
	contractCopy := *contract
	return &contractCopy, nil
}

// CreateContract implements membill.Storage
func (s *Storage) CreateContract(ctx context.Context, contract *membill.Contract) error {
	if contract == nil || contract.ID == "" {
		return fmt.Errorf("invalid contract")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[contract.ID]; ok {
		return fmt.Errorf("contract %s already exists", contract.ID)
	}

	contractCopy := *contract
	contractCopy.StartDate = membill.StartOfDayUTC(contract.StartDate)
	contractCopy.EndDate = membill.StartOfDayUTC(contract.EndDate)
	s.contracts[contract.ID] = &contractCopy
	return nil
}

// InsertCycle implements membill.Storage. A cycle with the same
// (ContractID, CycleStart) already present makes the insert a no-op.
func (s *Storage) InsertCycle(ctx context.Context, cycle *membill.BillingCycle) (bool, error) {
	if cycle == nil || cycle.ContractID == "" {
		return false, fmt.Errorf("invalid cycle")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := cycle.Key()
	if _, ok := s.cycles[key]; ok {
		return false, nil
	}

	cycleCopy := *cycle
	cycleCopy.CycleStart = membill.StartOfDayUTC(cycle.CycleStart)
	cycleCopy.CycleEnd = membill.StartOfDayUTC(cycle.CycleEnd)
	cycleCopy.DueDate = membill.StartOfDayUTC(cycle.DueDate)
	s.cycles[key] = &cycleCopy
	return true, nil
}

// ExpireContracts implements membill.Storage
func (s *Storage) ExpireContracts(ctx context.Context, today time.Time) (int64, error) {
	day := membill.StartOfDayUTC(today)

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, contract := range s.contracts {
		if contract.Status == membill.ContractActive && contract.EndDate.Before(day) {
			contract.Status = membill.ContractExpired
			contract.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

// MarkOverdueCycles implements membill.Storage
func (s *Storage) MarkOverdueCycles(ctx context.Context, today time.Time) (int64, error) {
	day := membill.StartOfDayUTC(today)

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, cycle := range s.cycles {
		if cycle.Status == membill.CycleUnpaid && cycle.CycleEnd.Before(day) {
			cycle.Status = membill.CycleOverdue
			cycle.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

// ListExpiringCycles implements membill.Storage
func (s *Storage) ListExpiringCycles(ctx context.Context, today time.Time) ([]membill.CycleWithContract, error) {
	day := membill.StartOfDayUTC(today)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []membill.CycleWithContract
	for _, cycle := range s.cycles {
		if cycle.CycleEnd.After(day) {
			continue
		}
		contract, ok := s.contracts[cycle.ContractID]
		if !ok || contract.Status != membill.ContractActive || !contract.Cadence.Recurring() {
			continue
		}
		rows = append(rows, membill.CycleWithContract{
			Cycle:    *cycle,
			Contract: *contract,
		})
	}

	// Stable order for deterministic behavior in tests
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Cycle.Key() < rows[j].Cycle.Key()
	})
	return rows, nil
}

// MarkCyclePaid implements membill.Storage
func (s *Storage) MarkCyclePaid(ctx context.Context, contractID string, cycleStart, paidAt time.Time) error {
	key := membill.BillingCycle{ContractID: contractID, CycleStart: cycleStart}.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	cycle, ok := s.cycles[key]
	if !ok {
		return membill.ErrCycleNotFound
	}

	paidOn := membill.StartOfDayUTC(paidAt)
	cycle.Status = membill.CyclePaid
	cycle.LastPaymentDate = &paidOn
	cycle.UpdatedAt = time.Now().UTC()
	return nil
}

// Cycles returns all cycles for a contract ordered by start date (useful for testing)
func (s *Storage) Cycles(contractID string) []membill.BillingCycle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cycles []membill.BillingCycle
	for _, cycle := range s.cycles {
		if cycle.ContractID == contractID {
			cycles = append(cycles, *cycle)
		}
	}
	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i].CycleStart.Before(cycles[j].CycleStart)
	})
	return cycles
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contracts = make(map[string]*membill.Contract)
	s.cycles = make(map[string]*membill.BillingCycle)
}
