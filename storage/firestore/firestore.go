// Package firestore provides a Firestore implementation of the membill.Storage
// interface. Cycle documents are keyed by contract ID and cycle start date, so
// Create's AlreadyExists failure doubles as the insert-or-ignore conflict
// signal the progression engine relies on.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gymops/membill/pkg/membill"
)

const dateLayout = "2006-01-02"

// Storage implements membill.Storage using Google Cloud Firestore
type Storage struct {
	client              *firestore.Client
	contractsCollection string
	cyclesCollection    string
}

// Config holds Firestore storage configuration
type Config struct {
	// ContractsCollection is the Firestore collection for contracts
	// Default: "billing_contracts"
	ContractsCollection string

	// CyclesCollection is the Firestore collection for billing cycles
	// Default: "billing_cycles"
	CyclesCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.ContractsCollection == "" {
		config.ContractsCollection = "billing_contracts"
	}
	if config.CyclesCollection == "" {
		config.CyclesCollection = "billing_cycles"
	}

	return &Storage{
		client:              client,
		contractsCollection: config.ContractsCollection,
		cyclesCollection:    config.CyclesCollection,
	}, nil
}

// contractDoc is the Firestore document shape for a contract
type contractDoc struct {
	ID        string    `firestore:"id"`
	MemberID  string    `firestore:"member_id"`
	TenantID  string    `firestore:"tenant_id"`
	StartDate time.Time `firestore:"start_date"`
	EndDate   time.Time `firestore:"end_date"`
	Cadence   string    `firestore:"cadence"`
	Status    string    `firestore:"status"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// cycleDoc is the Firestore document shape for a billing cycle
type cycleDoc struct {
	ContractID      string     `firestore:"contract_id"`
	MemberID        string     `firestore:"member_id"`
	CycleStart      time.Time  `firestore:"cycle_start"`
	CycleEnd        time.Time  `firestore:"cycle_end"`
	DueDate         time.Time  `firestore:"due_date"`
	Status          string     `firestore:"status"`
	LastPaymentDate *time.Time `firestore:"last_payment_date"`
	UpdatedAt       time.Time  `firestore:"updated_at"`
}

func toContractDoc(contract *membill.Contract) contractDoc {
	return contractDoc{
		ID:        contract.ID,
		MemberID:  contract.MemberID,
		TenantID:  contract.TenantID,
		StartDate: membill.StartOfDayUTC(contract.StartDate),
		EndDate:   membill.StartOfDayUTC(contract.EndDate),
		Cadence:   string(contract.Cadence),
		Status:    string(contract.Status),
		UpdatedAt: time.Now().UTC(),
	}
}

func (d contractDoc) toContract() membill.Contract {
	return membill.Contract{
		ID:        d.ID,
		MemberID:  d.MemberID,
		TenantID:  d.TenantID,
		StartDate: membill.StartOfDayUTC(d.StartDate),
		EndDate:   membill.StartOfDayUTC(d.EndDate),
		Cadence:   membill.Cadence(d.Cadence),
		Status:    membill.ContractStatus(d.Status),
		UpdatedAt: d.UpdatedAt,
	}
}

func toCycleDoc(cycle *membill.BillingCycle) cycleDoc {
	doc := cycleDoc{
		ContractID: cycle.ContractID,
		MemberID:   cycle.MemberID,
		CycleStart: membill.StartOfDayUTC(cycle.CycleStart),
		CycleEnd:   membill.StartOfDayUTC(cycle.CycleEnd),
		DueDate:    membill.StartOfDayUTC(cycle.DueDate),
		Status:     string(cycle.Status),
		UpdatedAt:  time.Now().UTC(),
	}
	if cycle.LastPaymentDate != nil {
		paidOn := membill.StartOfDayUTC(*cycle.LastPaymentDate)
		doc.LastPaymentDate = &paidOn
	}
	return doc
}

func (d cycleDoc) toCycle() membill.BillingCycle {
	cycle := membill.BillingCycle{
		ContractID: d.ContractID,
		MemberID:   d.MemberID,
		CycleStart: membill.StartOfDayUTC(d.CycleStart),
		CycleEnd:   membill.StartOfDayUTC(d.CycleEnd),
		DueDate:    membill.StartOfDayUTC(d.DueDate),
		Status:     membill.CycleStatus(d.Status),
		UpdatedAt:  d.UpdatedAt,
	}
	if d.LastPaymentDate != nil {
		paidOn := membill.StartOfDayUTC(*d.LastPaymentDate)
		cycle.LastPaymentDate = &paidOn
	}
	return cycle
}

// cycleDocID builds the document ID carrying the uniqueness constraint over
// (contract_id, cycle_start).
func cycleDocID(contractID string, cycleStart time.Time) string {
	return contractID + "_" + cycleStart.UTC().Format(dateLayout)
}

// GetContract implements membill.Storage
func (s *Storage) GetContract(ctx context.Context, contractID string) (*membill.Contract, error) {
	snap, err := s.client.Collection(s.contractsCollection).Doc(contractID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, membill.ErrContractNotFound
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}

	var doc contractDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode contract: %w", err)
	}
	contract := doc.toContract()
	return &contract, nil
}

// CreateContract implements membill.Storage
func (s *Storage) CreateContract(ctx context.Context, contract *membill.Contract) error {
	if contract == nil || contract.ID == "" {
		return fmt.Errorf("invalid contract")
	}

	_, err := s.client.Collection(s.contractsCollection).Doc(contract.ID).Create(ctx, toContractDoc(contract))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("contract %s already exists", contract.ID)
		}
		return fmt.Errorf("failed to create contract %s: %w", contract.ID, err)
	}
	return nil
}

// InsertCycle implements membill.Storage. Create on the deterministic
// document ID fails with AlreadyExists when the cycle was inserted before;
// that conflict is reported as (false, nil).
func (s *Storage) InsertCycle(ctx context.Context, cycle *membill.BillingCycle) (bool, error) {
	if cycle == nil || cycle.ContractID == "" {
		return false, fmt.Errorf("invalid cycle")
	}

	docID := cycleDocID(cycle.ContractID, cycle.CycleStart)
	_, err := s.client.Collection(s.cyclesCollection).Doc(docID).Create(ctx, toCycleDoc(cycle))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert cycle %s: %w", cycle.Key(), err)
	}
	return true, nil
}

// updateIfStatus transitions ref inside a transaction only while its status
// field still matches want. A concurrent transition (a payment landing while
// the sweep is flipping the same cycle) turns the update into a silent skip
// instead of an overwrite.
func (s *Storage) updateIfStatus(ctx context.Context, ref *firestore.DocumentRef, want string, updates []firestore.Update) (bool, error) {
	var applied bool
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}

		current, err := snap.DataAt("status")
		if err != nil {
			return err
		}
		if current != want {
			return nil
		}

		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// ExpireContracts implements membill.Storage
func (s *Storage) ExpireContracts(ctx context.Context, today time.Time) (int64, error) {
	day := membill.StartOfDayUTC(today)

	iter := s.client.Collection(s.contractsCollection).
		Where("status", "==", string(membill.ContractActive)).
		Where("end_date", "<", day).
		Documents(ctx)
	defer iter.Stop()

	var count int64
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to list ending contracts: %w", err)
		}

		applied, err := s.updateIfStatus(ctx, snap.Ref, string(membill.ContractActive), []firestore.Update{
			{Path: "status", Value: string(membill.ContractExpired)},
			{Path: "updated_at", Value: time.Now().UTC()},
		})
		if err != nil {
			return count, fmt.Errorf("failed to expire contract %s: %w", snap.Ref.ID, err)
		}
		if applied {
			count++
		}
	}
	return count, nil
}

// MarkOverdueCycles implements membill.Storage
func (s *Storage) MarkOverdueCycles(ctx context.Context, today time.Time) (int64, error) {
	day := membill.StartOfDayUTC(today)

	iter := s.client.Collection(s.cyclesCollection).
		Where("status", "==", string(membill.CycleUnpaid)).
		Where("cycle_end", "<", day).
		Documents(ctx)
	defer iter.Stop()

	var count int64
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to list lapsed unpaid cycles: %w", err)
		}

		// Re-check unpaid inside the transaction: the query snapshot may
		// predate a payment on this cycle.
		applied, err := s.updateIfStatus(ctx, snap.Ref, string(membill.CycleUnpaid), []firestore.Update{
			{Path: "status", Value: string(membill.CycleOverdue)},
			{Path: "updated_at", Value: time.Now().UTC()},
		})
		if err != nil {
			return count, fmt.Errorf("failed to mark cycle %s overdue: %w", snap.Ref.ID, err)
		}
		if applied {
			count++
		}
	}
	return count, nil
}

// ListExpiringCycles implements membill.Storage. Firestore cannot join, so
// the contract filter (active status, recurring cadence) is applied after
// fetching each cycle's contract.
func (s *Storage) ListExpiringCycles(ctx context.Context, today time.Time) ([]membill.CycleWithContract, error) {
	day := membill.StartOfDayUTC(today)

	iter := s.client.Collection(s.cyclesCollection).
		Where("cycle_end", "<=", day).
		Documents(ctx)
	defer iter.Stop()

	var rows []membill.CycleWithContract
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list expiring cycles: %w", err)
		}

		var doc cycleDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode cycle %s: %w", snap.Ref.ID, err)
		}

		contract, err := s.GetContract(ctx, doc.ContractID)
		if errors.Is(err, membill.ErrContractNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if contract.Status != membill.ContractActive || !contract.Cadence.Recurring() {
			continue
		}

		rows = append(rows, membill.CycleWithContract{
			Cycle:    doc.toCycle(),
			Contract: *contract,
		})
	}
	return rows, nil
}

// MarkCyclePaid implements membill.Storage
func (s *Storage) MarkCyclePaid(ctx context.Context, contractID string, cycleStart, paidAt time.Time) error {
	docRef := s.client.Collection(s.cyclesCollection).Doc(cycleDocID(contractID, membill.StartOfDayUTC(cycleStart)))
	paidOn := membill.StartOfDayUTC(paidAt)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return membill.ErrCycleNotFound
			}
			return err
		}
		if !snap.Exists() {
			return membill.ErrCycleNotFound
		}

		return tx.Update(docRef, []firestore.Update{
			{Path: "status", Value: string(membill.CyclePaid)},
			{Path: "last_payment_date", Value: &paidOn},
			{Path: "updated_at", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		if errors.Is(err, membill.ErrCycleNotFound) {
			return membill.ErrCycleNotFound
		}
		return fmt.Errorf("failed to mark cycle paid: %w", err)
	}
	return nil
}
