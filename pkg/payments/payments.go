// Package payments applies externally collected payments to billing cycles.
// The engine never initiates charges; payment providers (or the front desk)
// report settled payments and this package marks the matching cycle paid.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/gymops/membill/pkg/membill"
)

// Event is a settled payment reported by an external provider.
type Event struct {
	// ContractID and CycleStart identify the cycle being paid
	ContractID string
	CycleStart time.Time

	// PaidAt is when the payment settled
	PaidAt time.Time

	// Amount in minor units, with Currency; informational only
	Amount   int64
	Currency string

	// Reference is the provider's identifier for the payment
	Reference string

	// Provider names the source system ("stripe", "front_desk", ...)
	Provider string
}

// Validate checks the structural invariants of the event.
func (e *Event) Validate() error {
	if e.ContractID == "" {
		return fmt.Errorf("payment event missing contract id")
	}
	if e.CycleStart.IsZero() {
		return fmt.Errorf("payment event missing cycle start")
	}
	if e.PaidAt.IsZero() {
		return fmt.Errorf("payment event missing paid-at time")
	}
	return nil
}

// Config holds applier configuration
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger membill.Logger
}

// Applier marks billing cycles paid from payment events
type Applier struct {
	storage membill.Storage
	config  Config
}

// NewApplier creates a payment applier writing to the given storage
func NewApplier(storage membill.Storage, config Config) (*Applier, error) {
	if storage == nil {
		return nil, membill.ErrStorageUnavailable
	}
	if config.Logger == nil {
		config.Logger = &membill.NoopLogger{}
	}
	return &Applier{
		storage: storage,
		config:  config,
	}, nil
}

// Apply marks the cycle named by the event as paid. Applying the same event
// twice is harmless; the cycle just stays paid with the latest payment date.
// An event naming an unknown cycle returns membill.ErrCycleNotFound.
func (a *Applier) Apply(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("payment event is required")
	}
	if err := event.Validate(); err != nil {
		return err
	}

	err := a.storage.MarkCyclePaid(ctx, event.ContractID, event.CycleStart, event.PaidAt)
	if err != nil {
		return fmt.Errorf("apply payment %s to cycle %s: %w",
			event.Reference, event.ContractID, err)
	}

	a.config.Logger.Info("payment applied",
		membill.Field{Key: "contract_id", Value: event.ContractID},
		membill.Field{Key: "cycle_start", Value: event.CycleStart.UTC().Format("2006-01-02")},
		membill.Field{Key: "provider", Value: event.Provider},
		membill.Field{Key: "reference", Value: event.Reference},
	)
	return nil
}
