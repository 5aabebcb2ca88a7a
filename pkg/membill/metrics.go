package membill

import "time"

// Metrics defines the interface for tracking billing operations.
type Metrics interface {
	// RecordSweep records the outcome and duration of one daily sweep.
	RecordSweep(duration time.Duration, result SweepResult, err error)

	// RecordContractsExpired records the number of contracts expired by a sweep phase.
	RecordContractsExpired(count int64)

	// RecordCyclesMarkedOverdue records the number of cycles marked overdue by a sweep phase.
	RecordCyclesMarkedOverdue(count int64)

	// RecordCycleCreated records a newly inserted billing cycle.
	// initial distinguishes onboarding-created cycles from sweep successors.
	RecordCycleCreated(cadence Cadence, initial bool)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordSweep(duration time.Duration, result SweepResult, err error)          {}
func (n *NoopMetrics) RecordContractsExpired(count int64)                                         {}
func (n *NoopMetrics) RecordCyclesMarkedOverdue(count int64)                                      {}
func (n *NoopMetrics) RecordCycleCreated(cadence Cadence, initial bool)                           {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
