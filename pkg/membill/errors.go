package membill

import "errors"

var (
	// ErrInvalidCadence is returned for a cadence with no progression rule
	ErrInvalidCadence = errors.New("invalid cadence")

	// ErrInvalidContract is returned for a structurally invalid contract
	ErrInvalidContract = errors.New("invalid contract")

	// ErrContractNotFound is returned when a contract does not exist
	ErrContractNotFound = errors.New("contract not found")

	// ErrCycleNotFound is returned when a billing cycle does not exist
	ErrCycleNotFound = errors.New("billing cycle not found")

	// ErrCycleExists is returned when the initial cycle for a contract was
	// already created; a second on-demand creation is a caller error
	ErrCycleExists = errors.New("billing cycle already exists")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUnauthorized is the rejection for a guarded billing endpoint
	// invoked without the service key; the middleware packages report it
	// in their default 401 body
	ErrUnauthorized = errors.New("unauthorized caller")
)
