// Package postgres provides a PostgreSQL implementation of the membill.Storage
// interface. Cycle creation relies on the primary key over
// (contract_id, cycle_start) with ON CONFLICT DO NOTHING, so concurrent
// sweeps and retries are safe without explicit locking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gymops/membill/pkg/membill"
)

// Storage implements membill.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{
		pool:   pool,
		config: config,
	}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema creates the contracts and billing_cycles tables if they do not
// exist. Intended for examples and tests; production deployments manage the
// schema through migrations.
func (s *Storage) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS contracts (
			id         TEXT PRIMARY KEY,
			member_id  TEXT NOT NULL,
			tenant_id  TEXT NOT NULL DEFAULT '',
			start_date DATE NOT NULL,
			end_date   DATE NOT NULL,
			cadence    TEXT NOT NULL,
			status     TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS billing_cycles (
			contract_id       TEXT NOT NULL REFERENCES contracts(id),
			member_id         TEXT NOT NULL,
			cycle_start       DATE NOT NULL,
			cycle_end         DATE NOT NULL,
			due_date          DATE NOT NULL,
			status            TEXT NOT NULL,
			last_payment_date DATE,
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (contract_id, cycle_start)
		);
		CREATE INDEX IF NOT EXISTS idx_billing_cycles_expiring
			ON billing_cycles (cycle_end);
		CREATE INDEX IF NOT EXISTS idx_contracts_status_end
			ON contracts (status, end_date)`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// GetContract implements membill.Storage
func (s *Storage) GetContract(ctx context.Context, contractID string) (*membill.Contract, error) {
	var contract membill.Contract

	err := s.pool.QueryRow(ctx,
		`SELECT id, member_id, tenant_id, start_date, end_date, cadence, status, updated_at
			FROM contracts WHERE id = $1`,
		contractID).Scan(
		&contract.ID,
		&contract.MemberID,
		&contract.TenantID,
		&contract.StartDate,
		&contract.EndDate,
		&contract.Cadence,
		&contract.Status,
		&contract.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, membill.ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}

	contract.StartDate = membill.StartOfDayUTC(contract.StartDate)
	contract.EndDate = membill.StartOfDayUTC(contract.EndDate)
	return &contract, nil
}

// CreateContract implements membill.Storage
func (s *Storage) CreateContract(ctx context.Context, contract *membill.Contract) error {
	if contract == nil || contract.ID == "" {
		return fmt.Errorf("invalid contract")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts (id, member_id, tenant_id, start_date, end_date, cadence, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		contract.ID,
		contract.MemberID,
		contract.TenantID,
		membill.StartOfDayUTC(contract.StartDate),
		membill.StartOfDayUTC(contract.EndDate),
		contract.Cadence,
		contract.Status,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create contract %s: %w", contract.ID, err)
	}
	return nil
}

// InsertCycle implements membill.Storage. The primary key over
// (contract_id, cycle_start) makes a duplicate insert a silent no-op;
// the returned bool reports whether this call actually inserted the row.
func (s *Storage) InsertCycle(ctx context.Context, cycle *membill.BillingCycle) (bool, error) {
	if cycle == nil || cycle.ContractID == "" {
		return false, fmt.Errorf("invalid cycle")
	}

	var lastPayment *time.Time
	if cycle.LastPaymentDate != nil {
		paidOn := membill.StartOfDayUTC(*cycle.LastPaymentDate)
		lastPayment = &paidOn
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO billing_cycles
			(contract_id, member_id, cycle_start, cycle_end, due_date, status, last_payment_date, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (contract_id, cycle_start) DO NOTHING`,
		cycle.ContractID,
		cycle.MemberID,
		membill.StartOfDayUTC(cycle.CycleStart),
		membill.StartOfDayUTC(cycle.CycleEnd),
		membill.StartOfDayUTC(cycle.DueDate),
		cycle.Status,
		lastPayment,
		time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert cycle %s: %w", cycle.Key(), err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireContracts implements membill.Storage
func (s *Storage) ExpireContracts(ctx context.Context, today time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts SET status = $1, updated_at = $2
			WHERE status = $3 AND end_date < $4`,
		membill.ContractExpired,
		time.Now().UTC(),
		membill.ContractActive,
		membill.StartOfDayUTC(today),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire contracts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkOverdueCycles implements membill.Storage
func (s *Storage) MarkOverdueCycles(ctx context.Context, today time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE billing_cycles SET status = $1, updated_at = $2
			WHERE status = $3 AND cycle_end < $4`,
		membill.CycleOverdue,
		time.Now().UTC(),
		membill.CycleUnpaid,
		membill.StartOfDayUTC(today),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue cycles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListExpiringCycles implements membill.Storage. Only cycles of active,
// recurring contracts qualify for progression; custom-cadence contracts
// are filtered out here so the engine never sees them.
func (s *Storage) ListExpiringCycles(ctx context.Context, today time.Time) ([]membill.CycleWithContract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bc.contract_id, bc.member_id, bc.cycle_start, bc.cycle_end, bc.due_date,
				bc.status, bc.last_payment_date, bc.updated_at,
				c.id, c.member_id, c.tenant_id, c.start_date, c.end_date, c.cadence, c.status, c.updated_at
			FROM billing_cycles bc
			JOIN contracts c ON c.id = bc.contract_id
			WHERE bc.cycle_end <= $1
				AND c.status = $2
				AND c.cadence IN ($3, $4, $5)
			ORDER BY bc.contract_id, bc.cycle_start`,
		membill.StartOfDayUTC(today),
		membill.ContractActive,
		membill.CadenceMonthly,
		membill.CadenceQuarterly,
		membill.CadenceYearly,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring cycles: %w", err)
	}
	defer rows.Close()

	var result []membill.CycleWithContract
	for rows.Next() {
		var row membill.CycleWithContract
		var lastPayment *time.Time

		err := rows.Scan(
			&row.Cycle.ContractID,
			&row.Cycle.MemberID,
			&row.Cycle.CycleStart,
			&row.Cycle.CycleEnd,
			&row.Cycle.DueDate,
			&row.Cycle.Status,
			&lastPayment,
			&row.Cycle.UpdatedAt,
			&row.Contract.ID,
			&row.Contract.MemberID,
			&row.Contract.TenantID,
			&row.Contract.StartDate,
			&row.Contract.EndDate,
			&row.Contract.Cadence,
			&row.Contract.Status,
			&row.Contract.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expiring cycle: %w", err)
		}

		row.Cycle.CycleStart = membill.StartOfDayUTC(row.Cycle.CycleStart)
		row.Cycle.CycleEnd = membill.StartOfDayUTC(row.Cycle.CycleEnd)
		row.Cycle.DueDate = membill.StartOfDayUTC(row.Cycle.DueDate)
		if lastPayment != nil {
			paidOn := membill.StartOfDayUTC(*lastPayment)
			row.Cycle.LastPaymentDate = &paidOn
		}
		row.Contract.StartDate = membill.StartOfDayUTC(row.Contract.StartDate)
		row.Contract.EndDate = membill.StartOfDayUTC(row.Contract.EndDate)

		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expiring cycles: %w", err)
	}
	return result, nil
}

// MarkCyclePaid implements membill.Storage
func (s *Storage) MarkCyclePaid(ctx context.Context, contractID string, cycleStart, paidAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE billing_cycles SET status = $1, last_payment_date = $2, updated_at = $3
			WHERE contract_id = $4 AND cycle_start = $5`,
		membill.CyclePaid,
		membill.StartOfDayUTC(paidAt),
		time.Now().UTC(),
		contractID,
		membill.StartOfDayUTC(cycleStart),
	)
	if err != nil {
		return fmt.Errorf("failed to mark cycle paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return membill.ErrCycleNotFound
	}
	return nil
}
