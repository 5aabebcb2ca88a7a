// Package redis provides a Redis implementation of the membill.Storage
// interface. Cycles and contracts are stored as JSON values; date-ordered
// sorted sets index contracts by end date and cycles by cycle end, so the
// sweep phases never scan the whole keyspace. Cycle creation uses SETNX as
// the insert-or-ignore primitive.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gymops/membill/pkg/membill"
)

const dateLayout = "2006-01-02"

// txRetries bounds the optimistic-transaction retry loop. The sweep's
// check-and-set updates run under WATCH so a payment landing between the
// read and the write invalidates the write instead of being overwritten.
const txRetries = 3

// Storage implements membill.Storage using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "membill:")
	KeyPrefix string

	// ContractTTL is the TTL for contract keys (0 = no expiration)
	ContractTTL time.Duration

	// CycleTTL is the TTL for cycle keys (0 = no expiration)
	CycleTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:   "membill:",
		ContractTTL: 0,
		CycleTTL:    0,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "membill:"
	}

	return &Storage{
		client: client,
		config: config,
	}, nil
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) contractKey(contractID string) string {
	return s.config.KeyPrefix + "contract:" + contractID
}

func (s *Storage) cycleKey(contractID string, cycleStart time.Time) string {
	return s.config.KeyPrefix + "cycle:" + contractID + ":" + cycleStart.UTC().Format(dateLayout)
}

// activeContractsKey indexes active contract IDs scored by end date.
func (s *Storage) activeContractsKey() string {
	return s.config.KeyPrefix + "contracts:active"
}

// unpaidCyclesKey indexes unpaid cycle keys scored by cycle end.
func (s *Storage) unpaidCyclesKey() string {
	return s.config.KeyPrefix + "cycles:unpaid"
}

// cyclesByEndKey indexes all cycle keys scored by cycle end.
func (s *Storage) cyclesByEndKey() string {
	return s.config.KeyPrefix + "cycles:by_end"
}

// GetContract implements membill.Storage
func (s *Storage) GetContract(ctx context.Context, contractID string) (*membill.Contract, error) {
	data, err := s.client.Get(ctx, s.contractKey(contractID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, membill.ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}

	var contract membill.Contract
	if err := json.Unmarshal(data, &contract); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contract: %w", err)
	}
	return &contract, nil
}

// CreateContract implements membill.Storage
func (s *Storage) CreateContract(ctx context.Context, contract *membill.Contract) error {
	if contract == nil || contract.ID == "" {
		return fmt.Errorf("invalid contract")
	}

	normalized := *contract
	normalized.StartDate = membill.StartOfDayUTC(contract.StartDate)
	normalized.EndDate = membill.StartOfDayUTC(contract.EndDate)

	data, err := json.Marshal(&normalized)
	if err != nil {
		return fmt.Errorf("failed to marshal contract: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.contractKey(contract.ID), data, s.config.ContractTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to create contract %s: %w", contract.ID, err)
	}
	if !created {
		return fmt.Errorf("contract %s already exists", contract.ID)
	}

	if normalized.Status == membill.ContractActive {
		err = s.client.ZAdd(ctx, s.activeContractsKey(), redis.Z{
			Score:  float64(normalized.EndDate.Unix()),
			Member: contract.ID,
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to index contract %s: %w", contract.ID, err)
		}
	}
	return nil
}

// watchRetry runs txn under WATCH on key, retrying when a concurrent write
// invalidates the transaction.
func (s *Storage) watchRetry(ctx context.Context, key string, txn func(tx *redis.Tx) error) error {
	for i := 0; i < txRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("failed to update %s: too many conflicting writes", key)
}

// updateContract applies update to the stored contract inside a WATCH
// transaction. update mutates the contract and returns whether to write it
// back; the write keeps the active index in sync with the resulting status.
// Returns whether the write was applied.
func (s *Storage) updateContract(ctx context.Context, id string, update func(*membill.Contract) bool) (bool, error) {
	key := s.contractKey(id)

	var applied bool
	err := s.watchRetry(ctx, key, func(tx *redis.Tx) error {
		applied = false
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return membill.ErrContractNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get contract: %w", err)
		}

		var contract membill.Contract
		if err := json.Unmarshal(data, &contract); err != nil {
			return fmt.Errorf("failed to unmarshal contract: %w", err)
		}
		if !update(&contract) {
			return nil
		}

		out, err := json.Marshal(&contract)
		if err != nil {
			return fmt.Errorf("failed to marshal contract: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.config.ContractTTL)
			if contract.Status == membill.ContractActive {
				pipe.ZAdd(ctx, s.activeContractsKey(), redis.Z{
					Score:  float64(contract.EndDate.Unix()),
					Member: id,
				})
			} else {
				pipe.ZRem(ctx, s.activeContractsKey(), id)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to update contract %s: %w", id, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// updateCycle applies update to the cycle at key inside a WATCH transaction.
// update mutates the cycle and returns whether to write it back; the write
// also removes the key from the unpaid index, since every transition out of
// unpaid leaves it. Returns whether the write was applied.
func (s *Storage) updateCycle(ctx context.Context, key string, update func(*membill.BillingCycle) bool) (bool, error) {
	var applied bool
	err := s.watchRetry(ctx, key, func(tx *redis.Tx) error {
		applied = false
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return membill.ErrCycleNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get cycle: %w", err)
		}

		var cycle membill.BillingCycle
		if err := json.Unmarshal(data, &cycle); err != nil {
			return fmt.Errorf("failed to unmarshal cycle: %w", err)
		}
		if !update(&cycle) {
			return nil
		}

		out, err := json.Marshal(&cycle)
		if err != nil {
			return fmt.Errorf("failed to marshal cycle: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.config.CycleTTL)
			pipe.ZRem(ctx, s.unpaidCyclesKey(), key)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to update cycle %s: %w", cycle.Key(), err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// InsertCycle implements membill.Storage. SETNX on the cycle key makes a
// duplicate insert a silent no-op; indexes are only written by the caller
// that won the SETNX.
func (s *Storage) InsertCycle(ctx context.Context, cycle *membill.BillingCycle) (bool, error) {
	if cycle == nil || cycle.ContractID == "" {
		return false, fmt.Errorf("invalid cycle")
	}

	normalized := *cycle
	normalized.CycleStart = membill.StartOfDayUTC(cycle.CycleStart)
	normalized.CycleEnd = membill.StartOfDayUTC(cycle.CycleEnd)
	normalized.DueDate = membill.StartOfDayUTC(cycle.DueDate)
	if cycle.LastPaymentDate != nil {
		paidOn := membill.StartOfDayUTC(*cycle.LastPaymentDate)
		normalized.LastPaymentDate = &paidOn
	}

	data, err := json.Marshal(&normalized)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cycle: %w", err)
	}

	key := s.cycleKey(normalized.ContractID, normalized.CycleStart)
	created, err := s.client.SetNX(ctx, key, data, s.config.CycleTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to insert cycle %s: %w", normalized.Key(), err)
	}
	if !created {
		return false, nil
	}

	score := float64(normalized.CycleEnd.Unix())
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.cyclesByEndKey(), redis.Z{Score: score, Member: key})
	if normalized.Status == membill.CycleUnpaid {
		pipe.ZAdd(ctx, s.unpaidCyclesKey(), redis.Z{Score: score, Member: key})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to index cycle %s: %w", normalized.Key(), err)
	}
	return true, nil
}

// ExpireContracts implements membill.Storage
func (s *Storage) ExpireContracts(ctx context.Context, today time.Time) (int64, error) {
	day := membill.StartOfDayUTC(today)

	// end_date strictly before today: exclusive upper bound on the score.
	ids, err := s.client.ZRangeByScore(ctx, s.activeContractsKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(day.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list ending contracts: %w", err)
	}

	var count int64
	for _, id := range ids {
		applied, err := s.updateContract(ctx, id, func(contract *membill.Contract) bool {
			if contract.Status != membill.ContractActive {
				return false
			}
			contract.Status = membill.ContractExpired
			contract.UpdatedAt = time.Now().UTC()
			return true
		})
		if errors.Is(err, membill.ErrContractNotFound) {
			// Dangling index entry.
			s.client.ZRem(ctx, s.activeContractsKey(), id)
			continue
		}
		if err != nil {
			return count, err
		}
		if !applied {
			// No longer active; drop the stale index entry.
			s.client.ZRem(ctx, s.activeContractsKey(), id)
			continue
		}
		count++
	}
	return count, nil
}

// MarkOverdueCycles implements membill.Storage
func (s *Storage) MarkOverdueCycles(ctx context.Context, today time.Time) (int64, error) {
	day := membill.StartOfDayUTC(today)

	keys, err := s.client.ZRangeByScore(ctx, s.unpaidCyclesKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(day.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list lapsed unpaid cycles: %w", err)
	}

	var count int64
	for _, key := range keys {
		applied, err := s.updateCycle(ctx, key, func(cycle *membill.BillingCycle) bool {
			if cycle.Status != membill.CycleUnpaid {
				return false
			}
			cycle.Status = membill.CycleOverdue
			cycle.UpdatedAt = time.Now().UTC()
			return true
		})
		if errors.Is(err, membill.ErrCycleNotFound) {
			s.client.ZRem(ctx, s.unpaidCyclesKey(), key)
			continue
		}
		if err != nil {
			return count, err
		}
		if !applied {
			// Paid since it was indexed; a paid cycle never goes overdue.
			s.client.ZRem(ctx, s.unpaidCyclesKey(), key)
			continue
		}
		count++
	}
	return count, nil
}

// ListExpiringCycles implements membill.Storage
func (s *Storage) ListExpiringCycles(ctx context.Context, today time.Time) ([]membill.CycleWithContract, error) {
	day := membill.StartOfDayUTC(today)

	// cycle_end on or before today: inclusive upper bound.
	keys, err := s.client.ZRangeByScore(ctx, s.cyclesByEndKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(day.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring cycles: %w", err)
	}

	var rows []membill.CycleWithContract
	for _, key := range keys {
		cycle, err := s.getCycleByKey(ctx, key)
		if err != nil {
			if errors.Is(err, membill.ErrCycleNotFound) {
				s.client.ZRem(ctx, s.cyclesByEndKey(), key)
				continue
			}
			return nil, err
		}

		contract, err := s.GetContract(ctx, cycle.ContractID)
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
			Cycle:    *cycle,
			Contract: *contract,
		})
	}
	return rows, nil
}

// MarkCyclePaid implements membill.Storage. Runs under the same WATCH
// transaction as the sweep's overdue transition, so a sweep and a payment
// racing on one cycle serialize instead of overwriting each other.
func (s *Storage) MarkCyclePaid(ctx context.Context, contractID string, cycleStart, paidAt time.Time) error {
	key := s.cycleKey(contractID, membill.StartOfDayUTC(cycleStart))
	paidOn := membill.StartOfDayUTC(paidAt)

	_, err := s.updateCycle(ctx, key, func(cycle *membill.BillingCycle) bool {
		cycle.Status = membill.CyclePaid
		cycle.LastPaymentDate = &paidOn
		cycle.UpdatedAt = time.Now().UTC()
		return true
	})
	return err
}

func (s *Storage) getCycleByKey(ctx context.Context, key string) (*membill.BillingCycle, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, membill.ErrCycleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle: %w", err)
	}

	var cycle membill.BillingCycle
	if err := json.Unmarshal(data, &cycle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cycle: %w", err)
	}
	return &cycle, nil
}

