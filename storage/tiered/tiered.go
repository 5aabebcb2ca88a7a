// Package tiered provides a Hot/Cold tiered storage adapter that layers a
// fast ephemeral backend (Hot) over a durable persistent backend (Cold).
// Cold is always the source of truth; Hot serves contract lookups and is
// kept in step by mirroring every write.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gymops/membill/pkg/membill"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Redis, Memory) for contract reads
	Hot membill.Storage

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) as the source of truth
	Cold membill.Storage

	// AsyncMirror enables non-blocking mirroring of writes into Hot.
	// If false, mirrors run inline before the call returns.
	AsyncMirror bool

	// MirrorBufferSize is the size of the buffered channel for async mirrors.
	// Default: 1000
	MirrorBufferSize int

	// MirrorErrorHandler is called when a mirror into Hot fails.
	// Essential for monitoring cache drift; Cold has already committed.
	MirrorErrorHandler func(error)
}

// Storage implements a Hot/Cold tiered storage architecture.
// Strategies per operation type:
// - Read-Through: GetContract (Hot → Cold, with Hot backfill)
// - Write-Through: CreateContract, InsertCycle, MarkCyclePaid (Cold → Hot)
// - Cold-Primary: sweep queries and bulk transitions, mirrored into Hot
type Storage struct {
	hot  membill.Storage
	cold membill.Storage
	conf Config

	// Channel for async mirroring
	mirrorQueue chan func() error
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.MirrorBufferSize <= 0 {
		config.MirrorBufferSize = 1000
	}

	s := &Storage{
		hot:         config.Hot,
		cold:        config.Cold,
		conf:        config,
		mirrorQueue: make(chan func() error, config.MirrorBufferSize),
		shutdown:    make(chan struct{}),
	}

	if config.AsyncMirror {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncMirror {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background mirroring loop.
// Strategy: sequential processing to maintain causal ordering per contract.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.mirrorQueue:
				s.runMirror(job)
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.mirrorQueue:
						s.runMirror(job)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) runMirror(job func() error) {
	if err := job(); err != nil {
		if s.conf.MirrorErrorHandler != nil {
			s.conf.MirrorErrorHandler(fmt.Errorf("tiered mirror failed: %w", err))
		}
	}
}

// mirror runs a Hot-side job either inline or on the async worker.
// Mirror failures never fail the call: Cold has already committed, and a
// stale Hot entry heals on the next read-through.
func (s *Storage) mirror(job func() error) {
	if !s.conf.AsyncMirror {
		s.runMirror(job)
		return
	}
	select {
	case s.mirrorQueue <- job:
	default:
		// Queue full: run inline rather than dropping the mirror.
		s.runMirror(job)
	}
}

// GetContract reads through: Hot first, falling back to Cold on a miss or
// Hot failure, and backfilling Hot on a Cold hit.
func (s *Storage) GetContract(ctx context.Context, contractID string) (*membill.Contract, error) {
	contract, err := s.hot.GetContract(ctx, contractID)
	if err == nil {
		return contract, nil
	}
	if !errors.Is(err, membill.ErrContractNotFound) && s.conf.MirrorErrorHandler != nil {
		s.conf.MirrorErrorHandler(fmt.Errorf("tiered hot read failed: %w", err))
	}

	contract, err = s.cold.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	backfill := *contract
	s.mirror(func() error {
		// Duplicate errors are expected when a concurrent read already
		// backfilled the entry.
		_ = s.hot.CreateContract(context.Background(), &backfill)
		return nil
	})
	return contract, nil
}

// CreateContract writes through: Cold commits, then Hot mirrors.
func (s *Storage) CreateContract(ctx context.Context, contract *membill.Contract) error {
	if err := s.cold.CreateContract(ctx, contract); err != nil {
		return err
	}

	mirrored := *contract
	s.mirror(func() error {
		return s.hot.CreateContract(context.Background(), &mirrored)
	})
	return nil
}

// InsertCycle lets Cold decide the idempotency outcome; only a winning
// insert is mirrored into Hot.
func (s *Storage) InsertCycle(ctx context.Context, cycle *membill.BillingCycle) (bool, error) {
	inserted, err := s.cold.InsertCycle(ctx, cycle)
	if err != nil || !inserted {
		return inserted, err
	}

	mirrored := *cycle
	s.mirror(func() error {
		_, err := s.hot.InsertCycle(context.Background(), &mirrored)
		return err
	})
	return true, nil
}

// ExpireContracts runs on Cold for the authoritative count, then mirrors the
// same transition into Hot.
func (s *Storage) ExpireContracts(ctx context.Context, today time.Time) (int64, error) {
	count, err := s.cold.ExpireContracts(ctx, today)
	if err != nil {
		return 0, err
	}

	day := today
	s.mirror(func() error {
		_, err := s.hot.ExpireContracts(context.Background(), day)
		return err
	})
	return count, nil
}

// MarkOverdueCycles runs on Cold for the authoritative count, then mirrors
// the same transition into Hot.
func (s *Storage) MarkOverdueCycles(ctx context.Context, today time.Time) (int64, error) {
	count, err := s.cold.MarkOverdueCycles(ctx, today)
	if err != nil {
		return 0, err
	}

	day := today
	s.mirror(func() error {
		_, err := s.hot.MarkOverdueCycles(context.Background(), day)
		return err
	})
	return count, nil
}

// ListExpiringCycles always queries Cold: the progression join must see the
// authoritative contract state, never a cache.
func (s *Storage) ListExpiringCycles(ctx context.Context, today time.Time) ([]membill.CycleWithContract, error) {
	return s.cold.ListExpiringCycles(ctx, today)
}

// MarkCyclePaid writes through: Cold commits, then Hot mirrors. A cycle
// missing from Hot is tolerated; it was simply never cached.
func (s *Storage) MarkCyclePaid(ctx context.Context, contractID string, cycleStart, paidAt time.Time) error {
	if err := s.cold.MarkCyclePaid(ctx, contractID, cycleStart, paidAt); err != nil {
		return err
	}

	s.mirror(func() error {
		err := s.hot.MarkCyclePaid(context.Background(), contractID, cycleStart, paidAt)
		if errors.Is(err, membill.ErrCycleNotFound) {
			return nil
		}
		return err
	})
	return nil
}
