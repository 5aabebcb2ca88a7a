// Package onboarding registers new members and opens their first contract
// and billing cycle as one flow. Conflict detection runs up front: a member
// already known by email is reported as a tagged result rather than an error,
// so callers can distinguish "already yours" from "belongs to another gym".
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gymops/membill/pkg/membill"
)

// Sentinel errors
var (
	// ErrMemberNotFound is returned by Directory lookups for unknown members
	ErrMemberNotFound = errors.New("member not found")

	// ErrInvalidRequest indicates a structurally invalid onboarding request
	ErrInvalidRequest = errors.New("invalid onboarding request")
)

// Member is a person registered with a gym
type Member struct {
	ID        string
	TenantID  string
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
}

// Directory is the member registry boundary. Emails are unique across all
// tenants; lookup is by normalized (lowercased, trimmed) email.
type Directory interface {
	// FindByEmail returns the member registered under the given email, or
	// ErrMemberNotFound.
	FindByEmail(ctx context.Context, email string) (*Member, error)

	// CreateMember registers a new member.
	CreateMember(ctx context.Context, member *Member) error
}

// ResultKind tags the outcome of an onboarding attempt
type ResultKind string

const (
	// Created means the member, contract and initial cycle were all created
	Created ResultKind = "created"
	// ConflictSameTenant means the email already belongs to a member of the
	// requesting tenant
	ConflictSameTenant ResultKind = "conflict_same_tenant"
	// ConflictOtherTenant means the email belongs to a member of a different
	// tenant
	ConflictOtherTenant ResultKind = "conflict_other_tenant"
)

// Request describes a member to onboard together with their first contract.
type Request struct {
	TenantID string
	Name     string
	Email    string
	Phone    string

	// StartDate is the contract start (calendar date)
	StartDate time.Time

	// EndDate is the inclusive contract end. Zero means one cadence period
	// from the start; required for custom cadence.
	EndDate time.Time

	Cadence membill.Cadence

	// PaidAtCreation marks the initial cycle paid, for gyms collecting the
	// first payment at the front desk
	PaidAtCreation bool
}

// Validate checks the structural invariants of the request.
func (r *Request) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if normalizeEmail(r.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidRequest)
	}
	if r.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidRequest)
	}
	if !r.Cadence.Valid() {
		return membill.ErrInvalidCadence
	}
	if r.Cadence == membill.CadenceCustom && r.EndDate.IsZero() {
		return fmt.Errorf("%w: custom cadence requires an end date", ErrInvalidRequest)
	}
	return nil
}

// Result is the tagged outcome of OnboardMember. Member is always set; the
// conflict kinds carry the existing member, Created carries the new one plus
// the contract and initial cycle.
type Result struct {
	Kind     ResultKind
	Member   *Member
	Contract *membill.Contract
	Cycle    *membill.BillingCycle
}

// Config holds onboarding service configuration
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger membill.Logger

	// Clock returns the current time; overridable for tests (default: time.Now)
	Clock func() time.Time

	// NewID generates identifiers for members and contracts (default: UUIDv4)
	NewID func() string
}

// Service runs the onboarding flow
type Service struct {
	directory Directory
	contracts membill.Storage
	engine    *membill.Engine
	config    Config
}

// NewService creates an onboarding service. The storage must be the same
// backend the engine writes cycles to.
func NewService(directory Directory, contracts membill.Storage, engine *membill.Engine, config Config) (*Service, error) {
	if directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if contracts == nil {
		return nil, membill.ErrStorageUnavailable
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	if config.Logger == nil {
		config.Logger = &membill.NoopLogger{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}

	return &Service{
		directory: directory,
		contracts: contracts,
		engine:    engine,
		config:    config,
	}, nil
}

// OnboardMember registers a member and opens their first contract and billing
// cycle. A known email short-circuits into a conflict result; nothing is
// written in that case.
func (s *Service) OnboardMember(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	email := normalizeEmail(req.Email)

	existing, err := s.directory.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		return nil, fmt.Errorf("lookup member by email: %w", err)
	}
	if existing != nil {
		kind := ConflictOtherTenant
		if existing.TenantID == req.TenantID {
			kind = ConflictSameTenant
		}
		s.config.Logger.Info("onboarding conflict",
			membill.Field{Key: "tenant_id", Value: req.TenantID},
			membill.Field{Key: "kind", Value: string(kind)},
		)
		return &Result{Kind: kind, Member: existing}, nil
	}

	now := s.config.Clock().UTC()
	member := &Member{
		ID:        s.config.NewID(),
		TenantID:  req.TenantID,
		Name:      strings.TrimSpace(req.Name),
		Email:     email,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: now,
	}
	if err := s.directory.CreateMember(ctx, member); err != nil {
		return nil, fmt.Errorf("create member: %w", err)
	}

	contract, err := s.buildContract(member, req, now)
	if err != nil {
		return nil, err
	}
	if err := s.contracts.CreateContract(ctx, contract); err != nil {
		return nil, fmt.Errorf("create contract: %w", err)
	}

	cycle, err := s.engine.CreateInitialCycle(ctx, contract, req.PaidAtCreation)
	if err != nil {
		return nil, fmt.Errorf("create initial cycle: %w", err)
	}

	s.config.Logger.Info("member onboarded",
		membill.Field{Key: "tenant_id", Value: member.TenantID},
		membill.Field{Key: "member_id", Value: member.ID},
		membill.Field{Key: "contract_id", Value: contract.ID},
		membill.Field{Key: "cadence", Value: string(contract.Cadence)},
		membill.Field{Key: "paid_at_creation", Value: req.PaidAtCreation},
	)

	return &Result{
		Kind:     Created,
		Member:   member,
		Contract: contract,
		Cycle:    cycle,
	}, nil
}

// buildContract assembles the contract, defaulting the end date to one
// cadence period when the request leaves it open.
func (s *Service) buildContract(member *Member, req *Request, now time.Time) (*membill.Contract, error) {
	start := membill.StartOfDayUTC(req.StartDate)

	end := membill.StartOfDayUTC(req.EndDate)
	if req.EndDate.IsZero() {
		var err error
		end, _, err = membill.CycleBounds(start, req.Cadence)
		if err != nil {
			return nil, err
		}
	}

	contract := &membill.Contract{
		ID:        s.config.NewID(),
		MemberID:  member.ID,
		TenantID:  member.TenantID,
		StartDate: start,
		EndDate:   end,
		Cadence:   req.Cadence,
		Status:    membill.ContractActive,
		UpdatedAt: now,
	}
	if err := contract.Validate(); err != nil {
		return nil, err
	}
	return contract, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
