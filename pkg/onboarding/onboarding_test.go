package onboarding_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymops/membill/pkg/membill"
	"github.com/gymops/membill/pkg/onboarding"
	"github.com/gymops/membill/storage/memory"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	directory *memory.Directory
	storage   *memory.Storage
	service   *onboarding.Service
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	storage := memory.New()
	engine, err := membill.NewEngine(storage, membill.Config{
		Clock: func() time.Time { return now },
	})
	require.NoError(t, err)

	directory := memory.NewDirectory()
	service, err := onboarding.NewService(directory, storage, engine, onboarding.Config{
		Clock: func() time.Time { return now },
	})
	require.NoError(t, err)

	return &fixture{directory: directory, storage: storage, service: service}
}

func validRequest() *onboarding.Request {
	return &onboarding.Request{
		TenantID:       "gym-1",
		Name:           "Ana Pop",
		Email:          "ana@example.com",
		Phone:          "+40 700 000 000",
		StartDate:      date(2025, 1, 1),
		Cadence:        membill.CadenceMonthly,
		PaidAtCreation: true,
	}
}

func TestOnboardMember_Created(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2025, 1, 1))

	result, err := f.service.OnboardMember(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, onboarding.Created, result.Kind)

	require.NotNil(t, result.Member)
	assert.NotEmpty(t, result.Member.ID)
	assert.Equal(t, "gym-1", result.Member.TenantID)
	assert.Equal(t, "ana@example.com", result.Member.Email)

	require.NotNil(t, result.Contract)
	assert.Equal(t, result.Member.ID, result.Contract.MemberID)
	assert.Equal(t, membill.ContractActive, result.Contract.Status)
	// End date defaults to one cadence period: Jan 1 through Jan 31.
	assert.True(t, result.Contract.EndDate.Equal(date(2025, 1, 31)),
		"end date: got %v", result.Contract.EndDate)

	require.NotNil(t, result.Cycle)
	assert.Equal(t, membill.CyclePaid, result.Cycle.Status)
	require.NotNil(t, result.Cycle.LastPaymentDate)
	assert.True(t, result.Cycle.LastPaymentDate.Equal(date(2025, 1, 1)))

	// The contract and cycle really landed in storage.
	stored, err := f.storage.GetContract(ctx, result.Contract.ID)
	require.NoError(t, err)
	assert.Equal(t, membill.CadenceMonthly, stored.Cadence)
	assert.Len(t, f.storage.Cycles(result.Contract.ID), 1)
}

func TestOnboardMember_UnpaidInitialCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2025, 1, 1))

	req := validRequest()
	req.PaidAtCreation = false

	result, err := f.service.OnboardMember(ctx, req)
	require.NoError(t, err)
	require.Equal(t, onboarding.Created, result.Kind)
	assert.Equal(t, membill.CycleUnpaid, result.Cycle.Status)
	assert.Nil(t, result.Cycle.LastPaymentDate)
}

func TestOnboardMember_ExplicitEndDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2025, 1, 1))

	req := validRequest()
	req.EndDate = date(2025, 6, 30)

	result, err := f.service.OnboardMember(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Contract.EndDate.Equal(date(2025, 6, 30)))
}

func TestOnboardMember_ConflictSameTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2025, 1, 1))

	first, err := f.service.OnboardMember(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, onboarding.Created, first.Kind)

	// Same email, same gym; case and whitespace differences don't matter.
	req := validRequest()
	req.Email = "  ANA@example.com "

	result, err := f.service.OnboardMember(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, onboarding.ConflictSameTenant, result.Kind)
	assert.Equal(t, first.Member.ID, result.Member.ID)
	assert.Nil(t, result.Contract)
	assert.Nil(t, result.Cycle)
}

func TestOnboardMember_ConflictOtherTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2025, 1, 1))

	_, err := f.service.OnboardMember(ctx, validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.TenantID = "gym-2"

	result, err := f.service.OnboardMember(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, onboarding.ConflictOtherTenant, result.Kind)
	assert.Equal(t, "gym-1", result.Member.TenantID)
}

func TestOnboardMember_CustomCadence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2025, 1, 1))

	req := validRequest()
	req.Cadence = membill.CadenceCustom
	req.EndDate = date(2025, 4, 15)

	result, err := f.service.OnboardMember(ctx, req)
	require.NoError(t, err)
	require.Equal(t, onboarding.Created, result.Kind)
	// Custom contracts get one cycle spanning the whole term.
	assert.True(t, result.Cycle.CycleEnd.Equal(date(2025, 4, 15)))

	// Custom cadence without an end date is rejected.
	bad := validRequest()
	bad.Email = "other@example.com"
	bad.Cadence = membill.CadenceCustom
	_, err = f.service.OnboardMember(ctx, bad)
	assert.ErrorIs(t, err, onboarding.ErrInvalidRequest)
}

func TestOnboardMember_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2025, 1, 1))

	tests := []struct {
		name    string
		mutate  func(*onboarding.Request)
		wantErr error
	}{
		{"missing tenant", func(r *onboarding.Request) { r.TenantID = "" }, onboarding.ErrInvalidRequest},
		{"missing name", func(r *onboarding.Request) { r.Name = "  " }, onboarding.ErrInvalidRequest},
		{"missing email", func(r *onboarding.Request) { r.Email = "" }, onboarding.ErrInvalidRequest},
		{"missing start date", func(r *onboarding.Request) { r.StartDate = time.Time{} }, onboarding.ErrInvalidRequest},
		{"bad cadence", func(r *onboarding.Request) { r.Cadence = "weekly" }, membill.ErrInvalidCadence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			_, err := f.service.OnboardMember(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := f.service.OnboardMember(ctx, nil)
	assert.ErrorIs(t, err, onboarding.ErrInvalidRequest)
}

type failingDirectory struct {
	findErr   error
	createErr error
}

func (f *failingDirectory) FindByEmail(ctx context.Context, email string) (*onboarding.Member, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return nil, onboarding.ErrMemberNotFound
}

func (f *failingDirectory) CreateMember(ctx context.Context, member *onboarding.Member) error {
	return f.createErr
}

func TestOnboardMember_DirectoryFailures(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	engine, err := membill.NewEngine(storage, membill.Config{})
	require.NoError(t, err)

	errBoom := errors.New("directory down")

	service, err := onboarding.NewService(&failingDirectory{findErr: errBoom}, storage, engine, onboarding.Config{})
	require.NoError(t, err)
	_, err = service.OnboardMember(ctx, validRequest())
	assert.ErrorIs(t, err, errBoom)

	service, err = onboarding.NewService(&failingDirectory{createErr: errBoom}, storage, engine, onboarding.Config{})
	require.NoError(t, err)
	_, err = service.OnboardMember(ctx, validRequest())
	assert.ErrorIs(t, err, errBoom)
}
