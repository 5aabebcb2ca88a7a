package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gymops/membill/pkg/onboarding"
)

// Directory implements onboarding.Directory using an in-memory map keyed by
// normalized email.
type Directory struct {
	mu      sync.RWMutex
	members map[string]*onboarding.Member
}

// NewDirectory creates a new in-memory member directory
func NewDirectory() *Directory {
	return &Directory{
		members: make(map[string]*onboarding.Member),
	}
}

// FindByEmail implements onboarding.Directory
func (d *Directory) FindByEmail(ctx context.Context, email string) (*onboarding.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	member, ok := d.members[normalizeEmail(email)]
	if !ok {
		return nil, onboarding.ErrMemberNotFound
	}

	memberCopy := *member
	return &memberCopy, nil
}

// CreateMember implements onboarding.Directory
func (d *Directory) CreateMember(ctx context.Context, member *onboarding.Member) error {
	if member == nil || member.ID == "" || member.Email == "" {
		return fmt.Errorf("invalid member")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := normalizeEmail(member.Email)
	if _, ok := d.members[key]; ok {
		return fmt.Errorf("member with email %s already exists", member.Email)
	}

	memberCopy := *member
	d.members[key] = &memberCopy
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
