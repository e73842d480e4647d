// Package memory provides an in-memory implementation of billing.CustomerStore.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

// Storage implements billing.CustomerStore using an in-memory map
type Storage struct {
	mu    sync.RWMutex
	links map[string]*billing.CustomerLink
	now   func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		links: make(map[string]*billing.CustomerLink),
		now:   time.Now,
	}
}

// GetCustomerLink implements billing.CustomerStore
func (s *Storage) GetCustomerLink(ctx context.Context, ownerID string) (*billing.CustomerLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[ownerID]
	if !ok {
		return nil, billing.ErrCustomerNotFound
	}

	// Return a copy to prevent external mutations
	linkCopy := *link
	return &linkCopy, nil
}

// SetCustomerLink implements billing.CustomerStore
func (s *Storage) SetCustomerLink(ctx context.Context, link *billing.CustomerLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := link.Validate(); err != nil {
		return err
	}

	linkCopy := *link
	if linkCopy.UpdatedAt.IsZero() {
		linkCopy.UpdatedAt = s.now().UTC()
	}

	s.mu.Lock()
	s.links[link.OwnerID] = &linkCopy
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored links.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}
