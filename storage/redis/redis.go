// Package redis provides a Redis implementation of billing.CustomerStore.
// Links are stored as JSON strings keyed by owner id.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

// Storage implements billing.CustomerStore using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "toxbook:customer:")
	KeyPrefix string

	// LinkTTL is the TTL for customer link keys (0 = no expiration)
	LinkTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "toxbook:customer:",
		LinkTTL:   0,
	}
}

type linkRecord struct {
	OwnerID    string    `json:"ownerId"`
	TenantID   string    `json:"tenantId,omitempty"`
	CustomerID string    `json:"customerId"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}

	return &Storage{client: client, config: config}, nil
}

func (s *Storage) key(ownerID string) string {
	return s.config.KeyPrefix + ownerID
}

// GetCustomerLink implements billing.CustomerStore
func (s *Storage) GetCustomerLink(ctx context.Context, ownerID string) (*billing.CustomerLink, error) {
	data, err := s.client.Get(ctx, s.key(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, billing.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer link: %w", err)
	}

	var rec linkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode customer link: %w", err)
	}

	return &billing.CustomerLink{
		OwnerID:    rec.OwnerID,
		TenantID:   rec.TenantID,
		CustomerID: rec.CustomerID,
		UpdatedAt:  rec.UpdatedAt,
	}, nil
}

// SetCustomerLink implements billing.CustomerStore
func (s *Storage) SetCustomerLink(ctx context.Context, link *billing.CustomerLink) error {
	if err := link.Validate(); err != nil {
		return err
	}

	rec := linkRecord{
		OwnerID:    link.OwnerID,
		TenantID:   link.TenantID,
		CustomerID: link.CustomerID,
		UpdatedAt:  link.UpdatedAt,
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode customer link: %w", err)
	}

	if err := s.client.Set(ctx, s.key(link.OwnerID), data, s.config.LinkTTL).Err(); err != nil {
		return fmt.Errorf("failed to set customer link: %w", err)
	}
	return nil
}

// Ping verifies Redis is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
