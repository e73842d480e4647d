// Package firestore provides a Firestore implementation of billing.CustomerStore.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

// Storage implements billing.CustomerStore using Google Cloud Firestore
type Storage struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore storage configuration
type Config struct {
	// CustomersCollection is the Firestore collection for customer links
	// Default: "billing_customer_links"
	CustomersCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.CustomersCollection == "" {
		config.CustomersCollection = "billing_customer_links"
	}

	return &Storage{
		client:     client,
		collection: config.CustomersCollection,
	}, nil
}

// GetCustomerLink implements billing.CustomerStore
func (s *Storage) GetCustomerLink(ctx context.Context, ownerID string) (*billing.CustomerLink, error) {
	snap, err := s.client.Collection(s.collection).Doc(ownerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer link: %w", err)
	}
	if !snap.Exists() {
		return nil, billing.ErrCustomerNotFound
	}

	data := snap.Data()
	return &billing.CustomerLink{
		OwnerID:    ownerID,
		TenantID:   getString(data, "tenantId"),
		CustomerID: getString(data, "customerId"),
		UpdatedAt:  getTime(data, "updatedAt"),
	}, nil
}

// SetCustomerLink implements billing.CustomerStore
func (s *Storage) SetCustomerLink(ctx context.Context, link *billing.CustomerLink) error {
	if err := link.Validate(); err != nil {
		return err
	}

	updatedAt := link.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.client.Collection(s.collection).Doc(link.OwnerID).Set(ctx, map[string]interface{}{
		"tenantId":   link.TenantID,
		"customerId": link.CustomerID,
		"updatedAt":  updatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to set customer link: %w", err)
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
