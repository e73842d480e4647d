// Package postgres provides a PostgreSQL implementation of billing.CustomerStore.
// Connections come from a pgx pool; queries go through gorm.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

// customerLinkRow is the persisted form of billing.CustomerLink.
type customerLinkRow struct {
	OwnerID    string    `gorm:"column:owner_id;primaryKey"`
	TenantID   string    `gorm:"column:tenant_id;index"`
	CustomerID string    `gorm:"column:customer_id;uniqueIndex;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (customerLinkRow) TableName() string { return "billing_customer_links" }

// Storage implements billing.CustomerStore using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	sqlDB  *sql.DB
	db     *gorm.DB
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

	// AutoMigrate creates or updates the customer link table on startup
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
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

	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Storage{pool: pool, sqlDB: sqlDB, db: db, config: config}

	if config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Migrate creates the customer link table and its indexes.
func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&customerLinkRow{}); err != nil {
		return fmt.Errorf("migrate customer links: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the gorm handle and the connection pool
func (s *Storage) Close() {
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetCustomerLink implements billing.CustomerStore
func (s *Storage) GetCustomerLink(ctx context.Context, ownerID string) (*billing.CustomerLink, error) {
	var row customerLinkRow
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer link: %w", err)
	}

	return &billing.CustomerLink{
		OwnerID:    row.OwnerID,
		TenantID:   row.TenantID,
		CustomerID: row.CustomerID,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// SetCustomerLink implements billing.CustomerStore. An existing link for the
// owner is replaced.
func (s *Storage) SetCustomerLink(ctx context.Context, link *billing.CustomerLink) error {
	if err := link.Validate(); err != nil {
		return err
	}

	row := customerLinkRow{
		OwnerID:    link.OwnerID,
		TenantID:   link.TenantID,
		CustomerID: link.CustomerID,
		UpdatedAt:  link.UpdatedAt,
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "customer_id", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to set customer link: %w", err)
	}
	return nil
}
