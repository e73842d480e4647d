// Package tiered provides a Hot/Cold customer link store that pairs a fast
// cache (Hot) with a durable source of truth (Cold).
//
// Reads are read-through: Hot first, then Cold, backfilling Hot on a Cold hit.
// Writes are write-through: Cold first so the link is durable, then Hot.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Redis, Memory)
	Hot billing.CustomerStore

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) as the source of truth
	Cold billing.CustomerStore

	// AsyncBackfill fills Hot from a background worker instead of inline on reads.
	AsyncBackfill bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a cache write fails.
	AsyncErrorHandler func(error)
}

// Storage implements billing.CustomerStore over two backends.
type Storage struct {
	hot  billing.CustomerStore
	cold billing.CustomerStore
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncBackfill {
		s.startWorker()
	}

	return s, nil
}

// Close drains and stops the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncBackfill {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background backfill loop sequentially.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.report(job())
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) report(err error) {
	if err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered sync failed: %w", err))
	}
}

// GetCustomerLink implements billing.CustomerStore with read-through.
func (s *Storage) GetCustomerLink(ctx context.Context, ownerID string) (*billing.CustomerLink, error) {
	link, err := s.hot.GetCustomerLink(ctx, ownerID)
	if err == nil && link != nil {
		return link, nil
	}

	link, err = s.cold.GetCustomerLink(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	s.backfill(ctx, link)
	return link, nil
}

func (s *Storage) backfill(ctx context.Context, link *billing.CustomerLink) {
	fill := *link
	if !s.conf.AsyncBackfill {
		s.report(s.hot.SetCustomerLink(ctx, &fill))
		return
	}

	job := func() error {
		return s.hot.SetCustomerLink(context.Background(), &fill)
	}
	select {
	case s.syncQueue <- job:
	default:
		s.report(errors.New("sync queue full, backfill dropped"))
	}
}

// SetCustomerLink implements billing.CustomerStore with write-through.
// A Hot failure after a durable Cold write is reported, not returned.
func (s *Storage) SetCustomerLink(ctx context.Context, link *billing.CustomerLink) error {
	if err := s.cold.SetCustomerLink(ctx, link); err != nil {
		return err
	}
	s.report(s.hot.SetCustomerLink(ctx, link))
	return nil
}
