// Package memory provides an in-process identity Directory for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mihaimyh/toxbook/pkg/identity"
)

// Directory is a thread-safe in-memory identity.Directory.
type Directory struct {
	mu      sync.RWMutex
	users   map[string]identity.User
	members map[string]map[string]struct{} // group -> subjects

	addCalls      int
	retrieveCalls int

	// failures queued for AddMembers, consumed one per call
	addFailures []error
	strict      bool
}

// Option configures a Directory.
type Option func(*Directory)

// WithUsers seeds the directory.
func WithUsers(users ...identity.User) Option {
	return func(d *Directory) {
		for _, u := range users {
			d.users[u.ID] = u
		}
	}
}

// WithStrictMembers makes AddMembers reject subjects that are not known users.
func WithStrictMembers() Option {
	return func(d *Directory) {
		d.strict = true
	}
}

// New creates an empty directory.
func New(opts ...Option) *Directory {
	d := &Directory{
		users:   make(map[string]identity.User),
		members: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PutUser adds or replaces a user.
func (d *Directory) PutUser(u identity.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// FailAddMembers queues errors returned by the next AddMembers calls, in order.
func (d *Directory) FailAddMembers(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addFailures = append(d.addFailures, errs...)
}

// RetrieveUser implements identity.Directory.
func (d *Directory) RetrieveUser(ctx context.Context, id string) (*identity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.retrieveCalls++

	u, ok := d.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return &u, nil
}

// AddMembers implements identity.Directory.
func (d *Directory) AddMembers(ctx context.Context, members map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.addCalls++

	if len(d.addFailures) > 0 {
		err := d.addFailures[0]
		d.addFailures = d.addFailures[1:]
		if err != nil {
			return err
		}
	}

	if d.strict {
		for _, subjects := range members {
			for _, s := range subjects {
				if _, ok := d.users[s]; !ok {
					return identity.ErrUserNotFound
				}
			}
		}
	}

	for group, subjects := range members {
		set, ok := d.members[group]
		if !ok {
			set = make(map[string]struct{})
			d.members[group] = set
		}
		for _, s := range subjects {
			set[s] = struct{}{}
		}
	}
	return nil
}

// Members returns the sorted subjects of a group.
func (d *Directory) Members(group string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.members[group]))
	for s := range d.members[group] {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GroupsOf returns the sorted groups a subject belongs to.
func (d *Directory) GroupsOf(subject string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for group, set := range d.members {
		if _, ok := set[subject]; ok {
			out = append(out, group)
		}
	}
	sort.Strings(out)
	return out
}

// AddMembersCalls returns how many times AddMembers was invoked.
func (d *Directory) AddMembersCalls() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addCalls
}

// RetrieveUserCalls returns how many times RetrieveUser was invoked.
func (d *Directory) RetrieveUserCalls() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.retrieveCalls
}

var _ identity.Directory = (*Directory)(nil)
