// Package policy implements the versioned slicing-policy registry and
// the predicate expression grammar.
package policy

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rcliao/slicegate/internal/model"
	"github.com/rcliao/slicegate/internal/store"
)

// Errors surfaced by the registry.
var (
	// ErrNotFound reports an unknown policy id or version.
	ErrNotFound = errors.New("policy not found")
	// ErrInvalidSchema reports a policy spec that failed validation.
	ErrInvalidSchema = errors.New("invalid policy schema")
	// ErrNotLoaded reports a write attempted before the persisted policy
	// set has been loaded.
	ErrNotLoaded = errors.New("policy registry not loaded")
)

var policyIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Policy is a committed policy version with its compiled predicate.
type Policy struct {
	model.Policy
	pred expr
}

// Match evaluates the compiled predicate against a record. A policy
// without a predicate matches everything.
func (p *Policy) Match(r *model.Record) bool {
	if p.pred == nil {
		return true
	}
	return p.pred.eval(r)
}

// Registry holds all registered policy versions. Versions are
// append-only and immutable once committed; registration is
// single-writer while reads proceed concurrently against committed
// entries.
type Registry struct {
	backing store.PolicyStore

	writeMu sync.Mutex // serializes Register and Load

	mu       sync.RWMutex
	loaded   bool                 // persisted set has been read at least once
	versions map[string][]*Policy // id -> versions, index = version-1
	order    []*Policy            // registration order
}

// NewRegistry creates an empty registry persisting to backing.
func NewRegistry(backing store.PolicyStore) *Registry {
	return &Registry{
		backing:  backing,
		versions: make(map[string][]*Policy),
	}
}

// Load replaces the in-memory index with the persisted policy set.
// Called at startup; a failure blocks readiness. Load holds the write
// lock for its whole duration so a registration committed after the
// persisted read cannot be erased by the index replacement.
func (r *Registry) Load(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	persisted, err := r.backing.LoadPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	versions := make(map[string][]*Policy)
	var order []*Policy
	for _, mp := range persisted {
		p := &Policy{Policy: mp}
		if mp.Predicate != "" {
			pred, err := compilePredicate(mp.Predicate)
			if err != nil {
				return fmt.Errorf("policy %s v%d: compile predicate: %w", mp.ID, mp.Version, err)
			}
			p.pred = pred
		}
		if mp.Version != len(versions[mp.ID])+1 {
			return fmt.Errorf("policy %s: persisted versions out of order at v%d", mp.ID, mp.Version)
		}
		versions[mp.ID] = append(versions[mp.ID], p)
		order = append(order, p)
	}

	r.mu.Lock()
	r.loaded = true
	r.versions = versions
	r.order = order
	r.mu.Unlock()
	return nil
}

// Register validates spec, assigns the next version for its id,
// persists it, and commits it to the index. No partial registration:
// a validation or persistence failure leaves the registry unchanged.
// Registrations are refused until the persisted set has loaded, since
// versions assigned against an empty index would collide with
// persisted ones.
func (r *Registry) Register(ctx context.Context, spec model.PolicySpec) (*Policy, error) {
	p, err := buildPolicy(spec)
	if err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	loaded := r.loaded
	p.Version = len(r.versions[p.ID]) + 1
	r.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}
	p.CreatedAt = time.Now().UTC()

	if err := r.backing.SavePolicy(ctx, p.Policy); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.versions[p.ID] = append(r.versions[p.ID], p)
	r.order = append(r.order, p)
	r.mu.Unlock()
	return p, nil
}

// Resolve returns a policy version. Version 0 resolves the latest.
func (r *Registry) Resolve(id string, version int) (*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vs := r.versions[id]
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if version == 0 {
		return vs[len(vs)-1], nil
	}
	if version < 1 || version > len(vs) {
		return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, id, version)
	}
	return vs[version-1], nil
}

// List returns all committed policy versions in registration order.
func (r *Registry) List() []model.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Policy, len(r.order))
	for i, p := range r.order {
		out[i] = p.Policy
	}
	return out
}

// buildPolicy validates a spec and compiles its predicate. Runs
// outside any registry lock.
func buildPolicy(spec model.PolicySpec) (*Policy, error) {
	if !policyIDRe.MatchString(spec.ID) {
		return nil, fmt.Errorf("%w: id %q must match %s", ErrInvalidSchema, spec.ID, policyIDRe)
	}
	if spec.MaxWidth < 1 {
		return nil, fmt.Errorf("%w: max_width must be >= 1, got %d", ErrInvalidSchema, spec.MaxWidth)
	}
	if spec.MinSalience < 0 || spec.MinSalience > 1 {
		return nil, fmt.Errorf("%w: min_salience must be in [0,1], got %v", ErrInvalidSchema, spec.MinSalience)
	}

	ordering := spec.Ordering
	if ordering == "" {
		ordering = model.OrderingChronological
	}
	if !model.ValidOrderings[ordering] {
		return nil, fmt.Errorf("%w: unknown ordering %q", ErrInvalidSchema, ordering)
	}

	var window time.Duration
	if spec.MaxWindow != "" && spec.MaxWindow != "0" {
		var err error
		window, err = time.ParseDuration(spec.MaxWindow)
		if err != nil {
			return nil, fmt.Errorf("%w: max_window: %v", ErrInvalidSchema, err)
		}
		if window < 0 {
			return nil, fmt.Errorf("%w: max_window must be >= 0", ErrInvalidSchema)
		}
	}

	p := &Policy{Policy: model.Policy{
		ID:          spec.ID,
		MaxWidth:    spec.MaxWidth,
		MaxWindow:   window,
		MinSalience: spec.MinSalience,
		Ordering:    ordering,
		Predicate:   spec.Predicate,
		FollowLinks: spec.FollowLinks,
	}}
	if spec.Predicate != "" {
		pred, err := compilePredicate(spec.Predicate)
		if err != nil {
			return nil, fmt.Errorf("%w: predicate: %v", ErrInvalidSchema, err)
		}
		p.pred = pred
	}
	return p, nil
}
