// Package registry is the scanner pool registry (§4.6): it loads instance
// config grouped by pool, hands out scanner capabilities under a
// least-active-scans (LRU tiebreak) selection policy, and supports
// re-reading configuration on a hot-reload signal without disrupting
// in-flight acquisitions.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scanorch/scanorch/internal/config"
	"github.com/scanorch/scanorch/internal/scanner"
)

// ErrNoEnabledInstances is returned by AcquireScanner when a pool has no
// usable instance.
var ErrNoEnabledInstances = errors.New("no enabled instances in pool")

// ErrUnknownPool and ErrUnknownInstance report a bad lookup.
var (
	ErrUnknownPool     = errors.New("unknown scanner pool")
	ErrUnknownInstance = errors.New("unknown scanner instance")
)

// Factory constructs the scanner.Scanner backend for one instance config.
// Production wiring supplies DefaultFactory, which picks the nessus or mock
// backend from the instance config; tests supply a mock factory.
type Factory func(cfg config.InstanceConfig) scanner.Scanner

type instance struct {
	config.InstanceConfig

	mu          sync.Mutex
	scanner     scanner.Scanner
	activeScans int
	lastUsed    time.Time
	removed     bool
}

func (i *instance) status() InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return InstanceStatus{
		InstanceID:         i.InstanceID,
		Name:               i.Name,
		Enabled:            i.EnabledOrDefault() && !i.removed,
		ActiveScans:        i.activeScans,
		MaxConcurrentScans: i.MaxConcurrentScans,
		LastUsed:           i.lastUsed,
	}
}

type pool struct {
	mu        sync.Mutex
	name      string
	instances map[string]*instance
}

// InstanceStatus is the per-instance utilization view GetPoolStatus reports.
type InstanceStatus struct {
	InstanceID         string
	Name               string
	Enabled            bool
	ActiveScans        int
	MaxConcurrentScans int
	LastUsed           time.Time
}

// PoolStatus is the totals-plus-per-instance view GetPoolStatus returns.
type PoolStatus struct {
	Pool           string
	TotalInstances int
	TotalActive    int
	Instances      []InstanceStatus
}

// Registry is the non-singleton scanner pool registry; callers construct
// one at startup and thread it through the worker and API layers.
type Registry struct {
	factory Factory

	mu          sync.RWMutex
	pools       map[string]*pool
	poolOrder   []string
	defaultPool string

	keys   map[string]acquireKey
	keysMu sync.Mutex
}

type acquireKey struct {
	pool       string
	instanceID string
}

func New(cfg *config.Config, factory Factory) *Registry {
	r := &Registry{
		factory: factory,
		pools:   make(map[string]*pool),
		keys:    make(map[string]acquireKey),
	}
	r.load(cfg)
	return r
}

func (r *Registry) load(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.poolOrder = nil
	for _, pc := range cfg.Pools {
		r.poolOrder = append(r.poolOrder, pc.Name)
		p, ok := r.pools[pc.Name]
		if !ok {
			p = &pool{name: pc.Name, instances: make(map[string]*instance)}
			r.pools[pc.Name] = p
		}
		p.mu.Lock()
		seen := make(map[string]bool, len(pc.Instances))
		for _, ic := range pc.Instances {
			seen[ic.InstanceID] = true
			if existing, ok := p.instances[ic.InstanceID]; ok {
				existing.mu.Lock()
				existing.InstanceConfig = ic
				existing.removed = false
				existing.mu.Unlock()
				continue
			}
			p.instances[ic.InstanceID] = &instance{InstanceConfig: ic}
		}
		for id, inst := range p.instances {
			if !seen[id] {
				inst.mu.Lock()
				inst.removed = true
				drain := inst.activeScans == 0
				inst.mu.Unlock()
				if drain {
					delete(p.instances, id)
				}
			}
		}
		p.mu.Unlock()
	}
	if len(cfg.Pools) > 0 {
		r.defaultPool = cfg.Pools[0].Name
	}
}

// Reload re-reads configuration: live instances are kept (carrying over
// active_scans/last_used), new ones are added, and disabled/removed ones
// stop being selectable. An instance with in-flight acquisitions is kept
// around (marked removed) until ReleaseScanner drains it to zero.
func (r *Registry) Reload(cfg *config.Config) {
	r.load(cfg)
}

func (r *Registry) ListPools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.poolOrder))
	copy(out, r.poolOrder)
	return out
}

func (r *Registry) GetDefaultPool() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultPool
}

func (r *Registry) getPool(name string) (*pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, name)
	}
	return p, nil
}

// ListInstances returns every instance in pool, enabled or not.
func (r *Registry) ListInstances(poolName string) ([]InstanceStatus, error) {
	p, err := r.getPool(poolName)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]InstanceStatus, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst.status())
	}
	return out, nil
}

func (r *Registry) GetPoolStatus(poolName string) (PoolStatus, error) {
	p, err := r.getPool(poolName)
	if err != nil {
		return PoolStatus{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	status := PoolStatus{Pool: poolName}
	for _, inst := range p.instances {
		is := inst.status()
		status.Instances = append(status.Instances, is)
		status.TotalInstances++
		status.TotalActive += is.ActiveScans
	}
	return status, nil
}

// AcquireScanner picks an instance and returns its capability plus an
// opaque key for ReleaseScanner. With instanceID given, that exact instance
// is used (if enabled). Otherwise the instance with the lowest
// active_scans wins, ties broken by least-recently-used.
func (r *Registry) AcquireScanner(poolName, instanceID string) (scanner.Scanner, string, error) {
	p, err := r.getPool(poolName)
	if err != nil {
		return nil, "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var chosen *instance
	if instanceID != "" {
		inst, ok := p.instances[instanceID]
		if !ok || inst.removed || !inst.EnabledOrDefault() {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
		}
		chosen = inst
	} else {
		for _, inst := range p.instances {
			inst.mu.Lock()
			eligible := !inst.removed && inst.EnabledOrDefault()
			inst.mu.Unlock()
			if !eligible {
				continue
			}
			if chosen == nil || isBetterCandidate(inst, chosen) {
				chosen = inst
			}
		}
		if chosen == nil {
			return nil, "", ErrNoEnabledInstances
		}
	}

	chosen.mu.Lock()
	if chosen.scanner == nil {
		chosen.scanner = r.factory(chosen.InstanceConfig)
	}
	chosen.activeScans++
	chosen.lastUsed = time.Now()
	backend := chosen.scanner
	chosen.mu.Unlock()

	key := fmt.Sprintf("%s:%s", poolName, chosen.InstanceID)
	r.keysMu.Lock()
	r.keys[key] = acquireKey{pool: poolName, instanceID: chosen.InstanceID}
	r.keysMu.Unlock()

	return backend, key, nil
}

// isBetterCandidate reports whether candidate should replace current as the
// pick: lower active_scans wins; a tie is broken by less-recently-used.
func isBetterCandidate(candidate, current *instance) bool {
	candidate.mu.Lock()
	cActive, cLast := candidate.activeScans, candidate.lastUsed
	candidate.mu.Unlock()
	current.mu.Lock()
	curActive, curLast := current.activeScans, current.lastUsed
	current.mu.Unlock()

	if cActive != curActive {
		return cActive < curActive
	}
	return cLast.Before(curLast)
}

// ReleaseScanner decrements active_scans for the instance key identifies,
// never going below zero.
func (r *Registry) ReleaseScanner(key string) error {
	r.keysMu.Lock()
	ak, ok := r.keys[key]
	r.keysMu.Unlock()
	if !ok {
		return fmt.Errorf("unknown acquire key: %s", key)
	}

	p, err := r.getPool(ak.pool)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[ak.instanceID]
	if !ok {
		return nil
	}
	inst.mu.Lock()
	if inst.activeScans > 0 {
		inst.activeScans--
	}
	drained := inst.removed && inst.activeScans == 0
	inst.mu.Unlock()
	if drained {
		delete(p.instances, ak.instanceID)
	}
	return nil
}
