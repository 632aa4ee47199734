// Package scheduler is the process-wide runtime that owns every worker
// pool this library spins up: one single-worker I/O pool per protocol
// engine instance, one shared priority-tiered pipeline pool for
// connection-lifecycle callbacks, and one shared utility pool for
// best-effort background work (health-check sweeps, stat collection).
//
// A lazily-initialized singleton reached through Instance() exposes
// Initialize/Shutdown/CreateIOPool/GetPipelinePool/GetUtilityPool/
// Statistics, with explicit error returns and goroutine worker pools
// guarded by sync.Mutex rather than exceptions and OS threads.
package scheduler

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
)

// Statistics snapshots the runtime's pool occupancy.
type Statistics struct {
	IsInitialized     bool
	TotalIOPools      int
	ActiveIOWorkers   int
	PipelineQueueSize int
	PipelineWorkers   int
	UtilityQueueSize  int
	UtilityWorkers    int
}

// Runtime owns the scheduler's pools. Obtain it via Instance(); it is a
// process-wide singleton, like its C++ counterpart.
type Runtime struct {
	mu            sync.Mutex
	initialized   bool
	pipelinePool  *Pool
	utilityPool   *Pool
	ioPools       map[string]*Pool
}

var (
	instance     *Runtime
	instanceOnce sync.Once
)

// Instance returns the process-wide scheduler singleton.
func Instance() *Runtime {
	instanceOnce.Do(func() {
		instance = &Runtime{ioPools: make(map[string]*Pool)}
	})
	return instance
}

// Initialize starts the pipeline and utility pools. pipelineWorkers and
// utilityWorkers of 0 default to runtime.NumCPU() and NumCPU()/2
// respectively (rounded up to at least 1), matching
// constants.DefaultPipelinePoolMultiplier and
// constants.DefaultUtilityPoolDivisor. Calling Initialize twice without
// an intervening Shutdown returns a lifecycle error.
func (r *Runtime) Initialize(pipelineWorkers, utilityWorkers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errors.NewLifecycleError("scheduler.initialize", "already initialized")
	}

	if pipelineWorkers <= 0 {
		pipelineWorkers = runtime.NumCPU() * constants.DefaultPipelinePoolMultiplier
	}
	if utilityWorkers <= 0 {
		utilityWorkers = runtime.NumCPU() / constants.DefaultUtilityPoolDivisor
		if utilityWorkers < 1 {
			utilityWorkers = 1
		}
	}

	r.pipelinePool = NewPool("pipeline_pool", pipelineWorkers)
	r.utilityPool = NewPool("utility_pool", utilityWorkers)
	r.ioPools = make(map[string]*Pool)
	r.initialized = true
	return nil
}

// Shutdown stops every pool the runtime owns: I/O pools first, then the
// pipeline pool, then the utility pool. I/O pools are joined concurrently
// since each is independent; the pipeline and utility pools still drain
// in sequence
// after them. Idempotent.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return
	}

	var g errgroup.Group
	for _, pool := range r.ioPools {
		pool := pool
		g.Go(func() error {
			pool.Stop()
			return nil
		})
	}
	g.Wait()
	r.ioPools = make(map[string]*Pool)

	if r.pipelinePool != nil {
		r.pipelinePool.Stop()
		r.pipelinePool = nil
	}
	if r.utilityPool != nil {
		r.utilityPool.Stop()
		r.utilityPool = nil
	}
	r.initialized = false
}

// CreateIOPool creates a dedicated single-worker pool for one protocol
// engine instance, keyed by componentName. Creating a pool under a name
// already in use replaces the prior one, stopping it first.
func (r *Runtime) CreateIOPool(componentName string) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, errors.NewLifecycleError("scheduler.create_io_pool", "scheduler not initialized")
	}

	if existing, ok := r.ioPools[componentName]; ok {
		existing.Stop()
	}

	pool := NewPool(fmt.Sprintf("io_pool:%s", componentName), 1)
	r.ioPools[componentName] = pool
	return pool, nil
}

// GetPipelinePool returns the shared pipeline pool.
func (r *Runtime) GetPipelinePool() (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, errors.NewLifecycleError("scheduler.get_pipeline_pool", "scheduler not initialized")
	}
	return r.pipelinePool, nil
}

// GetUtilityPool returns the shared utility pool.
func (r *Runtime) GetUtilityPool() (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, errors.NewLifecycleError("scheduler.get_utility_pool", "scheduler not initialized")
	}
	return r.utilityPool, nil
}

// Statistics reports current pool occupancy. Safe to call whether or not
// the runtime is initialized.
func (r *Runtime) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Statistics{IsInitialized: r.initialized, TotalIOPools: len(r.ioPools)}
	if !r.initialized {
		return stats
	}

	for _, pool := range r.ioPools {
		stats.ActiveIOWorkers += pool.WorkerCount()
	}
	if r.pipelinePool != nil {
		stats.PipelineQueueSize = r.pipelinePool.PendingCount()
		stats.PipelineWorkers = r.pipelinePool.WorkerCount()
	}
	if r.utilityPool != nil {
		stats.UtilityQueueSize = r.utilityPool.PendingCount()
		stats.UtilityWorkers = r.utilityPool.WorkerCount()
	}
	return stats
}

// IsInitialized reports whether Initialize has been called without a
// matching Shutdown.
func (r *Runtime) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}
