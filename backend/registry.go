package backend

import (
	"sync"
)

// Registry counts the live contexts of a library. The library is
// initialized when the first context is created and finalized when the last
// one is destroyed. The execution policy is configured once per
// initialization, by the first setup.
type Registry struct {
	mu               sync.Mutex
	lib              Library
	live             int
	deviceConfigured bool
}

func NewRegistry(lib Library) *Registry {
	return &Registry{lib: lib}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry is the process wide registry over a NativeLibrary
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(NewNativeLibrary())
	})
	return defaultRegistry
}

func (reg *Registry) Library() Library { return reg.lib }

// Live is the number of contexts not yet destroyed
func (reg *Registry) Live() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.live
}

func (reg *Registry) acquire() (err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.live == 0 {
		if err = reg.lib.Init(); err != nil {
			return
		}
	}
	reg.live++
	return
}

func (reg *Registry) release() (err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.live == 0 {
		return ErrNotInitialized
	}
	reg.live--
	if reg.live == 0 {
		reg.deviceConfigured = false
		err = reg.lib.Finalize()
	}
	return
}

// configureExecution sets the library policy on the first call after
// initialization and ignores later calls
func (reg *Registry) configureExecution(useDevice bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.deviceConfigured {
		return
	}
	policy := Host
	if useDevice {
		policy = Device
	}
	reg.lib.SetExecution(policy)
	reg.deviceConfigured = true
}
