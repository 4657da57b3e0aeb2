package backend

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/notargets/gosles/sles"
	"github.com/notargets/gosles/utils"
)

// NativeVersion is reported by NativeLibrary.Info
const NativeVersion = "1.0.0"

// Library is the sparse solver library a Registry initializes once for all
// contexts
type Library interface {
	Init() error
	Finalize() error
	// SetExecution selects host or device defaults for methods created
	// afterwards. It is global to the library.
	SetExecution(policy ExecutionPolicy)
	NewMethod(t Type, role Role) (Method, error)
	Info() string
}

var (
	ErrNotInitialized     = errors.New("backend: library is not initialized")
	ErrAlreadyInitialized = errors.New("backend: library is already initialized")
)

// NativeLibrary implements every method type in Go
type NativeLibrary struct {
	mu          sync.Mutex
	initialized bool
	policy      ExecutionPolicy
}

func NewNativeLibrary() *NativeLibrary { return &NativeLibrary{} }

func (lib *NativeLibrary) Init() error {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	if lib.initialized {
		return ErrAlreadyInitialized
	}
	lib.initialized = true
	return nil
}

func (lib *NativeLibrary) Finalize() error {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	if !lib.initialized {
		return ErrNotInitialized
	}
	lib.initialized, lib.policy = false, Host
	return nil
}

func (lib *NativeLibrary) SetExecution(policy ExecutionPolicy) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	lib.policy = policy
}

func (lib *NativeLibrary) Execution() ExecutionPolicy {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	return lib.policy
}

// NewMethod creates a method with the defaults of its role: a preconditioner
// does a single iteration with no tolerance, a solver up to 1000 iterations
func (lib *NativeLibrary) NewMethod(t Type, role Role) (m Method, err error) {
	lib.mu.Lock()
	initialized, policy := lib.initialized, lib.policy
	lib.mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}
	if role == RoleSolver && t.IsPreconditionerOnly() {
		return nil, &sles.ConfigError{
			Reason: fmt.Sprintf("type (%s) is a preconditioner, not a solver", t),
		}
	}
	switch t {
	case BoomerAMG:
		m = newAMG(role, policy)
	case Hybrid:
		m = newHybrid(role, policy)
	case ILU:
		m = newILU(role, policy)
	case BiCGSTAB:
		m = newBiCGSTAB(role, policy)
	case GMRES, FlexGMRES, LGMRES:
		m = newGMRES(t, role, policy)
	case PCG:
		m = newPCG(role, policy)
	case Euclid:
		m = newEuclid(role, policy)
	case ParaSails:
		m = newParaSails(role, policy)
	default:
		return nil, &sles.ConfigError{
			Reason: fmt.Sprintf("solver type (%s) not currently handled", t),
		}
	}
	return
}

func (lib *NativeLibrary) Info() string {
	return fmt.Sprintf("gosles native %s (float64/float32 values, %s BLAS, %d threads)",
		NativeVersion, utils.BLASImplementation, runtime.NumCPU())
}
