package graph

import (
	"sort"

	"github.com/born-ml/graphfreeze/internal/backend/cpu"
	"github.com/born-ml/graphfreeze/internal/tensor"
	sync "github.com/sasha-s/go-deadlock"
)

// Kernel computes a node's outputs from its evaluated data inputs.
type Kernel func(ctx *Context, node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)

// OpDef describes an op type.
type OpDef struct {
	Type       string
	NumInputs  int // -1 means any number
	NumOutputs int
	// RefInput marks ops whose first input is a variable reference.
	// That input is passed to the kernel as nil and never evaluated.
	RefInput bool
	Kernel   Kernel
}

// Context carries what kernels need beyond their inputs.
type Context struct {
	Backend *cpu.CPUBackend
	session *Session
}

// Variable reads a variable's current value from the running session.
func (c *Context) Variable(name string) (*tensor.Tensor, error) {
	return c.session.variable(name)
}

// Assign sets a variable's value in the running session.
func (c *Context) Assign(name string, value *tensor.Tensor) {
	c.session.assign(name, value)
}

// Registry maps op types to their definitions.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]OpDef
}

// NewRegistry creates a registry with all built-in ops.
func NewRegistry() *Registry {
	r := &Registry{ops: make(map[string]OpDef)}
	r.registerStateOps()
	r.registerMathOps()
	r.registerNNOps()
	r.registerArrayOps()
	return r
}

// Register adds or replaces an op.
func (r *Registry) Register(def OpDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[def.Type] = def
}

// Get returns the definition for an op type.
func (r *Registry) Get(opType string) (OpDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.ops[opType]
	return def, ok
}

// SupportedOps returns all registered op types, sorted.
func (r *Registry) SupportedOps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.ops))
	for op := range r.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

var defaultRegistry = NewRegistry()

// RegisterOp adds an op to the registry graphs are validated against.
func RegisterOp(def OpDef) { defaultRegistry.Register(def) }

// LookupOp returns the definition for an op type.
func LookupOp(opType string) (OpDef, bool) { return defaultRegistry.Get(opType) }

// SupportedOps lists the op types graphs may contain.
func SupportedOps() []string { return defaultRegistry.SupportedOps() }
