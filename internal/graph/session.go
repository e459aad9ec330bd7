package graph

import (
	"errors"
	"fmt"

	"github.com/born-ml/graphfreeze/internal/backend/cpu"
	"github.com/born-ml/graphfreeze/internal/graphdef"
	"github.com/born-ml/graphfreeze/internal/tensor"
	sync "github.com/sasha-s/go-deadlock"
)

// Session evaluates a graph and owns the values of its variables.
//
// Run may be called concurrently; variable reads and writes are serialized
// through the session's store.
type Session struct {
	graph   *Graph
	backend *cpu.CPUBackend

	mu   sync.RWMutex
	vars map[string]*tensor.Tensor
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithBackend sets the kernel backend. Defaults to cpu.New().
func WithBackend(b *cpu.CPUBackend) SessionOption {
	return func(s *Session) { s.backend = b }
}

// NewSession creates a session over g with no initialized variables.
func NewSession(g *Graph, opts ...SessionOption) *Session {
	s := &Session{
		graph:   g,
		backend: cpu.New(),
		vars:    make(map[string]*tensor.Tensor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Graph returns the session's graph.
func (s *Session) Graph() *Graph { return s.graph }

func (s *Session) variable(name string) (*tensor.Tensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUninitialized, name)
	}
	return v, nil
}

func (s *Session) assign(name string, value *tensor.Tensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// Restore assigns variable values by variable node name, e.g. from a
// checkpoint. Every name must be a variable of the graph with a matching
// dtype and shape.
func (s *Session) Restore(values map[string]*tensor.Tensor) error {
	for name, value := range values {
		n := s.graph.Node(name)
		if n == nil {
			return fmt.Errorf("restore %s: %w", name, ErrNodeNotFound)
		}
		if !isVariable(n) {
			return fmt.Errorf("restore %s: node is a %s, not a variable", name, n.Type())
		}
		if err := checkAssignable(n, value, true); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range values {
		s.vars[name] = value
	}
	return nil
}

// Run evaluates fetches after feeding feeds, and runs targets for their side
// effects. Only nodes the fetches and targets depend on, through data or
// control edges, are executed. A fed tensor is never computed.
func (s *Session) Run(feeds map[Output]*tensor.Tensor, fetches []Output, targets []*Node) ([]*tensor.Tensor, error) {
	for o, t := range feeds {
		if err := checkFeed(o, t); err != nil {
			return nil, err
		}
	}

	r := &run{
		ctx:      &Context{Backend: s.backend, session: s},
		fed:      feeds,
		done:     make(map[*Node][]*tensor.Tensor),
		visiting: make(map[*Node]bool),
	}
	for _, n := range targets {
		if _, err := r.execute(n); err != nil {
			return nil, err
		}
	}
	out := make([]*tensor.Tensor, len(fetches))
	for i, o := range fetches {
		t, err := r.output(o)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// RunNamed is Run with tensor and node names.
func (s *Session) RunNamed(feeds map[string]*tensor.Tensor, fetches, targets []string) ([]*tensor.Tensor, error) {
	feedOutputs := make(map[Output]*tensor.Tensor, len(feeds))
	for name, t := range feeds {
		o, err := s.graph.Tensor(name)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", name, err)
		}
		feedOutputs[o] = t
	}
	fetchOutputs := make([]Output, len(fetches))
	for i, name := range fetches {
		o, err := s.graph.Tensor(name)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", name, err)
		}
		fetchOutputs[i] = o
	}
	targetNodes := make([]*Node, len(targets))
	for i, name := range targets {
		n := s.graph.Node(name)
		if n == nil {
			return nil, fmt.Errorf("target %s: %w", name, ErrNodeNotFound)
		}
		targetNodes[i] = n
	}
	return s.Run(feedOutputs, fetchOutputs, targetNodes)
}

// checkFeed validates a value fed to a placeholder against its declared
// dtype and shape. Other fed tensors are taken as given.
func checkFeed(o Output, t *tensor.Tensor) error {
	if o.Node == nil || t == nil {
		return errors.New("feed: nil output or value")
	}
	if o.Node.Type() != "Placeholder" {
		return nil
	}
	if a, ok := o.Node.Attr("dtype"); ok {
		want, err := graphdef.TensorType(a.GetType())
		if err != nil {
			return fmt.Errorf("placeholder %s: %w", o.Node.Name(), err)
		}
		if t.DType() != want {
			return fmt.Errorf("placeholder %s expects %s, fed %s", o.Node.Name(), want, t.DType())
		}
	}
	if a, ok := o.Node.Attr("shape"); ok && a.GetShape() != nil && !a.GetShape().GetUnknownRank() {
		if want := tensor.Shape(graphdef.Dims(a.GetShape())); !want.Compatible(t.Shape()) {
			return fmt.Errorf("placeholder %s expects shape %v, fed %v", o.Node.Name(), want, t.Shape())
		}
	}
	return nil
}

// run is the state of one Session.Run call.
type run struct {
	ctx      *Context
	fed      map[Output]*tensor.Tensor
	done     map[*Node][]*tensor.Tensor
	visiting map[*Node]bool
}

func (r *run) output(o Output) (*tensor.Tensor, error) {
	if t, ok := r.fed[o]; ok {
		return t, nil
	}
	outs, err := r.execute(o.Node)
	if err != nil {
		return nil, err
	}
	if o.Index >= len(outs) {
		return nil, fmt.Errorf("%w: %s produced %d outputs", ErrInvalidInput, o.Name(), len(outs))
	}
	return outs[o.Index], nil
}

func (r *run) execute(n *Node) ([]*tensor.Tensor, error) {
	if outs, ok := r.done[n]; ok {
		return outs, nil
	}
	if n.NumOutputs() == 1 {
		if t, ok := r.fed[n.Output(0)]; ok {
			r.done[n] = []*tensor.Tensor{t}
			return r.done[n], nil
		}
	}
	if r.visiting[n] {
		return nil, fmt.Errorf("%w: cycle through %s", ErrInvalidInput, n.Name())
	}
	r.visiting[n] = true
	defer delete(r.visiting, n)

	for _, c := range n.control {
		if _, err := r.execute(c); err != nil {
			return nil, err
		}
	}
	inputs := make([]*tensor.Tensor, len(n.inputs))
	for i, in := range n.inputs {
		if i == 0 && n.op.RefInput {
			continue
		}
		t, err := r.output(in)
		if err != nil {
			return nil, err
		}
		inputs[i] = t
	}

	outs, err := n.op.Kernel(r.ctx, n, inputs)
	if err != nil {
		if errors.Is(err, ErrUninitialized) || errors.Is(err, ErrMissingFeed) {
			return nil, err
		}
		return nil, fmt.Errorf("node %s (%s): %w", n.Name(), n.Type(), err)
	}
	r.done[n] = outs
	return outs, nil
}
