// Package constraint holds named, stateful eligibility rules and their
// per-worker values.
//
// A value cell for (constraint, worker) is created the first time the
// constraint is evaluated for that worker, using InitialValue. Afterwards it
// only changes through feedback deltas or SetAll. Every cell is guarded by its
// own mutex so concurrent jobs sharing a worker never lose a delta.
package constraint

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/herd/internal/pool"
)

var ErrInvalidDef = errors.New("invalid constraint definition")

// Outcome selects which feedback function applies.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// DeltaFunc returns the additive adjustment for a settled job. The bool is
// false when no adjustment should be made.
type DeltaFunc func(args any) (float64, bool)

// Def is a constraint definition as supplied by the caller. A panic in any of
// its functions fails only the job being dispatched; the dispatcher recovers
// it.
type Def struct {
	Name         string
	InitialValue func(workerIndex int) float64
	Test         func(w *pool.Worker, value float64, args any) bool
	OnSuccess    DeltaFunc
	OnFailure    DeltaFunc
}

// Validate reports why a definition cannot be registered.
func (d Def) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDef)
	case d.Test == nil:
		return fmt.Errorf("%w: %s: test is required", ErrInvalidDef, d.Name)
	case d.OnSuccess == nil && d.OnFailure == nil:
		return fmt.Errorf("%w: %s: one of on_success or on_failure is required", ErrInvalidDef, d.Name)
	case d.InitialValue == nil:
		return fmt.Errorf("%w: %s: initial value is required", ErrInvalidDef, d.Name)
	}
	return nil
}

// Const returns a DeltaFunc that always yields v.
func Const(v float64) DeltaFunc {
	return func(any) (float64, bool) { return v, true }
}

type cell struct {
	mu    sync.Mutex
	value float64
}

type entry struct {
	def Def

	mu    sync.Mutex
	cells map[int]*cell
}

func (e *entry) cell(index int) (*cell, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cells[index]
	return c, ok
}

// cellOrInit returns the cell for index, creating it with InitialValue on
// first use. InitialValue runs at most once per cell.
func (e *entry) cellOrInit(index int) *cell {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.cells[index]; ok {
		return c
	}
	c := &cell{value: e.def.InitialValue(index)}
	e.cells[index] = c
	return c
}

// Registry owns constraint definitions and value arrays for one scheduler.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds def, replacing any existing constraint with the same name and
// discarding its values.
func (r *Registry) Register(def Def) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.entries[def.Name] = &entry{def: def, cells: make(map[int]*cell)}
	r.mu.Unlock()
	return nil
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns registered constraint names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate tests w against the named constraint. Unregistered names pass:
// jobs may keep referencing constraints that have not been (or are no longer)
// registered.
func (r *Registry) Evaluate(name string, w *pool.Worker, args any) bool {
	return r.Bind(name).Evaluate(w, args)
}

// ApplyFeedback adds the delta for outcome to w's value and reports whether a
// delta was applied. It does nothing when the constraint is unknown, the delta
// is absent, or the cell was never initialized.
func (r *Registry) ApplyFeedback(name string, w *pool.Worker, args any, outcome Outcome) bool {
	e, ok := r.lookup(name)
	if !ok {
		return false
	}
	return e.apply(w.Index, args, outcome)
}

// Binding pins one registration of a constraint. The dispatcher binds a job's
// constraints when it selects workers; feedback through the binding is
// dropped once the name has been re-registered, so the reset wins over jobs
// that were already running.
type Binding struct {
	name string
	reg  *Registry
	e    *entry
}

// Bind pins the current registration of name. Binding an unregistered name
// is allowed: it passes every test and never applies feedback.
func (r *Registry) Bind(name string) Binding {
	e, _ := r.lookup(name)
	return Binding{name: name, reg: r, e: e}
}

func (b Binding) Name() string { return b.name }

// Evaluate tests w, initializing its cell on first use.
func (b Binding) Evaluate(w *pool.Worker, args any) bool {
	if b.e == nil {
		return true
	}
	c := b.e.cellOrInit(w.Index)
	c.mu.Lock()
	v := c.value
	c.mu.Unlock()
	return b.e.def.Test(w, v, args)
}

// ApplyFeedback applies the outcome delta if the pinned registration is still
// current. It reports whether a delta was applied.
func (b Binding) ApplyFeedback(w *pool.Worker, args any, outcome Outcome) bool {
	if b.e == nil {
		return false
	}
	if cur, ok := b.reg.lookup(b.name); !ok || cur != b.e {
		return false
	}
	return b.e.apply(w.Index, args, outcome)
}

func (e *entry) apply(index int, args any, outcome Outcome) bool {
	fn := e.def.OnSuccess
	if outcome == Failure {
		fn = e.def.OnFailure
	}
	if fn == nil {
		return false
	}
	delta, ok := fn(args)
	if !ok {
		return false
	}

	c, ok := e.cell(index)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
	return true
}

// SetAll overwrites every initialized value of the named constraint. Workers
// that were never evaluated stay lazy. Returns false for unknown names.
func (r *Registry) SetAll(name string, value float64) bool {
	e, ok := r.lookup(name)
	if !ok {
		return false
	}

	e.mu.Lock()
	cells := make([]*cell, 0, len(e.cells))
	for _, c := range e.cells {
		cells = append(cells, c)
	}
	e.mu.Unlock()

	for _, c := range cells {
		c.mu.Lock()
		c.value = value
		c.mu.Unlock()
	}
	return true
}

// Value returns the stored value for (name, index). The bool is false when
// the constraint is unknown or the cell has not been initialized.
func (r *Registry) Value(name string, index int) (float64, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return 0, false
	}
	c, ok := e.cell(index)
	if !ok {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, true
}

// Snapshot copies all initialized values of the named constraint.
func (r *Registry) Snapshot(name string) (map[int]float64, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	cells := make(map[int]*cell, len(e.cells))
	for idx, c := range e.cells {
		cells[idx] = c
	}
	e.mu.Unlock()

	out := make(map[int]float64, len(cells))
	for idx, c := range cells {
		c.mu.Lock()
		out[idx] = c.value
		c.mu.Unlock()
	}
	return out, true
}
