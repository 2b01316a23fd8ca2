package pipeline

import (
	"fmt"
	"sync"

	"github.com/mitchellh/copystructure"
)

// Parameter is a named, typed configuration value belonging to a Task
// (spec.md §3). Value holds the live setting; Original holds the value
// as configured at registration/injection time, deep-copied so later
// in-place mutation of Value can never corrupt the baseline used for
// "changed-from-original" reporting.
type Parameter struct {
	Name       string
	Value      any
	Original   any
	Editable   bool
	Advanced   bool

	mu        sync.RWMutex
	onChanged []func(any)
}

// NewParameter creates a registerable Parameter with its original value
// snapshotted from value.
func NewParameter(name string, value any, editable bool) *Parameter {
	return &Parameter{
		Name:     name,
		Value:    value,
		Original: snapshot(value),
		Editable: editable,
	}
}

// OnChanged registers a notification callback invoked whenever Set
// installs a new value.
func (p *Parameter) OnChanged(fn func(any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChanged = append(p.onChanged, fn)
}

// Set installs a new value and fires change notifications. markOriginal,
// when true, also resets Original to the new value (used when a
// parameters-change control payload is flagged as carrying "original
// values", spec.md §4.4 parameter registry).
func (p *Parameter) Set(value any, markOriginal bool) {
	p.mu.Lock()
	p.Value = value
	if markOriginal {
		p.Original = snapshot(value)
	}
	callbacks := append([]func(any){}, p.onChanged...)
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb(value)
	}
}

// ChangedFromOriginal reports whether the live value differs from the
// recorded original (spec.md §4.4, §8 invariant 9).
func (p *Parameter) ChangedFromOriginal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !valuesEqual(p.Value, p.Original)
}

func snapshot(v any) any {
	cp, err := copystructure.Copy(v)
	if err != nil {
		return v
	}
	return cp
}

func valuesEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// ParameterRegistry is the ordered, name-keyed collection of Parameters
// belonging to a Task (spec.md §3, §4.4).
type ParameterRegistry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*Parameter
}

// NewParameterRegistry creates an empty registry.
func NewParameterRegistry() *ParameterRegistry {
	return &ParameterRegistry{byName: map[string]*Parameter{}}
}

// Register inserts a Parameter, rejecting duplicate names (spec.md §4.4
// "registerParameter inserts (rejecting duplicates)").
func (r *ParameterRegistry) Register(p *Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[p.Name]; exists {
		return fmt.Errorf("pipeline: duplicate parameter registration %q", p.Name)
	}
	r.byName[p.Name] = p
	r.order = append(r.order, p.Name)
	return nil
}

// Get returns the named parameter and whether it exists.
func (r *ParameterRegistry) Get(name string) (*Parameter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// All returns every registered parameter in registration order.
func (r *ParameterRegistry) All() []*Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Parameter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// ApplyResult reports the outcome of applying a ParametersChangePayload.
type ApplyResult struct {
	Unknown []string // names with no registered parameter (logged, not fatal)
	Invalid string   // name of the first parameter whose value was rejected, if any
	Err     error     // the validation error for Invalid
}

// Apply batch-applies name/value pairs from a parameters-change control
// payload (spec.md §4.4 control-handler table). Unknown parameter names
// are recorded in the result and otherwise ignored; this function never
// itself decides failure policy — the Task's control handler does, using
// Invalid/Err to enter Failure with the parameter's error text.
func (r *ParameterRegistry) Apply(payload ParametersChangePayload, validate func(name string, value any) error) ApplyResult {
	var result ApplyResult

	for _, pv := range payload.Values {
		p, ok := r.Get(pv.Name)
		if !ok {
			result.Unknown = append(result.Unknown, pv.Name)
			continue
		}

		if validate != nil {
			if err := validate(pv.Name, pv.Value); err != nil {
				if result.Invalid == "" {
					result.Invalid = pv.Name
					result.Err = err
				}
				continue
			}
		}

		p.Set(pv.Value, payload.IsOriginal)
	}

	return result
}
