// Package registry holds the hierarchical state tree published on the bus.
// It is the single mutual-exclusion domain shared by the polling side
// (Publish/Update) and the externally driven side (RequestWrite/Read), so an
// observer never sees a half-applied batch.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDuplicatePath = errors.New("registry: path already registered")
	ErrUnknownPath   = errors.New("registry: unknown path")
	ErrNotWritable   = errors.New("registry: path is not writable")
)

// TextFunc renders a value for external display. It never affects stored
// precision.
type TextFunc func(name string, value any) string

// WriteHook decides whether an externally proposed write is accepted. It may
// return a coerced value; the returned value is what gets committed.
type WriteHook func(name string, value any) (any, bool)

// Change is one committed value change, as seen by listeners.
type Change struct {
	Name  string
	Value any
	Text  string
}

// Listener receives committed changes. A single Update transaction delivers
// all its changes in one call, in registration order.
type Listener func(changes []Change)

type cell struct {
	name     string
	value    any
	text     TextFunc
	writable bool
	onWrite  WriteHook
}

type Registry struct {
	mu        sync.Mutex
	cells     map[string]*cell
	order     []string
	listeners []Listener
}

func New() *Registry {
	return &Registry{
		cells: make(map[string]*cell),
	}
}

// Register adds one path. The full path set is registered once at startup;
// paths are never removed at runtime. Registration order is publication
// order.
func (r *Registry) Register(name string, initial any, text TextFunc, writable bool, onWrite WriteHook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cells[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, name)
	}
	r.cells[name] = &cell{
		name:     name,
		value:    initial,
		text:     text,
		writable: writable,
		onWrite:  onWrite,
	}
	r.order = append(r.order, name)
	return nil
}

// Subscribe adds a change listener. Listeners are called outside the registry
// lock and may call Read.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Read returns the current value and its display text.
func (r *Registry) Read(name string) (any, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cells[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownPath, name)
	}
	return c.value, c.renderText(), nil
}

// Names returns every registered path in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Publish unconditionally sets one value and notifies listeners. Internal
// write path: the cell's write hook is not consulted.
func (r *Registry) Publish(name string, value any) error {
	tx := r.Update()
	if err := tx.Set(name, value); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// RequestWrite is the external write path. The cell must be writable and its
// hook must accept the proposed value; a rejected write is dropped silently
// and the prior value retained.
func (r *Registry) RequestWrite(name string, proposed any) error {
	r.mu.Lock()
	c, ok := r.cells[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPath, name)
	}
	if !c.writable {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWritable, name)
	}
	value := proposed
	if c.onWrite != nil {
		coerced, ok := c.onWrite(name, proposed)
		if !ok {
			r.mu.Unlock()
			return nil
		}
		value = coerced
	}
	c.value = value
	changes := []Change{{Name: name, Value: value, Text: c.renderText()}}
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	notify(listeners, changes)
	return nil
}

// Update opens a change batch. All Set calls are staged and applied under one
// lock acquisition at Commit, so the whole batch becomes visible at once and
// listeners see it as a single notification in registration order.
func (r *Registry) Update() *Tx {
	return &Tx{
		reg:     r,
		pending: make(map[string]any),
	}
}

type Tx struct {
	reg     *Registry
	pending map[string]any
}

// Set stages one value. Fails fast on unknown paths so a schema typo cannot
// silently drop a metric.
func (tx *Tx) Set(name string, value any) error {
	tx.reg.mu.Lock()
	_, ok := tx.reg.cells[name]
	tx.reg.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, name)
	}
	tx.pending[name] = value
	return nil
}

// Commit applies the staged values and notifies listeners once. An empty
// transaction is a no-op.
func (tx *Tx) Commit() {
	if len(tx.pending) == 0 {
		return
	}
	r := tx.reg
	r.mu.Lock()
	changes := make([]Change, 0, len(tx.pending))
	for _, name := range r.order {
		value, ok := tx.pending[name]
		if !ok {
			continue
		}
		c := r.cells[name]
		c.value = value
		changes = append(changes, Change{Name: name, Value: value, Text: c.renderText()})
	}
	listeners := r.snapshotListeners()
	r.mu.Unlock()
	tx.pending = nil

	notify(listeners, changes)
}

func (r *Registry) snapshotListeners() []Listener {
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	return listeners
}

func notify(listeners []Listener, changes []Change) {
	if len(changes) == 0 {
		return
	}
	for _, l := range listeners {
		l(changes)
	}
}

func (c *cell) renderText() string {
	if c.text == nil {
		return fmt.Sprintf("%v", c.value)
	}
	return c.text(c.name, c.value)
}
