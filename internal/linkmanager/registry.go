// Package linkmanager describes how links are built from addresses. Each
// transport registers a Factory with a declarative attribute schema; an
// address such as ardulink://serial?port=/dev/ttyACM0 selects a factory by
// name and overlays attribute values on its defaults.
package linkmanager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shaunagostinho/ardulink-go/internal/link"
)

// Factory builds links for one transport.
type Factory struct {
	Name       string
	Aliases    []string
	Attributes []Attribute
	// Open builds a link from a config produced by Configure. The
	// returned link owns its connection.
	Open func(ctx context.Context, cfg Config) (*link.Link, error)
}

func (f Factory) attribute(name string) (Attribute, bool) {
	for _, a := range f.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Registry maps names and aliases to factories. It is safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	aliases   map[string]string
	order     []string
	def       string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
	}
}

// Register adds f. Names and aliases are case-insensitive and must be
// unique across the registry.
func (r *Registry) Register(f Factory) error {
	name := strings.ToLower(f.Name)
	if name == "" || name == DefaultName {
		return fmt.Errorf("linkmanager: invalid factory name %q", f.Name)
	}
	if f.Open == nil {
		return fmt.Errorf("linkmanager: factory %s has no Open", name)
	}
	seen := make(map[string]bool, len(f.Attributes))
	for _, a := range f.Attributes {
		if a.Name == "" || seen[a.Name] {
			return fmt.Errorf("linkmanager: factory %s: duplicate or empty attribute %q", name, a.Name)
		}
		seen[a.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	names := []string{name}
	for _, alias := range f.Aliases {
		names = append(names, strings.ToLower(alias))
	}
	for _, n := range names {
		if n == DefaultName {
			return fmt.Errorf("linkmanager: %q is reserved", DefaultName)
		}
		if _, ok := r.factories[n]; ok {
			return fmt.Errorf("linkmanager: %s is already registered", n)
		}
		if _, ok := r.aliases[n]; ok {
			return fmt.Errorf("linkmanager: %s is already registered", n)
		}
	}

	f.Name = name
	r.factories[name] = f
	for _, alias := range names[1:] {
		r.aliases[alias] = name
	}
	r.order = append(r.order, name)
	return nil
}

// SetDefault designates the factory that the name "default" resolves to.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	canonical, ok := r.canonical(strings.ToLower(name))
	if !ok {
		return fmt.Errorf("%w: unknown link %q", ErrAddress, name)
	}
	r.def = canonical
	return nil
}

// Lookup finds a factory by name or alias. "default" resolves to the
// designated default, else to "serial" when registered, else to the first
// factory registered.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := strings.ToLower(name)
	if n == DefaultName {
		n = r.defaultName()
		if n == "" {
			return Factory{}, fmt.Errorf("%w: no links registered", ErrAddress)
		}
	}
	canonical, ok := r.canonical(n)
	if !ok {
		return Factory{}, fmt.Errorf("%w: unknown link %q (have %s)", ErrAddress, name, strings.Join(r.order, ", "))
	}
	return r.factories[canonical], nil
}

func (r *Registry) canonical(n string) (string, bool) {
	if _, ok := r.factories[n]; ok {
		return n, true
	}
	c, ok := r.aliases[n]
	return c, ok
}

func (r *Registry) defaultName() string {
	switch {
	case r.def != "":
		return r.def
	case len(r.order) == 0:
		return ""
	}
	if _, ok := r.factories["serial"]; ok {
		return "serial"
	}
	return r.order[0]
}

// Names returns the canonical factory names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// Configure looks up name and overlays attrs on the factory's defaults.
// Unknown attributes and invalid values are rejected.
func (r *Registry) Configure(name string, attrs map[string]string) (Factory, Config, error) {
	f, err := r.Lookup(name)
	if err != nil {
		return Factory{}, Config{}, err
	}
	for k := range attrs {
		if _, ok := f.attribute(k); !ok {
			return Factory{}, Config{}, fmt.Errorf("%w: link %s has no attribute %q", ErrAddress, f.Name, k)
		}
	}
	values := make(map[string]string, len(f.Attributes))
	for _, a := range f.Attributes {
		v, err := a.normalize(attrs[a.Name])
		if err != nil {
			return Factory{}, Config{}, fmt.Errorf("link %s: %w", f.Name, err)
		}
		values[a.Name] = v
	}
	return f, Config{factory: f.Name, values: values}, nil
}

// Resolve parses uri and configures the factory it names.
func (r *Registry) Resolve(uri string) (Factory, Config, error) {
	addr, err := ParseAddress(uri)
	if err != nil {
		return Factory{}, Config{}, err
	}
	return r.Configure(addr.Name, addr.Params)
}
