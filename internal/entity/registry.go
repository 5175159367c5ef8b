package entity

import (
	"github.com/rotisserie/eris"
)

// Registry maps entity type names to their declarations.
type Registry struct {
	decls map[string]*Declaration
	order []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with every integrated entity.
func NewRegistry() *Registry {
	r := &Registry{
		decls: make(map[string]*Declaration),
	}

	r.Register(Department())
	r.Register(Person())
	r.Register(Asset())
	r.Register(Computer())
	r.Register(Group())
	r.Register(LabFund())

	return r
}

// Register adds a declaration to the registry.
func (r *Registry) Register(d *Declaration) {
	r.decls[d.Name] = d
	r.order = append(r.order, d.Name)
}

// Get returns a declaration by entity type name.
func (r *Registry) Get(name string) (*Declaration, error) {
	d, ok := r.decls[name]
	if !ok {
		return nil, eris.Errorf("entity: unknown entity type %q", name)
	}
	return d, nil
}

// Select returns the named declarations, or all of them when names is
// empty. Order follows the names argument, else registration order.
func (r *Registry) Select(names []string) ([]*Declaration, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	result := make([]*Declaration, 0, len(names))
	for _, name := range names {
		d, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// All returns all declarations in registration order.
func (r *Registry) All() []*Declaration {
	result := make([]*Declaration, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.decls[name])
	}
	return result
}

// AllNames returns the registered entity type names in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
