// Package modules contains the module system used to wire up the components of
// a consensus node. The module system ensures that each component has access to
// the other components it depends on.
//
// To access other modules from a struct, implement the Module interface from
// this package. The InitModule method gives the struct a pointer to the Core
// object, which can be used to obtain pointers to the other modules.
// If a module interacts with the event loop,
// InitModule is the preferred location to register event handlers.
//
// To set up the module system, create a Builder, add all modules to it,
// and call Build:
//
//	builder := modules.NewBuilder()
//	builder.Add(logging.New("node1"), otherModule)
//	mods := builder.Build()
//
// After building, use TryGet or Get to obtain pointers to modules:
//
//	var dag *dagstate.DagState
//	mods.Get(&dag)
package modules

import (
	"fmt"
	"reflect"
)

// Module is an interface for modules that need access to other modules.
type Module interface {
	// InitModule gives the module access to the other modules.
	InitModule(mods *Core)
}

// Core is the base of the module system. It contains the modules registered
// with the Builder that created it.
type Core struct {
	modules []any
}

// TryGet attempts to find a module for ptr.
// TryGet returns true if a module was stored in ptr, false otherwise.
//
// NOTE: ptr must be a non-nil pointer to a type that has been provided to the module system.
func (mods *Core) TryGet(ptr any) bool {
	v := reflect.ValueOf(ptr)
	if !v.IsValid() {
		panic("nil value given")
	}
	pt := v.Type()
	if pt.Kind() != reflect.Ptr {
		panic("only pointer values allowed")
	}

	for _, m := range mods.modules {
		mv := reflect.ValueOf(m)
		if mv.Type().AssignableTo(pt.Elem()) {
			v.Elem().Set(mv)
			return true
		}
	}

	return false
}

// Get finds compatible modules for the given pointers.
//
// NOTE: pointers must only contain non-nil pointers to types that have been
// provided to the module system.
// Get panics if one of the given arguments is not a pointer,
// or if a compatible module is not found.
func (mods *Core) Get(pointers ...any) {
	if len(pointers) == 0 {
		panic("no pointers given")
	}
	for _, ptr := range pointers {
		if !mods.TryGet(ptr) {
			panic(fmt.Sprintf("module of type %s not found", reflect.TypeOf(ptr).Elem()))
		}
	}
}

// Builder is a helper for setting up the module system.
type Builder struct {
	core    Core
	modules []Module
}

// NewBuilder returns a new builder.
func NewBuilder() Builder {
	return Builder{}
}

// Add adds modules to the builder.
func (b *Builder) Add(modules ...any) {
	b.core.modules = append(b.core.modules, modules...)
	for _, module := range modules {
		if m, ok := module.(Module); ok {
			b.modules = append(b.modules, m)
		}
	}
}

// Build initializes all added modules and returns the Core object.
func (b *Builder) Build() *Core {
	// reverse the order of the added modules so that TryGet finds the
	// latest added module first, allowing overrides.
	for i, j := 0, len(b.core.modules)-1; i < j; i, j = i+1, j-1 {
		b.core.modules[i], b.core.modules[j] = b.core.modules[j], b.core.modules[i]
	}
	for _, module := range b.modules {
		module.InitModule(&b.core)
	}
	return &b.core
}
