package dso

import (
	"sync"
	"sync/atomic"
)

type (
	// Module is a unit of loaded code.
	//
	// A Module is reference counted: the creator holds one reference, released by Close,
	// and every Func obtained from it holds another. The backing resource is destroyed
	// exactly once, when the last reference goes away.
	Module interface {
		TypeKey() string                            //kind of the module, e.g. "so" or "host"
		GetFunction(name string) (*Func, error)     //resolve an exported function, ErrNotFound when absent
		GetFuncFromEnv(name string) (*Func, error)  //resolve through imports in order, then global functions
		Imports() []Module                          //nested modules in declaration order
		Import(m Module)                            //attach a nested module, the module takes ownership
		Retain()                                    //add a reference
		Release() error                             //drop a reference, destroying on the last one
		Close() error                               //drop the creator's reference, idempotent
	}
	// ModuleBase implements the ownership and import bookkeeping shared by every Module kind.
	// Embed it and call Init with the kind-specific destructor.
	ModuleBase struct {
		refs    atomic.Int64
		closed  atomic.Bool
		destroy func() error
		once    sync.Once
		err     error

		mu      sync.RWMutex
		imports []Module
		cache   map[string]*Func
	}
)

// Init arms the base with one reference owned by the creator.
func (b *ModuleBase) Init(destroy func() error) {
	b.refs.Store(1)
	b.destroy = destroy
}

func (b *ModuleBase) Imports() []Module {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Module, len(b.imports))
	copy(out, b.imports)
	return out
}

func (b *ModuleBase) Import(m Module) {
	b.mu.Lock()
	b.imports = append(b.imports, m)
	b.mu.Unlock()
}

// GetFuncFromEnv searches imports in declaration order, then the global functions.
// Resolution is memoised per name; each call returns a new Func the caller releases.
func (b *ModuleBase) GetFuncFromEnv(name string) (*Func, error) {
	b.mu.RLock()
	if f, ok := b.cache[name]; ok {
		b.mu.RUnlock()
		return f.dup(), nil
	}
	imports := b.imports
	b.mu.RUnlock()
	if b.Destroyed() {
		return nil, &Error{Kind: KindReleased, Op: "env", Name: name}
	}
	var found *Func
	for _, m := range imports {
		f, err := m.GetFunction(name)
		if err == nil {
			found = f
			break
		}
		if IsFatal(err) {
			return nil, err
		}
	}
	if found == nil {
		g, ok := Global(name)
		if !ok {
			return nil, notFound("env", name)
		}
		found = g
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.cache[name]; ok {
		_ = found.Release()
		return f.dup(), nil
	}
	if b.cache == nil {
		b.cache = make(map[string]*Func)
	}
	b.cache[name] = found
	return found.dup(), nil
}

func (b *ModuleBase) Retain() {
	if b.refs.Add(1) <= 1 {
		panic("dso: retain of a destroyed module")
	}
}

func (b *ModuleBase) Release() error {
	n := b.refs.Add(-1)
	switch {
	case n == 0:
		b.once.Do(func() { b.err = b.teardown() })
		return b.err
	case n < 0:
		panic("dso: module released more times than retained")
	}
	return nil
}

func (b *ModuleBase) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.Release()
}

// Destroyed reports whether the destructor already ran.
func (b *ModuleBase) Destroyed() bool {
	return b.refs.Load() <= 0
}

// References returns the live reference count.
func (b *ModuleBase) References() int64 {
	return b.refs.Load()
}

func (b *ModuleBase) teardown() (err error) {
	b.mu.Lock()
	cache, imports := b.cache, b.imports
	b.cache, b.imports = nil, nil
	b.mu.Unlock()
	for _, f := range cache {
		_ = f.Release()
	}
	// imports outlive the destructor: the artifact may call them while unloading
	if b.destroy != nil {
		err = b.destroy()
	}
	for _, m := range imports {
		if e := m.Close(); e != nil && err == nil {
			err = e
		}
	}
	return
}
