package dso

import (
	"runtime"
	"sync/atomic"
)

type (
	// PackedFunc is the generic calling convention shared by every Func.
	PackedFunc func(args ...any) (any, error)
	// Func is a callable exported by a Module.
	//
	// A Func keeps its owner alive: the owner is not destroyed before Release is called,
	// or before the Func becomes unreachable.
	Func struct {
		call     PackedFunc
		addr     uintptr
		owner    Module
		released atomic.Bool
	}
)

// NewFunc wraps call into a Func retaining owner. A nil owner makes a free standing Func.
func NewFunc(owner Module, call PackedFunc) *Func {
	return newFunc(owner, 0, call)
}

func newFunc(owner Module, addr uintptr, call PackedFunc) *Func {
	f := &Func{call: call, addr: addr, owner: owner}
	if owner != nil {
		owner.Retain()
		runtime.SetFinalizer(f, (*Func).Release)
	}
	return f
}

// dup returns a new Func over the same function, holding its own owner reference.
func (f *Func) dup() *Func {
	return newFunc(f.owner, f.addr, f.call)
}

// Call invokes the function with packed arguments.
func (f *Func) Call(args ...any) (any, error) {
	if f.released.Load() {
		return nil, &Error{Kind: KindReleased, Op: "call"}
	}
	v, err := f.call(args...)
	runtime.KeepAlive(f)
	return v, err
}

// Addr is the native address behind the Func, zero for Go functions.
func (f *Func) Addr() uintptr {
	return f.addr
}

// Owner is the Module kept alive by the Func.
func (f *Func) Owner() Module {
	return f.owner
}

// Released reports whether Release was called.
func (f *Func) Released() bool {
	return f.released.Load()
}

// Release drops the reference on the owner. Later calls are no-ops.
func (f *Func) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(f, nil)
	if f.owner == nil {
		return nil
	}
	return f.owner.Release()
}

// As adapts a Func to a typed Go function of one result.
func As[T any](f *Func) func(args ...any) (T, error) {
	return func(args ...any) (t T, err error) {
		var v any
		if v, err = f.Call(args...); err != nil {
			return
		}
		if v == nil {
			return
		}
		var ok bool
		if t, ok = v.(T); !ok {
			err = &Error{Kind: KindCall, Op: "as", Detail: "unexpected result type"}
		}
		return
	}
}
