package dso

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// fakeLibrary is a NativeLibrary whose symbols live in Go memory.
// Function symbols are addresses that must never be called.
type fakeLibrary struct {
	mu     sync.Mutex
	syms   map[string]uintptr
	keep   []any
	closes atomic.Int32
}

func newFake() *fakeLibrary {
	return &fakeLibrary{syms: map[string]uintptr{}}
}

func (f *fakeLibrary) data(name string, b []byte) *fakeLibrary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keep = append(f.keep, b)
	f.syms[name] = uintptr(unsafe.Pointer(&b[0]))
	return f
}

func (f *fakeLibrary) str(name, value string) *fakeLibrary {
	return f.data(name, append([]byte(value), 0))
}

func (f *fakeLibrary) slot(name string) *uintptr {
	p := new(uintptr)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keep = append(f.keep, p)
	f.syms[name] = uintptr(unsafe.Pointer(p))
	return p
}

func (f *fakeLibrary) function(names ...string) *fakeLibrary {
	for _, name := range names {
		f.slot(name)
	}
	return f
}

func (f *fakeLibrary) Symbol(name string) uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syms[name]
}

func (f *fakeLibrary) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeLibrary) opener() Option {
	return WithOpener(func(string) (NativeLibrary, error) {
		return f, nil
	})
}

// counting is a Module counting its destructions.
type counting struct {
	*HostModule
	destroyed *atomic.Int32
}

func newCounting(name string, funcs map[string]PackedFunc) *counting {
	c := &counting{HostModule: &HostModule{name: name, funcs: funcs}, destroyed: new(atomic.Int32)}
	c.Init(func() error {
		c.destroyed.Add(1)
		return nil
	})
	return c
}

func constant(v any) PackedFunc {
	return func(args ...any) (any, error) {
		return v, nil
	}
}
