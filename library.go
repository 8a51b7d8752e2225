package dso

import (
	"sync"

	"go.uber.org/zap"
)

// TypeKeyDSO is the type key of modules backed by a platform shared library. Such
// modules load through the "so", "dll" and "dylib" file formats.
const TypeKeyDSO = "dso"

type (
	// Library is a Module backed by a platform shared library.
	//
	// Open runs to completion before the Library is returned; afterwards GetFunction may be
	// called from any goroutine. The native library is unloaded exactly once, after Close and
	// after every Func obtained from it has been released.
	Library struct {
		ModuleBase
		native NativeLibrary
		path   string
		id     uintptr
		log    *zap.Logger

		errMu   sync.Mutex
		lastErr string
	}
	// Option configures Open.
	Option  func(*options)
	options struct {
		opener Opener
		log    *zap.Logger
	}
)

// WithOpener replaces the platform loader, the default is OpenNative.
func WithOpener(o Opener) Option {
	return func(op *options) {
		op.opener = o
	}
}

// WithLogger sets the logger of the Library, the default is Logger().
func WithLogger(l *zap.Logger) Option {
	return func(op *options) {
		op.log = l
	}
}

// Open loads the shared library at path, injects the module context and attaches the
// nested imports declared by the artifact.
//
// Any error is fatal for the artifact: nothing stays loaded when Open fails.
func Open(path string, opts ...Option) (l *Library, err error) {
	o := options{opener: OpenNative}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = Logger()
	}
	native, err := o.opener(path)
	if err != nil {
		return nil, &Error{Kind: KindLoad, Op: "open", Path: path, Detail: "failed to load dynamic shared library", Cause: err}
	}
	l = &Library{native: native, path: path, log: o.log.With(zap.String("path", path))}
	l.Init(l.unload)
	l.id = handles.add(l)
	l.log.Debug("library loaded", zap.Uintptr("id", l.id))
	injectContext(l)
	if err = loadImports(l); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Library) TypeKey() string {
	return TypeKeyDSO
}

// ID is the stable identifier written into the context slot.
func (l *Library) ID() uintptr {
	return l.id
}

// Path of the loaded artifact.
func (l *Library) Path() string {
	return l.path
}

// GetFunction resolves an exported packed function.
//
// MainEntry resolves through the name stored at SymbolMain: a missing SymbolMain is a
// fatal ErrMissingEntry, a missing target is ErrNotFound. Every other name resolves
// directly. Each call returns a fresh Func.
func (l *Library) GetFunction(name string) (*Func, error) {
	if l.Destroyed() {
		return nil, &Error{Kind: KindReleased, Op: "lookup", Path: l.path, Name: name}
	}
	if name == MainEntry {
		entry, ok := EntryName(l.native)
		if !ok {
			return nil, &Error{Kind: KindMissingEntry, Op: "lookup", Path: l.path, Name: SymbolMain, Detail: "symbol is not presented"}
		}
		name = entry
	}
	addr := l.native.Symbol(name)
	if addr == 0 {
		return nil, &Error{Kind: KindNotFound, Op: "lookup", Path: l.path, Name: name}
	}
	return wrapNative(addr, l), nil
}

// EntryName reads the real entry function name stored at SymbolMain.
func EntryName(native NativeLibrary) (string, bool) {
	addr := native.Symbol(SymbolMain)
	if addr == 0 {
		return "", false
	}
	return cString(addr), true
}

// MustGetFunction is GetFunction that panics on any error.
func (l *Library) MustGetFunction(name string) *Func {
	f, err := l.GetFunction(name)
	if err != nil {
		panic(err)
	}
	return f
}

// Symbol resolves a raw exported address, 0 when absent.
func (l *Library) Symbol(name string) uintptr {
	if l.Destroyed() {
		return 0
	}
	return l.native.Symbol(name)
}

// Resolver is the name-resolution capability handed to the artifact's glue.
func (l *Library) Resolver() func(name string) uintptr {
	return l.Symbol
}

// LastError returns the most recent error message reported by any call into the artifact.
// A failed call carries its own message; this is for diagnostics only.
func (l *Library) LastError() string {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.lastErr
}

func (l *Library) setLastError(msg string) {
	l.errMu.Lock()
	l.lastErr = msg
	l.errMu.Unlock()
}

func (l *Library) unload() error {
	handles.remove(l.id)
	l.log.Debug("library unloaded", zap.Uintptr("id", l.id))
	if err := l.native.Close(); err != nil {
		return &Error{Kind: KindLoad, Op: "close", Path: l.path, Cause: err}
	}
	return nil
}
