package goobj

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"unsafe"

	"github.com/ZenLiuCN/dso"
	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
	"go.uber.org/zap"
)

// TypeKey of Go object modules.
const TypeKey = "goobj"

var (
	// ErrEmptyPayload occurs when a goobj import carries no linker.
	ErrEmptyPayload = errors.New("empty goobj payload")
)

var (
	gob     map[string]uintptr
	gobMu   sync.Mutex
	gobOnce sync.Once
)

// symbols returns a copy of the host symbol table, built once.
func symbols() map[string]uintptr {
	gobOnce.Do(func() {
		gob = make(map[string]uintptr)
		fn.Panic(goloader.RegSymbol(gob))
	})
	gobMu.Lock()
	defer gobMu.Unlock()
	return maps.Clone(gob)
}

// UseSo makes the symbols of a shared library visible to modules loaded afterwards.
func UseSo(path string) error {
	symbols()
	gobMu.Lock()
	defer gobMu.Unlock()
	return goloader.RegSymbolWithSo(gob, path)
}

// UseTypes registers host types referenced by modules loaded afterwards.
func UseTypes(types ...any) {
	symbols()
	gobMu.Lock()
	defer gobMu.Unlock()
	goloader.RegTypes(gob, types...)
}

// Module is a dso.Module backed by a goloader code module.
type Module struct {
	dso.ModuleBase
	linker *goloader.Linker
	code   *goloader.CodeModule
}

// Load unserializes and links payload.
func Load(payload []byte) (m *Module, err error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	m = new(Module)
	if m.linker, err = goloader.UnSerialize(bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("goobj unserialize: %w", err)
	}
	sym := symbols()
	if m.code, err = goloader.Load(m.linker, sym); err != nil {
		if missing := goloader.UnresolvedSymbols(m.linker, sym); len(missing) > 0 {
			return nil, fmt.Errorf("goobj link: %w, unresolved: %s", err, strings.Join(missing, ", "))
		}
		return nil, fmt.Errorf("goobj link: %w", err)
	}
	m.Init(m.unload)
	dso.Logger().Debug("goobj linked", zap.Int("symbols", len(m.code.Syms)))
	return m, nil
}

func (m *Module) TypeKey() string {
	return TypeKey
}

// Packages lists the package paths linked into the module.
func (m *Module) Packages() (out []string) {
	for _, pkg := range m.linker.Packages {
		out = append(out, pkg.PkgPath)
	}
	return
}

// GetFunction fetches an exported function as pkg.Name; a bare Name means main.Name.
func (m *Module) GetFunction(name string) (*dso.Func, error) {
	if m.Destroyed() {
		return nil, &dso.Error{Kind: dso.KindReleased, Op: "lookup", Name: name}
	}
	sym := checkPackage(name)
	p, ok := m.code.Syms[sym]
	if !ok || p == 0 {
		return nil, &dso.Error{Kind: dso.KindNotFound, Op: "lookup", Name: sym}
	}
	return dso.NewFunc(m, as[dso.PackedFunc](p)), nil
}

func (m *Module) unload() error {
	m.code.Unload()
	m.code = nil
	m.linker = nil
	return nil
}

func checkPackage(sym string) string {
	if strings.IndexByte(sym, '.') < 0 {
		return "main." + sym
	}
	return sym
}

// as turns a code address into a Go func value of type T.
func as[T any](p uintptr) T {
	container := &p
	return *(*T)(unsafe.Pointer(&container))
}

func init() {
	dso.RegisterBinaryLoader(TypeKey, func(payload []byte) (dso.Module, error) {
		return Load(payload)
	})
}
