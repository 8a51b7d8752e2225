package pool

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/ZenLiuCN/dso"
	"github.com/ZenLiuCN/fn"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// Pool holds named modules. Loading order is kept so Close unloads newest first.
type Pool struct {
	Modules map[string]dso.Module
	Loaded  []string
	sources map[string]Entry
	sync.RWMutex
}

// Entry describes one module of a manifest.
type Entry struct {
	Name   string `toml:"name"`
	Path   string `toml:"path"`
	Format string `toml:"format"`
}

// Manifest is the TOML document read by LoadManifest.
//
//	[[module]]
//	name = "kernels"
//	path = "build/kernels.so"
type Manifest struct {
	Modules []Entry `toml:"module"`
}

var (
	ErrAlreadyLoad   = errors.New("module already loaded")
	ErrNotLoad       = errors.New("module not loaded")
	ErrMissingModule = errors.New("module not found in pool")
	ErrCorrupted     = errors.New("recording corrupted")
)

// NewPool create new pool
func NewPool() *Pool {
	return &Pool{
		Modules: make(map[string]dso.Module),
		sources: make(map[string]Entry),
	}
}

// Load loads the file at path under name. An empty format is taken from the extension.
func (p *Pool) Load(name, path, format string) (err error) {
	p.Lock()
	defer p.Unlock()
	if name == "" {
		name = path
	}
	if _, ok := p.Modules[name]; ok {
		return ErrAlreadyLoad
	}
	return p.load(Entry{Name: name, Path: path, Format: format})
}

func (p *Pool) load(e Entry) error {
	m, err := dso.LoadFile(e.Path, e.Format)
	if err != nil {
		return err
	}
	p.Modules[e.Name] = m
	p.sources[e.Name] = e
	p.Loaded = append(p.Loaded, e.Name)
	dso.Logger().Debug("pool module loaded", zap.String("name", e.Name), zap.String("path", e.Path))
	return nil
}

// LoadManifest loads every module of a TOML manifest, stopping at the first failure.
func (p *Pool) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("manifest load failed (%s): %w", path, err)
	}
	var m Manifest
	if err = toml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("manifest parse failed (%s): %w", path, err)
	}
	for _, e := range m.Modules {
		if e.Path == "" {
			return fmt.Errorf("manifest %s: module %q without path", path, e.Name)
		}
		if err = p.Load(e.Name, e.Path, e.Format); err != nil {
			return fmt.Errorf("manifest %s: module %q: %w", path, e.Name, err)
		}
	}
	return nil
}

// Reload closes the module called name and loads its file again. Funcs obtained before
// keep the old library alive until they are released.
func (p *Pool) Reload(name string) (err error) {
	p.Lock()
	defer p.Unlock()
	e, ok := p.sources[name]
	if !ok {
		return ErrNotLoad
	}
	if err = p.unload(name); err != nil {
		return
	}
	return p.load(e)
}

// Unload closes and forgets the module called name.
func (p *Pool) Unload(name string) error {
	p.Lock()
	defer p.Unlock()
	return p.unload(name)
}

func (p *Pool) unload(name string) error {
	m, ok := p.Modules[name]
	if !ok {
		return ErrNotLoad
	}
	i := slices.Index(p.Loaded, name)
	if i < 0 {
		return ErrCorrupted
	}
	p.Loaded = slices.Delete(p.Loaded, i, i+1)
	delete(p.Modules, name)
	delete(p.sources, name)
	return m.Close()
}

// Require fetches a function from the module called name.
func (p *Pool) Require(name, function string) (*dso.Func, error) {
	p.RLock()
	defer p.RUnlock()
	m, ok := p.Modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingModule, name)
	}
	return m.GetFunction(function)
}

// MustRequire is Require that panics on errors.
func (p *Pool) MustRequire(name, function string) *dso.Func {
	return fn.Panic1(p.Require(name, function))
}

// Names lists module names in loading order.
func (p *Pool) Names() []string {
	p.RLock()
	defer p.RUnlock()
	return slices.Clone(p.Loaded)
}

// Close unloads every module, newest first, and returns the first error.
func (p *Pool) Close() (err error) {
	p.Lock()
	defer p.Unlock()
	for i := len(p.Loaded) - 1; i >= 0; i-- {
		if e := p.unload(p.Loaded[i]); e != nil && err == nil {
			err = e
		}
	}
	return
}
