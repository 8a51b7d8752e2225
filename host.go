package dso

import (
	"fmt"
	"maps"

	"github.com/pelletier/go-toml/v2"
)

// TypeKeyHost is the type key of modules implemented by host Go functions.
const TypeKeyHost = "host"

type (
	// HostModule is a Module whose functions are Go functions, bound directly or by the
	// name of a global function.
	HostModule struct {
		ModuleBase
		name    string
		funcs   map[string]PackedFunc
		aliases map[string]string
	}
	// HostManifest is the payload of a host import: exported names mapped to global functions.
	//
	//	name = "math"
	//	[functions]
	//	add = "host.math.add"
	HostManifest struct {
		Name      string            `toml:"name"`
		Functions map[string]string `toml:"functions"`
	}
)

// NewHostModule creates a HostModule exporting funcs.
func NewHostModule(name string, funcs map[string]PackedFunc) *HostModule {
	h := &HostModule{name: name, funcs: maps.Clone(funcs)}
	h.Init(nil)
	return h
}

func (h *HostModule) TypeKey() string {
	return TypeKeyHost
}

// Name given by the creator or the manifest.
func (h *HostModule) Name() string {
	return h.name
}

func (h *HostModule) GetFunction(name string) (*Func, error) {
	if h.Destroyed() {
		return nil, &Error{Kind: KindReleased, Op: "lookup", Path: h.name, Name: name}
	}
	if f, ok := h.funcs[name]; ok {
		return NewFunc(h, f), nil
	}
	if target, ok := h.aliases[name]; ok {
		if g, ok := Global(target); ok {
			return NewFunc(h, g.call), nil
		}
	}
	return nil, &Error{Kind: KindNotFound, Op: "lookup", Path: h.name, Name: name}
}

// EncodeHostManifest renders a host import payload.
func EncodeHostManifest(m HostManifest) ([]byte, error) {
	return toml.Marshal(m)
}

func loadHost(payload []byte) (Module, error) {
	var m HostManifest
	if err := toml.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("host manifest: %w", err)
	}
	h := &HostModule{name: m.Name, aliases: m.Functions}
	h.Init(nil)
	return h, nil
}
