package dso

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ZenLiuCN/fn"
	"go.uber.org/zap"
)

type (
	// FileLoader constructs a Module from a file.
	FileLoader func(path string) (Module, error)
	// BinaryLoader constructs a Module from an import payload.
	BinaryLoader func(payload []byte) (Module, error)
)

var (
	registryMu    sync.RWMutex
	fileLoaders   = map[string]FileLoader{}
	binaryLoaders = map[string]BinaryLoader{}
)

// FileLoaderKey is the registry key of a file format, e.g. "loadfile_so".
func FileLoaderKey(format string) string {
	return "loadfile_" + format
}

// BinaryLoaderKey is the registry key of an import kind, e.g. "loadbinary_host".
func BinaryLoaderKey(kind string) string {
	return "loadbinary_" + kind
}

// RegisterFileLoader registers the loader of a file format. It panics on duplicates.
func RegisterFileLoader(format string, loader FileLoader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := fileLoaders[format]; exists {
		panic(fmt.Sprintf("file loader '%s' already registered", FileLoaderKey(format)))
	}
	Logger().Debug("registering file loader", zap.String("key", FileLoaderKey(format)))
	fileLoaders[format] = loader
}

// RegisterBinaryLoader registers the loader of an import kind. It panics on duplicates.
func RegisterBinaryLoader(kind string, loader BinaryLoader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := binaryLoaders[kind]; exists {
		panic(fmt.Sprintf("binary loader '%s' already registered", BinaryLoaderKey(kind)))
	}
	Logger().Debug("registering binary loader", zap.String("key", BinaryLoaderKey(kind)))
	binaryLoaders[kind] = loader
}

// LoadFile constructs a Module from path. An empty format is taken from the file extension.
func LoadFile(path, format string) (Module, error) {
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	registryMu.RLock()
	loader, ok := fileLoaders[format]
	registryMu.RUnlock()
	if !ok {
		return nil, &Error{Kind: KindUnknownKind, Op: "load", Path: path, Detail: "no " + FileLoaderKey(format) + " registered"}
	}
	return loader(path)
}

// LoadBinary constructs a Module of kind from payload.
func LoadBinary(kind string, payload []byte) (Module, error) {
	registryMu.RLock()
	loader, ok := binaryLoaders[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, &Error{Kind: KindUnknownKind, Op: "load", Detail: "no " + BinaryLoaderKey(kind) + " registered"}
	}
	return loader(payload)
}

// FileFormats lists registered file formats, sorted.
func FileFormats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k := fn.MapKeys(fileLoaders)
	slices.Sort(k)
	return k
}

// BinaryKinds lists registered import kinds, sorted.
func BinaryKinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k := fn.MapKeys(binaryLoaders)
	slices.Sort(k)
	return k
}

func loadSO(path string) (Module, error) {
	return Open(path)
}

func init() {
	for _, format := range []string{"so", "dll", "dylib"} {
		RegisterFileLoader(format, loadSO)
	}
	RegisterBinaryLoader(TypeKeyHost, loadHost)
}
