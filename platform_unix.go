//go:build darwin || freebsd || linux

package dso

import (
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

type dlLibrary struct {
	handle uintptr
	path   string
}

// OpenNative opens path with dlopen. Symbols stay local to the library and are bound lazily.
func OpenNative(path string) (NativeLibrary, error) {
	h, err := purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_LOCAL)
	if err != nil {
		return nil, loaderError(err.Error())
	}
	return &dlLibrary{handle: h, path: path}, nil
}

func (l *dlLibrary) Symbol(name string) uintptr {
	addr, err := purego.Dlsym(l.handle, name)
	if err != nil {
		return 0
	}
	return addr
}

func (l *dlLibrary) Close() error {
	if err := purego.Dlclose(l.handle); err != nil {
		return loaderError(err.Error())
	}
	return nil
}

func cString(addr uintptr) string {
	return unix.BytePtrToString((*byte)(unsafe.Pointer(addr)))
}

func cBytes(s string) (*byte, error) {
	return unix.BytePtrFromString(s)
}
