//go:build windows

package dso

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

type dllLibrary struct {
	handle windows.Handle
	path   string
}

// OpenNative opens path with LoadLibrary.
func OpenNative(path string) (NativeLibrary, error) {
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, loaderError(err.Error())
	}
	return &dllLibrary{handle: h, path: path}, nil
}

func (l *dllLibrary) Symbol(name string) uintptr {
	addr, err := windows.GetProcAddress(l.handle, name)
	if err != nil {
		return 0
	}
	return addr
}

func (l *dllLibrary) Close() error {
	return windows.FreeLibrary(l.handle)
}

func cString(addr uintptr) string {
	return windows.BytePtrToString((*byte)(unsafe.Pointer(addr)))
}

func cBytes(s string) (*byte, error) {
	return windows.BytePtrFromString(s)
}
