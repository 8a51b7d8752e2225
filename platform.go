package dso

type (
	// NativeLibrary is an opened platform shared library.
	NativeLibrary interface {
		Symbol(name string) uintptr //address of an exported symbol, 0 when absent
		Close() error               //unload, called exactly once by the owning module
	}
	// Opener opens the shared library at path.
	Opener func(path string) (NativeLibrary, error)
)

// loaderError is the text a platform loader reports for a failed open.
type loaderError string

func (e loaderError) Error() string { return string(e) }
