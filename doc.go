/*
Package dso loads compiled shared libraries as modules of packed functions.

# Usage

	lib, err := dso.Open("build/kernels.so")
	if err != nil {
		log.Fatal(err) // the artifact is unusable
	}
	defer lib.Close()
	add, err := lib.GetFunction("add")
	switch {
	case errors.Is(err, dso.ErrNotFound):
		// the artifact does not implement add
	case err != nil:
		log.Fatal(err)
	}
	defer add.Release()
	v, err := add.Call(int64(1), int64(2))

# Underwater

 1. Open loads the library with dlopen (LoadLibrary on windows) through [purego], without cgo.
 2. The module ID is written into __dso_module_ctx and host callbacks into the
    __dso_* function slots the artifact exports, so code in the library can resolve symbols,
    look up functions of nested imports and report errors.
 3. Nested imports embedded in __dso_dev_mblob are constructed through the binary loader
    registry and attached in declaration order.
 4. Every [Func] keeps its [Module] alive. The library is unloaded exactly once, after Close
    and after every Func was released.

# Calling convention

Exported functions take the packed form

	int f(DSOValue* args, int* type_codes, int num_args,
	      DSOValue* ret, int* ret_type_code, void* resource_handle);

where DSOValue is an 8-byte union of int64, double and pointers. A non-zero result is an
error; the message set through __dso_set_last_error, if any, becomes the error detail.

# Notes

 1. The artifact is trusted: nothing validates or sandboxes the loaded code.
 2. Construction must complete before the module is shared between goroutines.
 3. Thread-safety of the native code itself is the artifact's business.

[purego]: https://github.com/ebitengine/purego
*/
package dso
