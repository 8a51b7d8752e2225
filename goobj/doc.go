/*
Package goobj is a nested module kind backed by [goloader].

An import of kind "goobj" carries a serialized goloader linker, produced by [Pack] from
relocatable Go object files (go tool compile output). The linker is loaded into executable
memory, linked against the host's symbols and exposes its exported functions of type
[dso.PackedFunc].

Import this package for its side effect to enable the kind:

	import _ "github.com/ZenLiuCN/dso/goobj"

# Notes

 1. Only exported functions of type func(args ...any) (any, error) can be fetched.
 2. Object files must be built by the same Go release as the host.
 3. Symbols of a shared library become visible to Go objects after [UseSo].

[goloader]: https://github.com/pkujhd/goloader
*/
package goobj
