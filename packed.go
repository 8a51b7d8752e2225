package dso

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"
)

type (
	// TypeCode tags a packed Value.
	TypeCode int32
	// Value is the 8-byte union passed across the native boundary.
	Value uint64
	// Handle is an opaque native pointer passed through without interpretation.
	Handle uintptr
)

const (
	TypeInt          TypeCode = 0
	TypeUInt         TypeCode = 1
	TypeFloat        TypeCode = 2
	TypeHandle       TypeCode = 3
	TypeNull         TypeCode = 4
	TypeModuleHandle TypeCode = 9
	TypeFuncHandle   TypeCode = 10
	TypeStr          TypeCode = 11
)

func (c TypeCode) String() string {
	switch c {
	case TypeInt:
		return "int"
	case TypeUInt:
		return "uint"
	case TypeFloat:
		return "float"
	case TypeHandle:
		return "handle"
	case TypeNull:
		return "null"
	case TypeModuleHandle:
		return "module"
	case TypeFuncHandle:
		return "func"
	case TypeStr:
		return "str"
	}
	return fmt.Sprintf("TypeCode(%d)", int32(c))
}

// packed is an argument list laid out for a native call. Memory referenced from the
// list, or handed to the callee by host callbacks, stays pinned until free is called.
type packed struct {
	values  []Value
	codes   []TypeCode
	pin     runtime.Pinner
	handles []uintptr
	kept    []any
}

func (p *packed) free() {
	for _, h := range p.handles {
		handles.remove(h)
	}
	p.handles = nil
	p.kept = nil
	p.pin.Unpin()
}

// keep holds x until free. Go allocated strings are pinned; other pointers may be
// foreign memory and are only kept reachable.
func (p *packed) keep(x any) {
	if b, ok := x.(*byte); ok {
		p.pin.Pin(b)
	}
	p.kept = append(p.kept, x)
}

// pack converts Go arguments into packed values.
func pack(args []any) (p *packed, err error) {
	p = &packed{
		values: make([]Value, len(args)),
		codes:  make([]TypeCode, len(args)),
	}
	for i, a := range args {
		if p.values[i], p.codes[i], err = p.encode(a); err != nil {
			p.free()
			return nil, fmt.Errorf("dso: argument %d: %w", i, err)
		}
	}
	if len(args) > 0 {
		p.pin.Pin(&p.values[0])
		p.pin.Pin(&p.codes[0])
	}
	return
}

func (p *packed) encode(a any) (Value, TypeCode, error) {
	switch v := a.(type) {
	case nil:
		return 0, TypeNull, nil
	case bool:
		if v {
			return 1, TypeInt, nil
		}
		return 0, TypeInt, nil
	case int:
		return Value(int64(v)), TypeInt, nil
	case int8:
		return Value(int64(v)), TypeInt, nil
	case int16:
		return Value(int64(v)), TypeInt, nil
	case int32:
		return Value(int64(v)), TypeInt, nil
	case int64:
		return Value(v), TypeInt, nil
	case uint:
		return Value(v), TypeUInt, nil
	case uint8:
		return Value(v), TypeUInt, nil
	case uint16:
		return Value(v), TypeUInt, nil
	case uint32:
		return Value(v), TypeUInt, nil
	case uint64:
		return Value(v), TypeUInt, nil
	case float32:
		return Value(math.Float64bits(float64(v))), TypeFloat, nil
	case float64:
		return Value(math.Float64bits(v)), TypeFloat, nil
	case Handle:
		return Value(v), TypeHandle, nil
	case unsafe.Pointer:
		p.kept = append(p.kept, v)
		return Value(uintptr(v)), TypeHandle, nil
	case string:
		return p.str(v)
	case []byte:
		return p.str(string(v))
	case *Func:
		h := handles.add(v)
		p.handles = append(p.handles, h)
		return Value(h), TypeFuncHandle, nil
	case *Library:
		return Value(v.ID()), TypeModuleHandle, nil
	case Module:
		h := handles.add(v)
		p.handles = append(p.handles, h)
		return Value(h), TypeModuleHandle, nil
	}
	return 0, 0, fmt.Errorf("unsupported type %T", a)
}

func (p *packed) str(s string) (Value, TypeCode, error) {
	b, err := cBytes(s)
	if err != nil {
		return 0, 0, err
	}
	p.keep(b)
	return Value(uintptr(unsafe.Pointer(b))), TypeStr, nil
}

// unpack converts one native value into its Go form.
func unpack(v Value, code TypeCode) (any, error) {
	switch code {
	case TypeInt:
		return int64(v), nil
	case TypeUInt:
		return uint64(v), nil
	case TypeFloat:
		return math.Float64frombits(uint64(v)), nil
	case TypeHandle:
		return Handle(v), nil
	case TypeNull:
		return nil, nil
	case TypeStr:
		if v == 0 {
			return "", nil
		}
		return cString(uintptr(v)), nil
	case TypeFuncHandle:
		if f, ok := handles.get(uintptr(v)).(*Func); ok {
			return f, nil
		}
		return nil, fmt.Errorf("dso: unknown func handle %#x", uintptr(v))
	case TypeModuleHandle:
		if m, ok := handles.get(uintptr(v)).(Module); ok {
			return m, nil
		}
		return nil, fmt.Errorf("dso: unknown module handle %#x", uintptr(v))
	}
	return nil, fmt.Errorf("dso: unsupported type code %s", code)
}

// unpackArgs reads n native values from the arrays at args and codes.
func unpackArgs(args, codes uintptr, n int) (out []any, err error) {
	if n <= 0 {
		return nil, nil
	}
	values := unsafe.Slice((*Value)(unsafe.Pointer(args)), n)
	tcodes := unsafe.Slice((*TypeCode)(unsafe.Pointer(codes)), n)
	out = make([]any, n)
	for i := range out {
		if out[i], err = unpack(values[i], tcodes[i]); err != nil {
			return nil, err
		}
	}
	return
}

// returnValue encodes a Go result for a native caller. Memory the result refers to is
// handed to keep, which must hold it until the native caller is done with it.
func returnValue(v any, keep func(any)) (Value, TypeCode, error) {
	switch x := v.(type) {
	case string:
		b, err := cBytes(x)
		if err != nil {
			return 0, 0, err
		}
		keep(b)
		return Value(uintptr(unsafe.Pointer(b))), TypeStr, nil
	case []byte:
		return returnValue(string(x), keep)
	case *Func:
		return Value(handles.add(x)), TypeFuncHandle, nil
	case *Library:
		return Value(x.ID()), TypeModuleHandle, nil
	case Module:
		return Value(handles.add(x)), TypeModuleHandle, nil
	case unsafe.Pointer:
		keep(x)
		return Value(uintptr(x)), TypeHandle, nil
	}
	p := new(packed)
	val, code, err := p.encode(v)
	p.free()
	return val, code, err
}
