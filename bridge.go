package dso

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// callFrame is a native call in progress on one OS thread. Host callbacks made by the
// callee run on the same thread and report into the innermost frame.
type callFrame struct {
	err  string  // message of __dso_set_last_error, or of a failed callback
	args *packed // owns memory returned to the callee until the call unpacks
}

// frames holds the stack of active calls per OS thread.
var frames = struct {
	sync.Mutex
	m map[uintptr][]*callFrame
}{m: make(map[uintptr][]*callFrame)}

func pushFrame(tid uintptr, f *callFrame) {
	frames.Lock()
	frames.m[tid] = append(frames.m[tid], f)
	frames.Unlock()
}

func popFrame(tid uintptr) {
	frames.Lock()
	defer frames.Unlock()
	s := frames.m[tid]
	if len(s) <= 1 {
		delete(frames.m, tid)
		return
	}
	s[len(s)-1] = nil
	frames.m[tid] = s[:len(s)-1]
}

// currentFrame is the innermost call of the calling OS thread, nil outside a native call.
func currentFrame() *callFrame {
	tid := threadID()
	frames.Lock()
	defer frames.Unlock()
	if s := frames.m[tid]; len(s) > 0 {
		return s[len(s)-1]
	}
	return nil
}

// wrapNative bridges a native packed function to a Func owned by l.
//
// The native side has the signature
//
//	int f(DSOValue* args, int* codes, int n, DSOValue* ret, int* ret_code, void* resource)
//
// and signals failure with a non-zero result, optionally after __dso_set_last_error.
// The error message is kept per OS thread, so concurrent calls never see each other's.
func wrapNative(addr uintptr, l *Library) *Func {
	if addr == 0 {
		panic("dso: wrap of a null function address")
	}
	id := l.id
	return newFunc(l, addr, func(args ...any) (any, error) {
		p, err := pack(args)
		if err != nil {
			return nil, err
		}
		defer p.free()
		ret := new(Value)
		code := new(TypeCode)
		*code = TypeNull
		p.pin.Pin(ret)
		p.pin.Pin(code)
		var argv, codev uintptr
		if len(p.values) > 0 {
			argv = uintptr(unsafe.Pointer(&p.values[0]))
			codev = uintptr(unsafe.Pointer(&p.codes[0]))
		}
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		tid := threadID()
		frame := &callFrame{args: p}
		pushFrame(tid, frame)
		rc, _, _ := purego.SyscallN(addr,
			argv, codev, uintptr(len(p.values)),
			uintptr(unsafe.Pointer(ret)), uintptr(unsafe.Pointer(code)),
			id)
		popFrame(tid)
		runtime.KeepAlive(p)
		if int32(rc) != 0 {
			msg := frame.err
			if msg == "" {
				msg = fmt.Sprintf("call returned %d", int32(rc))
			}
			return nil, &Error{Kind: KindCall, Op: "call", Path: l.path, Detail: msg}
		}
		return unpack(*ret, *code)
	})
}
