package dso

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"
)

// handleTable gives native code stable integer handles to Go values.
// Handles start at 1; zero is never issued.
type handleTable struct {
	mu    sync.RWMutex
	next  uintptr
	items map[uintptr]*handleEntry
}

type handleEntry struct {
	value  any
	origin *Library // library that obtained the handle, receives call errors
	owned  bool     // the handle holds the only reference of value, released on free
	mu     sync.Mutex
	kept   []any // results of calls made outside any native call frame
}

var handles = &handleTable{items: make(map[uintptr]*handleEntry)}

func (t *handleTable) add(v any) uintptr {
	return t.insert(&handleEntry{value: v})
}

func (t *handleTable) insert(e *handleEntry) uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.items[t.next] = e
	return t.next
}

func (t *handleTable) entry(h uintptr) *handleEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.items[h]
}

func (t *handleTable) get(h uintptr) any {
	if e := t.entry(h); e != nil {
		return e.value
	}
	return nil
}

func (t *handleTable) remove(h uintptr) *handleEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.items[h]
	if !ok {
		return nil
	}
	delete(t.items, h)
	return e
}

func (t *handleTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// library returns the live library registered under the context id.
func (t *handleTable) library(ctx uintptr) *Library {
	l, _ := t.get(ctx).(*Library)
	return l
}

const (
	callOK   = 0
	callFail = ^uintptr(0) // -1 as seen through a C int
)

var (
	callbacksOnce sync.Once
	callbacks     map[string]uintptr
)

// contextCallbacks creates the host callbacks once per process; purego never frees them.
func contextCallbacks() map[string]uintptr {
	callbacksOnce.Do(func() {
		callbacks = map[string]uintptr{
			SlotResolveSymbol:  purego.NewCallback(cbResolveSymbol),
			SlotGetFuncFromEnv: purego.NewCallback(cbGetFuncFromEnv),
			SlotFuncCall:       purego.NewCallback(cbFuncCall),
			SlotFuncFree:       purego.NewCallback(cbFuncFree),
			SlotSetLastError:   purego.NewCallback(cbSetLastError),
		}
	})
	return callbacks
}

// injectContext writes the module id into the context slot and the host callbacks into
// every callback slot the artifact exports. Absent slots are skipped.
func injectContext(l *Library) {
	log := l.log
	if addr := l.native.Symbol(SymbolModuleCtx); addr != 0 {
		*(*uintptr)(unsafe.Pointer(addr)) = l.id
		log.Debug("context injected", zap.Uintptr("id", l.id))
	}
	var slots map[string]uintptr
	for _, name := range ContextSlots {
		addr := l.native.Symbol(name)
		if addr == 0 {
			continue
		}
		if slots == nil {
			slots = contextCallbacks()
		}
		*(*uintptr)(unsafe.Pointer(addr)) = slots[name]
		log.Debug("context function injected", zap.String("slot", name))
	}
}

func cbResolveSymbol(ctx, name uintptr) uintptr {
	l := handles.library(ctx)
	if l == nil || name == 0 {
		return 0
	}
	return l.Resolver()(cString(name))
}

func cbGetFuncFromEnv(ctx, name, out uintptr) uintptr {
	l := handles.library(ctx)
	if l == nil || name == 0 || out == 0 {
		return callFail
	}
	f, err := l.GetFuncFromEnv(cString(name))
	if err != nil {
		reportError(l, err.Error())
		return callFail
	}
	h := handles.insert(&handleEntry{value: f, origin: l, owned: true})
	*(*uintptr)(unsafe.Pointer(out)) = h
	return callOK
}

func cbFuncCall(handle, args, codes, n, ret, retCode uintptr) uintptr {
	e := handles.entry(handle)
	if e == nil {
		return callFail
	}
	f, ok := e.value.(*Func)
	if !ok {
		return callFail
	}
	in, err := unpackArgs(args, codes, int(int32(n)))
	if err != nil {
		reportCallError(e, err)
		return callFail
	}
	v, err := f.Call(in...)
	if err != nil {
		reportCallError(e, err)
		return callFail
	}
	if ret == 0 || retCode == 0 {
		return callOK
	}
	val, code, err := returnValue(v, keeper(e))
	if err != nil {
		reportCallError(e, err)
		return callFail
	}
	*(*Value)(unsafe.Pointer(ret)) = val
	*(*TypeCode)(unsafe.Pointer(retCode)) = code
	return callOK
}

// keeper parks memory returned to native code in the innermost call frame of the thread,
// so it lives until the outer Go caller has unpacked the result. Without a frame the
// handle keeps it until it is freed.
func keeper(e *handleEntry) func(any) {
	return func(x any) {
		if f := currentFrame(); f != nil {
			f.args.keep(x)
			return
		}
		e.mu.Lock()
		e.kept = append(e.kept, x)
		e.mu.Unlock()
	}
}

func cbFuncFree(handle uintptr) uintptr {
	e := handles.remove(handle)
	if e == nil {
		return callFail
	}
	if f, ok := e.value.(*Func); ok && e.owned {
		_ = f.Release()
	}
	return callOK
}

func cbSetLastError(ctx, msg uintptr) uintptr {
	if msg != 0 {
		reportError(handles.library(ctx), cString(msg))
	}
	return callOK
}

// reportError records msg for the native call running on this thread, and as the last
// error of l.
func reportError(l *Library, msg string) {
	if f := currentFrame(); f != nil {
		f.err = msg
	}
	if l != nil {
		l.setLastError(msg)
	}
}

func reportCallError(e *handleEntry, err error) {
	l := e.origin
	if l == nil {
		l, _ = e.value.(*Func).Owner().(*Library)
	}
	if l == nil && currentFrame() == nil {
		Logger().Debug("callback failed", zap.Error(err), zap.String("func", fmt.Sprintf("%p", e.value)))
		return
	}
	reportError(l, err.Error())
}
