package dso

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ZenLiuCN/fn"
	"go.uber.org/zap"
)

// global host functions, the last stop of GetFuncFromEnv
var (
	globalMu sync.RWMutex
	globals  = map[string]*Func{}
)

// Register exposes a Go function to every module under name. It panics on duplicates
// unless override is set.
func Register(name string, f PackedFunc, override ...bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if _, exists := globals[name]; exists && !(len(override) > 0 && override[0]) {
		panic(fmt.Sprintf("global function '%s' already registered", name))
	}
	Logger().Debug("registering global function", zap.String("name", name))
	globals[name] = NewFunc(nil, f)
}

// Unregister removes a global function, reporting whether it existed.
func Unregister(name string) bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	_, ok := globals[name]
	delete(globals, name)
	return ok
}

// Global returns a new Func calling the global function registered under name.
func Global(name string) (*Func, bool) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	f, ok := globals[name]
	if !ok {
		return nil, false
	}
	return f.dup(), true
}

// GlobalNames lists the global functions, sorted.
func GlobalNames() []string {
	globalMu.RLock()
	defer globalMu.RUnlock()
	k := fn.MapKeys(globals)
	slices.Sort(k)
	return k
}
