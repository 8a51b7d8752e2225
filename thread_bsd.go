//go:build darwin || freebsd

package dso

import (
	"sync"

	"github.com/ebitengine/purego"
)

var pthreadSelf = sync.OnceValue(func() uintptr {
	addr, err := purego.Dlsym(purego.RTLD_DEFAULT, "pthread_self")
	if err != nil {
		panic("dso: pthread_self: " + err.Error())
	}
	return addr
})

func threadID() uintptr {
	id, _, _ := purego.SyscallN(pthreadSelf())
	return id
}
