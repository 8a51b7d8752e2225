package dso

import "golang.org/x/sys/unix"

func threadID() uintptr {
	return uintptr(unix.Gettid())
}
