package dso

import "golang.org/x/sys/windows"

func threadID() uintptr {
	return uintptr(windows.GetCurrentThreadId())
}
