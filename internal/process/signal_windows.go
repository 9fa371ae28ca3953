//go:build windows

package process

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	accessTerminate = 0x0001
	accessQueryInfo = 0x0400
)

// terminateProcess has no graceful variant for detached console-less children
// on Windows, so it behaves like killProcess.
func terminateProcess(pid int) error { return killProcess(pid) }

// killProcess treats a pid that cannot be opened as already gone.
func killProcess(pid int) error {
	h, ok := openProcess(accessTerminate, pid)
	if !ok {
		return nil
	}
	defer closeHandle(h)
	if ret, _, err := procTerminateProcess.Call(uintptr(h), 1); ret == 0 {
		return err
	}
	return nil
}

func processExists(pid int) bool {
	h, ok := openProcess(accessQueryInfo, pid)
	if ok {
		closeHandle(h)
	}
	return ok
}

func openProcess(access uint32, pid int) (syscall.Handle, bool) {
	if pid <= 0 {
		return 0, false
	}
	ret, _, _ := procOpenProcess.Call(uintptr(access), 0, uintptr(uint32(pid)))
	return syscall.Handle(ret), ret != 0
}

func closeHandle(h syscall.Handle) { _, _, _ = procCloseHandle.Call(uintptr(h)) }
