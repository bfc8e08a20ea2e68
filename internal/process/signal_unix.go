//go:build !windows

package process

import "syscall"

// signalGroup delivers sig to the child's whole process group. Children spawned on a
// pseudo-terminal are session (and group) leaders, so -pid addresses the group.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}
