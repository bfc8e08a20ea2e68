//go:build windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// signalGroup terminates the child. Windows has neither process groups nor a
// graceful signal we can deliver through a pseudo console, so TERM and KILL are
// both a hard kill of the pid.
func signalGroup(pid int, _ syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
