package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// daemonize re-executes the current command in the background without --daemonize
// and exits the parent. The child writes its own pid file.
func daemonize(pidFile, logFile string) error {
	if !isDaemonSupported() {
		return fmt.Errorf("--daemonize is not supported on this platform")
	}
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204 -- re-executes ourselves with our own arguments
	cmd := exec.Command(executable, childArgs(os.Args[1:])...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil
	if logFile != "" {
		f, err := os.OpenFile(filepath.Clean(logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout, cmd.Stderr = f, f
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// childArgs drops --daemonize and --logfile; the child inherits the redirected
// stdio instead. --pidfile stays so the child records its own pid.
func childArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--daemonize" || strings.HasPrefix(a, "--daemonize="):
		case a == "--logfile":
			i++
		case strings.HasPrefix(a, "--logfile="):
		default:
			out = append(out, a)
		}
	}
	return out
}

func writePidFile(pidFile string, pid int) error {
	return os.WriteFile(filepath.Clean(pidFile), []byte(strconv.Itoa(pid)+"\n"), 0o644) // #nosec G306
}

func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
