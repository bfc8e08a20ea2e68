package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Pseudo-terminal geometry. Wide enough that the children never wrap their lines.
const (
	PTYRows = 100
	PTYCols = 1000

	lineBacklog = 1024
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Command is a fully resolved program invocation.
type Command struct {
	Path string   `json:"path"`
	Args []string `json:"args"`
	Dir  string   `json:"dir"`
	Env  []string `json:"env,omitempty"`
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Validate checks the invocation is spawnable: an absolute path to an existing file.
func (c Command) Validate() error {
	if c.Path == "" {
		return errors.New("binary path is empty")
	}
	if !filepath.IsAbs(c.Path) {
		return fmt.Errorf("binary path %q is not absolute", c.Path)
	}
	fi, err := os.Stat(c.Path)
	if err != nil {
		return fmt.Errorf("binary %q: %w", c.Path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("binary %q is a directory", c.Path)
	}
	return nil
}

func (c Command) build() *exec.Cmd {
	// #nosec G204 -- the path and args come from the local configuration
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(c.Path)
	}
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

// Child is a program running on its own pseudo-terminal. A reader goroutine turns
// terminal output into lines; a waiter goroutine reaps the process.
type Child struct {
	cmd       *exec.Cmd
	tty       *os.File
	lines     chan string
	exited    chan struct{}
	quit      chan struct{}
	exitErr   error
	console   io.Writer
	closeOnce sync.Once
	mu        sync.Mutex
	startedAt time.Time
}

// Spawn starts c attached to a new pseudo-terminal. console, if non-nil, receives a
// copy of every line (for example a rotated log file).
func Spawn(c Command, console io.Writer) (*Child, error) {
	cmd := c.build()
	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: PTYRows, Cols: PTYCols})
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", c.Path, err)
	}
	ch := &Child{
		cmd:       cmd,
		tty:       tty,
		lines:     make(chan string, lineBacklog),
		exited:    make(chan struct{}),
		quit:      make(chan struct{}),
		console:   console,
		startedAt: time.Now(),
	}
	go ch.read()
	go ch.wait()
	return ch, nil
}

func (c *Child) read() {
	defer close(c.lines)
	r := bufio.NewReaderSize(c.tty, 64*1024)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = ansiEscape.ReplaceAllString(strings.TrimRight(line, "\r\n"), "")
			if c.console != nil {
				_, _ = io.WriteString(c.console, line+"\n")
			}
			select {
			case c.lines <- line:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			// EIO once the child side is gone, ErrClosed after Close.
			return
		}
	}
}

func (c *Child) wait() {
	err := c.cmd.Wait()
	c.mu.Lock()
	c.exitErr = err
	c.mu.Unlock()
	close(c.exited)
}

// PID of the spawned program.
func (c *Child) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *Child) StartedAt() time.Time { return c.startedAt }

// Lines delivers terminal output; it is closed when the terminal reaches EOF.
func (c *Child) Lines() <-chan string { return c.lines }

// Exited is closed once the program has been reaped.
func (c *Child) Exited() <-chan struct{} { return c.exited }

// HasExited is a non-blocking check of Exited.
func (c *Child) HasExited() bool {
	select {
	case <-c.exited:
		return true
	default:
		return false
	}
}

// ExitStatus returns the exit code and the raw wait error. The code is -1 when the
// program was killed by a signal. Only meaningful after Exited is closed.
func (c *Child) ExitStatus() (int, error) {
	c.mu.Lock()
	err := c.exitErr
	c.mu.Unlock()
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), err
	}
	return -1, err
}

// WriteLine sends one console line to the program.
func (c *Child) WriteLine(s string) error {
	_, err := io.WriteString(c.tty, s+"\n")
	return err
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL once grace has
// passed. It blocks until the program is reaped.
func (c *Child) Stop(grace time.Duration) (int, error) {
	if !c.HasExited() {
		_ = signalGroup(c.PID(), syscall.SIGTERM)
		select {
		case <-c.exited:
		case <-time.After(grace):
			_ = signalGroup(c.PID(), syscall.SIGKILL)
			<-c.exited
		}
	}
	code, err := c.ExitStatus()
	c.Close()
	return code, err
}

// Close releases the terminal and stops the reader. Lines already queued stay readable.
func (c *Child) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		_ = c.tty.Close()
	})
}
