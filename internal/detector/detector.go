// Package detector records the PIDs of spawned children in a directory and finds
// the ones a crashed run left behind, so they can be stopped before their ports
// are needed again.
package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const ext = ".pid"

// Record is one pid file: the PID on the first line, meta JSON on the second.
type Record struct {
	Name      string `json:"name"`
	PID       int    `json:"-"`
	StartUnix int64  `json:"start_unix"`
}

// Alive reports whether the recorded process still runs. A PID that was reused by
// another program (different start time) is not alive.
func (r Record) Alive() bool {
	if !pidAlive(r.PID) {
		return false
	}
	if r.StartUnix > 0 {
		if cur := procStartUnix(r.PID); cur > 0 && cur != r.StartUnix {
			return false
		}
	}
	return true
}

// Dir is a directory of pid files, one per child name. Safe for concurrent use.
type Dir struct {
	path    string
	mu      sync.Mutex
	written map[string]int
}

func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("pid dir is empty")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create pid dir: %w", err)
	}
	return &Dir{path: path, written: map[string]int{}}, nil
}

func (d *Dir) Path() string { return d.path }

func (d *Dir) file(name string) string { return filepath.Join(d.path, name+ext) }

// Sync makes the directory match pids: a file for every name with a PID above
// zero, none for the rest of the names it wrote before. Unchanged entries are
// left alone.
func (d *Dir) Sync(pids map[string]int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for name, pid := range pids {
		if pid <= 0 || d.written[name] == pid {
			continue
		}
		if err := d.write(Record{Name: name, PID: pid, StartUnix: procStartUnix(pid)}); err != nil {
			errs = append(errs, err)
			continue
		}
		d.written[name] = pid
	}
	for name := range d.written {
		if pids[name] > 0 {
			continue
		}
		if err := os.Remove(d.file(name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		delete(d.written, name)
	}
	return errors.Join(errs...)
}

func (d *Dir) write(r Record) error {
	meta, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b := strconv.Itoa(r.PID) + "\n" + string(meta) + "\n"
	tmp := d.file(r.Name) + ".tmp"
	if err := os.WriteFile(tmp, []byte(b), 0o640); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return os.Rename(tmp, d.file(r.Name))
}

// Read parses the pid file for name.
func (d *Dir) Read(name string) (Record, error) {
	data, err := os.ReadFile(d.file(name))
	if err != nil {
		return Record{}, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Record{}, fmt.Errorf("invalid pid in %s: %w", d.file(name), err)
	}
	r := Record{Name: name}
	if len(lines) > 1 {
		// Meta is optional; a bare pid file is still usable.
		_ = json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &r)
	}
	r.Name, r.PID = name, pid
	return r, nil
}

// Orphans lists the recorded processes that are still alive, sorted by name.
func (d *Dir) Orphans() ([]Record, error) {
	ents, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, e := range ents {
		name, ok := strings.CutSuffix(e.Name(), ext)
		if !ok || e.IsDir() {
			continue
		}
		r, err := d.Read(name)
		if err != nil {
			continue
		}
		if r.Alive() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Reap stops every orphan (terminate, then kill after grace) and clears the
// directory. It returns the records it acted on.
func (d *Dir) Reap(grace time.Duration, log *slog.Logger) []Record {
	if log == nil {
		log = slog.Default()
	}
	orphans, err := d.Orphans()
	if err != nil {
		log.Warn("scan pid dir failed", "dir", d.path, "error", err)
	}
	for _, r := range orphans {
		log.Warn("stopping child left by a previous run", "name", r.Name, "pid", r.PID)
		_ = terminate(r.PID, false)
	}
	deadline := time.Now().Add(grace)
	for _, r := range orphans {
		for r.Alive() && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
		if r.Alive() {
			_ = terminate(r.PID, true)
		}
	}
	d.clear()
	return orphans
}

func (d *Dir) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ents, _ := os.ReadDir(d.path)
	for _, e := range ents {
		if strings.HasSuffix(e.Name(), ext) {
			_ = os.Remove(filepath.Join(d.path, e.Name()))
		}
	}
	d.written = map[string]int{}
}
