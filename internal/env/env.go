// Package env composes the environment handed to spawned children.
package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers config variables over an optional copy of the supervisor's own
// environment. Children get base, then Var, then their own entries.
type Env struct {
	Var  Var
	base Var
}

// New returns an Env. With inheritOS the current process environment is the base.
func New(inheritOS bool) *Env {
	e := &Env{Var: make(Var), base: make(Var)}
	if inheritOS {
		for _, kv := range os.Environ() {
			if k, v, ok := split(kv); ok {
				e.base[k] = v
			}
		}
	}
	return e
}

// Set sets a variable K=V for every child.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.Var[k] = v
}

// SetAll applies "K=V" pairs; malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// Merge returns the final sorted "K=V" list for one child, with ${VAR}
// references expanded once against the composed map.
func (e *Env) Merge(perKind []string) []string {
	m := make(Var, len(e.base)+len(e.Var)+len(perKind))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		m[k] = v
	}
	for _, kv := range perKind {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// LoadFile parses a .env file of KEY=VALUE lines. Blank lines and lines starting
// with # are ignored.
func LoadFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := split(line); ok {
			out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
		}
	}
	return out, nil
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			break
		}
		b.WriteString(s[:i])
		k := s[i+2 : i+j]
		if v, ok := m[k]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
	b.WriteString(s)
	return b.String()
}
