package env

import (
	"sort"
	"strings"
	"testing"
)

func FuzzMerge(f *testing.F) {
	f.Add("A=1\nB=${A}-x", "C=${B}-y")
	f.Add("WALLET=4abc", "WALLET=${WALLET}")
	f.Add("X=${Y", "Y=}")
	f.Add("=nokey\nK==v", "K")

	f.Fuzz(func(t *testing.T, global, perKind string) {
		e := New(false)
		e.SetAll(strings.Split(global, "\n"))
		per := strings.Split(perKind, "\n")
		out := e.Merge(per)

		if !sort.StringsAreSorted(out) {
			t.Fatalf("not sorted: %q", out)
		}
		seen := map[string]bool{}
		for _, kv := range out {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("malformed entry %q", kv)
			}
			if seen[k] {
				t.Fatalf("duplicate key %q", k)
			}
			seen[k] = true
		}
		// every well-formed per-kind key reaches the child
		for _, kv := range per {
			if k, _, ok := split(kv); ok && !seen[k] {
				t.Fatalf("per-kind key %q dropped", k)
			}
		}
	})
}
