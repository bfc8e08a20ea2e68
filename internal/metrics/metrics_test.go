package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("xmrig")
	IncStop("xmrig")
	RecordStateTransition("xmrig", "not_mining", "alive")
	SetHashrate("xmrig", "15m", 12345)
	RecordDecision("auto", 1000)
	RecordPush(true)
	RecordPush(false)
	SetHost(12.5, 1<<30)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"hashvisr_process_starts_total":            false,
		"hashvisr_process_stops_total":             false,
		"hashvisr_process_state_transitions_total": false,
		"hashvisr_process_current_state":           false,
		"hashvisr_hashrate_hs":                     false,
		"hashvisr_xvb_target_donation_hs":          false,
		"hashvisr_xvb_decisions_total":             false,
		"hashvisr_xvb_config_push_total":           false,
		"hashvisr_host_cpu_percent":                false,
		"hashvisr_host_memory_used_bytes":          false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestCurrentStateFollowsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	RecordStateTransition("p2pool", "syncing", "alive")
	if v := gaugeValue(t, reg, "hashvisr_process_current_state", map[string]string{"kind": "p2pool", "state": "syncing"}); v != 0 {
		t.Fatalf("syncing gauge = %v, want 0", v)
	}
	if v := gaugeValue(t, reg, "hashvisr_process_current_state", map[string]string{"kind": "p2pool", "state": "alive"}); v != 1 {
		t.Fatalf("alive gauge = %v, want 1", v)
	}
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestHandlerServesMetrics(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), "go_goroutines") {
		t.Fatalf("unexpected metrics response: %d", resp.StatusCode)
	}
}

func TestSamplerSelf(t *testing.T) {
	s := NewSampler()
	h, err := s.Sample(context.Background(), map[string]int32{"self-again": int32(os.Getpid()), "gone": 0})
	if err != nil {
		t.Skipf("host telemetry unavailable: %v", err)
	}
	if h.MemoryTotal == 0 {
		t.Fatalf("expected total memory > 0")
	}
	if h.Self.PID != int32(os.Getpid()) || h.Self.MemoryRSS == 0 {
		t.Fatalf("unexpected self usage: %+v", h.Self)
	}
	if _, ok := h.Children["self-again"]; !ok {
		t.Fatalf("expected child sample")
	}
	if _, ok := h.Children["gone"]; ok {
		t.Fatalf("pid 0 should be skipped")
	}
}
