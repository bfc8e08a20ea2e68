package watchdog

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/pool"
	"github.com/loykin/hashvisr/internal/process"
)

const (
	minerJobMarker    = "new job from"
	minerNoPoolMarker = "no active pools, stop mining"
)

var (
	minerUsePool     = regexp.MustCompile(`use pool\s+(\S+)`)
	minerFailMarkers = []string{"connect error", "connection error", "read error", "timeout"}
)

// minerLine is the console analysis shared by xmrig and xmrig-proxy.
type minerLine struct {
	job     bool
	noPool  bool
	usePool string
	failing bool
}

func scanMinerLine(line string) minerLine {
	var m minerLine
	switch {
	case strings.Contains(line, minerJobMarker):
		m.job = true
	case strings.Contains(line, minerNoPoolMarker):
		m.noPool = true
	}
	if sm := minerUsePool.FindStringSubmatch(line); sm != nil {
		m.usePool = sm[1]
	}
	lower := strings.ToLower(line)
	for _, f := range minerFailMarkers {
		if strings.Contains(lower, f) {
			m.failing = true
			break
		}
	}
	return m
}

// toggle applies the job and no-pool markers to the NotMining/Alive pair.
func (m minerLine) toggle(cur process.State) (process.State, bool) {
	switch {
	case m.job && cur == process.NotMining:
		return process.Alive, true
	case m.noPool && cur == process.Alive:
		return process.NotMining, true
	}
	return cur, false
}

// failingDonation returns the donation node a failure line refers to.
func failingDonation(addrs pool.Addresses, line string) (pool.Node, bool) {
	n, ok := addrs.Match(line)
	if !ok || !n.IsDonation() {
		return pool.P2Pool, false
	}
	return n, true
}

func minerHTTPArgs(h config.MinerHTTP) []string {
	args := []string{
		"--http-host", h.Host,
		"--http-port", strconv.Itoa(h.Port),
	}
	if h.Token != "" {
		args = append(args, "--http-access-token", h.Token)
	}
	return append(args, "--http-no-restricted")
}

const summaryPath = "/1/summary"
