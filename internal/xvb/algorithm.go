package xvb

import (
	"fmt"
	"math"
	"time"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/pool"
	"github.com/loykin/hashvisr/internal/pubapi"
)

const (
	// FloorDonation is the smallest donation worth sending, in H/s.
	FloorDonation = 1000.0
	// AutoRatio is the share of hashrate Auto mode donates when the side-chain is easy.
	AutoRatio = 0.5
	// SidechainMargin is the headroom kept above the hashrate needed for one share per window.
	SidechainMargin = 1.2
	// BlockTime is the side-chain block time.
	BlockTime = 10 * time.Second
	// DefaultPPLNSWindow is used when P2Pool has not reported its window yet.
	DefaultPPLNSWindow = 2160
	// minSplit is the fraction of the interval below which a donation is skipped.
	minSplit = 0.01
)

// Inputs is everything one decision looks at.
type Inputs struct {
	Settings            config.RuntimeSettings
	Hashrate            float64 // trailing average, H/s
	SidechainDifficulty uint64
	PPLNSWindow         int
	SidechainEHR        float64 // P2Pool's pool-side estimate of our hashrate, H/s
}

// NeededHashrate is the hashrate that keeps at least one share in the PPLNS window,
// with SidechainMargin on top.
func NeededHashrate(difficulty uint64, window int) float64 {
	if window <= 0 {
		window = DefaultPPLNSWindow
	}
	secs := float64(window) * BlockTime.Seconds()
	return float64(difficulty) / secs * SidechainMargin
}

// Target computes the hashrate to donate for the runtime mode.
func Target(in Inputs) float64 {
	hr := math.Max(in.Hashrate, 0)
	switch in.Settings.Mode {
	case config.ModeManuallyDonate:
		return in.Settings.Amount
	case config.ModeManuallyKeep:
		return math.Max(0, hr-in.Settings.Amount)
	case config.ModeManualDonationLevel:
		return in.Settings.Level.Threshold()
	case config.ModeHero:
		return hero(hr, in)
	default:
		return auto(hr, in)
	}
}

// auto donates AutoRatio of the hashrate when what is left still earns shares on
// the side-chain, otherwise only the floor.
func auto(hr float64, in Inputs) float64 {
	needed := NeededHashrate(in.SidechainDifficulty, in.PPLNSWindow)
	if hr*(1-AutoRatio) >= needed {
		return hr * AutoRatio
	}
	return math.Min(FloorDonation, hr)
}

// hero donates everything not needed to stay in the PPLNS window, counting the
// side-chain's estimate of our hashrate. Without an estimate it falls back to the floor.
func hero(hr float64, in Inputs) float64 {
	if in.SidechainEHR <= 0 {
		return FloorDonation
	}
	needed := NeededHashrate(in.SidechainDifficulty, in.PPLNSWindow)
	t := hr - math.Max(0, needed-in.SidechainEHR)
	t = math.Min(t, hr)
	return math.Max(t, FloorDonation)
}

// Split turns a target into the time to spend on the donation node per interval.
// Splits under one percent of the interval are dropped.
func Split(target, hashrate float64, interval time.Duration) time.Duration {
	if target <= 0 || hashrate <= 0 || interval <= 0 {
		return 0
	}
	frac := math.Min(target/hashrate, 1)
	if frac < minSplit {
		return 0
	}
	return time.Duration(frac * float64(interval)).Round(time.Second)
}

// TrailingHashrate picks the average a decision is based on: the proxy's 10 minute
// window when the proxy is alive, else XMRig's 15 minute window. An empty window
// falls back to the shortest non-zero one.
func TrailingHashrate(proxyAlive bool, proxy pubapi.Proxy, xmrig pubapi.XMRig) float64 {
	if proxyAlive {
		return firstPositive(proxy.Hashrate10m, proxy.Hashrate1m)
	}
	return firstPositive(xmrig.Hashrate15m, xmrig.Hashrate10s, xmrig.Hashrate1m)
}

func firstPositive(vs ...float64) float64 {
	for _, v := range vs {
		if v > 0 {
			return v
		}
	}
	return 0
}

// AlgorithmStats is the outcome of one decision. It is replaced, never mutated,
// by the next decision.
type AlgorithmStats struct {
	Mode           config.Mode
	Hashrate       float64
	TargetDonation float64
	DonateFor      time.Duration
	CurrentNode    pool.Node
	Indicator      string
	DecidedAt      time.Time
	Interval       time.Duration
}

// Decide runs one decision at now. best is the donation node to use.
func Decide(in Inputs, best pool.Node, interval time.Duration, now time.Time) AlgorithmStats {
	t := Target(in)
	d := Split(t, in.Hashrate, interval)
	st := AlgorithmStats{
		Mode:           in.Settings.Mode,
		Hashrate:       in.Hashrate,
		TargetDonation: t,
		DonateFor:      d,
		CurrentNode:    pool.P2Pool,
		DecidedAt:      now,
		Interval:       interval,
	}
	if d > 0 {
		st.CurrentNode = best
		st.Indicator = fmt.Sprintf("donating %.0f H/s to %s for %s", t, best, d)
	} else {
		st.Indicator = fmt.Sprintf("keeping %.0f H/s on p2pool", in.Hashrate)
	}
	return st
}

// Donating reports whether the miner should be on the donation node at now.
func (s AlgorithmStats) Donating(now time.Time) bool {
	return s.DonateFor > 0 && now.Before(s.DecidedAt.Add(s.DonateFor))
}

// TimeUntilSwitch is the display countdown: to the switch back to P2Pool while
// donating, else to the next decision. It never goes below zero.
func (s AlgorithmStats) TimeUntilSwitch(now time.Time) time.Duration {
	if s.DecidedAt.IsZero() {
		return 0
	}
	end := s.DecidedAt.Add(s.Interval)
	if s.Donating(now) {
		end = s.DecidedAt.Add(s.DonateFor)
	}
	if left := end.Sub(now); left > 0 {
		return left.Truncate(time.Second)
	}
	return 0
}
