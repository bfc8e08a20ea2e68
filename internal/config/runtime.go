package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Mode selects how the donation loop computes its target.
type Mode string

const (
	ModeAuto                Mode = "auto"
	ModeHero                Mode = "hero"
	ModeManuallyDonate      Mode = "manual_donate"
	ModeManuallyKeep        Mode = "manual_keep"
	ModeManualDonationLevel Mode = "manual_level"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeHero, ModeManuallyDonate, ModeManuallyKeep, ModeManualDonationLevel:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", fmt.Errorf("unknown xvb mode %q", s)
}

// Tier is a published donation level.
type Tier string

const (
	TierDonor Tier = "donor"
	TierVIP   Tier = "vip"
	TierWhale Tier = "whale"
	TierMega  Tier = "mega"
)

// Threshold is the tier's hashrate in H/s.
func (t Tier) Threshold() float64 {
	switch t {
	case TierVIP:
		return 10_000
	case TierWhale:
		return 100_000
	case TierMega:
		return 1_000_000
	default:
		return 1_000
	}
}

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierDonor, TierVIP, TierWhale, TierMega:
		return t, nil
	case "":
		return TierDonor, nil
	}
	return "", fmt.Errorf("unknown donation level %q", s)
}

// RuntimeSettings are the donation knobs that can change without a restart.
type RuntimeSettings struct {
	Mode   Mode    `json:"mode"`
	Amount float64 `json:"amount"`
	Level  Tier    `json:"level"`
}

func (r RuntimeSettings) Validate() error {
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	if _, err := ParseTier(string(r.Level)); err != nil {
		return err
	}
	if r.Amount < 0 {
		return fmt.Errorf("xvb amount must not be negative: %v", r.Amount)
	}
	return nil
}

// Normalize fills empty mode and level with their defaults.
func (r RuntimeSettings) Normalize() RuntimeSettings {
	if m, err := ParseMode(string(r.Mode)); err == nil {
		r.Mode = m
	}
	if t, err := ParseTier(string(r.Level)); err == nil {
		r.Level = t
	}
	return r
}

// Runtime holds the live RuntimeSettings. The front end and the config watcher
// write it, the donation loop reads it at every decision.
type Runtime struct {
	mu sync.RWMutex
	s  RuntimeSettings
}

func NewRuntime(s RuntimeSettings) *Runtime { return &Runtime{s: s.Normalize()} }

func (r *Runtime) Get() RuntimeSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

// Set validates and replaces the settings.
func (r *Runtime) Set(s RuntimeSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.s = s.Normalize()
	r.mu.Unlock()
	return nil
}

// Watch re-reads path on every change and pushes the [xvb] mode, amount and level
// into rt. Other sections need a restart. Invalid edits are logged and ignored.
func Watch(path string, rt *Runtime) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config watch disabled", "path", path, "error", err)
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var x XvbConfig
		if err := v.UnmarshalKey("xvb", &x); err != nil {
			slog.Warn("config reload failed", "path", e.Name, "error", err)
			return
		}
		if err := rt.Set(x.Runtime()); err != nil {
			slog.Warn("config reload rejected", "path", e.Name, "error", err)
			return
		}
		slog.Info("xvb runtime settings reloaded", "mode", x.Mode, "amount", x.Amount, "level", x.Level)
	})
	v.WatchConfig()
}
