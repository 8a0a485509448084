// Package ratelimit implements the Signal Rate Limiter (C7), grounded on
// liquidation_monitor.go's sliding-window-over-timestamps pattern
// (lazy + eager cleanup of a per-key event slice), generalized from one
// scope (symbol) to three (symbol, provider, global), each with hourly
// and daily caps, plus a per-symbol cooldown and a bounded emergency
// override.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/errs"
)

// Caps is the hourly/daily limit pair for one scope.
type Caps struct {
	Hourly int
	Daily  int
}

// Config configures all three scopes plus cooldown and override policy.
type Config struct {
	Symbol                Caps
	Provider              Caps
	Global                Caps
	CooldownMinutes       int
	SymbolOverrides       map[string]Caps
	ProviderOverrides     map[string]Caps
	EmergencyOverrideLimit int // max activations per day
	EmergencyDuration      time.Duration
}

type window struct {
	timestamps []time.Time
}

func (w *window) cleanup(now time.Time, max time.Duration) {
	cutoff := now.Add(-max)
	valid := w.timestamps[:0]
	for _, t := range w.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	w.timestamps = valid
}

func (w *window) countSince(now time.Time, d time.Duration) int {
	cutoff := now.Add(-d)
	n := 0
	for _, t := range w.timestamps {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// Limiter is the single-owner actor over every scope's sliding window;
// all access must go through its exported methods (message-passing via
// method calls guarded by one lock, per the concurrency model).
type Limiter struct {
	mu     sync.Mutex
	clock  clock.Clock
	config Config

	symbolWindows   map[string]*window
	providerWindows map[string]*window
	globalWindow    *window
	lastSignalAt    map[string]time.Time // per-symbol cooldown

	emergencyUntil      time.Time
	emergencyActivations int
	emergencyDay         time.Time
}

func New(clk clock.Clock, config Config) *Limiter {
	return &Limiter{
		clock:           clk,
		config:          config,
		symbolWindows:   map[string]*window{},
		providerWindows: map[string]*window{},
		globalWindow:    &window{},
		lastSignalAt:    map[string]time.Time{},
	}
}

const maxWindow = 24 * time.Hour

func (l *Limiter) capsFor(symbol, provider string) (Caps, Caps, Caps) {
	sym := l.config.Symbol
	if c, ok := l.config.SymbolOverrides[symbol]; ok {
		sym = c
	}
	prov := l.config.Provider
	if c, ok := l.config.ProviderOverrides[provider]; ok {
		prov = c
	}
	return sym, prov, l.config.Global
}

// Check enforces spec §4.7's four-step decision for one candidate
// signal, without recording it. Callers that intend to accept the
// signal must call Record afterward.
func (l *Limiter) Check(symbol, provider string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	emergencyActive := !l.emergencyUntil.IsZero() && now.Before(l.emergencyUntil)

	symCaps, provCaps, globalCaps := l.capsFor(symbol, provider)

	symW := l.windowFor(l.symbolWindows, symbol)
	provW := l.windowFor(l.providerWindows, provider)
	symW.cleanup(now, maxWindow)
	provW.cleanup(now, maxWindow)
	l.globalWindow.cleanup(now, maxWindow)

	if !emergencyActive {
		if blocked, reason := capBlocked(symW, now, symCaps); blocked {
			return blockErr("Symbol", reason, now)
		}
		if blocked, reason := capBlocked(provW, now, provCaps); blocked {
			return blockErr("Provider", reason, now)
		}
		if blocked, reason := capBlocked(l.globalWindow, now, globalCaps); blocked {
			return blockErr("Global", reason, now)
		}

		if last, ok := l.lastSignalAt[symbol]; ok {
			cooldown := time.Duration(l.config.CooldownMinutes) * time.Minute
			if now.Sub(last) < cooldown {
				return errs.New(errs.KindPolicyBlock, "BlockedCooldown", symbol)
			}
		}
	}

	return nil
}

func (l *Limiter) windowFor(m map[string]*window, key string) *window {
	w, ok := m[key]
	if !ok {
		w = &window{}
		m[key] = w
	}
	return w
}

func capBlocked(w *window, now time.Time, caps Caps) (bool, string) {
	if caps.Hourly > 0 && w.countSince(now, time.Hour) >= caps.Hourly {
		return true, "Hourly"
	}
	if caps.Daily > 0 && w.countSince(now, 24*time.Hour) >= caps.Daily {
		return true, "Daily"
	}
	return false, ""
}

func blockErr(scope, reason string, now time.Time) error {
	return errs.New(errs.KindPolicyBlock, fmt.Sprintf("Blocked%s%s", scope, reason), fmt.Sprintf("reset_hint=%s", now.Add(time.Hour)))
}

// Record appends now to the symbol/provider/global windows and updates
// the per-symbol cooldown marker. Call only after Check has allowed the
// signal.
func (l *Limiter) Record(symbol, provider string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.windowFor(l.symbolWindows, symbol).timestamps = append(l.windowFor(l.symbolWindows, symbol).timestamps, now)
	l.windowFor(l.providerWindows, provider).timestamps = append(l.windowFor(l.providerWindows, provider).timestamps, now)
	l.globalWindow.timestamps = append(l.globalWindow.timestamps, now)
	l.lastSignalAt[symbol] = now
}

// Count returns the current count for a scope/key within the given
// window duration, for testable-property assertions (invariant 4).
func (l *Limiter) Count(scope, key string, now time.Time, d time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var w *window
	switch scope {
	case "symbol":
		w = l.windowFor(l.symbolWindows, key)
	case "provider":
		w = l.windowFor(l.providerWindows, key)
	default:
		w = l.globalWindow
	}
	w.cleanup(now, maxWindow)
	return w.countSince(now, d)
}

// ActivateEmergencyOverride bypasses all caps and cooldown for the
// configured duration, bounded to EmergencyOverrideLimit activations
// per calendar day.
func (l *Limiter) ActivateEmergencyOverride(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := now.Truncate(24 * time.Hour)
	if !l.emergencyDay.Equal(day) {
		l.emergencyDay = day
		l.emergencyActivations = 0
	}
	if l.emergencyActivations >= l.config.EmergencyOverrideLimit {
		return errs.New(errs.KindPolicyBlock, "EmergencyOverrideExhausted", "")
	}
	l.emergencyActivations++
	l.emergencyUntil = now.Add(l.config.EmergencyDuration)
	return nil
}
