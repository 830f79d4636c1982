// Package risk implements the multi-gate risk governor: a short-circuit
// chain of checks over live account state that must all pass before the
// decision engine is allowed to act on a consensus decision.
package risk

import (
	"fmt"
	"sync"
	"time"
)

// Gate thresholds, grounded on the original risk governor's test suite.
const (
	LiquidationDistanceMin  = 1.5
	LiquidationDistanceWarn = 2.25
	DailyDrawdownKillPct    = 0.05

	DefaultEquityFloor = 10_000.0
	MinEquityFloor      = 1_000.0
	MaxEquityFloor      = 50_000.0

	DefaultMaxPositionSizePct = 0.10
	MinMaxPositionSizePct     = 0.02
	MaxMaxPositionSizePct     = 0.25

	DefaultMaxTotalExposurePct = 0.50
	MinMaxTotalExposurePct     = 0.25
	MaxMaxTotalExposurePct     = 1.00

	MinKillSwitchCooldown = time.Hour
	MaxKillSwitchCooldown = 7 * 24 * time.Hour
)

// Config holds the governor's configurable bounds, each clamped to the
// ranges the test suite enforces.
type Config struct {
	EquityFloor        float64
	MaxPositionSizePct float64
	MaxTotalExposurePct float64
	KillSwitchCooldown time.Duration
}

// DefaultConfig returns the governor's default gate configuration.
func DefaultConfig() Config {
	return Config{
		EquityFloor:         DefaultEquityFloor,
		MaxPositionSizePct:  DefaultMaxPositionSizePct,
		MaxTotalExposurePct: DefaultMaxTotalExposurePct,
		KillSwitchCooldown:  time.Hour,
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Normalize clamps every configurable field into its valid range.
func (c Config) Normalize() Config {
	c.EquityFloor = clamp(c.EquityFloor, MinEquityFloor, MaxEquityFloor)
	c.MaxPositionSizePct = clamp(c.MaxPositionSizePct, MinMaxPositionSizePct, MaxMaxPositionSizePct)
	c.MaxTotalExposurePct = clamp(c.MaxTotalExposurePct, MinMaxTotalExposurePct, MaxMaxTotalExposurePct)
	c.KillSwitchCooldown = clampDuration(c.KillSwitchCooldown, MinKillSwitchCooldown, MaxKillSwitchCooldown)
	return c
}

// State is the live account snapshot refreshed from the executor before
// every gate evaluation.
type State struct {
	AccountValue        float64
	MarginUsed          float64
	MaintenanceMargin   float64
	TotalExposure       float64
	MarginRatio         float64
	DailyPnL            float64
	DailyStartingEquity float64
	DailyDrawdownPct    float64
}

// CheckResult is the structured outcome of run_all_checks: a single
// allowed/blocked verdict plus every non-fatal warning accumulated along
// the way.
type CheckResult struct {
	Allowed  bool
	Reason   string
	Warnings []string
}

// Governor holds kill-switch latch state and the gate configuration.
type Governor struct {
	mu               sync.Mutex
	cfg              Config
	killSwitchActive bool
	killSwitchAt     time.Time
}

// NewGovernor constructs a Governor with normalized config.
func NewGovernor(cfg Config) *Governor {
	return &Governor{cfg: cfg.Normalize()}
}

// TriggerKillSwitch latches the kill switch at now; it stays active until
// cooldown elapses AND an operator calls ResetKillSwitch.
func (g *Governor) TriggerKillSwitch(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killSwitchActive = true
	g.killSwitchAt = now
}

// ResetKillSwitch is the only way to clear an active kill switch; it is a
// no-op before cooldown has elapsed (callers gate this on an operator
// action at the HTTP layer).
func (g *Governor) ResetKillSwitch(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.killSwitchActive {
		return true
	}
	if now.Sub(g.killSwitchAt) < g.cfg.KillSwitchCooldown {
		return false
	}
	g.killSwitchActive = false
	return true
}

// RunAllChecks evaluates every gate in order, short-circuiting on the
// first block. proposedSize is the notional of the position being
// considered; existingExposure is the notional already committed.
func (g *Governor) RunAllChecks(state State, proposedSize, existingExposure float64, now time.Time) CheckResult {
	g.mu.Lock()
	killActive := g.killSwitchActive
	killAt := g.killSwitchAt
	cooldown := g.cfg.KillSwitchCooldown
	g.mu.Unlock()

	var warnings []string

	if killActive {
		if remaining := cooldown - now.Sub(killAt); remaining > 0 {
			return CheckResult{Allowed: false, Reason: fmt.Sprintf("kill-switch active, %.0fs remaining", remaining.Seconds())}
		}
		return CheckResult{Allowed: false, Reason: "kill-switch active, awaiting operator reset"}
	}

	if state.AccountValue < g.cfg.EquityFloor {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("account value %.2f below equity floor %.2f", state.AccountValue, g.cfg.EquityFloor)}
	}

	if state.MarginRatio < LiquidationDistanceMin {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("margin ratio %.2f below liquidation floor %.2f", state.MarginRatio, LiquidationDistanceMin)}
	}
	if state.MarginRatio < LiquidationDistanceWarn {
		warnings = append(warnings, fmt.Sprintf("margin ratio %.2f below warn threshold %.2f", state.MarginRatio, LiquidationDistanceWarn))
	}

	if state.DailyDrawdownPct > DailyDrawdownKillPct {
		g.TriggerKillSwitch(now)
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("daily drawdown %.2f%% exceeds kill threshold %.2f%%", state.DailyDrawdownPct*100, DailyDrawdownKillPct*100)}
	}

	if state.AccountValue > 0 && proposedSize/state.AccountValue > g.cfg.MaxPositionSizePct {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("position size %.2f%% of equity exceeds cap %.2f%%", proposedSize/state.AccountValue*100, g.cfg.MaxPositionSizePct*100), Warnings: warnings}
	}

	if state.AccountValue > 0 && (existingExposure+proposedSize)/state.AccountValue > g.cfg.MaxTotalExposurePct {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("total exposure %.2f%% of equity exceeds cap %.2f%%", (existingExposure+proposedSize)/state.AccountValue*100, g.cfg.MaxTotalExposurePct*100), Warnings: warnings}
	}

	return CheckResult{Allowed: true, Warnings: warnings}
}

// KillSwitchActive reports the latch state without evaluating gates.
func (g *Governor) KillSwitchActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killSwitchActive
}
