package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a subscription level.
type Tier string

const (
	TierTrial   Tier = "TRIAL_TIER"
	TierPro     Tier = "PRO_TIER"
	TierPremium Tier = "PREMIUM_TIER"
)

// ParseTier maps a claim or column value onto a known tier.
// Unknown values fall back to TRIAL.
func ParseTier(s string) Tier {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierPro:
		return TierPro
	case TierPremium:
		return TierPremium
	default:
		return TierTrial
	}
}

// WindowKind distinguishes rolling and calendar windows.
type WindowKind int

const (
	// Rolling looks back a fixed duration from now.
	Rolling WindowKind = iota
	// UTCDay resets at 00:00 UTC.
	UTCDay
)

// Policy is the quota rule for one tier.
type Policy struct {
	Limit int
	Kind  WindowKind
	// Lookback is used by Rolling windows.
	Lookback time.Duration
}

// Window is the (tier, start, limit) triple derived for a single request.
type Window struct {
	Tier      Tier
	Start     time.Time
	Limit     int
	ResetTime string
}

// window computes the window for p at now.
func (p Policy) window(tier Tier, now time.Time) Window {
	w := Window{Tier: tier, Limit: p.Limit}

	switch p.Kind {
	case UTCDay:
		utc := now.UTC()
		w.Start = time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
		w.ResetTime = "00:00 UTC next day"
	default:
		w.Start = now.Add(-p.Lookback)
		w.ResetTime = fmt.Sprintf("rolling %d days", int(p.Lookback.Hours()/24))
	}

	return w
}

// DefaultPolicies returns the stock quota table.
func DefaultPolicies() map[Tier]Policy {
	return map[Tier]Policy{
		TierTrial:   {Limit: 5, Kind: Rolling, Lookback: 30 * 24 * time.Hour},
		TierPro:     {Limit: 10, Kind: UTCDay},
		TierPremium: {Limit: 25, Kind: UTCDay},
	}
}
