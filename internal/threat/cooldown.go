package threat

import (
	"fmt"
	"time"

	"github.com/MrWong99/voiceguard/pkg/types"
)

// CooldownConfig configures [Cooldown].
type CooldownConfig struct {
	// RequiredConsecutive is how many HIGH observations in a row are needed
	// before an incident may fire. Must be ≥ 1.
	RequiredConsecutive int

	// Period is the minimum time between two incidents.
	Period time.Duration
}

// DefaultCooldown fires after three consecutive HIGH cycles, at most once
// every 30 seconds.
var DefaultCooldown = CooldownConfig{RequiredConsecutive: 3, Period: 30 * time.Second}

// Cooldown gates incident creation. Any non-HIGH observation resets the
// consecutive count. A HIGH observation fires when the count has reached
// RequiredConsecutive and either nothing has fired yet or more than Period has
// elapsed since the last fire. Firing resets the count.
//
// Cooldown is owned by the monitoring loop and is not safe for concurrent use.
type Cooldown struct {
	cfg         CooldownConfig
	consecutive int
	last        time.Time
	fired       bool
}

// NewCooldown returns a Cooldown in its initial state.
func NewCooldown(cfg CooldownConfig) (*Cooldown, error) {
	if cfg.RequiredConsecutive < 1 {
		return nil, fmt.Errorf("threat: required_consecutive %d must be at least 1", cfg.RequiredConsecutive)
	}
	if cfg.Period < 0 {
		return nil, fmt.Errorf("threat: cooldown %s must not be negative", cfg.Period)
	}
	return &Cooldown{cfg: cfg}, nil
}

// Observe feeds one classified cycle observed at now and reports whether an
// incident must fire.
func (c *Cooldown) Observe(level types.ThreatLevel, now time.Time) bool {
	if level != types.ThreatHigh {
		c.consecutive = 0
		return false
	}
	c.consecutive++
	if c.consecutive < c.cfg.RequiredConsecutive {
		return false
	}
	if c.fired && now.Sub(c.last) <= c.cfg.Period {
		return false
	}
	c.consecutive = 0
	c.last = now
	c.fired = true
	return true
}

// Consecutive returns the current run length of HIGH observations.
func (c *Cooldown) Consecutive() int { return c.consecutive }

// LastFired returns the time of the last fire and whether one has happened.
func (c *Cooldown) LastFired() (time.Time, bool) { return c.last, c.fired }
