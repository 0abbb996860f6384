package domain

import "time"

// ActivityState is the polling tier of a conversation
type ActivityState string

const (
	ActivityIdle   ActivityState = "idle"
	ActivityActive ActivityState = "active"
	ActivityBurst  ActivityState = "burst"
)

// ActivityConfig holds the classifier thresholds and the poll period of each tier
type ActivityConfig struct {
	IdleInterval      time.Duration
	ActiveInterval    time.Duration
	BurstInterval     time.Duration
	BurstWindow       time.Duration // trailing window W
	BurstThreshold    int           // messages K within W
	ActiveGrace       time.Duration
	TimestampCapacity int
}

// DefaultActivityConfig returns the default classifier configuration
func DefaultActivityConfig() ActivityConfig {
	return ActivityConfig{
		IdleInterval:      30 * time.Second,
		ActiveInterval:    10 * time.Second,
		BurstInterval:     500 * time.Millisecond,
		BurstWindow:       10 * time.Second,
		BurstThreshold:    8,
		ActiveGrace:       10 * time.Minute,
		TimestampCapacity: DefaultTimestampCapacity,
	}
}

// Interval returns the poll period for a state
func (c ActivityConfig) Interval(state ActivityState) time.Duration {
	switch state {
	case ActivityBurst:
		return c.BurstInterval
	case ActivityActive:
		return c.ActiveInterval
	default:
		return c.IdleInterval
	}
}

// InBurst reports whether at least BurstThreshold timestamps fall in [now-BurstWindow, now]
func (c ActivityConfig) InBurst(timestamps []time.Time, now time.Time) bool {
	if c.BurstThreshold <= 0 {
		return false
	}
	cutoff := now.Add(-c.BurstWindow)
	count := 0
	for _, ts := range timestamps {
		if ts.Before(cutoff) || ts.After(now) {
			continue
		}
		count++
		if count >= c.BurstThreshold {
			return true
		}
	}
	return false
}

// Evaluate returns the state for rec at now without modifying it.
// Burst takes precedence; once it ends, active_until decides between Active and Idle.
func (c ActivityConfig) Evaluate(rec *ConversationRecord, now time.Time) ActivityState {
	if c.InBurst(rec.RecentMessageTimestamps, now) {
		return ActivityBurst
	}
	if !now.After(rec.ActiveUntil) {
		return ActivityActive
	}
	return ActivityIdle
}

// Classify evaluates rec and stores the resulting state and poll interval on it
func (c ActivityConfig) Classify(rec *ConversationRecord, now time.Time) ActivityState {
	state := c.Evaluate(rec, now)
	rec.ActivityState = state
	rec.PollInterval = c.Interval(state).Seconds()
	return state
}

// NameCheckInterval is how often participant display names are re-resolved
func NameCheckInterval(state ActivityState) time.Duration {
	if state == ActivityBurst {
		return time.Minute
	}
	return 5 * time.Minute
}
