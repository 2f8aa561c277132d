package server

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TargetLimiter keeps concurrent runs and run frequency per target host under
// the configured limits, so checking a deployment never turns into load
// testing it.
type TargetLimiter struct {
	mu        sync.Mutex
	targets   map[string]*targetState
	maxActive int
	rpm       int
}

type TargetLease struct {
	Host string
	ref  *targetState
}

type targetState struct {
	ActiveRuns    int
	RunsLastMin   []time.Time
	LastRunsTotal int64
}

func NewTargetLimiter(cfg LimitsConfig) *TargetLimiter {
	maxActive := cfg.PerTargetActive
	if maxActive <= 0 {
		maxActive = 1
	}
	rpm := cfg.PerTargetRPM
	if rpm <= 0 {
		rpm = 4
	}
	return &TargetLimiter{
		targets:   map[string]*targetState{},
		maxActive: maxActive,
		rpm:       rpm,
	}
}

// Acquire reserves a run slot for the target's host. It fails when the host
// already has the maximum number of active runs or was checked too recently.
func (l *TargetLimiter) Acquire(rawURL string) (TargetLease, error) {
	host := hostOf(rawURL)
	if host == "" {
		return TargetLease{}, errors.New("target URL has no host")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.targets[host]
	if !ok {
		state = &targetState{}
		l.targets[host] = state
	}
	now := time.Now()
	state.RunsLastMin = filterRecentTime(state.RunsLastMin, now.Add(-1*time.Minute))

	if state.ActiveRuns >= l.maxActive {
		return TargetLease{}, errors.New("target already has an active run")
	}
	if len(state.RunsLastMin) >= l.rpm {
		return TargetLease{}, errors.New("target run rate limit reached")
	}

	state.ActiveRuns++
	state.RunsLastMin = append(state.RunsLastMin, now)
	state.LastRunsTotal++
	return TargetLease{Host: host, ref: state}, nil
}

func (l *TargetLimiter) Release(lease TargetLease) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lease.ref == nil {
		return
	}
	if lease.ref.ActiveRuns > 0 {
		lease.ref.ActiveRuns--
	}
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

func filterRecentTime(items []time.Time, cutoff time.Time) []time.Time {
	if len(items) == 0 {
		return items
	}
	out := items[:0]
	for _, item := range items {
		if item.After(cutoff) {
			out = append(out, item)
		}
	}
	return out
}

type ipRateLimiter struct {
	mu      sync.Mutex
	rpm     int
	records map[string][]time.Time
}

func newIPRateLimiter(rpm int) *ipRateLimiter {
	if rpm <= 0 {
		rpm = 6
	}
	return &ipRateLimiter{
		rpm:     rpm,
		records: map[string][]time.Time{},
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	items := filterRecentTime(l.records[key], now.Add(-1*time.Minute))
	if len(items) >= l.rpm {
		l.records[key] = items
		return false
	}
	l.records[key] = append(items, now)
	return true
}
