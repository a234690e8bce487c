// Package proxy owns the pool of egress proxies: round-robin selection and a
// per-proxy health state machine (healthy, degraded, banned with cooldown).
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/metrics"
)

// State is a proxy's health.
type State string

// Health states.
const (
	Healthy  State = "healthy"
	Degraded State = "degraded"
	Banned   State = "banned"
)

// Record describes one egress identity. Callers receive copies.
type Record struct {
	Address             string    `json:"address"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastUsed            time.Time `json:"last_used"`
	BannedAt            time.Time `json:"banned_at,omitempty"`
}

// Redacted returns the address with any password masked, for logs and status.
func (r Record) Redacted() string {
	u, err := url.Parse(r.Address)
	if err != nil || u.User == nil {
		return r.Address
	}
	return u.Redacted()
}

// Config tunes the health thresholds.
type Config struct {
	DegradeAfter int
	BanAfter     int
	Cooldown     time.Duration
}

const (
	defaultDegradeAfter = 3
	defaultBanAfter     = 5
	defaultCooldown     = 5 * time.Minute
)

// Rotator selects proxies round-robin and tracks their health.
type Rotator struct {
	mu      sync.Mutex
	records []*Record
	index   map[string]*Record
	next    int
	cfg     Config
	clock   crawler.Clock
}

// NewRotator validates addresses and builds a Rotator with every proxy healthy.
func NewRotator(addresses []string, cfg Config, clock crawler.Clock) (*Rotator, error) {
	if len(addresses) == 0 {
		return nil, errors.New("proxy pool is empty")
	}
	if cfg.DegradeAfter <= 0 {
		cfg.DegradeAfter = defaultDegradeAfter
	}
	if cfg.BanAfter <= 0 {
		cfg.BanAfter = defaultBanAfter
	}
	if cfg.BanAfter < cfg.DegradeAfter {
		cfg.BanAfter = cfg.DegradeAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	r := &Rotator{
		index: make(map[string]*Record, len(addresses)),
		cfg:   cfg,
		clock: clock,
	}
	for _, raw := range addresses {
		addr := strings.TrimSpace(raw)
		u, err := url.Parse(addr)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy address %q", raw)
		}
		if _, dup := r.index[addr]; dup {
			continue
		}
		rec := &Record{Address: addr, State: Healthy}
		r.records = append(r.records, rec)
		r.index[addr] = rec
	}
	return r, nil
}

// Select returns the next usable proxy, preferring healthy ones. It returns
// crawler.ErrNoEgress when every proxy is banned.
func (r *Rotator) Select() (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.reviveLocked(now)

	if rec := r.pickLocked(Healthy); rec != nil {
		rec.LastUsed = now
		return *rec, nil
	}
	if rec := r.pickLocked(Degraded); rec != nil {
		rec.LastUsed = now
		return *rec, nil
	}
	return Record{}, crawler.ErrNoEgress
}

// ReportOutcome updates the health of address after a request through it.
func (r *Rotator) ReportOutcome(address string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.index[address]
	if !ok {
		return
	}
	if success {
		rec.ConsecutiveFailures = 0
		r.transitionLocked(rec, Healthy)
		return
	}
	if rec.State == Banned {
		return
	}
	rec.ConsecutiveFailures++
	switch {
	case rec.ConsecutiveFailures >= r.cfg.BanAfter:
		rec.BannedAt = r.clock.Now()
		r.transitionLocked(rec, Banned)
	case rec.ConsecutiveFailures >= r.cfg.DegradeAfter:
		r.transitionLocked(rec, Degraded)
	}
}

// Snapshot returns copies of every record in pool order.
func (r *Rotator) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// pickLocked scans round-robin from the cursor for a record in state.
func (r *Rotator) pickLocked(state State) *Record {
	n := len(r.records)
	for i := 0; i < n; i++ {
		idx := (r.next + i) % n
		rec := r.records[idx]
		if rec.State == state {
			r.next = (idx + 1) % n
			return rec
		}
	}
	return nil
}

// reviveLocked moves banned records whose cooldown elapsed to degraded with
// a reset failure counter.
func (r *Rotator) reviveLocked(now time.Time) {
	for _, rec := range r.records {
		if rec.State == Banned && now.Sub(rec.BannedAt) >= r.cfg.Cooldown {
			rec.ConsecutiveFailures = 0
			rec.BannedAt = time.Time{}
			r.transitionLocked(rec, Degraded)
		}
	}
}

func (r *Rotator) transitionLocked(rec *Record, to State) {
	if rec.State == to {
		return
	}
	rec.State = to
	metrics.ObserveProxyTransition(string(to))
}
