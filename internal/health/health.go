// Package health implements the HealthMonitor: per-venue freshness and
// rate accounting feeding a composite data-quality score, and the
// EngineGuard state machine gating the pipeline on that score. Grounded
// on the teacher's internal/risk/manager.go (mutex-protected aggregate
// state, threshold-driven kill conditions) generalized from a single
// portfolio kill switch to a per-venue, reason-coded scoring model per
// original_source's health.py / state.py.
package health

import (
	"sort"
	"sync"
	"time"

	"sublimine-ids/pkg/types"
)

// Thresholds parameterizes HealthMonitor scoring and EngineGuard
// hysteresis. The original's config.py carries none of the health_*
// fields; the defaults below are synthesized and recorded in SPEC_FULL.md.
type Thresholds struct {
	MaxStaleMs          int64
	MaxMidDiffBps        float64
	EPSWindowMs          int64
	MinEPS               float64
	RateWindowMs         int64
	MaxGapsInWindow      int
	MaxResyncPerMin      float64
	MaxDesyncPerMin      float64
	MaxQueueDepth        int

	KillScore          float64
	FreezeScore        float64
	DegradedScore      float64
	RecoverScore       float64
	RecoverWindowMs    int64
	RiskScaleDegraded  float64
}

// DefaultThresholds returns the synthesized health_* defaults documented
// in SPEC_FULL.md.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxStaleMs:        2000,
		MaxMidDiffBps:     50,
		EPSWindowMs:       5000,
		MinEPS:            5,
		RateWindowMs:      60_000,
		MaxGapsInWindow:   5,
		MaxResyncPerMin:   3,
		MaxDesyncPerMin:   2,
		MaxQueueDepth:     1000,
		KillScore:         0.15,
		FreezeScore:       0.35,
		DegradedScore:     0.60,
		RecoverScore:      0.75,
		RecoverWindowMs:   5000,
		RiskScaleDegraded: 0.5,
	}
}

type eventDeque struct {
	mu   sync.Mutex
	ts   []time.Time
}

func (d *eventDeque) add(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ts = append(d.ts, t)
}

// countSince returns how many recorded timestamps fall within
// [ref-window, ref], pruning older ones. Each deque is only ever counted
// with one window (EPSWindowMs for book/trade/feature, RateWindowMs for
// resync/desync/gap), and the newest timestamp is always kept so latest()
// still reports it, so pruning never discards data another query needs.
func (d *eventDeque) countSince(ref time.Time, window time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := ref.Add(-window)
	i := 0
	for i < len(d.ts) && d.ts[i].Before(cutoff) {
		i++
	}
	if i == len(d.ts) && i > 0 {
		i--
	}
	if i > 0 {
		d.ts = d.ts[i:]
	}
	n := 0
	for _, t := range d.ts {
		if !t.Before(cutoff) && !t.After(ref) {
			n++
		}
	}
	return n
}

func (d *eventDeque) latest() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ts) == 0 {
		return time.Time{}, false
	}
	return d.ts[len(d.ts)-1], true
}

type venueState struct {
	book    eventDeque
	trade   eventDeque
	feature eventDeque
	resync  eventDeque
	desync  eventDeque
	gap     eventDeque

	mu  sync.Mutex
	mid float64
}

// Monitor observes per-venue event streams and computes DataQualitySnapshot
// assessments on demand.
type Monitor struct {
	cfg Thresholds

	mu         sync.Mutex
	venues     map[types.Venue]*venueState
	queueDepth int
}

// New creates a HealthMonitor.
func New(cfg Thresholds) *Monitor {
	return &Monitor{cfg: cfg, venues: make(map[types.Venue]*venueState)}
}

func (m *Monitor) state(v types.Venue) *venueState {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.venues[v]
	if !ok {
		vs = &venueState{}
		m.venues[v] = vs
	}
	return vs
}

func (m *Monitor) ObserveBook(v types.Venue, ts time.Time) { m.state(v).book.add(ts) }
func (m *Monitor) ObserveTrade(v types.Venue, ts time.Time) { m.state(v).trade.add(ts) }
func (m *Monitor) ObserveFeature(v types.Venue, ts time.Time) { m.state(v).feature.add(ts) }
func (m *Monitor) ObserveResync(v types.Venue, ts time.Time) { m.state(v).resync.add(ts) }
func (m *Monitor) ObserveDesync(v types.Venue, ts time.Time) { m.state(v).desync.add(ts) }
func (m *Monitor) ObserveGap(v types.Venue, ts time.Time)   { m.state(v).gap.add(ts) }

// SetQueueDepth records the LiveRunner's current ingress queue depth.
func (m *Monitor) SetQueueDepth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = n
}

// SetMid records a venue's latest mid price for cross-venue comparison.
func (m *Monitor) SetMid(v types.Venue, mid float64) {
	vs := m.state(v)
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.mid = mid
}

// Assessment is the guard-facing verdict derived from a snapshot: the
// composite score plus the specific boolean conditions EngineGuard's
// cascading rules test against.
type Assessment struct {
	Snap types.DataQualitySnapshot

	MissingFeed    bool
	MidDiffHigh    bool
	QueueDepthHigh bool
	AnyStale       bool
	AnySoft        bool
}

// Snapshot computes the composite data-quality assessment for symbol at
// refTs across requiredVenues. Reason codes are appended in the exact
// order conditions are discovered and deduplicated preserving first
// occurrence.
func (m *Monitor) Snapshot(symbol string, refTs time.Time, requiredVenues []types.Venue) Assessment {
	score := 1.0
	var reasons []string
	seen := make(map[string]bool)
	addReason := func(code string) {
		if !seen[code] {
			seen[code] = true
			reasons = append(reasons, code)
		}
	}

	perVenue := make(map[types.Venue]types.VenueHealth, len(requiredVenues))
	mids := make(map[types.Venue]float64, len(requiredVenues))

	var missingFeed, midDiffHigh, anyStale, anySoft bool

	for _, v := range requiredVenues {
		vs := m.state(v)

		bookTs, hasBook := vs.book.latest()
		tradeTs, hasTrade := vs.trade.latest()
		featTs, hasFeat := vs.feature.latest()

		if !hasBook && !hasTrade && !hasFeat {
			missingFeed = true
			score = 0
			addReason("missing_feed_" + string(v))
			perVenue[v] = types.VenueHealth{}
			continue
		}

		latest := bookTs
		for _, t := range []time.Time{tradeTs, featTs} {
			if t.After(latest) {
				latest = t
			}
		}

		stalenessMs := refTs.Sub(latest).Milliseconds()
		if stalenessMs < 0 {
			stalenessMs = 0
		}
		if stalenessMs > m.cfg.MaxStaleMs {
			anyStale = true
			score = 0
			addReason("stale_" + string(v))
		}

		epsWindow := time.Duration(m.cfg.EPSWindowMs) * time.Millisecond
		events := vs.book.countSince(refTs, epsWindow) + vs.trade.countSince(refTs, epsWindow) + vs.feature.countSince(refTs, epsWindow)
		eps := float64(events) / (float64(m.cfg.EPSWindowMs) / 1000.0)
		if eps < m.cfg.MinEPS {
			anySoft = true
			score *= 0.5
			addReason("low_eps_" + string(v))
		}

		rateWindow := time.Duration(m.cfg.RateWindowMs) * time.Millisecond
		resyncPerMin := float64(vs.resync.countSince(refTs, rateWindow)) / (float64(m.cfg.RateWindowMs) / 60_000.0)
		desyncPerMin := float64(vs.desync.countSince(refTs, rateWindow)) / (float64(m.cfg.RateWindowMs) / 60_000.0)
		if resyncPerMin > m.cfg.MaxResyncPerMin {
			anySoft = true
			score *= 0.6
			addReason("resync_rate_high_" + string(v))
		}
		if desyncPerMin > m.cfg.MaxDesyncPerMin {
			anySoft = true
			score *= 0.6
			addReason("desync_rate_high_" + string(v))
		}

		gapCount := vs.gap.countSince(refTs, rateWindow)
		if gapCount > m.cfg.MaxGapsInWindow {
			anySoft = true
			score *= 0.7
			addReason("gap_rate_high_" + string(v))
		}

		vs.mu.Lock()
		mid := vs.mid
		vs.mu.Unlock()
		mids[v] = mid

		perVenue[v] = types.VenueHealth{
			LastBookTs: bookTs, LastTradeTs: tradeTs, LastFeatureTs: featTs,
			StalenessMs: float64(stalenessMs), EPS: eps,
			ResyncPerMin: resyncPerMin, DesyncPerMin: desyncPerMin, GapCount: gapCount,
		}
	}

	var midDiffBps float64
	if !missingFeed && len(requiredVenues) >= 2 {
		names := make([]types.Venue, 0, len(mids))
		for v := range mids {
			names = append(names, v)
		}
		sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
		var vals []float64
		for _, v := range names {
			if mids[v] == 0 {
				missingFeed = true
				score = 0
				addReason("missing_mid_" + string(v))
			}
			vals = append(vals, mids[v])
		}
		if !missingFeed && len(vals) >= 2 {
			a, b := vals[0], vals[1]
			avg := (a + b) / 2
			if avg != 0 {
				diff := a - b
				if diff < 0 {
					diff = -diff
				}
				midDiffBps = diff / avg * 10_000
			}
			if midDiffBps > m.cfg.MaxMidDiffBps {
				midDiffHigh = true
				score = 0
				addReason("mid_diff_high")
			}
		}
	}

	m.mu.Lock()
	queueDepth := m.queueDepth
	m.mu.Unlock()
	queueDepthHigh := queueDepth > m.cfg.MaxQueueDepth
	if queueDepthHigh {
		score = 0
		addReason("queue_depth_high")
	}

	return Assessment{
		Snap: types.DataQualitySnapshot{
			Timestamp: refTs, Symbol: symbol, PerVenue: perVenue,
			QueueDepth: queueDepth, Mids: mids, MidDiffBps: midDiffBps,
			Score: score, ReasonCodes: reasons,
		},
		MissingFeed: missingFeed, MidDiffHigh: midDiffHigh,
		QueueDepthHigh: queueDepthHigh, AnyStale: anyStale, AnySoft: anySoft,
	}
}
