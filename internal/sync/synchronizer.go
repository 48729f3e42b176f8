// Package sync implements the Book Synchronizer for diff-feed venues: it
// splices a REST snapshot with a buffered incremental diff stream and
// detects desync per spec.md §4.3. Grounded on the teacher's
// internal/market/book.go (mutex-protected local book mirror, ApplySnapshot
// vs incremental-apply split) generalized to the Binance-style
// [first_update_id, final_update_id] splice protocol from
// original_source's feeds/book.py.
package sync

import (
	"sort"
	"sync"

	"sublimine-ids/internal/book"
	"sublimine-ids/pkg/types"
)

// Synchronizer owns one venue's OrderBook plus the splice bookkeeping
// needed to align it with a diff-feed stream.
type Synchronizer struct {
	mu sync.Mutex

	book         *book.OrderBook
	lastUpdateID int64
	synced       bool
	desynced     bool
	firstApplied bool
	pending      []types.BookDelta

	resyncInFlight bool
}

// New creates a Synchronizer over a fresh depth-limited OrderBook for the
// given symbol/venue.
func New(symbol string, venue types.Venue, depth int) *Synchronizer {
	return &Synchronizer{book: book.New(symbol, venue, depth)}
}

// Book returns the underlying OrderBook (read access only; mutation goes
// through ApplySnapshot/OnDelta).
func (s *Synchronizer) Book() *book.OrderBook { return s.book }

// Desynced reports whether the synchronizer has detected a splice
// violation since the last snapshot.
func (s *Synchronizer) Desynced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desynced
}

// LastUpdateID returns the last accepted update id.
func (s *Synchronizer) LastUpdateID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdateID
}

// OnDelta buffers a diff if no snapshot has been applied yet, otherwise
// splices it immediately through the same accept/discard/desync rules.
func (s *Synchronizer) OnDelta(d types.BookDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.synced {
		s.pending = append(s.pending, d)
		return
	}
	s.applyOne(d)
}

// ApplySnapshot splices a REST snapshot with any diffs buffered before it
// arrived, per the protocol in spec.md §4.3.
func (s *Synchronizer) ApplySnapshot(snap types.BookSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.book.ApplySnapshot(snap)
	s.lastUpdateID = snap.LastUpdateID
	s.synced = true
	s.desynced = false
	s.firstApplied = false

	buffered := s.pending
	s.pending = nil
	sort.Slice(buffered, func(i, j int) bool { return buffered[i].FinalUpdateID < buffered[j].FinalUpdateID })
	for _, d := range buffered {
		s.applyOne(d)
	}
}

// TryResync marks a desync's resync as in flight via try-acquire
// semantics: returns true only for the caller that wins the race, so at
// most one resync attempt runs concurrently per connector (spec.md §5).
func (s *Synchronizer) TryResync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resyncInFlight {
		return false
	}
	s.resyncInFlight = true
	return true
}

// ResyncDone releases the in-flight resync lock and resets synchronizer
// state so a fresh ApplySnapshot starts clean.
func (s *Synchronizer) ResyncDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncInFlight = false
	s.synced = false
	s.desynced = false
	s.firstApplied = false
	s.pending = nil
}

// applyOne runs the accept/discard/desync decision for one diff. Caller
// must hold s.mu.
func (s *Synchronizer) applyOne(d types.BookDelta) {
	if d.IsSnapshot {
		s.book.ApplySnapshot(types.BookSnapshot{
			Symbol: d.Symbol, Venue: d.Venue, Timestamp: d.Timestamp,
			Bids: d.Bids, Asks: d.Asks,
		})
		s.lastUpdateID = d.FinalUpdateID
		s.firstApplied = true
		return
	}

	if d.FinalUpdateID < s.lastUpdateID {
		return
	}

	if !s.firstApplied {
		if !(d.FirstUpdateID <= s.lastUpdateID && s.lastUpdateID <= d.FinalUpdateID) {
			s.desynced = true
			return
		}
		s.firstApplied = true
	} else if d.FirstUpdateID != s.lastUpdateID+1 {
		s.desynced = true
		return
	}

	s.book.ApplyDelta(d)
	s.lastUpdateID = d.FinalUpdateID
}
