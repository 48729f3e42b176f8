package features

import "sublimine-ids/internal/rolling"

// basisTracker computes the leader/follower mid spread and a lead-lag
// ratio across successive updates. Grounded on original_source's
// features/basis.py.
//
// Resolved Open Question (b) from spec.md §9: the original always fed
// (mid, mid) of the same venue when no follower was wired, making basis_z
// always 0 but lead_lag not always 0 — an acknowledged quirk. This tracker
// instead requires an explicit follower mid; Update returns (0, 0)
// whenever no follower is supplied, matching the spec's recommended fix.
type basisTracker struct {
	stats        *rolling.Stats
	lastLeader   float64
	lastFollower float64
	hasPrev      bool
}

func newBasisTracker(window int) *basisTracker {
	return &basisTracker{stats: rolling.NewStats(window)}
}

// Update computes basis_z and lead_lag for one step. followerMid is nil
// when no true follower venue is wired, in which case both outputs are 0
// and the previous-mid state resets (a gap in follower data would
// otherwise corrupt the next delta).
//
// lead_lag is min(|Δleader/Δfollower|, 3)/3 when Δfollower≠0, per
// spec.md §4.2 E4; the previous follower mid needed for Δfollower is
// just the prior call's followerMid, so no cross-venue state is needed
// beyond what Update already receives.
func (t *basisTracker) Update(leaderMid float64, followerMid *float64) (basisZ, leadLag float64) {
	if followerMid == nil {
		t.hasPrev = false
		return 0, 0
	}

	basis := leaderMid - *followerMid
	t.stats.Update(basis)
	basisZ = t.stats.ZScore(basis)

	if t.hasPrev {
		deltaLeader := leaderMid - t.lastLeader
		deltaFollower := *followerMid - t.lastFollower
		switch {
		case deltaFollower != 0:
			ratio := deltaLeader / deltaFollower
			if ratio < 0 {
				ratio = -ratio
			}
			if ratio > 3 {
				ratio = 3
			}
			leadLag = ratio / 3
		case deltaLeader != 0:
			leadLag = 1
		default:
			leadLag = 0
		}
	}

	t.lastLeader = leaderMid
	t.lastFollower = *followerMid
	t.hasPrev = true
	return basisZ, leadLag
}
