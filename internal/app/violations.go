package app

import (
	"sync"

	"assessment-session-service/internal/domain"
)

// DefaultViolationThreshold is the per-type count at which an attempt is
// forcibly ended.
const DefaultViolationThreshold = 2

// ViolationAggregator consumes the external monitor's notifications. The
// monitor is authoritative and monotonic per type, so Record replaces the
// stored count instead of incrementing it.
type ViolationAggregator struct {
	mu        sync.Mutex
	threshold int
	counts    domain.Violations
	fired     bool
}

func NewViolationAggregator(threshold int) *ViolationAggregator {
	if threshold <= 0 {
		threshold = DefaultViolationThreshold
	}
	return &ViolationAggregator{
		threshold: threshold,
		counts:    make(domain.Violations),
	}
}

// Record stores the reported count for a type and reports whether the
// forced-end trigger fires now. The trigger fires at most once per attempt;
// later violations keep updating counts but never re-fire it, which is what
// prevents duplicate forced submissions.
func (v *ViolationAggregator) Record(violationType string, count int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[violationType] = count
	if v.fired {
		return false
	}
	for _, c := range v.counts {
		if c >= v.threshold {
			v.fired = true
			return true
		}
	}
	return false
}

// Counts returns a copy of the per-type counts for submission payloads.
func (v *ViolationAggregator) Counts() domain.Violations {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(domain.Violations, len(v.counts))
	for k, c := range v.counts {
		out[k] = c
	}
	return out
}

// Fired reports whether the trigger already fired for this attempt.
func (v *ViolationAggregator) Fired() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fired
}
