package validation

import (
	"maps"
	"sync"
)

// Statistics aggregates validation outcomes. A nil *Statistics is valid and
// discards everything.
type Statistics struct {
	mu       sync.Mutex
	total    int64
	accepted int64
	rejected int64
	byCode   map[Code]int64
	byIntent map[string]int64
}

// StatisticsSnapshot is a point-in-time copy of Statistics.
type StatisticsSnapshot struct {
	Total                  int64            `json:"total"`
	Accepted               int64            `json:"accepted"`
	Rejected               int64            `json:"rejected"`
	RejectionsByErrorCode  map[string]int64 `json:"rejections_by_error_code"`
	RejectionsByIntentType map[string]int64 `json:"rejections_by_intent_type"`
}

// NewStatistics creates empty statistics.
func NewStatistics() *Statistics {
	return &Statistics{
		byCode:   make(map[Code]int64),
		byIntent: make(map[string]int64),
	}
}

// Record counts one outcome.
func (s *Statistics) Record(intent string, r Result) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if r.Valid {
		s.accepted++
		return
	}
	s.rejected++
	s.byCode[r.Code]++
	s.byIntent[intent]++
}

// Rejections returns the rejection count for one code.
func (s *Statistics) Rejections(code Code) int64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byCode[code]
}

// Merge adds other's counts into s.
func (s *Statistics) Merge(other *Statistics) {
	if s == nil || other == nil {
		return
	}
	snap := other.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += snap.Total
	s.accepted += snap.Accepted
	s.rejected += snap.Rejected
	for code, n := range snap.RejectionsByErrorCode {
		s.byCode[Code(code)] += n
	}
	for intent, n := range snap.RejectionsByIntentType {
		s.byIntent[intent] += n
	}
}

// Snapshot returns a copy of the current counts.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	if s == nil {
		return StatisticsSnapshot{
			RejectionsByErrorCode:  map[string]int64{},
			RejectionsByIntentType: map[string]int64{},
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byCode := make(map[string]int64, len(s.byCode))
	for code, n := range s.byCode {
		byCode[string(code)] = n
	}
	return StatisticsSnapshot{
		Total:                  s.total,
		Accepted:               s.accepted,
		Rejected:               s.rejected,
		RejectionsByErrorCode:  byCode,
		RejectionsByIntentType: maps.Clone(s.byIntent),
	}
}
