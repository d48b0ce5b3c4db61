package validation

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStatistics_Record(t *testing.T) {
	s := NewStatistics()
	s.Record("attack", Accepted)
	s.Record("attack", Rejected(CodeTargetNotFound))
	s.Record("move", Rejected(CodeFatigued))
	s.Record("move", Rejected(CodeFatigued))

	want := StatisticsSnapshot{
		Total:    4,
		Accepted: 1,
		Rejected: 3,
		RejectionsByErrorCode: map[string]int64{
			string(CodeTargetNotFound): 1,
			string(CodeFatigued):       2,
		},
		RejectionsByIntentType: map[string]int64{"attack": 1, "move": 2},
	}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if s.Rejections(CodeFatigued) != 2 {
		t.Errorf("expected 2 fatigued rejections, got %d", s.Rejections(CodeFatigued))
	}
}

func TestStatistics_Merge(t *testing.T) {
	a := NewStatistics()
	b := NewStatistics()
	a.Record("move", Accepted)
	b.Record("move", Rejected(CodeFatigued))

	a.Merge(b)
	snap := a.Snapshot()
	if snap.Total != 2 || snap.Rejected != 1 || snap.RejectionsByErrorCode[string(CodeFatigued)] != 1 {
		t.Errorf("unexpected merged snapshot %+v", snap)
	}
}

func TestStatistics_NilSafe(t *testing.T) {
	var s *Statistics
	s.Record("move", Accepted)
	s.Merge(NewStatistics())
	if snap := s.Snapshot(); snap.Total != 0 || snap.RejectionsByErrorCode == nil {
		t.Errorf("unexpected nil snapshot %+v", snap)
	}
}

func TestStatistics_Concurrent(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				s.Record("harvest", Rejected(CodeSourceDepleted))
			}
		}()
	}
	wg.Wait()
	if got := s.Rejections(CodeSourceDepleted); got != 1000 {
		t.Errorf("expected 1000, got %d", got)
	}
}
