package observability

import (
	"testing"
	"time"
)

func TestOutcomeStats_RecordAndReport(t *testing.T) {
	s := NewOutcomeStats(time.Hour)
	s.Record("oms", "offenders", OutcomeSuccess)
	s.Record("oms", "offenders", OutcomeSuccess)
	s.Record("oms", "offenders", OutcomeMergeFailure)
	s.Record("oms", "sentences", OutcomeRetriesExhausted)

	report := s.Report()
	byKey := make(map[string]Snapshot)
	for _, snap := range report {
		byKey[snap.Source+"/"+snap.Table] = snap
	}

	offenders, ok := byKey["oms/offenders"]
	if !ok {
		t.Fatal("expected oms/offenders in report")
	}
	if offenders.Counts[OutcomeSuccess] != 2 {
		t.Errorf("expected 2 successes, got %d", offenders.Counts[OutcomeSuccess])
	}
	if offenders.Counts[OutcomeMergeFailure] != 1 {
		t.Errorf("expected 1 merge failure, got %d", offenders.Counts[OutcomeMergeFailure])
	}

	sentences, ok := byKey["oms/sentences"]
	if !ok {
		t.Fatal("expected oms/sentences in report")
	}
	if sentences.Counts[OutcomeRetriesExhausted] != 1 {
		t.Errorf("expected 1 retries-exhausted, got %d", sentences.Counts[OutcomeRetriesExhausted])
	}
}

func TestOutcomeStats_PruneRemovesIdleTables(t *testing.T) {
	s := NewOutcomeStats(-time.Second) // already-expired window
	s.Record("oms", "offenders", OutcomeSuccess)
	s.Prune()

	if len(s.Report()) != 0 {
		t.Error("expected idle table pruned")
	}
}

func TestOutcomeStats_UnseenTableReportsEmpty(t *testing.T) {
	s := NewOutcomeStats(time.Hour)
	if len(s.Report()) != 0 {
		t.Error("expected empty report before any Record call")
	}
}
