package runner

import (
	"testing"

	"github.com/ozcount/scrutiny-engine/internal/config"
	"github.com/ozcount/scrutiny-engine/internal/count"
)

func tieCandidates() *count.CandidateData {
	return &count.CandidateData{
		Count:   3,
		Names:   []string{"ALPHA, Ann", "BAKER, Bob", "CHARLIE, Col"},
		Parties: []string{"P1", "P2", "P3"},
	}
}

func TestCompileExclusionTies(t *testing.T) {
	ties := []config.Tie{
		{Tie: []string{"BAKER, Bob", "ALPHA, Ann"}, Pick: "BAKER, Bob"},
		{Tie: []string{"CHARLIE, Col", "ALPHA, Ann"}, Pick: "ALPHA, Ann"},
	}
	automation, err := compileExclusionTies(tieCandidates(), ties)
	if err != nil {
		t.Fatalf("compileExclusionTies failed: %v", err)
	}
	// cohorts sort by ballot position: [ALPHA BAKER] and [ALPHA CHARLIE]
	if len(automation) != 2 || automation[0] != 1 || automation[1] != 0 {
		t.Errorf("Expected automation [1 0]. Got: %v", automation)
	}
}

func TestCompileExclusionTiesUnknownName(t *testing.T) {
	ties := []config.Tie{{Tie: []string{"NOBODY, Nil", "ALPHA, Ann"}, Pick: "ALPHA, Ann"}}
	if _, err := compileExclusionTies(tieCandidates(), ties); err == nil {
		t.Error("Expected error for unknown candidate in tie")
	}
}

func TestCompileExclusionTiesPickOutsideCohort(t *testing.T) {
	ties := []config.Tie{{Tie: []string{"BAKER, Bob", "ALPHA, Ann"}, Pick: "CHARLIE, Col"}}
	if _, err := compileExclusionTies(tieCandidates(), ties); err == nil {
		t.Error("Expected error for pick outside the tied cohort")
	}
}

func TestRoundRowConvertsState(t *testing.T) {
	outcome := count.Outcome{
		Round:  3,
		Action: "first count",
		State: count.CountState{
			VotesPerCandidate:  map[count.CandidateIndex]uint32{0: 10, 2: 5},
			PapersPerCandidate: map[count.CandidateIndex]uint32{0: 12, 2: 5},
			VotesExhausted:     1,
			PapersExhausted:    2,
		},
	}
	row := roundRow(outcome)
	if row.Round != 3 || row.Action != "first count" {
		t.Errorf("Unexpected round row header: %+v", row)
	}
	if row.Votes[0] != 10 || row.Votes[2] != 5 || row.Papers[0] != 12 {
		t.Errorf("Unexpected per-candidate totals: %+v", row)
	}
	if row.VotesExhausted != 1 || row.PapersExhausted != 2 {
		t.Errorf("Unexpected exhausted totals: %+v", row)
	}
}
