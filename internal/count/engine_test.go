package count

import (
	"errors"
	"math/big"
	"testing"
)

// testCandidates builds a minimal contest; the engine never consults
// tickets, so they stay empty.
func testCandidates(n int) *CandidateData {
	cd := &CandidateData{Count: n}
	for i := 0; i < n; i++ {
		cd.Names = append(cd.Names, string(rune('A'+i))+" SURNAME, Given")
		cd.Parties = append(cd.Parties, "Test Party")
	}
	return cd
}

func ballots(form []CandidateIndex, n uint32) BallotState {
	return BallotState{Form: BallotForm(form), Count: n}
}

func runToCompletion(t *testing.T, e *Engine) Outcome {
	t.Helper()
	for {
		outcome, err := e.Count()
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if outcome.Complete {
			return outcome
		}
		if outcome.Round > 1000 {
			t.Fatalf("count did not converge")
		}
	}
}

func TestQuotaArithmetic(t *testing.T) {
	states := []BallotState{ballots([]CandidateIndex{0}, 700_000)}
	e, err := NewEngine(6, testCandidates(8), states, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if e.Quota() != 100_001 {
		t.Errorf("Expected quota 100001 for 700000 papers and 6 vacancies. Got: %d", e.Quota())
	}
	if e.TotalPapers() != 700_000 {
		t.Errorf("Expected 700000 total papers. Got: %d", e.TotalPapers())
	}
}

func TestTransferValueRounding(t *testing.T) {
	third := big.NewRat(1, 3)
	if got := applyTransferValue(third, 5); got != 1 {
		t.Errorf("Expected floor(1/3 * 5) = 1. Got: %d", got)
	}
	if got := applyTransferValue(third, 6); got != 2 {
		t.Errorf("Expected floor(1/3 * 6) = 2. Got: %d", got)
	}
	if got := applyTransferValue(big.NewRat(1, 1), 42); got != 42 {
		t.Errorf("Expected tv=1 to preserve papers. Got: %d", got)
	}
	if got := applyTransferValue(new(big.Rat), 42); got != 0 {
		t.Errorf("Expected tv=0 to yield 0 votes. Got: %d", got)
	}
}

func TestNewEngineRejectsBadInput(t *testing.T) {
	if _, err := NewEngine(0, testCandidates(3), nil, nil); err == nil {
		t.Error("Expected error for zero vacancies")
	}
	if _, err := NewEngine(1, &CandidateData{}, nil, nil); err == nil {
		t.Error("Expected error for empty candidate list")
	}
	if _, err := NewEngine(4, testCandidates(3), nil, nil); err == nil {
		t.Error("Expected error for more vacancies than candidates")
	}
}

func TestInformalBallotPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for empty-form ballot at initial bundling")
		}
	}()
	NewEngine(1, testCandidates(3), []BallotState{ballots(nil, 1)}, nil)
}

// One vacancy: no quota on the first count, the lowest candidate is
// excluded, and their transfers push the leader over quota.
func TestElectionAfterExclusion(t *testing.T) {
	states := []BallotState{
		ballots([]CandidateIndex{0, 1, 2}, 100),
		ballots([]CandidateIndex{1, 0, 2}, 40),
		ballots([]CandidateIndex{2, 1, 0}, 60),
	}
	e, err := NewEngine(1, testCandidates(3), states, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if e.Quota() != 101 {
		t.Fatalf("Expected quota 101. Got: %d", e.Quota())
	}

	first, err := e.Count()
	if err != nil {
		t.Fatalf("round 1 failed: %v", err)
	}
	if first.Complete {
		t.Fatal("Expected count to continue after round 1")
	}
	if v := first.State.VotesPerCandidate[0]; v != 100 {
		t.Errorf("Expected candidate 0 at 100 votes in round 1. Got: %d", v)
	}

	final := runToCompletion(t, e)
	if final.Round != 2 {
		t.Errorf("Expected completion in round 2. Got: %d", final.Round)
	}
	if got := e.Elected(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Expected candidate 0 elected. Got: %v", got)
	}
	if got := e.Excluded(); len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected candidate 1 excluded. Got: %v", got)
	}
	if v := final.State.VotesPerCandidate[0]; v != 140 {
		t.Errorf("Expected candidate 0 at 140 votes after transfer. Got: %d", v)
	}
}

// A surplus distribution hands candidate 1 a reduced-value bundle; when 1
// is excluded, the full-value layer must distribute before the reduced
// one, and both exhaust against the global counters.
func TestExclusionLayersDescendAndConserve(t *testing.T) {
	states := []BallotState{
		ballots([]CandidateIndex{0, 1}, 100),
		ballots([]CandidateIndex{1}, 10),
		ballots([]CandidateIndex{2}, 60),
		ballots([]CandidateIndex{3, 2}, 55),
	}
	e, err := NewEngine(2, testCandidates(4), states, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if e.Quota() != 76 {
		t.Fatalf("Expected quota 76. Got: %d", e.Quota())
	}

	var outcomes []Outcome
	for {
		outcome, err := e.Count()
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		// paper conservation holds in every round
		var held uint32
		for _, p := range outcome.State.PapersPerCandidate {
			held += p
		}
		if total := held + outcome.State.PapersExhausted; total != 225 {
			t.Errorf("Round %d: papers held %d + exhausted %d != 225",
				outcome.Round, held, outcome.State.PapersExhausted)
		}
		outcomes = append(outcomes, outcome)
		if outcome.Complete {
			break
		}
	}

	if len(outcomes) != 4 {
		t.Fatalf("Expected 4 rounds. Got: %d", len(outcomes))
	}
	if outcomes[2].Action != "exclusion distribution: B SURNAME, Given (transfer value 1)" {
		t.Errorf("Expected the full-value exclusion layer first. Got: %q", outcomes[2].Action)
	}
	if outcomes[3].Action != "exclusion distribution: B SURNAME, Given (transfer value 6/25)" {
		t.Errorf("Expected the reduced layer second. Got: %q", outcomes[3].Action)
	}
	if outcomes[3].State.PapersExhausted != 110 {
		t.Errorf("Expected 110 papers exhausted after both layers. Got: %d", outcomes[3].State.PapersExhausted)
	}
	if outcomes[3].State.VotesExhausted != 34 {
		t.Errorf("Expected 34 votes exhausted (10 + floor(6/25*100)). Got: %d", outcomes[3].State.VotesExhausted)
	}

	elected := e.Elected()
	if len(elected) != 2 || elected[0] != 0 || elected[1] != 2 {
		t.Errorf("Expected candidates 0 then 2 elected. Got: %v", elected)
	}
}

// Two candidates tie for lowest; the prior round separates them, and the
// one that was behind earlier is excluded.
func TestLookBackBreaksExclusionTie(t *testing.T) {
	// total 50, quota 26: nobody reaches quota on the first count, and
	// after candidate 1's exclusion, candidates 2 and 3 tie at 12.
	states := []BallotState{
		ballots([]CandidateIndex{0}, 26),
		ballots([]CandidateIndex{1, 2}, 2),
		ballots([]CandidateIndex{2}, 10),
		ballots([]CandidateIndex{3}, 12),
	}
	e, err := NewEngine(1, testCandidates(4), states, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	runToCompletion(t, e)

	excluded := e.Excluded()
	if len(excluded) != 2 || excluded[0] != 1 || excluded[1] != 2 {
		t.Errorf("Expected exclusions [1 2] (look-back separates 2 and 3). Got: %v", excluded)
	}
	if got := e.Elected(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Expected candidate 0 elected. Got: %v", got)
	}
}

func TestUnbreakableExclusionTie(t *testing.T) {
	states := []BallotState{
		ballots([]CandidateIndex{0}, 10),
		ballots([]CandidateIndex{1}, 10),
		ballots([]CandidateIndex{2}, 20),
	}
	e, err := NewEngine(1, testCandidates(3), states, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	_, err = e.Count()
	if !errors.Is(err, ErrUnbreakableTie) {
		t.Errorf("Expected ErrUnbreakableTie with no history and no automation. Got: %v", err)
	}
}

func TestAutomationBreaksExclusionTie(t *testing.T) {
	states := []BallotState{
		ballots([]CandidateIndex{0}, 10),
		ballots([]CandidateIndex{1}, 10),
		ballots([]CandidateIndex{2}, 20),
	}
	e, err := NewEngine(1, testCandidates(3), states, []int{1})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	runToCompletion(t, e)

	if got := e.Excluded(); len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected automation to exclude cohort index 1 (candidate 1). Got: %v", got)
	}
	if got := e.Elected(); len(got) != 1 || got[0] != 2 {
		t.Errorf("Expected candidate 2 elected. Got: %v", got)
	}
}

// When the continuing candidates exactly fill the remaining vacancies
// they are elected without reaching quota.
func TestRemainingVacanciesElectAll(t *testing.T) {
	states := []BallotState{
		ballots([]CandidateIndex{0}, 10),
		ballots([]CandidateIndex{1}, 5),
	}
	e, err := NewEngine(2, testCandidates(2), states, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	runToCompletion(t, e)

	elected := e.Elected()
	if len(elected) != 2 || elected[0] != 0 || elected[1] != 1 {
		t.Errorf("Expected [0 1] elected. Got: %v", elected)
	}
}

// With exactly two continuing candidates and one vacancy, the higher
// total wins without quota.
func TestFinalTwoCandidates(t *testing.T) {
	states := []BallotState{
		ballots([]CandidateIndex{0}, 50),
		ballots([]CandidateIndex{1}, 30),
		ballots([]CandidateIndex{2}, 10),
	}
	e, err := NewEngine(2, testCandidates(3), states, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	// quota = floor(90/3)+1 = 31: candidate 0 elected on the first count,
	// their surplus exhausts, and 1 beats 2 as the final two.
	runToCompletion(t, e)

	elected := e.Elected()
	if len(elected) != 2 || elected[0] != 0 || elected[1] != 1 {
		t.Errorf("Expected [0 1] elected. Got: %v", elected)
	}
}

func TestCountStateSnapshotsAccumulate(t *testing.T) {
	states := []BallotState{
		ballots([]CandidateIndex{0, 1, 2}, 100),
		ballots([]CandidateIndex{1, 0, 2}, 40),
		ballots([]CandidateIndex{2, 1, 0}, 60),
	}
	e, err := NewEngine(1, testCandidates(3), states, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	final := runToCompletion(t, e)
	if got := e.NumRounds(); got != final.Round {
		t.Errorf("Expected %d recorded snapshots. Got: %d", final.Round, got)
	}
	if len(e.States()) != final.Round {
		t.Errorf("Expected States() length %d. Got: %d", final.Round, len(e.States()))
	}
}
