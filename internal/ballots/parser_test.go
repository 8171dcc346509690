package ballots

import (
	"testing"

	"github.com/ozcount/scrutiny-engine/internal/count"
)

// two tickets [[0,1],[2]] over six candidates; 3..5 are ungrouped
func testCandidates() *count.CandidateData {
	return &count.CandidateData{
		Count: 6,
		Tickets: [][]count.CandidateIndex{
			{0, 1},
			{2},
		},
	}
}

func parse(t *testing.T, line string) (count.BallotForm, bool) {
	t.Helper()
	p := NewParser(testCandidates())
	form, ok := p.ParseLine(line)
	if !ok {
		return nil, false
	}
	out := make(count.BallotForm, len(form))
	copy(out, form)
	return out, true
}

func equalForms(a, b count.BallotForm) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSixBTLBeatsATL(t *testing.T) {
	form, ok := parse(t, "1,,1,2,3,4,5,6")
	if !ok {
		t.Fatal("Expected formal ballot")
	}
	want := count.BallotForm{0, 1, 2, 3, 4, 5}
	if !equalForms(form, want) {
		t.Errorf("Expected BTL form %v. Got: %v", want, form)
	}
}

func TestATLExpansion(t *testing.T) {
	form, ok := parse(t, "2,1,,,,,,")
	if !ok {
		t.Fatal("Expected formal ballot")
	}
	want := count.BallotForm{2, 0, 1}
	if !equalForms(form, want) {
		t.Errorf("Expected ATL expansion %v. Got: %v", want, form)
	}
}

func TestSingleATLMarkExpandsFullTicket(t *testing.T) {
	form, ok := parse(t, "1,,,,,,,")
	if !ok {
		t.Fatal("Expected formal ballot")
	}
	want := count.BallotForm{0, 1}
	if !equalForms(form, want) {
		t.Errorf("Expected first ticket in ballot order %v. Got: %v", want, form)
	}
}

func TestShortBTLFallsThroughToATL(t *testing.T) {
	// five valid BTL marks are below the six minimum, so the single ATL
	// mark decides the form
	form, ok := parse(t, "1,,1,2,3,4,5,")
	if !ok {
		t.Fatal("Expected formal ballot")
	}
	want := count.BallotForm{0, 1}
	if !equalForms(form, want) {
		t.Errorf("Expected ATL rescue %v. Got: %v", want, form)
	}
}

func TestDuplicatePreferenceTruncatesBeforeItself(t *testing.T) {
	// BTL 1,2,3,3,4: valid prefix is two candidates, below six, and with
	// no ATL marks the ballot is informal
	if _, ok := parse(t, ",,1,2,3,3,4,"); ok {
		t.Error("Expected informal ballot for truncated BTL with no ATL")
	}

	// same BTL with an ATL mark falls back to the ticket
	form, ok := parse(t, "1,,1,2,3,3,4,")
	if !ok {
		t.Fatal("Expected formal ballot")
	}
	want := count.BallotForm{0, 1}
	if !equalForms(form, want) {
		t.Errorf("Expected ATL form %v. Got: %v", want, form)
	}
}

func TestDuplicateFirstPreferenceIsInformal(t *testing.T) {
	if _, ok := parse(t, "1,1,,,,,,"); ok {
		t.Error("Expected informal ballot for duplicated first ATL preference")
	}
}

func TestSkippedPreferenceTruncates(t *testing.T) {
	// ATL 1 then 3: only the first group counts
	form, ok := parse(t, "1,3,,,,,,")
	if !ok {
		t.Fatal("Expected formal ballot")
	}
	want := count.BallotForm{0, 1}
	if !equalForms(form, want) {
		t.Errorf("Expected truncated ATL form %v. Got: %v", want, form)
	}
}

func TestSentinelsMeanFirstPreference(t *testing.T) {
	for _, sentinel := range []string{"*", "/"} {
		form, ok := parse(t, sentinel+",,,,,,,")
		if !ok {
			t.Fatalf("Expected formal ballot for sentinel %q", sentinel)
		}
		want := count.BallotForm{0, 1}
		if !equalForms(form, want) {
			t.Errorf("Sentinel %q: expected %v. Got: %v", sentinel, want, form)
		}
	}
}

func TestEmptyBallotIsInformal(t *testing.T) {
	if _, ok := parse(t, ",,,,,,,"); ok {
		t.Error("Expected informal ballot for no marks")
	}
}

func TestGarbageFieldIsInformal(t *testing.T) {
	if _, ok := parse(t, "x,,,,,,,"); ok {
		t.Error("Expected informal ballot for non-numeric field")
	}
	if _, ok := parse(t, "999,,,,,,,"); ok {
		t.Error("Expected informal ballot for out-of-range field")
	}
}

func TestTooManyFieldsIsInformal(t *testing.T) {
	if _, ok := parse(t, "1,,,,,,,,1,1,1"); ok {
		t.Error("Expected informal ballot for more fields than groups plus candidates")
	}
}

func TestZeroMarkNeverStartsPrefix(t *testing.T) {
	if _, ok := parse(t, "0,,,,,,,"); ok {
		t.Error("Expected informal ballot: a zero mark cannot begin a valid prefix")
	}
}

// the parser's scratch buffers must not leak state between ballots
func TestParserBufferReuse(t *testing.T) {
	p := NewParser(testCandidates())

	form, ok := p.ParseLine("1,,1,2,3,4,5,6")
	if !ok || len(form) != 6 {
		t.Fatalf("Expected six-candidate BTL form. Got: %v (ok=%v)", form, ok)
	}

	form, ok = p.ParseLine(",1,,,,,,")
	if !ok {
		t.Fatal("Expected formal second ballot")
	}
	want := count.BallotForm{2}
	if !equalForms(form, want) {
		t.Errorf("Expected second parse %v unaffected by the first. Got: %v", want, form)
	}

	if _, ok := p.ParseLine(",,,,,,,"); ok {
		t.Error("Expected informal third ballot")
	}
}

func TestParserDeterminism(t *testing.T) {
	line := "2,1,1,2,,3,,"
	a, okA := parse(t, line)
	b, okB := parse(t, line)
	if okA != okB || !equalForms(a, b) {
		t.Errorf("Expected identical results for repeated parses. Got: %v / %v", a, b)
	}
}
