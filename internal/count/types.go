package count

import (
	"strings"
)

// CandidateIndex identifies a candidate by ballot-paper position,
// in the range 0..N-1. Real Senate contests never exceed 255 candidates.
type CandidateIndex uint8

// GroupIndex identifies an above-the-line ticket by ballot-paper position,
// in the range 0..G-1 where G <= N.
type GroupIndex uint8

// CandidateData holds the candidates of one contest in ballot-paper order.
// It is built once by the roster loader and is read-only thereafter; the
// engine and parser share it by reference.
type CandidateData struct {
	Count   int
	Names   []string
	Parties []string
	// Tickets lists, per above-the-line group, the candidates of that
	// group in ballot-paper order. Ungrouped ("UG") candidates appear in
	// Names/Parties but in no ticket.
	Tickets [][]CandidateIndex
}

// Name returns the ballot name ("SURNAME, GivenNames") of a candidate.
func (cd *CandidateData) Name(id CandidateIndex) string {
	return cd.Names[id]
}

// Party returns the party ballot name of a candidate.
func (cd *CandidateData) Party(id CandidateIndex) string {
	return cd.Parties[id]
}

// NameList formats a set of candidates for log output.
func (cd *CandidateData) NameList(ids []CandidateIndex) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = cd.Names[id]
	}
	return strings.Join(names, "; ")
}

// BallotForm is a voter's ranked preference: candidate indices in
// decreasing order of preference. No candidate appears twice.
type BallotForm []CandidateIndex

// Key returns the form as a map key. Forms are at most 255 single-byte
// indices, so the raw bytes are the cheapest canonical encoding.
func (f BallotForm) Key() string {
	b := make([]byte, len(f))
	for i, id := range f {
		b[i] = byte(id)
	}
	return string(b)
}

// FormFromKey reverses Key.
func FormFromKey(key string) BallotForm {
	f := make(BallotForm, len(key))
	for i := 0; i < len(key); i++ {
		f[i] = CandidateIndex(key[i])
	}
	return f
}

// BallotState is one or more physical ballots sharing the same form,
// together with their progress through the count.
type BallotState struct {
	Form  BallotForm
	Count uint32
	// ActivePreference indexes Form at the ballot's current preference.
	// When it reaches len(Form) the ballot is exhausted.
	ActivePreference int
}

// CurrentPreference returns the candidate at the active preference, or
// false if the ballot is exhausted.
func (bs *BallotState) CurrentPreference() (CandidateIndex, bool) {
	if bs.ActivePreference >= len(bs.Form) {
		return 0, false
	}
	return bs.Form[bs.ActivePreference], true
}

// Exhausted reports whether the ballot has run out of preferences.
func (bs *BallotState) Exhausted() bool {
	return bs.ActivePreference >= len(bs.Form)
}
