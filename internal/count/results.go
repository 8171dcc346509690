package count

import "fmt"

// Results tracks the order of elections and exclusions over a count.
// Mutations are append-only; membership queries are O(1). Electing or
// excluding a candidate twice is a programmer error and panics.
type Results struct {
	elected  []CandidateIndex
	excluded []CandidateIndex
	inactive map[CandidateIndex]bool
}

func NewResults() *Results {
	return &Results{
		inactive: make(map[CandidateIndex]bool),
	}
}

// Inactive reports whether a candidate has been elected or excluded.
func (r *Results) Inactive(id CandidateIndex) bool {
	return r.inactive[id]
}

// Elect marks a candidate elected, in order.
func (r *Results) Elect(id CandidateIndex) {
	if r.inactive[id] {
		panic(fmt.Sprintf("candidate %d elected while already inactive", id))
	}
	r.elected = append(r.elected, id)
	r.inactive[id] = true
}

// Exclude marks a candidate excluded, in order.
func (r *Results) Exclude(id CandidateIndex) {
	if r.inactive[id] {
		panic(fmt.Sprintf("candidate %d excluded while already inactive", id))
	}
	r.excluded = append(r.excluded, id)
	r.inactive[id] = true
}

// Elected returns the elected candidates in order of election.
func (r *Results) Elected() []CandidateIndex {
	out := make([]CandidateIndex, len(r.elected))
	copy(out, r.elected)
	return out
}

// Excluded returns the excluded candidates in order of exclusion.
func (r *Results) Excluded() []CandidateIndex {
	out := make([]CandidateIndex, len(r.excluded))
	copy(out, r.excluded)
	return out
}

func (r *Results) NumElected() int  { return len(r.elected) }
func (r *Results) NumExcluded() int { return len(r.excluded) }
