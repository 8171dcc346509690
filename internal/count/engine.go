package count

import (
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
)

// ErrUnbreakableTie is returned when a tie for election or exclusion
// survives both the look-back procedure and the automation queue.
var ErrUnbreakableTie = errors.New("unbreakable tie")

// BundleTransaction is a batch of ballots transferred together during one
// counting action. TransferValue, Papers and Votes are fixed at creation;
// a candidate's totals are always sums over their held bundles.
type BundleTransaction struct {
	BallotStates  []BallotState
	TransferValue *big.Rat
	Papers        uint32
	Votes         uint32
}

// CountState is the immutable snapshot recorded after each round. Only
// candidates holding papers appear in the per-candidate maps; the
// exhausted totals are cumulative over the whole count.
type CountState struct {
	VotesPerCandidate  map[CandidateIndex]uint32
	PapersPerCandidate map[CandidateIndex]uint32
	VotesExhausted     uint32
	PapersExhausted    uint32
}

// Outcome reports one round of the count.
type Outcome struct {
	Round    int
	Action   string
	State    CountState
	Complete bool
}

type actionKind int

const (
	actionFirstCount actionKind = iota
	actionElectionDistribution
	actionExclusionDistribution
)

type action struct {
	kind          actionKind
	candidate     CandidateIndex
	transferValue *big.Rat
}

// Engine drives a single contest's count, one round per Count() call.
// It is strictly sequential and owns all of its mutable state; separate
// contests run as separate Engine instances.
type Engine struct {
	candidates  *CandidateData
	vacancies   int
	holdings    [][]*BundleTransaction
	totalPapers uint32
	quota       uint32
	states      []CountState
	results     *Results
	actions     []action
	automation  []int

	votesExhausted  uint32
	papersExhausted uint32
}

// NewEngine builds a count over deduplicated ballot states. The automation
// queue supplies indices used to break exclusion ties that the look-back
// procedure cannot resolve.
func NewEngine(vacancies int, candidates *CandidateData, ballots []BallotState, automation []int) (*Engine, error) {
	if vacancies <= 0 {
		return nil, fmt.Errorf("vacancies must be positive, got %d", vacancies)
	}
	if candidates == nil || candidates.Count == 0 {
		return nil, fmt.Errorf("no candidates in contest")
	}
	if vacancies > candidates.Count {
		return nil, fmt.Errorf("%d vacancies but only %d candidates", vacancies, candidates.Count)
	}

	var totalPapers uint32
	for i := range ballots {
		totalPapers += ballots[i].Count
	}

	e := &Engine{
		candidates:  candidates,
		vacancies:   vacancies,
		holdings:    make([][]*BundleTransaction, candidates.Count),
		totalPapers: totalPapers,
		quota:       totalPapers/(uint32(vacancies)+1) + 1,
		results:     NewResults(),
		automation:  append([]int(nil), automation...),
	}
	e.bundleBallotStates(ballots, big.NewRat(1, 1))
	e.actions = append(e.actions, action{kind: actionFirstCount})
	return e, nil
}

func (e *Engine) Quota() uint32       { return e.quota }
func (e *Engine) TotalPapers() uint32 { return e.totalPapers }
func (e *Engine) Vacancies() int      { return e.vacancies }
func (e *Engine) NumRounds() int      { return len(e.states) }

func (e *Engine) Elected() []CandidateIndex  { return e.results.Elected() }
func (e *Engine) Excluded() []CandidateIndex { return e.results.Excluded() }

// States returns the per-round snapshots recorded so far.
func (e *Engine) States() []CountState {
	out := make([]CountState, len(e.states))
	copy(out, e.states)
	return out
}

// applyTransferValue computes floor(tv * papers). Transfer values are
// non-negative so truncation toward zero is the statutory floor.
func applyTransferValue(tv *big.Rat, papers uint32) uint32 {
	num := new(big.Int).Mul(tv.Num(), new(big.Int).SetUint64(uint64(papers)))
	return uint32(new(big.Int).Quo(num, tv.Denom()).Uint64())
}

// bundleBallotStates groups ballots by their current preference and adds
// one bundle per receiving candidate at the given transfer value. A ballot
// with no active preference here is a programmer error: the parser filters
// informal ballots, and distribution drops exhausted ones.
func (e *Engine) bundleBallotStates(ballots []BallotState, tv *big.Rat) {
	byCandidate := make([][]BallotState, e.candidates.Count)
	for i := range ballots {
		id, ok := ballots[i].CurrentPreference()
		if !ok {
			panic("informal or exhausted ballot reached bundling")
		}
		byCandidate[id] = append(byCandidate[id], ballots[i])
	}
	for id := 0; id < e.candidates.Count; id++ {
		states := byCandidate[id]
		if len(states) == 0 {
			continue
		}
		var papers uint32
		for i := range states {
			papers += states[i].Count
		}
		e.holdings[id] = append(e.holdings[id], &BundleTransaction{
			BallotStates:  states,
			TransferValue: tv,
			Papers:        papers,
			Votes:         applyTransferValue(tv, papers),
		})
	}
}

// distribute pools the ballots of the given bundles, advances each past
// inactive candidates, and re-bundles the survivors at the action's
// transfer value. Exhausted ballots leave the count and feed the
// cumulative exhausted totals.
func (e *Engine) distribute(bundles []*BundleTransaction, tv *big.Rat) {
	var pooled []BallotState
	var exhaustedPapers uint32

	for _, bt := range bundles {
		for i := range bt.BallotStates {
			bs := bt.BallotStates[i]
			for {
				bs.ActivePreference++
				id, ok := bs.CurrentPreference()
				if !ok {
					exhaustedPapers += bs.Count
					break
				}
				if !e.results.Inactive(id) {
					pooled = append(pooled, bs)
					break
				}
			}
		}
	}

	e.papersExhausted += exhaustedPapers
	e.votesExhausted += applyTransferValue(tv, exhaustedPapers)
	e.bundleBallotStates(pooled, tv)
}

func (e *Engine) votesHeld(id CandidateIndex) uint32 {
	var v uint32
	for _, bt := range e.holdings[id] {
		v += bt.Votes
	}
	return v
}

func (e *Engine) papersHeld(id CandidateIndex) uint32 {
	var p uint32
	for _, bt := range e.holdings[id] {
		p += bt.Papers
	}
	return p
}

func (e *Engine) buildState() CountState {
	vpc := make(map[CandidateIndex]uint32)
	ppc := make(map[CandidateIndex]uint32)
	for id := 0; id < e.candidates.Count; id++ {
		if len(e.holdings[id]) == 0 {
			continue
		}
		ci := CandidateIndex(id)
		vpc[ci] = e.votesHeld(ci)
		ppc[ci] = e.papersHeld(ci)
	}
	return CountState{
		VotesPerCandidate:  vpc,
		PapersPerCandidate: ppc,
		VotesExhausted:     e.votesExhausted,
		PapersExhausted:    e.papersExhausted,
	}
}

func (e *Engine) continuing() []CandidateIndex {
	var out []CandidateIndex
	for id := 0; id < e.candidates.Count; id++ {
		if !e.results.Inactive(CandidateIndex(id)) {
			out = append(out, CandidateIndex(id))
		}
	}
	return out
}

// lookBack orders a tied cohort by the first prior round in which every
// cohort member held a distinct vote total, scanning latest-first and
// skipping the current round. ascending selects exclusion order; the
// election path passes false for descending. Returns false if no such
// round exists.
func (e *Engine) lookBack(cohort []CandidateIndex, ascending bool) ([]CandidateIndex, bool) {
	for s := len(e.states) - 2; s >= 0; s-- {
		state := e.states[s]
		seen := make(map[uint32]bool, len(cohort))
		distinct := true
		for _, id := range cohort {
			v := state.VotesPerCandidate[id]
			if seen[v] {
				distinct = false
				break
			}
			seen[v] = true
		}
		if !distinct {
			continue
		}
		ordered := append([]CandidateIndex(nil), cohort...)
		sort.Slice(ordered, func(i, j int) bool {
			vi := state.VotesPerCandidate[ordered[i]]
			vj := state.VotesPerCandidate[ordered[j]]
			if ascending {
				return vi < vj
			}
			return vi > vj
		})
		return ordered, true
	}
	return nil, false
}

// determineElected gathers every continuing candidate whose total strictly
// exceeds quota, in descending vote order. Candidates tied at the same
// total are ordered by look-back; an unresolvable tie is fatal.
func (e *Engine) determineElected(state CountState) ([]CandidateIndex, error) {
	byVotes := make(map[uint32][]CandidateIndex)
	for id, votes := range state.VotesPerCandidate {
		if e.results.Inactive(id) || votes <= e.quota {
			continue
		}
		byVotes[votes] = append(byVotes[votes], id)
	}

	totals := make([]uint32, 0, len(byVotes))
	for v := range byVotes {
		totals = append(totals, v)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i] > totals[j] })

	var elected []CandidateIndex
	for _, v := range totals {
		cohort := byVotes[v]
		if len(cohort) == 1 {
			elected = append(elected, cohort[0])
			continue
		}
		sort.Slice(cohort, func(i, j int) bool { return cohort[i] < cohort[j] })
		ordered, ok := e.lookBack(cohort, false)
		if !ok {
			return nil, fmt.Errorf("election order of %s at %d votes: %w",
				e.candidates.NameList(cohort), v, ErrUnbreakableTie)
		}
		elected = append(elected, ordered...)
	}
	return elected, nil
}

// elect records the election and queues the surplus distribution at
// tv = max(0, votes - quota) / papers.
func (e *Engine) elect(id CandidateIndex, state CountState) {
	log.Printf("[Count] Elected: %s (%s)", e.candidates.Name(id), e.candidates.Party(id))
	e.results.Elect(id)

	votes := state.VotesPerCandidate[id]
	papers := state.PapersPerCandidate[id]
	var excess uint32
	if votes > e.quota {
		excess = votes - e.quota
	}
	tv := new(big.Rat).SetFrac(
		new(big.Int).SetUint64(uint64(excess)),
		new(big.Int).SetUint64(uint64(papers)))
	e.actions = append(e.actions, action{
		kind:          actionElectionDistribution,
		candidate:     id,
		transferValue: tv,
	})
}

// excludeLowest selects and excludes the continuing candidate with the
// lowest vote total, then queues one exclusion distribution per distinct
// transfer value held, in descending transfer-value order.
func (e *Engine) excludeLowest(round int) error {
	continuing := e.continuing()
	if len(continuing) == 0 {
		panic("exclusion requested with no continuing candidates")
	}

	minVotes := e.votesHeld(continuing[0])
	for _, id := range continuing[1:] {
		if v := e.votesHeld(id); v < minVotes {
			minVotes = v
		}
	}
	var cohort []CandidateIndex
	for _, id := range continuing {
		if e.votesHeld(id) == minVotes {
			cohort = append(cohort, id)
		}
	}

	var excluded CandidateIndex
	switch {
	case len(cohort) == 1:
		excluded = cohort[0]
	default:
		sort.Slice(cohort, func(i, j int) bool { return cohort[i] < cohort[j] })
		if ordered, ok := e.lookBack(cohort, true); ok {
			excluded = ordered[0]
		} else {
			if len(e.automation) == 0 {
				return fmt.Errorf("round %d: exclusion of %s at %d votes: %w",
					round, e.candidates.NameList(cohort), minVotes, ErrUnbreakableTie)
			}
			pick := e.automation[0]
			e.automation = e.automation[1:]
			if pick < 0 || pick >= len(cohort) {
				return fmt.Errorf("round %d: automation index %d out of range for tied cohort %s",
					round, pick, e.candidates.NameList(cohort))
			}
			excluded = cohort[pick]
		}
	}

	log.Printf("[Count] Excluded: %s (%s) with %d votes",
		e.candidates.Name(excluded), e.candidates.Party(excluded), minVotes)
	e.results.Exclude(excluded)

	tvs := make([]*big.Rat, 0, len(e.holdings[excluded]))
	for _, bt := range e.holdings[excluded] {
		dup := false
		for _, tv := range tvs {
			if tv.Cmp(bt.TransferValue) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			tvs = append(tvs, bt.TransferValue)
		}
	}
	sort.Slice(tvs, func(i, j int) bool { return tvs[i].Cmp(tvs[j]) > 0 })

	if len(tvs) == 0 {
		// A candidate holding no papers still takes one no-op round.
		tvs = append(tvs, new(big.Rat))
	}
	for _, tv := range tvs {
		e.actions = append(e.actions, action{
			kind:          actionExclusionDistribution,
			candidate:     excluded,
			transferValue: tv,
		})
	}
	return nil
}

// Count performs exactly one action from the queue and reports the
// resulting state. Callers loop until Complete is true.
func (e *Engine) Count() (Outcome, error) {
	if len(e.actions) == 0 {
		return Outcome{}, fmt.Errorf("count has no pending actions; already complete")
	}
	act := e.actions[0]
	e.actions = e.actions[1:]
	round := len(e.states) + 1

	var desc string
	switch act.kind {
	case actionFirstCount:
		desc = "first count"
	case actionElectionDistribution:
		bundles := e.holdings[act.candidate]
		e.holdings[act.candidate] = nil
		e.distribute(bundles, act.transferValue)
		desc = fmt.Sprintf("election distribution: %s (transfer value %s)",
			e.candidates.Name(act.candidate), act.transferValue.RatString())
	case actionExclusionDistribution:
		var keep, move []*BundleTransaction
		for _, bt := range e.holdings[act.candidate] {
			if bt.TransferValue.Cmp(act.transferValue) == 0 {
				move = append(move, bt)
			} else {
				keep = append(keep, bt)
			}
		}
		e.holdings[act.candidate] = keep
		e.distribute(move, act.transferValue)
		desc = fmt.Sprintf("exclusion distribution: %s (transfer value %s)",
			e.candidates.Name(act.candidate), act.transferValue.RatString())
	}

	state := e.buildState()
	e.states = append(e.states, state)

	newlyElected, err := e.determineElected(state)
	if err != nil {
		return Outcome{}, fmt.Errorf("round %d (%s): %w", round, desc, err)
	}
	for _, id := range newlyElected {
		e.elect(id, state)
		if e.results.NumElected() == e.vacancies {
			return Outcome{Round: round, Action: desc, State: state, Complete: true}, nil
		}
	}

	if len(e.actions) == 0 {
		remaining := e.vacancies - e.results.NumElected()
		continuing := e.continuing()

		if len(continuing) == remaining {
			ordered := append([]CandidateIndex(nil), continuing...)
			sort.Slice(ordered, func(i, j int) bool {
				vi, vj := e.votesHeld(ordered[i]), e.votesHeld(ordered[j])
				if vi != vj {
					return vi > vj
				}
				return ordered[i] < ordered[j]
			})
			for _, id := range ordered {
				log.Printf("[Count] Elected (remaining vacancy): %s", e.candidates.Name(id))
				e.results.Elect(id)
			}
			return Outcome{Round: round, Action: desc, State: state, Complete: true}, nil
		}

		if len(continuing) == 2 {
			a, b := continuing[0], continuing[1]
			va, vb := e.votesHeld(a), e.votesHeld(b)
			if va == vb {
				return Outcome{}, fmt.Errorf("round %d: final candidates %s tied at %d votes: %w",
					round, e.candidates.NameList(continuing), va, ErrUnbreakableTie)
			}
			winner := a
			if vb > va {
				winner = b
			}
			log.Printf("[Count] Elected (final two): %s", e.candidates.Name(winner))
			e.results.Elect(winner)
			return Outcome{Round: round, Action: desc, State: state, Complete: true}, nil
		}

		if err := e.excludeLowest(round); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Round: round, Action: desc, State: state, Complete: false}, nil
}
