package ballots

import (
	"sort"

	"github.com/ozcount/scrutiny-engine/internal/count"
)

// mark is a single marked field: the written preference number and the
// group or candidate position it was written against.
type mark struct {
	rank  uint8
	index uint8
}

// Parser turns one raw preferences field into a canonical ballot form.
// It owns reusable scratch buffers, so a Parser must not be shared
// between goroutines; bulk parsing gives each worker its own.
type Parser struct {
	tickets    [][]count.CandidateIndex
	groups     int
	candidates int

	atl  []mark
	btl  []mark
	form []count.CandidateIndex
}

func NewParser(cd *count.CandidateData) *Parser {
	return &Parser{
		tickets:    cd.Tickets,
		groups:     len(cd.Tickets),
		candidates: cd.Count,
		atl:        make([]mark, 0, len(cd.Tickets)),
		btl:        make([]mark, 0, cd.Count),
		form:       make([]count.CandidateIndex, 0, cd.Count),
	}
}

// fieldValue interprets one non-empty field. The sentinels "*" and "/"
// both mean a first preference. Anything that is not a sentinel or a
// decimal number in 0..255 makes the whole ballot informal.
func fieldValue(field string) (uint8, bool) {
	if field == "*" || field == "/" {
		return 1, true
	}
	var v int
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int(c-'0')
		if v > 255 {
			return 0, false
		}
	}
	return uint8(v), true
}

// scanLine splits the raw comma-separated preferences field into the ATL
// and BTL mark buffers. It walks the bytes directly: empty fields are
// skipped without materialising anything, and the field scan allocates
// only when a mark buffer grows on the first few ballots.
func (p *Parser) scanLine(prefs string) bool {
	p.atl = p.atl[:0]
	p.btl = p.btl[:0]

	field := 0
	from := 0
	for i := 0; i <= len(prefs); i++ {
		if i != len(prefs) && prefs[i] != ',' {
			continue
		}
		if i > from {
			rank, ok := fieldValue(prefs[from:i])
			if !ok {
				return false
			}
			if field < p.groups {
				p.atl = append(p.atl, mark{rank: rank, index: uint8(field)})
			} else if field < p.groups+p.candidates {
				p.btl = append(p.btl, mark{rank: rank, index: uint8(field - p.groups)})
			} else {
				// more fields than G+N: malformed row
				return false
			}
		}
		field++
		from = i + 1
	}

	sortMarks(p.atl)
	sortMarks(p.btl)
	return true
}

func sortMarks(ms []mark) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].rank != ms[j].rank {
			return ms[i].rank < ms[j].rank
		}
		return ms[i].index < ms[j].index
	})
}

// expandBTL appends the valid below-the-line prefix to the form buffer:
// the longest run of preferences 1, 2, 3, ... with no repeated number.
// A repeated number ends the prefix before itself.
func (p *Parser) expandBTL() {
	for i, m := range p.btl {
		if m.rank != uint8(i+1) {
			break
		}
		if i+1 < len(p.btl) && p.btl[i+1].rank == m.rank {
			break
		}
		p.form = append(p.form, count.CandidateIndex(m.index))
	}
}

// expandATL appends the ticket expansion of the valid above-the-line
// prefix: each group's candidates in ballot-paper order.
func (p *Parser) expandATL() {
	for i, m := range p.atl {
		if m.rank != uint8(i+1) {
			break
		}
		if i+1 < len(p.atl) && p.atl[i+1].rank == m.rank {
			break
		}
		p.form = append(p.form, p.tickets[m.index]...)
	}
}

// ParseLine classifies one raw preferences field and returns the
// canonical form, or nil if the ballot is informal. Six or more valid
// below-the-line preferences take precedence; otherwise any valid
// above-the-line prefix is expanded through the ticket table. The
// returned form aliases the parser's buffer and is only valid until the
// next call; callers keep it via its Key.
func (p *Parser) ParseLine(prefs string) (count.BallotForm, bool) {
	p.form = p.form[:0]
	if !p.scanLine(prefs) {
		return nil, false
	}

	p.expandBTL()
	if len(p.form) < 6 {
		p.form = p.form[:0]
		p.expandATL()
	}
	if len(p.form) == 0 {
		return nil, false
	}
	return count.BallotForm(p.form), true
}
