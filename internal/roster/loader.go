package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/ozcount/scrutiny-engine/internal/count"
)

// candidateRow is the slice of a roster record we keep. The AEC file
// carries two dozen more columns (addresses, phone numbers); they are
// ignored by name.
type candidateRow struct {
	ticket         string
	ballotPosition int
	surname        string
	givenName      string
	party          string
}

// ungroupedTicket marks independents with no above-the-line box.
const ungroupedTicket = "UG"

// Load reads the candidate roster and returns the contest's candidates
// in ballot-paper order. Rows are kept when nom_ty is "S" and state_ab
// matches the requested state.
func Load(path, state string) (*count.CandidateData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()
	return Read(f, state)
}

// Read parses roster CSV from r; see Load.
func Read(r io.Reader, state string) (*count.CandidateData, error) {
	rdr := csv.NewReader(r)
	rdr.FieldsPerRecord = -1

	header, err := rdr.Read()
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"nom_ty", "state_ab", "ticket", "ballot_position", "surname", "ballot_given_nm", "party_ballot_nm"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("roster is missing column %q", required)
		}
	}

	var rows []candidateRow
	for {
		record, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster row: %w", err)
		}
		if record[col["nom_ty"]] != "S" || record[col["state_ab"]] != state {
			continue
		}
		pos, err := strconv.Atoi(record[col["ballot_position"]])
		if err != nil {
			return nil, fmt.Errorf("roster row for %q: bad ballot_position %q",
				record[col["surname"]], record[col["ballot_position"]])
		}
		rows = append(rows, candidateRow{
			ticket:         record[col["ticket"]],
			ballotPosition: pos,
			surname:        record[col["surname"]],
			givenName:      record[col["ballot_given_nm"]],
			party:          record[col["party_ballot_nm"]],
		})
	}

	// Ballot-paper order: tickets run A..Z then AA, AB, ... so shorter
	// codes sort ahead of longer ones before the lexical comparison.
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if len(a.ticket) != len(b.ticket) {
			return len(a.ticket) < len(b.ticket)
		}
		if a.ticket != b.ticket {
			return a.ticket < b.ticket
		}
		return a.ballotPosition < b.ballotPosition
	})

	cd := &count.CandidateData{Count: len(rows)}
	currentTicket := ""
	for idx, row := range rows {
		cd.Names = append(cd.Names, fmt.Sprintf("%s, %s", row.surname, row.givenName))
		cd.Parties = append(cd.Parties, row.party)
		if row.ticket == ungroupedTicket {
			continue
		}
		if row.ticket != currentTicket {
			cd.Tickets = append(cd.Tickets, nil)
			currentTicket = row.ticket
		}
		last := len(cd.Tickets) - 1
		cd.Tickets[last] = append(cd.Tickets[last], count.CandidateIndex(idx))
	}
	return cd, nil
}
