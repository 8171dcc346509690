package ballots

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/ozcount/scrutiny-engine/internal/count"
)

// chunkSize is how many raw CSV lines each worker takes at a time.
const chunkSize = 4096

type parseTally struct {
	forms    map[string]uint32
	informal uint32
}

// ReadFile parses a formal-preferences file into deduplicated ballot
// states. The file is plain or gzip-compressed CSV with a header row and
// a "dashes" row, and the preferences live in the row's final quoted
// field. Parsing is fanned out across worker goroutines, each with its
// own Parser and tally; the tallies merge sequentially at the end, so
// the result is independent of scheduling.
func ReadFile(path string, cd *count.CandidateData) ([]count.BallotState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open preferences file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	workers := runtime.NumCPU()
	chunks := make(chan []string, workers)
	tallies := make([]parseTally, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			parser := NewParser(cd)
			tally := parseTally{forms: make(map[string]uint32)}
			for chunk := range chunks {
				for _, line := range chunk {
					prefs, ok := preferencesField(line)
					if !ok {
						tally.informal++
						continue
					}
					form, ok := parser.ParseLine(prefs)
					if !ok {
						tally.informal++
						continue
					}
					tally.forms[form.Key()]++
				}
			}
			tallies[w] = tally
		}(w)
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)
	lineNo := 0
	chunk := make([]string, 0, chunkSize)
	for scanner.Scan() {
		lineNo++
		// header row, then the dashes row
		if lineNo <= 2 {
			continue
		}
		chunk = append(chunk, scanner.Text())
		if len(chunk) == chunkSize {
			chunks <- chunk
			chunk = make([]string, 0, chunkSize)
		}
	}
	if len(chunk) > 0 {
		chunks <- chunk
	}
	close(chunks)
	if err := scanner.Err(); err != nil {
		wg.Wait()
		return nil, fmt.Errorf("read preferences file: %w", err)
	}
	wg.Wait()

	// sequential merge of the per-worker tallies
	merged := make(map[string]uint32)
	var informal uint32
	for _, tally := range tallies {
		for key, n := range tally.forms {
			merged[key] += n
		}
		informal += tally.informal
	}

	states := make([]count.BallotState, 0, len(merged))
	for key, n := range merged {
		states = append(states, count.BallotState{
			Form:  count.FormFromKey(key),
			Count: n,
		})
	}
	if informal > 0 {
		log.Printf("[Ballots] %s: dropped %d informal ballots", path, informal)
	}
	log.Printf("[Ballots] %s: %d unique forms from %d rows", path, len(states), lineNo-2)
	return states, nil
}

// preferencesField extracts the quoted comma-delimited preferences column
// from a raw CSV row. The preferences are always the final field and the
// only quoted one, so slicing between the first and last quote avoids a
// full CSV parse on the hot path.
func preferencesField(line string) (string, bool) {
	start := strings.IndexByte(line, '"')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(line, '"')
	if end <= start {
		return "", false
	}
	return line[start+1 : end], true
}
