package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// File-level structure of a contest configuration document. One file
// describes one election (house, data format) and any number of counts,
// keyed by contest slug (the AEC state code).
type document struct {
	Description string                `toml:"description"`
	House       string                `toml:"house"`
	Format      string                `toml:"format"`
	Candidates  candidates            `toml:"candidates"`
	Dataset     map[string]dataset    `toml:"dataset"`
	Count       map[string]countEntry `toml:"count"`
}

type candidates struct {
	All string `toml:"all"`
}

type dataset struct {
	Preferences string `toml:"preferences"`
}

type countEntry struct {
	Description   string `toml:"description"`
	Dataset       string `toml:"dataset"`
	Vacancies     int    `toml:"vacancies"`
	ElectionTies  []Tie  `toml:"election_ties"`
	ExclusionTies []Tie  `toml:"exclusion_ties"`
}

// Tie declares ahead of time which candidate to pick from a cohort the
// look-back procedure cannot separate. Candidates are named by their
// ballot name ("SURNAME, GivenNames").
type Tie struct {
	Tie  []string `toml:"tie"`
	Pick string   `toml:"pick"`
}

// CountTask is one contest ready to run: all paths resolved relative to
// the configuration file.
type CountTask struct {
	Slug            string
	State           string
	Description     string
	House           string
	Vacancies       int
	CandidatesPath  string
	PreferencesPath string
	ExclusionTies   []Tie
	ElectionTies    []Tie
}

// Work is everything one or more configuration files ask for.
type Work struct {
	Description string
	Tasks       []CountTask
}

// Load reads contest configuration files and resolves each count into a
// CountTask. Any missing dataset reference is an input error.
func Load(paths ...string) (*Work, error) {
	work := &Work{}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var doc document
		if err := toml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		dir := filepath.Dir(path)
		if work.Description == "" {
			work.Description = doc.Description
		}
		for slug, entry := range doc.Count {
			ds, ok := doc.Dataset[entry.Dataset]
			if !ok {
				return nil, fmt.Errorf("config %s: count %q references unknown dataset %q",
					path, slug, entry.Dataset)
			}
			if entry.Vacancies <= 0 {
				return nil, fmt.Errorf("config %s: count %q has no vacancies", path, slug)
			}
			work.Tasks = append(work.Tasks, CountTask{
				Slug:            slug,
				State:           slug,
				Description:     entry.Description,
				House:           doc.House,
				Vacancies:       entry.Vacancies,
				CandidatesPath:  filepath.Join(dir, doc.Candidates.All),
				PreferencesPath: filepath.Join(dir, slug, "data", ds.Preferences),
				ExclusionTies:   entry.ExclusionTies,
				ElectionTies:    entry.ElectionTies,
			})
		}
	}
	if len(work.Tasks) == 0 {
		return nil, fmt.Errorf("configuration names no counts")
	}
	return work, nil
}
