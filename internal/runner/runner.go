package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ozcount/scrutiny-engine/internal/ballots"
	"github.com/ozcount/scrutiny-engine/internal/config"
	"github.com/ozcount/scrutiny-engine/internal/count"
	"github.com/ozcount/scrutiny-engine/internal/db"
	"github.com/ozcount/scrutiny-engine/internal/roster"
	"github.com/ozcount/scrutiny-engine/pkg/models"
)

// maxRounds caps a single contest's count to catch a count that cannot
// converge (corrupt input producing an exclusion/election livelock).
const maxRounds = 10_000

// ContestRunner runs the counts named by a configuration, one goroutine
// per contest. Contests share no mutable state, so they run freely in
// parallel; each engine stays strictly sequential inside.
type ContestRunner struct {
	work      *config.Work
	store     *db.PostgresStore // optional, nil without DATABASE_URL
	alertFunc func(models.RoundAlert)
	outputDir string

	// Progress tracking (atomic for safe concurrent reads)
	isRunning     atomic.Bool
	contestsTotal atomic.Int64
	contestsDone  atomic.Int64
	roundsCounted atomic.Int64

	mu      sync.RWMutex
	results map[string]*models.ContestResult
	tasks   map[string]config.CountTask
}

func New(work *config.Work, store *db.PostgresStore, outputDir string, alertFunc func(models.RoundAlert)) *ContestRunner {
	tasks := make(map[string]config.CountTask, len(work.Tasks))
	for _, task := range work.Tasks {
		tasks[task.Slug] = task
	}
	return &ContestRunner{
		work:      work,
		store:     store,
		alertFunc: alertFunc,
		outputDir: outputDir,
		results:   make(map[string]*models.ContestResult),
		tasks:     tasks,
	}
}

// Progress returns the runner's current state (thread-safe).
func (r *ContestRunner) Progress() models.RunProgress {
	return models.RunProgress{
		IsRunning:        r.isRunning.Load(),
		ContestsTotal:    r.contestsTotal.Load(),
		ContestsComplete: r.contestsDone.Load(),
		RoundsCounted:    r.roundsCounted.Load(),
	}
}

// Results returns completed contest results, ordered by slug.
func (r *ContestRunner) Results() []models.ContestResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ContestResult, 0, len(r.results))
	for _, res := range r.results {
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Result returns one contest's result by slug.
func (r *ContestRunner) Result(slug string) (models.ContestResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.results[slug]
	if !ok {
		return models.ContestResult{}, false
	}
	return *res, true
}

// RunAll counts every configured contest concurrently and blocks until
// all are done. Each contest's failure is independent; the combined
// error covers every contest that failed.
func (r *ContestRunner) RunAll(ctx context.Context) error {
	if !r.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("a run is already in progress")
	}
	defer r.isRunning.Store(false)

	r.contestsTotal.Store(int64(len(r.work.Tasks)))
	r.contestsDone.Store(0)

	var wg sync.WaitGroup
	errs := make([]error, len(r.work.Tasks))
	for i, task := range r.work.Tasks {
		wg.Add(1)
		go func(i int, task config.CountTask) {
			defer wg.Done()
			if err := r.runContest(ctx, task); err != nil {
				log.Printf("[Runner] Contest %s failed: %v", task.Slug, err)
				errs[i] = fmt.Errorf("contest %s: %w", task.Slug, err)
			}
			r.contestsDone.Add(1)
		}(i, task)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Recount re-runs a single contest by slug; used by the results API.
func (r *ContestRunner) Recount(ctx context.Context, slug string) error {
	task, ok := r.tasks[slug]
	if !ok {
		return fmt.Errorf("unknown contest %q", slug)
	}
	return r.runContest(ctx, task)
}

func (r *ContestRunner) runContest(ctx context.Context, task config.CountTask) error {
	started := time.Now()
	runID := uuid.NewString()
	log.Printf("[Runner] %s: starting count (run %s, %d vacancies)", task.Slug, runID, task.Vacancies)

	cd, err := roster.Load(task.CandidatesPath, task.State)
	if err != nil {
		return err
	}
	ballotStates, err := ballots.ReadFile(task.PreferencesPath, cd)
	if err != nil {
		return err
	}

	automation, err := compileExclusionTies(cd, task.ExclusionTies)
	if err != nil {
		return err
	}
	if len(task.ElectionTies) > 0 {
		log.Printf("[Runner] %s: %d declarative election ties configured; election ties resolve by look-back only",
			task.Slug, len(task.ElectionTies))
	}

	engine, err := count.NewEngine(task.Vacancies, cd, ballotStates, automation)
	if err != nil {
		return err
	}
	log.Printf("[Runner] %s: %d candidates, %d papers, quota %d",
		task.Slug, cd.Count, engine.TotalPapers(), engine.Quota())

	result := &models.ContestResult{
		RunID:       runID,
		Slug:        task.Slug,
		State:       task.State,
		House:       task.House,
		Description: task.Description,
		Vacancies:   task.Vacancies,
		Quota:       engine.Quota(),
		TotalPapers: engine.TotalPapers(),
		UniqueForms: len(ballotStates),
		Candidates:  candidateSummaries(cd, allIndices(cd)),
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		outcome, err := engine.Count()
		if err != nil {
			return err
		}
		r.roundsCounted.Add(1)
		result.Rounds = append(result.Rounds, roundRow(outcome))
		r.emitAlert(task.Slug, runID, cd, engine, outcome)

		if outcome.Complete {
			break
		}
		if outcome.Round >= maxRounds {
			return fmt.Errorf("count did not converge after %d rounds", outcome.Round)
		}
	}

	result.Elected = candidateSummaries(cd, engine.Elected())
	result.Excluded = candidateSummaries(cd, engine.Excluded())
	result.CompletedAt = time.Now().UTC().Format(time.RFC3339)

	r.mu.Lock()
	r.results[task.Slug] = result
	r.mu.Unlock()

	if err := r.writeDocument(result); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.SaveContestResult(ctx, *result); err != nil {
			log.Printf("[Runner] %s: warning: failed to persist result: %v", task.Slug, err)
		}
	}

	log.Printf("[Runner] %s: complete in %d rounds (%s); elected %s",
		task.Slug, len(result.Rounds), time.Since(started).Round(time.Millisecond),
		cd.NameList(engine.Elected()))
	return nil
}

func (r *ContestRunner) emitAlert(slug, runID string, cd *count.CandidateData, engine *count.Engine, outcome count.Outcome) {
	if r.alertFunc == nil {
		return
	}
	elected := engine.Elected()
	names := make([]string, len(elected))
	for i, id := range elected {
		names[i] = cd.Name(id)
	}
	r.alertFunc(models.RoundAlert{
		Slug:            slug,
		RunID:           runID,
		Round:           outcome.Round,
		Action:          outcome.Action,
		Quota:           engine.Quota(),
		ElectedSoFar:    names,
		PapersExhausted: outcome.State.PapersExhausted,
		Complete:        outcome.Complete,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *ContestRunner) writeDocument(result *models.ContestResult) error {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(r.outputDir, result.Slug+".json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result document: %w", err)
	}
	log.Printf("[Runner] %s: wrote %s", result.Slug, path)
	return nil
}

func roundRow(outcome count.Outcome) models.RoundRow {
	votes := make(map[int]uint32, len(outcome.State.VotesPerCandidate))
	for id, v := range outcome.State.VotesPerCandidate {
		votes[int(id)] = v
	}
	papers := make(map[int]uint32, len(outcome.State.PapersPerCandidate))
	for id, p := range outcome.State.PapersPerCandidate {
		papers[int(id)] = p
	}
	return models.RoundRow{
		Round:           outcome.Round,
		Action:          outcome.Action,
		Votes:           votes,
		Papers:          papers,
		VotesExhausted:  outcome.State.VotesExhausted,
		PapersExhausted: outcome.State.PapersExhausted,
	}
}

func allIndices(cd *count.CandidateData) []count.CandidateIndex {
	ids := make([]count.CandidateIndex, cd.Count)
	for i := range ids {
		ids[i] = count.CandidateIndex(i)
	}
	return ids
}

func candidateSummaries(cd *count.CandidateData, ids []count.CandidateIndex) []models.CandidateSummary {
	out := make([]models.CandidateSummary, len(ids))
	for i, id := range ids {
		out[i] = models.CandidateSummary{
			Index: int(id),
			Name:  cd.Name(id),
			Party: cd.Party(id),
		}
	}
	return out
}

// compileExclusionTies turns declarative tie picks into the engine's
// automation queue. The engine indexes a still-tied cohort sorted by
// ballot-paper position, so each pick compiles to the pick's position
// within its tie list after the same sort.
func compileExclusionTies(cd *count.CandidateData, ties []config.Tie) ([]int, error) {
	nameToIndex := make(map[string]count.CandidateIndex, cd.Count)
	for i, name := range cd.Names {
		nameToIndex[name] = count.CandidateIndex(i)
	}

	var automation []int
	for _, tie := range ties {
		cohort := make([]count.CandidateIndex, 0, len(tie.Tie))
		for _, name := range tie.Tie {
			id, ok := nameToIndex[name]
			if !ok {
				return nil, fmt.Errorf("tie names unknown candidate %q", name)
			}
			cohort = append(cohort, id)
		}
		pick, ok := nameToIndex[tie.Pick]
		if !ok {
			return nil, fmt.Errorf("tie pick names unknown candidate %q", tie.Pick)
		}
		sort.Slice(cohort, func(i, j int) bool { return cohort[i] < cohort[j] })
		pos := -1
		for i, id := range cohort {
			if id == pick {
				pos = i
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("tie pick %q is not among the tied candidates", tie.Pick)
		}
		automation = append(automation, pos)
	}
	return automation, nil
}
