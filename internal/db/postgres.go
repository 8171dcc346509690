package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ozcount/scrutiny-engine/pkg/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for result persistence")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Scrutiny results schema initialized")
	return nil
}

// SaveContestResult persists a completed count and its round-by-round
// record in one transaction. Saving under an existing run upserts on
// (run_id) and (run_id, round), so re-persisting a run is idempotent.
func (s *PostgresStore) SaveContestResult(ctx context.Context, result models.ContestResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	electedJSON, err := json.Marshal(result.Elected)
	if err != nil {
		return fmt.Errorf("failed to marshal elected list: %v", err)
	}
	excludedJSON, err := json.Marshal(result.Excluded)
	if err != nil {
		return fmt.Errorf("failed to marshal excluded list: %v", err)
	}

	insertContestSQL := `
		INSERT INTO contest_result
		(run_id, slug, state, house, description, vacancies, quota, total_papers, elected, excluded, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO UPDATE
		SET elected = EXCLUDED.elected, excluded = EXCLUDED.excluded, completed_at = EXCLUDED.completed_at;
	`
	_, err = tx.Exec(ctx, insertContestSQL,
		result.RunID, result.Slug, result.State, result.House, result.Description,
		result.Vacancies, result.Quota, result.TotalPapers,
		electedJSON, excludedJSON, result.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert contest_result: %v", err)
	}

	insertRoundSQL := `
		INSERT INTO count_round
		(run_id, round, action, votes, papers, votes_exhausted, papers_exhausted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, round) DO UPDATE
		SET action = EXCLUDED.action, votes = EXCLUDED.votes, papers = EXCLUDED.papers,
		    votes_exhausted = EXCLUDED.votes_exhausted, papers_exhausted = EXCLUDED.papers_exhausted;
	`
	for _, round := range result.Rounds {
		votesJSON, err := json.Marshal(round.Votes)
		if err != nil {
			return fmt.Errorf("failed to marshal round %d votes: %v", round.Round, err)
		}
		papersJSON, err := json.Marshal(round.Papers)
		if err != nil {
			return fmt.Errorf("failed to marshal round %d papers: %v", round.Round, err)
		}
		_, err = tx.Exec(ctx, insertRoundSQL,
			result.RunID, round.Round, round.Action,
			votesJSON, papersJSON, round.VotesExhausted, round.PapersExhausted)
		if err != nil {
			return fmt.Errorf("failed to insert count_round %d: %v", round.Round, err)
		}
	}

	return tx.Commit(ctx)
}

// LoadContestResults returns the most recent persisted result per slug.
// Round rows are not rehydrated here; the API serves live rounds from the
// runner and uses this only for its archive endpoint.
func (s *PostgresStore) LoadContestResults(ctx context.Context) ([]models.ContestResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (slug)
		       run_id, slug, state, house, description, vacancies, quota, total_papers, elected, excluded, completed_at
		FROM contest_result
		ORDER BY slug, completed_at DESC;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ContestResult
	for rows.Next() {
		var r models.ContestResult
		var electedJSON, excludedJSON []byte
		if err := rows.Scan(&r.RunID, &r.Slug, &r.State, &r.House, &r.Description,
			&r.Vacancies, &r.Quota, &r.TotalPapers, &electedJSON, &excludedJSON, &r.CompletedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(electedJSON, &r.Elected); err != nil {
			return nil, fmt.Errorf("failed to decode elected list for %s: %v", r.Slug, err)
		}
		if err := json.Unmarshal(excludedJSON, &r.Excluded); err != nil {
			return nil, fmt.Errorf("failed to decode excluded list for %s: %v", r.Slug, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
