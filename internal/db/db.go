// Package db provides PostgreSQL database access for run and artifact storage.
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dimenwarper/rnapipey/internal/types"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// CreateRun creates a new pipeline run record keyed by the run directory's UUID
func (db *DB) CreateRun(ctx context.Context, runID uuid.UUID, sequenceID string, sequenceLength int, fingerprint string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, sequence_id, sequence_length, fingerprint, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 ON CONFLICT (id) DO UPDATE SET fingerprint = $4, status = 'running'`,
		runID, sequenceID, sequenceLength, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun marks a pipeline run as completed
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, completed_at = NOW() WHERE id = $2`,
		status, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// SaveArtifact stores a JSON artifact for a pipeline run
func (db *DB) SaveArtifact(ctx context.Context, runID uuid.UUID, stage, category string, content any) error {
	jsonBytes, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO artifacts (run_id, stage, category, content)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, stage) DO UPDATE SET category = $3, content = $4, created_at = NOW()`,
		runID, stage, category, jsonBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", stage, err)
	}
	return nil
}

// GetArtifact retrieves a JSON artifact by run ID and stage
func (db *DB) GetArtifact(ctx context.Context, runID uuid.UUID, stage string) ([]byte, error) {
	var content []byte
	err := db.pool.QueryRow(ctx,
		`SELECT content FROM artifacts WHERE run_id = $1 AND stage = $2`,
		runID, stage,
	).Scan(&content)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", stage, err)
	}
	return content, nil
}

// SaveEnsemble stores one backend's ensemble result
func (db *DB) SaveEnsemble(ctx context.Context, runID uuid.UUID, result *types.EnsembleResult) error {
	return db.SaveArtifact(ctx, runID, types.PredictionStage(result.Backend), "ensemble", result)
}

// SaveRanking stores the scorer's consensus ranking
func (db *DB) SaveRanking(ctx context.Context, runID uuid.UUID, ranking []types.ModelScore) error {
	return db.SaveArtifact(ctx, runID, types.StageScoring, "ranking", ranking)
}

// GetRankingByRunID loads the stored ranking for a run
func (db *DB) GetRankingByRunID(ctx context.Context, runID uuid.UUID) ([]types.ModelScore, error) {
	content, err := db.GetArtifact(ctx, runID, types.StageScoring)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, nil
	}

	var ranking []types.ModelScore
	if err := json.Unmarshal(content, &ranking); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ranking: %w", err)
	}
	return ranking, nil
}
