// Package graph records follower edges observed during discovery as a
// (:Account)-[:FOLLOWS]->(:Account) graph.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// SessionRunner abstracts neo4j.SessionWithContext.
type SessionRunner interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext.
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

type driverAdapter struct {
	driver neo4j.DriverWithContext
}

func (d *driverAdapter) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *driverAdapter) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Config holds connection settings.
type Config struct {
	URI      string
	User     string
	Password string
}

// Writer implements crawler.GraphSink.
type Writer struct {
	driver DriverSessioner
	logger *zap.Logger
}

// Connect opens a driver and verifies connectivity.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Writer, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return NewWriter(&driverAdapter{driver: driver}, logger), nil
}

// NewWriter builds a writer over an existing driver (tests).
func NewWriter(driver DriverSessioner, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{driver: driver, logger: logger}
}

// Close releases the driver.
func (w *Writer) Close(ctx context.Context) error {
	return w.driver.Close(ctx)
}

// RecordFollowers merges account and every follower as nodes and links each
// follower to account.
func (w *Writer) RecordFollowers(ctx context.Context, jobID string, account string, followers []string) error {
	if len(followers) == 0 {
		return nil
	}
	query, params := buildFollowersQuery(jobID, account, followers)
	session := w.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := session.Close(ctx); err != nil {
			w.logger.Warn("neo4j session close error", zap.Error(err))
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("write followers of %s: %w", account, err)
	}
	return nil
}

func buildFollowersQuery(jobID, account string, followers []string) (string, map[string]any) {
	query := "MERGE (a:Account {username: $account}) " +
		"WITH a UNWIND $followers AS follower " +
		"MERGE (f:Account {username: follower}) " +
		"MERGE (f)-[r:FOLLOWS]->(a) " +
		"ON CREATE SET r.job_id = $job_id"
	names := make([]any, 0, len(followers))
	for _, f := range followers {
		names = append(names, f)
	}
	return query, map[string]any{
		"account":   account,
		"followers": names,
		"job_id":    jobID,
	}
}
