// Package refstore provides the reference tables that accompany the atlas
// containers (surface features and interaction partners) using SQLite.
package refstore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNoData is returned when the store holds no rows for an organism.
var ErrNoData = errors.New("no reference data")

// Interaction is an undirected pair of interacting features.
type Interaction struct {
	Source string
	Target string
}

// Store provides read access to reference tables and bulk import.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (creating if needed) a SQLite reference database.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS surface_features (
		organism TEXT NOT NULL,
		feature TEXT NOT NULL,
		PRIMARY KEY (organism, feature)
	);

	CREATE TABLE IF NOT EXISTS interactions (
		organism TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		PRIMARY KEY (organism, source, target)
	);

	CREATE INDEX IF NOT EXISTS idx_interactions_target ON interactions(organism, target);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SurfaceFeatures returns the surface features of an organism in name
// order.
func (s *Store) SurfaceFeatures(ctx context.Context, organism string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT feature FROM surface_features WHERE organism = ? ORDER BY feature
	`, organism)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("surface features of %s: %w", organism, ErrNoData)
	}
	return out, nil
}

// InteractionPartners returns every interaction touching any of features.
// Each pair is oriented so Source is the queried feature.
func (s *Store) InteractionPartners(ctx context.Context, organism string, features []string) ([]Interaction, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM interactions WHERE organism = ?
	`, organism).Scan(&count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("interactions of %s: %w", organism, ErrNoData)
	}

	var out []Interaction
	seen := make(map[Interaction]bool)
	for _, f := range features {
		rows, err := s.db.QueryContext(ctx, `
			SELECT source, target FROM interactions WHERE organism = ? AND (source = ? OR target = ?)
			ORDER BY rowid
		`, organism, f, f)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var src, tgt string
			if err := rows.Scan(&src, &tgt); err != nil {
				rows.Close()
				return nil, err
			}
			pair := Interaction{Source: f, Target: tgt}
			if tgt == f {
				pair.Target = src
			}
			if !seen[pair] {
				seen[pair] = true
				out = append(out, pair)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AddSurfaceFeatures inserts surface features in a batch transaction.
func (s *Store) AddSurfaceFeatures(ctx context.Context, organism string, features []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO surface_features (organism, feature) VALUES (?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range features {
		if _, err := stmt.ExecContext(ctx, organism, f); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddInteractions inserts interaction pairs in a batch transaction.
func (s *Store) AddInteractions(ctx context.Context, organism string, pairs []Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO interactions (organism, source, target) VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range pairs {
		if _, err := stmt.ExecContext(ctx, organism, p.Source, p.Target); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ImportSurfaceCSV loads surface features from the first column of a CSV
// file with a header row.
func (s *Store) ImportSurfaceCSV(ctx context.Context, organism string, r io.Reader) (int, error) {
	records, err := readCSV(r, 1)
	if err != nil {
		return 0, err
	}
	features := make([]string, 0, len(records))
	for _, rec := range records {
		features = append(features, rec[0])
	}
	return len(features), s.AddSurfaceFeatures(ctx, organism, features)
}

// ImportInteractionsCSV loads interaction pairs from the first two columns of
// a CSV file with a header row.
func (s *Store) ImportInteractionsCSV(ctx context.Context, organism string, r io.Reader) (int, error) {
	records, err := readCSV(r, 2)
	if err != nil {
		return 0, err
	}
	pairs := make([]Interaction, 0, len(records))
	for _, rec := range records {
		pairs = append(pairs, Interaction{Source: rec[0], Target: rec[1]})
	}
	return len(pairs), s.AddInteractions(ctx, organism, pairs)
}

func readCSV(r io.Reader, minCols int) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	out := make([][]string, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < minCols {
			return nil, fmt.Errorf("csv row %d: expected %d columns, got %d", i+2, minCols, len(rec))
		}
		for j := range rec {
			rec[j] = strings.TrimSpace(rec[j])
		}
		if rec[0] == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
