package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusSent    Status = "sent"    // email accepted by the server
	StatusHandled Status = "handled" // user confirmed a form or flow
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"
)

// Record is the outcome of processing one target in one run.
type Record struct {
	ID          int64
	RunID       string
	TargetName  string
	Country     string
	TargetType  string
	Status      Status
	Detail      string
	ProcessedAt time.Time
	CreatedAt   time.Time
}

type Store struct {
	db *sql.DB
}

// scanRecord handles nullable columns when scanning a row
func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var processedAt, createdAt sql.NullTime
	var country, detail sql.NullString

	err := scanner.Scan(&r.ID, &r.RunID, &r.TargetName, &country, &r.TargetType,
		&r.Status, &detail, &processedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	r.Country = country.String
	r.Detail = detail.String
	r.ProcessedAt = processedAt.Time
	r.CreatedAt = createdAt.Time
	return &r, nil
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS removal_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		target_name TEXT NOT NULL,
		country TEXT,
		target_type TEXT NOT NULL,
		status TEXT NOT NULL,
		detail TEXT,
		processed_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_target_name ON removal_requests(target_name);
	CREATE INDEX IF NOT EXISTS idx_run_id ON removal_requests(run_id);
	CREATE INDEX IF NOT EXISTS idx_processed_at ON removal_requests(processed_at);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Add(record *Record) error {
	query := `
	INSERT INTO removal_requests (run_id, target_name, country, target_type, status, detail, processed_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}
	result, err := s.db.Exec(query,
		record.RunID,
		record.TargetName,
		record.Country,
		record.TargetType,
		string(record.Status),
		record.Detail,
		record.ProcessedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	record.ID = id
	return nil
}

const selectColumns = `SELECT id, run_id, target_name, country, target_type, status, detail, processed_at, created_at FROM removal_requests`

func (s *Store) GetLastForTarget(name string) (*Record, error) {
	record, err := scanRecord(s.db.QueryRow(selectColumns+` WHERE target_name = ? ORDER BY processed_at DESC, id DESC LIMIT 1`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	return record, nil
}

func (s *Store) GetRecentRequests(limit int) ([]Record, error) {
	return s.query(selectColumns+` ORDER BY processed_at DESC, id DESC LIMIT ?`, limit)
}

func (s *Store) GetRun(runID string) ([]Record, error) {
	return s.query(selectColumns+` WHERE run_id = ? ORDER BY id`, runID)
}

func (s *Store) query(query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// GetStats counts records per status.
func (s *Store) GetStats() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM removal_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
