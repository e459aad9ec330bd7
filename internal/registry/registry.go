// Package registry keeps a SQLite catalog of the frozen graphs a server holds.
package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	// deadlocks between handlers sharing the catalog are easy to introduce
	sync "github.com/sasha-s/go-deadlock"
)

// ErrNotFound is returned when no model has the requested name.
var ErrNotFound = errors.New("model not found")

// Record describes one stored frozen graph.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	Nodes     int       `json:"nodes"`
	Variables int       `json:"variables"`
	Inputs    []string  `json:"inputs"`
	Outputs   []string  `json:"outputs"`
	Created   time.Time `json:"created"`
}

// Registry is a model catalog backed by a sqlite3 file.
type Registry struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `CREATE TABLE IF NOT EXISTS models (
	id TEXT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	path TEXT NOT NULL,
	sha256 TEXT NOT NULL,
	size INTEGER NOT NULL,
	nodes INTEGER NOT NULL,
	variables INTEGER NOT NULL,
	inputs TEXT NOT NULL,
	outputs TEXT NOT NULL,
	created INTEGER NOT NULL
)`

// Open opens or creates the catalog at path.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Put stores rec, replacing any record with the same name. An empty ID gets a
// new UUID and a zero Created time becomes now. The stored record is returned.
func (r *Registry) Put(rec Record) (Record, error) {
	if rec.Name == "" {
		return Record{}, errors.New("registry: record has no name")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Created.IsZero() {
		rec.Created = time.Now().UTC()
	}
	inputs, err := json.Marshal(nonNil(rec.Inputs))
	if err != nil {
		return Record{}, err
	}
	outputs, err := json.Marshal(nonNil(rec.Outputs))
	if err != nil {
		return Record{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.db.Begin()
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit
	if _, err := tx.Exec(`DELETE FROM models WHERE name = ?`, rec.Name); err != nil {
		return Record{}, fmt.Errorf("failed to replace %s: %w", rec.Name, err)
	}
	_, err = tx.Exec(`INSERT INTO models (id, name, path, sha256, size, nodes, variables, inputs, outputs, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Path, rec.SHA256, rec.Size, rec.Nodes, rec.Variables,
		string(inputs), string(outputs), rec.Created.UnixNano())
	if err != nil {
		return Record{}, fmt.Errorf("failed to insert %s: %w", rec.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

const columns = `id, name, path, sha256, size, nodes, variables, inputs, outputs, created`

// Get returns the record named name.
func (r *Registry) Get(name string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.db.QueryRow(`SELECT `+columns+` FROM models WHERE name = ?`, name)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, err
}

// List returns every record ordered by name.
func (r *Registry) List() ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.db.Query(`SELECT ` + columns + ` FROM models ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the record named name.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.db.Exec(`DELETE FROM models WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Record, error) {
	var (
		rec             Record
		inputs, outputs string
		created         int64
	)
	err := s.Scan(&rec.ID, &rec.Name, &rec.Path, &rec.SHA256, &rec.Size, &rec.Nodes, &rec.Variables,
		&inputs, &outputs, &created)
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(inputs), &rec.Inputs); err != nil {
		return Record{}, fmt.Errorf("record %s inputs: %w", rec.Name, err)
	}
	if err := json.Unmarshal([]byte(outputs), &rec.Outputs); err != nil {
		return Record{}, fmt.Errorf("record %s outputs: %w", rec.Name, err)
	}
	rec.Created = time.Unix(0, created).UTC()
	return rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
