// Package checkpoint persists anchor fetch progress so an interrupted run
// resumes without re-querying completed anchors. Entries are appended before
// the next fetch begins: a crash loses at most the in-flight request.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gridwx/weather-grid-service/internal/fetch"
)

// Phase is the fetch phase state machine for one run.
type Phase int

const (
	NotStarted Phase = iota
	Fetching
	Completed
	Interrupted
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case Fetching:
		return "fetching"
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Entry is one fetched anchor: its id plus the reading, so a resumed run has
// the payload without refetching.
type Entry struct {
	GridID    string        `json:"grid_id"`
	FetchedAt time.Time     `json:"fetched_at"`
	Reading   fetch.Reading `json:"reading"`
}

// Store is the durable checkpoint log. Load at startup, Append after every
// successful fetch. Implementations must make Append durable before
// returning.
type Store interface {
	Load() (map[string]fetch.Reading, error)
	Append(e Entry) error
	Close() error
}

// FileStore is an append-only JSON-lines log on disk.
type FileStore struct {
	path string
	f    *os.File
}

// NewFileStore opens (creating if absent) the checkpoint log at path.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint log: %w", err)
	}
	return &FileStore{path: path, f: f}, nil
}

// Load reads every complete entry in the log. A torn final line (crash
// mid-write) is skipped rather than failing the run.
func (s *FileStore) Load() (map[string]fetch.Reading, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]fetch.Reading{}, nil
		}
		return nil, fmt.Errorf("read checkpoint log: %w", err)
	}
	defer f.Close()

	done := make(map[string]fetch.Reading)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.GridID == "" {
			continue
		}
		done[e.GridID] = e.Reading
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan checkpoint log: %w", err)
	}
	return done, nil
}

// Append writes one entry and syncs before returning.
func (s *FileStore) Append(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode checkpoint entry: %w", err)
	}
	b = append(b, '\n')
	if _, err := s.f.Write(b); err != nil {
		return fmt.Errorf("append checkpoint entry: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint log: %w", err)
	}
	return nil
}

// Close closes the underlying log file.
func (s *FileStore) Close() error {
	return s.f.Close()
}

// Remove deletes the log. Called after a completed run when the operator does
// not want an audit trail.
func (s *FileStore) Remove() error {
	return os.Remove(s.path)
}

// MemStore is an in-memory Store for tests of the fetch phase.
type MemStore struct {
	Entries []Entry
}

// NewMemStore returns an empty in-memory checkpoint store.
func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Load() (map[string]fetch.Reading, error) {
	done := make(map[string]fetch.Reading, len(s.Entries))
	for _, e := range s.Entries {
		done[e.GridID] = e.Reading
	}
	return done, nil
}

func (s *MemStore) Append(e Entry) error {
	s.Entries = append(s.Entries, e)
	return nil
}

func (s *MemStore) Close() error { return nil }
