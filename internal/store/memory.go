package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/gridwx/weather-grid-service/internal/dataset"
)

// MemoryStore implements Store in memory. Used by tests and by the pipeline's
// dry-run mode, where nothing should touch disk.
type MemoryStore struct {
	mu sync.RWMutex
	// keyed by (grid_id, ts, kind, location_name), same uniqueness as the
	// SQLite primary key
	records map[memKey]dataset.Record
}

type memKey struct {
	gridID string
	ts     string
	kind   dataset.Kind
	name   string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[memKey]dataset.Record)}
}

func (s *MemoryStore) PutBatch(ctx context.Context, recs []dataset.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.records[memKey{r.GridID, r.Timestamp, r.Kind, r.LocationName}] = r
	}
	return nil
}

func (s *MemoryStore) RecordsByGrid(ctx context.Context, gridID string) ([]dataset.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dataset.Record
	for k, r := range s.records {
		if k.gridID == gridID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].LocationName < out[j].LocationName
	})
	return out, nil
}

func (s *MemoryStore) LookupsByName(ctx context.Context, name string) ([]dataset.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dataset.Record
	for k, r := range s.records {
		if strings.EqualFold(k.name, name) && k.kind == dataset.KindCityLookup {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Population != out[j].Population {
			return out[i].Population > out[j].Population
		}
		return out[i].GridID < out[j].GridID
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports how many records the store holds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
