// Package snapshots keeps session records in process memory. Records are
// stored serialized, so callers never share memory with the store.
package snapshots

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fastprodman/balancesync/internal/repos/snapshots"
	"github.com/patrickmn/go-cache"
)

var _ snapshots.Store = (*memoryStore)(nil)

type entry struct {
	version int64
	data    []byte
}

type memoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// New returns an in-memory store. A positive ttl evicts sessions that have
// not been saved for that long; zero keeps them until the process exits.
func New(ttl time.Duration) *memoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	return &memoryStore{cache: cache.New(ttl, 10*time.Minute)}
}

func (s *memoryStore) Save(ctx context.Context, sessionID string, rec snapshots.Record) error {
	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.cache.Get(sessionID); ok && cur.(entry).version > rec.Snapshot.Version {
		return nil
	}

	s.cache.SetDefault(sessionID, entry{version: rec.Snapshot.Version, data: data})

	return nil
}

func (s *memoryStore) Load(ctx context.Context, sessionID string) (snapshots.Record, error) {
	err := ctx.Err()
	if err != nil {
		return snapshots.Record{}, fmt.Errorf("load snapshot: %w", err)
	}

	v, ok := s.cache.Get(sessionID)
	if !ok {
		return snapshots.Record{}, snapshots.ErrNotFound
	}

	var rec snapshots.Record

	err = json.Unmarshal(v.(entry).data, &rec)
	if err != nil {
		return snapshots.Record{}, fmt.Errorf("decode snapshot: %w", err)
	}

	return rec, nil
}
