package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local runs
// without a database.
type MemoryStore struct {
	mu        sync.Mutex
	employees []Employee
	checkins  []Checkin
	config    SyncConfig
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		config: SyncConfig{IntervalSeconds: DefaultIntervalSeconds},
	}
}

// AddEmployee registers an employee for lookup.
func (s *MemoryStore) AddEmployee(e Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees = append(s.employees, e)
}

// Checkins returns a snapshot of all recorded checkins.
func (s *MemoryStore) Checkins() []Checkin {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Checkin, len(s.checkins))
	copy(out, s.checkins)
	return out
}

func (s *MemoryStore) FindByCode(ctx context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Field priority matches the Postgres store: code, user id,
	// device id.
	for _, e := range s.employees {
		if e.Code == code {
			return e.Name, nil
		}
	}
	for _, e := range s.employees {
		if e.UserID == code {
			return e.Name, nil
		}
	}
	for _, e := range s.employees {
		if e.DeviceID == code {
			return e.Name, nil
		}
	}
	return "", nil
}

func (s *MemoryStore) Exists(ctx context.Context, c Checkin) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.checkins {
		if existing.Employee == c.Employee &&
			existing.Time.Equal(c.Time) &&
			existing.LogType == c.LogType &&
			existing.DeviceID == c.DeviceID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Insert(ctx context.Context, c Checkin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkins = append(s.checkins, c)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context) (*SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.config
	if cfg.LastSync != nil {
		t := *cfg.LastSync
		cfg.LastSync = &t
	}
	return &cfg, nil
}

func (s *MemoryStore) Put(ctx context.Context, cfg *SyncConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lastSync := s.config.LastSync
	totalSynced := s.config.TotalSynced
	s.config = *cfg
	s.config.LastSync = lastSync
	s.config.TotalSynced = totalSynced
	return nil
}

func (s *MemoryStore) Advance(ctx context.Context, watermark time.Time, added int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := watermark
	s.config.LastSync = &t
	s.config.TotalSynced += added
	return nil
}

func (s *MemoryStore) Close() error { return nil }
