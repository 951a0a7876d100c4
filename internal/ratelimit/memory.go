package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-process TriggerLog.
type MemoryLog struct {
	mu       sync.Mutex
	triggers map[string][]time.Time
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{triggers: make(map[string][]time.Time)}
}

func (m *MemoryLog) ListTriggers(_ context.Context, userID string) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.triggers[userID]...), nil
}

func (m *MemoryLog) AddTrigger(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[userID] = append(m.triggers[userID], at)
	return nil
}

func (m *MemoryLog) PruneTriggers(_ context.Context, userID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.triggers[userID][:0]
	var pruned int64
	for _, ts := range m.triggers[userID] {
		if ts.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, ts)
	}
	if len(kept) == 0 {
		delete(m.triggers, userID)
	} else {
		m.triggers[userID] = kept
	}
	return pruned, nil
}
