package callstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for tests and single-node development
// deployments where no database is configured. All state is lost on
// restart.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int
	callers map[string]string // phone hash -> caller ID
	calls   map[string]*callRecord
}

type callRecord struct {
	CallUUID  string
	CallerID  string
	StartedAt time.Time
	EndedAt   time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		callers: make(map[string]string),
		calls:   make(map[string]*callRecord),
	}
}

// Start implements Store.
func (m *MemoryStore) Start(ctx context.Context, callUUID, phone string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := HashPhone(phone)
	callerID, ok := m.callers[hash]
	if !ok {
		m.nextID++
		callerID = fmt.Sprintf("caller-%d", m.nextID)
		m.callers[hash] = callerID
	}

	m.nextID++
	callID := fmt.Sprintf("call-%d", m.nextID)
	m.calls[callID] = &callRecord{
		CallUUID:  callUUID,
		CallerID:  callerID,
		StartedAt: time.Now(),
	}
	return callID, callerID, nil
}

// End implements Store.
func (m *MemoryStore) End(ctx context.Context, callID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.calls[callID]; ok && rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now()
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// Ended reports whether the call has been marked as finished. Test helper.
func (m *MemoryStore) Ended(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[callID]
	return ok && !rec.EndedAt.IsZero()
}

// StartedByUUID reports whether a call was registered under the telephony
// layer's UUID. Test helper.
func (m *MemoryStore) StartedByUUID(callUUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.calls {
		if rec.CallUUID == callUUID {
			return true
		}
	}
	return false
}

// EndedByUUID reports whether the call registered under the telephony
// layer's UUID has finished. Test helper.
func (m *MemoryStore) EndedByUUID(callUUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.calls {
		if rec.CallUUID == callUUID {
			return !rec.EndedAt.IsZero()
		}
	}
	return false
}
