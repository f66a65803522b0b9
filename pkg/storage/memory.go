package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// MemoryProvider keeps everything in process memory. It is used for dry runs
// and tests; nothing survives a restart.
type MemoryProvider struct {
	mu     sync.Mutex
	values map[string]string
	queue  map[string]types.ScheduledMessage
}

// NewMemory returns a Database backed by a MemoryProvider.
func NewMemory() Database {
	return newStore(&MemoryProvider{
		values: make(map[string]string),
		queue:  make(map[string]types.ScheduledMessage),
	})
}

func (m *MemoryProvider) getValue(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryProvider) setValue(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Enqueue stores a copy of msg.
func (m *MemoryProvider) Enqueue(ctx context.Context, msg types.Message, at time.Time) (string, error) {
	// round trip so callers cannot mutate the stored rank pointer
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	var stored types.Message
	if err := json.Unmarshal(b, &stored); err != nil {
		return "", fmt.Errorf("failed to unmarshal message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.queue[id] = types.ScheduledMessage{SequenceID: id, ScheduledAt: at, Message: stored}
	return id, nil
}

func (m *MemoryProvider) sorted() []types.ScheduledMessage {
	msgs := make([]types.ScheduledMessage, 0, len(m.queue))
	for _, sm := range m.queue {
		msgs = append(msgs, sm)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].ScheduledAt.Equal(msgs[j].ScheduledAt) {
			return msgs[i].ScheduledAt.Before(msgs[j].ScheduledAt)
		}
		return msgs[i].SequenceID < msgs[j].SequenceID
	})
	return msgs
}

// PeekPending returns pending messages ordered by scheduled time.
func (m *MemoryProvider) PeekPending(ctx context.Context, limit int) ([]types.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.sorted()
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// Cancel removes a pending message.
func (m *MemoryProvider) Cancel(ctx context.Context, sequenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queue[sequenceID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sequenceID)
	}
	delete(m.queue, sequenceID)
	return nil
}

// ClaimDue removes and returns messages scheduled at or before now.
func (m *MemoryProvider) ClaimDue(ctx context.Context, now time.Time, limit int) ([]types.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []types.ScheduledMessage
	for _, sm := range m.sorted() {
		if sm.ScheduledAt.After(now) {
			break
		}
		if limit > 0 && len(due) >= limit {
			break
		}
		due = append(due, sm)
		delete(m.queue, sm.SequenceID)
	}
	return due, nil
}

// Close does nothing.
func (m *MemoryProvider) Close() error {
	return nil
}
