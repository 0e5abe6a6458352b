package agent

import (
	"sync"

	"specter/pkg/agent/types"
)

const DefaultWindowSize = 20

// Memory is the bounded conversation window. It keeps the newest N turns in
// a ring buffer and evicts the oldest on overflow.
type Memory struct {
	mu    sync.RWMutex
	turns []types.Turn
	head  int
	size  int
}

func NewMemory(window int) *Memory {
	if window <= 0 {
		window = DefaultWindowSize
	}

	return &Memory{turns: make([]types.Turn, window)}
}

// Append records a completed turn in O(1).
func (m *Memory) Append(turn types.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	capacity := len(m.turns)
	idx := (m.head + m.size) % capacity
	m.turns[idx] = turn

	if m.size < capacity {
		m.size++
		return
	}
	m.head = (m.head + 1) % capacity
}

// Snapshot returns a copy of the window, oldest first.
func (m *Memory) Snapshot() types.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.size == 0 {
		return types.Snapshot{}
	}

	out := make([]types.Turn, m.size)
	capacity := len(m.turns)
	for i := 0; i < m.size; i++ {
		out[i] = m.turns[(m.head+i)%capacity]
	}

	return types.Snapshot{Turns: out}
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.size
}

func (m *Memory) Cap() int {
	return len(m.turns)
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.turns)
	m.head = 0
	m.size = 0
}
