package repository

import (
	"context"
	"sort"
	"sync"
)

// memoryChunkTracker 是 ChunkTracker 的进程内实现。
type memoryChunkTracker struct {
	mu       sync.RWMutex
	sessions map[string]map[int]struct{}
}

// NewMemoryChunkTracker 创建一个内存分片跟踪器。
func NewMemoryChunkTracker() ChunkTracker {
	return &memoryChunkTracker{sessions: make(map[string]map[int]struct{})}
}

func (t *memoryChunkTracker) Mark(ctx context.Context, sessionID string, chunkIndex int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.sessions[sessionID]
	if !ok {
		set = make(map[int]struct{})
		t.sessions[sessionID] = set
	}
	set[chunkIndex] = struct{}{}
	return nil
}

func (t *memoryChunkTracker) IsMarked(ctx context.Context, sessionID string, chunkIndex int) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.sessions[sessionID]
	if !ok {
		return false, nil
	}
	_, marked := set[chunkIndex]
	return marked, nil
}

func (t *memoryChunkTracker) Marked(ctx context.Context, sessionID string, totalChunks int) ([]int, error) {
	t.mu.RLock()
	set := t.sessions[sessionID]
	marked := make([]int, 0, len(set))
	for idx := range set {
		if idx < totalChunks {
			marked = append(marked, idx)
		}
	}
	t.mu.RUnlock()

	sort.Ints(marked)
	return marked, nil
}

func (t *memoryChunkTracker) Clear(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
	return nil
}
