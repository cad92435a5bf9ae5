package blob

import (
	"context"
	"sync"
)

// memoryStore 是 Store 的进程内实现。
// 以内容摘要为键做引用计数去重：相同内容的重复 Put 只保留一份字节，
// Delete 递减计数，计数归零时才真正释放。
type memoryStore struct {
	mu      sync.RWMutex
	entries map[Ref]*memoryEntry
}

type memoryEntry struct {
	data []byte
	refs int
}

// NewMemoryStore 创建一个内存块存储。
func NewMemoryStore() Store {
	return &memoryStore{entries: make(map[Ref]*memoryEntry)}
}

func (s *memoryStore) Put(ctx context.Context, data []byte) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := Ref(digest(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[ref]; ok {
		entry.refs++
		return ref, nil
	}

	owned := make([]byte, len(data))
	copy(owned, data)
	s.entries[ref] = &memoryEntry{data: owned, refs: 1}
	return ref, nil
}

func (s *memoryStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entry, ok := s.entries[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	// 返回副本，调用方不能改写存储内的字节。
	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out, nil
}

func (s *memoryStore) Delete(ctx context.Context, ref Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ref]
	if !ok {
		return ErrNotFound
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(s.entries, ref)
	}
	return nil
}
