package repository

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// ChunkTracker 记录每个上传会话已收到的分片序号集合。
// 重复标记同一序号是幂等的；Clear 在会话进入终态后释放记录。
type ChunkTracker interface {
	Mark(ctx context.Context, sessionID string, chunkIndex int) error
	IsMarked(ctx context.Context, sessionID string, chunkIndex int) (bool, error)
	Marked(ctx context.Context, sessionID string, totalChunks int) ([]int, error)
	Clear(ctx context.Context, sessionID string) error
}

// redisChunkTracker 用 Redis 位图记录分片状态，每个会话一个 key，
// 分片序号即位偏移。
type redisChunkTracker struct {
	client *redis.Client
}

// NewRedisChunkTracker 创建一个基于 Redis 位图的分片跟踪器。
func NewRedisChunkTracker(client *redis.Client) ChunkTracker {
	return &redisChunkTracker{client: client}
}

func (t *redisChunkTracker) key(sessionID string) string {
	return "upload:chunks:" + sessionID
}

func (t *redisChunkTracker) Mark(ctx context.Context, sessionID string, chunkIndex int) error {
	return t.client.SetBit(ctx, t.key(sessionID), int64(chunkIndex), 1).Err()
}

func (t *redisChunkTracker) IsMarked(ctx context.Context, sessionID string, chunkIndex int) (bool, error) {
	val, err := t.client.GetBit(ctx, t.key(sessionID), int64(chunkIndex)).Result()
	if err != nil {
		// key 不存在时 Redis 返回 0 而不是错误，这里只需处理真实错误。
		return false, err
	}
	return val == 1, nil
}

func (t *redisChunkTracker) Marked(ctx context.Context, sessionID string, totalChunks int) ([]int, error) {
	if totalChunks == 0 {
		return []int{}, nil
	}
	bitmap, err := t.client.Get(ctx, t.key(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return []int{}, nil
		}
		return nil, err
	}

	marked := make([]int, 0)
	for i := 0; i < totalChunks; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if byteIndex < len(bitmap) && (bitmap[byteIndex]>>(7-bitIndex))&1 == 1 {
			marked = append(marked, i)
		}
	}
	return marked, nil
}

func (t *redisChunkTracker) Clear(ctx context.Context, sessionID string) error {
	return t.client.Del(ctx, t.key(sessionID)).Err()
}
