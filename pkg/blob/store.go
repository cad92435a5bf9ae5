// Package blob 提供了内容寻址的块存储。
// 上传的每个分片以其 SHA-256 摘要作为引用存入，StoredFile 只持有引用，
// 原始字节的所有权始终在块存储内。
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Ref 是块存储返回的不透明内容引用。
// 对任何一次成功 Put 返回的 Ref，在其存活期内 Get 必须返回逐字节一致的数据。
type Ref string

// ErrNotFound 表示引用不存在或已被释放。
var ErrNotFound = errors.New("blob: ref not found")

// ErrCorrupted 表示读出的数据与内容摘要不符。
var ErrCorrupted = errors.New("blob: content digest mismatch")

// Store 是块存储的抽象。相同内容的两个分片可以（但不要求）共享存储，
// 去重是优化而非正确性要求。
type Store interface {
	Put(ctx context.Context, data []byte) (Ref, error)
	Get(ctx context.Context, ref Ref) ([]byte, error)
	Delete(ctx context.Context, ref Ref) error
}

// digest 计算数据的 SHA-256 十六进制摘要。
func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
