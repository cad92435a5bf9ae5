// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 业务错误按类别划分，handler 层用 errors.Is 映射到 HTTP 状态码。
var (
	// 校验类错误：同步拒绝，不改变任何状态。
	ErrInvalidDisplayName = errors.New("display name must be at least 2 characters")
	ErrInvalidRoomName    = errors.New("room name must not be empty")
	ErrFileTooLarge       = errors.New("file exceeds the maximum allowed size")
	ErrEmptyFile          = errors.New("empty files cannot be uploaded")
	ErrUnsupportedType    = errors.New("unsupported file type")
	ErrInvalidChunkIndex  = errors.New("chunk index out of range")
	ErrChunkSizeMismatch  = errors.New("chunk byte length does not match the expected size")

	// 未找到类错误：原样上报，不自动重试。
	ErrUserNotFound    = errors.New("user not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("upload session not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrNotRoomMember   = errors.New("user is not a member of the room")

	// 并发/耗尽类错误：调用方可退避后重试，服务端不自动重试。
	ErrTooManyConcurrentUploads = errors.New("too many concurrent uploads in this room")
	ErrCodeGenerationExhausted  = errors.New("failed to generate a unique join code")
	ErrSessionTerminal          = errors.New("upload session is already terminal")
	ErrIncompleteUpload         = errors.New("not all chunks have been uploaded")

	// 瞬时基础设施错误：调用方只重试失败的那个分片。
	ErrStorageTimeout = errors.New("chunk store write timed out")

	// 不变量违规：视为内部 bug，上报但绝不静默覆盖修复。
	ErrDuplicateFileID = errors.New("duplicate file id in catalog")
)
