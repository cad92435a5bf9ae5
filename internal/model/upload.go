package model

import "time"

// SessionStatus 表示上传会话的状态。
// completed / aborted / failed 是终态，进入终态后会话不再接受分片。
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in-progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAborted    SessionStatus = "aborted"
	SessionFailed     SessionStatus = "failed"
)

// Terminal 返回该状态是否为终态。
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAborted || s == SessionFailed
}

// UploadSession 表示一次进行中的分片上传的对外快照。
type UploadSession struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"roomId"`
	InitiatorID string        `json:"initiatorId"`
	FileName    string        `json:"fileName"`
	Size        int64         `json:"size"`
	MimeType    string        `json:"mimeType"`
	ChunkSize   int64         `json:"chunkSize"`
	TotalChunks int           `json:"totalChunks"`
	Received    []int         `json:"received"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}
