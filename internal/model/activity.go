package model

import "time"

// EventKind 表示一条房间动态的类型。
type EventKind string

const (
	EventUserJoined     EventKind = "user-joined"
	EventUserLeft       EventKind = "user-left"
	EventFileUploaded   EventKind = "file-uploaded"
	EventFileDownloaded EventKind = "file-downloaded"
	EventInfo           EventKind = "info"
)

// ActivityEvent 表示房间动态日志中的一条记录。
// 事件一经创建不可变更；每个房间最多保留固定条数，超出后淘汰最旧的。
type ActivityEvent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
