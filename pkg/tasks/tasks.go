// Package tasks defines the structures for records that are sent to Kafka.
package tasks

import "time"

// ActivityRecord 是房间动态事件的 Kafka 审计镜像结构。
type ActivityRecord struct {
	EventID   string    `json:"event_id"`
	RoomID    string    `json:"room_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
