package service

import (
	"sync"
	"time"

	"fileshare-go/internal/config"
	"fileshare-go/internal/model"
	"fileshare-go/pkg/kafka"
	"fileshare-go/pkg/log"
	"fileshare-go/pkg/tasks"

	"github.com/google/uuid"
)

// ActivityBus 维护每个房间的动态日志和订阅者。
// 日志是容量固定的环形缓冲（FIFO 淘汰）；向订阅者的投递是尽力而为的：
// 每个订阅者持有有界通道，通道满时丢弃最旧的一条，发布方永不阻塞。
type ActivityBus struct {
	mu        sync.Mutex
	capacity  int
	subBuffer int
	rooms     map[string]*roomFeed
}

type roomFeed struct {
	ring    []model.ActivityEvent
	subs    map[int]chan model.ActivityEvent
	nextSub int
}

// NewActivityBus 创建一个动态事件总线。
func NewActivityBus(cfg config.ActivityConfig) *ActivityBus {
	capacity := cfg.RingCapacity
	if capacity <= 0 {
		capacity = 50
	}
	subBuffer := cfg.SubscriberBuffer
	if subBuffer <= 0 {
		subBuffer = 16
	}
	return &ActivityBus{
		capacity:  capacity,
		subBuffer: subBuffer,
		rooms:     make(map[string]*roomFeed),
	}
}

func (b *ActivityBus) feed(roomID string) *roomFeed {
	f, ok := b.rooms[roomID]
	if !ok {
		f = &roomFeed{subs: make(map[int]chan model.ActivityEvent)}
		b.rooms[roomID] = f
	}
	return f
}

// Publish 追加一条动态并通知当前订阅者。
func (b *ActivityBus) Publish(roomID string, kind model.EventKind, message string) model.ActivityEvent {
	event := model.ActivityEvent{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	f := b.feed(roomID)
	f.ring = append(f.ring, event)
	if len(f.ring) > b.capacity {
		f.ring = f.ring[len(f.ring)-b.capacity:]
	}
	for _, ch := range f.subs {
		select {
		case ch <- event:
		default:
			// 订阅者通道已满：丢最旧的一条，为新事件腾位。
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
	b.mu.Unlock()

	// 审计镜像是纯旁路，失败只记日志。
	if kafka.Enabled() {
		go func() {
			record := tasks.ActivityRecord{
				EventID:   event.ID,
				RoomID:    event.RoomID,
				Kind:      string(event.Kind),
				Message:   event.Message,
				Timestamp: event.Timestamp,
			}
			if err := kafka.ProduceActivityRecord(record); err != nil {
				log.Warnf("[ActivityBus] 镜像动态事件到 Kafka 失败, eventID: %s, error: %v", event.ID, err)
			}
		}()
	}

	return event
}

// Subscribe 订阅一个房间的动态。
// 返回当前环形缓冲的快照、接收后续事件的通道以及取消函数。
func (b *ActivityBus) Subscribe(roomID string) ([]model.ActivityEvent, <-chan model.ActivityEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f := b.feed(roomID)
	snapshot := make([]model.ActivityEvent, len(f.ring))
	copy(snapshot, f.ring)

	ch := make(chan model.ActivityEvent, b.subBuffer)
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if current, ok := f.subs[id]; ok && current == ch {
			delete(f.subs, id)
			close(ch)
		}
	}
	return snapshot, ch, cancel
}

// Snapshot 返回房间当前的动态列表（最新的在前）。
func (b *ActivityBus) Snapshot(roomID string) []model.ActivityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.rooms[roomID]
	if !ok {
		return []model.ActivityEvent{}
	}
	out := make([]model.ActivityEvent, 0, len(f.ring))
	for i := len(f.ring) - 1; i >= 0; i-- {
		out = append(out, f.ring[i])
	}
	return out
}

// Clear 清空一个房间的动态缓冲，对所有订阅者生效。
func (b *ActivityBus) Clear(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.rooms[roomID]; ok {
		f.ring = nil
	}
}

// DropRoom 在房间被回收时释放其动态缓冲并断开所有订阅者。
func (b *ActivityBus) DropRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.rooms[roomID]
	if !ok {
		return
	}
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
	delete(b.rooms, roomID)
}
