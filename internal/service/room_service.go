package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"fileshare-go/internal/config"
	"fileshare-go/internal/model"
	"fileshare-go/pkg/log"

	"github.com/google/uuid"
)

const (
	codeAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeMaxAttempts     = 10
	defaultCodeLength   = 6
	janitorScanInterval = 30 * time.Second
)

// RoomService 接口定义了房间生命周期与成员管理的业务操作。
type RoomService interface {
	CreateRoom(ctx context.Context, name, ownerUserID string) (*model.Room, error)
	JoinRoom(ctx context.Context, code, userID string) (*model.Room, error)
	LeaveRoom(ctx context.Context, roomID, userID string) error
	ListMembers(roomID string) ([]model.User, error)
	GetRoom(roomID string) (*model.Room, error)
	IsMember(roomID, userID string) bool
	Close()
}

// roomState 是一个活跃房间的内部状态。
// 成员变更全部在 mu 下串行化；members 保持加入顺序。
type roomState struct {
	mu         sync.Mutex
	id         string
	name       string
	code       string
	createdAt  time.Time
	members    []model.User
	memberSet  map[string]struct{}
	emptySince time.Time
}

// snapshot 必须在持有 r.mu 时调用。
func (r *roomState) snapshot() *model.Room {
	members := make([]model.User, len(r.members))
	copy(members, r.members)
	return &model.Room{
		ID:        r.id,
		Name:      r.name,
		JoinCode:  r.code,
		Members:   members,
		CreatedAt: r.createdAt,
	}
}

type roomService struct {
	mu      sync.RWMutex
	byID    map[string]*roomState
	byCode  map[string]*roomState
	users   UserService
	bus     *ActivityBus
	catalog CatalogService
	cfg     config.RoomConfig

	stopJanitor chan struct{}
	stopOnce    sync.Once
}

// NewRoomService 创建一个新的 RoomService 实例。
// EmptyGraceSeconds 大于 0 时启动后台回收协程，清理空置超过宽限期的房间。
func NewRoomService(users UserService, bus *ActivityBus, catalog CatalogService, cfg config.RoomConfig) RoomService {
	s := &roomService{
		byID:        make(map[string]*roomState),
		byCode:      make(map[string]*roomState),
		users:       users,
		bus:         bus,
		catalog:     catalog,
		cfg:         cfg,
		stopJanitor: make(chan struct{}),
	}
	if cfg.EmptyGraceSeconds > 0 {
		go s.janitor()
	}
	return s
}

// CreateRoom 创建一个新房间，生成唯一加入码，并把创建者作为第一个成员。
func (s *roomService) CreateRoom(ctx context.Context, name, ownerUserID string) (*model.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidRoomName
	}
	owner, err := s.users.GetUser(ownerUserID)
	if err != nil {
		return nil, err
	}

	room := &roomState{
		id:        uuid.NewString(),
		name:      name,
		createdAt: time.Now(),
		members:   []model.User{*owner},
		memberSet: map[string]struct{}{owner.ID: {}},
	}

	s.mu.Lock()
	code, err := s.generateCodeLocked()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	room.code = code
	s.byID[room.id] = room
	s.byCode[code] = room
	s.mu.Unlock()

	log.Infof("[CreateRoom] 房间已创建, id: %s, name: %s, code: %s", room.id, name, code)
	s.bus.Publish(room.id, model.EventUserJoined, fmt.Sprintf("%s joined the room", owner.DisplayName))

	room.mu.Lock()
	defer room.mu.Unlock()
	return room.snapshot(), nil
}

// generateCodeLocked 生成一个未被活跃房间占用的加入码。
// 单次碰撞概率约 1/36^6，最多尝试 10 次后放弃。调用方必须持有 s.mu。
func (s *roomService) generateCodeLocked() (string, error) {
	length := s.cfg.CodeLength
	if length <= 0 {
		length = defaultCodeLength
	}
	for attempt := 0; attempt < codeMaxAttempts; attempt++ {
		b := make([]byte, length)
		for i := range b {
			b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		code := string(b)
		if _, taken := s.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeGenerationExhausted
}

// JoinRoom 按加入码加入房间。码比较大小写不敏感；重复加入是幂等的。
func (s *roomService) JoinRoom(ctx context.Context, code, userID string) (*model.Room, error) {
	user, err := s.users.GetUser(userID)
	if err != nil {
		return nil, err
	}

	normalized := strings.ToUpper(strings.TrimSpace(code))
	s.mu.RLock()
	room, ok := s.byCode[normalized]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	if _, already := room.memberSet[user.ID]; !already {
		room.members = append(room.members, *user)
		room.memberSet[user.ID] = struct{}{}
		room.emptySince = time.Time{}
		room.mu.Unlock()
		s.bus.Publish(room.id, model.EventUserJoined, fmt.Sprintf("%s joined the room", user.DisplayName))
		room.mu.Lock()
	}
	defer room.mu.Unlock()
	return room.snapshot(), nil
}

// LeaveRoom 将用户移出房间。用户本就不是成员时为 no-op，不报错。
func (s *roomService) LeaveRoom(ctx context.Context, roomID, userID string) error {
	s.mu.RLock()
	room, ok := s.byID[roomID]
	s.mu.RUnlock()
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	if _, member := room.memberSet[userID]; !member {
		room.mu.Unlock()
		return nil
	}

	var displayName string
	for i, m := range room.members {
		if m.ID == userID {
			displayName = m.DisplayName
			room.members = append(room.members[:i], room.members[i+1:]...)
			break
		}
	}
	delete(room.memberSet, userID)
	if len(room.members) == 0 {
		room.emptySince = time.Now()
	}
	room.mu.Unlock()

	s.bus.Publish(roomID, model.EventUserLeft, fmt.Sprintf("%s left the room", displayName))
	return nil
}

// ListMembers 按加入顺序返回房间成员。
func (s *roomService) ListMembers(roomID string) ([]model.User, error) {
	s.mu.RLock()
	room, ok := s.byID[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	members := make([]model.User, len(room.members))
	copy(members, room.members)
	return members, nil
}

// GetRoom 返回房间的当前快照。
func (s *roomService) GetRoom(roomID string) (*model.Room, error) {
	s.mu.RLock()
	room, ok := s.byID[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.snapshot(), nil
}

// IsMember 返回用户是否是房间成员。房间不存在视为非成员。
func (s *roomService) IsMember(roomID, userID string) bool {
	s.mu.RLock()
	room, ok := s.byID[roomID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	_, member := room.memberSet[userID]
	return member
}

// Close 停止后台回收协程。
func (s *roomService) Close() {
	s.stopOnce.Do(func() { close(s.stopJanitor) })
}

// janitor 周期扫描空置超过宽限期的房间并回收其文件与动态缓冲。
func (s *roomService) janitor() {
	grace := time.Duration(s.cfg.EmptyGraceSeconds) * time.Second
	interval := janitorScanInterval
	if grace < interval {
		interval = grace
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopJanitor:
			return
		case <-ticker.C:
			s.reapEmptyRooms(grace)
		}
	}
}

func (s *roomService) reapEmptyRooms(grace time.Duration) {
	now := time.Now()
	expired := make([]*roomState, 0)

	s.mu.Lock()
	for _, room := range s.byID {
		room.mu.Lock()
		if len(room.members) == 0 && !room.emptySince.IsZero() && now.Sub(room.emptySince) >= grace {
			expired = append(expired, room)
			delete(s.byID, room.id)
			delete(s.byCode, room.code)
		}
		room.mu.Unlock()
	}
	s.mu.Unlock()

	for _, room := range expired {
		log.Infof("[janitor] 回收空置房间, id: %s, name: %s", room.id, room.name)
		if err := s.catalog.RemoveRoom(context.Background(), room.id); err != nil {
			log.Errorf("[janitor] 清理房间文件失败, roomID: %s, error: %v", room.id, err)
		}
		s.bus.DropRoom(room.id)
	}
}
