package service

import (
	"strings"
	"sync"
	"time"

	"fileshare-go/internal/model"
	"fileshare-go/pkg/log"
	"fileshare-go/pkg/token"

	"github.com/google/uuid"
)

// UserService 接口定义了所有与用户相关的业务操作。
// 用户只存在于进程内：加入即创建，没有注册和口令。
type UserService interface {
	Join(displayName string) (*model.User, string, error)
	GetUser(userID string) (*model.User, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	mu         sync.RWMutex
	users      map[string]*model.User
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(jwtManager *token.JWTManager) UserService {
	return &userService{
		users:      make(map[string]*model.User),
		jwtManager: jwtManager,
	}
}

// Join 创建一个新用户并签发其访问令牌。
func (s *userService) Join(displayName string) (*model.User, string, error) {
	displayName = strings.TrimSpace(displayName)
	if len(displayName) < 2 {
		return nil, "", ErrInvalidDisplayName
	}

	user := &model.User{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		JoinedAt:    time.Now(),
	}

	tokenString, err := s.jwtManager.GenerateToken(user.ID, user.DisplayName)
	if err != nil {
		log.Errorf("[Join] 签发用户令牌失败, displayName: %s, error: %v", displayName, err)
		return nil, "", err
	}

	s.mu.Lock()
	s.users[user.ID] = user
	s.mu.Unlock()

	log.Infof("[Join] 用户已加入, id: %s, displayName: %s", user.ID, displayName)
	return user, tokenString, nil
}

// GetUser 根据 ID 查找用户。
func (s *userService) GetUser(userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *user
	return &out, nil
}
