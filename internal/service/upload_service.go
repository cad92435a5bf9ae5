package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fileshare-go/internal/config"
	"fileshare-go/internal/model"
	"fileshare-go/internal/repository"
	"fileshare-go/pkg/blob"
	"fileshare-go/pkg/log"

	"github.com/google/uuid"
)

const (
	// DefaultChunkSize 是未配置时的分片大小 (1MiB)。
	// 固定分片大小限定了单次请求的内存上界，并让重试只针对缺失的分片序号。
	DefaultChunkSize = 1 * 1024 * 1024

	// defaultStorageTimeout 是单次块写入的默认超时。
	defaultStorageTimeout = 10 * time.Second

	// sessionRetention 是终态会话在内存中的保留时长，
	// 留出窗口让客户端查询最终状态，之后由后台回收。
	sessionRetention    = 30 * time.Minute
	sessionScanInterval = time.Minute
)

// UploadService 接口定义了分片上传会话的业务操作。
type UploadService interface {
	BeginUpload(ctx context.Context, roomID, userID, fileName string, size int64, mimeType string) (*model.UploadSession, error)
	PutChunk(ctx context.Context, sessionID string, chunkIndex int, data []byte) (receivedCount, totalChunks int, err error)
	CompleteUpload(ctx context.Context, sessionID string) (*model.StoredFile, error)
	AbortUpload(ctx context.Context, sessionID string) error
	GetSession(sessionID string) (*model.UploadSession, error)
	Close()
}

// sessionState 是一个上传会话的内部状态。
// 状态转移在 mu 下串行化；不同序号的块写入不共享可变状态，可以并发进行。
type sessionState struct {
	mu          sync.Mutex
	id          string
	roomID      string
	initiatorID string
	fileName    string
	mimeType    string
	size        int64
	chunkSize   int64
	totalChunks int
	createdAt   time.Time
	finishedAt  time.Time
	status      model.SessionStatus
	chunkRefs   map[int]blob.Ref
	// result 在完成后保存产出的文件，让并发的第二个完成调用拿到同一结果。
	result *model.StoredFile
}

// snapshot 必须在持有 s.mu 时调用。
func (s *sessionState) snapshot() *model.UploadSession {
	received := make([]int, 0, len(s.chunkRefs))
	for idx := range s.chunkRefs {
		received = append(received, idx)
	}
	sort.Ints(received)
	return &model.UploadSession{
		ID:          s.id,
		RoomID:      s.roomID,
		InitiatorID: s.initiatorID,
		FileName:    s.fileName,
		Size:        s.size,
		MimeType:    s.mimeType,
		ChunkSize:   s.chunkSize,
		TotalChunks: s.totalChunks,
		Received:    received,
		Status:      s.status,
		CreatedAt:   s.createdAt,
	}
}

type uploadService struct {
	mu            sync.RWMutex
	sessions      map[string]*sessionState
	activePerRoom map[string]int

	rooms          RoomService
	users          UserService
	catalog        CatalogService
	store          blob.Store
	tracker        repository.ChunkTracker
	bus            *ActivityBus
	cfg            config.UploadConfig
	storageTimeout time.Duration

	stopReaper chan struct{}
	stopOnce   sync.Once
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(rooms RoomService, users UserService, catalog CatalogService,
	store blob.Store, tracker repository.ChunkTracker, bus *ActivityBus,
	cfg config.UploadConfig, storageCfg config.StorageConfig) UploadService {

	if cfg.ChunkSizeBytes <= 0 {
		cfg.ChunkSizeBytes = DefaultChunkSize
	}
	timeout := time.Duration(storageCfg.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	s := &uploadService{
		sessions:       make(map[string]*sessionState),
		activePerRoom:  make(map[string]int),
		rooms:          rooms,
		users:          users,
		catalog:        catalog,
		store:          store,
		tracker:        tracker,
		bus:            bus,
		cfg:            cfg,
		storageTimeout: timeout,
		stopReaper:     make(chan struct{}),
	}
	go s.reaper()
	return s
}

// BeginUpload 校验上传策略并创建一个新的上传会话。
// 任何校验失败都不会创建会话——预检的意义就在于不浪费块存储。
func (s *uploadService) BeginUpload(ctx context.Context, roomID, userID, fileName string, size int64, mimeType string) (*model.UploadSession, error) {
	if _, err := s.rooms.GetRoom(roomID); err != nil {
		return nil, err
	}
	if !s.rooms.IsMember(roomID, userID) {
		return nil, ErrNotRoomMember
	}
	if !s.extensionAllowed(fileName) {
		return nil, ErrUnsupportedType
	}
	if size <= 0 {
		return nil, ErrEmptyFile
	}
	if size > s.cfg.MaxFileSizeBytes {
		return nil, ErrFileTooLarge
	}

	chunkSize := s.cfg.ChunkSizeBytes
	totalChunks := int((size + chunkSize - 1) / chunkSize)

	session := &sessionState{
		id:          uuid.NewString(),
		roomID:      roomID,
		initiatorID: userID,
		fileName:    fileName,
		mimeType:    mimeType,
		size:        size,
		chunkSize:   chunkSize,
		totalChunks: totalChunks,
		createdAt:   time.Now(),
		status:      model.SessionPending,
		chunkRefs:   make(map[int]blob.Ref),
	}

	s.mu.Lock()
	if s.activePerRoom[roomID] >= s.cfg.MaxConcurrentUploadsPerRoom {
		s.mu.Unlock()
		return nil, ErrTooManyConcurrentUploads
	}
	s.activePerRoom[roomID]++
	s.sessions[session.id] = session
	s.mu.Unlock()

	log.Infof("[BeginUpload] 会话已创建, id: %s, room: %s, file: %s, size: %d, chunks: %d",
		session.id, roomID, fileName, size, totalChunks)

	session.mu.Lock()
	defer session.mu.Unlock()
	return session.snapshot(), nil
}

// extensionAllowed 检查文件扩展名是否在允许集内。配置列表可以带或不带点。
func (s *uploadService) extensionAllowed(fileName string) bool {
	dot := strings.LastIndex(fileName, ".")
	if dot < 0 || dot == len(fileName)-1 {
		return false
	}
	ext := strings.ToLower(fileName[dot+1:])
	for _, allowed := range s.cfg.AllowedExtensions {
		if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return true
		}
	}
	return false
}

func (s *uploadService) findSession(sessionID string) (*sessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// expectedChunkLen 返回指定序号分片应有的字节数：
// 除最后一片外都等于分片大小，最后一片补齐剩余字节。
func expectedChunkLen(size, chunkSize int64, totalChunks, index int) int64 {
	if index == totalChunks-1 {
		return size - chunkSize*int64(totalChunks-1)
	}
	return chunkSize
}

// PutChunk 写入一个分片。对同一序号重复写入是幂等的：覆盖而不重复计数。
// 与 AbortUpload 的竞争是安全的——落在终态之后的写入会被拒绝，
// 落在之前的会被 abort 的清理扫尾回收。
func (s *uploadService) PutChunk(ctx context.Context, sessionID string, chunkIndex int, data []byte) (int, int, error) {
	session, err := s.findSession(sessionID)
	if err != nil {
		return 0, 0, err
	}

	session.mu.Lock()
	if session.status.Terminal() {
		session.mu.Unlock()
		return 0, 0, ErrSessionTerminal
	}
	if chunkIndex < 0 || chunkIndex >= session.totalChunks {
		session.mu.Unlock()
		return 0, 0, ErrInvalidChunkIndex
	}
	if int64(len(data)) != expectedChunkLen(session.size, session.chunkSize, session.totalChunks, chunkIndex) {
		session.mu.Unlock()
		return 0, 0, ErrChunkSizeMismatch
	}
	if session.status == model.SessionPending {
		session.status = model.SessionInProgress
	}
	total := session.totalChunks
	session.mu.Unlock()

	// 块写入在会话锁之外进行，不同序号的分片可以并发落盘。
	putCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	ref, err := s.store.Put(putCtx, data)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warnf("[PutChunk] 块写入超时, session: %s, chunk: %d", sessionID, chunkIndex)
			return 0, 0, ErrStorageTimeout
		}
		return 0, 0, err
	}

	session.mu.Lock()
	if session.status.Terminal() {
		// 写入与 abort 竞争且落在 abort 之后：回收刚写入的块。
		session.mu.Unlock()
		if derr := s.store.Delete(ctx, ref); derr != nil {
			log.Warnf("[PutChunk] 回收竞争分片失败, ref: %s, error: %v", ref, derr)
		}
		return 0, 0, ErrSessionTerminal
	}
	oldRef, overwrite := session.chunkRefs[chunkIndex]
	session.chunkRefs[chunkIndex] = ref

	// 标记必须在会话锁内完成：锁内状态非终态保证 abort 的 tracker.Clear
	// 一定发生在标记之后，不会留下孤儿标记。
	if err := s.tracker.Mark(ctx, sessionID, chunkIndex); err != nil {
		session.mu.Unlock()
		return 0, 0, err
	}
	received, err := s.tracker.Marked(ctx, sessionID, total)
	session.mu.Unlock()
	if err != nil {
		return 0, 0, err
	}

	if overwrite {
		if derr := s.store.Delete(ctx, oldRef); derr != nil {
			log.Warnf("[PutChunk] 释放被覆盖分片失败, ref: %s, error: %v", oldRef, derr)
		}
	}

	log.Debugf("[PutChunk] 分片已写入, session: %s, chunk: %d, progress: %d/%d",
		sessionID, chunkIndex, len(received), total)
	return len(received), total, nil
}

// CompleteUpload 完成上传：校验分片齐全，把文件登记进目录并发出动态。
// 整个转移持有会话锁，保证并发完成调用下恰好登记一次，
// 第二个调用方得到同一个 StoredFile 而不是副本。
func (s *uploadService) CompleteUpload(ctx context.Context, sessionID string) (*model.StoredFile, error) {
	session, err := s.findSession(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.status == model.SessionCompleted {
		return session.result, nil
	}
	if session.status.Terminal() {
		return nil, ErrSessionTerminal
	}

	received, err := s.tracker.Marked(ctx, sessionID, session.totalChunks)
	if err != nil {
		return nil, err
	}
	if len(received) < session.totalChunks {
		return nil, ErrIncompleteUpload
	}

	// 重组校验：按序收集引用并核对总字节数与声明一致。
	refs := make([]string, session.totalChunks)
	var assembled int64
	for i := 0; i < session.totalChunks; i++ {
		ref, ok := session.chunkRefs[i]
		if !ok {
			return nil, ErrIncompleteUpload
		}
		refs[i] = string(ref)
		assembled += expectedChunkLen(session.size, session.chunkSize, session.totalChunks, i)
	}
	if assembled != session.size {
		s.failLocked(ctx, session)
		return nil, ErrChunkSizeMismatch
	}

	file := &model.StoredFile{
		ID:          uuid.NewString(),
		RoomID:      session.roomID,
		Name:        session.fileName,
		Size:        session.size,
		MimeType:    session.mimeType,
		UploadedBy:  session.initiatorID,
		Timestamp:   time.Now(),
		ContentRefs: refs,
	}
	if err := s.catalog.Register(ctx, file); err != nil {
		s.failLocked(ctx, session)
		log.Errorf("[CompleteUpload] 登记文件失败, session: %s, error: %v", sessionID, err)
		return nil, err
	}

	session.status = model.SessionCompleted
	session.finishedAt = time.Now()
	session.result = file
	s.releaseRoomSlot(session.roomID)

	if err := s.tracker.Clear(ctx, sessionID); err != nil {
		log.Warnf("[CompleteUpload] 清理分片标记失败, session: %s, error: %v", sessionID, err)
	}

	uploaderName := session.initiatorID
	if uploader, uerr := s.users.GetUser(session.initiatorID); uerr == nil {
		uploaderName = uploader.DisplayName
	}
	s.bus.Publish(session.roomID, model.EventFileUploaded,
		fmt.Sprintf("%s uploaded %s", uploaderName, session.fileName))

	log.Infof("[CompleteUpload] 上传完成, session: %s, fileID: %s, name: %s",
		sessionID, file.ID, file.Name)
	return file, nil
}

// AbortUpload 中止会话并释放已写入的分片，不留下孤儿存储。
// 对已中止的会话重复调用是 no-op；对已完成的会话返回 ErrSessionTerminal。
func (s *uploadService) AbortUpload(ctx context.Context, sessionID string) error {
	session, err := s.findSession(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	if session.status == model.SessionAborted {
		session.mu.Unlock()
		return nil
	}
	if session.status.Terminal() {
		session.mu.Unlock()
		return ErrSessionTerminal
	}
	session.status = model.SessionAborted
	session.finishedAt = time.Now()
	refs := make([]blob.Ref, 0, len(session.chunkRefs))
	for _, ref := range session.chunkRefs {
		refs = append(refs, ref)
	}
	session.chunkRefs = make(map[int]blob.Ref)
	session.mu.Unlock()

	s.releaseRoomSlot(session.roomID)

	// 清理扫尾：释放中止前已落盘的所有分片。
	for _, ref := range refs {
		if derr := s.store.Delete(ctx, ref); derr != nil && !errors.Is(derr, blob.ErrNotFound) {
			log.Warnf("[AbortUpload] 释放分片失败, ref: %s, error: %v", ref, derr)
		}
	}
	if err := s.tracker.Clear(ctx, sessionID); err != nil {
		log.Warnf("[AbortUpload] 清理分片标记失败, session: %s, error: %v", sessionID, err)
	}

	log.Infof("[AbortUpload] 会话已中止, session: %s", sessionID)
	return nil
}

// GetSession 返回会话的当前快照。
func (s *uploadService) GetSession(sessionID string) (*model.UploadSession, error) {
	session, err := s.findSession(sessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.snapshot(), nil
}

// failLocked 把会话转入 failed 终态，并像 abort 一样释放其全部资源：
// 房间并发配额、已落盘的分片和分片标记。调用方必须持有 session.mu。
func (s *uploadService) failLocked(ctx context.Context, session *sessionState) {
	session.status = model.SessionFailed
	session.finishedAt = time.Now()
	refs := make([]blob.Ref, 0, len(session.chunkRefs))
	for _, ref := range session.chunkRefs {
		refs = append(refs, ref)
	}
	session.chunkRefs = make(map[int]blob.Ref)

	s.releaseRoomSlot(session.roomID)
	for _, ref := range refs {
		if derr := s.store.Delete(ctx, ref); derr != nil && !errors.Is(derr, blob.ErrNotFound) {
			log.Warnf("[failLocked] 释放分片失败, ref: %s, error: %v", ref, derr)
		}
	}
	if err := s.tracker.Clear(ctx, session.id); err != nil {
		log.Warnf("[failLocked] 清理分片标记失败, session: %s, error: %v", session.id, err)
	}
}

func (s *uploadService) releaseRoomSlot(roomID string) {
	s.mu.Lock()
	if s.activePerRoom[roomID] > 0 {
		s.activePerRoom[roomID]--
	}
	s.mu.Unlock()
}

// Close 停止后台回收协程。
func (s *uploadService) Close() {
	s.stopOnce.Do(func() { close(s.stopReaper) })
}

// reaper 周期清理超过保留期的终态会话，避免会话表随进程存活无限增长。
func (s *uploadService) reaper() {
	ticker := time.NewTicker(sessionScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopReaper:
			return
		case <-ticker.C:
			s.reapTerminalSessions(sessionRetention)
		}
	}
}

// reapTerminalSessions 移除终态超过 retention 的会话。
// 先在会话锁下筛选，再拿注册表锁删除，避免与 releaseRoomSlot 的
// 锁顺序相反造成死锁。终态不可逆，两段之间状态不会回退。
func (s *uploadService) reapTerminalSessions(retention time.Duration) {
	now := time.Now()
	s.mu.RLock()
	candidates := make([]*sessionState, 0, len(s.sessions))
	for _, session := range s.sessions {
		candidates = append(candidates, session)
	}
	s.mu.RUnlock()

	expired := make([]string, 0)
	for _, session := range candidates {
		session.mu.Lock()
		if session.status.Terminal() && !session.finishedAt.IsZero() && now.Sub(session.finishedAt) >= retention {
			expired = append(expired, session.id)
		}
		session.mu.Unlock()
	}
	if len(expired) == 0 {
		return
	}

	s.mu.Lock()
	for _, id := range expired {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	log.Infof("[reaper] 已清理终态会话, count: %d", len(expired))
}
