package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fileshare-go/internal/config"
	"fileshare-go/internal/model"
	"fileshare-go/internal/repository"
	"fileshare-go/pkg/blob"
	"fileshare-go/pkg/token"
)

// testEnv 把一组进程内实现的服务拼在一起，供各测试场景复用。
type testEnv struct {
	users   UserService
	rooms   RoomService
	bus     *ActivityBus
	catalog CatalogService
	uploads UploadService
	store   blob.Store
	tracker repository.ChunkTracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvFull(t, blob.NewMemoryStore(), nil)
}

func newTestEnvWithStore(t *testing.T, store blob.Store) *testEnv {
	t.Helper()
	return newTestEnvFull(t, store, nil)
}

// newTestEnvFull 允许测试用装饰过的目录服务替换默认实现。
func newTestEnvFull(t *testing.T, store blob.Store, wrapCatalog func(CatalogService) CatalogService) *testEnv {
	t.Helper()
	jwtManager := token.NewJWTManager("test-secret", 1)
	users := NewUserService(jwtManager)
	bus := NewActivityBus(config.ActivityConfig{RingCapacity: 50, SubscriberBuffer: 16})
	catalog := NewCatalogService(repository.NewMemoryCatalogRepository(), store, bus, users)
	if wrapCatalog != nil {
		catalog = wrapCatalog(catalog)
	}
	rooms := NewRoomService(users, bus, catalog, config.RoomConfig{CodeLength: 6})
	t.Cleanup(rooms.Close)
	tracker := repository.NewMemoryChunkTracker()
	uploads := NewUploadService(rooms, users, catalog, store, tracker, bus,
		config.UploadConfig{
			MaxFileSizeBytes:            10_485_760,
			ChunkSizeBytes:              1_048_576,
			MaxConcurrentUploadsPerRoom: 5,
			AllowedExtensions:           []string{"pdf", "doc", "docx", "txt", "jpg", "jpeg", "png", "gif", "mp4", "zip"},
		},
		config.StorageConfig{TimeoutMillis: 2000})
	t.Cleanup(uploads.Close)
	return &testEnv{users: users, rooms: rooms, bus: bus, catalog: catalog, uploads: uploads, store: store, tracker: tracker}
}

func (e *testEnv) mustJoinUser(t *testing.T, name string) *model.User {
	t.Helper()
	user, _, err := e.users.Join(name)
	if err != nil {
		t.Fatalf("Join(%q) failed: %v", name, err)
	}
	return user
}

func (e *testEnv) mustCreateRoom(t *testing.T, name string, owner *model.User) *model.Room {
	t.Helper()
	room, err := e.rooms.CreateRoom(context.Background(), name, owner.ID)
	if err != nil {
		t.Fatalf("CreateRoom(%q) failed: %v", name, err)
	}
	return room
}

// chunkPayload 构造一个确定性的分片内容。
func chunkPayload(n int64, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i%31)
	}
	return data
}

// TestUploadScenario 覆盖端到端流程：创建房间、第二个用户凭码加入、
// 分三片上传 notes.txt 并完成，目录里恰好出现这一个文件。
func TestUploadScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u1 := env.mustJoinUser(t, "Alice")
	u2 := env.mustJoinUser(t, "Bob")
	room := env.mustCreateRoom(t, "Team A", u1)

	if _, err := env.rooms.JoinRoom(ctx, room.JoinCode, u2.ID); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	const size = int64(3_000_000)
	session, err := env.uploads.BeginUpload(ctx, room.ID, u2.ID, "notes.txt", size, "text/plain")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if session.TotalChunks != 3 {
		t.Fatalf("TotalChunks = %d, want 3", session.TotalChunks)
	}
	if session.Status != model.SessionPending {
		t.Fatalf("Status = %s, want pending", session.Status)
	}

	// 乱序上传三个分片
	chunkSize := session.ChunkSize
	lastLen := size - chunkSize*2
	for _, idx := range []int{2, 0, 1} {
		length := chunkSize
		if idx == 2 {
			length = lastLen
		}
		received, total, err := env.uploads.PutChunk(ctx, session.ID, idx, chunkPayload(length, byte(idx)))
		if err != nil {
			t.Fatalf("PutChunk(%d) failed: %v", idx, err)
		}
		if total != 3 {
			t.Fatalf("PutChunk(%d) total = %d, want 3", idx, total)
		}
		_ = received
	}

	file, err := env.uploads.CompleteUpload(ctx, session.ID)
	if err != nil {
		t.Fatalf("CompleteUpload failed: %v", err)
	}
	if file.Name != "notes.txt" || file.Size != size || file.UploadedBy != u2.ID {
		t.Fatalf("unexpected stored file: %+v", file)
	}

	files, err := env.catalog.List(room.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 || files[0].Name != "notes.txt" || files[0].UploadedBy != u2.ID {
		t.Fatalf("catalog = %+v, want exactly notes.txt by u2", files)
	}

	// 下载回来的内容应与上传的分片逐字节一致
	_, reader, err := env.catalog.OpenContent(ctx, file.ID, u1.ID)
	if err != nil {
		t.Fatalf("OpenContent failed: %v", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		t.Fatalf("reading content failed: %v", err)
	}
	want := append(append(chunkPayload(chunkSize, 0), chunkPayload(chunkSize, 1)...), chunkPayload(lastLen, 2)...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("downloaded content differs from uploaded chunks (len %d vs %d)", buf.Len(), len(want))
	}
}

// TestBeginUploadValidation 校验失败时不得创建会话。
func TestBeginUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "validation", u1)

	cases := []struct {
		name     string
		fileName string
		size     int64
		wantErr  error
	}{
		{"too large", "big.zip", 20_000_000, ErrFileTooLarge},
		{"unsupported type", "virus.exe", 1000, ErrUnsupportedType},
		{"no extension", "README", 1000, ErrUnsupportedType},
		{"empty file", "empty.txt", 0, ErrEmptyFile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, tc.fileName, tc.size, "")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("BeginUpload err = %v, want %v", err, tc.wantErr)
			}
		})
	}

	if _, err := env.uploads.BeginUpload(ctx, "no-such-room", u1.ID, "a.txt", 10, ""); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}

	outsider := env.mustJoinUser(t, "Mallory")
	if _, err := env.uploads.BeginUpload(ctx, room.ID, outsider.ID, "a.txt", 10, ""); !errors.Is(err, ErrNotRoomMember) {
		t.Fatalf("err = %v, want ErrNotRoomMember", err)
	}
}

// TestConcurrentUploadLimit 超过每房间并发上限后 BeginUpload 被拒绝，
// 中止一个会话后配额被释放。
func TestConcurrentUploadLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "limits", u1)

	sessions := make([]*model.UploadSession, 0, 5)
	for i := 0; i < 5; i++ {
		s, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, fmt.Sprintf("f%d.txt", i), 100, "")
		if err != nil {
			t.Fatalf("BeginUpload #%d failed: %v", i, err)
		}
		sessions = append(sessions, s)
	}

	if _, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "f5.txt", 100, ""); !errors.Is(err, ErrTooManyConcurrentUploads) {
		t.Fatalf("err = %v, want ErrTooManyConcurrentUploads", err)
	}

	if err := env.uploads.AbortUpload(ctx, sessions[0].ID); err != nil {
		t.Fatalf("AbortUpload failed: %v", err)
	}
	if _, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "f5.txt", 100, ""); err != nil {
		t.Fatalf("BeginUpload after abort failed: %v", err)
	}
}

// TestPutChunkValidation 覆盖分片序号与字节长度的校验。
func TestPutChunkValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "chunks", u1)

	session, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "data.txt", 3_000_000, "")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}

	if _, _, err := env.uploads.PutChunk(ctx, session.ID, -1, []byte("x")); !errors.Is(err, ErrInvalidChunkIndex) {
		t.Fatalf("negative index err = %v, want ErrInvalidChunkIndex", err)
	}
	if _, _, err := env.uploads.PutChunk(ctx, session.ID, 3, []byte("x")); !errors.Is(err, ErrInvalidChunkIndex) {
		t.Fatalf("index beyond total err = %v, want ErrInvalidChunkIndex", err)
	}
	if _, _, err := env.uploads.PutChunk(ctx, "no-such-session", 0, []byte("x")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}

	// 先写入 chunk 0，再用错误长度写 chunk 1
	if _, _, err := env.uploads.PutChunk(ctx, session.ID, 0, chunkPayload(session.ChunkSize, 0)); err != nil {
		t.Fatalf("PutChunk(0) failed: %v", err)
	}
	if _, _, err := env.uploads.PutChunk(ctx, session.ID, 1, []byte("wrong length")); !errors.Is(err, ErrChunkSizeMismatch) {
		t.Fatalf("err = %v, want ErrChunkSizeMismatch", err)
	}

	// 会话保持 in-progress，chunk 1 未被记录
	got, err := env.uploads.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != model.SessionInProgress {
		t.Fatalf("Status = %s, want in-progress", got.Status)
	}
	if len(got.Received) != 1 || got.Received[0] != 0 {
		t.Fatalf("Received = %v, want [0]", got.Received)
	}

	if _, err := env.uploads.CompleteUpload(ctx, session.ID); !errors.Is(err, ErrIncompleteUpload) {
		t.Fatalf("err = %v, want ErrIncompleteUpload", err)
	}
}

// TestPutChunkIdempotent 对同一序号重复写入只覆盖，不重复计数。
func TestPutChunkIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "idempotent", u1)

	session, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "small.txt", 100, "")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		received, total, err := env.uploads.PutChunk(ctx, session.ID, 0, chunkPayload(100, byte(i)))
		if err != nil {
			t.Fatalf("PutChunk attempt %d failed: %v", i, err)
		}
		if received != 1 || total != 1 {
			t.Fatalf("attempt %d: received/total = %d/%d, want 1/1", i, received, total)
		}
	}

	// 最后一次写入的内容生效
	file, err := env.uploads.CompleteUpload(ctx, session.ID)
	if err != nil {
		t.Fatalf("CompleteUpload failed: %v", err)
	}
	data, err := env.store.Get(ctx, blob.Ref(file.ContentRefs[0]))
	if err != nil {
		t.Fatalf("Get content failed: %v", err)
	}
	if !bytes.Equal(data, chunkPayload(100, 2)) {
		t.Fatal("stored chunk is not the last written payload")
	}
}

// TestCompleteUploadExactlyOnce 并发完成同一会话时只登记一份文件，
// 两个调用方拿到同一个结果。
func TestCompleteUploadExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "exactly-once", u1)

	session, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "once.txt", 200, "")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, _, err := env.uploads.PutChunk(ctx, session.ID, 0, chunkPayload(200, 7)); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	const callers = 8
	results := make([]*model.StoredFile, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.uploads.CompleteUpload(ctx, session.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d got error: %v", i, errs[i])
		}
		if results[i].ID != results[0].ID {
			t.Fatalf("caller %d got file %s, caller 0 got %s", i, results[i].ID, results[0].ID)
		}
	}

	files, err := env.catalog.List(room.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("catalog has %d entries, want 1", len(files))
	}
}

// TestAbortReleasesChunks 中止后继续写分片报 ErrSessionTerminal，
// 已写入的分片存储被释放。
func TestAbortReleasesChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "abort", u1)

	session, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "doomed.txt", 2_000_000, "")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, _, err := env.uploads.PutChunk(ctx, session.ID, 0, chunkPayload(session.ChunkSize, 9)); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	got, _ := env.uploads.GetSession(session.ID)
	if len(got.Received) != 1 {
		t.Fatalf("Received = %v, want one chunk", got.Received)
	}
	ref := blob.Ref("")
	{
		// 同内容再写一份拿到引用，随即释放，仅剩会话持有的那份
		r, err := env.store.Put(ctx, chunkPayload(session.ChunkSize, 9))
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ref = r
		_ = env.store.Delete(ctx, ref)
	}

	if err := env.uploads.AbortUpload(ctx, session.ID); err != nil {
		t.Fatalf("AbortUpload failed: %v", err)
	}

	if _, _, err := env.uploads.PutChunk(ctx, session.ID, 1, chunkPayload(2_000_000-session.ChunkSize, 1)); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("err = %v, want ErrSessionTerminal", err)
	}
	if _, err := env.uploads.CompleteUpload(ctx, session.ID); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("complete after abort err = %v, want ErrSessionTerminal", err)
	}

	// 分片引用已释放
	if _, err := env.store.Get(ctx, ref); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("chunk still present after abort: err = %v", err)
	}

	// 重复中止是幂等的
	if err := env.uploads.AbortUpload(ctx, session.ID); err != nil {
		t.Fatalf("second AbortUpload failed: %v", err)
	}
}

// failingCatalog 包装目录服务，让 Register 固定失败。
type failingCatalog struct {
	CatalogService
}

func (c *failingCatalog) Register(ctx context.Context, file *model.StoredFile) error {
	return ErrDuplicateFileID
}

// TestCompleteFailureReleasesResources 目录登记失败时会话进入 failed 终态，
// 并像中止一样释放并发配额、已落盘的分片和分片标记。
func TestCompleteFailureReleasesResources(t *testing.T) {
	env := newTestEnvFull(t, blob.NewMemoryStore(), func(c CatalogService) CatalogService {
		return &failingCatalog{CatalogService: c}
	})
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "register-fails", u1)

	session, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "doomed.txt", 200, "")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	payload := chunkPayload(200, 3)
	if _, _, err := env.uploads.PutChunk(ctx, session.ID, 0, payload); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	// 同内容的第二个引用：立即释放后仅剩会话持有的那份，便于断言其回收
	chunkRef, err := env.store.Put(ctx, payload)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = env.store.Delete(ctx, chunkRef)

	if _, err := env.uploads.CompleteUpload(ctx, session.ID); !errors.Is(err, ErrDuplicateFileID) {
		t.Fatalf("err = %v, want ErrDuplicateFileID", err)
	}

	got, err := env.uploads.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != model.SessionFailed {
		t.Fatalf("Status = %s, want failed", got.Status)
	}

	// 分片与标记已被释放
	if _, err := env.store.Get(ctx, chunkRef); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("chunk still present after failure: err = %v", err)
	}
	marked, err := env.tracker.Marked(ctx, session.ID, session.TotalChunks)
	if err != nil {
		t.Fatalf("Marked failed: %v", err)
	}
	if len(marked) != 0 {
		t.Fatalf("tracker marks = %v after failure, want empty", marked)
	}

	// 并发配额已释放：满额的新上传依然开得起来
	for i := 0; i < 5; i++ {
		if _, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, fmt.Sprintf("n%d.txt", i), 100, ""); err != nil {
			t.Fatalf("BeginUpload #%d after failure: %v", i, err)
		}
	}
}

// gatedStore 让第一次 Put 阻塞在 release 打开之前，用于构造写入与中止的竞争。
type gatedStore struct {
	blob.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) Put(ctx context.Context, data []byte) (blob.Ref, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Put(ctx, data)
}

// TestPutChunkAbortRaceLeavesNoMarks 分片写入落在中止之后时，
// 既不保留块存储引用，也不留下孤儿分片标记。
func TestPutChunkAbortRaceLeavesNoMarks(t *testing.T) {
	store := &gatedStore{
		Store:   blob.NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	env := newTestEnvWithStore(t, store)
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "race", u1)

	session, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "race.txt", 2_000_000, "")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}

	putErr := make(chan error, 1)
	go func() {
		_, _, err := env.uploads.PutChunk(ctx, session.ID, 0, chunkPayload(session.ChunkSize, 5))
		putErr <- err
	}()

	// 等块写入进入存储层后中止会话，再放行写入
	<-store.entered
	if err := env.uploads.AbortUpload(ctx, session.ID); err != nil {
		t.Fatalf("AbortUpload failed: %v", err)
	}
	close(store.release)

	if err := <-putErr; !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("racing PutChunk err = %v, want ErrSessionTerminal", err)
	}
	marked, err := env.tracker.Marked(ctx, session.ID, session.TotalChunks)
	if err != nil {
		t.Fatalf("Marked failed: %v", err)
	}
	if len(marked) != 0 {
		t.Fatalf("tracker marks = %v after abort race, want empty", marked)
	}
}

// TestTerminalSessionsReaped 终态超过保留期的会话会被后台清理；
// 进行中的会话不受影响。
func TestTerminalSessionsReaped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "reaping", u1)

	done, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "done.txt", 100, "")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, _, err := env.uploads.PutChunk(ctx, done.ID, 0, chunkPayload(100, 1)); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	if _, err := env.uploads.CompleteUpload(ctx, done.ID); err != nil {
		t.Fatalf("CompleteUpload failed: %v", err)
	}

	active, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "active.txt", 100, "")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}

	svc := env.uploads.(*uploadService)
	svc.mu.RLock()
	doneState := svc.sessions[done.ID]
	svc.mu.RUnlock()
	doneState.mu.Lock()
	doneState.finishedAt = time.Now().Add(-time.Hour)
	doneState.mu.Unlock()

	svc.reapTerminalSessions(sessionRetention)

	if _, err := env.uploads.GetSession(done.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("reaped session err = %v, want ErrSessionNotFound", err)
	}
	if _, err := env.uploads.GetSession(active.ID); err != nil {
		t.Fatalf("in-progress session was reaped: %v", err)
	}
}

// slowStore 模拟一个永远等到超时的块存储后端。
type slowStore struct{ blob.Store }

func (s *slowStore) Put(ctx context.Context, data []byte) (blob.Ref, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// TestPutChunkStorageTimeout 块写入超时映射为 ErrStorageTimeout，
// 调用方可以只重试这一个分片。
func TestPutChunkStorageTimeout(t *testing.T) {
	backing := blob.NewMemoryStore()
	env := newTestEnvWithStore(t, &slowStore{Store: backing})
	ctx := context.Background()
	u1 := env.mustJoinUser(t, "Alice")
	room := env.mustCreateRoom(t, "timeouts", u1)

	session, err := env.uploads.BeginUpload(ctx, room.ID, u1.ID, "slow.txt", 100, "")
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, _, err := env.uploads.PutChunk(ctx, session.ID, 0, chunkPayload(100, 1)); !errors.Is(err, ErrStorageTimeout) {
		t.Fatalf("err = %v, want ErrStorageTimeout", err)
	}

	// 会话未进入终态，分片仍可重试
	got, err := env.uploads.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status.Terminal() {
		t.Fatalf("session became terminal after storage timeout: %s", got.Status)
	}
}
