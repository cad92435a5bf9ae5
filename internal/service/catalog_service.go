package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"fileshare-go/internal/model"
	"fileshare-go/internal/repository"
	"fileshare-go/pkg/blob"
	"fileshare-go/pkg/es"
	"fileshare-go/pkg/log"

	"gorm.io/gorm"
)

// CatalogService 接口定义了已完成文件目录的业务操作。
type CatalogService interface {
	Register(ctx context.Context, file *model.StoredFile) error
	List(roomID string) ([]model.StoredFile, error)
	Get(fileID string) (*model.StoredFile, error)
	// OpenContent 返回文件元数据和按分片顺序拼装的内容流，并记录一条下载动态。
	OpenContent(ctx context.Context, fileID, downloaderID string) (*model.StoredFile, io.Reader, error)
	Remove(ctx context.Context, fileID string) error
	// RemoveRoom 在房间被回收时清空其目录并释放全部块引用。
	RemoveRoom(ctx context.Context, roomID string) error
	Search(ctx context.Context, roomID, query string) ([]model.StoredFile, error)
}

type catalogService struct {
	repo  repository.CatalogRepository
	store blob.Store
	bus   *ActivityBus
	users UserService
}

// NewCatalogService 创建一个新的 CatalogService 实例。
func NewCatalogService(repo repository.CatalogRepository, store blob.Store, bus *ActivityBus, users UserService) CatalogService {
	return &catalogService{repo: repo, store: store, bus: bus, users: users}
}

// Register 将一个已完成的文件登记到目录中。ID 冲突说明恰好一次完成的
// 不变量被破坏，按内部错误上报，绝不覆盖已有条目。
func (s *catalogService) Register(ctx context.Context, file *model.StoredFile) error {
	if err := s.repo.Create(file); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Errorf("[Register] 目录中已存在相同文件 ID, fileID: %s", file.ID)
			return ErrDuplicateFileID
		}
		return err
	}

	if es.Ready() {
		if err := es.IndexFile(ctx, file); err != nil {
			// 搜索索引是旁路能力，索引失败不影响目录登记。
			log.Warnf("[Register] 索引文件元数据失败, fileID: %s, error: %v", file.ID, err)
		}
	}
	return nil
}

// List 按时间戳降序返回房间内的全部文件。
func (s *catalogService) List(roomID string) ([]model.StoredFile, error) {
	return s.repo.FindByRoom(roomID)
}

// Get 根据 ID 查找文件。
func (s *catalogService) Get(fileID string) (*model.StoredFile, error) {
	file, err := s.repo.FindByID(fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return file, nil
}

// OpenContent 打开文件内容流。分片按需从块存储拉取，避免整文件驻留内存。
func (s *catalogService) OpenContent(ctx context.Context, fileID, downloaderID string) (*model.StoredFile, io.Reader, error) {
	file, err := s.Get(fileID)
	if err != nil {
		return nil, nil, err
	}

	if downloader, uerr := s.users.GetUser(downloaderID); uerr == nil {
		s.bus.Publish(file.RoomID, model.EventFileDownloaded,
			fmt.Sprintf("%s downloaded %s", downloader.DisplayName, file.Name))
	}

	return file, &chunkReader{ctx: ctx, store: s.store, refs: file.ContentRefs}, nil
}

// Remove 删除目录条目并释放其块引用。
func (s *catalogService) Remove(ctx context.Context, fileID string) error {
	file, err := s.Get(fileID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(fileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFileNotFound
		}
		return err
	}

	s.releaseRefs(ctx, file.ContentRefs)

	if es.Ready() {
		if err := es.DeleteFile(ctx, fileID); err != nil {
			log.Warnf("[Remove] 从搜索索引删除文件失败, fileID: %s, error: %v", fileID, err)
		}
	}
	log.Infof("[Remove] 文件已删除, fileID: %s, name: %s", fileID, file.Name)
	return nil
}

// RemoveRoom 删除房间的全部目录条目并释放块引用。
func (s *catalogService) RemoveRoom(ctx context.Context, roomID string) error {
	removed, err := s.repo.DeleteByRoom(roomID)
	if err != nil {
		return err
	}
	for i := range removed {
		s.releaseRefs(ctx, removed[i].ContentRefs)
		if es.Ready() {
			if err := es.DeleteFile(ctx, removed[i].ID); err != nil {
				log.Warnf("[RemoveRoom] 从搜索索引删除文件失败, fileID: %s, error: %v", removed[i].ID, err)
			}
		}
	}
	return nil
}

// Search 在房间内按文件名搜索。配置了 Elasticsearch 时走索引，
// 否则退回到目录内的大小写不敏感子串匹配。
func (s *catalogService) Search(ctx context.Context, roomID, query string) ([]model.StoredFile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(roomID)
	}

	if es.Ready() {
		ids, err := es.SearchFiles(ctx, roomID, query, 50)
		if err != nil {
			return nil, err
		}
		files := make([]model.StoredFile, 0, len(ids))
		for _, id := range ids {
			file, gerr := s.Get(id)
			if gerr != nil {
				continue // 索引落后于目录，跳过已删除的命中
			}
			files = append(files, *file)
		}
		return files, nil
	}

	all, err := s.List(roomID)
	if err != nil {
		return nil, err
	}
	lowered := strings.ToLower(query)
	files := make([]model.StoredFile, 0)
	for _, f := range all {
		if strings.Contains(strings.ToLower(f.Name), lowered) {
			files = append(files, f)
		}
	}
	return files, nil
}

func (s *catalogService) releaseRefs(ctx context.Context, refs []string) {
	for _, ref := range refs {
		if err := s.store.Delete(ctx, blob.Ref(ref)); err != nil && !errors.Is(err, blob.ErrNotFound) {
			log.Warnf("释放块引用失败, ref: %s, error: %v", ref, err)
		}
	}
}

// chunkReader 把一组内容引用串成一个顺序读取的流。
type chunkReader struct {
	ctx   context.Context
	store blob.Store
	refs  []string
	buf   []byte
	next  int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.next >= len(r.refs) {
			return 0, io.EOF
		}
		data, err := r.store.Get(r.ctx, blob.Ref(r.refs[r.next]))
		if err != nil {
			return 0, err
		}
		r.next++
		r.buf = data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
