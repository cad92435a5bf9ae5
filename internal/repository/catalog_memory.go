package repository

import (
	"sort"
	"sync"

	"fileshare-go/internal/model"

	"gorm.io/gorm"
)

// memoryCatalogRepository 是 CatalogRepository 的进程内实现，
// 单机部署的默认选择。错误语义与 GORM 实现一致（gorm.ErrRecordNotFound /
// gorm.ErrDuplicatedKey），服务层无需区分后端。
type memoryCatalogRepository struct {
	mu      sync.RWMutex
	byID    map[string]*model.StoredFile
	nextSeq uint64
}

// NewMemoryCatalogRepository 创建一个内存目录仓储。
func NewMemoryCatalogRepository() CatalogRepository {
	return &memoryCatalogRepository{byID: make(map[string]*model.StoredFile)}
}

func (r *memoryCatalogRepository) Create(file *model.StoredFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[file.ID]; ok {
		return gorm.ErrDuplicatedKey
	}
	r.nextSeq++
	stored := *file
	stored.Seq = r.nextSeq
	r.byID[file.ID] = &stored
	file.Seq = stored.Seq
	return nil
}

func (r *memoryCatalogRepository) FindByID(fileID string) (*model.StoredFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, ok := r.byID[fileID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *file
	return &out, nil
}

func (r *memoryCatalogRepository) FindByRoom(roomID string) ([]model.StoredFile, error) {
	r.mu.RLock()
	files := make([]model.StoredFile, 0)
	for _, f := range r.byID {
		if f.RoomID == roomID {
			files = append(files, *f)
		}
	}
	r.mu.RUnlock()

	// 时间戳降序；相同时间戳按插入序号升序（先插入的在前），排序是稳定的。
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].Timestamp.Equal(files[j].Timestamp) {
			return files[i].Timestamp.After(files[j].Timestamp)
		}
		return files[i].Seq < files[j].Seq
	})
	return files, nil
}

func (r *memoryCatalogRepository) Delete(fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[fileID]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.byID, fileID)
	return nil
}

func (r *memoryCatalogRepository) DeleteByRoom(roomID string) ([]model.StoredFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]model.StoredFile, 0)
	for id, f := range r.byID {
		if f.RoomID == roomID {
			removed = append(removed, *f)
			delete(r.byID, id)
		}
	}
	return removed, nil
}
