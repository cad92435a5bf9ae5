// Package repository 定义了文件目录与分片状态的数据访问接口和实现。
package repository

import (
	"errors"

	"fileshare-go/internal/model"

	"gorm.io/gorm"
)

// CatalogRepository 接口定义了每个房间已完成文件目录的持久化操作。
// 目录对单个房间是只追加的；ID 冲突返回 gorm.ErrDuplicatedKey，
// 记录缺失返回 gorm.ErrRecordNotFound，上层用 errors.Is 判别。
type CatalogRepository interface {
	Create(file *model.StoredFile) error
	FindByID(fileID string) (*model.StoredFile, error)
	// FindByRoom 按时间戳降序返回房间内的文件；时间戳相同时按插入顺序稳定排序。
	FindByRoom(roomID string) ([]model.StoredFile, error)
	Delete(fileID string) error
	// DeleteByRoom 删除房间的全部目录条目并返回被删除的条目，供调用方释放块引用。
	DeleteByRoom(roomID string) ([]model.StoredFile, error)
}

// catalogRepository 是 CatalogRepository 的 GORM 实现。
type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository 创建一个基于 MySQL 的目录仓储。
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) Create(file *model.StoredFile) error {
	var count int64
	if err := r.db.Model(&model.StoredFile{}).Where("id = ?", file.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return gorm.ErrDuplicatedKey
	}
	err := r.db.Create(file).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return gorm.ErrDuplicatedKey
	}
	return err
}

func (r *catalogRepository) FindByID(fileID string) (*model.StoredFile, error) {
	var file model.StoredFile
	if err := r.db.Where("id = ?", fileID).First(&file).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *catalogRepository) FindByRoom(roomID string) ([]model.StoredFile, error) {
	var files []model.StoredFile
	err := r.db.Where("room_id = ?", roomID).
		Order("timestamp desc").Order("seq asc").
		Find(&files).Error
	return files, err
}

func (r *catalogRepository) Delete(fileID string) error {
	result := r.db.Where("id = ?", fileID).Delete(&model.StoredFile{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *catalogRepository) DeleteByRoom(roomID string) ([]model.StoredFile, error) {
	var files []model.StoredFile
	if err := r.db.Where("room_id = ?", roomID).Find(&files).Error; err != nil {
		return nil, err
	}
	if err := r.db.Where("room_id = ?", roomID).Delete(&model.StoredFile{}).Error; err != nil {
		return nil, err
	}
	return files, nil
}
